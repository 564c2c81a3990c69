package stt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the lifecycle state of a Transcriber.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	defaultOpenTimeout = 5 * time.Second
	maxBufferedChunks  = 512
)

// Transcriber wraps a vendor streaming session with connection lifecycle and
// pre-connection buffering. Chunks submitted before the session opens are
// held in arrival order and flushed before any newly submitted chunk.
//
// Idle -> Connecting -> Open -> Closed, with Error reachable from Connecting
// or Open. A Transcriber in Error can be restarted; Closed is terminal.
type Transcriber struct {
	provider    Provider
	opts        SessionOptions
	openTimeout time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	state   State
	session Session
	buffer  [][]byte
	pumps   int

	out       chan TranscriptDelta
	stop      chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
}

// NewTranscriber creates a transcriber over the given provider. It does not
// open the vendor session; call Start.
func NewTranscriber(provider Provider, opts SessionOptions, logger *slog.Logger) *Transcriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcriber{
		provider:    provider,
		opts:        opts,
		openTimeout: defaultOpenTimeout,
		logger:      logger,
		state:       StateIdle,
		out:         make(chan TranscriptDelta, 100),
		stop:        make(chan struct{}),
	}
}

// SetOpenTimeout overrides the bounded wait for the vendor session to open.
func (t *Transcriber) SetOpenTimeout(d time.Duration) {
	if d > 0 {
		t.openTimeout = d
	}
}

// State returns the current lifecycle state.
func (t *Transcriber) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Start opens the vendor session. Calling Start while already Open is a
// no-op. A failed open leaves the transcriber in Error; the next Start
// retries. Start after Stop fails.
func (t *Transcriber) Start(ctx context.Context) error {
	t.mu.Lock()
	switch t.state {
	case StateOpen:
		t.mu.Unlock()
		return nil
	case StateClosed:
		t.mu.Unlock()
		return fmt.Errorf("transcriber is closed")
	case StateConnecting:
		// Another Start is already dialing.
		t.mu.Unlock()
		return nil
	}
	t.state = StateConnecting
	t.mu.Unlock()

	openCtx, cancel := context.WithTimeout(ctx, t.openTimeout)
	defer cancel()
	session, err := t.provider.NewSession(openCtx, t.opts)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateClosed {
		// Stopped while dialing.
		if session != nil {
			_ = session.Close()
		}
		return fmt.Errorf("transcriber is closed")
	}
	if err != nil {
		t.state = StateError
		if _, ok := err.(*ConnectionError); ok {
			return err
		}
		return &ConnectionError{Provider: t.provider.Name(), Err: err}
	}

	t.session = session
	t.state = StateOpen
	t.pumps++
	go t.pump(session)

	// Flush everything buffered before the session opened, in arrival order.
	for _, chunk := range t.buffer {
		if err := session.SendAudio(chunk); err != nil {
			t.logger.Warn("flush buffered audio failed", "err", err)
			break
		}
	}
	t.buffer = nil
	return nil
}

// Submit forwards one audio chunk. If the session is not Open the chunk is
// buffered rather than dropped.
func (t *Transcriber) Submit(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case StateClosed:
		return fmt.Errorf("transcriber is closed")
	case StateOpen:
		return t.session.SendAudio(chunk)
	default:
		if len(t.buffer) >= maxBufferedChunks {
			t.buffer = t.buffer[1:]
			t.logger.Warn("transcriber buffer full, dropping oldest chunk")
		}
		t.buffer = append(t.buffer, chunk)
		return nil
	}
}

// Finalize asks the vendor to flush and emit a final transcript for the
// current utterance. No-op unless Open.
func (t *Transcriber) Finalize() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateOpen {
		return nil
	}
	return t.session.Finalize()
}

// Stop closes the vendor session and transitions to Closed. Idempotent;
// never errors on an already-stopped transcriber.
func (t *Transcriber) Stop() {
	t.mu.Lock()
	session := t.session
	t.session = nil
	t.buffer = nil
	alreadyClosed := t.state == StateClosed
	t.state = StateClosed
	pumping := t.pumps > 0
	t.mu.Unlock()

	if alreadyClosed {
		return
	}
	t.stopOnce.Do(func() { close(t.stop) })
	if session != nil {
		_ = session.Close()
	}
	// The transcript channel is closed by the last pump goroutine, so a send
	// in flight can never race the close. With no pump running there is
	// nothing in flight and it closes here.
	if !pumping {
		t.closeOnce.Do(func() { close(t.out) })
	}
}

// Transcripts returns the transcript event channel. It stays valid across
// session restarts and is closed by Stop.
func (t *Transcriber) Transcripts() <-chan TranscriptDelta {
	return t.out
}

func (t *Transcriber) pump(session Session) {
	defer func() {
		t.mu.Lock()
		t.pumps--
		last := t.pumps == 0 && t.state == StateClosed
		t.mu.Unlock()
		if last {
			t.closeOnce.Do(func() { close(t.out) })
		}
	}()

	for delta := range session.Transcripts() {
		select {
		case t.out <- delta:
		case <-t.stop:
			return
		}
	}

	// Vendor stream ended on its own.
	t.mu.Lock()
	if t.state == StateOpen && t.session == session {
		t.state = StateError
		t.session = nil
	}
	t.mu.Unlock()
}
