package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/autocally/autocally/pkg/core/dialogue"
	"github.com/autocally/autocally/pkg/core/voice/stt"
	"github.com/autocally/autocally/pkg/core/voice/tts"
)

// --- stt fakes ---

type fakeSTTSession struct {
	mu          sync.Mutex
	sent        [][]byte
	closed      int
	transcripts chan stt.TranscriptDelta
	done        chan struct{}
}

func newFakeSTTSession() *fakeSTTSession {
	return &fakeSTTSession{
		transcripts: make(chan stt.TranscriptDelta, 16),
		done:        make(chan struct{}),
	}
}

func (s *fakeSTTSession) SendAudio(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.sent = append(s.sent, buf)
	return nil
}

func (s *fakeSTTSession) Finalize() error { return nil }

func (s *fakeSTTSession) Transcripts() <-chan stt.TranscriptDelta { return s.transcripts }

func (s *fakeSTTSession) Done() <-chan struct{} { return s.done }

func (s *fakeSTTSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed == 0 {
		close(s.transcripts)
		close(s.done)
	}
	s.closed++
	return nil
}

func (s *fakeSTTSession) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *fakeSTTSession) closedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeSTTProvider struct {
	mu       sync.Mutex
	sessions []*fakeSTTSession
}

func (p *fakeSTTProvider) Name() string { return "fake-stt" }

func (p *fakeSTTProvider) NewSession(ctx context.Context, opts stt.SessionOptions) (stt.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := newFakeSTTSession()
	p.sessions = append(p.sessions, s)
	return s, nil
}

func (p *fakeSTTProvider) session(t *testing.T) *fakeSTTSession {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		n := len(p.sessions)
		p.mu.Unlock()
		if n > 0 {
			p.mu.Lock()
			defer p.mu.Unlock()
			return p.sessions[len(p.sessions)-1]
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("no stt session was opened")
	return nil
}

// --- tts fakes ---

// fakeTTS serves scripted synthesis streams keyed by request order.
type fakeTTS struct {
	mu    sync.Mutex
	serve func(text string) (*tts.SynthesisStream, error)
	texts []string
}

func (p *fakeTTS) Name() string { return "fake-tts" }

func (p *fakeTTS) SynthesizeStream(ctx context.Context, text string, opts tts.SynthesizeOptions) (*tts.SynthesisStream, error) {
	p.mu.Lock()
	p.texts = append(p.texts, text)
	serve := p.serve
	p.mu.Unlock()
	if serve == nil {
		return chunkStream([][]byte{[]byte("pcm!")}, nil), nil
	}
	return serve(text)
}

func (p *fakeTTS) synthesized() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.texts))
	copy(out, p.texts)
	return out
}

// chunkStream returns a stream that yields the given chunks then finishes,
// failing with err instead of finishing cleanly when err is non-nil. When
// gate is non-nil the stream waits on it before yielding anything.
func chunkStream(chunks [][]byte, err error, gates ...chan struct{}) *tts.SynthesisStream {
	stream := tts.NewSynthesisStream()
	go func() {
		defer stream.FinishSending()
		for _, g := range gates {
			<-g
		}
		for _, c := range chunks {
			if !stream.Send(c) {
				return
			}
		}
		if err != nil {
			stream.Fail(err)
		}
	}()
	return stream
}

// --- dialogue fake ---

type fakeCompleter struct {
	mu      sync.Mutex
	replies map[string]string
	err     error
}

func (c *fakeCompleter) Name() string { return "fake-llm" }

func (c *fakeCompleter) Complete(ctx context.Context, req dialogue.CompletionRequest) (*dialogue.Completion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	var last string
	for _, turn := range req.Turns {
		if turn.Role == dialogue.RoleUser && turn.Text != "" {
			last = turn.Text
		}
	}
	if reply, ok := c.replies[last]; ok {
		return &dialogue.Completion{Text: reply}, nil
	}
	return &dialogue.Completion{Text: "re: " + last}, nil
}

// --- emitter fake ---

var errClientGone = errors.New("client gone")

type fakeEmitter struct {
	mu     sync.Mutex
	events []any
	fail   bool
}

func (e *fakeEmitter) Emit(event any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return errClientGone
	}
	e.events = append(e.events, event)
	return nil
}

func (e *fakeEmitter) setFail(fail bool) {
	e.mu.Lock()
	e.fail = fail
	e.mu.Unlock()
}

func (e *fakeEmitter) snapshot() []any {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]any, len(e.events))
	copy(out, e.events)
	return out
}

// waitFor polls until pred returns true over the emitted events.
func (e *fakeEmitter) waitFor(t *testing.T, what string, pred func(events []any) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pred(e.snapshot()) {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; events: %#v", what, e.snapshot())
}

func waitUntil(t *testing.T, what string, pred func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pred() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
