package call

import (
	"context"
	"sync"
	"time"

	"github.com/autocally/autocally/pkg/call/protocol"
	"github.com/autocally/autocally/pkg/core/dialogue"
	"github.com/autocally/autocally/pkg/core/voice/stt"
	"github.com/autocally/autocally/pkg/store"
)

// Emitter delivers one server event to the attached client. Implementations
// must be safe for concurrent use; an error means the client is gone.
type Emitter interface {
	Emit(event any) error
}

type pendingResponse struct {
	text     string
	greeting bool
}

// Session is the live state for one phone call from connect to end. All
// fields behind mu; adapters are owned by this session and never shared
// across call_ids.
type Session struct {
	CallID        string
	PhoneNumberID string
	Assistant     *store.Assistant

	transcriber *stt.Transcriber

	mu               sync.Mutex
	client           Emitter
	engine           *dialogue.Engine
	speaking         bool
	speechCancel     context.CancelFunc
	pendingAudio     []protocol.ServerAudioChunk
	pendingResponses []pendingResponse
	greetingSent     bool
	lastSeen         time.Time
	ended            bool
	pumping          bool
}

// NewSession creates a session owning its transcription adapter. The
// dialogue engine is created lazily on the first turn.
func NewSession(callID, phoneNumberID string, assistant *store.Assistant, transcriber *stt.Transcriber) *Session {
	return &Session{
		CallID:        callID,
		PhoneNumberID: phoneNumberID,
		Assistant:     assistant,
		transcriber:   transcriber,
		lastSeen:      time.Now(),
	}
}

// Touch refreshes last_seen.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// LastSeen returns the time of the last inbound event for this call.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// AttachClient binds the outbound emitter, replacing any previous one.
func (s *Session) AttachClient(e Emitter) {
	s.mu.Lock()
	s.client = e
	s.mu.Unlock()
}

// DetachClient unbinds the emitter if it is still the attached one. Session
// state survives; a disconnect is not an end-of-call.
func (s *Session) DetachClient(e Emitter) {
	s.mu.Lock()
	if s.client == e {
		s.client = nil
	}
	s.mu.Unlock()
}

// Deliver sends an event to the attached client. Audio chunks with no client
// to receive them are queued for replay on reconnect; other events are
// dropped since they only make sense live.
func (s *Session) Deliver(event any) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	if client != nil {
		if err := client.Emit(event); err == nil {
			return
		}
	}
	if chunk, ok := event.(protocol.ServerAudioChunk); ok {
		s.mu.Lock()
		s.pendingAudio = append(s.pendingAudio, chunk)
		s.mu.Unlock()
	}
}

// DrainPendingAudio returns and clears queued audio, in arrival order.
func (s *Session) DrainPendingAudio() []protocol.ServerAudioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pendingAudio
	s.pendingAudio = nil
	return out
}

// HasPendingAudio reports whether replayable audio is queued.
func (s *Session) HasPendingAudio() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingAudio) > 0
}

// BeginSpeaking atomically claims the speaking slot. When the call is
// already speaking it returns false and the caller must enqueue instead.
// The returned context is canceled by Teardown for interruption at chunk
// granularity.
func (s *Session) BeginSpeaking(parent context.Context) (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.speaking || s.ended {
		return nil, false
	}
	s.speaking = true
	ctx, cancel := context.WithCancel(parent)
	s.speechCancel = cancel
	return ctx, true
}

// FinishSpeaking ends the current speech. If responses are queued the head
// is popped and the speaking slot is kept, so the next speech starts with no
// window for another one to slip in; otherwise the slot is released.
func (s *Session) FinishSpeaking(parent context.Context) (pendingResponse, context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.speechCancel != nil {
		s.speechCancel()
		s.speechCancel = nil
	}
	if s.ended || len(s.pendingResponses) == 0 {
		s.speaking = false
		return pendingResponse{}, nil, false
	}
	next := s.pendingResponses[0]
	s.pendingResponses = s.pendingResponses[1:]
	ctx, cancel := context.WithCancel(parent)
	s.speechCancel = cancel
	return next, ctx, true
}

// EnqueueResponse queues a response for delivery after the current speech.
func (s *Session) EnqueueResponse(text string, greeting bool) {
	s.mu.Lock()
	s.pendingResponses = append(s.pendingResponses, pendingResponse{text: text, greeting: greeting})
	s.mu.Unlock()
}

// Speaking reports whether audio is currently being emitted for this call.
func (s *Session) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// MarkGreetingSent sets the greeting flag; returns false if it was already
// set. The greeting goes out at most once per call, reconnects included.
func (s *Session) MarkGreetingSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.greetingSent {
		return false
	}
	s.greetingSent = true
	return true
}

// GreetingSent reports whether the greeting already went out.
func (s *Session) GreetingSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.greetingSent
}

// EnsureEngine returns the dialogue engine, creating it on first use.
func (s *Session) EnsureEngine(create func() *dialogue.Engine) *dialogue.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		s.engine = create()
	}
	return s.engine
}

// Transcriber returns the owned transcription adapter.
func (s *Session) Transcriber() *stt.Transcriber {
	return s.transcriber
}

// ClaimPump marks the transcript pump as started; returns false if it
// already runs. One pump goroutine per session.
func (s *Session) ClaimPump() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pumping {
		return false
	}
	s.pumping = true
	return true
}

// Ended reports whether the session reached its terminal state.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Teardown stops the adapters and marks the session terminal. Idempotent.
func (s *Session) Teardown() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.pendingResponses = nil
	if s.speechCancel != nil {
		s.speechCancel()
		s.speechCancel = nil
	}
	s.mu.Unlock()

	if s.transcriber != nil {
		s.transcriber.Stop()
	}
}
