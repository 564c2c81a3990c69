package handlers

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/autocally/autocally/pkg/call"
	"github.com/autocally/autocally/pkg/core/dialogue"
	"github.com/autocally/autocally/pkg/core/voice/stt"
	"github.com/autocally/autocally/pkg/core/voice/tts"
	"github.com/autocally/autocally/pkg/gateway/config"
	"github.com/autocally/autocally/pkg/store"
)

type stubSTTSession struct {
	mu          sync.Mutex
	closed      bool
	transcripts chan stt.TranscriptDelta
	done        chan struct{}
}

func (s *stubSTTSession) SendAudio(data []byte) error { return nil }
func (s *stubSTTSession) Finalize() error             { return nil }
func (s *stubSTTSession) Transcripts() <-chan stt.TranscriptDelta {
	return s.transcripts
}
func (s *stubSTTSession) Done() <-chan struct{} { return s.done }
func (s *stubSTTSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.transcripts)
		close(s.done)
	}
	return nil
}

type stubSTTProvider struct{}

func (stubSTTProvider) Name() string { return "stub-stt" }
func (stubSTTProvider) NewSession(ctx context.Context, opts stt.SessionOptions) (stt.Session, error) {
	return &stubSTTSession{
		transcripts: make(chan stt.TranscriptDelta, 16),
		done:        make(chan struct{}),
	}, nil
}

type stubTTSProvider struct{}

func (stubTTSProvider) Name() string { return "stub-tts" }
func (stubTTSProvider) SynthesizeStream(ctx context.Context, text string, opts tts.SynthesizeOptions) (*tts.SynthesisStream, error) {
	stream := tts.NewSynthesisStream()
	go func() {
		defer stream.FinishSending()
		stream.Send([]byte("pcm!"))
	}()
	return stream, nil
}

type stubCompleter struct{}

func (stubCompleter) Name() string { return "stub-llm" }
func (stubCompleter) Complete(ctx context.Context, req dialogue.CompletionRequest) (*dialogue.Completion, error) {
	return &dialogue.Completion{Text: "stub reply"}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.Config {
	return config.Config{
		AuthMode:           config.AuthModeDisabled,
		APIKeys:            map[string]struct{}{},
		WSWriteTimeout:     time.Second,
		WSPingInterval:     time.Minute,
		WSHandshakeTimeout: time.Second,
		WSMaxMessageBytes:  1 << 20,
		SpeechPacing:       0.001,
		DeepgramAPIKey:     "dg",
		CartesiaAPIKey:     "ca",
		GeminiAPIKey:       "ge",
		LLMProvider:        "gemini",
		SessionIdleTTL:       15 * time.Minute,
		SessionSweepInterval: time.Minute,
	}
}

func newTestOrchestrator(t *testing.T, mem *store.Memory) *call.Orchestrator {
	t.Helper()
	registry := call.NewRegistry(time.Minute, quietLogger())
	t.Cleanup(registry.Close)
	return call.NewOrchestrator(
		registry,
		mem,
		stubSTTProvider{},
		stubTTSProvider{},
		stubCompleter{},
		call.Config{SpeechPacing: 0.001},
		quietLogger(),
	)
}

func seedAssistant(mem *store.Memory, greeting string) string {
	return mem.PutAssistant(&store.Assistant{
		Name:            "Test Assistant",
		GreetingMessage: greeting,
		Prompt:          "Answer briefly.",
		VoiceID:         "v1",
	})
}
