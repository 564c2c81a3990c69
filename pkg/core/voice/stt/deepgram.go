package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const deepgramWSBaseURL = "wss://api.deepgram.com/v1/listen"

// DeepgramProvider implements the STT Provider interface using Deepgram's
// realtime websocket API.
type DeepgramProvider struct {
	apiKey    string
	baseWSURL string
}

// NewDeepgram creates a new Deepgram STT provider.
func NewDeepgram(apiKey string) *DeepgramProvider {
	return &DeepgramProvider{apiKey: apiKey, baseWSURL: deepgramWSBaseURL}
}

// NewDeepgramWithBaseURL creates a provider against a custom websocket
// endpoint. Used by tests and proxies.
func NewDeepgramWithBaseURL(apiKey, baseWSURL string) *DeepgramProvider {
	return &DeepgramProvider{apiKey: apiKey, baseWSURL: baseWSURL}
}

// Name returns the provider identifier.
func (p *DeepgramProvider) Name() string { return "deepgram" }

// NewSession opens a realtime transcription stream.
func (p *DeepgramProvider) NewSession(ctx context.Context, opts SessionOptions) (Session, error) {
	u, err := url.Parse(p.baseWSURL)
	if err != nil {
		return nil, &ConnectionError{Provider: p.Name(), Err: fmt.Errorf("parse websocket URL: %w", err)}
	}

	model := opts.Model
	if model == "" {
		model = "nova-2-general"
	}
	language := opts.Language
	if language == "" {
		language = "en"
	}
	encoding := opts.Encoding
	if encoding == "" {
		encoding = "linear16"
	}
	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}
	channels := opts.Channels
	if channels == 0 {
		channels = 1
	}

	q := u.Query()
	q.Set("model", model)
	q.Set("language", language)
	q.Set("encoding", encoding)
	q.Set("sample_rate", fmt.Sprintf("%d", sampleRate))
	q.Set("channels", fmt.Sprintf("%d", channels))
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")
	q.Set("vad_events", "true")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, &ConnectionError{Provider: p.Name(), Err: fmt.Errorf("websocket connect: status %d: %w", resp.StatusCode, err)}
		}
		return nil, &ConnectionError{Provider: p.Name(), Err: fmt.Errorf("websocket connect: %w", err)}
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &deepgramSession{
		conn:        conn,
		transcripts: make(chan TranscriptDelta, 100),
		done:        make(chan struct{}),
		ctx:         sctx,
		cancel:      cancel,
	}
	go s.readLoop()
	go s.keepAliveLoop()
	return s, nil
}

type deepgramSession struct {
	conn        *websocket.Conn
	transcripts chan TranscriptDelta
	done        chan struct{}
	closed      atomic.Bool
	writeMu     sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type deepgramResult struct {
	Type    string `json:"type"` // "Results", "UtteranceEnd", "SpeechStarted", "Metadata"
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (s *deepgramSession) readLoop() {
	defer func() {
		close(s.transcripts)
		close(s.done)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg deepgramResult
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "Results" || len(msg.Channel.Alternatives) == 0 {
			continue
		}
		text := msg.Channel.Alternatives[0].Transcript
		if text == "" {
			continue
		}
		select {
		case s.transcripts <- TranscriptDelta{Text: text, IsFinal: msg.IsFinal}:
		case <-s.ctx.Done():
			return
		}
	}
}

// keepAliveLoop keeps the vendor stream open across caller silence. Deepgram
// drops streams that see no traffic for ~10s.
func (s *deepgramSession) keepAliveLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`))
			s.writeMu.Unlock()
		}
	}
}

func (s *deepgramSession) SendAudio(data []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("session closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *deepgramSession) Finalize() error {
	if s.closed.Load() {
		return fmt.Errorf("session closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Finalize"}`))
}

func (s *deepgramSession) Transcripts() <-chan TranscriptDelta { return s.transcripts }

func (s *deepgramSession) Done() <-chan struct{} { return s.done }

func (s *deepgramSession) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()

	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	return s.conn.Close()
}
