package tts

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	cartesiaWSURL   = "wss://api.cartesia.ai/tts/websocket"
	cartesiaVersion = "2024-06-10"

	defaultModelID    = "sonic-english"
	defaultEncoding   = "pcm_f32le"
	defaultSampleRate = 22050
)

// CartesiaProvider implements the TTS Provider interface using Cartesia's
// websocket streaming API.
type CartesiaProvider struct {
	apiKey    string
	baseWSURL string
}

// NewCartesia creates a new Cartesia TTS provider.
func NewCartesia(apiKey string) *CartesiaProvider {
	return &CartesiaProvider{apiKey: apiKey, baseWSURL: cartesiaWSURL}
}

// NewCartesiaWithBaseURL creates a provider against a custom websocket
// endpoint. Used by tests and proxies.
func NewCartesiaWithBaseURL(apiKey, baseWSURL string) *CartesiaProvider {
	return &CartesiaProvider{apiKey: apiKey, baseWSURL: baseWSURL}
}

// Name returns the provider identifier.
func (c *CartesiaProvider) Name() string { return "cartesia" }

type cartesiaWSRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        cartesiaVoiceSpec    `json:"voice"`
	OutputFormat cartesiaOutputFormat `json:"output_format"`
	Language     string               `json:"language,omitempty"`
	ContextID    string               `json:"context_id"`
}

type cartesiaVoiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type cartesiaWSResponse struct {
	Type      string `json:"type"` // "chunk", "done", "error", "timestamps"
	Data      string `json:"data,omitempty"`
	Done      bool   `json:"done,omitempty"`
	Error     string `json:"error,omitempty"`
	ContextID string `json:"context_id,omitempty"`
}

var contextCounter atomic.Uint64

func nextContextID() string {
	return fmt.Sprintf("ctx_%d", contextCounter.Add(1))
}

// SynthesizeStream starts a websocket synthesis session for one utterance.
// Raw audio chunks are delivered on the stream as Cartesia generates them.
func (c *CartesiaProvider) SynthesizeStream(ctx context.Context, text string, opts SynthesizeOptions) (*SynthesisStream, error) {
	if opts.Voice == "" {
		return nil, &SynthesisError{Provider: c.Name(), Err: fmt.Errorf("voice is required")}
	}

	u, err := url.Parse(c.baseWSURL)
	if err != nil {
		return nil, &SynthesisError{Provider: c.Name(), Err: fmt.Errorf("parse websocket URL: %w", err)}
	}
	q := u.Query()
	q.Set("api_key", c.apiKey)
	q.Set("cartesia_version", cartesiaVersion)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, &SynthesisError{Provider: c.Name(), Err: fmt.Errorf("websocket connect: %w", err)}
	}

	model := opts.Model
	if model == "" {
		model = defaultModelID
	}
	encoding := opts.Encoding
	if encoding == "" {
		encoding = defaultEncoding
	}
	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = defaultSampleRate
	}

	req := cartesiaWSRequest{
		ModelID:    model,
		Transcript: text,
		Voice:      cartesiaVoiceSpec{Mode: "id", ID: opts.Voice},
		OutputFormat: cartesiaOutputFormat{
			Container:  "raw",
			Encoding:   encoding,
			SampleRate: sampleRate,
		},
		Language:  opts.Language,
		ContextID: nextContextID(),
	}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, &SynthesisError{Provider: c.Name(), Err: fmt.Errorf("send request: %w", err)}
	}

	stream := NewSynthesisStream()

	go func() {
		defer stream.FinishSending()
		defer conn.Close()

		for {
			select {
			case <-ctx.Done():
				stream.Fail(&SynthesisError{Provider: c.Name(), Err: ctx.Err()})
				return
			case <-stream.Done():
				return
			default:
			}

			var msg cartesiaWSResponse
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					return
				}
				stream.Fail(&SynthesisError{Provider: c.Name(), Err: err})
				return
			}

			switch msg.Type {
			case "chunk":
				audio, err := base64.StdEncoding.DecodeString(msg.Data)
				if err != nil {
					stream.Fail(&SynthesisError{Provider: c.Name(), Err: fmt.Errorf("decode audio: %w", err)})
					return
				}
				if !stream.Send(audio) {
					return
				}
			case "done":
				return
			case "error":
				stream.Fail(&SynthesisError{Provider: c.Name(), Err: fmt.Errorf("vendor: %s", msg.Error)})
				return
			}
		}
	}()

	return stream, nil
}
