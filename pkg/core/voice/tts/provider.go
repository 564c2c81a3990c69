// Package tts provides streaming speech synthesis for outbound call audio.
package tts

import (
	"context"
	"sync"
)

// SynthesizeOptions configures one synthesis request.
type SynthesizeOptions struct {
	Voice      string  // Vendor voice identifier
	Model      string  // Vendor model identifier
	Language   string  // Language code
	Encoding   string  // Raw PCM encoding, e.g. "pcm_f32le"
	SampleRate int     // Sample rate, e.g. 22050
	Speed      float64 // Speed multiplier, vendor-specific range
}

// Provider converts text into a stream of raw audio chunks.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// SynthesizeStream starts synthesis for the given text. Audio chunks
	// arrive on the returned stream as the vendor generates them.
	SynthesizeStream(ctx context.Context, text string, opts SynthesizeOptions) (*SynthesisStream, error)
}

// SynthesisStream delivers audio chunks as they are generated. Chunks is
// closed when the vendor finishes or fails; Err reports what happened.
type SynthesisStream struct {
	chunks chan []byte

	errMu sync.Mutex
	err   error

	done      chan struct{}
	closeOnce sync.Once
}

// NewSynthesisStream creates an open stream. Providers feed it with Send
// and terminate it with Fail or FinishSending.
func NewSynthesisStream() *SynthesisStream {
	return &SynthesisStream{
		chunks: make(chan []byte, 100),
		done:   make(chan struct{}),
	}
}

// Chunks returns the channel of raw audio chunks.
func (s *SynthesisStream) Chunks() <-chan []byte {
	return s.chunks
}

// Err returns the stream error, if any. Valid once Chunks is closed.
func (s *SynthesisStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close abandons the stream. The producing goroutine stops on the next send.
func (s *SynthesisStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// Done is closed when the consumer abandons the stream.
func (s *SynthesisStream) Done() <-chan struct{} {
	return s.done
}

// Send delivers one chunk. Returns false if the consumer closed the stream.
func (s *SynthesisStream) Send(chunk []byte) bool {
	select {
	case s.chunks <- chunk:
		return true
	case <-s.done:
		return false
	}
}

// Fail records the stream error.
func (s *SynthesisStream) Fail(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

// FinishSending closes the chunk channel to signal end of audio.
func (s *SynthesisStream) FinishSending() {
	close(s.chunks)
}

// SynthesisError reports a failed synthesis request or a stream that died
// mid-generation.
type SynthesisError struct {
	Provider string
	Err      error
}

func (e *SynthesisError) Error() string {
	if e == nil {
		return ""
	}
	return e.Provider + " synthesis: " + e.Err.Error()
}

func (e *SynthesisError) Unwrap() error { return e.Err }
