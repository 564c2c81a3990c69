// Package stt provides streaming speech-to-text sessions and the buffering
// transcriber that call sessions drive.
package stt

import (
	"context"
)

// TranscriptDelta is one transcription event from the vendor. Consecutive
// non-final deltas supersede each other; IsFinal marks the utterance commit
// point.
type TranscriptDelta struct {
	Text    string
	IsFinal bool
}

// SessionOptions configures a streaming transcription session.
type SessionOptions struct {
	Model      string
	Language   string
	Encoding   string // e.g. "linear16"
	SampleRate int
	Channels   int
}

// Session is a live vendor transcription stream.
type Session interface {
	// SendAudio forwards one audio chunk to the vendor.
	SendAudio(data []byte) error

	// Finalize flushes buffered vendor-side audio, forcing a final delta.
	Finalize() error

	// Transcripts is closed when the vendor stream ends.
	Transcripts() <-chan TranscriptDelta

	// Done is closed when the session terminates for any reason.
	Done() <-chan struct{}

	Close() error
}

// Provider opens streaming transcription sessions.
type Provider interface {
	Name() string
	NewSession(ctx context.Context, opts SessionOptions) (Session, error)
}

// ConnectionError reports a vendor session that could not be opened.
type ConnectionError struct {
	Provider string
	Err      error
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return ""
	}
	return e.Provider + " connection: " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error { return e.Err }
