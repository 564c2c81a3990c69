// Package protocol defines the websocket wire events exchanged with call
// clients and the strict decoder for inbound frames.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Client message types.
const (
	TypeCallStarted   = "call_started"
	TypeStartSTT      = "start_stt"
	TypeSTTAudioChunk = "stt_audio_chunk"
	TypeStopSTT       = "stop_stt"
	TypeCallEnded     = "call_ended"
)

// Server message types.
const (
	TypeCallReady     = "call_ready"
	TypeAudioChunk    = "audio_chunk"
	TypeSTTTranscript = "stt_transcript"
	TypeTranscript    = "transcript"
	TypeError         = "error"
)

// Error codes carried on server error events.
const (
	CodeBadRequest       = "bad_request"
	CodeUnsupported      = "unsupported"
	CodeDecodeError      = "decode_error"
	CodeConnectionError  = "connection_error"
	CodeSynthesisError   = "synthesis_error"
	CodeInferenceError   = "inference_error"
	CodePersistenceError = "persistence_error"
)

// DecodeError reports an inbound frame that could not be decoded.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: CodeBadRequest, Message: message, Param: param}
}

// ClientCallStarted announces a call the client wants handled. The call row
// usually exists already (webhook-created); for browser test calls it is
// created on the fly.
type ClientCallStarted struct {
	Type          string `json:"type"`
	CallID        string `json:"call_id"`
	PhoneNumberID string `json:"phone_number_id,omitempty"`
	AssistantID   string `json:"assistant_id,omitempty"`
	PhoneNumber   string `json:"phone_number,omitempty"`
	CallType      string `json:"call_type,omitempty"`
}

// ClientStartSTT asks for the transcription stream to be opened ahead of the
// first audio chunk.
type ClientStartSTT struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
}

// ClientSTTAudioChunk carries caller audio. Audio is deliberately untyped:
// clients send base64 strings or numeric sample arrays and the codec
// normalizes both. SampleRate and Format describe this chunk when the client
// knows them; zero values mean the session defaults apply.
type ClientSTTAudioChunk struct {
	Type       string `json:"type"`
	CallID     string `json:"call_id"`
	Audio      any    `json:"audio"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Format     string `json:"format,omitempty"`
}

// ClientStopSTT stops transcription. Idempotent on the session side.
type ClientStopSTT struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
}

// ClientCallEnded is the explicit end-of-call signal. Disconnecting without
// it leaves the call resumable.
type ClientCallEnded struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
}

// DecodeClientMessage decodes one inbound JSON frame into its typed form.
// Unknown types and missing required fields fail with *DecodeError.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeCallStarted:
		var msg ClientCallStarted
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid call_started frame", "")
		}
		if strings.TrimSpace(msg.CallID) == "" {
			return nil, badRequest("call_started.call_id is required", "call_id")
		}
		return msg, nil
	case TypeStartSTT:
		var msg ClientStartSTT
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid start_stt frame", "")
		}
		if strings.TrimSpace(msg.CallID) == "" {
			return nil, badRequest("start_stt.call_id is required", "call_id")
		}
		return msg, nil
	case TypeSTTAudioChunk:
		var msg ClientSTTAudioChunk
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid stt_audio_chunk frame", "")
		}
		if strings.TrimSpace(msg.CallID) == "" {
			return nil, badRequest("stt_audio_chunk.call_id is required", "call_id")
		}
		if msg.Audio == nil {
			return nil, badRequest("stt_audio_chunk.audio is required", "audio")
		}
		if msg.SampleRate < 0 {
			return nil, badRequest("stt_audio_chunk.sample_rate must be positive", "sample_rate")
		}
		return msg, nil
	case TypeStopSTT:
		var msg ClientStopSTT
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid stop_stt frame", "")
		}
		if strings.TrimSpace(msg.CallID) == "" {
			return nil, badRequest("stop_stt.call_id is required", "call_id")
		}
		return msg, nil
	case TypeCallEnded:
		var msg ClientCallEnded
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid call_ended frame", "")
		}
		if strings.TrimSpace(msg.CallID) == "" {
			return nil, badRequest("call_ended.call_id is required", "call_id")
		}
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

// AudioPayload is the audio body of an outbound audio_chunk event.
type AudioPayload struct {
	Data       string `json:"data"` // base64
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// ServerCallReady confirms the session is set up and audio may flow.
type ServerCallReady struct {
	Type          string `json:"type"`
	CallID        string `json:"call_id"`
	PhoneNumberID string `json:"phone_number_id,omitempty"`
}

// ServerAudioChunk is one paced slice of synthesized speech. Final marks the
// last chunk of an utterance and is always sent, even after vendor failure.
type ServerAudioChunk struct {
	Type       string       `json:"type"`
	CallID     string       `json:"call_id"`
	Audio      AudioPayload `json:"audio"`
	IsGreeting bool         `json:"is_greeting"`
	Final      bool         `json:"final"`
}

// ServerSTTTranscript relays a raw transcription delta to the client.
type ServerSTTTranscript struct {
	Type    string `json:"type"`
	CallID  string `json:"call_id"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

// ServerTranscript is a committed conversation utterance. Final is always
// true here; interim text travels on stt_transcript events instead.
type ServerTranscript struct {
	Type        string `json:"type"`
	CallID      string `json:"call_id"`
	AssistantID string `json:"assistant_id,omitempty"`
	Role        string `json:"role"` // "caller" or "assistant"
	Text        string `json:"text"`
	Final       bool   `json:"final"`
}

// ServerErrorEvent reports a non-fatal failure scoped to one call.
type ServerErrorEvent struct {
	Type    string `json:"type"`
	CallID  string `json:"call_id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
