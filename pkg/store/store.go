// Package store persists calls, transcripts, and assistant configuration.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Transcript roles.
const (
	RoleCaller    = "caller"
	RoleAssistant = "assistant"
)

// Assistant is the configuration a call runs under.
type Assistant struct {
	ID              string
	Name            string
	GreetingMessage string
	Prompt          string
	LLMModel        string
	LLMTemperature  float64
	LLMMaxTokens    int
	VoiceID         string
	Language        string
}

// PhoneNumber maps an inbound number to an assistant.
type PhoneNumber struct {
	ID          string
	PhoneNumber string
	AssistantID string
}

// Call is one phone call, webhook-created and status-tracked until terminal.
type Call struct {
	ID            string
	CallSID       string
	PhoneNumberID string
	AssistantID   string
	CallType      string
	Status        string
	Direction     string
	StartedAt     time.Time
	EndedAt       *time.Time
}

// TranscriptEntry is one persisted utterance.
type TranscriptEntry struct {
	ID        string
	CallID    string
	Role      string
	Text      string
	CreatedAt time.Time
}

// KnowledgeBase is a searchable document collection attached to an assistant.
type KnowledgeBase struct {
	ID          string
	AssistantID string
	Name        string
	Description string
}

// Store is the persistence surface the call path depends on.
type Store interface {
	GetAssistant(ctx context.Context, id string) (*Assistant, error)
	GetAssistantByPhoneNumber(ctx context.Context, number string) (*Assistant, error)

	GetPhoneNumber(ctx context.Context, number string) (*PhoneNumber, error)
	GetPhoneNumberByID(ctx context.Context, id string) (*PhoneNumber, error)

	// CreateCall inserts the call row. A missing ID is filled in.
	CreateCall(ctx context.Context, call *Call) error
	SetCallStatus(ctx context.Context, callID, status string) error

	AppendTranscript(ctx context.Context, callID, role, text string) error

	// AppendTurn writes a caller utterance and the assistant reply
	// atomically, preserving chronological order.
	AppendTurn(ctx context.Context, callID, callerText, assistantText string) error

	Transcripts(ctx context.Context, callID string) ([]TranscriptEntry, error)

	KnowledgeBasesForAssistant(ctx context.Context, assistantID string) ([]KnowledgeBase, error)

	// SearchKnowledge returns text relevant to the query from one knowledge
	// base, or "" when nothing matches.
	SearchKnowledge(ctx context.Context, knowledgeBaseID, query string) (string, error)
}

// PersistenceError reports a failed store operation. The call path logs these
// and keeps going; audio delivery never waits on the database.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	if e == nil {
		return ""
	}
	return "store " + e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }
