// Package dialogue turns caller utterances into assistant replies. It keeps
// per-call conversation history, exposes knowledge lookups to the model as
// tools, and enforces the conversation policy suited to phone audio.
package dialogue

import "context"

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry in the conversation history. Exactly one of Text,
// ToolCall, or ToolResult is set.
type Turn struct {
	Role       Role
	Text       string
	ToolCall   *ToolCall
	ToolResult *ToolResult
}

// ToolCall is a model request to run a tool with a free-text query.
type ToolCall struct {
	ID    string
	Name  string
	Query string
}

// ToolResult carries tool output back to the model.
type ToolResult struct {
	ID     string
	Name   string
	Output string
}

// ToolDef describes a tool offered to the model. All tools take a single
// free-text query argument.
type ToolDef struct {
	Name        string
	Description string
}

// CompletionRequest is one chat completion call.
type CompletionRequest struct {
	System      string
	Turns       []Turn
	Tools       []ToolDef
	AllowTools  bool
	Temperature float64
	MaxTokens   int
}

// Completion is the model's reply. When the model wants a tool, ToolCall is
// set and Text may be empty.
type Completion struct {
	Text     string
	ToolCall *ToolCall
}

// Completer issues chat completions against one model vendor.
type Completer interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// InferenceError reports a failed model call.
type InferenceError struct {
	Provider string
	Err      error
}

func (e *InferenceError) Error() string {
	if e == nil {
		return ""
	}
	return e.Provider + " inference: " + e.Err.Error()
}

func (e *InferenceError) Unwrap() error { return e.Err }
