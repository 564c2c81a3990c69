package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
)

// apologyReply is returned verbatim whenever inference fails. The caller
// hears something instead of dead air.
const apologyReply = "I apologize, but I encountered an error while processing your request."

// functionArtifact matches tool-call markup some models leak into text.
var functionArtifact = regexp.MustCompile(`<function=.*?</function>`)

// Tool is a knowledge lookup exposed to the model. Run receives the model's
// free-text query and returns text to ground the reply on.
type Tool struct {
	Name        string
	Description string
	Run         func(ctx context.Context, query string) (string, error)
}

// Config parameterizes an engine for one call.
type Config struct {
	// Prompt is the assistant's conversation prompt, appended to the
	// built-in policy.
	Prompt string

	Tools       []Tool
	Temperature float64
	MaxTokens   int
	Logger      *slog.Logger
}

// Engine holds one call's conversation and produces replies. A reply uses at
// most one tool round: if the model asks for a tool, the result is fed back
// and the follow-up completion must answer in text.
type Engine struct {
	completer   Completer
	system      string
	tools       []Tool
	toolDefs    []ToolDef
	temperature float64
	maxTokens   int
	logger      *slog.Logger

	mu      sync.Mutex
	history []Turn
}

// NewEngine creates an engine bound to one completer.
func NewEngine(completer Completer, cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	defs := make([]ToolDef, 0, len(cfg.Tools))
	for _, t := range cfg.Tools {
		defs = append(defs, ToolDef{Name: t.Name, Description: t.Description})
	}
	return &Engine{
		completer:   completer,
		system:      buildSystemPrompt(cfg.Prompt, cfg.Tools),
		tools:       cfg.Tools,
		toolDefs:    defs,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger,
	}
}

// Respond produces the assistant's reply to one caller utterance. It never
// fails outward; inference errors degrade to a fixed apology so the call
// keeps moving.
func (e *Engine) Respond(ctx context.Context, text string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.history = append(e.history, Turn{Role: RoleUser, Text: text})

	reply, err := e.respond(ctx)
	if err != nil {
		e.logger.Error("inference failed", "err", err)
		return apologyReply
	}
	reply = strings.TrimSpace(functionArtifact.ReplaceAllString(reply, ""))
	if reply == "" {
		return apologyReply
	}
	e.history = append(e.history, Turn{Role: RoleAssistant, Text: reply})
	return reply
}

func (e *Engine) respond(ctx context.Context) (string, error) {
	first, err := e.complete(ctx, true)
	if err != nil {
		return "", err
	}
	if first.ToolCall == nil {
		return first.Text, nil
	}

	call := first.ToolCall
	output := e.runTool(ctx, call)
	e.history = append(e.history,
		Turn{Role: RoleAssistant, ToolCall: call},
		Turn{Role: RoleUser, ToolResult: &ToolResult{ID: call.ID, Name: call.Name, Output: output}},
	)

	// One tool round per utterance. The follow-up completion gets no tools,
	// so it has to answer.
	second, err := e.complete(ctx, false)
	if err != nil {
		return "", err
	}
	return second.Text, nil
}

func (e *Engine) complete(ctx context.Context, allowTools bool) (*Completion, error) {
	req := CompletionRequest{
		System:      e.system,
		Turns:       e.history,
		Temperature: e.temperature,
		MaxTokens:   e.maxTokens,
	}
	if allowTools && len(e.toolDefs) > 0 {
		req.Tools = e.toolDefs
		req.AllowTools = true
	}
	out, err := e.completer.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, &InferenceError{Provider: e.completer.Name(), Err: fmt.Errorf("empty completion")}
	}
	return out, nil
}

// runTool executes the requested tool. Tool failures turn into a neutral
// result so the follow-up completion can still answer from general knowledge.
func (e *Engine) runTool(ctx context.Context, call *ToolCall) string {
	for _, t := range e.tools {
		if t.Name != call.Name {
			continue
		}
		out, err := t.Run(ctx, call.Query)
		if err != nil {
			e.logger.Warn("tool failed", "tool", call.Name, "err", err)
			return "no information found"
		}
		return out
	}
	e.logger.Warn("model requested unknown tool", "tool", call.Name)
	return "no information found"
}

// History returns a copy of the conversation so far.
func (e *Engine) History() []Turn {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Turn, len(e.history))
	copy(out, e.history)
	return out
}

func buildSystemPrompt(prompt string, tools []Tool) string {
	var tb strings.Builder
	for _, t := range tools {
		fmt.Fprintf(&tb, "- %s: use this tool to get information about: %s\n", t.Name, t.Description)
	}

	var sb strings.Builder
	sb.WriteString(`You are a helpful conversational AI assistant on a phone call. Your goal is to assist callers with accurate, concise, and helpful responses.

### Tool Usage Guidelines
- Only use a tool if it directly contributes to answering the caller's question.
- Limit to one tool call per question. Do not call additional tools afterward.
- Never reveal a tool's name or internal details in your response.
- After using a tool, incorporate the findings into your response without mentioning the tool.
- Do not invent information; rely on tool outputs or your general knowledge.

### Conversation Style
- Write numbers, dates and times in words.
- Use a conversational tone, as if speaking to a friend.
- Keep responses brief to mimic natural dialogue in phone calls.
- Avoid unnecessary details or repetition to keep the conversation flowing.
- If you don't know an answer, simply say so.
`)
	if tb.Len() > 0 {
		sb.WriteString("\n### Tools\nYou have access to the following tools:\n")
		sb.WriteString(tb.String())
	}
	if prompt != "" {
		sb.WriteString("\n### Conversation Prompt\n")
		sb.WriteString(prompt)
	}
	return sb.String()
}
