package dialogue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
)

// OpenAICompleter issues completions against an OpenAI-compatible chat API.
type OpenAICompleter struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates a completer over an existing OpenAI client.
func NewOpenAI(client *openai.Client, model string) *OpenAICompleter {
	return &OpenAICompleter{client: client, model: model}
}

// Name returns the provider identifier.
func (o *OpenAICompleter) Name() string { return "openai" }

// Complete issues one chat completion.
func (o *OpenAICompleter) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	msgs, err := openaiMessages(req)
	if err != nil {
		return nil, &InferenceError{Provider: o.Name(), Err: err}
	}

	params := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    o.model,
	}
	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.AllowTools {
		for _, t := range req.Tools {
			params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        t.Name,
					Description: param.NewOpt(t.Description),
					Parameters: openai.FunctionParameters{
						"type": "object",
						"properties": map[string]any{
							"query": map[string]any{
								"type":        "string",
								"description": "What to look up, phrased as a short question.",
							},
						},
						"required": []string{"query"},
					},
				},
			})
		}
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, &InferenceError{Provider: o.Name(), Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &InferenceError{Provider: o.Name(), Err: fmt.Errorf("no choices")}
	}

	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return nil, &InferenceError{Provider: o.Name(), Err: fmt.Errorf("blocked: %s", choice.Message.Refusal)}
	}

	out := &Completion{Text: choice.Message.Content}
	if len(choice.Message.ToolCalls) > 0 {
		tc := choice.Message.ToolCalls[0]
		var args struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return nil, &InferenceError{Provider: o.Name(), Err: fmt.Errorf("decode tool arguments: %w", err)}
		}
		out.ToolCall = &ToolCall{ID: tc.ID, Name: tc.Function.Name, Query: args.Query}
	}
	return out, nil
}

func openaiMessages(req CompletionRequest) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := []openai.ChatCompletionMessageParamUnion{}
	if req.System != "" {
		out = append(out, openai.SystemMessage(req.System))
	}
	for _, turn := range req.Turns {
		switch {
		case turn.ToolCall != nil:
			args, _ := json.Marshal(map[string]string{"query": turn.ToolCall.Query})
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					ToolCalls: []openai.ChatCompletionMessageToolCallParam{
						{
							ID: turn.ToolCall.ID,
							Function: openai.ChatCompletionMessageToolCallFunctionParam{
								Name:      turn.ToolCall.Name,
								Arguments: string(args),
							},
						},
					},
				},
			})
		case turn.ToolResult != nil:
			out = append(out, openai.ToolMessage(turn.ToolResult.Output, turn.ToolResult.ID))
		case turn.Role == RoleUser:
			out = append(out, openai.UserMessage(turn.Text))
		case turn.Role == RoleAssistant:
			out = append(out, openai.AssistantMessage(turn.Text))
		default:
			return nil, fmt.Errorf("unexpected turn role %q", turn.Role)
		}
	}
	return out, nil
}
