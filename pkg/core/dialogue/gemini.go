package dialogue

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiCompleter issues completions against the Gemini API.
type GeminiCompleter struct {
	client *genai.Client
	model  string
}

// NewGemini creates a completer over an existing Gemini client.
func NewGemini(client *genai.Client, model string) *GeminiCompleter {
	return &GeminiCompleter{client: client, model: model}
}

// Name returns the provider identifier.
func (g *GeminiCompleter) Name() string { return "gemini" }

// Complete issues one chat completion.
func (g *GeminiCompleter) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(req.System)},
		}
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		cfg.Temperature = &temp
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.AllowTools {
		for _, t := range req.Tools {
			cfg.Tools = append(cfg.Tools, &genai.Tool{
				FunctionDeclarations: []*genai.FunctionDeclaration{
					{
						Name:        t.Name,
						Description: t.Description,
						Parameters:  queryToolSchema(),
					},
				},
			})
		}
	}

	contents, err := geminiContents(req.Turns)
	if err != nil {
		return nil, &InferenceError{Provider: g.Name(), Err: err}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, &InferenceError{Provider: g.Name(), Err: err}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &InferenceError{Provider: g.Name(), Err: fmt.Errorf("no candidates")}
	}

	var sb strings.Builder
	out := &Completion{}
	for _, p := range resp.Candidates[0].Content.Parts {
		switch {
		case p.FunctionCall != nil:
			query, _ := p.FunctionCall.Args["query"].(string)
			out.ToolCall = &ToolCall{
				ID:    p.FunctionCall.Name,
				Name:  p.FunctionCall.Name,
				Query: query,
			}
		case p.Text != "":
			sb.WriteString(p.Text)
		}
	}
	out.Text = sb.String()
	return out, nil
}

func geminiContents(turns []Turn) ([]*genai.Content, error) {
	var contents []*genai.Content
	for _, turn := range turns {
		switch {
		case turn.ToolCall != nil:
			contents = append(contents, &genai.Content{
				Role: "model",
				Parts: []*genai.Part{
					genai.NewPartFromFunctionCall(turn.ToolCall.Name, map[string]any{
						"query": turn.ToolCall.Query,
					}),
				},
			})
		case turn.ToolResult != nil:
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{
					genai.NewPartFromFunctionResponse(turn.ToolResult.Name, map[string]any{
						"result": turn.ToolResult.Output,
					}),
				},
			})
		case turn.Role == RoleUser:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{genai.NewPartFromText(turn.Text)},
			})
		case turn.Role == RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{genai.NewPartFromText(turn.Text)},
			})
		default:
			return nil, fmt.Errorf("unexpected turn role %q", turn.Role)
		}
	}
	if len(contents) == 0 {
		return nil, fmt.Errorf("no contents")
	}
	return contents, nil
}

func queryToolSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"query": {
				Type:        genai.TypeString,
				Description: "What to look up, phrased as a short question.",
			},
		},
		Required: []string{"query"},
	}
}
