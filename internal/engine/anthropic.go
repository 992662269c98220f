// ABOUTME: Anthropic Messages API binding for the engine's Model interface.
// ABOUTME: Translates chat messages and tool definitions to SDK params and back.

package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/parley-sh/parley-gateway/internal/tools"
)

// AnthropicOptions configures the Anthropic model binding.
type AnthropicOptions struct {
	Model       string
	MaxTokens   int64
	Temperature float64
	APIKey      string
	System      string
}

// AnthropicModel wraps the Anthropic Messages API behind the Model interface.
type AnthropicModel struct {
	client anthropic.Client
	opts   AnthropicOptions
}

// NewAnthropicModel creates the binding. An empty APIKey falls back to the
// SDK's environment lookup.
func NewAnthropicModel(opts AnthropicOptions) *AnthropicModel {
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	return &AnthropicModel{
		client: anthropic.NewClient(clientOpts...),
		opts:   opts,
	}
}

// Complete runs one completion round.
func (m *AnthropicModel) Complete(ctx context.Context, messages []ChatMessage, defs []tools.Definition) (*Turn, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.opts.Model),
		Messages:  m.buildMessages(messages),
		MaxTokens: m.opts.MaxTokens,
	}
	if m.opts.Temperature > 0 {
		params.Temperature = anthropic.Float(m.opts.Temperature)
	}
	if m.opts.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: m.opts.System}}
	}
	if len(defs) > 0 {
		toolParams, err := buildTools(defs)
		if err != nil {
			return nil, err
		}
		params.Tools = toolParams
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	turn := &Turn{}
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			turn.Text += b.Text
		case anthropic.ToolUseBlock:
			turn.ToolCalls = append(turn.ToolCalls, ToolCall{
				ID:    b.ID,
				Name:  b.Name,
				Input: json.RawMessage(b.JSON.Input.Raw()),
			})
		}
	}
	return turn, nil
}

func (m *AnthropicModel) buildMessages(messages []ChatMessage) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, msg := range messages {
		switch msg.Role {
		case roleTool:
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, msg.ToolError),
			))
		case roleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input any
				if err := json.Unmarshal(tc.Input, &input); err != nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.MessageParam{
					Role:    anthropic.MessageParamRoleAssistant,
					Content: blocks,
				})
			}
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return out
}

func buildTools(defs []tools.Definition) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var schema struct {
			Properties any      `json:"properties"`
			Required   []string `json:"required"`
		}
		if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("invalid input schema for tool %s: %w", def.Name, err)
		}

		toolParam := anthropic.ToolParam{
			Name:        def.Name,
			Description: anthropic.String(def.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema.Properties,
				Required:   schema.Required,
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return out, nil
}
