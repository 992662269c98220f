// ABOUTME: Model abstraction for the execution engine.
// ABOUTME: One completion round in, text plus any tool calls out.

package engine

import (
	"context"
	"encoding/json"

	"github.com/parley-sh/parley-gateway/internal/tools"
)

// Chat message roles as the model sees them.
const (
	roleUser      = "user"
	roleAssistant = "assistant"
	roleTool      = "tool"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ChatMessage is one entry in the conversation sent to the model.
type ChatMessage struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall // set on assistant messages that request tools
	ToolCallID string     // set on tool result messages
	ToolError  bool       // set on tool result messages that report failure
}

// Turn is the model's output for one completion round.
type Turn struct {
	Text      string
	ToolCalls []ToolCall
}

// Model produces one completion round for a conversation.
type Model interface {
	Complete(ctx context.Context, messages []ChatMessage, defs []tools.Definition) (*Turn, error)
}
