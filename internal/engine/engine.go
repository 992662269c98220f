// ABOUTME: Execution engine driving model completion rounds and tool calls.
// ABOUTME: Streams cumulative response snapshots per thread, persisting on success.

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/parley-sh/parley-gateway/internal/memory"
	"github.com/parley-sh/parley-gateway/internal/tools"
)

// Update is one streamed snapshot of the response under construction.
// Content is the full answer so far, not a delta; each update replaces the
// previous one. A non-nil Err terminates the stream.
type Update struct {
	Content string
	Err     error
}

// Engine binds a model, a tool registry, and conversation memory.
type Engine struct {
	model         Model
	tools         *tools.Registry
	store         *memory.Store
	maxToolRounds int
	logger        *slog.Logger
}

// New creates an engine. maxToolRounds bounds how many tool-calling rounds a
// single invocation may run before it is aborted.
func New(model Model, reg *tools.Registry, store *memory.Store, maxToolRounds int) *Engine {
	if maxToolRounds <= 0 {
		maxToolRounds = 8
	}
	return &Engine{
		model:         model,
		tools:         reg,
		store:         store,
		maxToolRounds: maxToolRounds,
		logger:        slog.Default().With("component", "engine"),
	}
}

// Tools returns the engine's tool registry.
func (e *Engine) Tools() *tools.Registry {
	return e.tools
}

// StreamInvoke runs one conversation turn on a thread. It persists the user
// message, then streams cumulative snapshots of the assistant's answer on the
// returned channel, which is closed when the turn completes or fails. The
// assistant message is persisted only after the turn completes successfully.
func (e *Engine) StreamInvoke(ctx context.Context, threadID, userText string) (<-chan Update, error) {
	if strings.TrimSpace(userText) == "" {
		return nil, fmt.Errorf("empty message")
	}

	history, err := e.store.History(ctx, threadID, 0)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	if err := e.store.Append(ctx, threadID, memory.RoleUser, userText); err != nil {
		return nil, fmt.Errorf("persisting user message: %w", err)
	}

	messages := make([]ChatMessage, 0, len(history)+1)
	for _, m := range history {
		messages = append(messages, ChatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, ChatMessage{Role: roleUser, Content: userText})

	updates := make(chan Update, 8)
	go e.run(ctx, threadID, messages, updates)
	return updates, nil
}

func (e *Engine) run(ctx context.Context, threadID string, messages []ChatMessage, updates chan<- Update) {
	defer close(updates)

	var answer strings.Builder

	emit := func(u Update) bool {
		select {
		case updates <- u:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for round := 0; ; round++ {
		if round > e.maxToolRounds {
			emit(Update{Err: fmt.Errorf("tool round limit exceeded (%d)", e.maxToolRounds)})
			return
		}
		if ctx.Err() != nil {
			emit(Update{Err: ctx.Err()})
			return
		}

		turn, err := e.model.Complete(ctx, messages, e.tools.List())
		if err != nil {
			emit(Update{Err: fmt.Errorf("model error: %w", err)})
			return
		}

		if turn.Text != "" {
			if answer.Len() > 0 {
				answer.WriteString("\n\n")
			}
			answer.WriteString(turn.Text)
			if !emit(Update{Content: answer.String()}) {
				return
			}
		}

		if len(turn.ToolCalls) == 0 {
			if err := e.store.Append(ctx, threadID, memory.RoleAssistant, answer.String()); err != nil {
				emit(Update{Err: fmt.Errorf("persisting response: %w", err)})
				return
			}
			return
		}

		messages = append(messages, ChatMessage{
			Role:      roleAssistant,
			Content:   turn.Text,
			ToolCalls: turn.ToolCalls,
		})
		for _, tc := range turn.ToolCalls {
			result := e.callTool(ctx, tc)
			messages = append(messages, result)
		}
	}
}

func (e *Engine) callTool(ctx context.Context, tc ToolCall) ChatMessage {
	e.logger.Debug("tool call", "name", tc.Name, "id", tc.ID)

	out, err := e.tools.Call(ctx, tc.Name, tc.Input)
	if err != nil {
		return ChatMessage{
			Role:       roleTool,
			ToolCallID: tc.ID,
			Content:    err.Error(),
			ToolError:  true,
		}
	}
	if !json.Valid(out) {
		out, _ = json.Marshal(string(out))
	}
	return ChatMessage{
		Role:       roleTool,
		ToolCallID: tc.ID,
		Content:    string(out),
	}
}
