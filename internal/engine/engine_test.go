// ABOUTME: Tests for the execution engine's streaming invocation loop
// ABOUTME: Uses a scripted model to drive text and tool-call rounds

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-sh/parley-gateway/internal/memory"
	"github.com/parley-sh/parley-gateway/internal/tools"
)

// scriptedModel returns its turns in order and records what it was sent.
type scriptedModel struct {
	turns []*Turn
	errs  []error
	calls [][]ChatMessage
}

func (m *scriptedModel) Complete(ctx context.Context, messages []ChatMessage, defs []tools.Definition) (*Turn, error) {
	i := len(m.calls)
	m.calls = append(m.calls, messages)
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i >= len(m.turns) {
		return nil, errors.New("model called more times than scripted")
	}
	return m.turns[i], nil
}

func newTestEngine(t *testing.T, model Model, extraTools ...*tools.Tool) (*Engine, *memory.Store) {
	t.Helper()
	store, err := memory.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(extraTools...))
	return New(model, reg, store, 3), store
}

func collect(t *testing.T, updates <-chan Update) ([]string, error) {
	t.Helper()
	var contents []string
	for u := range updates {
		if u.Err != nil {
			return contents, u.Err
		}
		contents = append(contents, u.Content)
	}
	return contents, nil
}

func TestStreamInvokeSimpleTurn(t *testing.T) {
	model := &scriptedModel{turns: []*Turn{{Text: "hello there"}}}
	eng, store := newTestEngine(t, model)

	updates, err := eng.StreamInvoke(context.Background(), "t1", "hi")
	require.NoError(t, err)

	contents, err := collect(t, updates)
	require.NoError(t, err)
	require.Equal(t, []string{"hello there"}, contents)

	history, err := store.History(context.Background(), "t1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, memory.RoleUser, history[0].Role)
	assert.Equal(t, "hi", history[0].Content)
	assert.Equal(t, memory.RoleAssistant, history[1].Role)
	assert.Equal(t, "hello there", history[1].Content)
}

func TestStreamInvokeCumulativeSnapshots(t *testing.T) {
	calc := &tools.Tool{
		Definition: tools.Definition{
			Name:        "calc",
			Description: "adds numbers",
			InputSchema: json.RawMessage(`{"type":"object"}`),
		},
		Handler: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"result":4}`), nil
		},
	}
	model := &scriptedModel{turns: []*Turn{
		{Text: "Let me check.", ToolCalls: []ToolCall{{ID: "tc1", Name: "calc", Input: json.RawMessage(`{"a":2,"b":2}`)}}},
		{Text: "The answer is 4."},
	}}
	eng, _ := newTestEngine(t, model, calc)

	updates, err := eng.StreamInvoke(context.Background(), "t1", "what is 2+2?")
	require.NoError(t, err)

	contents, err := collect(t, updates)
	require.NoError(t, err)
	// Each snapshot contains everything emitted so far.
	require.Equal(t, []string{
		"Let me check.",
		"Let me check.\n\nThe answer is 4.",
	}, contents)

	// Second round saw the tool result.
	require.Len(t, model.calls, 2)
	last := model.calls[1]
	require.GreaterOrEqual(t, len(last), 3)
	toolMsg := last[len(last)-1]
	assert.Equal(t, "tool", toolMsg.Role)
	assert.Equal(t, "tc1", toolMsg.ToolCallID)
	assert.JSONEq(t, `{"result":4}`, toolMsg.Content)
}

func TestStreamInvokeToolFailureFedBack(t *testing.T) {
	failing := &tools.Tool{
		Definition: tools.Definition{Name: "boom", InputSchema: json.RawMessage(`{}`)},
		Handler: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			return nil, errors.New("kaput")
		},
	}
	model := &scriptedModel{turns: []*Turn{
		{ToolCalls: []ToolCall{{ID: "tc1", Name: "boom", Input: json.RawMessage(`{}`)}}},
		{Text: "the tool failed"},
	}}
	eng, _ := newTestEngine(t, model, failing)

	updates, err := eng.StreamInvoke(context.Background(), "t1", "go")
	require.NoError(t, err)

	contents, err := collect(t, updates)
	require.NoError(t, err)
	require.Equal(t, []string{"the tool failed"}, contents)

	toolMsg := model.calls[1][len(model.calls[1])-1]
	assert.True(t, toolMsg.ToolError)
	assert.Contains(t, toolMsg.Content, "kaput")
}

func TestStreamInvokeModelError(t *testing.T) {
	model := &scriptedModel{errs: []error{errors.New("rate limited")}}
	eng, store := newTestEngine(t, model)

	updates, err := eng.StreamInvoke(context.Background(), "t1", "hi")
	require.NoError(t, err)

	_, err = collect(t, updates)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")

	// User message persisted, assistant message not.
	history, err := store.History(context.Background(), "t1", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, memory.RoleUser, history[0].Role)
}

func TestStreamInvokeToolRoundLimit(t *testing.T) {
	spin := &tools.Tool{
		Definition: tools.Definition{Name: "spin", InputSchema: json.RawMessage(`{}`)},
		Handler: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{}`), nil
		},
	}
	loop := &Turn{ToolCalls: []ToolCall{{ID: "tc", Name: "spin", Input: json.RawMessage(`{}`)}}}
	model := &scriptedModel{turns: []*Turn{loop, loop, loop, loop, loop, loop}}
	eng, _ := newTestEngine(t, model, spin)

	updates, err := eng.StreamInvoke(context.Background(), "t1", "loop forever")
	require.NoError(t, err)

	_, err = collect(t, updates)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool round limit")
}

// loopingModel answers every round with text plus another tool call, so a
// turn only ends when the caller gives up.
type loopingModel struct {
	mu    sync.Mutex
	calls int
}

func (m *loopingModel) Complete(ctx context.Context, messages []ChatMessage, defs []tools.Definition) (*Turn, error) {
	m.mu.Lock()
	m.calls++
	n := m.calls
	m.mu.Unlock()
	return &Turn{
		Text:      fmt.Sprintf("round %d", n),
		ToolCalls: []ToolCall{{ID: fmt.Sprintf("tc%d", n), Name: "spin", Input: json.RawMessage(`{}`)}},
	}, nil
}

func (m *loopingModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestStreamInvokeCancellationStopsTurn(t *testing.T) {
	spin := &tools.Tool{
		Definition: tools.Definition{Name: "spin", InputSchema: json.RawMessage(`{}`)},
		Handler: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{}`), nil
		},
	}
	model := &loopingModel{}
	store, err := memory.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(spin))
	eng := New(model, reg, store, 1_000_000)

	ctx, cancel := context.WithCancel(context.Background())
	updates, err := eng.StreamInvoke(ctx, "t1", "spin forever")
	require.NoError(t, err)

	// Consume two snapshots, then abort the turn.
	<-updates
	<-updates
	cancel()

	// The channel must close instead of streaming forever. Anything still
	// buffered from before the abort drains here.
	for range updates {
	}

	// Once the channel is closed the invocation goroutine has exited, so the
	// model sees no further rounds.
	settled := model.callCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, settled, model.callCount())
}

func TestStreamInvokeEmptyMessage(t *testing.T) {
	eng, _ := newTestEngine(t, &scriptedModel{})

	_, err := eng.StreamInvoke(context.Background(), "t1", "   ")
	require.Error(t, err)
}

func TestStreamInvokeHistoryCarriedForward(t *testing.T) {
	model := &scriptedModel{turns: []*Turn{{Text: "first"}, {Text: "second"}}}
	eng, _ := newTestEngine(t, model)
	ctx := context.Background()

	updates, err := eng.StreamInvoke(ctx, "t1", "one")
	require.NoError(t, err)
	_, err = collect(t, updates)
	require.NoError(t, err)

	updates, err = eng.StreamInvoke(ctx, "t1", "two")
	require.NoError(t, err)
	_, err = collect(t, updates)
	require.NoError(t, err)

	// Second invocation saw the first turn's exchange plus the new message.
	require.Len(t, model.calls, 2)
	second := model.calls[1]
	require.Len(t, second, 3)
	assert.Equal(t, "one", second[0].Content)
	assert.Equal(t, "first", second[1].Content)
	assert.Equal(t, "two", second[2].Content)
}

func TestStreamInvokeThreadIsolation(t *testing.T) {
	model := &scriptedModel{turns: []*Turn{{Text: "a"}, {Text: "b"}}}
	eng, _ := newTestEngine(t, model)
	ctx := context.Background()

	updates, err := eng.StreamInvoke(ctx, "alpha", "to alpha")
	require.NoError(t, err)
	_, err = collect(t, updates)
	require.NoError(t, err)

	updates, err = eng.StreamInvoke(ctx, "beta", "to beta")
	require.NoError(t, err)
	_, err = collect(t, updates)
	require.NoError(t, err)

	// The beta thread never saw alpha's history.
	second := model.calls[1]
	require.Len(t, second, 1)
	assert.Equal(t, "to beta", second[0].Content)
}
