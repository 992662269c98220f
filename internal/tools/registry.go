// ABOUTME: Thread-safe registry of tools callable by the execution engine.
// ABOUTME: Manages registration, lookup, and dispatch with collision detection.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrToolNotFound indicates the named tool is not registered.
var ErrToolNotFound = errors.New("tool not found")

// ErrToolCollision indicates a tool name is already registered.
var ErrToolCollision = errors.New("tool name collision")

// Handler executes one tool call. Input and output are JSON.
type Handler func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// Definition describes a tool to the model.
type Definition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Tool pairs a definition with its handler.
type Tool struct {
	Definition Definition
	Handler    Handler
}

// Registry maintains the set of registered tools.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: slog.Default().With("component", "tools"),
	}
}

// Register adds tools to the registry. Fails on name collision without
// registering any of the given tools.
func (r *Registry) Register(ts ...*Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range ts {
		if _, exists := r.tools[t.Definition.Name]; exists {
			return fmt.Errorf("%w: %s", ErrToolCollision, t.Definition.Name)
		}
	}
	for _, t := range ts {
		r.tools[t.Definition.Name] = t
		r.logger.Debug("tool registered", "name", t.Definition.Name)
	}
	return nil
}

// List returns the definitions of all registered tools.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition)
	}
	return defs
}

// Call dispatches a tool call by name.
func (r *Registry) Call(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	result, err := t.Handler(ctx, input)
	if err != nil {
		r.logger.Warn("tool call failed", "name", name, "error", err)
		return nil, err
	}
	return result, nil
}
