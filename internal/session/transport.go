// ABOUTME: Per-session JSON-RPC transport state machine.
// ABOUTME: Serializes requests per session and routes them to the tool backend.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/parley-sh/parley-gateway/internal/tools"
)

// ProtocolVersion is the protocol revision the server speaks.
const ProtocolVersion = "2025-11-25"

// JSON-RPC 2.0 wire types.

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeSessionError   = -32000
)

// ErrSessionClosed indicates the transport has been shut down.
var ErrSessionClosed = errors.New("session closed")

// ToolBackend serves the tool surface the transport exposes. Implementations
// may construct their machinery lazily on first use.
type ToolBackend interface {
	ListTools(ctx context.Context) ([]tools.Definition, error)
	CallTool(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// ToolInfo describes a tool on the wire.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ListToolsResult is the result for tools/list.
type ListToolsResult struct {
	Tools []ToolInfo `json:"tools"`
}

// CallToolParams are the params for tools/call.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the result for tools/call.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content represents content in a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type transportState int

const (
	stateUninitialized transportState = iota
	stateReady
	stateClosed
)

// Transport is one session's protocol state machine. Requests on the same
// transport are serialized; distinct transports proceed independently.
type Transport struct {
	id        string
	owner     string
	createdAt time.Time

	mu    sync.Mutex
	state transportState
}

// ID returns the session id.
func (t *Transport) ID() string { return t.id }

// Owner returns the identity that opened the session.
func (t *Transport) Owner() string { return t.owner }

func (t *Transport) close() {
	t.mu.Lock()
	t.state = stateClosed
	t.mu.Unlock()
}

// Closed reports whether the transport has been shut down.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == stateClosed
}

// Handle processes one request. A nil response with a nil error means the
// request was a notification and produced no reply. Returns ErrSessionClosed
// after close.
func (t *Transport) Handle(ctx context.Context, backend ToolBackend, req *Request) (*Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == stateClosed {
		return nil, ErrSessionClosed
	}

	if req.IsNotification() {
		// Notifications are accepted and dropped. Only notifications/initialized
		// completes the handshake.
		if req.Method == "notifications/initialized" && t.state == stateUninitialized {
			t.state = stateReady
		}
		return nil, nil
	}

	switch req.Method {
	case "initialize":
		return t.handleInitialize(req), nil
	case "ping":
		return result(req.ID, map[string]any{}), nil
	case "tools/list":
		if t.state != stateReady {
			return errResponse(req.ID, CodeInvalidRequest, "session not initialized"), nil
		}
		return t.handleToolsList(ctx, backend, req), nil
	case "tools/call":
		if t.state != stateReady {
			return errResponse(req.ID, CodeInvalidRequest, "session not initialized"), nil
		}
		return t.handleToolsCall(ctx, backend, req), nil
	default:
		return errResponse(req.ID, CodeMethodNotFound, "method not found"), nil
	}
}

func (t *Transport) handleInitialize(req *Request) *Response {
	if t.state != stateUninitialized {
		return errResponse(req.ID, CodeInvalidRequest, "session already initialized")
	}
	t.state = stateReady

	return result(req.ID, map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    "parley-gateway",
			"version": "1.0.0",
		},
	})
}

func (t *Transport) handleToolsList(ctx context.Context, backend ToolBackend, req *Request) *Response {
	defs, err := backend.ListTools(ctx)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, fmt.Sprintf("listing tools: %v", err))
	}

	res := ListToolsResult{Tools: make([]ToolInfo, len(defs))}
	for i, d := range defs {
		res.Tools[i] = ToolInfo{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		}
	}
	return result(req.ID, res)
}

func (t *Transport) handleToolsCall(ctx context.Context, backend ToolBackend, req *Request) *Response {
	var params CallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errResponse(req.ID, CodeInvalidParams, "invalid params")
		}
	}
	if params.Name == "" {
		return errResponse(req.ID, CodeInvalidParams, "tool name is required")
	}

	args := params.Arguments
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
	}

	out, err := backend.CallTool(ctx, params.Name, args)
	if err != nil {
		// Tool failures travel in-band so the client sees them as results.
		return result(req.ID, CallToolResult{
			Content: []Content{{Type: "text", Text: err.Error()}},
			IsError: true,
		})
	}
	return result(req.ID, CallToolResult{
		Content: []Content{{Type: "text", Text: out}},
	})
}

func result(id json.RawMessage, res any) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: res}
}

func errResponse(id json.RawMessage, code int, message string) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
}
