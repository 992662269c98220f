// ABOUTME: Protocol endpoint handler: session lifecycle over JSON-RPC on /mcp.
// ABOUTME: Routes requests to per-session transports, tools served by the engine.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/parley-sh/parley-gateway/internal/session"
	"github.com/parley-sh/parley-gateway/internal/tools"
)

// SessionHeader carries the session id on protocol requests and on the
// initialize response.
const SessionHeader = "Session-Id"

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

func (g *Gateway) handleProtocol(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		g.handleProtocolPost(w, r)
	case http.MethodDelete:
		g.handleProtocolDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// authenticate verifies the bearer token when auth is configured. Returns the
// caller identity, empty when auth is off.
func (g *Gateway) authenticate(r *http.Request) (string, error) {
	if g.verifier == nil {
		return "", nil
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", errors.New("authentication required")
	}
	return g.verifier.Verify(token)
}

func (g *Gateway) handleProtocolPost(w http.ResponseWriter, r *http.Request) {
	identity, err := g.authenticate(r)
	if err != nil {
		g.sendRPCError(w, http.StatusUnauthorized, nil, session.CodeInvalidRequest, err.Error())
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		g.sendRPCError(w, http.StatusBadRequest, nil, session.CodeParseError, "failed to read request body")
		return
	}
	if len(body) > MaxRequestBodySize {
		g.sendRPCError(w, http.StatusBadRequest, nil, session.CodeInvalidRequest, "request body too large")
		return
	}

	var req session.Request
	if err := json.Unmarshal(body, &req); err != nil {
		g.sendRPCError(w, http.StatusBadRequest, nil, session.CodeParseError, "invalid JSON")
		return
	}
	if req.JSONRPC != "2.0" {
		g.sendRPCError(w, http.StatusBadRequest, req.ID, session.CodeInvalidRequest, "invalid JSON-RPC version")
		return
	}

	var transport *session.Transport
	sessionID := r.Header.Get(SessionHeader)
	if sessionID == "" {
		// Only the initialize handshake may arrive without a session.
		if req.Method != "initialize" {
			g.sendNoSessionError(w)
			return
		}
		transport = g.sessions.Create(identity)
		w.Header().Set(SessionHeader, transport.ID())
	} else {
		var ok bool
		transport, ok = g.sessions.Lookup(sessionID)
		if !ok {
			g.sendNoSessionError(w)
			return
		}
		if g.verifier != nil && transport.Owner() != identity {
			g.sendRPCError(w, http.StatusForbidden, req.ID, session.CodeSessionError, "session owned by another identity")
			return
		}
	}

	resp, err := transport.Handle(r.Context(), g.toolBackend(), &req)
	if errors.Is(err, session.ErrSessionClosed) {
		g.sendNoSessionError(w)
		return
	}
	if err != nil {
		g.sendRPCError(w, http.StatusInternalServerError, req.ID, session.CodeInternalError, "internal error")
		return
	}
	if resp == nil {
		// Notification: accepted, no body.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

func (g *Gateway) handleProtocolDelete(w http.ResponseWriter, r *http.Request) {
	identity, err := g.authenticate(r)
	if err != nil {
		g.sendRPCError(w, http.StatusUnauthorized, nil, session.CodeInvalidRequest, err.Error())
		return
	}

	sessionID := r.Header.Get(SessionHeader)
	if sessionID == "" {
		g.sendNoSessionError(w)
		return
	}
	transport, ok := g.sessions.Lookup(sessionID)
	if !ok {
		g.sendNoSessionError(w)
		return
	}
	if g.verifier != nil && transport.Owner() != identity {
		g.sendRPCError(w, http.StatusForbidden, nil, session.CodeSessionError, "session owned by another identity")
		return
	}

	g.sessions.Remove(sessionID)
	w.WriteHeader(http.StatusOK)
}

// sendNoSessionError reports a missing or unknown session id. The body shape
// is fixed: {"error":{"code":-32000,"message":"Bad Request: No valid session ID provided"}}.
func (g *Gateway) sendNoSessionError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	body := map[string]any{
		"error": &session.RPCError{
			Code:    session.CodeSessionError,
			Message: "Bad Request: No valid session ID provided",
		},
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logger.Error("failed to encode error response", "error", err)
	}
}

func (g *Gateway) sendRPCError(w http.ResponseWriter, status int, id json.RawMessage, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   &session.RPCError{Code: code, Message: message},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		g.logger.Error("failed to encode error response", "error", err)
	}
}

// toolBackend serves the transport's tool surface from the shared engine,
// constructing it on first use.
func (g *Gateway) toolBackend() session.ToolBackend {
	return &engineToolBackend{gateway: g}
}

type engineToolBackend struct {
	gateway *Gateway
}

func (b *engineToolBackend) ListTools(ctx context.Context) ([]tools.Definition, error) {
	eng, err := b.gateway.coordinator.Engine(ctx)
	if err != nil {
		return nil, err
	}
	return eng.Tools().List(), nil
}

func (b *engineToolBackend) CallTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	eng, err := b.gateway.coordinator.Engine(ctx)
	if err != nil {
		return "", err
	}
	out, err := eng.Tools().Call(ctx, name, args)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
