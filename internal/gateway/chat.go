// ABOUTME: Chat endpoint streaming one conversation turn as a live event feed.
// ABOUTME: POST /chat answers with SSE: connected, cumulative chunks, then complete.

package gateway

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/parley-sh/parley-gateway/internal/events"
)

// ChatRequest is the JSON request body for POST /chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// newThreadID mints a thread id for requests that don't carry one.
func newThreadID() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("session-%d-%s", time.Now().UnixMilli(), hex.EncodeToString(b[:]))
}

func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if _, err := g.authenticate(r); err != nil {
		g.sendJSONError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Message == "" {
		g.sendJSONError(w, http.StatusBadRequest, "Message is required")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = newThreadID()
	}

	if req.RequestID != "" && g.guard.Seen(sessionID, req.RequestID) {
		g.sendJSONError(w, http.StatusConflict, "Duplicate request")
		return
	}

	// Check streaming support before sending (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	g.writeEvent(w, flusher, events.Connected(sessionID))

	ctx := r.Context()
	eng, err := g.coordinator.Engine(ctx)
	if err != nil {
		g.logger.Error("engine unavailable", "error", err)
		g.writeEvent(w, flusher, events.Failure(err.Error()))
		return
	}

	updates, err := eng.StreamInvoke(ctx, sessionID, req.Message)
	if err != nil {
		g.writeEvent(w, flusher, events.Failure(err.Error()))
		return
	}

	var final string
	for {
		select {
		case <-ctx.Done():
			// Client gone: stop consuming, write nothing further.
			return
		case u, ok := <-updates:
			if !ok {
				g.writeEvent(w, flusher, events.Complete(final, sessionID, time.Now()))
				return
			}
			if u.Err != nil {
				g.logger.Error("turn failed", "session_id", sessionID, "error", u.Err)
				g.writeEvent(w, flusher, events.Failure(u.Err.Error()))
				return
			}
			final = u.Content
			g.writeEvent(w, flusher, events.Chunk(u.Content, time.Now()))
		}
	}
}

// writeEvent encodes and flushes a single feed event.
func (g *Gateway) writeEvent(w http.ResponseWriter, flusher http.Flusher, e events.Event) {
	frame, err := events.Encode(e)
	if err != nil {
		g.logger.Error("failed to encode event", "error", err)
		return
	}
	if _, err := w.Write(frame); err != nil {
		return
	}
	flusher.Flush()
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		g.logger.Error("failed to encode error response", "error", err)
	}
}
