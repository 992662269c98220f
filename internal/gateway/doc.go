// ABOUTME: Package doc for the gateway server.
// ABOUTME: Describes the endpoint surface and engine lifecycle.

// Package gateway implements the HTTP server fronting the execution engine.
//
// Two request surfaces share one lazily-constructed engine:
//
//   - /mcp: a session-based JSON-RPC endpoint. Clients open a session with
//     an initialize handshake, address it via the Session-Id header, and
//     close it with DELETE. Tool listing and calls are served by the engine.
//
//   - /chat: a one-shot chat turn streamed back as server-sent events. Each
//     chunk event carries the full answer so far; the feed ends with a
//     complete or error event.
//
// The engine (model binding, tool registry, conversation store) is built on
// first use by either surface. Concurrent first requests share a single
// construction attempt.
package gateway
