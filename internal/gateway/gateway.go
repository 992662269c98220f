// ABOUTME: Gateway server wiring sessions, the engine coordinator, and HTTP routes.
// ABOUTME: Serves over plain TCP or a tsnet node, with graceful shutdown.

package gateway

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tailscale.com/tsnet"

	"github.com/parley-sh/parley-gateway/internal/auth"
	"github.com/parley-sh/parley-gateway/internal/config"
	"github.com/parley-sh/parley-gateway/internal/dedupe"
	"github.com/parley-sh/parley-gateway/internal/engine"
	"github.com/parley-sh/parley-gateway/internal/memory"
	"github.com/parley-sh/parley-gateway/internal/session"
	"github.com/parley-sh/parley-gateway/internal/tools"
)

// Gateway is the HTTP server tying the protocol endpoint and the chat feed to
// the shared execution engine.
type Gateway struct {
	config      *config.Config
	logger      *slog.Logger
	sessions    *session.Registry
	coordinator *engine.Coordinator
	guard       *dedupe.Guard
	verifier    *auth.JWTVerifier

	httpServer  *http.Server
	tsnetServer *tsnet.Server

	mu    sync.Mutex
	store *memory.Store // set once the engine builder runs
}

// New creates a gateway from configuration. The execution engine is not
// constructed here; the coordinator builds it on first use.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	gw := &Gateway{
		config:   cfg,
		logger:   logger.With("component", "gateway"),
		sessions: session.NewRegistry(),
		guard:    dedupe.NewGuard(10*time.Minute, 10000),
	}

	if cfg.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier(cfg.Auth.JWTSecret)
		if err != nil {
			return nil, fmt.Errorf("creating token verifier: %w", err)
		}
		gw.verifier = verifier
	}

	gw.coordinator = engine.NewCoordinator(gw.buildEngine, cfg.Engine.InitTimeout)

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", gw.handleProtocol)
	mux.HandleFunc("/chat", gw.handleChat)
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// buildEngine constructs the shared engine: conversation store, tool
// registry, and model binding. Runs at most once per coordinator attempt.
func (g *Gateway) buildEngine(ctx context.Context) (*engine.Engine, error) {
	store, err := memory.New(g.config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening conversation store: %w", err)
	}

	reg := tools.NewRegistry()
	if err := reg.Register(tools.MailTools(store)...); err != nil {
		store.Close()
		return nil, fmt.Errorf("registering tools: %w", err)
	}

	model := engine.NewAnthropicModel(engine.AnthropicOptions{
		Model:       g.config.Engine.Model,
		MaxTokens:   g.config.Engine.MaxTokens,
		Temperature: g.config.Engine.Temperature,
		APIKey:      g.config.Engine.APIKey,
		System:      g.config.Engine.SystemPrompt,
	})

	g.mu.Lock()
	g.store = store
	g.mu.Unlock()

	return engine.New(model, reg, store, g.config.Engine.MaxToolRounds), nil
}

// setupTCPListener creates a standard TCP listener.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run starts the gateway and blocks until the context is canceled or the
// server fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context since the run context is already
// canceled by the time shutdown starts.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if g.tsnetServer != nil {
		if err := g.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}

	g.guard.Close()

	g.mu.Lock()
	store := g.store
	g.mu.Unlock()
	if store != nil {
		if err := store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".parley-gateway", "tsnet"), nil
}

func resolveTailscaleAuthKey(configured string) string {
	if configured != "" {
		return configured
	}
	return os.Getenv("TS_AUTHKEY")
}

// setupTailscaleListener creates a tsnet node and returns its HTTP listener.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   resolveTailscaleAuthKey(tsCfg.AuthKey),
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	if _, err := g.tsnetServer.Up(ctx); err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener()
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener serves HTTPS with Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the execution engine has been constructed.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if !g.coordinator.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("engine not initialized"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
