// Package api exposes the demo relay over HTTP: the web client endpoints, the platform
// callbacks, a live session watch, the platform API proxy and the health check.
//
// Run wires the gateway client, ledger, orchestrator, reaper and server together and
// serves until SIGINT or SIGTERM.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/teamplayer/imsms-demo/internal/flow"
	"github.com/teamplayer/imsms-demo/internal/genai"
	"github.com/teamplayer/imsms-demo/internal/imsms"
	"github.com/teamplayer/imsms-demo/internal/scheduler"
	"github.com/teamplayer/imsms-demo/internal/store"
)

// Default server configuration
const (
	DefaultServerAddress     = ":3000"
	DefaultWatchInterval     = time.Second
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	maxRequestBodyBytes      = 1 << 20
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr             string        // listen address, e.g. ":3000"
	StaticDir        string        // directory served at / when set
	WatchInterval    time.Duration // poll interval of the websocket watch
	SessionRetention time.Duration
	SweepInterval    time.Duration
	GenAIDemo        bool // generate demo copy with the GenAI client
}

// Option defines a functional option for configuring the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithStaticDir serves the web client from dir.
func WithStaticDir(dir string) Option {
	return func(o *Opts) { o.StaticDir = dir }
}

// WithWatchInterval sets how often the websocket watch polls a session.
func WithWatchInterval(d time.Duration) Option {
	return func(o *Opts) { o.WatchInterval = d }
}

// WithSessionRetention sets how long idle sessions are kept.
func WithSessionRetention(d time.Duration) Option {
	return func(o *Opts) { o.SessionRetention = d }
}

// WithSweepInterval sets how often stale sessions are removed.
func WithSweepInterval(d time.Duration) Option {
	return func(o *Opts) { o.SweepInterval = d }
}

// WithGenAIDemo enables generated demo message copy.
func WithGenAIDemo(enabled bool) Option {
	return func(o *Opts) { o.GenAIDemo = enabled }
}

// Forwarder relays raw requests to the messaging platform.
type Forwarder interface {
	Forward(ctx context.Context, req imsms.ForwardRequest) (*imsms.ForwardResult, error)
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	orch          *flow.Orchestrator
	proxy         Forwarder
	staticDir     string
	watchInterval time.Duration

	closing   chan struct{}
	closeOnce sync.Once
}

// NewServer creates a Server. proxy may be nil, in which case the proxy endpoint
// answers 503.
func NewServer(orch *flow.Orchestrator, proxy Forwarder, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = DefaultWatchInterval
	}
	return &Server{
		orch:          orch,
		proxy:         proxy,
		staticDir:     cfg.StaticDir,
		watchInterval: cfg.WatchInterval,
		closing:       make(chan struct{}),
	}
}

// Handler returns the routed handler with CORS, panic recovery and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/demo/start", s.startHandler)
	mux.HandleFunc("GET /api/demo/status/{sessionId}", s.statusHandler)
	mux.HandleFunc("GET /api/demo/watch/{sessionId}", s.watchHandler)
	mux.HandleFunc("POST /api/callback/lookup", s.lookupCallbackHandler)
	mux.HandleFunc("POST /api/callback/consent", s.consentCallbackHandler)
	mux.HandleFunc("POST /api/callback/message", s.messageCallbackHandler)
	mux.HandleFunc("POST /api/callback/mo", s.moCallbackHandler)
	mux.HandleFunc("/api/proxy/{path...}", s.proxyHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	if s.staticDir != "" {
		slog.Info("Server.Handler: serving static files", "dir", s.staticDir)
		mux.Handle("/", http.FileServer(http.Dir(s.staticDir)))
	}
	return cors.AllowAll().Handler(recoverMiddleware(logMiddleware(mux)))
}

// Close ends open websocket watches.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// Run builds every module from the given options and serves HTTP until the process
// receives SIGINT or SIGTERM.
func Run(gatewayOpts []imsms.Option, ledgerOpts []store.Option, genaiOpts []genai.Option, flowOpts []flow.Option, apiOpts []Option) error {
	var cfg Opts
	for _, opt := range apiOpts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultServerAddress
	}

	gateway, err := imsms.NewClient(gatewayOpts...)
	if err != nil {
		return fmt.Errorf("failed to create IMSMS client: %w", err)
	}

	ledger, err := store.NewLedger(ledgerOpts...)
	if err != nil {
		return fmt.Errorf("failed to open consent ledger: %w", err)
	}
	defer ledger.Close()

	registry := flow.NewRegistry()
	if cfg.GenAIDemo {
		gaClient, err := genai.NewClient(genaiOpts...)
		if err != nil {
			slog.Warn("Run: GenAI demo copy requested but client unavailable, using fixed copy", "error", err)
		} else {
			registry.Register(flow.MessageDemo, flow.NewDemoGenAIGenerator(gaClient))
			slog.Info("Run: demo message copy generated by GenAI", "model", gaClient.Model())
		}
	}

	sessions := store.NewSessionStore()
	defer sessions.Close()

	orch, err := flow.NewOrchestrator(gateway, sessions,
		append(flowOpts, flow.WithAgentID(gateway.AgentID()), flow.WithLedger(ledger), flow.WithGenerators(registry))...)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	defer orch.Close()

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	reaper := store.NewReaper(sessions,
		store.WithRetention(cfg.SessionRetention),
		store.WithSweepInterval(cfg.SweepInterval),
		store.WithEvictHook(orch.Forget))
	if err := reaper.Start(sched); err != nil {
		return fmt.Errorf("failed to schedule session reaper: %w", err)
	}

	server := NewServer(orch, gateway, apiOpts...)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("IMSMS demo relay listening", "addr", cfg.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server failed: %w", err)
	case sig := <-sigCh:
		slog.Info("Run: shutting down", "signal", sig.String())
	}

	server.Close()
	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown failed: %w", err)
	}
	return nil
}
