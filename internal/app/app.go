// ABOUTME: Wires configuration into the store, tools, model client, turn processor and surfaces
// ABOUTME: Serves the web chat over HTTP and hands out chat sessions to the terminal front ends

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/2389/chatbot/internal/auth"
	"github.com/2389/chatbot/internal/config"
	"github.com/2389/chatbot/internal/llm"
	"github.com/2389/chatbot/internal/session"
	"github.com/2389/chatbot/internal/store"
	"github.com/2389/chatbot/internal/tools"
	"github.com/2389/chatbot/internal/turn"
	"github.com/2389/chatbot/internal/webchat"
)

// App holds the running chatbot's components.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.SQLiteStore
	registry *tools.Registry
	turns    *turn.Processor
	bus      *session.Bus
	verifier *auth.JWTVerifier
	web      *webchat.Server

	httpServer *http.Server
}

// New builds the app against the configured model endpoint.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	model := llm.NewClient(llm.Config{
		BaseURL:     cfg.Model.BaseURL,
		APIKey:      cfg.Model.APIKey,
		Model:       cfg.Model.Name,
		Temperature: cfg.Model.Temperature,
		Timeout:     cfg.Model.Timeout,
		RetryCount:  cfg.Model.RetryCount,
	}, logger)
	return NewWithModel(cfg, model, logger)
}

// NewWithModel builds the app around the given model.
func NewWithModel(cfg *config.Config, model llm.Model, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := openStore(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:    cfg,
		logger: logger,
		store:  st,
		bus:    session.NewBus(logger),
	}

	a.registry, err = buildRegistry(cfg.Search, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	a.turns = turn.New(model, a.registry, st, turn.Config{
		MaxToolRounds: cfg.Turn.MaxToolRounds,
		SystemPrompt:  cfg.Turn.SystemPrompt,
		TitlePrompt:   cfg.Turn.TitlePrompt,
	}, logger)

	if cfg.Auth.JWTSecret != "" {
		a.verifier, err = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("creating token verifier: %w", err)
		}
	}

	webCfg := webchat.Config{SessionIdle: cfg.Server.SessionIdle}
	if a.verifier != nil {
		webCfg.Verifier = a.verifier
	}
	a.web, err = webchat.New(a.NewSession, a.bus, webCfg, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating web chat: %w", err)
	}

	a.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           a.web.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("app ready",
		"database", cfg.Database.Path,
		"driver", cfg.Database.Driver,
		"model", cfg.Model.Name,
		"tools", len(a.registry.Definitions()),
		"auth", a.verifier != nil,
	)
	return a, nil
}

func openStore(cfg config.DatabaseConfig, logger *slog.Logger) (*store.SQLiteStore, error) {
	st, err := store.Open(cfg.Driver, cfg.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return st, nil
}

func buildRegistry(cfg config.SearchConfig, logger *slog.Logger) (*tools.Registry, error) {
	registry := tools.NewRegistry(logger)
	if err := registry.RegisterPack(tools.MathPack()); err != nil {
		return nil, fmt.Errorf("registering math tools: %w", err)
	}
	if cfg.Enabled {
		searcher := tools.NewSearcher(tools.SearchConfig{
			Endpoint:   cfg.Endpoint,
			Region:     cfg.Region,
			MaxResults: cfg.MaxResults,
			Timeout:    cfg.Timeout,
			RetryCount: cfg.RetryCount,
		}, logger)
		if err := registry.RegisterPack(searcher.WebPack()); err != nil {
			return nil, fmt.Errorf("registering search tools: %w", err)
		}
	}
	return registry, nil
}

// Store returns the thread store.
func (a *App) Store() store.Store {
	return a.store
}

// Registry returns the tool registry.
func (a *App) Registry() *tools.Registry {
	return a.registry
}

// NewSession creates a chat session over the stored threads.
func (a *App) NewSession(ctx context.Context) (*session.Session, error) {
	return session.New(ctx, a.store, a.turns, a.bus, a.logger)
}

// Handler returns the web chat handler.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// IssueToken creates a web chat token for name. A zero ttl never expires.
func (a *App) IssueToken(name string, ttl time.Duration) (string, error) {
	if a.verifier == nil {
		return "", errors.New("auth.jwt_secret is not configured")
	}
	return a.verifier.Generate(name, ttl)
}

// Run serves the web chat until ctx is canceled or the server fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.httpServer.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves the web chat on ln until ctx is canceled or the server fails.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.logger.Info("serving web chat", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
		close(errCh)
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		a.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		if serverErr != nil {
			a.logger.Error("server error", "error", serverErr)
		}
	}

	// ctx is already canceled here.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := a.httpServer.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// Close releases the web sessions, the bus and the store.
func (a *App) Close() error {
	a.web.Close()
	a.bus.Close()
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	return nil
}
