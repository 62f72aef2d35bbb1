// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/waymark/internal/anchorstore"
	"github.com/starford/waymark/internal/api"
	"github.com/starford/waymark/internal/index"
	"github.com/starford/waymark/internal/mcpserver"
	"github.com/starford/waymark/internal/sse"
	"github.com/starford/waymark/internal/storage"
	"github.com/starford/waymark/internal/workspace"
)

// runtime holds the long-lived dependencies shared by every command.
type runtime struct {
	cfg    *Config
	logger *slog.Logger
	store  *storage.FS
	db     *index.DB
	svc    *workspace.Service
}

func (rt *runtime) Close() {
	rt.svc.Close()
	if err := rt.db.Close(); err != nil {
		rt.logger.Warn("index close failed", slog.String("error", err.Error()))
	}
}

func setup(opts []Option, svcOpts ...workspace.Option) (*runtime, error) {
	app := &application{version: "dev", logOutput: os.Stdout}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("workspace_dir", cfg.Workspace.Dir),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("policy", cfg.Anchors.Policy),
		slog.String("log_level", cfg.App.LogLevel.String()))

	settings, err := cfg.Anchors.Settings()
	if err != nil {
		return nil, err
	}

	// Ensure workspace directory exists.
	if err := os.MkdirAll(cfg.Workspace.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace dir: %w", err)
	}

	// Initialize storage.
	store, err := storage.NewFS(cfg.Workspace.Dir)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	// Initialize SQLite index.
	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	// Run initial sync.
	if err := index.Sync(db, store, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	svcOpts = append([]workspace.Option{
		workspace.WithLogger(logger),
		workspace.WithSettings(settings),
	}, svcOpts...)

	return &runtime{
		cfg:    cfg,
		logger: logger,
		store:  store,
		db:     db,
		svc:    workspace.NewService(store, db, svcOpts...),
	}, nil
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	rt, err := setup(opts, workspace.WithPublisher(broker))
	if err != nil {
		return err
	}
	defer rt.Close()

	cfg, logger := rt.cfg, rt.logger

	apiRouter := api.NewRouter(rt.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := rt.db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher: out-of-band edits reindex, notify subscribers and
	// reload any open controller.
	g.Go(func() error {
		err := index.Watch(gCtx, rt.db, rt.store, cfg.Workspace.Dir, logger, func(kind, name string) {
			broker.PublishWorkspaceEvent(kind, name)
			rt.svc.HandleExternalChange(gCtx, kind, name)
		})
		if err != nil {
			logger.Warn("watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the watcher exits with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools on stdin/stdout until the client disconnects.
func RunMCP(_ context.Context, opts ...Option) error {
	app := &application{version: "dev"}
	for _, opt := range opts {
		opt(app)
	}
	opts = append(opts, WithLogOutput(os.Stderr))

	rt, err := setup(opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.logger.Info("MCP server starting", slog.String("version", app.version))
	return mcpserver.New(rt.svc, app.version).ServeStdio()
}

// Inspect writes a summary of one workspace document to w.
func Inspect(ctx context.Context, w io.Writer, name string, opts ...Option) error {
	rt, err := setup(append(opts, WithLogOutput(io.Discard)))
	if err != nil {
		return err
	}
	defer rt.Close()

	if name == "" {
		name = rt.cfg.Workspace.Default
	}
	doc, err := rt.svc.Document(ctx, name)
	if err != nil {
		return err
	}
	return writeSummary(w, name, doc)
}

// Clear removes one group, or every group when groupID is empty, from a
// workspace document.
func Clear(ctx context.Context, name, groupID string, opts ...Option) error {
	rt, err := setup(opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	if name == "" {
		name = rt.cfg.Workspace.Default
	}
	if groupID != "" {
		return rt.svc.ClearGroup(ctx, name, groupID)
	}
	return rt.svc.ClearAll(ctx, name)
}

func writeSummary(w io.Writer, name string, doc anchorstore.Document) error {
	if _, err := fmt.Fprintf(w, "workspace %s: %d group(s), %d anchor(s)\n", name, len(doc.Groups), doc.RecordCount()); err != nil {
		return err
	}
	for _, g := range doc.Groups {
		label := g.Key
		if label == "" {
			label = "(keyless)"
		}
		if _, err := fmt.Fprintf(w, "  %s  %-6s %-24s %d record(s)\n", g.ID, g.Kind, label, len(g.Records)); err != nil {
			return err
		}
	}
	return nil
}
