// ABOUTME: Gateway orchestrator that wires the registry components behind one HTTP server
// ABOUTME: Manages store, executor router, health scheduler, fixtures watcher and shutdown lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/2389/toolshed/internal/auth"
	"github.com/2389/toolshed/internal/catalog"
	"github.com/2389/toolshed/internal/config"
	"github.com/2389/toolshed/internal/executor"
	"github.com/2389/toolshed/internal/fixtures"
	"github.com/2389/toolshed/internal/health"
	"github.com/2389/toolshed/internal/mcp"
	"github.com/2389/toolshed/internal/metrics"
	"github.com/2389/toolshed/internal/quality"
	"github.com/2389/toolshed/internal/search"
	"github.com/2389/toolshed/internal/store"
	"github.com/2389/toolshed/internal/verify"
)

// EnvDBPath overrides database.path when set.
const EnvDBPath = "TOOLSHED_DB_PATH"

// Gateway owns the registry's components and serves its HTTP surface.
type Gateway struct {
	config     *config.Config
	store      store.Store
	client     *executor.Client
	router     *executor.Router
	indexer    *catalog.Indexer
	search     *search.Index
	verifier   *verify.Verifier
	scheduler  *health.Scheduler
	rescorer   *quality.Rescorer
	fixtures   *fixtures.Cache
	mcpServer  *mcp.Server
	metrics    *metrics.Metrics
	handler    http.Handler
	httpServer *http.Server
	logger     *slog.Logger
}

// initStore opens the SQLite store named by config or environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv(EnvDBPath); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("creating store at %s: %w", dbPath, err)
	}
	return s, nil
}

// New creates a Gateway backed by the configured SQLite database.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	gw, err := build(cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// build wires every component around an already-open store.
func build(cfg *config.Config, s store.Store, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := metrics.New()

	client := executor.NewClient(executor.ClientConfig{
		Sandbox:           executor.Target{BaseURL: cfg.Executor.DefaultURL, APIKey: cfg.Executor.APIKey},
		HealthTimeout:     cfg.Executor.HealthTimeout,
		IntrospectTimeout: cfg.Executor.IntrospectTimeout,
		ExecuteTimeout:    cfg.Executor.ExecuteTimeout,
		Logger:            logger,
		Metrics:           m,
	})
	router := executor.NewRouter(executor.RouterConfig{
		Client:  client,
		Logger:  logger,
		Metrics: m,
		Timeout: cfg.Executor.ExecuteTimeout,
	})

	idx, err := search.New(s, logger)
	if err != nil {
		return nil, fmt.Errorf("creating search index: %w", err)
	}

	fx := fixtures.New(cfg.Health.FixturesPath, logger)
	rescorer := quality.NewRescorer(s, logger, m)

	mcpServer, err := mcp.NewServer(mcp.Config{
		Store:         s,
		Router:        router,
		Logger:        logger,
		Metrics:       m,
		LookupTimeout: cfg.MCP.LookupTimeout,
		ServerName:    cfg.MCP.ServerName,
		ServerVersion: cfg.MCP.ServerVersion,
	})
	if err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}

	var source catalog.MetadataSource
	if cfg.Catalog.MetadataDir != "" {
		source = catalog.DirSource(cfg.Catalog.MetadataDir)
	}

	gw := &Gateway{
		config: cfg,
		store:  s,
		client: client,
		router: router,
		indexer: catalog.NewIndexer(catalog.IndexerConfig{
			Store:     s,
			Extractor: catalog.NewExtractor(client, logger),
			Source:    source,
			Search:    idx,
			Logger:    logger,
		}),
		search: idx,
		verifier: verify.New(verify.Config{
			Prober:        client,
			Logger:        logger,
			Metrics:       m,
			HealthTimeout: cfg.Executor.HealthTimeout,
			TestTimeout:   cfg.Executor.VerifyTimeout,
		}),
		scheduler: health.NewScheduler(health.Config{
			Store:         s,
			Sandbox:       client,
			Fixtures:      fx,
			Rescorer:      rescorer,
			Logger:        logger,
			Metrics:       m,
			Interval:      cfg.Health.Interval,
			Concurrency:   cfg.Health.Concurrency,
			ToolTimeout:   cfg.Health.ToolTimeout,
			RatePerSecond: cfg.Health.RatePerSecond,
			RunOnStart:    cfg.Health.RunOnStart,
		}),
		rescorer:  rescorer,
		fixtures:  fx,
		mcpServer: mcpServer,
		metrics:   m,
		logger:    logger.With("component", "gateway"),
	}

	handler, err := gw.routes()
	if err != nil {
		_ = idx.Close()
		return nil, err
	}
	gw.handler = handler
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw, nil
}

// routes builds the HTTP mux. Admin routes sit behind bearer auth when a
// JWT secret is configured.
func (g *Gateway) routes() (http.Handler, error) {
	admin := func(h http.HandlerFunc) http.Handler { return h }
	if g.config.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(g.config.Auth.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		mw := auth.HTTPAuthMiddleware(verifier)
		admin = func(h http.HandlerFunc) http.Handler { return mw(h) }
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	mux.HandleFunc("GET /api/tools", g.handleListTools)
	mux.HandleFunc("GET /api/tools/{name...}", g.handleGetTool)

	mux.Handle("POST /api/executors/verify", admin(g.handleVerifyExecutor))
	mux.Handle("POST /api/packages", admin(g.handleRegisterPackage))
	mux.Handle("POST /api/tools/execute", admin(g.handleExecuteTool))
	mux.Handle("GET /api/collections/{slug}", admin(g.handleGetCollection))
	mux.Handle("PUT /api/collections/{slug}", admin(g.handlePutCollection))
	mux.Handle("POST /api/health/sweep", admin(g.handleSweep))
	mux.Handle("POST /api/quality/rescore", admin(g.handleRescore))

	g.mcpServer.RegisterRoutes(mux)

	if g.config.Metrics.Enabled {
		path := g.config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, g.metrics.Handler())
	}
	return mux, nil
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Sweep runs one health sweep outside the server loop.
func (g *Gateway) Sweep(ctx context.Context) (*health.SweepReport, error) {
	return g.scheduler.RunSweep(ctx, time.Now())
}

// Rescore recomputes every tool's quality score.
func (g *Gateway) Rescore(ctx context.Context) (*quality.RescoreReport, error) {
	return g.rescorer.RescoreAll(ctx)
}

// Sync re-indexes each named package from catalog.metadata_dir, then
// rescores once. A package that fails is reported and the rest continue;
// the returned error joins every failure.
func (g *Gateway) Sync(ctx context.Context, names []string) ([]*catalog.IndexReport, error) {
	if g.config.Catalog.MetadataDir == "" {
		return nil, errors.New("catalog.metadata_dir is not configured")
	}
	var (
		reports []*catalog.IndexReport
		errs    []error
	)
	for _, name := range names {
		report, err := g.indexer.Sync(ctx, name)
		if err != nil {
			g.logger.Warn("sync failed", "package", name, "error", err)
			errs = append(errs, err)
			continue
		}
		reports = append(reports, report)
	}
	if len(reports) > 0 {
		if _, err := g.rescorer.RescoreAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("rescoring: %w", err))
		}
	}
	return reports, errors.Join(errs...)
}

// Verify runs the verification handshake against a custom executor.
func (g *Gateway) Verify(ctx context.Context, url, apiKey string) *verify.Result {
	return g.verifier.Verify(ctx, url, apiKey)
}

// startBackground launches the health scheduler and fixtures watcher.
func (g *Gateway) startBackground(ctx context.Context) {
	if g.config.Health.Enabled {
		go g.scheduler.Start(ctx)
	} else {
		g.logger.Info("health scheduler disabled")
	}
	go func() {
		if err := g.fixtures.Watch(ctx); err != nil {
			g.logger.Warn("fixtures watcher stopped", "error", err)
		}
	}()
}

// startServer serves HTTP in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run rebuilds the search index, starts background work and serves until
// ctx is canceled.
func (g *Gateway) Run(ctx context.Context) error {
	n, err := g.search.Rebuild(ctx)
	if err != nil {
		return fmt.Errorf("rebuilding search index: %w", err)
	}
	g.logger.Info("search index rebuilt", "tools", n)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}

	bgCtx, cancelBackground := context.WithCancel(ctx)
	g.startBackground(bgCtx)

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	cancelBackground()
	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context since the run
// context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	timeout := g.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server and releases the index and store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "search close", g.search.Close())
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// Close releases resources for a Gateway that never ran.
func (g *Gateway) Close() error {
	return errors.Join(g.search.Close(), g.store.Close())
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the store answers and the default sandbox
// reports healthy.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := g.store.ListTools(r.Context(), store.ToolFilter{Limit: 1}); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "store unavailable: %v", err)
		return
	}
	status, err := g.client.HealthCheck(r.Context(), g.client.Sandbox())
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "sandbox unavailable: %v", err)
		return
	}
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "sandbox unhealthy: %s", status.Status)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
