package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	skhttp "github.com/Strob0t/SiteKeeper/internal/adapter/http"
	sknats "github.com/Strob0t/SiteKeeper/internal/adapter/nats"
	"github.com/Strob0t/SiteKeeper/internal/adapter/natskv"
	"github.com/Strob0t/SiteKeeper/internal/adapter/otel"
	"github.com/Strob0t/SiteKeeper/internal/adapter/postgres"
	"github.com/Strob0t/SiteKeeper/internal/adapter/ristretto"
	"github.com/Strob0t/SiteKeeper/internal/adapter/tiered"
	"github.com/Strob0t/SiteKeeper/internal/adapter/ws"
	"github.com/Strob0t/SiteKeeper/internal/config"
	"github.com/Strob0t/SiteKeeper/internal/logger"
	"github.com/Strob0t/SiteKeeper/internal/middleware"
	"github.com/Strob0t/SiteKeeper/internal/port/genprovider"
	"github.com/Strob0t/SiteKeeper/internal/port/messagequeue"
	"github.com/Strob0t/SiteKeeper/internal/resilience"
	"github.com/Strob0t/SiteKeeper/internal/secrets"
	"github.com/Strob0t/SiteKeeper/internal/service"
	"github.com/Strob0t/SiteKeeper/internal/tenantfilter"
)

// l1Expire bounds how long the in-process cache may serve a status the
// shared KV bucket has already replaced.
const l1Expire = 5 * time.Second

func main() {
	if err := dispatch(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func dispatch(args []string) error {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return run(args)
	}
	switch args[0] {
	case "serve":
		return run(args[1:])
	case "migrate":
		return runMigrate(args[1:])
	case "admin":
		return runAdmin(args[1:])
	case "help", "--help", "-h":
		printHelp()
		return nil
	default:
		printHelp()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `Usage: sitekeeper [command]

Commands:
  serve     Run the API server and reconciliation loops (default)
            [--config/-c FILE] [--port/-p PORT] [--log-level LVL] [--dsn DSN] [--nats-url URL]
  migrate   Apply or roll back database migrations
  admin     Manage tenants, users and admin keys
`)
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"file", cfgPath,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
		"provider", cfg.Provider.Name,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---

	shutdownOtel, err := otel.Init(ctx, cfg.Otel)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	// NATS
	queue, err := sknats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	statusKV, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
	if err != nil {
		return fmt.Errorf("status bucket: %w", err)
	}
	idemKV, err := queue.KeyValue(ctx, cfg.Idempotency.Bucket, cfg.Idempotency.TTL)
	if err != nil {
		return fmt.Errorf("idempotency bucket: %w", err)
	}

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	defer l1.Close()
	statusCache := tiered.New(l1, natskv.New(statusKV), l1Expire)

	// --- Store ---

	var gateOpts []tenantfilter.Option
	if cfg.Tenant.StrictInserts {
		gateOpts = append(gateOpts, tenantfilter.WithStrictInserts())
	}
	store := postgres.NewStore(pool, tenantfilter.New(tenantfilter.DefaultExempt, gateOpts...))

	// --- Providers ---

	provider, err := genprovider.New("http", map[string]string{
		"name":    cfg.Provider.Name,
		"url":     cfg.Provider.URL,
		"api_key": cfg.Provider.APIKey,
		"timeout": cfg.Provider.Timeout.String(),
	})
	if err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	if b, ok := provider.(interface{ SetBreaker(*resilience.Breaker) }); ok {
		b.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	}

	// Provider keys: the config value, overridden by the key file, which is
	// re-read on SIGHUP.
	vault, err := secrets.NewVault(secrets.Merge(
		secrets.Static(map[string]string{provider.Name(): cfg.Provider.APIKey}),
		secrets.FileLoader(cfg.Provider.KeyFile),
	))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	if ks, ok := provider.(interface{ SetKeySource(func() string) }); ok {
		ks.SetKeySource(vault.Source(provider.Name()))
	}
	go reloadOnHangup(ctx, vault, provider.Name())

	// --- Services ---

	hub := ws.NewHub([]string{cfg.Server.CORSOrigin})

	directory := service.NewTenantDirectory(store)
	directory.SetMetrics(metrics)

	syncer := service.NewStatusSyncer(store, cfg.Reconciler.StatusTimeout, provider)
	syncer.SetQueue(queue)
	syncer.SetCache(statusCache, cfg.Cache.L2TTL)
	syncer.SetLimiter(resilience.NewLimiter(cfg.Provider.MaxConcurrent))
	syncer.SetMetrics(metrics)

	reconciler := service.NewJobReconciler(store, syncer, syncer, cfg.Reconciler)
	reconciler.SetMetrics(metrics)

	guard := service.NewLoginGuard(cfg.Login)
	authSvc := service.NewAuthService(store, guard)
	jobSvc := service.NewJobService(store, syncer, queue, map[string]int64{provider.Name(): cfg.Provider.Cost})
	adminSvc := service.NewTenantAdminService(store, directory, reconciler, queue)

	// The first directory load is synchronous so no request is served
	// against an empty directory.
	directory.Start(ctx, cfg.Tenant.RefreshInterval)
	slog.Info("tenant directory loaded", "tenants", directory.Snapshot().Len())

	// Start NATS subscribers
	relay := service.NewJobEventRelay(hub)
	cancelStatus, err := queue.Subscribe(ctx, messagequeue.SubjectJobStatus, relay.HandleJobStatus)
	if err != nil {
		return fmt.Errorf("job status subscriber: %w", err)
	}
	defer cancelStatus()

	cancelRefresh, err := queue.Subscribe(ctx, messagequeue.SubjectTenantsRefresh, directory.HandleRefresh)
	if err != nil {
		return fmt.Errorf("tenant refresh subscriber: %w", err)
	}
	defer cancelRefresh()

	reconciler.Start(ctx)
	defer reconciler.Stop()

	guard.StartCleanup(ctx, cfg.Login.CleanupInterval)

	limiter := middleware.NewRateLimiterFromConfig(cfg.Rate)
	limiter.StartCleanup(ctx, cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)

	// --- HTTP ---

	handlers := &skhttp.Handlers{
		Jobs:      jobSvc,
		Auth:      authSvc,
		Directory: directory,
		Admin:     adminSvc,
		WS:        hub.HandleWS,
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(otel.HTTPMiddleware(cfg.Otel.ServiceName))
	r.Use(skhttp.SecurityHeaders)
	r.Use(skhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	// Health endpoint with service status
	r.Get("/health", healthHandler(pool, queue, directory))

	skhttp.MountRoutes(r, handlers, skhttp.RouteOptions{
		Tenant:      middleware.TenantResolver(directory, cfg.Tenant.Header, cfg.Server.TrustForwardedHost),
		RateLimit:   limiter.Handler,
		Idempotency: middleware.Idempotency(natskv.New(idemKV), cfg.Idempotency.TTL),
		AdminAuth:   middleware.AdminKey(authSvc),
	})

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	if err := queue.Drain(); err != nil {
		slog.Warn("nats drain", "error", err)
	}
	return nil
}

func reloadOnHangup(ctx context.Context, vault *secrets.Vault, key string) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := vault.Reload(); err != nil {
				slog.Error("provider key reload failed", "error", err)
				continue
			}
			slog.Info("provider key reloaded", "key", vault.Redacted(key))
		}
	}
}

// healthHandler returns an http.HandlerFunc that reports service health.
func healthHandler(pool *pgxpool.Pool, queue messagequeue.Queue, dir *service.TenantDirectory) http.HandlerFunc {
	type healthStatus struct {
		Status   string `json:"status"`
		Postgres string `json:"postgres"`
		NATS     string `json:"nats"`
		Tenants  int    `json:"tenants"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		status := healthStatus{Status: "ok", Postgres: "ok", NATS: "ok", Tenants: dir.Snapshot().Len()}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			status.Status, status.Postgres = "degraded", err.Error()
		}
		if !queue.IsConnected() {
			status.Status, status.NATS = "degraded", "disconnected"
		}

		code := http.StatusOK
		if status.Status != "ok" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}

func runMigrate(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: sitekeeper migrate up|down [steps]|version")
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	ctx := context.Background()

	switch args[0] {
	case "up":
		return postgres.RunMigrations(ctx, cfg.Postgres.DSN)
	case "down":
		steps := 1
		if len(args) > 1 {
			if steps, err = strconv.Atoi(args[1]); err != nil || steps < 1 {
				return fmt.Errorf("invalid steps %q", args[1])
			}
		}
		return postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, steps)
	case "version":
		v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		fmt.Println(v)
		return nil
	default:
		return fmt.Errorf("unknown migrate command: %s", args[0])
	}
}
