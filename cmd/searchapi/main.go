package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/auth"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/backend/registry"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/content"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/processor/builtin"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/tasks"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/tracing"
)

// localCacheSize bounds the in-process result cache used without redis.
const localCacheSize = 4096

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup("searchapi", cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search api", "port", cfg.Server.Port, "catalog", cfg.Catalog.Path)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	shutdownMetrics := bootstrap.StartMetrics(cfg, "search-api")
	defer shutdownMetrics(context.Background())

	pg, err := bootstrap.Postgres(cfg)
	if err != nil {
		slog.Error("failed to open postgres", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

	store, closeStore, err := bootstrap.TaskStore(ctx, cfg, pg)
	if err != nil {
		slog.Error("failed to open task store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	reg, err := bootstrap.Registry(cfg, m)
	if err != nil {
		slog.Error("failed to load catalog", "error", err)
		os.Exit(1)
	}
	defer reg.Close()
	go reloadOnHangup(ctx, reg, cfg.Catalog.Path)

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.TaskEvents)
	defer producer.Close()
	manager := bootstrap.TaskManager(cfg, store, reg, m, tasks.WithNotifier(producer))

	checker := health.NewChecker()
	checker.Register("postgres", health.FromPing(pg.Ping, true))
	checker.Register("task_store", health.FromPing(store.Ping, true))
	reg.RegisterHealth(checker)

	queryCache := openCache(cfg, m, checker)

	analyticsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
	defer analyticsProducer.Close()
	collector := analytics.NewCollector(analyticsProducer, cfg.Analytics.BufferSize, cfg.Analytics.BatchSize, cfg.Analytics.FlushInterval)
	collector.Start(ctx)
	defer collector.Close()
	slog.Info("analytics collector started", "topic", cfg.Kafka.Topics.AnalyticsEvents)

	deps := builtin.Deps{
		Access:     content.NewPostgresStore(pg.DB),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Metrics:    m,
	}
	svc := searcher.NewService(reg, deps,
		searcher.WithCache(queryCache),
		searcher.WithTracker(collector),
		searcher.WithTracer(tracing.New(cfg.Tracing)),
		searcher.WithLimits(cfg.Search.DefaultLimit, cfg.Search.MaxResults),
		searcher.WithBackendTimeout(cfg.Search.BackendTimeout),
	)
	bootstrap.EvictOnExecuted(manager, queryCache)

	validator, err := openValidator(cfg, pg)
	if err != nil {
		slog.Error("failed to set up api keys", "error", err)
		os.Exit(1)
	}

	var limiter *ratelimit.Limiter
	if validator != nil {
		limiter = ratelimit.New(cfg.Auth.RateLimitWindow, cfg.Auth.DefaultRateLimit)
		defer limiter.Close()
	}
	chain := newRouter(routerDeps{
		cfg:       cfg,
		checker:   checker,
		search:    handler.New(svc),
		tasks:     tasks.NewHandler(manager),
		validator: validator,
		limiter:   limiter,
		metrics:   m,
	})

	if err := bootstrap.Serve(ctx, cfg, "search api", chain); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("search api stopped")
}

type routerDeps struct {
	cfg       *config.Config
	checker   *health.Checker
	search    *handler.Handler
	tasks     *tasks.Handler
	validator apikey.Validator
	limiter   *ratelimit.Limiter
	metrics   *metrics.Metrics
}

// newRouter mounts the public search route and the admin task and cache
// routes. With a validator, admin routes need an admin key and every
// request is rate limited per key.
func newRouter(d routerDeps) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health/live", d.checker.LiveHandler()).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", d.checker.ReadyHandler()).Methods(http.MethodGet)
	d.search.Routes(r)

	admin := r.NewRoute().Subrouter()
	if d.validator != nil {
		admin.Use(auth.RequireAdmin)
	}
	d.search.AdminRoutes(admin)
	d.tasks.Routes(admin)

	if d.metrics != nil {
		r.Use(middleware.Metrics(d.metrics))
	}

	var chain http.Handler = r
	chain = middleware.Timeout(d.cfg.Server.RequestTimeout, "/drain")(chain)
	if d.validator != nil {
		if d.limiter != nil {
			chain = auth.RateLimit(d.limiter)(chain)
		}
		chain = auth.Authenticate(d.validator, auth.Options{
			Required: d.cfg.Auth.Required,
			Exempt:   []string{"/health/live", "/health/ready"},
		})(chain)
	}
	chain = middleware.CORS(middleware.DefaultCORSConfig(d.cfg.Server.CORSOrigins))(chain)
	return middleware.RequestID(chain)
}

// openCache prefers redis and falls back to an in-process LRU so a single
// node still caches when redis is down.
func openCache(cfg *config.Config, m *metrics.Metrics, checker *health.Checker) *cache.QueryCache {
	if cfg.Redis.CacheTTL <= 0 {
		slog.Info("search caching disabled")
		return nil
	}
	queryCache, redisClient, err := bootstrap.QueryCache(cfg, m)
	if err != nil {
		slog.Warn("redis unavailable, using local search cache", "error", err)
		return cache.New(cache.NewLocal(localCacheSize, cfg.Redis.CacheTTL), cfg.Redis.CacheTTL, m)
	}
	checker.Register("redis", health.FromPing(redisClient.Ping, false))
	slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	return queryCache
}

// openValidator returns nil when authentication is disabled.
func openValidator(cfg *config.Config, pg *postgres.Client) (apikey.Validator, error) {
	if !cfg.Auth.Enabled {
		slog.Warn("api key authentication disabled, every search runs as the anonymous account")
		return nil, nil
	}
	if cfg.Auth.Store == "static" {
		return apikey.NewStatic(cfg.Auth.Keys)
	}
	return apikey.NewStore(pg.DB), nil
}

// reloadOnHangup swaps in a freshly loaded catalog on SIGHUP. A catalog
// that fails to load leaves the current one in place.
func reloadOnHangup(ctx context.Context, reg *registry.Registry, path string) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cat, err := catalog.Load(path)
			if err != nil {
				slog.Error("catalog reload failed", "path", path, "error", err)
				continue
			}
			reg.SetCatalog(cat)
			slog.Info("catalog reloaded", "servers", len(cat.Servers), "indexes", len(cat.Indexes))
		}
	}
}
