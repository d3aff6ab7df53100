package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quota-gateway/middleware/ratelimit"
	"quota-gateway/middleware/ratelimit/application"
	"quota-gateway/middleware/ratelimit/domain"
	"quota-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := readConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		logger.Fatal("invalid UPSTREAM_URL", zap.Error(err))
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("proxy error", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var rdb *redis.Client
	if cfg.storage == "redis" || cfg.rateStatsEnabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:         cfg.redisAddr,
			Password:     cfg.redisPassword,
			DB:           cfg.redisDB,
			DialTimeout:  cfg.redisTimeout,
			ReadTimeout:  cfg.redisTimeout,
			WriteTimeout: cfg.redisTimeout,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			// o limiter não pode ser o motivo do serviço não subir: segue em fail-open
			logger.Warn("redis ping failed, rate limiting will fail open until it recovers",
				zap.String("addr", cfg.redisAddr), zap.Error(err))
		}
	}

	store := newCounterStore(ctx, cfg, rdb)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promStats, err := infra.NewPromStatsStore(reg, "quota_gateway")
	if err != nil {
		logger.Fatal("metrics registration failed", zap.Error(err))
	}

	memStats := infra.NewMemoryStatsStore()
	stats := infra.MultiStats{memStats, promStats}
	statsSnapshot := func(context.Context) (any, error) { return memStats.Total(), nil }
	if cfg.rateStatsEnabled {
		redisStats := infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.rateStatsPrefix),
			infra.WithStatsTTL(cfg.rateStatsTTL),
			infra.WithStatsBucket(cfg.rateStatsBucket),
			infra.WithStatsTrackKeys(cfg.rateStatsTrackKeys),
		)
		stats = append(stats, redisStats)
		statsSnapshot = func(ctx context.Context) (any, error) { return redisStats.Total(ctx) }
	}

	violations := infra.NewViolationRing(cfg.violationsCap)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	if cfg.metricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	if cfg.adminEnabled {
		r.With(bearerAuth(cfg.adminToken)).Mount("/admin/ratelimit", ratelimit.AdminRouter(ratelimit.AdminOptions{
			Store:      store,
			Namespace:  gatewayLimiter,
			Violations: violations,
			Stats:      statsSnapshot,
			Logger:     logger,
		}))
	}

	r.Group(func(r chi.Router) {
		if cfg.rateEnabled {
			r.Use(ratelimit.MustNew(ratelimit.Options{
				Name:               gatewayLimiter,
				Store:              store,
				MaxRequests:        cfg.rateMaxRequests,
				Window:             cfg.rateWindow,
				TierLimits:         cfg.tierLimits,
				KeyHeader:          cfg.rateKeyHeader,
				TrustXForwardedFor: cfg.trustXFF,
				TierHeader:         cfg.tierHeader,
				Violations:         violations,
				Stats:              stats,
				Logger:             logger,
			}))
		}
		r.Handle("/*", proxy)
	})

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway listening",
		zap.String("addr", cfg.listenAddr),
		zap.String("upstream", target.String()))
	logger.Info("rate limit",
		zap.Bool("enabled", cfg.rateEnabled),
		zap.String("storage", cfg.storage),
		zap.String("default", domain.Policy{Limit: cfg.rateMaxRequests, Window: cfg.rateWindow}.String()),
		zap.Int("tiers", len(cfg.tierLimits)),
		zap.String("keyHeader", cfg.rateKeyHeader),
		zap.Bool("trustXFF", cfg.trustXFF),
		zap.String("tierHeader", cfg.tierHeader))
	logger.Info("rate stats",
		zap.Bool("redis", cfg.rateStatsEnabled),
		zap.String("bucket", cfg.rateStatsBucket),
		zap.Duration("ttl", cfg.rateStatsTTL),
		zap.Bool("trackKeys", cfg.rateStatsTrackKeys))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}

// gatewayLimiter é o namespace fixo dos contadores do proxy; réplicas do
// gateway com o mesmo Redis precisam concordar nele.
const gatewayLimiter = "gw"

func newCounterStore(ctx context.Context, cfg config, rdb *redis.Client) domain.CounterStore {
	if cfg.storage == "redis" {
		var pool domain.SlotPool
		if cfg.redisMaxInflight > 0 {
			pool = infra.NewChanPool(cfg.redisMaxInflight)
		}
		return application.BoundedStore{
			Store:          infra.NewRedisStore(rdb, infra.WithKeyPrefix(cfg.redisKeyPrefix)),
			Pool:           pool,
			AcquireTimeout: cfg.redisAcquireTimeout,
			CallTimeout:    cfg.redisTimeout,
		}
	}

	mem := infra.NewMemoryStore(infra.WithCleanupEvery(cfg.cleanupEvery))
	mem.StartJanitor(ctx)
	return mem
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	return zc.Build()
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	want := []byte("Bearer " + token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), want) != 1 {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
