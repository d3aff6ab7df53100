package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quota-gateway/middleware/ratelimit"
	"quota-gateway/middleware/ratelimit/domain"
	"quota-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func main() {
	// Exemplo: injetando o middleware diretamente no seu webserver (sem proxy),
	// com contadores em memória e limites por tier.
	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	store := infra.NewMemoryStore(infra.WithCleanupEvery(30 * time.Second))
	violations := infra.NewViolationRing(100)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	store.StartJanitor(ctx)

	limiter := ratelimit.MustNew(ratelimit.Options{
		Name:        "api",
		Store:       store,
		MaxRequests: 5,
		Window:      time.Minute,
		TierLimits: map[domain.Tier]domain.Policy{
			domain.TierFree:       {Limit: 10, Window: time.Minute},
			domain.TierPro:        {Limit: 100, Window: time.Minute},
			domain.TierEnterprise: domain.UnlimitedPolicy(),
		},
		KeyHeader:          "X-Api-Key", // ou vazio para usar IP
		TrustXForwardedFor: true,
		TierHeader:         "X-Subscription-Tier",
		Violations:         violations,
		Logger:             logger,
	})

	r := chi.NewRouter()
	r.Mount("/debug/ratelimit", ratelimit.AdminRouter(ratelimit.AdminOptions{
		Store:      store,
		Namespace:  "api",
		Violations: violations,
		Logger:     logger,
	}))
	r.Group(func(r chi.Router) {
		r.Use(limiter)
		r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok\n"))
		})
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}
