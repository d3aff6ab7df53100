package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quota-gateway/middleware/ratelimit/domain"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config agrega as dependências do enforcer.
type Config struct {
	Store domain.CounterStore
	// Namespace isola os contadores deste enforcer dos de outros que
	// compartilham o mesmo Store.
	Namespace string
	Default   domain.Policy
	// Tiers é opcional; vazia faz todo mundo cair em Default.
	Tiers domain.TierTable

	Violations domain.ViolationLog
	Stats      domain.StatsStore
	Logger     *zap.Logger
	Clock      clockwork.Clock
}

// Service concentra a regra de aplicação do rate limit.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type Service struct {
	store      domain.CounterStore
	namespace  string
	resolver   Resolver
	violations domain.ViolationLog
	stats      domain.StatsStore
	logger     *zap.Logger
	clock      clockwork.Clock

	statsErrLog rate.Sometimes
}

// NewService valida a configuração e falha cedo: erro de configuração é bug
// de programação, não condição de runtime.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, domain.ErrMissingStore
	}
	if cfg.Default.Unlimited {
		return nil, fmt.Errorf("%w: default policy cannot be unlimited", domain.ErrInvalidPolicy)
	}
	if err := cfg.Default.Validate(); err != nil {
		return nil, fmt.Errorf("default policy: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	return &Service{
		store:       cfg.Store,
		namespace:   cfg.Namespace,
		resolver:    Resolver{Default: cfg.Default, Tiers: cfg.Tiers},
		violations:  cfg.Violations,
		stats:       cfg.Stats,
		logger:      cfg.Logger,
		clock:       cfg.Clock,
		statsErrLog: rate.Sometimes{First: 1, Interval: time.Minute},
	}, nil
}

func (s *Service) Resolver() Resolver { return s.resolver }

// Unlimited diz se o tier pula a contagem; permite ao chamador evitar derivar
// a chave nesse caso.
func (s *Service) Unlimited(tier domain.Tier) bool {
	return s.resolver.Resolve(tier).Unlimited
}

func (s *Service) Namespace() string { return s.namespace }

// StoreKey é a chave efetivamente usada no CounterStore.
func (s *Service) StoreKey(k domain.Key) string { return k.Scoped(s.namespace) }

// Decide resolve a policy, conta a requisição e decide.
//
// Key pode vir vazia quando o tier é unlimited (ver Unlimited).
//
// Falha do storage nunca vira erro para o chamador: a requisição é liberada
// (OutcomeFailOpen), sem metadados de quota.
func (s *Service) Decide(ctx context.Context, req domain.Request) domain.Decision {
	policy := s.resolver.Resolve(req.Tier)
	dec := domain.Decision{Key: req.Key, Tier: req.Tier, Policy: policy}

	if policy.Unlimited {
		dec.Outcome = domain.OutcomeUnlimited
		s.record(ctx, req, dec)
		return dec
	}

	c, err := s.store.Increment(ctx, s.StoreKey(req.Key), policy.Window)
	if err != nil {
		s.logger.Warn("rate limit storage failed, allowing request",
			zap.String("key", string(req.Key)),
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.Bool("storage_unavailable", domain.IsStorageUnavailable(err)),
			zap.Bool("timeout", errors.Is(err, context.DeadlineExceeded)),
			zap.Error(err),
		)
		dec.Outcome = domain.OutcomeFailOpen
		dec.Err = err
		s.record(ctx, req, dec)
		return dec
	}

	dec.Quota = domain.Quota{
		Limit:     policy.Limit,
		Remaining: max(policy.Limit-c.Count, 0),
		Window:    policy.Window,
		ResetAt:   c.ResetAt,
	}

	if c.Count <= policy.Limit {
		dec.Outcome = domain.OutcomeAllowed
		s.record(ctx, req, dec)
		return dec
	}

	now := s.clock.Now()
	dec.Outcome = domain.OutcomeDenied
	dec.Quota.Remaining = 0
	dec.Quota.RetryAfter = RetryAfter(c.ResetAt.Sub(now))

	if s.violations != nil {
		s.violations.Record(domain.Violation{
			Key:    req.Key,
			Tier:   req.Tier,
			Method: req.Method,
			Path:   req.Path,
			At:     now,
			Limit:  policy.Limit,
			Window: policy.Window,
			Count:  c.Count,
		})
	}
	s.record(ctx, req, dec)
	return dec
}

// RetryAfter arredonda para cima em segundos inteiros, com mínimo de 1s
// (um Retry-After 0 faria o cliente tentar de novo imediatamente).
func RetryAfter(untilReset time.Duration) time.Duration {
	if untilReset <= time.Second {
		return time.Second
	}
	secs := untilReset / time.Second
	if untilReset%time.Second != 0 {
		secs++
	}
	return secs * time.Second
}

func (s *Service) record(ctx context.Context, req domain.Request, dec domain.Decision) {
	if s.stats == nil {
		return
	}
	err := s.stats.Record(ctx, domain.StatsEvent{
		Key:     req.Key,
		Tier:    req.Tier,
		Outcome: dec.Outcome,
		Method:  req.Method,
		Path:    req.Path,
		At:      s.clock.Now(),
	})
	if err != nil {
		s.statsErrLog.Do(func() {
			s.logger.Warn("rate limit stats record failed", zap.Error(err))
		})
	}
}
