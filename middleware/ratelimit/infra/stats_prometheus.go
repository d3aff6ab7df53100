package infra

import (
	"context"
	"net/http"

	"quota-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// PromStatsStore expõe as decisões como métricas Prometheus.
//
// Key e Path não viram labels (cardinalidade); só tier, outcome e method.
type PromStatsStore struct {
	decisions  *prometheus.CounterVec
	violations *prometheus.CounterVec
}

func NewPromStatsStore(reg prometheus.Registerer, namespace string) (*PromStatsStore, error) {
	if namespace == "" {
		namespace = "quota_gateway"
	}
	s := &PromStatsStore{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratelimit_decisions_total",
				Help:      "Total number of rate limit decisions by tier and outcome",
			},
			[]string{"tier", "outcome", "method"},
		),
		violations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratelimit_violations_total",
				Help:      "Total number of requests denied for exceeding quota",
			},
			[]string{"tier"},
		),
	}
	for _, c := range []prometheus.Collector{s.decisions, s.violations} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *PromStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	tier := string(ev.Tier)
	if tier == "" {
		tier = "none"
	}
	s.decisions.WithLabelValues(tier, ev.Outcome.String(), methodLabel(ev.Method)).Inc()
	if ev.Outcome == domain.OutcomeDenied {
		s.violations.WithLabelValues(tier).Inc()
	}
	return nil
}

// methodLabel limita o label aos métodos padrão; o resto vira "other" para o
// cliente não criar séries à vontade.
func methodLabel(m string) string {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodConnect, http.MethodOptions, http.MethodTrace:
		return m
	default:
		return "other"
	}
}
