package infra

import (
	"context"

	"quota-gateway/middleware/ratelimit/domain"
)

// MultiStats repassa o evento para vários StatsStore, devolvendo o primeiro erro.
type MultiStats []domain.StatsStore

func (m MultiStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
