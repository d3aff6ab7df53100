package application

import (
	"context"
	"fmt"
	"time"

	"quota-gateway/middleware/ratelimit/domain"
)

// BoundedStore limita o tempo e a concorrência das chamadas a um CounterStore
// remoto, sem saber nada sobre HTTP.
//
// Sem vaga no Pool dentro de AcquireTimeout, ou estouro de CallTimeout, a
// chamada falha com domain.ErrStorageUnavailable e o enforcer faz fail-open
// em vez de segurar a requisição.
type BoundedStore struct {
	Store          domain.CounterStore
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
	CallTimeout    time.Duration
}

var _ domain.CounterStore = BoundedStore{}

func (b BoundedStore) Increment(ctx context.Context, key string, window time.Duration) (domain.Counter, error) {
	var out domain.Counter
	err := b.do(ctx, "increment", func(ctx context.Context) error {
		c, err := b.Store.Increment(ctx, key, window)
		out = c
		return err
	})
	return out, err
}

func (b BoundedStore) Get(ctx context.Context, key string) (domain.Counter, bool, error) {
	var (
		out domain.Counter
		ok  bool
	)
	err := b.do(ctx, "get", func(ctx context.Context) error {
		c, found, err := b.Store.Get(ctx, key)
		out, ok = c, found
		return err
	})
	return out, ok, err
}

func (b BoundedStore) Reset(ctx context.Context, key string) error {
	return b.do(ctx, "reset", func(ctx context.Context) error {
		return b.Store.Reset(ctx, key)
	})
}

func (b BoundedStore) Cleanup(ctx context.Context) error {
	return b.do(ctx, "cleanup", b.Store.Cleanup)
}

// acquire tenta adquirir uma vaga.
// - Se `AcquireTimeout <= 0`, espera até ctx cancelar.
// - Se `AcquireTimeout > 0`, espera até o timeout.
func (b BoundedStore) acquire(ctx context.Context) (func(), bool) {
	if b.Pool == nil {
		return func() {}, true
	}
	if b.AcquireTimeout <= 0 {
		return b.Pool.Acquire(ctx)
	}

	acqCtx, cancel := context.WithTimeout(ctx, b.AcquireTimeout)
	defer cancel()
	return b.Pool.Acquire(acqCtx)
}

func (b BoundedStore) do(ctx context.Context, op string, fn func(context.Context) error) error {
	release, ok := b.acquire(ctx)
	if !ok {
		return fmt.Errorf("%w: %s: backend saturated", domain.ErrStorageUnavailable, op)
	}
	defer release()

	if b.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.CallTimeout)
		defer cancel()
	}

	err := fn(ctx)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !domain.IsStorageUnavailable(err) {
		return fmt.Errorf("%w: %s: %w", domain.ErrStorageUnavailable, op, ctxErr)
	}
	return err
}
