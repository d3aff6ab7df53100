package application

import (
	"context"
	"testing"
	"time"

	"quota-gateway/middleware/ratelimit/domain"
	"quota-gateway/middleware/ratelimit/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingPool struct{}

func (p *blockingPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case <-time.After(5 * time.Second):
		// não deve chegar aqui nos testes
		return nil, false
	}
}

// slowStore só responde quando o ctx é cancelado.
type slowStore struct{ failingStore }

func (slowStore) Increment(ctx context.Context, _ string, _ time.Duration) (domain.Counter, error) {
	<-ctx.Done()
	return domain.Counter{}, ctx.Err()
}

func TestBoundedStore_DelegatesWithoutPool(t *testing.T) {
	b := BoundedStore{Store: infra.NewMemoryStore(infra.WithCleanupEvery(0))}
	ctx := context.Background()

	c, err := b.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Count)

	got, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, c, got)

	require.NoError(t, b.Reset(ctx, "k"))
	require.NoError(t, b.Cleanup(ctx))
	_, ok, _ = b.Get(ctx, "k")
	assert.False(t, ok)
}

func TestBoundedStore_SaturatedPoolIsStorageUnavailable(t *testing.T) {
	b := BoundedStore{
		Store:          infra.NewMemoryStore(infra.WithCleanupEvery(0)),
		Pool:           &blockingPool{},
		AcquireTimeout: 10 * time.Millisecond,
	}

	_, err := b.Increment(context.Background(), "k", time.Minute)
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestBoundedStore_CallTimeoutIsStorageUnavailable(t *testing.T) {
	b := BoundedStore{
		Store:       slowStore{},
		Pool:        infra.NewChanPool(1),
		CallTimeout: 10 * time.Millisecond,
	}

	start := time.Now()
	_, err := b.Increment(context.Background(), "k", time.Minute)
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBoundedStore_ReleasesSlotAfterCall(t *testing.T) {
	pool := infra.NewChanPool(1)
	b := BoundedStore{
		Store:          infra.NewMemoryStore(infra.WithCleanupEvery(0)),
		Pool:           pool,
		AcquireTimeout: 10 * time.Millisecond,
	}

	for i := 0; i < 3; i++ {
		_, err := b.Increment(context.Background(), "k", time.Minute)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, pool.InUse())
}

func TestService_FailsOpenWhenBackendTimesOut(t *testing.T) {
	svc, err := NewService(Config{
		Store:   BoundedStore{Store: slowStore{}, CallTimeout: 10 * time.Millisecond},
		Default: domain.Policy{Limit: 1, Window: time.Minute},
	})
	require.NoError(t, err)

	dec := svc.Decide(context.Background(), req("k", domain.TierNone))
	assert.Equal(t, domain.OutcomeFailOpen, dec.Outcome)
	assert.ErrorIs(t, dec.Err, domain.ErrStorageUnavailable)
}
