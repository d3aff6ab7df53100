package application

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"quota-gateway/middleware/ratelimit/domain"
	"quota-gateway/middleware/ratelimit/infra"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// countingStore embrulha um store real e conta as chamadas a Increment.
type countingStore struct {
	domain.CounterStore
	increments int
}

func (c *countingStore) Increment(ctx context.Context, key string, window time.Duration) (domain.Counter, error) {
	c.increments++
	return c.CounterStore.Increment(ctx, key, window)
}

type failingStore struct{ err error }

func (f failingStore) Increment(context.Context, string, time.Duration) (domain.Counter, error) {
	return domain.Counter{}, f.err
}
func (f failingStore) Get(context.Context, string) (domain.Counter, bool, error) {
	return domain.Counter{}, false, f.err
}
func (f failingStore) Reset(context.Context, string) error { return f.err }
func (f failingStore) Cleanup(context.Context) error       { return f.err }

type fixture struct {
	svc        *Service
	clock      clockwork.FakeClock
	store      *countingStore
	violations *infra.ViolationRing
	stats      *infra.MemoryStatsStore
}

func newFixture(t *testing.T, def domain.Policy, tiers map[domain.Tier]domain.Policy) fixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	table, err := domain.NewTierTable(tiers)
	require.NoError(t, err)

	f := fixture{
		clock:      clock,
		store:      &countingStore{CounterStore: infra.NewMemoryStore(infra.WithClock(clock), infra.WithCleanupEvery(0))},
		violations: infra.NewViolationRing(10),
		stats:      infra.NewMemoryStatsStore(),
	}
	f.svc, err = NewService(Config{
		Store:      f.store,
		Default:    def,
		Tiers:      table,
		Violations: f.violations,
		Stats:      f.stats,
		Clock:      clock,
	})
	require.NoError(t, err)
	return f
}

func req(key string, tier domain.Tier) domain.Request {
	return domain.Request{Key: domain.Key(key), Tier: tier, Method: "GET", Path: "/api/repos"}
}

func TestNewService_FailsFastOnMisconfiguration(t *testing.T) {
	_, err := NewService(Config{Default: domain.Policy{Limit: 1, Window: time.Second}})
	assert.ErrorIs(t, err, domain.ErrMissingStore)

	store := infra.NewMemoryStore(infra.WithCleanupEvery(0))

	_, err = NewService(Config{Store: store})
	assert.ErrorIs(t, err, domain.ErrInvalidPolicy)

	_, err = NewService(Config{Store: store, Default: domain.Policy{Limit: 10}})
	assert.ErrorIs(t, err, domain.ErrInvalidPolicy)

	_, err = NewService(Config{Store: store, Default: domain.UnlimitedPolicy()})
	assert.ErrorIs(t, err, domain.ErrInvalidPolicy)
}

func TestService_AllowDenyBoundary(t *testing.T) {
	const limit = 5
	f := newFixture(t, domain.Policy{Limit: limit, Window: time.Minute}, nil)
	ctx := context.Background()

	for i := 1; i <= limit; i++ {
		dec := f.svc.Decide(ctx, req("10.0.0.1", domain.TierNone))
		require.Equal(t, domain.OutcomeAllowed, dec.Outcome, "request %d", i)
		assert.Equal(t, int64(limit-i), dec.Quota.Remaining)
	}

	dec := f.svc.Decide(ctx, req("10.0.0.1", domain.TierNone))
	assert.Equal(t, domain.OutcomeDenied, dec.Outcome)
	assert.False(t, dec.Allowed())
	assert.Equal(t, int64(0), dec.Quota.Remaining)

	// outra chave tem janela própria
	dec = f.svc.Decide(ctx, req("10.0.0.2", domain.TierNone))
	assert.Equal(t, domain.OutcomeAllowed, dec.Outcome)
}

func TestService_ScenarioA_RemainingAndRetryAfter(t *testing.T) {
	f := newFixture(t, domain.Policy{Limit: 2, Window: 60 * time.Second}, nil)
	ctx := context.Background()

	d1 := f.svc.Decide(ctx, req("k", domain.TierNone))
	require.True(t, d1.Allowed())
	assert.Equal(t, int64(1), d1.Quota.Remaining)
	assert.Equal(t, f.clock.Now().Add(time.Minute), d1.Quota.ResetAt)

	d2 := f.svc.Decide(ctx, req("k", domain.TierNone))
	require.True(t, d2.Allowed())
	assert.Equal(t, int64(0), d2.Quota.Remaining)

	d3 := f.svc.Decide(ctx, req("k", domain.TierNone))
	require.False(t, d3.Allowed())
	assert.Equal(t, 60*time.Second, d3.Quota.RetryAfter)
	assert.Equal(t, d1.Quota.ResetAt, d3.Quota.ResetAt)
}

func TestService_TierOverride(t *testing.T) {
	f := newFixture(t, domain.Policy{Limit: 10, Window: time.Minute}, map[domain.Tier]domain.Policy{
		domain.TierPro: {Limit: 100, Window: time.Minute},
	})
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		dec := f.svc.Decide(ctx, req("pro-user", domain.TierPro))
		require.True(t, dec.Allowed(), "pro request %d", i+1)
		assert.Equal(t, int64(100), dec.Quota.Limit)
	}

	for i := 0; i < 10; i++ {
		require.True(t, f.svc.Decide(ctx, req("anon", domain.TierNone)).Allowed())
	}
	assert.False(t, f.svc.Decide(ctx, req("anon", domain.TierNone)).Allowed())
}

func TestService_UnknownTierUsesDefault(t *testing.T) {
	f := newFixture(t, domain.Policy{Limit: 1, Window: time.Minute}, map[domain.Tier]domain.Policy{
		domain.TierPro: {Limit: 100, Window: time.Minute},
	})
	ctx := context.Background()

	dec := f.svc.Decide(ctx, req("k", domain.TierFree))
	assert.Equal(t, int64(1), dec.Quota.Limit)
	assert.Equal(t, domain.OutcomeDenied, f.svc.Decide(ctx, req("k", domain.TierFree)).Outcome)
}

func TestService_ScenarioB_EnterpriseUnlimitedBypassesStore(t *testing.T) {
	f := newFixture(t, domain.Policy{Limit: 10, Window: time.Minute}, map[domain.Tier]domain.Policy{
		domain.TierFree:       {Limit: 10, Window: time.Minute},
		domain.TierEnterprise: domain.UnlimitedPolicy(),
	})
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		dec := f.svc.Decide(ctx, req("big-co", domain.TierEnterprise))
		require.Equal(t, domain.OutcomeUnlimited, dec.Outcome)
		assert.False(t, dec.HasQuota())
	}
	assert.Equal(t, 0, f.store.increments)
	assert.Equal(t, int64(20), f.stats.Total().Unlimited)
}

func TestService_ScenarioC_WindowResetBetweenRequests(t *testing.T) {
	f := newFixture(t, domain.Policy{Limit: 1, Window: 100 * time.Millisecond}, nil)
	ctx := context.Background()

	d1 := f.svc.Decide(ctx, req("k", domain.TierNone))
	f.clock.Advance(150 * time.Millisecond)
	d2 := f.svc.Decide(ctx, req("k", domain.TierNone))

	assert.Equal(t, domain.OutcomeAllowed, d1.Outcome)
	assert.Equal(t, domain.OutcomeAllowed, d2.Outcome)
	assert.Equal(t, int64(0), d2.Quota.Remaining)
	assert.True(t, d2.Quota.ResetAt.After(d1.Quota.ResetAt))
}

func TestService_RecordsOneViolationPerDenial(t *testing.T) {
	f := newFixture(t, domain.Policy{Limit: 1, Window: 60 * time.Second}, nil)
	ctx := context.Background()

	allowed := domain.Request{Key: "1.2.3.4", Method: "POST", Path: "/api/bookmarks"}
	require.True(t, f.svc.Decide(ctx, allowed).Allowed())
	require.Empty(t, f.violations.Recent(0))

	denied := domain.Request{Key: "1.2.3.4", Method: "DELETE", Path: "/api/tags/7"}
	require.False(t, f.svc.Decide(ctx, denied).Allowed())

	got := f.violations.Recent(0)
	require.Len(t, got, 1)
	assert.Equal(t, domain.Key("1.2.3.4"), got[0].Key)
	assert.Equal(t, "DELETE", got[0].Method)
	assert.Equal(t, "/api/tags/7", got[0].Path)
	assert.Equal(t, int64(1), got[0].Limit)
	assert.Equal(t, 60*time.Second, got[0].Window)
	assert.Equal(t, int64(2), got[0].Count)
}

func TestService_FailsOpenAndLogsOncePerRequest(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	storeErr := fmt.Errorf("%w: dial tcp: connection refused", domain.ErrStorageUnavailable)
	violations := infra.NewViolationRing(10)

	svc, err := NewService(Config{
		Store:      failingStore{err: storeErr},
		Default:    domain.Policy{Limit: 1, Window: time.Minute},
		Violations: violations,
		Logger:     zap.New(core),
	})
	require.NoError(t, err)

	const n = 100
	for i := 0; i < n; i++ {
		dec := svc.Decide(context.Background(), req("k", domain.TierNone))
		require.Equal(t, domain.OutcomeFailOpen, dec.Outcome)
		require.True(t, dec.Allowed())
		assert.False(t, dec.HasQuota())
		assert.True(t, errors.Is(dec.Err, domain.ErrStorageUnavailable))
	}

	assert.Equal(t, n, logs.FilterMessage("rate limit storage failed, allowing request").Len())
	assert.Equal(t, n, logs.Len())
	assert.Empty(t, violations.Recent(0))
}

type brokenStats struct{}

func (brokenStats) Record(context.Context, domain.StatsEvent) error { return errors.New("stats down") }

func TestService_StatsFailureIsBestEffort(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	svc, err := NewService(Config{
		Store:   infra.NewMemoryStore(infra.WithCleanupEvery(0)),
		Default: domain.Policy{Limit: 100, Window: time.Minute},
		Stats:   brokenStats{},
		Logger:  zap.New(core),
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.True(t, svc.Decide(context.Background(), req("k", domain.TierNone)).Allowed())
	}
	// o log de falha de stats é amostrado
	assert.Equal(t, 1, logs.FilterMessage("rate limit stats record failed").Len())
}

func TestService_NamespaceScopesStoreKeys(t *testing.T) {
	store := infra.NewMemoryStore(infra.WithCleanupEvery(0))
	newSvc := func(ns string, p domain.Policy) *Service {
		svc, err := NewService(Config{Store: store, Namespace: ns, Default: p})
		require.NoError(t, err)
		return svc
	}
	search := newSvc("search", domain.Policy{Limit: 100, Window: time.Hour})
	login := newSvc("login", domain.Policy{Limit: 1, Window: time.Minute})
	ctx := context.Background()

	require.True(t, search.Decide(ctx, req("1.2.3.4", domain.TierNone)).Allowed())

	dec := login.Decide(ctx, req("1.2.3.4", domain.TierNone))
	require.Equal(t, domain.OutcomeAllowed, dec.Outcome)
	assert.Equal(t, int64(0), dec.Quota.Remaining)

	assert.Equal(t, "login:1.2.3.4", login.StoreKey("1.2.3.4"))
	c, ok, err := store.Get(ctx, "search:1.2.3.4")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), c.Count)
	assert.Equal(t, time.Hour, c.ResetAt.Sub(c.WindowStart))

	_, ok, err = store.Get(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok, "a bare caller key must never reach the store")

	assert.False(t, login.Unlimited(domain.TierNone))
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, time.Second, RetryAfter(0))
	assert.Equal(t, time.Second, RetryAfter(-time.Second))
	assert.Equal(t, time.Second, RetryAfter(300*time.Millisecond))
	assert.Equal(t, 2*time.Second, RetryAfter(1001*time.Millisecond))
	assert.Equal(t, 60*time.Second, RetryAfter(60*time.Second))
	assert.Equal(t, 60*time.Second, RetryAfter(59500*time.Millisecond))
}
