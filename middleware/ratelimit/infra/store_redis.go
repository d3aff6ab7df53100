package infra

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"quota-gateway/middleware/ratelimit/domain"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// incrementScript faz create-or-increment + expiração num único passo atômico.
//
// A chave é um hash {count, reset, window}; reset (epoch ms) é gravado só no
// primeiro incremento, então todas as chamadas da mesma janela devolvem o
// mesmo valor. Se a chave perdeu o TTL (ex.: PERSIST manual) ele é restaurado.
var incrementScript = redis.NewScript(`
local count = redis.call('HINCRBY', KEYS[1], 'count', 1)
local reset = tonumber(redis.call('HGET', KEYS[1], 'reset'))
if count == 1 or reset == nil then
  reset = tonumber(ARGV[2]) + tonumber(ARGV[1])
  redis.call('HSET', KEYS[1], 'reset', reset, 'window', ARGV[1])
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
elseif redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {count, reset}
`)

// RedisStore é um CounterStore de janela fixa compartilhado entre instâncias.
//
// A linearizabilidade dos incrementos é delegada ao Redis (script Lua).
// Qualquer erro do cliente é embrulhado em domain.ErrStorageUnavailable.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	clock  clockwork.Clock
	owned  bool
}

var _ domain.CounterStore = (*RedisStore)(nil)

type RedisStoreOption func(*RedisStore)

// WithKeyPrefix define o namespace das chaves (padrão "ratelimit:fw:").
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		prefix = strings.TrimSpace(prefix)
		if prefix != "" && !strings.HasSuffix(prefix, ":") {
			prefix += ":"
		}
		s.prefix = prefix
	}
}

func WithRedisClock(c clockwork.Clock) RedisStoreOption {
	return func(s *RedisStore) { s.clock = c }
}

// WithOwnedClient faz Close fechar também o cliente Redis.
func WithOwnedClient() RedisStoreOption {
	return func(s *RedisStore) { s.owned = true }
}

func NewRedisStore(rdb redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "ratelimit:fw:",
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Key(key string) string { return s.prefix + key }

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (domain.Counter, error) {
	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1
	}
	nowMs := s.clock.Now().UnixMilli()

	res, err := incrementScript.Run(ctx, s.rdb, []string{s.Key(key)}, windowMs, nowMs).Int64Slice()
	if err != nil {
		return domain.Counter{}, unavailable("increment", key, err)
	}
	if len(res) != 2 {
		return domain.Counter{}, unavailable("increment", key, fmt.Errorf("unexpected script reply %v", res))
	}

	resetAt := time.UnixMilli(res[1])
	return domain.Counter{
		Count:       res[0],
		WindowStart: resetAt.Add(-time.Duration(windowMs) * time.Millisecond),
		ResetAt:     resetAt,
	}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (domain.Counter, bool, error) {
	vals, err := s.rdb.HMGet(ctx, s.Key(key), "count", "reset", "window").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Counter{}, false, nil
		}
		return domain.Counter{}, false, unavailable("get", key, err)
	}
	if len(vals) != 3 || vals[0] == nil || vals[1] == nil {
		return domain.Counter{}, false, nil
	}

	count, err := parseRedisInt(vals[0])
	if err != nil {
		return domain.Counter{}, false, unavailable("get", key, err)
	}
	resetMs, err := parseRedisInt(vals[1])
	if err != nil {
		return domain.Counter{}, false, unavailable("get", key, err)
	}
	var windowMs int64
	if vals[2] != nil {
		if windowMs, err = parseRedisInt(vals[2]); err != nil {
			return domain.Counter{}, false, unavailable("get", key, err)
		}
	}

	resetAt := time.UnixMilli(resetMs)
	if !s.clock.Now().Before(resetAt) {
		return domain.Counter{}, false, nil
	}
	return domain.Counter{
		Count:       count,
		WindowStart: resetAt.Add(-time.Duration(windowMs) * time.Millisecond),
		ResetAt:     resetAt,
	}, true, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.Key(key)).Err(); err != nil {
		return unavailable("reset", key, err)
	}
	return nil
}

// Cleanup não faz nada: a expiração é nativa do Redis (PEXPIRE).
func (s *RedisStore) Cleanup(context.Context) error { return nil }

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %w", domain.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.rdb.Close()
}

func unavailable(op, key string, err error) error {
	return fmt.Errorf("%w: %s %q: %w", domain.ErrStorageUnavailable, op, key, err)
}

func parseRedisInt(v any) (int64, error) {
	switch t := v.(type) {
	case string:
		return strconv.ParseInt(t, 10, 64)
	case int64:
		return t, nil
	default:
		return 0, fmt.Errorf("unexpected redis value %T", v)
	}
}
