package infra

import (
	"context"
	"sync"
	"time"

	"quota-gateway/middleware/ratelimit/domain"

	"github.com/jonboulle/clockwork"
)

// MemoryStore é um CounterStore de janela fixa em memória do processo,
// com limpeza periódica de janelas expiradas.
//
// A contagem é por processo: com N instâncias atrás de um balanceador o
// limite efetivo agregado vira N*limit. Para limite global use RedisStore.
type MemoryStore struct {
	mu           sync.Mutex
	entries      map[string]*memoryEntry
	clock        clockwork.Clock
	cleanupEvery time.Duration
}

type memoryEntry struct {
	count       int64
	windowStart time.Time
	resetAt     time.Time
}

var _ domain.CounterStore = (*MemoryStore)(nil)

type StoreOption func(*MemoryStore)

func WithClock(c clockwork.Clock) StoreOption {
	return func(s *MemoryStore) { s.clock = c }
}

func WithCleanupEvery(d time.Duration) StoreOption {
	return func(s *MemoryStore) { s.cleanupEvery = d }
}

func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	s := &MemoryStore{
		entries:      make(map[string]*memoryEntry),
		clock:        clockwork.NewRealClock(),
		cleanupEvery: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) CleanupEvery() time.Duration { return s.cleanupEvery }

func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (domain.Counter, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok || !now.Before(ent.resetAt) {
		ent = &memoryEntry{
			count:       1,
			windowStart: now,
			resetAt:     now.Add(window),
		}
		s.entries[key] = ent
		return ent.counter(), nil
	}

	ent.count++
	return ent.counter(), nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (domain.Counter, bool, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok || !now.Before(ent.resetAt) {
		return domain.Counter{}, false, nil
	}
	return ent.counter(), true, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Cleanup(_ context.Context) error {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if !now.Before(ent.resetAt) {
			delete(s.entries, k)
		}
	}
	return nil
}

// Len retorna quantas chaves estão no mapa, incluindo expiradas ainda não limpas.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// StartJanitor inicia uma goroutine que remove janelas expiradas periodicamente.
// Pare cancelando o contexto.
func (s *MemoryStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := s.clock.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.Chan():
				_ = s.Cleanup(ctx)
			}
		}
	}()
}

func (e *memoryEntry) counter() domain.Counter {
	return domain.Counter{
		Count:       e.count,
		WindowStart: e.windowStart,
		ResetAt:     e.resetAt,
	}
}
