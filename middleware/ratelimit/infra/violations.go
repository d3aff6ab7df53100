package infra

import (
	"sync"

	"quota-gateway/middleware/ratelimit/domain"

	"github.com/google/uuid"
)

const DefaultViolationCapacity = 1000

// ViolationRing é um buffer circular de violações: ao atingir a capacidade a
// mais antiga é descartada.
type ViolationRing struct {
	mu    sync.Mutex
	buf   []domain.Violation
	start int
	size  int
}

var _ domain.ViolationLog = (*ViolationRing)(nil)

func NewViolationRing(capacity int) *ViolationRing {
	if capacity <= 0 {
		capacity = DefaultViolationCapacity
	}
	return &ViolationRing{buf: make([]domain.Violation, capacity)}
}

func (r *ViolationRing) Record(v domain.Violation) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = v
		r.size++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ViolationRing) Recent(n int) []domain.Violation {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]domain.Violation, n)
	first := r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.start+first+i)%len(r.buf)]
	}
	return out
}

func (r *ViolationRing) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.buf)
	r.start = 0
	r.size = 0
}

func (r *ViolationRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

func (r *ViolationRing) Cap() int { return len(r.buf) }
