package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"quota-gateway/middleware/ratelimit/domain"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AdminOptions configura as rotas administrativas do rate limit.
// Campos nil desabilitam as rotas correspondentes.
type AdminOptions struct {
	Store domain.CounterStore
	// Namespace é o Options.Name do limiter cujos contadores serão
	// consultados; o ?key= recebido é a chave do chamador, sem namespace.
	Namespace  string
	Violations domain.ViolationLog
	// Stats devolve um snapshot serializável em JSON das estatísticas.
	Stats  func(ctx context.Context) (any, error)
	Logger *zap.Logger
}

type violationView struct {
	ID       string    `json:"id"`
	Key      string    `json:"key"`
	Tier     string    `json:"tier,omitempty"`
	Method   string    `json:"method"`
	Path     string    `json:"path"`
	At       time.Time `json:"at"`
	Limit    int64     `json:"limit"`
	WindowMs int64     `json:"windowMs"`
	Count    int64     `json:"count"`
}

type counterView struct {
	Key         string    `json:"key"`
	Count       int64     `json:"count"`
	WindowStart time.Time `json:"windowStart"`
	ResetAt     time.Time `json:"resetAt"`
}

// AdminRouter expõe violações, contadores e estatísticas para diagnóstico.
// Deve ser montado atrás da autenticação administrativa.
func AdminRouter(opts AdminOptions) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	a := admin{opts}

	r := chi.NewRouter()
	if opts.Violations != nil {
		r.Get("/violations", a.listViolations)
		r.Delete("/violations", a.clearViolations)
	}
	if opts.Store != nil {
		// chave por query: chaves de RouteKeyFunc contêm "/" e espaço
		r.Get("/counters", a.getCounter)
		r.Delete("/counters", a.resetCounter)
	}
	if opts.Stats != nil {
		r.Get("/stats", a.stats)
	}
	return r
}

type admin struct {
	AdminOptions
}

func (a admin) listViolations(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	recent := a.Violations.Recent(limit)
	out := make([]violationView, 0, len(recent))
	for _, v := range recent {
		out = append(out, violationView{
			ID:       v.ID,
			Key:      string(v.Key),
			Tier:     string(v.Tier),
			Method:   v.Method,
			Path:     v.Path,
			At:       v.At.UTC(),
			Limit:    v.Limit,
			WindowMs: v.Window.Milliseconds(),
			Count:    v.Count,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a admin) clearViolations(w http.ResponseWriter, _ *http.Request) {
	a.Violations.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (a admin) counterKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "key query parameter is required"})
		return "", false
	}
	return domain.Key(key).Scoped(a.Namespace), true
}

func (a admin) getCounter(w http.ResponseWriter, r *http.Request) {
	key, ok := a.counterKey(w, r)
	if !ok {
		return
	}
	c, ok, err := a.Store.Get(r.Context(), key)
	if err != nil {
		a.Logger.Warn("admin counter lookup failed", zap.String("key", key), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "storage unavailable"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active window"})
		return
	}
	writeJSON(w, http.StatusOK, counterView{
		Key:         key,
		Count:       c.Count,
		WindowStart: c.WindowStart.UTC(),
		ResetAt:     c.ResetAt.UTC(),
	})
}

func (a admin) resetCounter(w http.ResponseWriter, r *http.Request) {
	key, ok := a.counterKey(w, r)
	if !ok {
		return
	}
	if err := a.Store.Reset(r.Context(), key); err != nil {
		a.Logger.Warn("admin counter reset failed", zap.String("key", key), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "storage unavailable"})
		return
	}
	a.Logger.Info("rate limit counter reset", zap.String("key", key))
	w.WriteHeader(http.StatusNoContent)
}

func (a admin) stats(w http.ResponseWriter, r *http.Request) {
	snap, err := a.Stats(r.Context())
	if err != nil {
		a.Logger.Warn("admin stats snapshot failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "stats unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
