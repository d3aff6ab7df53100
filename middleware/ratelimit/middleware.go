package ratelimit

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync/atomic"
	"time"

	"quota-gateway/middleware/ratelimit/application"
	"quota-gateway/middleware/ratelimit/domain"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// KeyFunc deriva a chave de contagem da requisição. Deve ser pura e não
// pode entrar em pânico: uma KeyFunc quebrada é erro de configuração.
type KeyFunc func(r *http.Request) string

type Options struct {
	// Store é obrigatório (memória ou Redis).
	Store domain.CounterStore
	// Name é o namespace dos contadores desta instância no Store. Vazio gera
	// "rl<n>" pela ordem de construção; em deploy com várias réplicas
	// compartilhando Redis, defina explicitamente.
	Name string

	// MaxRequests/Window formam a policy padrão.
	MaxRequests int64
	Window      time.Duration
	// TierLimits é opcional; tiers desconhecidos são rejeitados na construção.
	TierLimits map[domain.Tier]domain.Policy

	KeyFn              KeyFunc
	KeyHeader          string
	TrustXForwardedFor bool

	TierFn     TierFunc
	TierHeader string

	Violations domain.ViolationLog
	Stats      domain.StatsStore
	Logger     *zap.Logger
	Clock      clockwork.Clock
}

// DefaultKeyFunc identifica o chamador, nesta ordem: header configurado,
// primeiro IP válido do X-Forwarded-For (só com trustXFF) e RemoteAddr.
// Endereços saem normalizados: sem porta, sem colchetes, IPv4 mapeado em
// IPv6 vira IPv4.
func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}
		if trustXFF {
			if ip := forwardedClient(r.Header.Values("X-Forwarded-For")); ip != "" {
				return ip
			}
		}
		return remoteHost(r.RemoteAddr)
	}
}

// forwardedClient pula entradas vazias ou que não são IP ("unknown", "_hidden").
func forwardedClient(values []string) string {
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if ip := normalizeIP(strings.TrimSpace(part)); ip != "" {
				return ip
			}
		}
	}
	return ""
}

// normalizeIP aceita "1.2.3.4", "1.2.3.4:80", "::1", "[::1]" e "[::1]:80".
func normalizeIP(s string) string {
	if s == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return ""
	}
	return addr.Unmap().WithZone("").String()
}

func remoteHost(remote string) string {
	remote = strings.TrimSpace(remote)
	if ip := normalizeIP(remote); ip != "" {
		return ip
	}
	if remote != "" {
		return remote
	}
	return "unknown"
}

// RouteKeyFunc isola a contagem por rota: "<METHOD> <path>|<chave base>".
func RouteKeyFunc(base KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		return r.Method + " " + r.URL.Path + "|" + base(r)
	}
}

var instanceSeq atomic.Int64

// New monta o Service a partir das Options e devolve o middleware.
// Configuração inválida falha aqui, nunca em tempo de requisição.
func New(opts Options) (func(next http.Handler) http.Handler, error) {
	if opts.Store == nil {
		return nil, domain.ErrMissingStore
	}
	tiers, err := domain.NewTierTable(opts.TierLimits)
	if err != nil {
		return nil, fmt.Errorf("tier limits: %w", err)
	}
	if opts.Name == "" {
		opts.Name = fmt.Sprintf("rl%d", instanceSeq.Add(1))
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.TierFn == nil {
		opts.TierFn = DefaultTierFunc(opts.TierHeader)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	svc, err := application.NewService(application.Config{
		Store:      opts.Store,
		Namespace:  opts.Name,
		Default:    domain.Policy{Limit: opts.MaxRequests, Window: opts.Window},
		Tiers:      tiers,
		Violations: opts.Violations,
		Stats:      opts.Stats,
		Logger:     opts.Logger,
		Clock:      opts.Clock,
	})
	if err != nil {
		return nil, err
	}

	return Middleware(svc, opts.KeyFn, opts.TierFn), nil
}

// Middleware traduz a decisão do Service para status/headers HTTP.
func Middleware(svc *application.Service, keyFn KeyFunc, tierFn TierFunc) func(next http.Handler) http.Handler {
	if keyFn == nil {
		keyFn = DefaultKeyFunc("", false)
	}
	if tierFn == nil {
		tierFn = DefaultTierFunc("")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tier := tierFn(r)
			var key domain.Key
			if !svc.Unlimited(tier) {
				key = domain.Key(keyFn(r))
			}
			dec := svc.Decide(r.Context(), domain.Request{
				Key:    key,
				Tier:   tier,
				Method: r.Method,
				Path:   r.URL.Path,
			})

			writeQuotaHeaders(w.Header(), dec)

			if !dec.Allowed() {
				writeQuotaExceeded(w, dec)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// MustNew é New para wiring em main: configuração inválida é fatal.
func MustNew(opts Options) func(next http.Handler) http.Handler {
	mw, err := New(opts)
	if err != nil {
		panic(errors.Join(errors.New("ratelimit: invalid configuration"), err))
	}
	return mw
}
