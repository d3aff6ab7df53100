package ratelimit

import (
	"context"
	"net/http"

	"quota-gateway/middleware/ratelimit/domain"
)

// TierFunc extrai o tier de assinatura da requisição. Quem resolve o tier é a
// camada de autenticação; aqui só lemos o resultado.
type TierFunc func(r *http.Request) domain.Tier

type tierCtxKey struct{}

// ContextWithTier é usado pelo middleware de autenticação para anexar o tier.
func ContextWithTier(ctx context.Context, tier domain.Tier) context.Context {
	return context.WithValue(ctx, tierCtxKey{}, tier)
}

func TierFromContext(ctx context.Context) domain.Tier {
	tier, _ := ctx.Value(tierCtxKey{}).(domain.Tier)
	return tier
}

// DefaultTierFunc usa o tier do contexto; se vazio e header != "", lê o header
// (ex.: X-Subscription-Tier injetado pelo proxy de autenticação). Valores
// desconhecidos viram TierNone e caem na policy padrão.
func DefaultTierFunc(header string) TierFunc {
	return func(r *http.Request) domain.Tier {
		if tier := TierFromContext(r.Context()); tier != domain.TierNone {
			return tier
		}
		if header == "" {
			return domain.TierNone
		}
		raw := r.Header.Get(header)
		if raw == "" {
			return domain.TierNone
		}
		tier, err := domain.ParseTier(raw)
		if err != nil {
			return domain.TierNone
		}
		return tier
	}
}
