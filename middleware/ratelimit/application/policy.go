package application

import "quota-gateway/middleware/ratelimit/domain"

// Resolver escolhe a Policy de uma requisição a partir do tier.
//
// É puro: dado (tier, tabela, default) sempre devolve a mesma Policy.
type Resolver struct {
	Default domain.Policy
	Tiers   domain.TierTable
}

// Resolve aplica, em ordem:
//  1. sem tier, tier não configurado ou tabela vazia -> Default
//  2. tier presente na tabela -> policy do tier
//
// Se a policy resultante for Unlimited o chamador não deve tocar no contador.
func (r Resolver) Resolve(tier domain.Tier) domain.Policy {
	if tier == domain.TierNone || r.Tiers.Len() == 0 {
		return r.Default
	}
	if p, ok := r.Tiers.Lookup(tier); ok {
		return p
	}
	return r.Default
}
