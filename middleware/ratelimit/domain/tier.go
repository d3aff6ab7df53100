package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Tier é a classe de assinatura do cliente. O conjunto é fechado.
type Tier string

const (
	TierNone       Tier = ""
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

var knownTiers = map[Tier]struct{}{
	TierFree:       {},
	TierPro:        {},
	TierEnterprise: {},
}

func (t Tier) Known() bool {
	_, ok := knownTiers[t]
	return ok
}

func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Known() {
		return TierNone, fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
	return t, nil
}

// TierTable mapeia tier -> Policy. Construída uma vez na inicialização e
// somente leitura depois disso; o valor zero é uma tabela vazia válida.
type TierTable struct {
	policies map[Tier]Policy
}

// NewTierTable valida todas as entradas: tier desconhecido ou policy
// inválida é erro de configuração.
func NewTierTable(policies map[Tier]Policy) (TierTable, error) {
	out := make(map[Tier]Policy, len(policies))
	for tier, p := range policies {
		if !tier.Known() {
			return TierTable{}, fmt.Errorf("%w: %q", ErrUnknownTier, string(tier))
		}
		if err := p.Validate(); err != nil {
			return TierTable{}, fmt.Errorf("tier %s: %w", tier, err)
		}
		out[tier] = p
	}
	return TierTable{policies: out}, nil
}

func (t TierTable) Lookup(tier Tier) (Policy, bool) {
	if t.policies == nil {
		return Policy{}, false
	}
	p, ok := t.policies[tier]
	return p, ok
}

func (t TierTable) Len() int { return len(t.policies) }

// Tiers retorna os tiers configurados em ordem alfabética.
func (t TierTable) Tiers() []Tier {
	out := make([]Tier, 0, len(t.policies))
	for tier := range t.policies {
		out = append(out, tier)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
