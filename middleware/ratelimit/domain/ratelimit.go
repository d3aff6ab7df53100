package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"fmt"
	"strconv"
	"time"
)

type Key string

// Scoped devolve a chave de storage da Key dentro de um namespace de enforcer
// ("<namespace>:<key>"). Namespace vazio devolve a própria chave.
func (k Key) Scoped(namespace string) string {
	if namespace == "" {
		return string(k)
	}
	return namespace + ":" + string(k)
}

// Policy descreve uma janela fixa: no máximo Limit requisições a cada Window.
//
// Unlimited=true faz a requisição pular o contador por completo; nesse caso
// Limit e Window são ignorados.
type Policy struct {
	Limit     int64
	Window    time.Duration
	Unlimited bool
}

func UnlimitedPolicy() Policy { return Policy{Unlimited: true} }

func (p Policy) Validate() error {
	if p.Unlimited {
		return nil
	}
	if p.Limit <= 0 {
		return fmt.Errorf("%w: limit must be > 0, got %d", ErrInvalidPolicy, p.Limit)
	}
	if p.Window <= 0 {
		return fmt.Errorf("%w: window must be > 0, got %s", ErrInvalidPolicy, p.Window)
	}
	return nil
}

// Descriptor retorna o valor do header X-RateLimit-Policy ("<limit>;w=<segundos>").
func (p Policy) Descriptor() string {
	if p.Unlimited {
		return "unlimited"
	}
	return strconv.FormatInt(p.Limit, 10) + ";w=" + strconv.FormatInt(windowSeconds(p.Window), 10)
}

func (p Policy) String() string {
	if p.Unlimited {
		return "unlimited"
	}
	return fmt.Sprintf("%d/%s", p.Limit, p.Window)
}

// windowSeconds arredonda para cima: uma janela de 1500ms anuncia w=2.
func windowSeconds(d time.Duration) int64 {
	s := int64(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	return s
}

// Request é o que o enforcer precisa saber de uma chamada, já resolvido
// pela camada HTTP (chave do cliente e tier vindo da autenticação).
type Request struct {
	Key    Key
	Tier   Tier
	Method string
	Path   string
}

type Outcome int

const (
	OutcomeAllowed Outcome = iota
	OutcomeDenied
	OutcomeUnlimited
	// OutcomeFailOpen: o storage falhou e a requisição foi liberada sem contagem.
	OutcomeFailOpen
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAllowed:
		return "allowed"
	case OutcomeDenied:
		return "denied"
	case OutcomeUnlimited:
		return "unlimited"
	case OutcomeFailOpen:
		return "fail_open"
	default:
		return "unknown"
	}
}

// Quota são os metadados expostos ao cliente. Derivados do Counter a cada
// requisição, nunca persistidos.
type Quota struct {
	Limit     int64
	Remaining int64
	Window    time.Duration
	ResetAt   time.Time
	// RetryAfter só é preenchido quando a requisição foi negada.
	RetryAfter time.Duration
}

type Decision struct {
	Outcome Outcome
	Key     Key
	Tier    Tier
	Policy  Policy
	// Quota só é válido para OutcomeAllowed e OutcomeDenied.
	Quota Quota
	// Err guarda a falha de storage quando Outcome == OutcomeFailOpen.
	Err error
}

func (d Decision) Allowed() bool { return d.Outcome != OutcomeDenied }

// HasQuota indica se existem metadados numéricos para os headers.
func (d Decision) HasQuota() bool {
	return d.Outcome == OutcomeAllowed || d.Outcome == OutcomeDenied
}
