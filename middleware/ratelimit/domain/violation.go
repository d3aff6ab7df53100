package domain

import "time"

// Violation registra uma requisição negada por excesso de quota.
type Violation struct {
	ID     string
	Key    Key
	Tier   Tier
	Method string
	Path   string
	At     time.Time
	Limit  int64
	Window time.Duration
	Count  int64
}

// ViolationLog guarda as violações mais recentes para diagnóstico.
//
// Não é um controle de segurança: não bloqueia nada por si só.
// Record precisa tolerar chamadas concorrentes.
type ViolationLog interface {
	Record(v Violation)
	// Recent retorna as n violações mais recentes, da mais antiga para a
	// mais nova. n <= 0 retorna todas.
	Recent(n int) []Violation
	Clear()
}
