package domain

import (
	"context"
	"time"
)

// Counter é o estado de uma janela fixa para uma chave.
//
// Invariante: ResetAt == WindowStart + window. Count só diminui via Reset
// ou expiração da janela.
type Counter struct {
	Count       int64
	WindowStart time.Time
	ResetAt     time.Time
}

// CounterStore é o contrato de armazenamento dos contadores.
//
// Implementações devem ser seguras para uso concorrente. Falhas de
// infraestrutura devem ser reportadas com ErrStorageUnavailable (errors.Is),
// nunca confundidas com "chave inexistente".
type CounterStore interface {
	// Increment cria ou incrementa o contador da chave. Sem janela ativa,
	// inicia uma nova com Count=1 e ResetAt=now+window; caso contrário
	// incrementa e devolve o ResetAt existente.
	Increment(ctx context.Context, key string, window time.Duration) (Counter, error)

	// Get é somente leitura. ok=false quando não existe janela ativa.
	Get(ctx context.Context, key string) (c Counter, ok bool, err error)

	// Reset apaga o contador da chave.
	Reset(ctx context.Context, key string) error

	// Cleanup remove entradas expiradas. Não é necessário para correção.
	Cleanup(ctx context.Context) error
}
