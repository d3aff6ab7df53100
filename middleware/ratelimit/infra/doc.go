// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - MemoryStore: contador de janela fixa em memória, com janitor
//   - RedisStore: contador de janela fixa compartilhado (script Lua atômico)
//   - ChanPool: semáforo simples para limitar chamadas ao backend
//   - ViolationRing: buffer circular das últimas violações
//   - MemoryStatsStore, RedisStatsStore, PromStatsStore: estatísticas best-effort
package infra
