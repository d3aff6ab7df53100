// Package ratelimit fornece adapters HTTP (net/http) para o rate limit de janela
// fixa por tier de assinatura.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (resolução de policy, decisão, fail-open) sem net/http
//   - infra: implementações concretas (contadores em memória/Redis, violações, stats)
//   - ratelimit (este pacote): middleware HTTP + extração de chave/tier + tradução
//     para status/headers + rotas administrativas
//
// Fluxo por requisição:
//
//  1. Resolve a policy pelo tier (unlimited pula a contagem)
//  2. Extrai a chave do cliente (IP/header/XFF ou KeyFunc injetada)
//  3. Incrementa o contador da janela; se o storage falhar, libera (fail-open)
//  4. Escreve X-RateLimit-Limit/Remaining/Reset/Policy
//  5. Se excedeu, responde 429 com Retry-After e corpo JSON e registra a violação
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o comportamento,
// como RATE_MAX_REQUESTS, RATE_WINDOW, TIER_LIMITS e STORAGE.
package ratelimit
