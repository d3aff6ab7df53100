// Package application contém os casos de uso (regras de aplicação) do rate limit
// de janela fixa por tier.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Decide(ctx, req) retorna uma Decision (allow/deny/unlimited/fail-open
// + quota), Resolver escolhe a policy pelo tier e BoundedStore limita
// tempo/concorrência das chamadas ao backend.
package application
