// utilitário pequeno para formatação rápida/consistente dos headers e do corpo 429.

package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"

	"quota-gateway/middleware/ratelimit/domain"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderPolicy     = "X-RateLimit-Policy"
	HeaderRetryAfter = "Retry-After"

	unlimitedValue = "unlimited"

	ErrorCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
)

// QuotaExceededBody é o corpo JSON da resposta 429.
type QuotaExceededBody struct {
	Error             string `json:"error"`
	Limit             int64  `json:"limit"`
	RetryAfterSeconds int64  `json:"retryAfterSeconds"`
}

func formatInt(v int64) string { return strconv.FormatInt(v, 10) }

// writeQuotaHeaders escreve os headers uma única vez por requisição.
// Em fail-open nada é escrito: melhor omitir do que inventar números.
func writeQuotaHeaders(h http.Header, dec domain.Decision) {
	switch {
	case dec.Outcome == domain.OutcomeUnlimited:
		h.Set(HeaderLimit, unlimitedValue)
		h.Set(HeaderRemaining, unlimitedValue)
	case dec.HasQuota():
		h.Set(HeaderLimit, formatInt(dec.Quota.Limit))
		h.Set(HeaderRemaining, formatInt(dec.Quota.Remaining))
		h.Set(HeaderReset, formatInt(dec.Quota.ResetAt.Unix()))
		h.Set(HeaderPolicy, dec.Policy.Descriptor())
	}
}

func writeQuotaExceeded(w http.ResponseWriter, dec domain.Decision) {
	secs := int64(dec.Quota.RetryAfter.Seconds())
	w.Header().Set(HeaderRetryAfter, formatInt(secs))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(QuotaExceededBody{
		Error:             ErrorCodeRateLimitExceeded,
		Limit:             dec.Quota.Limit,
		RetryAfterSeconds: secs,
	})
}
