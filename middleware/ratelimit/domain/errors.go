package domain

import "errors"

var (
	// ErrStorageUnavailable indica falha/timeout do backend de contadores.
	// O enforcer trata esse erro como fail-open.
	ErrStorageUnavailable = errors.New("rate limit storage unavailable")

	ErrInvalidPolicy = errors.New("invalid rate limit policy")
	ErrUnknownTier   = errors.New("unknown subscription tier")
	ErrMissingStore  = errors.New("counter store is required")
)

func IsStorageUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
