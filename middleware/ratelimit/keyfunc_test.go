package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"quota-gateway/middleware/ratelimit/domain"

	"github.com/stretchr/testify/assert"
)

func TestDefaultKeyFunc_PrefersHeaderWhenSet(t *testing.T) {
	fn := DefaultKeyFunc("X-Client", false)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Client", " client-123 ")

	assert.Equal(t, "client-123", fn(r))
}

func TestDefaultKeyFunc_TrustXForwardedForUsesFirstIP(t *testing.T) {
	fn := DefaultKeyFunc("", true)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")

	assert.Equal(t, "1.2.3.4", fn(r))
}

func TestDefaultKeyFunc_IgnoresXForwardedForWhenUntrusted(t *testing.T) {
	fn := DefaultKeyFunc("", false)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	r.Header.Set("X-Forwarded-For", "1.2.3.4")

	assert.Equal(t, "10.0.0.9", fn(r))
}

func TestDefaultKeyFunc_FallsBackToUnknown(t *testing.T) {
	fn := DefaultKeyFunc("", false)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = ""

	assert.Equal(t, "unknown", fn(r))
}

func TestDefaultKeyFunc_NormalizesRemoteAddr(t *testing.T) {
	fn := DefaultKeyFunc("", false)

	cases := map[string]string{
		"[2001:db8::1]:443":   "2001:db8::1",
		"[2001:db8::1]":       "2001:db8::1",
		"2001:db8::1":         "2001:db8::1",
		"[::ffff:1.2.3.4]:80": "1.2.3.4",
		" 10.0.0.1 ":          "10.0.0.1",
		"[fe80::1%eth0]:80":   "fe80::1",
		"@unix-socket":        "@unix-socket",
	}
	for remote, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
		r.RemoteAddr = remote
		assert.Equal(t, want, fn(r), "RemoteAddr %q", remote)
	}
}

func TestDefaultKeyFunc_SkipsUnusableForwardedEntries(t *testing.T) {
	fn := DefaultKeyFunc("X-Client", true)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	r.Header.Set("X-Client", "   ")
	r.Header.Add("X-Forwarded-For", " , unknown")
	r.Header.Add("X-Forwarded-For", "[2001:db8::7]:1234, 1.2.3.4")

	assert.Equal(t, "2001:db8::7", fn(r))

	r.Header.Set("X-Forwarded-For", "_hidden")
	assert.Equal(t, "10.0.0.9", fn(r), "garbage XFF falls back to RemoteAddr")
}

func TestRouteKeyFunc(t *testing.T) {
	fn := RouteKeyFunc(DefaultKeyFunc("", false))

	r := httptest.NewRequest(http.MethodPost, "http://example/login", nil)
	r.RemoteAddr = "10.0.0.9:5555"

	assert.Equal(t, "POST /login|10.0.0.9", fn(r))
}

func TestDefaultTierFunc(t *testing.T) {
	fn := DefaultTierFunc("X-Subscription-Tier")

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	assert.Equal(t, domain.TierNone, fn(r))

	r.Header.Set("X-Subscription-Tier", "PRO")
	assert.Equal(t, domain.TierPro, fn(r))

	r.Header.Set("X-Subscription-Tier", "gold")
	assert.Equal(t, domain.TierNone, fn(r), "unknown tiers fall back to the default policy")

	r = r.WithContext(ContextWithTier(r.Context(), domain.TierEnterprise))
	assert.Equal(t, domain.TierEnterprise, fn(r), "context tier wins over the header")

	noHeader := DefaultTierFunc("")
	r2 := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r2.Header.Set("X-Subscription-Tier", "pro")
	assert.Equal(t, domain.TierNone, noHeader(r2))
}
