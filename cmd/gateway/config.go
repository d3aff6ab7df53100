package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"quota-gateway/middleware/ratelimit/domain"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type config struct {
	listenAddr  string
	upstreamURL string
	logLevel    string

	rateEnabled     bool
	rateMaxRequests int64
	rateWindow      time.Duration
	rateKeyHeader   string
	trustXFF        bool
	tierHeader      string
	tierLimits      map[domain.Tier]domain.Policy

	storage       string
	cleanupEvery  time.Duration
	violationsCap int

	redisAddr           string
	redisPassword       string
	redisDB             int
	redisKeyPrefix      string
	redisTimeout        time.Duration
	redisMaxInflight    int
	redisAcquireTimeout time.Duration

	metricsEnabled bool
	adminEnabled   bool
	adminToken     string

	rateStatsEnabled   bool
	rateStatsPrefix    string
	rateStatsTTL       time.Duration
	rateStatsBucket    string
	rateStatsTrackKeys bool
}

// readConfig lê o ambiente (e um .env opcional). Qualquer valor inválido é
// erro: configuração errada deve derrubar o processo na subida.
func readConfig() (config, error) {
	_ = godotenv.Load()

	var errs []error
	e := envReader{errs: &errs}

	cfg := config{}
	cfg.listenAddr = e.str("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = e.str("UPSTREAM_URL", "")
	cfg.logLevel = e.str("LOG_LEVEL", "info")

	cfg.rateEnabled = e.boolean("RATE_ENABLED", true)
	cfg.rateMaxRequests = int64(e.integer("RATE_MAX_REQUESTS", 100))
	cfg.rateWindow = e.window("RATE_WINDOW", time.Minute)
	cfg.rateKeyHeader = os.Getenv("RATE_KEY_HEADER")
	cfg.trustXFF = e.boolean("TRUST_XFF", false)
	cfg.tierHeader = e.str("TIER_HEADER", "X-Subscription-Tier")

	cfg.storage = strings.ToLower(e.str("STORAGE", "memory"))
	cfg.cleanupEvery = e.duration("CLEANUP_EVERY", time.Minute)
	cfg.violationsCap = e.integer("VIOLATIONS_CAP", 1000)

	cfg.redisAddr = e.str("REDIS_ADDR", "localhost:6379")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = e.integer("REDIS_DB", 0)
	cfg.redisKeyPrefix = e.str("REDIS_KEY_PREFIX", "ratelimit:fw:")
	cfg.redisTimeout = e.duration("REDIS_TIMEOUT", 100*time.Millisecond)
	cfg.redisMaxInflight = e.integer("REDIS_MAX_INFLIGHT", 64)
	cfg.redisAcquireTimeout = e.duration("REDIS_ACQUIRE_TIMEOUT", 50*time.Millisecond)

	cfg.metricsEnabled = e.boolean("METRICS_ENABLED", true)
	cfg.adminEnabled = e.boolean("ADMIN_ENABLED", false)
	cfg.adminToken = os.Getenv("ADMIN_TOKEN")

	cfg.rateStatsEnabled = e.boolean("RATE_STATS_ENABLED", false)
	cfg.rateStatsPrefix = e.str("RATE_STATS_PREFIX", "ratelimit:stats")
	cfg.rateStatsTTL = e.duration("RATE_STATS_TTL", 24*time.Hour)
	cfg.rateStatsBucket = e.str("RATE_STATS_BUCKET", "minute")
	cfg.rateStatsTrackKeys = e.boolean("RATE_STATS_TRACK_KEYS", false)

	tiers, err := loadTierLimits(os.Getenv("TIER_LIMITS"), os.Getenv("TIER_LIMITS_FILE"))
	if err != nil {
		errs = append(errs, err)
	}
	cfg.tierLimits = tiers

	if cfg.upstreamURL == "" {
		errs = append(errs, errors.New("UPSTREAM_URL is required"))
	}
	if cfg.rateMaxRequests <= 0 {
		errs = append(errs, errors.New("RATE_MAX_REQUESTS must be > 0"))
	}
	if cfg.rateWindow <= 0 {
		errs = append(errs, errors.New("RATE_WINDOW must be > 0"))
	}
	switch cfg.storage {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("STORAGE must be memory or redis, got %q", cfg.storage))
	}
	if cfg.storage == "redis" && strings.TrimSpace(cfg.redisAddr) == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required when STORAGE=redis"))
	}
	if cfg.redisMaxInflight < 0 {
		errs = append(errs, errors.New("REDIS_MAX_INFLIGHT must be >= 0"))
	}
	if cfg.adminEnabled && cfg.adminToken == "" {
		errs = append(errs, errors.New("ADMIN_TOKEN is required when ADMIN_ENABLED=true"))
	}

	if err := errors.Join(errs...); err != nil {
		return config{}, err
	}
	return cfg, nil
}

type envReader struct {
	errs *[]error
}

func (e envReader) fail(k, v string, err error) {
	*e.errs = append(*e.errs, fmt.Errorf("invalid %s=%q: %w", k, v, err))
}

func (e envReader) str(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func (e envReader) integer(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.fail(k, v, err)
		return def
	}
	return i
}

func (e envReader) boolean(k string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(k, v, err)
		return def
	}
	return b
}

func (e envReader) duration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(k, v, err)
		return def
	}
	return d
}

// window aceita duração Go ("90s") ou milissegundos puros ("60000").
func (e envReader) window(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	d, err := parseWindow(v)
	if err != nil {
		e.fail(k, v, err)
		return def
	}
	return d
}

func parseWindow(v string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}

// loadTierLimits junta o arquivo YAML e o inline; o inline ganha em conflito.
func loadTierLimits(inline, file string) (map[domain.Tier]domain.Policy, error) {
	out := make(map[domain.Tier]domain.Policy)

	if file = strings.TrimSpace(file); file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("TIER_LIMITS_FILE: %w", err)
		}
		fromFile, err := parseTierFile(raw)
		if err != nil {
			return nil, fmt.Errorf("TIER_LIMITS_FILE %s: %w", file, err)
		}
		for k, v := range fromFile {
			out[k] = v
		}
	}

	fromEnv, err := parseTierLimits(inline)
	if err != nil {
		return nil, fmt.Errorf("TIER_LIMITS: %w", err)
	}
	for k, v := range fromEnv {
		out[k] = v
	}
	return out, nil
}

// parseTierLimits lê "free:10:1m,pro:100:60000,enterprise:unlimited".
// "-1" no lugar do limite também significa unlimited.
func parseTierLimits(raw string) (map[domain.Tier]domain.Policy, error) {
	out := make(map[domain.Tier]domain.Policy)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out, nil
	}

	for _, item := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(item), ":")
		tier, err := domain.ParseTier(parts[0])
		if err != nil {
			return nil, err
		}

		if len(parts) == 2 && isUnlimited(parts[1]) {
			out[tier] = domain.UnlimitedPolicy()
			continue
		}
		if len(parts) != 3 {
			return nil, fmt.Errorf("tier limit must follow TIER:LIMIT:WINDOW or TIER:unlimited: %q", item)
		}
		if isUnlimited(parts[1]) {
			out[tier] = domain.UnlimitedPolicy()
			continue
		}

		limit, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid limit for tier %s: %w", tier, err)
		}
		window, err := parseWindow(strings.TrimSpace(parts[2]))
		if err != nil {
			return nil, fmt.Errorf("invalid window for tier %s: %w", tier, err)
		}
		p := domain.Policy{Limit: limit, Window: window}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("tier %s: %w", tier, err)
		}
		out[tier] = p
	}
	return out, nil
}

type tierFile struct {
	Tiers map[string]tierFileEntry `yaml:"tiers"`
}

type tierFileEntry struct {
	Limit     int64         `yaml:"limit"`
	Window    time.Duration `yaml:"window"`
	Unlimited bool          `yaml:"unlimited"`
}

func parseTierFile(raw []byte) (map[domain.Tier]domain.Policy, error) {
	var f tierFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, err
	}

	out := make(map[domain.Tier]domain.Policy, len(f.Tiers))
	for name, ent := range f.Tiers {
		tier, err := domain.ParseTier(name)
		if err != nil {
			return nil, err
		}
		if ent.Unlimited || ent.Limit == -1 {
			out[tier] = domain.UnlimitedPolicy()
			continue
		}
		p := domain.Policy{Limit: ent.Limit, Window: ent.Window}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("tier %s: %w", tier, err)
		}
		out[tier] = p
	}
	return out, nil
}

func isUnlimited(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "unlimited" || v == "-1"
}
