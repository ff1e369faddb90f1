package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServiceName string
	LogLevel    string
	HTTP        HTTPConfig
	DatabaseURL string
	Backend     BackendConfig
	RateLimit   RateLimitConfig
	Audit       AuditConfig
	// BootstrapAdmin is granted super_admin at startup. It is ignored when
	// roles come from the backend.
	BootstrapAdmin string
}

type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// TrustedProxies lists the peers whose X-Forwarded-For and X-Real-IP
	// headers are believed. Everyone else is keyed by the socket address.
	TrustedProxies []netip.Prefix
}

type BackendConfig struct {
	URL     string
	Timeout time.Duration
}

type RateLimitConfig struct {
	MaxAttempts int
	Window      time.Duration
	// EdgeRPS <= 0 disables the per-client edge throttle.
	EdgeRPS   float64
	EdgeBurst int

	StatsRedisAddr     string
	StatsRedisPassword string
	StatsRedisDB       int
	StatsPrefix        string
}

type AuditConfig struct {
	LogFile string
	Buffer  int
	Recent  int
}

func Load() (Config, error) {
	cfg := Config{
		ServiceName: getEnv("SERVICE_NAME", "guard"),
		LogLevel:    strings.ToLower(getEnv("LOG_LEVEL", "info")),
		HTTP: HTTPConfig{
			Addr:            getEnv("HTTP_ADDR", ":8080"),
			ReadTimeout:     time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SEC", 10)) * time.Second,
			WriteTimeout:    time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SEC", 15)) * time.Second,
			ShutdownTimeout: time.Duration(getEnvInt("HTTP_SHUTDOWN_TIMEOUT_SEC", 20)) * time.Second,
		},
		DatabaseURL: getEnv("DATABASE_URL", ""),
		Backend: BackendConfig{
			URL:     getEnv("BACKEND_URL", ""),
			Timeout: time.Duration(getEnvInt("BACKEND_TIMEOUT_SEC", 10)) * time.Second,
		},
		RateLimit: RateLimitConfig{
			MaxAttempts:        getEnvInt("RATE_MAX_ATTEMPTS", 5),
			Window:             time.Duration(getEnvInt("RATE_WINDOW_SEC", 60)) * time.Second,
			EdgeRPS:            getEnvFloat("EDGE_RPS", 20),
			EdgeBurst:          getEnvInt("EDGE_BURST", 40),
			StatsRedisAddr:     getEnv("RATE_STATS_REDIS_ADDR", ""),
			StatsRedisPassword: getEnv("RATE_STATS_REDIS_PASSWORD", ""),
			StatsRedisDB:       getEnvInt("RATE_STATS_REDIS_DB", 0),
			StatsPrefix:        getEnv("RATE_STATS_PREFIX", "guard:ratelimit"),
		},
		Audit: AuditConfig{
			LogFile: getEnv("AUDIT_LOG_FILE", ""),
			Buffer:  getEnvInt("AUDIT_BUFFER", 256),
			Recent:  getEnvInt("AUDIT_RECENT", 500),
		},
		BootstrapAdmin: strings.TrimSpace(getEnv("ROLE_BOOTSTRAP_ADMIN", "")),
	}

	if cfg.ServiceName == "" {
		return Config{}, fmt.Errorf("SERVICE_NAME must not be empty")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}
	if cfg.HTTP.Addr == "" {
		return Config{}, fmt.Errorf("HTTP_ADDR must not be empty")
	}
	proxies, err := ParseTrustedProxies(getEnv("TRUSTED_PROXIES", ""))
	if err != nil {
		return Config{}, fmt.Errorf("TRUSTED_PROXIES %w", err)
	}
	cfg.HTTP.TrustedProxies = proxies
	if cfg.Backend.Timeout <= 0 {
		return Config{}, fmt.Errorf("BACKEND_TIMEOUT_SEC must be > 0")
	}
	if cfg.RateLimit.MaxAttempts <= 0 {
		return Config{}, fmt.Errorf("RATE_MAX_ATTEMPTS must be > 0")
	}
	if cfg.RateLimit.Window <= 0 {
		return Config{}, fmt.Errorf("RATE_WINDOW_SEC must be > 0")
	}
	if cfg.RateLimit.EdgeRPS > 0 && cfg.RateLimit.EdgeBurst <= 0 {
		return Config{}, fmt.Errorf("EDGE_BURST must be > 0 when EDGE_RPS is set")
	}
	if cfg.RateLimit.StatsRedisDB < 0 {
		return Config{}, fmt.Errorf("RATE_STATS_REDIS_DB must be >= 0")
	}
	if cfg.Audit.Buffer <= 0 {
		return Config{}, fmt.Errorf("AUDIT_BUFFER must be > 0")
	}
	if cfg.Audit.Recent <= 0 {
		return Config{}, fmt.Errorf("AUDIT_RECENT must be > 0")
	}

	return cfg, nil
}

// ParseTrustedProxies reads a comma separated list of CIDR prefixes or bare
// addresses.
func ParseTrustedProxies(raw string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "/") {
			p, err := netip.ParsePrefix(part)
			if err != nil {
				return nil, fmt.Errorf("must contain IP addresses or CIDR prefixes: %q", part)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(part)
		if err != nil {
			return nil, fmt.Errorf("must contain IP addresses or CIDR prefixes: %q", part)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func getEnv(key, fallback string) string {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return f
}
