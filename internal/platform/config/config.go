package config

import (
	"os"
	"strconv"
	"time"
)

// RegistryCacheTTL enforces retention for cached Registry lookups.
var RegistryCacheTTL = 5 * time.Minute

// Registry captures how the gateway reaches the external system of record.
type Registry struct {
	BaseURL string
	Timeout time.Duration

	// PushBestEffort, when true, lets applicator saves proceed on Registry
	// push failure (logged, not fatal). Default false: push failure aborts
	// the local write to avoid divergence from the system of record.
	PushBestEffort bool

	// UseMock swaps in the deterministic mock gateway for local development.
	UseMock bool
}

// Redis holds connection settings for the lookup cache.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the top-level configuration.
type Server struct {
	Addr        string
	PostgresDSN string
	Registry    Registry
	Redis       Redis
	CacheTTL    time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	return Server{
		Addr:        envOr("SEEDTRACE_ADDR", ":8080"),
		PostgresDSN: os.Getenv("SEEDTRACE_POSTGRES_DSN"),
		Registry: Registry{
			BaseURL:        envOr("SEEDTRACE_REGISTRY_URL", "http://localhost:9090"),
			Timeout:        envDuration("SEEDTRACE_REGISTRY_TIMEOUT", 5*time.Second),
			PushBestEffort: os.Getenv("SEEDTRACE_REGISTRY_PUSH_BEST_EFFORT") == "true",
			UseMock:        os.Getenv("SEEDTRACE_REGISTRY_MOCK") == "true",
		},
		Redis: Redis{
			URL:          os.Getenv("SEEDTRACE_REDIS_URL"),
			PoolSize:     envInt("SEEDTRACE_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("SEEDTRACE_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("SEEDTRACE_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("SEEDTRACE_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("SEEDTRACE_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		CacheTTL: envDuration("SEEDTRACE_CACHE_TTL", RegistryCacheTTL),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
