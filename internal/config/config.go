package config

import (
	"fmt"
	"os"
	"strings"
)

// Backend names accepted by SHOPLIFE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type APIConfig struct {
	Addr        string
	Backend     string
	RedisURL    string
	DatabaseURL string
	FlagPayload string
}

type CLIConfig struct {
	APIBaseURL string
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("SHOPLIFE_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:        addr,
		Backend:     strings.ToLower(envDefault("SHOPLIFE_BACKEND", BackendRedis)),
		RedisURL:    envDefault("REDIS_URL", "redis://redis:6379/0"),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		FlagPayload: strings.TrimSpace(os.Getenv("SHOPLIFE_FLAG")),
	}
	switch cfg.Backend {
	case BackendMemory, BackendRedis:
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return cfg, fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	default:
		return cfg, fmt.Errorf("unknown SHOPLIFE_BACKEND %q", cfg.Backend)
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("SHOPCTL_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}
