package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds process-level settings resolved from the environment.
// Required values abort startup when missing; everything chain-specific
// lives in the chain table (see chains.go).
type Config struct {
	DatabaseURL string
	RPCTemplate string // fmt template: subdomain, api key
	RPCAPIKey   string
	Port        string
	RedisAddr   string // optional quota cache
	Budget      BudgetConfig
}

// BudgetConfig bounds monthly RPC spend in compute units.
type BudgetConfig struct {
	MonthlyCU    int64
	WarnFraction float64
	StopFraction float64
}

const (
	defaultRPCTemplate = "https://%s.g.alchemy.com/v2/%s"
	defaultPort        = "8090"
	defaultMonthlyCU   = 300_000_000
)

// Load resolves configuration from the environment.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set")
	}
	apiKey := os.Getenv("RPC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("RPC_API_KEY must be set")
	}

	cfg := &Config{
		DatabaseURL: dbURL,
		RPCTemplate: envOr("RPC_URL_TEMPLATE", defaultRPCTemplate),
		RPCAPIKey:   apiKey,
		Port:        envOr("PORT", defaultPort),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		Budget: BudgetConfig{
			MonthlyCU:    envInt64("MONTHLY_CU_BUDGET", defaultMonthlyCU),
			WarnFraction: 0.8,
			StopFraction: 0.9,
		},
	}
	if cfg.Budget.MonthlyCU <= 0 {
		return nil, fmt.Errorf("MONTHLY_CU_BUDGET must be positive, got %d", cfg.Budget.MonthlyCU)
	}
	return cfg, nil
}

// RPCURL renders the endpoint URL for one chain.
func (c *Config) RPCURL(chain Chain) string {
	return fmt.Sprintf(c.RPCTemplate, chain.Subdomain, c.RPCAPIKey)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
