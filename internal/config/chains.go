package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Chain describes one supported EVM network: RPC subdomain, contract
// addresses, per-source genesis blocks and pacing. The built-in table can
// be overridden per chain by a YAML file pointed at by CHAINS_CONFIG.
type Chain struct {
	Name               string   `yaml:"name"`
	Subdomain          string   `yaml:"subdomain"`
	AvgBlockSeconds    float64  `yaml:"avg_block_seconds"`
	PacingMs           int      `yaml:"pacing_ms"`
	USDC               string   `yaml:"usdc"`
	IdentityRegistry   string   `yaml:"identity_registry"`
	ReputationRegistry string   `yaml:"reputation_registry"`
	IdentityGenesis    uint64   `yaml:"identity_genesis"`
	ReputationGenesis  uint64   `yaml:"reputation_genesis"`
	PaymentGenesis     uint64   `yaml:"payment_genesis"`
	Facilitators       []string `yaml:"facilitators"`
}

// Pacing is the inter-batch delay for this chain.
func (c Chain) Pacing() time.Duration {
	return time.Duration(c.PacingMs) * time.Millisecond
}

// BlocksForDays converts an operator --days window to a block count using
// the chain's average block time.
func (c Chain) BlocksForDays(days int) uint64 {
	if days <= 0 || c.AvgBlockSeconds <= 0 {
		return 0
	}
	return uint64(float64(days*86400) / c.AvgBlockSeconds)
}

// HasFacilitator reports whether addr (lowercased) is a known x402
// facilitator on this chain.
func (c Chain) HasFacilitator(addr string) bool {
	addr = strings.ToLower(addr)
	for _, f := range c.Facilitators {
		if strings.ToLower(f) == addr {
			return true
		}
	}
	return false
}

// Canonical USDC deployments. Registry addresses and genesis blocks are
// deployment-specific and expected to come from CHAINS_CONFIG.
func defaultChains() map[string]Chain {
	return map[string]Chain{
		"ethereum": {
			Name:            "ethereum",
			Subdomain:       "eth-mainnet",
			AvgBlockSeconds: 12.0,
			PacingMs:        100,
			USDC:            "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		},
		"base": {
			Name:            "base",
			Subdomain:       "base-mainnet",
			AvgBlockSeconds: 2.0,
			PacingMs:        100,
			USDC:            "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913",
		},
		"arbitrum": {
			Name:            "arbitrum",
			Subdomain:       "arb-mainnet",
			AvgBlockSeconds: 0.25,
			PacingMs:        50,
			USDC:            "0xaf88d065e77c8cc2239327c5edb3a432268e5831",
		},
	}
}

// LoadChains returns the chain table, applying YAML overrides from the
// CHAINS_CONFIG file and the X402_FACILITATORS env list when present.
func LoadChains() (map[string]Chain, error) {
	chains := defaultChains()

	if path := os.Getenv("CHAINS_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read chains config %s: %w", path, err)
		}
		var overrides map[string]Chain
		if err := yaml.Unmarshal(raw, &overrides); err != nil {
			return nil, fmt.Errorf("parse chains config %s: %w", path, err)
		}
		for name, o := range overrides {
			base, ok := chains[name]
			if !ok {
				chains[name] = o
				continue
			}
			chains[name] = mergeChain(base, o)
		}
	}

	if list := os.Getenv("X402_FACILITATORS"); list != "" {
		extra := strings.Split(list, ",")
		for name, c := range chains {
			c.Facilitators = append(c.Facilitators, extra...)
			chains[name] = c
		}
	}

	return chains, nil
}

// SelectChains resolves the --chain flag: a single name or "all".
func SelectChains(chains map[string]Chain, selector string) ([]Chain, error) {
	if selector == "" || selector == "all" {
		out := make([]Chain, 0, len(chains))
		for _, name := range []string{"ethereum", "base", "arbitrum"} {
			if c, ok := chains[name]; ok {
				out = append(out, c)
			}
		}
		return out, nil
	}
	c, ok := chains[selector]
	if !ok {
		return nil, fmt.Errorf("unknown chain %q (want ethereum|base|arbitrum|all)", selector)
	}
	return []Chain{c}, nil
}

func mergeChain(base, o Chain) Chain {
	if o.Subdomain != "" {
		base.Subdomain = o.Subdomain
	}
	if o.AvgBlockSeconds > 0 {
		base.AvgBlockSeconds = o.AvgBlockSeconds
	}
	if o.PacingMs > 0 {
		base.PacingMs = o.PacingMs
	}
	if o.USDC != "" {
		base.USDC = o.USDC
	}
	if o.IdentityRegistry != "" {
		base.IdentityRegistry = o.IdentityRegistry
	}
	if o.ReputationRegistry != "" {
		base.ReputationRegistry = o.ReputationRegistry
	}
	if o.IdentityGenesis > 0 {
		base.IdentityGenesis = o.IdentityGenesis
	}
	if o.ReputationGenesis > 0 {
		base.ReputationGenesis = o.ReputationGenesis
	}
	if o.PaymentGenesis > 0 {
		base.PaymentGenesis = o.PaymentGenesis
	}
	if len(o.Facilitators) > 0 {
		base.Facilitators = append(base.Facilitators, o.Facilitators...)
	}
	return base
}
