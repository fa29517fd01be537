// Package config provides YAML configuration for the wallet engine.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/walletmesh/walletmesh/pkg/chains"
	"github.com/walletmesh/walletmesh/pkg/constants"
)

// Duration wraps time.Duration so YAML accepts both "10s" strings and
// plain second counts
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}

	var seconds int64
	if err := value.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}
	return fmt.Errorf("invalid duration value")
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// FamilyConfig lists the chains and enabled connector identifiers for one
// chain family
type FamilyConfig struct {
	Chains     []chains.Chain `yaml:"chains"`
	Connectors []string       `yaml:"connectors"`
}

// Config is the engine configuration
type Config struct {
	StateFile              string                          `yaml:"state_file"`
	BalanceRefreshInterval Duration                        `yaml:"balance_refresh_interval"`
	CallTimeout            Duration                        `yaml:"call_timeout"`
	LogLevel               string                          `yaml:"log_level"`
	Families               map[chains.Family]*FamilyConfig `yaml:"families"`
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		BalanceRefreshInterval: Duration(constants.DefaultBalanceRefreshInterval),
		CallTimeout:            Duration(constants.DefaultCallTimeout),
		LogLevel:               "info",
		Families:               make(map[chains.Family]*FamilyConfig),
	}
}

// Load reads configuration from the specified file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultChains returns the built-in chain catalog for a family, derived
// from the official network tables
func DefaultChains(family chains.Family) []chains.Chain {
	switch family {
	case chains.FamilyEVM:
		out := make([]chains.Chain, 0, len(constants.NetworkToChainID))
		for network, id := range constants.NetworkToChainID {
			currency := chains.NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18}
			if network == constants.NetworkPolygon {
				currency = chains.NativeCurrency{Name: "Polygon", Symbol: "POL", Decimals: 18}
			}
			out = append(out, chains.Chain{
				ID:             strconv.FormatInt(id, 10),
				Name:           network,
				Family:         chains.FamilyEVM,
				NativeCurrency: currency,
				RPCEndpoints:   constants.OfficialRPCEndpoints[network],
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return out

	case chains.FamilySVM:
		currency := chains.NativeCurrency{Name: "Solana", Symbol: "SOL", Decimals: 9}
		var out []chains.Chain
		for _, network := range []string{constants.NetworkSolana, constants.NetworkSolanaDevnet} {
			out = append(out, chains.Chain{
				ID:             network,
				Name:           network,
				Family:         chains.FamilySVM,
				NativeCurrency: currency,
				RPCEndpoints:   constants.OfficialRPCEndpoints[network],
			})
		}
		return out
	}
	return nil
}

// Validate checks the configuration for consistency and fills each chain's
// family from its section when omitted. A family section that lists no
// chains gets the built-in catalog.
func (c *Config) Validate() error {
	for family, fc := range c.Families {
		if fc == nil {
			return fmt.Errorf("family %s: empty section", family)
		}
		if len(fc.Chains) == 0 {
			fc.Chains = DefaultChains(family)
		}
		for i := range fc.Chains {
			if fc.Chains[i].Family == "" {
				fc.Chains[i].Family = family
			}
			if fc.Chains[i].Family != family {
				return fmt.Errorf("chain %s declared under family %s but marked %s",
					fc.Chains[i].ID, family, fc.Chains[i].Family)
			}
			if fc.Chains[i].ID == "" {
				return fmt.Errorf("family %s: chain %d has no id", family, i)
			}
			if len(fc.Chains[i].RPCEndpoints) == 0 {
				return fmt.Errorf("chain %s has no RPC endpoints", fc.Chains[i].ID)
			}
		}
	}
	if c.BalanceRefreshInterval < 0 {
		return fmt.Errorf("balance_refresh_interval must not be negative")
	}
	return nil
}
