// Package config loads switch and simulator settings from YAML and the
// environment.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/vitwit/upiswitch/simulator"
	"github.com/vitwit/upiswitch/types"
)

// EnvPrefix prefixes every environment override, e.g. UPISWITCH_ORG_ID or
// UPISWITCH_COLLABORATORS_REMITTER_BANK_URL.
const EnvPrefix = "UPISWITCH"

// Config is the file layout: switch settings at the top level and the
// simulated collaborators under simulator.
type Config struct {
	types.SwitchConfig `mapstructure:",squash"`

	Simulator SimulatorConfig `mapstructure:"simulator"`
}

// SimulatorConfig configures the demo banks and PSPs.
type SimulatorConfig struct {
	SeedPath string `mapstructure:"seed_path"`
	// Async makes the banks answer 202 and deliver RespPay to CallbackURL.
	Async       bool   `mapstructure:"async"`
	CallbackURL string `mapstructure:"callback_url"`
	// AccountStore is "memory" or "dynamodb".
	AccountStore string                 `mapstructure:"account_store"`
	Dynamo       simulator.DynamoConfig `mapstructure:"dynamo"`

	RemitterAddr    string `mapstructure:"remitter_addr"`
	BeneficiaryAddr string `mapstructure:"beneficiary_addr"`
	DirectoryAddr   string `mapstructure:"directory_addr"`
	PayerAddr       string `mapstructure:"payer_addr"`
}

// Default returns the configuration used when no file or environment
// override is present.
func Default() *Config {
	return &Config{
		SwitchConfig: *types.DefaultSwitchConfig(),
		Simulator: SimulatorConfig{
			AccountStore:    "memory",
			Dynamo:          simulator.DynamoConfig{Table: "UpiAccounts"},
			RemitterAddr:    ":5001",
			BeneficiaryAddr: ":5002",
			DirectoryAddr:   ":5003",
			PayerAddr:       ":5004",
		},
	}
}

// Load reads path (optional) and applies UPISWITCH_ environment overrides
// on top of the defaults.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, types.WrapError(types.ErrConfigError, fmt.Sprintf("read config %s", path), err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, types.WrapError(types.ErrConfigError, "decode config", err)
	}

	for role, cc := range cfg.Collaborators {
		if cc.URL == "" {
			delete(cfg.Collaborators, role)
		}
	}
	if cfg.Collaborators == nil {
		cfg.Collaborators = map[types.CollaboratorRole]types.CollaboratorConfig{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the switch settings and the simulator store choice.
func (c *Config) Validate() error {
	if err := c.SwitchConfig.Validate(); err != nil {
		return err
	}
	switch c.Simulator.AccountStore {
	case "", "memory", "dynamodb":
	default:
		return types.NewError(types.ErrConfigError, fmt.Sprintf("unknown simulator.account_store %q", c.Simulator.AccountStore))
	}
	if c.Simulator.Async && c.Simulator.CallbackURL == "" {
		return types.NewError(types.ErrConfigError, "simulator.callback_url is required when simulator.async is set")
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("org_id", d.OrgID)
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("default_timeout", d.DefaultTimeout)
	v.SetDefault("retry_count", d.RetryCount)
	v.SetDefault("pending_ttl", d.PendingTTL)
	v.SetDefault("evict_interval", d.EvictInterval)
	v.SetDefault("seen_ttl", d.SeenTTL)
	v.SetDefault("reversal_policy", string(d.ReversalPolicy))
	v.SetDefault("max_in_flight", d.MaxInFlight)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("enable_metrics", d.EnableMetrics)

	v.SetDefault("simulator.seed_path", "")
	v.SetDefault("simulator.async", false)
	v.SetDefault("simulator.callback_url", "")
	v.SetDefault("simulator.account_store", d.Simulator.AccountStore)
	v.SetDefault("simulator.dynamo.table", d.Simulator.Dynamo.Table)
	v.SetDefault("simulator.remitter_addr", d.Simulator.RemitterAddr)
	v.SetDefault("simulator.beneficiary_addr", d.Simulator.BeneficiaryAddr)
	v.SetDefault("simulator.directory_addr", d.Simulator.DirectoryAddr)
	v.SetDefault("simulator.payer_addr", d.Simulator.PayerAddr)

	// Keys without defaults are only seen by AutomaticEnv once bound.
	for _, key := range []string{
		"simulator.dynamo.region",
		"simulator.dynamo.endpoint",
		"simulator.dynamo.access_key_id",
		"simulator.dynamo.secret_access_key",
	} {
		_ = v.BindEnv(key)
	}
	for _, role := range []types.CollaboratorRole{
		types.RoleRemitterBank, types.RoleBeneficiaryBank, types.RolePayeePSP, types.RolePayerPSP,
	} {
		_ = v.BindEnv("collaborators." + string(role) + ".url")
	}
	return v
}
