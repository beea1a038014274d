package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	BackendHTTP = "http"
	BackendEVM  = "evm"

	LedgerMemory = "memory"
	LedgerRedis  = "redis"
)

type Config struct {
	Terms      TermsConfig
	Deployment DeploymentConfig
	Bridge     BridgeConfig
	Timer      TimerConfig
	Ledger     LedgerConfig
	Redis      RedisConfig
	Chain      ChainConfig
	Auth       AuthConfig
	Server     ServerConfig
}

type TermsConfig struct {
	DeploymentID  string `mapstructure:"deployment_id"`
	CheckInterval int64  `mapstructure:"check_interval"`
	MaxChecks     int    `mapstructure:"max_checks"`
	FundingAmount string `mapstructure:"funding_amount"`
	Denom         string `mapstructure:"denom"`
	Brand         string `mapstructure:"brand"`
	Peg           string `mapstructure:"peg"`
}

type DeploymentConfig struct {
	Backend string `mapstructure:"backend"`
	APIURL  string `mapstructure:"api_url"`
	APIKey  string `mapstructure:"api_key"`
}

type BridgeConfig struct {
	APIURL string `mapstructure:"api_url"`
	APIKey string `mapstructure:"api_key"`
}

type TimerConfig struct {
	TickSec int64 `mapstructure:"tick_sec"`
}

type LedgerConfig struct {
	Backend string `mapstructure:"backend"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type ChainConfig struct {
	RPCURL          string `mapstructure:"rpc_url"`
	ContractAddress string `mapstructure:"contract_address"`
	PrivateKey      string `mapstructure:"private_key"`
	Recipient       string `mapstructure:"recipient"`
	ChainID         int64  `mapstructure:"chain_id"`
}

type AuthConfig struct {
	Operators []string `mapstructure:"operators"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("terms.check_interval", 15)
	v.SetDefault("terms.max_checks", 2)
	v.SetDefault("terms.funding_amount", "5000000")
	v.SetDefault("terms.denom", "uakt")
	v.SetDefault("terms.brand", "uakt")
	v.SetDefault("terms.peg", "peg-channel-0-uakt")
	v.SetDefault("deployment.backend", BackendHTTP)
	v.SetDefault("timer.tick_sec", 1)
	v.SetDefault("ledger.backend", LedgerMemory)
	v.SetDefault("redis.addr", "redis:6379")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"terms.deployment_id":    "DEPLOYMENT_ID",
		"terms.check_interval":   "CHECK_INTERVAL",
		"terms.max_checks":       "MAX_CHECKS",
		"terms.funding_amount":   "FUNDING_AMOUNT",
		"terms.denom":            "FUNDING_DENOM",
		"terms.brand":            "RESERVE_BRAND",
		"terms.peg":              "BRIDGE_PEG",
		"deployment.backend":     "DEPLOYMENT_BACKEND",
		"deployment.api_url":     "DEPLOYMENT_API_URL",
		"deployment.api_key":     "DEPLOYMENT_API_KEY",
		"bridge.api_url":         "BRIDGE_API_URL",
		"bridge.api_key":         "BRIDGE_API_KEY",
		"timer.tick_sec":         "TIMER_TICK_SEC",
		"ledger.backend":         "LEDGER_BACKEND",
		"redis.addr":             "REDIS_ADDR",
		"redis.password":         "REDIS_PASSWORD",
		"chain.rpc_url":          "RPC_URL",
		"chain.contract_address": "DEPLOYMENT_CONTRACT",
		"chain.private_key":      "CHAIN_PRIVATE_KEY",
		"chain.recipient":        "DEPLOYMENT_RECIPIENT",
		"chain.chain_id":         "CHAIN_ID",
		"auth.operators":         "OPERATOR_ADDRESSES",
		"server.port":            "PORT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	required := []req{
		{c.Terms.DeploymentID, "DEPLOYMENT_ID"},
		{c.Bridge.APIURL, "BRIDGE_API_URL"},
	}
	switch c.Deployment.Backend {
	case BackendHTTP:
		required = append(required, req{c.Deployment.APIURL, "DEPLOYMENT_API_URL"})
	case BackendEVM:
		required = append(required,
			req{c.Chain.RPCURL, "RPC_URL"},
			req{c.Chain.ContractAddress, "DEPLOYMENT_CONTRACT"},
			req{c.Chain.PrivateKey, "CHAIN_PRIVATE_KEY"},
			req{c.Chain.Recipient, "DEPLOYMENT_RECIPIENT"},
		)
	default:
		return fmt.Errorf("unknown DEPLOYMENT_BACKEND %q (want %s or %s)", c.Deployment.Backend, BackendHTTP, BackendEVM)
	}
	for _, r := range required {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	if c.Deployment.Backend == BackendEVM && c.Chain.ChainID == 0 {
		return fmt.Errorf("required config missing: CHAIN_ID")
	}
	if len(c.Auth.Operators) == 0 {
		return fmt.Errorf("required config missing: OPERATOR_ADDRESSES")
	}
	switch c.Ledger.Backend {
	case LedgerMemory, LedgerRedis:
	default:
		return fmt.Errorf("unknown LEDGER_BACKEND %q (want %s or %s)", c.Ledger.Backend, LedgerMemory, LedgerRedis)
	}
	if c.Timer.TickSec <= 0 {
		return fmt.Errorf("TIMER_TICK_SEC must be positive, got %d", c.Timer.TickSec)
	}
	return nil
}
