package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig         `yaml:"store" mapstructure:"store"`
	Server       ServerConfig        `yaml:"server" mapstructure:"server"`
	Log          LogConfig           `yaml:"log" mapstructure:"log"`
	Auth         AuthConfig          `yaml:"auth" mapstructure:"auth"`
	Registry     RegistryConfig      `yaml:"registry" mapstructure:"registry"`
	Bonds        BondsConfig         `yaml:"bonds" mapstructure:"bonds"`
	Resolvers    []ResolverConfig    `yaml:"resolvers" mapstructure:"resolvers"`
	Adjudicators []AdjudicatorConfig `yaml:"adjudicators" mapstructure:"adjudicators"`
	Custodian    CustodianConfig     `yaml:"custodian" mapstructure:"custodian"`
	Relay        RelayConfig         `yaml:"relay" mapstructure:"relay"`
}

// StoreConfig selects the claim store. Driver is "memory" or "postgres".
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// AuthConfig holds the token secret and the principals allowed to log in.
type AuthConfig struct {
	JWTSecret  string            `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	TokenTTL   time.Duration     `yaml:"token_ttl" mapstructure:"token_ttl"`
	Principals []PrincipalConfig `yaml:"principals" mapstructure:"principals"`
}

// PrincipalConfig is one login identity. SecretHash is a bcrypt hash.
type PrincipalConfig struct {
	ID           string   `yaml:"id" mapstructure:"id"`
	SecretHash   string   `yaml:"secret_hash" mapstructure:"secret_hash"`
	Capabilities []string `yaml:"capabilities" mapstructure:"capabilities"`
}

// RegistryConfig names the privileged principals and registry defaults.
type RegistryConfig struct {
	Owner                string        `yaml:"owner" mapstructure:"owner"`
	FinalAuthority       string        `yaml:"final_authority" mapstructure:"final_authority"`
	Treasury             string        `yaml:"treasury" mapstructure:"treasury"`
	DefaultDisputeWindow time.Duration `yaml:"default_dispute_window" mapstructure:"default_dispute_window"`
}

// BondsConfig lists the accepted (asset, minimum) pairs per bond class.
type BondsConfig struct {
	Resolution []RequirementConfig `yaml:"resolution" mapstructure:"resolution"`
	Dispute    []RequirementConfig `yaml:"dispute" mapstructure:"dispute"`
	Escalation []RequirementConfig `yaml:"escalation" mapstructure:"escalation"`
}

// RequirementConfig keeps Min as a string so large base-unit amounts survive
// YAML and environment parsing.
type RequirementConfig struct {
	Asset string `yaml:"asset" mapstructure:"asset"`
	Min   string `yaml:"min" mapstructure:"min"`
}

// ResolverConfig registers one built-in optimistic resolver.
type ResolverConfig struct {
	ID         string `yaml:"id" mapstructure:"id"`
	Trust      string `yaml:"trust" mapstructure:"trust"`
	Deprecated bool   `yaml:"deprecated" mapstructure:"deprecated"`
	Review     bool   `yaml:"review" mapstructure:"review"`
}

// AdjudicatorConfig registers one adjudicator. Non-zero minimum windows
// install a hook that refuses claims with shorter review windows.
type AdjudicatorConfig struct {
	ID                   string        `yaml:"id" mapstructure:"id"`
	Whitelisted          bool          `yaml:"whitelisted" mapstructure:"whitelisted"`
	Vouches              []string      `yaml:"vouches" mapstructure:"vouches"`
	MinAdjudicatorWindow time.Duration `yaml:"min_adjudicator_window" mapstructure:"min_adjudicator_window"`
	MinEscalationWindow  time.Duration `yaml:"min_escalation_window" mapstructure:"min_escalation_window"`
}

// CustodianConfig seeds the in-memory custodian used in development.
type CustodianConfig struct {
	Accounts []AccountConfig `yaml:"accounts" mapstructure:"accounts"`
}

type AccountConfig struct {
	Party  string `yaml:"party" mapstructure:"party"`
	Asset  string `yaml:"asset" mapstructure:"asset"`
	Amount string `yaml:"amount" mapstructure:"amount"`
}

// RelayConfig tunes the outbox relay.
type RelayConfig struct {
	Interval      time.Duration `yaml:"interval" mapstructure:"interval"`
	BatchSize     int           `yaml:"batch_size" mapstructure:"batch_size"`
	MaxAttempts   int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	RatePerSecond float64       `yaml:"rate_per_second" mapstructure:"rate_per_second"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VERITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.database_url", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("registry.owner", "")
	v.SetDefault("registry.final_authority", "")
	v.SetDefault("registry.treasury", "treasury")
	v.SetDefault("registry.default_dispute_window", "2h")
	v.SetDefault("bonds.resolution", []map[string]any{{"asset": "native", "min": "1000"}})
	v.SetDefault("bonds.dispute", []map[string]any{{"asset": "native", "min": "1000"}})
	v.SetDefault("bonds.escalation", []map[string]any{{"asset": "native", "min": "2000"}})
	v.SetDefault("resolvers", []map[string]any{{"id": "optimistic", "trust": "permissionless"}})
	v.SetDefault("relay.interval", "1s")
	v.SetDefault("relay.batch_size", 100)
	v.SetDefault("relay.max_attempts", 5)
	v.SetDefault("relay.rate_per_second", 20.0)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings a command depends on are present.
func (c *Config) Validate(command string) error {
	var problems []string
	requireDB := func() {
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	}

	switch command {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
		}
		if c.Auth.JWTSecret == "" {
			problems = append(problems, "auth.jwt_secret is required")
		}
		if c.Registry.Owner == "" {
			problems = append(problems, "registry.owner is required")
		}
		if c.Registry.FinalAuthority == "" {
			problems = append(problems, "registry.final_authority is required")
		}
		switch c.Store.Driver {
		case "memory":
		case "postgres":
			requireDB()
		default:
			problems = append(problems, fmt.Sprintf("store.driver %q is not memory or postgres", c.Store.Driver))
		}
	case "migrate":
		requireDB()
	case "relay":
		if c.Store.Driver != "postgres" {
			problems = append(problems, "relay requires store.driver postgres")
		}
		requireDB()
	case "hash-secret":
	default:
		return eris.Errorf("config: unknown command %q", command)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
