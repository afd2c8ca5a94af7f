package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"lendledger/crypto"
	"lendledger/native/lending"
	"lendledger/observability/logging"
)

const (
	envListen         = "LENDINGD_LISTEN"
	envEnvironment    = "LENDINGD_ENV"
	envOperator       = "LENDINGD_OPERATOR"
	envStorageBackend = "LENDINGD_STORAGE_BACKEND"
	envStoragePath    = "LENDINGD_STORAGE_PATH"
	envAuthEnabled    = "LENDINGD_AUTH_ENABLED"
	envJWTSecret      = "LENDINGD_JWT_SECRET"
	envJournalDriver  = "LENDINGD_JOURNAL_DRIVER"
	envJournalDSN     = "LENDINGD_JOURNAL_DSN"
	envLogLevel       = "LENDINGD_LOG_LEVEL"
	envLogFile        = "LENDINGD_LOG_FILE"
	envOTLPEndpoint   = "LENDINGD_OTLP_ENDPOINT"

	defaultListen         = ":8088"
	defaultStorageBackend = "leveldb"
	defaultStoragePath    = "./data/lendingd"
	defaultAssetSymbol    = "USDX"
	defaultCollateral     = "COLL"
	defaultEventBacklog   = 256
	defaultRequestTimeout = 10
	defaultAudience       = "lendledger"
	defaultIssuer         = "lendingd"
)

// Config captures the runtime settings for the lending daemon.
type Config struct {
	ListenAddress  string                     `yaml:"listen" toml:"listen"`
	Environment    string                     `yaml:"environment" toml:"environment"`
	Operator       string                     `yaml:"operator" toml:"operator"`
	Storage        StorageConfig              `yaml:"storage" toml:"storage"`
	Lending        lending.Config             `yaml:"lending" toml:"lending"`
	Assets         AssetsConfig               `yaml:"assets" toml:"assets"`
	Genesis        []GenesisBalance           `yaml:"genesis" toml:"genesis"`
	Auth           AuthConfig                 `yaml:"auth" toml:"auth"`
	RateLimits     map[string]RateLimitConfig `yaml:"rate_limits" toml:"rate_limits"`
	Journal        JournalConfig              `yaml:"journal" toml:"journal"`
	EventBacklog   int                        `yaml:"event_backlog" toml:"event_backlog"`
	RequestTimeout int                        `yaml:"request_timeout_seconds" toml:"request_timeout_seconds"`
	Logging        LoggingConfig              `yaml:"logging" toml:"logging"`
	Telemetry      TelemetryConfig            `yaml:"telemetry" toml:"telemetry"`
}

// StorageConfig selects the key-value backend holding ledger state.
type StorageConfig struct {
	Backend string `yaml:"backend" toml:"backend"`
	Path    string `yaml:"path" toml:"path"`
}

// TokenConfig registers one fungible token.
type TokenConfig struct {
	Symbol   string `yaml:"symbol" toml:"symbol"`
	Name     string `yaml:"name" toml:"name"`
	Decimals uint8  `yaml:"decimals" toml:"decimals"`
}

// AssetsConfig names the lendable asset and the collateral asset.
type AssetsConfig struct {
	Asset      TokenConfig `yaml:"asset" toml:"asset"`
	Collateral TokenConfig `yaml:"collateral" toml:"collateral"`
}

// GenesisBalance is minted once, when the ledger is first initialised.
type GenesisBalance struct {
	Address string `yaml:"address" toml:"address"`
	Symbol  string `yaml:"symbol" toml:"symbol"`
	Amount  string `yaml:"amount" toml:"amount"`
}

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	Enabled          bool   `yaml:"enabled" toml:"enabled"`
	HMACSecret       string `yaml:"hmac_secret" toml:"hmac_secret"`
	Issuer           string `yaml:"issuer" toml:"issuer"`
	Audience         string `yaml:"audience" toml:"audience"`
	ClockSkewSeconds int    `yaml:"clock_skew_seconds" toml:"clock_skew_seconds"`
}

// RateLimitConfig is a token bucket per client and route group.
type RateLimitConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second" toml:"rate_per_second"`
	Burst         int     `yaml:"burst" toml:"burst"`
}

// JournalConfig selects the relational store for the event journal. An
// empty or "none" driver disables it.
type JournalConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
}

type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint" toml:"endpoint"`
	Insecure    bool    `yaml:"insecure" toml:"insecure"`
	Traces      bool    `yaml:"traces" toml:"traces"`
	Metrics     bool    `yaml:"metrics" toml:"metrics"`
	SampleRatio float64 `yaml:"sample_ratio" toml:"sample_ratio"`
}

// Load reads the YAML or TOML configuration from disk, applies environment
// overrides and validates the result. Files ending in .toml are decoded as
// TOML.
func Load(path string) (Config, error) {
	cfg := Config{}
	if strings.TrimSpace(path) == "" {
		return cfg, fmt.Errorf("config path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() {
	cfg.ListenAddress = stringFromEnv(envListen, cfg.ListenAddress)
	cfg.Environment = stringFromEnv(envEnvironment, cfg.Environment)
	cfg.Operator = stringFromEnv(envOperator, cfg.Operator)
	cfg.Storage.Backend = stringFromEnv(envStorageBackend, cfg.Storage.Backend)
	cfg.Storage.Path = stringFromEnv(envStoragePath, cfg.Storage.Path)
	cfg.Auth.Enabled = boolFromEnv(envAuthEnabled, cfg.Auth.Enabled)
	cfg.Auth.HMACSecret = stringFromEnv(envJWTSecret, cfg.Auth.HMACSecret)
	cfg.Journal.Driver = stringFromEnv(envJournalDriver, cfg.Journal.Driver)
	cfg.Journal.DSN = stringFromEnv(envJournalDSN, cfg.Journal.DSN)
	cfg.Logging.Level = stringFromEnv(envLogLevel, cfg.Logging.Level)
	cfg.Logging.File = stringFromEnv(envLogFile, cfg.Logging.File)
	cfg.Telemetry.Endpoint = stringFromEnv(envOTLPEndpoint, cfg.Telemetry.Endpoint)
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	cfg.Operator = strings.TrimSpace(cfg.Operator)
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = defaultStorageBackend
	}
	cfg.Storage.Path = strings.TrimSpace(cfg.Storage.Path)
	if cfg.Storage.Path == "" && cfg.Storage.Backend != "memory" {
		cfg.Storage.Path = defaultStoragePath
	}
	cfg.Assets.Asset.normalize(defaultAssetSymbol, "Lendable Asset")
	cfg.Assets.Collateral.normalize(defaultCollateral, "Collateral Asset")
	for i := range cfg.Genesis {
		cfg.Genesis[i].Address = strings.TrimSpace(cfg.Genesis[i].Address)
		cfg.Genesis[i].Symbol = strings.ToUpper(strings.TrimSpace(cfg.Genesis[i].Symbol))
		cfg.Genesis[i].Amount = strings.TrimSpace(cfg.Genesis[i].Amount)
	}
	cfg.Auth.HMACSecret = strings.TrimSpace(cfg.Auth.HMACSecret)
	if strings.TrimSpace(cfg.Auth.Issuer) == "" {
		cfg.Auth.Issuer = defaultIssuer
	}
	if strings.TrimSpace(cfg.Auth.Audience) == "" {
		cfg.Auth.Audience = defaultAudience
	}
	cfg.Journal.Driver = strings.ToLower(strings.TrimSpace(cfg.Journal.Driver))
	cfg.Journal.DSN = strings.TrimSpace(cfg.Journal.DSN)
	if cfg.EventBacklog <= 0 {
		cfg.EventBacklog = defaultEventBacklog
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
}

func (t *TokenConfig) normalize(symbol, name string) {
	t.Symbol = strings.ToUpper(strings.TrimSpace(t.Symbol))
	if t.Symbol == "" {
		t.Symbol = symbol
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		t.Name = name
	}
	if t.Decimals == 0 {
		t.Decimals = lending.FixedDecimals
	}
}

func (cfg *Config) validate() error {
	if cfg.Operator == "" {
		return fmt.Errorf("operator address is required")
	}
	if _, err := crypto.DecodeAddress(cfg.Operator); err != nil {
		return fmt.Errorf("operator: %w", err)
	}
	if _, err := cfg.Lending.RiskParameters(); err != nil {
		return fmt.Errorf("lending: %w", err)
	}
	switch cfg.Storage.Backend {
	case "memory", "leveldb", "bolt":
	default:
		return fmt.Errorf("storage: unsupported backend %q", cfg.Storage.Backend)
	}
	if cfg.Assets.Asset.Symbol == cfg.Assets.Collateral.Symbol {
		return fmt.Errorf("assets: asset and collateral must differ")
	}
	for i, entry := range cfg.Genesis {
		if _, err := crypto.DecodeAddress(entry.Address); err != nil {
			return fmt.Errorf("genesis[%d]: address: %w", i, err)
		}
		if entry.Symbol != cfg.Assets.Asset.Symbol && entry.Symbol != cfg.Assets.Collateral.Symbol {
			return fmt.Errorf("genesis[%d]: unknown symbol %q", i, entry.Symbol)
		}
		if _, err := uint256.FromDecimal(entry.Amount); err != nil {
			return fmt.Errorf("genesis[%d]: amount: %w", i, err)
		}
	}
	if cfg.Auth.Enabled && cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth: hmac_secret is required when auth is enabled")
	}
	if !cfg.Auth.Enabled && cfg.Environment != "dev" && cfg.Environment != "test" {
		return fmt.Errorf("auth: disabling authentication is restricted to dev or test environments")
	}
	for key, limit := range cfg.RateLimits {
		if limit.RatePerSecond < 0 || limit.Burst < 0 {
			return fmt.Errorf("rate_limits.%s: values must be non-negative", key)
		}
	}
	switch cfg.Journal.Driver {
	case "", "none", "sqlite":
	case "postgres":
		if cfg.Journal.DSN == "" {
			return fmt.Errorf("journal: postgres requires a dsn")
		}
	default:
		return fmt.Errorf("journal: unsupported driver %q", cfg.Journal.Driver)
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0, 1]")
	}
	return nil
}

// JournalEnabled reports whether events are persisted to the journal.
func (cfg Config) JournalEnabled() bool {
	return cfg.Journal.Driver != "" && cfg.Journal.Driver != "none"
}

// Sanitized returns a copy of the Config with secrets masked for logging.
func (cfg Config) Sanitized() Config {
	clone := cfg
	clone.Auth.HMACSecret = logging.MaskValue(clone.Auth.HMACSecret)
	clone.Journal.DSN = logging.MaskValue(clone.Journal.DSN)
	return clone
}

func stringFromEnv(key, fallback string) string {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

func boolFromEnv(key string, fallback bool) bool {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return fallback
	}
	return parsed
}
