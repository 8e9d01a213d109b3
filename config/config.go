package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

var (
	TimeoutMillisDefault int                          = 3000
	GlobalConfigCallback ConfigCallback[GlobalConfig] = ConfigCallback[GlobalConfig]{}
	CfgFlag                                           = flag.String("config", "config.toml", "Configuration file (toml format)")

	BackoffMaxElapsedTime = 30 * time.Second
)

type GlobalConfig interface {
	LoggerConfig() LoggerConfig
	ChainConfig() ChainConfig
}

type Config struct {
	Server     ServerConfig     `toml:"server"`
	Auth       AuthConfig       `toml:"auth"`
	DB         DBConfig         `toml:"db"`
	Logger     LoggerConfig     `toml:"logger"`
	Chain      ChainConfig      `toml:"chain"`
	Auction    AuctionConfig    `toml:"auction"`
	Reconciler ReconcilerConfig `toml:"reconciler"`
}

type ServerConfig struct {
	Host string `toml:"host" envconfig:"SERVER_HOST"`
	Port int    `toml:"port" envconfig:"SERVER_PORT"`
}

type AuthConfig struct {
	Secret      string `toml:"secret" envconfig:"AUTH_SECRET"`
	TokenMaxAge int    `toml:"token_max_age"` // In seconds, 0 means 24h
}

type LoggerConfig struct {
	Level       string `toml:"level"` // valid values are: DEBUG, INFO, WARN, ERROR, DPANIC, PANIC, FATAL (zap)
	File        string `toml:"file"`
	MaxFileSize int    `toml:"max_file_size"` // In megabytes
	Console     bool   `toml:"console"`
}

type DBConfig struct {
	Host             string `toml:"host" envconfig:"DB_HOST"`
	Port             int    `toml:"port" envconfig:"DB_PORT"`
	Database         string `toml:"database" envconfig:"DB_DATABASE"`
	Username         string `toml:"username" envconfig:"DB_USERNAME"`
	Password         string `toml:"password" envconfig:"DB_PASSWORD"`
	LogQueries       bool   `toml:"log_queries"`
	DropTableAtStart bool   `toml:"drop_table_at_start"`
}

type ChainConfig struct {
	NodeURL string `toml:"node_url" envconfig:"CHAIN_NODE_URL"`
}

type AuctionConfig struct {
	// Operator key used to sign deploy and auctionEnd transactions.
	PrivateKey string `toml:"private_key" envconfig:"AUCTION_PRIVATE_KEY"`
	// Hardhat-style artifact holding the compiled SimpleAuction bytecode.
	ContractArtifact string `toml:"contract_artifact"`
	TimeoutMillis    int    `toml:"timeout_millis"`
	GasLimit         uint64 `toml:"gas_limit"`
}

type ReconcilerConfig struct {
	Enabled       bool `toml:"enabled"`
	IntervalSec   int  `toml:"interval_sec"`
	LogRange      int  `toml:"log_range"`
	TimeoutMillis int  `toml:"timeout_millis"`
}

func newConfig() *Config {
	return &Config{}
}

func BuildConfig() (*Config, error) {
	cfgFileName := *CfgFlag

	cfg := newConfig()
	err := ParseConfigFile(cfg, cfgFileName)
	if err != nil {
		return nil, err
	}
	err = ReadEnv(cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func ParseConfigFile(cfg *Config, fileName string) error {
	content, err := os.ReadFile(fileName)
	if err != nil {
		return fmt.Errorf("error opening config file: %w", err)
	}

	_, err = toml.Decode(string(content), cfg)
	if err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}
	return nil
}

func ReadEnv(cfg interface{}) error {
	err := envconfig.Process("", cfg)
	if err != nil {
		return fmt.Errorf("error reading env config: %w", err)
	}
	return nil
}

func (c Config) LoggerConfig() LoggerConfig {
	return c.Logger
}

func (c Config) ChainConfig() ChainConfig {
	return c.Chain
}

func (c AuctionConfig) Timeout() time.Duration {
	if c.TimeoutMillis == 0 {
		return time.Duration(TimeoutMillisDefault) * time.Millisecond
	}
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

func (c AuthConfig) MaxAge() time.Duration {
	if c.TokenMaxAge == 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.TokenMaxAge) * time.Second
}

func (c ReconcilerConfig) Interval() time.Duration {
	if c.IntervalSec == 0 {
		return time.Minute
	}
	return time.Duration(c.IntervalSec) * time.Second
}

func (c ReconcilerConfig) Timeout() time.Duration {
	if c.TimeoutMillis == 0 {
		return time.Duration(TimeoutMillisDefault) * time.Millisecond
	}
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}
