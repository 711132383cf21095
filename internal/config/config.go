package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/0xmhha/staking-indexer-go/internal/constants"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the indexer
type Config struct {
	Validator ValidatorConfig `yaml:"validator"`
	RPC       RPCConfig       `yaml:"rpc"`
	Database  DatabaseConfig  `yaml:"database"`
	Indexer   IndexerConfig   `yaml:"indexer"`
	Log       LogConfig       `yaml:"log"`
	Ops       OpsConfig       `yaml:"ops"`
}

// ValidatorConfig identifies the staking pool being indexed
type ValidatorConfig struct {
	// AccountID is the pool contract account, e.g. "example.pool.near"
	AccountID string `yaml:"account_id"`
}

// RPCConfig holds chain RPC endpoint configuration
type RPCConfig struct {
	// Primary is tried first for every call
	Primary string `yaml:"primary"`
	// Secondary receives failover traffic when the primary is exhausted
	Secondary string        `yaml:"secondary"`
	Timeout   time.Duration `yaml:"timeout"`
	// MaxRetries is the retry budget applied per endpoint
	MaxRetries int `yaml:"max_retries"`
}

// DatabaseConfig holds MongoDB connection configuration
type DatabaseConfig struct {
	URI  string `yaml:"uri"`
	Name string `yaml:"name"`
}

// IndexerConfig holds sync engine tuning
type IndexerConfig struct {
	// ParallelLimit bounds concurrent sub-batch fetches
	ParallelLimit int `yaml:"parallel_limit"`
	// BatchSize is the number of blocks per sub-batch
	BatchSize int `yaml:"batch_size"`
	// EpochBlocks is the number of blocks per epoch used for range planning
	EpochBlocks uint64 `yaml:"epoch_blocks"`
	// DelegatorBatchSize bounds delegator snapshots per persistence batch
	DelegatorBatchSize int `yaml:"delegator_batch_size"`
	// StartHeight is the genesis height used when no checkpoint exists
	StartHeight uint64 `yaml:"start_height"`
	// PollInterval is the wait between planning passes when caught up
	PollInterval time.Duration `yaml:"poll_interval"`
	// EpochsPerYear annualizes epoch reward rates for APY
	EpochsPerYear float64 `yaml:"epochs_per_year"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// OpsConfig holds the ops HTTP server configuration (/health, /metrics)
type OpsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults sets default values for the configuration
func (c *Config) SetDefaults() {
	if c.RPC.Timeout == 0 {
		c.RPC.Timeout = constants.DefaultRPCTimeout
	}
	if c.RPC.MaxRetries == 0 {
		c.RPC.MaxRetries = constants.DefaultMaxRetries
	}

	if c.Indexer.ParallelLimit == 0 {
		c.Indexer.ParallelLimit = constants.DefaultParallelLimit
	}
	if c.Indexer.BatchSize == 0 {
		c.Indexer.BatchSize = constants.DefaultBatchSize
	}
	if c.Indexer.EpochBlocks == 0 {
		c.Indexer.EpochBlocks = constants.DefaultEpochBlocks
	}
	if c.Indexer.DelegatorBatchSize == 0 {
		c.Indexer.DelegatorBatchSize = constants.DefaultDelegatorBatchSize
	}
	if c.Indexer.PollInterval == 0 {
		c.Indexer.PollInterval = constants.DefaultPollInterval
	}
	if c.Indexer.EpochsPerYear == 0 {
		c.Indexer.EpochsPerYear = constants.DefaultEpochsPerYear
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.Ops.Host == "" {
		c.Ops.Host = constants.DefaultOpsHost
	}
	if c.Ops.Port == 0 {
		c.Ops.Port = constants.DefaultOpsPort
	}
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables take precedence over file configuration.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("VALIDATOR_ACCOUNT_ID"); v != "" {
		c.Validator.AccountID = v
	}
	if v := os.Getenv("PRIMARY_RPC"); v != "" {
		c.RPC.Primary = v
	}
	if v := os.Getenv("SECONDARY_RPC"); v != "" {
		c.RPC.Secondary = v
	}
	if v := os.Getenv("RPC_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid RPC_TIMEOUT: %w", err)
		}
		c.RPC.Timeout = d
	}
	if v := os.Getenv("MONGO_URI"); v != "" {
		c.Database.URI = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.Database.Name = v
	}
	if v := os.Getenv("PARALLEL_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PARALLEL_LIMIT: %w", err)
		}
		c.Indexer.ParallelLimit = n
	}
	if v := os.Getenv("BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid BATCH_SIZE: %w", err)
		}
		c.Indexer.BatchSize = n
	}
	if v := os.Getenv("EPOCH_BLOCKS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid EPOCH_BLOCKS: %w", err)
		}
		c.Indexer.EpochBlocks = n
	}
	if v := os.Getenv("DELEGATOR_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DELEGATOR_BATCH_SIZE: %w", err)
		}
		c.Indexer.DelegatorBatchSize = n
	}
	if v := os.Getenv("START_HEIGHT"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid START_HEIGHT: %w", err)
		}
		c.Indexer.StartHeight = n
	}
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid POLL_INTERVAL: %w", err)
		}
		c.Indexer.PollInterval = d
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("OPS_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid OPS_ENABLED: %w", err)
		}
		c.Ops.Enabled = b
	}
	if v := os.Getenv("OPS_HOST"); v != "" {
		c.Ops.Host = v
	}
	if v := os.Getenv("OPS_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid OPS_PORT: %w", err)
		}
		c.Ops.Port = n
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Validator.AccountID == "" {
		return fmt.Errorf("validator account id is required (set VALIDATOR_ACCOUNT_ID)")
	}
	if c.RPC.Primary == "" {
		return fmt.Errorf("primary RPC endpoint is required (set PRIMARY_RPC)")
	}
	if c.RPC.Secondary == "" {
		return fmt.Errorf("secondary RPC endpoint is required (set SECONDARY_RPC)")
	}
	if c.RPC.Timeout <= 0 {
		return fmt.Errorf("RPC timeout must be positive")
	}
	if c.Database.URI == "" {
		return fmt.Errorf("database URI is required (set MONGO_URI)")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required (set DB_NAME)")
	}
	if c.Indexer.ParallelLimit <= 0 {
		return fmt.Errorf("parallel limit must be positive")
	}
	if c.Indexer.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.Indexer.EpochBlocks == 0 {
		return fmt.Errorf("epoch blocks must be positive")
	}
	if c.Indexer.DelegatorBatchSize <= 0 {
		return fmt.Errorf("delegator batch size must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.Log.Format)
	}

	return nil
}

// Load is a convenience method that loads configuration in the following order:
// 1. Load from file (if provided)
// 2. Load from environment variables (override file)
// 3. Set defaults for any missing values
// 4. Validate
func Load(configFile string) (*Config, error) {
	cfg := &Config{}

	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
