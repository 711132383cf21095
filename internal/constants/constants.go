package constants

import "time"

// Indexer Constants
const (
	// DefaultParallelLimit is the default number of concurrent sub-batch fetches
	DefaultParallelLimit = 35

	// DefaultBatchSize is the default number of blocks per sub-batch
	DefaultBatchSize = 10

	// DefaultEpochBlocks is the default number of blocks per epoch
	DefaultEpochBlocks = 43200

	// DefaultDelegatorBatchSize is the default number of delegator snapshots
	// written per persistence batch
	DefaultDelegatorBatchSize = 1000

	// DefaultPollInterval is how long the engine waits when caught up with the chain
	DefaultPollInterval = 30 * time.Second
)

// RPC Constants
const (
	// DefaultRPCTimeout is the default timeout for a single RPC request
	DefaultRPCTimeout = 30 * time.Second

	// DefaultMaxRetries is the default retry budget per endpoint
	DefaultMaxRetries = 5

	// DefaultInitialBackoff is the starting delay for exponential backoff
	DefaultInitialBackoff = time.Second

	// DefaultMaxBackoff caps the exponential backoff delay
	DefaultMaxBackoff = 60 * time.Second

	// DefaultBreakerFailures is the consecutive-failure count that opens
	// an endpoint's circuit breaker
	DefaultBreakerFailures = 3

	// DefaultBreakerCooldown is how long an opened endpoint stays cooling down
	DefaultBreakerCooldown = 30 * time.Second

	// AccountsPageLimit is the page size for pool contract get_accounts queries
	AccountsPageLimit = 1000
)

// Rewards Constants
const (
	// DefaultEpochsPerYear annualizes epoch reward rates (365 days, 2 epochs per day)
	DefaultEpochsPerYear = 730.0
)

// Persistence Constants
const (
	// DefaultConnectTimeout is the timeout for the initial database connection
	DefaultConnectTimeout = 10 * time.Second

	// MetricsHistoryLimit caps the rolling history kept on validator metrics documents
	MetricsHistoryLimit = 100
)

// Ops Server Constants
const (
	// DefaultOpsHost is the default ops HTTP server host
	DefaultOpsHost = "localhost"

	// DefaultOpsPort is the default ops HTTP server port
	DefaultOpsPort = 8080

	// DefaultShutdownTimeout is the default graceful shutdown timeout
	DefaultShutdownTimeout = 30 * time.Second
)
