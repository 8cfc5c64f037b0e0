package memcore

import (
	"strings"
	"time"
)

// Strategy selects the connection driver
type Strategy int

const (
	// MultiThreaded spreads connections over a pool of epoll workers
	MultiThreaded Strategy = iota

	// SingleThreaded runs every connection as a coroutine on one thread
	SingleThreaded
)

// String returns the strategy name used in configuration files
func (s Strategy) String() string {
	switch s {
	case MultiThreaded:
		return "multi-threaded"
	case SingleThreaded:
		return "single-threaded"
	default:
		return "unknown"
	}
}

// ParseStrategy parses a strategy name. Both the long names and the short
// forms "mt" and "st" are accepted.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "multi-threaded", "multithreaded", "mt":
		return MultiThreaded, nil
	case "single-threaded", "singlethreaded", "st":
		return SingleThreaded, nil
	default:
		return 0, &ConfigError{Field: "strategy", Value: name}
	}
}

// config holds the configuration for a Server
type config struct {
	listenAddr string
	strategy   Strategy

	// Driver settings
	workers        int
	readBufferSize int
	maxOutputQueue int
	maxEvents      int
	stackSnapshots bool

	// Storage settings
	shardCount int
	maxMemory  int64

	scriptTimeout time.Duration

	// Observability
	logger  Logger
	metrics MetricsCollector
}

// defaultConfig returns a configuration with sensible defaults
func defaultConfig() *config {
	return &config{
		listenAddr:     ":11211",
		strategy:       MultiThreaded,
		workers:        0, // one per CPU
		readBufferSize: 4096,
		maxOutputQueue: 4096,
		maxEvents:      128,
		shardCount:     64,
		maxMemory:      0, // unlimited
		scriptTimeout:  5 * time.Second,
		logger:         &defaultLogger{},
	}
}

// Option represents a configuration option for a Server
type Option func(*config) error

// WithListenAddr sets the address the server listens on
//
// Example:
//
//	WithListenAddr(":11211")
//	WithListenAddr("127.0.0.1:0") // pick a free port
func WithListenAddr(addr string) Option {
	return func(c *config) error {
		if addr == "" {
			return &ConnectionError{
				Addr: addr,
				Err:  ErrInvalidConfig,
			}
		}
		c.listenAddr = addr
		return nil
	}
}

// WithStrategy selects the connection driver
//
// Example:
//
//	WithStrategy(SingleThreaded)
func WithStrategy(s Strategy) Option {
	return func(c *config) error {
		if s != MultiThreaded && s != SingleThreaded {
			return &ConfigError{Field: "strategy", Value: s}
		}
		c.strategy = s
		return nil
	}
}

// WithWorkers sets the number of epoll workers of the multi-threaded driver.
// Zero means one worker per CPU. Ignored by SingleThreaded.
func WithWorkers(n int) Option {
	return func(c *config) error {
		if n < 0 {
			return &ConfigError{Field: "workers", Value: n}
		}
		c.workers = n
		return nil
	}
}

// WithReadBufferSize sets the per-connection read buffer size
func WithReadBufferSize(size int) Option {
	return func(c *config) error {
		if size < 64 {
			return &ConfigError{Field: "read_buffer", Value: size}
		}
		c.readBufferSize = size
		return nil
	}
}

// WithMaxOutputQueue bounds the replies buffered for a single connection.
// A connection that exceeds it is closed.
//
// Example:
//
//	WithMaxOutputQueue(1024)
func WithMaxOutputQueue(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return &ConfigError{Field: "max_output_queue", Value: n}
		}
		c.maxOutputQueue = n
		return nil
	}
}

// WithMaxEvents bounds the readiness events handled per poller wait
func WithMaxEvents(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return &ConfigError{Field: "max_events", Value: n}
		}
		c.maxEvents = n
		return nil
	}
}

// WithShardCount sets the number of storage shards, rounded up to a power of two
func WithShardCount(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return &ConfigError{Field: "shards", Value: n}
		}
		c.shardCount = n
		return nil
	}
}

// WithMaxMemory sets the maximum memory usage limit (0 = unlimited)
//
// Example:
//
//	WithMaxMemory(100 * 1024 * 1024) // 100MB limit
func WithMaxMemory(bytes int64) Option {
	return func(c *config) error {
		if bytes < 0 {
			return &ConfigError{Field: "max_memory", Value: bytes}
		}
		c.maxMemory = bytes
		return nil
	}
}

// WithStackSnapshots records coroutine stacks on every context switch of the
// single-threaded driver
func WithStackSnapshots(enabled bool) Option {
	return func(c *config) error {
		c.stackSnapshots = enabled
		return nil
	}
}

// WithScriptTimeout bounds the run time of a single Lua script
func WithScriptTimeout(d time.Duration) Option {
	return func(c *config) error {
		if d <= 0 {
			return &ConfigError{Field: "script_timeout", Value: d}
		}
		c.scriptTimeout = d
		return nil
	}
}

// WithLogger sets a custom logger
//
// Example:
//
//	WithLogger(myLogger)
func WithLogger(logger Logger) Option {
	return func(c *config) error {
		if logger == nil {
			return &ConfigError{Field: "logger", Value: nil}
		}
		c.logger = logger
		return nil
	}
}

// WithMetrics enables metrics collection
func WithMetrics(collector MetricsCollector) Option {
	return func(c *config) error {
		c.metrics = collector
		return nil
	}
}
