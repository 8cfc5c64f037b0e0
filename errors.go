package memcore

import (
	"errors"
	"fmt"

	"github.com/raniellyferreira/memcore/network"
)

// Error types for specific failure scenarios
var (
	// ErrInvalidConfig indicates invalid configuration options
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrAlreadyStarted indicates Start was called twice
	ErrAlreadyStarted = errors.New("server already started")

	// ErrClosed indicates the server has been closed
	ErrClosed = errors.New("server is closed")

	// ErrOverflow is the error recorded on connections closed because their
	// output queue overflowed
	ErrOverflow = network.ErrOverflow
)

// ConnectionError represents a failure to bind or serve an address
type ConnectionError struct {
	Addr string
	Err  error
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error on %s: %v", e.Addr, e.Err)
}

// Unwrap returns the wrapped error
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ConfigError reports an invalid configuration value
type ConfigError struct {
	Field string
	Value interface{}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s = %v", e.Field, e.Value)
}

// Unwrap returns ErrInvalidConfig
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}
