package storage

import (
	"errors"
	"time"
)

// ErrMemoryLimit is returned when a write would grow the storage past its
// configured memory limit.
var ErrMemoryLimit = errors.New("memory limit exceeded")

// ErrClosed is returned by writes issued after Close.
var ErrClosed = errors.New("storage is closed")

// Action tells Update what to do with the key once the update function returns.
type Action int

const (
	// Keep leaves the key untouched.
	Keep Action = iota
	// Store replaces (or creates) the key with the returned value.
	Store
	// Remove deletes the key.
	Remove
)

// UpdateFunc computes the next value of a key from its current one. It runs
// while the key's shard is locked and must not call back into the storage.
// It may run more than once for a single Update when the first attempt hit
// the memory limit and expired values were reclaimed.
type UpdateFunc func(current []byte, found bool) (next []byte, action Action)

// Storage defines the interface for data storage operations
type Storage interface {
	// Put stores value under key, replacing any previous value.
	Put(key string, value []byte) error

	// Get returns a copy of the value stored under key.
	Get(key string) ([]byte, bool)

	// Delete removes key and reports whether it existed.
	Delete(key string) bool

	// Update atomically applies fn to key. It reports whether the key was
	// written or removed.
	Update(key string, fn UpdateFunc) (bool, error)

	// Len returns the number of stored keys.
	Len() int64

	// MemoryUsage returns the approximate number of bytes held.
	MemoryUsage() int64

	// Close releases the storage.
	Close() error
}

// ExpiredFunc reports whether a stored value is dead at now. The storage is
// value-agnostic; the command layer supplies the decoding.
type ExpiredFunc func(value []byte, now time.Time) bool

// CleanupConfig holds configuration for incremental expiry cleanup
type CleanupConfig struct {
	// Interval between background cleanup cycles
	Interval time.Duration
	// SampleSize is the number of keys to sample per round
	SampleSize int
	// MaxRounds is the maximum number of rounds per shard and cycle
	MaxRounds int
	// BatchSize is the number of keys to delete in each batch
	BatchSize int
	// ExpiredThreshold continues cleanup if this share of sampled keys expired
	ExpiredThreshold float64
}

// CleanupConfigDefault provides balanced performance for most use cases
var CleanupConfigDefault = CleanupConfig{
	Interval:         time.Second,
	SampleSize:       20,
	MaxRounds:        4,
	BatchSize:        10,
	ExpiredThreshold: 0.25,
}
