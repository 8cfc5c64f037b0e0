package network

import (
	"github.com/raniellyferreira/memcore/execute"
	"github.com/raniellyferreira/memcore/storage"
)

// Config is shared by every session of a driver
type Config struct {
	// ReadBufferSize is the capacity of each session's read buffer
	ReadBufferSize int

	// MaxOutputQueue bounds the number of replies a session buffers
	MaxOutputQueue int

	// MaxEvents bounds the readiness events handled per poller wait
	MaxEvents int

	Storage  storage.Storage
	Factory  *execute.Factory
	Logger   Logger
	Observer Observer
}

// Normalize returns a copy of c with zero fields set to their defaults
func (c Config) Normalize() Config {
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = 4096
	}
	if c.MaxOutputQueue <= 0 {
		c.MaxOutputQueue = 4096
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = 128
	}
	if c.Storage == nil {
		c.Storage = storage.NewMemory()
	}
	if c.Factory == nil {
		c.Factory = execute.NewFactory()
	}
	if c.Logger == nil {
		c.Logger = nopLogger{}
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}
	return c
}

