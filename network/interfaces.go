package network

import (
	"errors"
	"net"
	"time"
)

// ErrOverflow is raised when a reply would grow the output queue past its
// bound. The session is closed.
var ErrOverflow = errors.New("network: output queue overflow")

// ErrServerClosed is returned by drivers stopped before or while starting
var ErrServerClosed = errors.New("network: server closed")

// Socket is the nonblocking byte stream a session runs on. Read and Write
// return an error satisfying iox.IsWouldBlock when they cannot make
// progress, and Read returns io.EOF once the peer has closed.
type Socket interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Server is a connection driver
type Server interface {
	// Start binds addr and begins serving. It returns once the listening
	// socket is ready.
	Start(addr string) error

	// Stop closes every session and releases all resources
	Stop() error

	// Addr returns the bound address, or nil before Start
	Addr() net.Addr

	// Stats returns the server counters
	Stats() ServerStats
}

// ServerStats holds driver counters
type ServerStats struct {
	Accepted uint64
	Active   int64
	Closed   uint64
}

// Logger interface for session and driver logging
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// Observer receives session events, typically to feed a metrics collector.
// It is called from driver goroutines and must be safe for concurrent use.
type Observer interface {
	CommandProcessed(cmd string, duration time.Duration)
	BytesRead(n int)
	BytesWritten(n int)
	SessionClosed(err error)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type nopObserver struct{}

func (nopObserver) CommandProcessed(string, time.Duration) {}
func (nopObserver) BytesRead(int)                          {}
func (nopObserver) BytesWritten(int)                       {}
func (nopObserver) SessionClosed(error)                    {}
