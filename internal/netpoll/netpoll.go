// Package netpoll wraps the operating system readiness multiplexer and raw
// nonblocking sockets used by the network drivers.
package netpoll

import "errors"

// ErrUnsupported is returned on platforms without a readiness multiplexer
var ErrUnsupported = errors.New("netpoll: unsupported platform")

// ErrClosed is returned by a Poller after Close
var ErrClosed = errors.New("netpoll: poller closed")

// Interest is the set of readiness conditions a descriptor is watched for
type Interest uint8

const (
	// Read watches for readable data or an incoming connection
	Read Interest = 1 << iota
	// Write watches for space in the send buffer
	Write
)

// Event is the readiness reported for a descriptor
type Event uint8

const (
	// EventRead means the descriptor is readable
	EventRead Event = 1 << iota
	// EventWrite means the descriptor is writable
	EventWrite
	// EventHangup means the peer closed or the descriptor failed
	EventHangup
)

// Readable reports whether a read would make progress
func (e Event) Readable() bool {
	return e&(EventRead|EventHangup) != 0
}

// Writable reports whether a write would make progress
func (e Event) Writable() bool {
	return e&(EventWrite|EventHangup) != 0
}
