//go:build !linux

package netpoll

import (
	"net"
	"time"
)

// Poller is unavailable on this platform
type Poller struct{}

// NewPoller always fails with ErrUnsupported
func NewPoller(maxEvents int) (*Poller, error) {
	return nil, ErrUnsupported
}

func (p *Poller) Add(fd int, interest Interest) error    { return ErrUnsupported }
func (p *Poller) Modify(fd int, interest Interest) error { return ErrUnsupported }
func (p *Poller) Remove(fd int) error                    { return ErrUnsupported }
func (p *Poller) Wake() error                            { return ErrUnsupported }
func (p *Poller) Close() error                           { return nil }

func (p *Poller) Wait(timeout time.Duration, fn func(fd int, ev Event)) (int, error) {
	return 0, ErrUnsupported
}

// Listen always fails with ErrUnsupported
func Listen(addr string) (int, *net.TCPAddr, error) {
	return -1, nil, ErrUnsupported
}

// Accept always fails with ErrUnsupported
func Accept(fd int) (int, *net.TCPAddr, error) {
	return -1, nil, ErrUnsupported
}

// CloseFD is a no-op on this platform
func CloseFD(fd int) error {
	return ErrUnsupported
}

// Socket is unavailable on this platform
type Socket struct {
	fd int
}

// NewSocket wraps a descriptor
func NewSocket(fd int) *Socket {
	return &Socket{fd: fd}
}

func (s *Socket) FD() int                     { return s.fd }
func (s *Socket) Read(p []byte) (int, error)  { return 0, ErrUnsupported }
func (s *Socket) Write(p []byte) (int, error) { return 0, ErrUnsupported }
func (s *Socket) Close() error                { return ErrUnsupported }
