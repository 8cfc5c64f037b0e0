//go:build linux

package netpoll

import (
	"io"
	"net"

	"code.hybscloud.com/iox"
	"golang.org/x/sys/unix"
)

// Listen opens a nonblocking TCP listening socket bound to addr and returns
// its descriptor together with the address actually bound.
func Listen(addr string) (int, *net.TCPAddr, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return -1, nil, err
	}

	var (
		family = unix.AF_INET
		sa     unix.Sockaddr
	)
	if ip4 := tcpAddr.IP.To4(); tcpAddr.IP == nil || ip4 != nil {
		inet4 := &unix.SockaddrInet4{Port: tcpAddr.Port}
		if ip4 != nil {
			copy(inet4.Addr[:], ip4)
		}
		sa = inet4
	} else {
		family = unix.AF_INET6
		inet6 := &unix.SockaddrInet6{Port: tcpAddr.Port}
		copy(inet6.Addr[:], tcpAddr.IP.To16())
		sa = inet6
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, nil, err
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, nil, err
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return -1, nil, err
	}
	return fd, toTCPAddr(bound), nil
}

func toTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), sa.Addr[:]...)), Port: sa.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), sa.Addr[:]...)), Port: sa.Port}
	default:
		return &net.TCPAddr{}
	}
}

// Accept takes one pending connection off a listening socket. The new
// descriptor is nonblocking and has TCP_NODELAY set. It returns
// iox.ErrWouldBlock when no connection is pending.
func Accept(fd int) (int, *net.TCPAddr, error) {
	for {
		nfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch err {
		case nil:
			_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
			return nfd, toTCPAddr(sa), nil
		case unix.EINTR, unix.ECONNABORTED:
			continue
		case unix.EAGAIN:
			return -1, nil, iox.ErrWouldBlock
		default:
			return -1, nil, err
		}
	}
}

// CloseFD closes a raw descriptor
func CloseFD(fd int) error {
	return unix.Close(fd)
}

// Socket is a nonblocking stream socket
type Socket struct {
	fd int
}

// NewSocket wraps a nonblocking descriptor
func NewSocket(fd int) *Socket {
	return &Socket{fd: fd}
}

// FD returns the underlying descriptor
func (s *Socket) FD() int {
	return s.fd
}

// Read reads available bytes. It returns iox.ErrWouldBlock when nothing is
// available and io.EOF once the peer has closed.
func (s *Socket) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(s.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, iox.ErrWouldBlock
		case err != nil:
			return 0, err
		case n == 0 && len(p) > 0:
			return 0, io.EOF
		default:
			return n, nil
		}
	}
}

// Write writes as much of p as the send buffer accepts. It returns
// iox.ErrWouldBlock when nothing could be written.
func (s *Socket) Write(p []byte) (int, error) {
	for {
		n, err := unix.Write(s.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, iox.ErrWouldBlock
		case err != nil:
			return 0, err
		default:
			return n, nil
		}
	}
}

// Close closes the descriptor
func (s *Socket) Close() error {
	return unix.Close(s.fd)
}
