//go:build linux

package netpoll

import (
	"encoding/binary"
	"time"

	"code.hybscloud.com/atomix"
	"golang.org/x/sys/unix"
)

// Poller is a level-triggered epoll instance with an eventfd used to
// interrupt Wait from other goroutines.
type Poller struct {
	fd     int
	wakefd int
	events []unix.EpollEvent
	closed atomix.Bool
}

// NewPoller creates a poller reporting at most maxEvents per Wait
func NewPoller(maxEvents int) (*Poller, error) {
	if maxEvents <= 0 {
		maxEvents = 128
	}

	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	p := &Poller{fd: fd, wakefd: wakefd, events: make([]unix.EpollEvent, maxEvents)}
	if err := p.Add(wakefd, Read); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func epollEvents(interest Interest) uint32 {
	var ev uint32 = unix.EPOLLRDHUP
	if interest&Read != 0 {
		ev |= unix.EPOLLIN
	}
	if interest&Write != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// Add starts watching fd
func (p *Poller) Add(fd int, interest Interest) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: epollEvents(interest), Fd: int32(fd)})
}

// Modify changes the interest set of a watched fd
func (p *Poller) Modify(fd int, interest Interest) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Events: epollEvents(interest), Fd: int32(fd)})
}

// Remove stops watching fd
func (p *Poller) Remove(fd int) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks until at least one descriptor is ready, Wake is called or
// timeout elapses, then calls fn for every ready descriptor. A negative
// timeout waits indefinitely. It returns the number of descriptors passed
// to fn.
func (p *Poller) Wait(timeout time.Duration, fn func(fd int, ev Event)) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}

	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
	}

	var (
		n   int
		err error
	)
	for {
		n, err = unix.EpollWait(p.fd, p.events, msec)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return 0, err
	}

	ready := 0
	for i := 0; i < n; i++ {
		raw := p.events[i]
		fd := int(raw.Fd)
		if fd == p.wakefd {
			p.drainWake()
			continue
		}

		var ev Event
		if raw.Events&unix.EPOLLIN != 0 {
			ev |= EventRead
		}
		if raw.Events&unix.EPOLLOUT != 0 {
			ev |= EventWrite
		}
		if raw.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP|unix.EPOLLERR) != 0 {
			ev |= EventHangup
		}
		fn(fd, ev)
		ready++
	}
	return ready, nil
}

// Wake interrupts a concurrent or the next Wait. It is safe to call from
// any goroutine.
func (p *Poller) Wake() error {
	if p.closed.Load() {
		return ErrClosed
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(p.wakefd, buf[:])
	if err == unix.EAGAIN {
		// counter saturated, a wake-up is already pending
		return nil
	}
	return err
}

func (p *Poller) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wakefd, buf[:]); err != unix.EINTR {
			return
		}
	}
}

// Close releases the epoll instance and the wake-up descriptor
func (p *Poller) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	unix.Close(p.wakefd)
	return unix.Close(p.fd)
}
