package network

import (
	"errors"
	"io"
	"time"

	"code.hybscloud.com/iox"

	"github.com/raniellyferreira/memcore/execute"
	"github.com/raniellyferreira/memcore/internal/netpoll"
	"github.com/raniellyferreira/memcore/protocol"
)

// State is the position of a session in its state machine
type State int

const (
	StateReading State = iota
	StateParsing
	StateExecuting
	StateWriting
	StateClosed
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateReading:
		return "reading"
	case StateParsing:
		return "parsing"
	case StateExecuting:
		return "executing"
	case StateWriting:
		return "writing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// maxRetainedArg is the largest argument buffer kept between commands
const maxRetainedArg = 64 * 1024

// SessionStats holds per-session counters
type SessionStats struct {
	ID       uint64
	Commands uint64
	BytesIn  uint64
	BytesOut uint64
	Queued   int
}

// Session is the protocol state machine of one accepted connection
type Session struct {
	id    uint64
	sock  Socket
	live  Liveness
	cfg   *Config
	state State

	buf    []byte
	parser protocol.Parser

	// command awaiting its argument
	cmd       execute.Command
	req       protocol.Request
	arg       []byte
	remaining int

	// bytes of a rejected data block still to be discarded
	swallow int

	// pending replies; offset is the written prefix of out[0]
	out    [][]byte
	offset int

	// paused is set while the output queue is full and the peer is not
	// draining it; unparsed input waits in held
	paused bool
	held   []byte

	// closing is set once the session must close after one more flush
	closing  bool
	err      error
	released bool

	commands uint64
	bytesIn  uint64
	bytesOut uint64
}

// NewSession creates a session for sock. cfg must have been normalized.
func NewSession(id uint64, sock Socket, live Liveness, cfg *Config) *Session {
	return &Session{
		id:   id,
		sock: sock,
		live: live,
		cfg:  cfg,
		buf:  make([]byte, cfg.ReadBufferSize),
	}
}

// ID returns the session identifier
func (s *Session) ID() uint64 {
	return s.id
}

// Alive reports whether the session is still usable. It is safe to call
// from any goroutine when the session uses Shared liveness.
func (s *Session) Alive() bool {
	return s.live.Alive()
}

// State returns the current state
func (s *Session) State() State {
	if !s.live.Alive() {
		return StateClosed
	}
	return s.state
}

// Err returns the error that closed the session, if any
func (s *Session) Err() error {
	return s.err
}

// Pending reports whether replies are waiting to be written
func (s *Session) Pending() bool {
	return len(s.out) > 0
}

// Paused reports whether reading is suspended until the output queue drains
func (s *Session) Paused() bool {
	return s.paused
}

// Interest returns the readiness the driver should watch for. Read interest
// is dropped while the session is paused.
func (s *Session) Interest() netpoll.Interest {
	if s.paused {
		return netpoll.Write
	}
	if len(s.out) > 0 {
		return netpoll.Read | netpoll.Write
	}
	return netpoll.Read
}

// Stats returns the session counters
func (s *Session) Stats() SessionStats {
	return SessionStats{
		ID:       s.id,
		Commands: s.commands,
		BytesIn:  s.bytesIn,
		BytesOut: s.bytesOut,
		Queued:   len(s.out),
	}
}

// DoRead consumes everything currently readable from the socket, running
// every command completed along the way. Replies are queued and flushed
// whenever the queue fills up; if the socket cannot take them the session
// pauses until DoWrite makes room.
func (s *Session) DoRead() {
	for s.Alive() && !s.closing && !s.paused {
		s.state = StateReading
		n, err := s.sock.Read(s.buf)
		if err != nil {
			switch {
			case iox.IsWouldBlock(err):
			case errors.Is(err, io.EOF):
				s.OnClose()
			default:
				s.OnError(err)
			}
			break
		}

		s.bytesIn += uint64(n)
		s.cfg.Observer.BytesRead(n)
		s.consume(s.buf[:n])

		if s.paused || n < len(s.buf) {
			break
		}
	}

	if s.closing && s.Alive() {
		s.flush()
		s.OnClose()
	}
}

// consume feeds data through the parser and argument accumulator
func (s *Session) consume(data []byte) {
	for len(data) > 0 && s.Alive() && !s.closing {
		s.state = StateParsing

		if s.swallow > 0 {
			take := min(s.swallow, len(data))
			s.swallow -= take
			data = data[take:]
			continue
		}

		if s.cmd != nil {
			take := min(s.remaining, len(data))
			s.arg = append(s.arg, data[:take]...)
			s.remaining -= take
			data = data[take:]
			if s.remaining == 0 {
				s.execute()
			}
			continue
		}

		// A new command may add a reply; make room or hold the input
		if len(s.out) >= s.cfg.MaxOutputQueue {
			s.flush()
			if !s.Alive() {
				return
			}
			if len(s.out) >= s.cfg.MaxOutputQueue {
				s.hold(data)
				return
			}
		}

		n, done, err := s.parser.Parse(data)
		data = data[n:]
		if err != nil {
			var perr *protocol.Error
			if errors.As(err, &perr) {
				s.swallow = perr.Swallow
			}
			s.fail(err)
			continue
		}
		if !done {
			continue
		}

		req, argLen := s.parser.Build()
		s.parser.Reset()

		cmd, err := s.cfg.Factory.Build(req)
		if err != nil {
			s.fail(err)
			continue
		}
		s.cmd = cmd
		s.req = req
		s.remaining = argLen
		if argLen == 0 {
			s.execute()
		}
	}
}

// execute runs the assembled command and queues its reply
func (s *Session) execute() {
	s.state = StateExecuting

	var arg []byte
	if s.req.HasBody() {
		arg = s.arg
	}

	start := time.Now()
	reply, err := s.cmd.Execute(s.cfg.Storage, arg)
	s.commands++
	s.cfg.Observer.CommandProcessed(s.req.Name, time.Since(start))

	s.cmd = nil
	s.req = protocol.Request{}
	if cap(s.arg) > maxRetainedArg {
		s.arg = nil
	} else {
		s.arg = s.arg[:0]
	}

	switch {
	case errors.Is(err, execute.ErrQuit):
		s.closing = true
	case err != nil:
		s.fail(err)
	case len(reply) > 0:
		s.enqueue(reply)
	}
}

// fail answers a protocol or command error
func (s *Session) fail(err error) {
	var perr *protocol.Error
	if errors.As(err, &perr) {
		s.enqueue(perr.Reply())
		if perr.Fatal() {
			s.err = err
			s.closing = true
		}
		return
	}
	s.enqueue(execute.ErrorReply(err))
}

// hold parks unparsed input until the output queue drains
func (s *Session) hold(data []byte) {
	s.held = append([]byte(nil), data...)
	s.paused = true
	s.cfg.Logger.Debug("Session paused", "session", s.id, "queued", len(s.out), "held", len(s.held))
}

// enqueue appends a reply to the output queue. consume never lets a
// command start on a full queue, so reaching the bound here means a single
// command produced more replies than the queue holds; the session closes.
func (s *Session) enqueue(reply []byte) {
	if len(s.out) >= s.cfg.MaxOutputQueue {
		s.cfg.Logger.Debug("Output queue overflow", "session", s.id, "queued", len(s.out))
		s.OnError(ErrOverflow)
		return
	}
	s.out = append(s.out, reply)
}

// DoWrite writes queued replies until the queue drains or the socket stops
// accepting bytes. A paused session resumes once the queue has room again.
func (s *Session) DoWrite() {
	s.flush()
	if !s.paused || !s.Alive() || s.closing || len(s.out) >= s.cfg.MaxOutputQueue {
		return
	}

	s.paused = false
	held := s.held
	s.held = nil
	s.cfg.Logger.Debug("Session resumed", "session", s.id, "held", len(held))
	s.consume(held)
	s.DoRead()
}

// flush writes queued replies without touching the read side
func (s *Session) flush() {
	if !s.Alive() {
		return
	}
	s.state = StateWriting

	for len(s.out) > 0 {
		n, err := s.sock.Write(s.out[0][s.offset:])
		if n > 0 {
			s.bytesOut += uint64(n)
			s.cfg.Observer.BytesWritten(n)
			s.offset += n
		}
		if err != nil {
			if iox.IsWouldBlock(err) {
				break
			}
			s.OnError(err)
			return
		}
		if s.offset < len(s.out[0]) {
			if n == 0 {
				break
			}
			continue
		}

		s.out[0] = nil
		s.out = s.out[1:]
		s.offset = 0
	}

	if len(s.out) == 0 {
		s.out = s.out[:0]
	}
	s.state = StateReading
}

// OnError closes the session because of err
func (s *Session) OnError(err error) {
	if s.err == nil {
		s.err = err
	}
	s.cfg.Logger.Debug("Session error", "session", s.id, "error", err)
	s.shutdown()
}

// OnClose closes the session after the peer hung up or asked to quit
func (s *Session) OnClose() {
	s.shutdown()
}

func (s *Session) shutdown() {
	s.state = StateClosed
	if s.live.Kill() {
		s.cfg.Observer.SessionClosed(s.err)
	}
}

// Close marks the session dead. With Shared liveness it may be called from
// any goroutine; the owning driver releases the session on its next pass.
func (s *Session) Close() {
	if s.live.Kill() {
		s.cfg.Observer.SessionClosed(nil)
	}
}

// Release closes the socket of a dead session. Only the owning driver may
// call it, after observing Alive false.
func (s *Session) Release() error {
	if s.released {
		return nil
	}
	s.released = true
	s.out = nil
	s.arg = nil
	s.held = nil
	return s.sock.Close()
}
