package execute

import (
	"errors"
	"strings"
	"time"

	"github.com/raniellyferreira/memcore/lua"
	"github.com/raniellyferreira/memcore/protocol"
	"github.com/raniellyferreira/memcore/storage"
)

// Command is a request bound to its parameters. The session hands it the
// data block that followed the command line, CRLF included, or nil when the
// command has none. A nil reply with a nil error means nothing is written.
type Command interface {
	Execute(st storage.Storage, arg []byte) ([]byte, error)
}

// ErrQuit is returned by the quit command; the session closes the connection.
var ErrQuit = errors.New("execute: quit")

// ClientError is a request the client got wrong. It is answered with a
// CLIENT_ERROR line and the connection stays usable.
type ClientError struct {
	Message string
}

// Error implements the error interface
func (e *ClientError) Error() string {
	return e.Message
}

var errBadDataChunk = &ClientError{Message: "bad data chunk"}

// ErrorReply maps a command error to its wire reply
func ErrorReply(err error) []byte {
	var ce *ClientError
	switch {
	case errors.As(err, &ce):
		return protocol.Line("CLIENT_ERROR " + ce.Message)
	case errors.Is(err, storage.ErrMemoryLimit):
		return protocol.Line("SERVER_ERROR out of memory storing object")
	default:
		return protocol.Line("SERVER_ERROR " + singleLine(err.Error()))
	}
}

// singleLine flattens a message so it cannot break reply framing
func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Logger interface for command logging
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// Option configures a Factory
type Option func(*Factory)

// WithClock replaces the time source used for expiration
func WithClock(now func() time.Time) Option {
	return func(f *Factory) {
		f.now = now
	}
}

// WithVersion sets the string answered by the version command
func WithVersion(v string) Option {
	return func(f *Factory) {
		f.version = v
	}
}

// WithScriptEngine sets the Lua engine used by eval, evalsha and script_load
func WithScriptEngine(e *lua.Engine) Option {
	return func(f *Factory) {
		f.scripts = e
	}
}

// WithLogger sets the logger for storage failures that have no reply
func WithLogger(logger Logger) Option {
	return func(f *Factory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// Factory builds commands from parsed requests. It is safe for concurrent use.
type Factory struct {
	now     func() time.Time
	version string
	scripts *lua.Engine
	logger  Logger
}

// NewFactory creates a command factory
func NewFactory(opts ...Option) *Factory {
	f := &Factory{
		now:     time.Now,
		version: "0.0.0",
		logger:  nopLogger{},
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.scripts == nil {
		f.scripts = lua.NewEngine()
	}
	return f
}

// Scripts returns the Lua engine shared by the script commands
func (f *Factory) Scripts() *lua.Engine {
	return f.scripts
}

// Build returns the command for req
func (f *Factory) Build(req protocol.Request) (Command, error) {
	switch req.Name {
	case protocol.CmdSet, protocol.CmdAdd, protocol.CmdReplace, protocol.CmdAppend, protocol.CmdPrepend:
		return &storeCommand{
			f:       f,
			mode:    req.Name,
			key:     req.Key(),
			flags:   req.Flags,
			exptime: req.Exptime,
			size:    req.Bytes,
			noreply: req.Noreply,
		}, nil
	case protocol.CmdGet:
		return &getCommand{f: f, keys: req.Keys}, nil
	case protocol.CmdDelete:
		return &deleteCommand{f: f, key: req.Key(), noreply: req.Noreply}, nil
	case protocol.CmdIncr, protocol.CmdDecr:
		return &arithCommand{f: f, key: req.Key(), delta: req.Delta, decr: req.Name == protocol.CmdDecr, noreply: req.Noreply}, nil
	case protocol.CmdTouch:
		return &touchCommand{f: f, key: req.Key(), exptime: req.Exptime, noreply: req.Noreply}, nil
	case protocol.CmdVersion:
		return replyCommand(protocol.Line("VERSION " + f.version)), nil
	case protocol.CmdQuit:
		return quitCommand{}, nil
	case protocol.CmdEval:
		return &evalCommand{f: f, keys: req.Keys, size: req.Bytes}, nil
	case protocol.CmdEvalSHA:
		return &evalCommand{f: f, keys: req.Keys, sha: req.SHA}, nil
	case protocol.CmdScriptLoad:
		return &scriptLoadCommand{f: f, size: req.Bytes}, nil
	default:
		return nil, protocol.ErrUnknownCommand
	}
}

// dataBlock strips the CRLF terminator from a data block of size bytes
func dataBlock(arg []byte, size int) ([]byte, error) {
	if len(arg) != size+len(protocol.CRLF) || string(arg[size:]) != protocol.CRLF {
		return nil, errBadDataChunk
	}
	return arg[:size], nil
}

// replyCommand answers with a fixed reply
type replyCommand []byte

func (c replyCommand) Execute(storage.Storage, []byte) ([]byte, error) {
	return c, nil
}

type quitCommand struct{}

func (quitCommand) Execute(storage.Storage, []byte) ([]byte, error) {
	return nil, ErrQuit
}
