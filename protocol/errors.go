package protocol

import "fmt"

// ErrorKind classifies protocol errors
type ErrorKind int

const (
	// KindUnknownCommand is answered with a bare ERROR line
	KindUnknownCommand ErrorKind = iota
	// KindClient is answered with CLIENT_ERROR and the stream stays usable
	KindClient
	// KindFatal leaves the stream in an unknown state; the connection must close
	KindFatal
)

// Error represents a memcached protocol parsing error
type Error struct {
	Kind    ErrorKind
	Message string

	// Swallow is the number of bytes following the rejected line that
	// belong to its data block and must be discarded, CRLF included
	Swallow int
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Message)
}

// Fatal reports whether the connection must be closed after replying
func (e *Error) Fatal() bool {
	return e.Kind == KindFatal
}

// Reply returns the wire reply for the error
func (e *Error) Reply() []byte {
	if e.Kind == KindUnknownCommand {
		return []byte("ERROR" + CRLF)
	}
	return []byte("CLIENT_ERROR " + e.Message + CRLF)
}

var (
	// ErrLineTooLong is returned when a command line exceeds MaxLineLength
	ErrLineTooLong = &Error{Kind: KindFatal, Message: "line too long"}

	// ErrUnknownCommand is returned for empty or unrecognized command lines
	ErrUnknownCommand = &Error{Kind: KindUnknownCommand, Message: "unknown command"}
)

func clientError(msg string) *Error {
	return &Error{Kind: KindClient, Message: msg}
}

// withSwallow attaches the data block length to a recoverable error
func withSwallow(err error, n int) error {
	e, ok := err.(*Error)
	if !ok || e.Kind == KindFatal || n <= 0 {
		return err
	}
	return &Error{Kind: e.Kind, Message: e.Message, Swallow: n}
}
