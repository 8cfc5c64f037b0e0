package protocol

import (
	"strconv"
	"strings"
)

const (
	// CRLF is the memcached protocol line terminator
	CRLF = "\r\n"

	// MaxLineLength bounds a single command line, terminator included
	MaxLineLength = 2048

	// MaxKeyLength is the longest key accepted by the protocol
	MaxKeyLength = 250

	// MaxBodySize bounds the data block of a storage command (1MB)
	MaxBodySize = 1024 * 1024
)

// Command names
const (
	CmdSet        = "set"
	CmdAdd        = "add"
	CmdReplace    = "replace"
	CmdAppend     = "append"
	CmdPrepend    = "prepend"
	CmdGet        = "get"
	CmdDelete     = "delete"
	CmdIncr       = "incr"
	CmdDecr       = "decr"
	CmdTouch      = "touch"
	CmdVersion    = "version"
	CmdQuit       = "quit"
	CmdEval       = "eval"
	CmdEvalSHA    = "evalsha"
	CmdScriptLoad = "script_load"
)

// Request is a parsed command line
type Request struct {
	Name    string
	Keys    []string
	Flags   uint32
	Exptime int64
	Bytes   int
	Delta   uint64
	SHA     string
	Noreply bool
}

// HasBody reports whether the command is followed by a data block
func (r *Request) HasBody() bool {
	switch r.Name {
	case CmdSet, CmdAdd, CmdReplace, CmdAppend, CmdPrepend, CmdEval, CmdScriptLoad:
		return true
	}
	return false
}

// BodyLength returns the number of bytes that follow the command line,
// including the trailing CRLF of the data block
func (r *Request) BodyLength() int {
	if !r.HasBody() {
		return 0
	}
	return r.Bytes + len(CRLF)
}

// Key returns the first key of the request, or "" when it has none
func (r *Request) Key() string {
	if len(r.Keys) == 0 {
		return ""
	}
	return r.Keys[0]
}

// String returns a string representation of the request
func (r *Request) String() string {
	var b strings.Builder
	b.WriteString(r.Name)
	if r.SHA != "" {
		b.WriteByte(' ')
		b.WriteString(r.SHA)
	}
	for _, key := range r.Keys {
		b.WriteByte(' ')
		b.WriteString(key)
	}
	if r.HasBody() {
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(r.Bytes))
	}
	return b.String()
}
