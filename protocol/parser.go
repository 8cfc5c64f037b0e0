package protocol

import (
	"bytes"
	"strconv"
	"strings"
)

// Parser incrementally assembles memcached command lines.
//
// The zero value is ready to use. A Parser is not safe for concurrent use.
type Parser struct {
	line  []byte
	ready bool
	req   Request
}

// Parse consumes bytes from data until a command line is complete.
//
// It returns the number of bytes consumed and whether a command is ready to
// be fetched with Build. Bytes after the command line terminator are never
// consumed, so the caller can route the data block elsewhere. On error the
// offending line is consumed and the parser is ready for the next one.
func (p *Parser) Parse(data []byte) (int, bool, error) {
	if p.ready {
		return 0, true, nil
	}

	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		if len(p.line)+len(data) >= MaxLineLength {
			p.line = p.line[:0]
			return len(data), false, ErrLineTooLong
		}
		p.line = append(p.line, data...)
		return len(data), false, nil
	}

	consumed := i + 1
	if len(p.line)+consumed > MaxLineLength {
		p.line = p.line[:0]
		return consumed, false, ErrLineTooLong
	}

	p.line = append(p.line, data[:i]...)
	line := bytes.TrimSuffix(p.line, []byte{'\r'})

	req, err := parseLine(line)
	p.line = p.line[:0]
	if err != nil {
		return consumed, false, err
	}

	p.req = req
	p.ready = true
	return consumed, true, nil
}

// Build returns the completed request and the number of body bytes,
// CRLF included, that must follow it. It is only meaningful after Parse
// reported a complete command.
func (p *Parser) Build() (Request, int) {
	if !p.ready {
		return Request{}, 0
	}
	return p.req, p.req.BodyLength()
}

// Reset prepares the parser for the next command on the same stream
func (p *Parser) Reset() {
	p.ready = false
	p.req = Request{}
	p.line = p.line[:0]
}

// parseLine parses a single command line without its terminator
func parseLine(line []byte) (Request, error) {
	fields := bytes.Fields(line)
	if len(fields) == 0 {
		return Request{}, ErrUnknownCommand
	}

	req := Request{Name: strings.ToLower(string(fields[0]))}
	args := fields[1:]

	switch req.Name {
	case CmdSet, CmdAdd, CmdReplace, CmdAppend, CmdPrepend:
		return parseStorage(req, args)
	case CmdGet:
		if len(args) == 0 {
			return Request{}, ErrUnknownCommand
		}
		for _, key := range args {
			if err := validateKey(key); err != nil {
				return Request{}, err
			}
			req.Keys = append(req.Keys, string(key))
		}
		return req, nil
	case CmdDelete:
		args, req.Noreply = trimNoreply(args)
		if len(args) != 1 {
			return Request{}, ErrUnknownCommand
		}
		if err := validateKey(args[0]); err != nil {
			return Request{}, err
		}
		req.Keys = []string{string(args[0])}
		return req, nil
	case CmdIncr, CmdDecr:
		args, req.Noreply = trimNoreply(args)
		if len(args) != 2 {
			return Request{}, ErrUnknownCommand
		}
		if err := validateKey(args[0]); err != nil {
			return Request{}, err
		}
		delta, err := parseUint64(args[1])
		if err != nil {
			return Request{}, clientError("invalid numeric delta argument")
		}
		req.Keys = []string{string(args[0])}
		req.Delta = delta
		return req, nil
	case CmdTouch:
		args, req.Noreply = trimNoreply(args)
		if len(args) != 2 {
			return Request{}, ErrUnknownCommand
		}
		if err := validateKey(args[0]); err != nil {
			return Request{}, err
		}
		exptime, err := parseInt64(args[1])
		if err != nil {
			return Request{}, clientError("invalid exptime argument")
		}
		req.Keys = []string{string(args[0])}
		req.Exptime = exptime
		return req, nil
	case CmdVersion, CmdQuit:
		if len(args) != 0 {
			return Request{}, ErrUnknownCommand
		}
		return req, nil
	case CmdEval, CmdScriptLoad:
		if len(args) == 0 {
			return Request{}, ErrUnknownCommand
		}
		if err := parseBodyLength(&req, args[0]); err != nil {
			return Request{}, withSwallow(err, bodySwallow(args[0]))
		}
		if req.Name == CmdScriptLoad && len(args) > 1 {
			return Request{}, withSwallow(ErrUnknownCommand, bodySwallow(args[0]))
		}
		for _, key := range args[1:] {
			req.Keys = append(req.Keys, string(key))
		}
		return req, nil
	case CmdEvalSHA:
		if len(args) == 0 {
			return Request{}, ErrUnknownCommand
		}
		req.SHA = strings.ToLower(string(args[0]))
		for _, key := range args[1:] {
			req.Keys = append(req.Keys, string(key))
		}
		return req, nil
	default:
		return Request{}, ErrUnknownCommand
	}
}

// parseStorage parses "<key> <flags> <exptime> <bytes> [noreply]". Once
// <bytes> is readable every rejection carries the data block length, so the
// block is skipped instead of being parsed as commands.
func parseStorage(req Request, args [][]byte) (Request, error) {
	args, req.Noreply = trimNoreply(args)
	if len(args) != 4 {
		return Request{}, clientError("bad command line format")
	}
	swallow := bodySwallow(args[3])

	if err := validateKey(args[0]); err != nil {
		return Request{}, withSwallow(err, swallow)
	}
	req.Keys = []string{string(args[0])}

	flags, err := strconv.ParseUint(string(args[1]), 10, 32)
	if err != nil {
		return Request{}, withSwallow(clientError("bad command line format"), swallow)
	}
	req.Flags = uint32(flags)

	if req.Exptime, err = parseInt64(args[2]); err != nil {
		return Request{}, withSwallow(clientError("bad command line format"), swallow)
	}

	if err := parseBodyLength(&req, args[3]); err != nil {
		return Request{}, withSwallow(err, swallow)
	}
	return req, nil
}

// bodySwallow returns the data block length announced by b, CRLF included,
// or 0 when b is not a valid length
func bodySwallow(b []byte) int {
	n, err := parseInt64(b)
	if err != nil || n < 0 || n > 1<<31 {
		return 0
	}
	return int(n) + len(CRLF)
}

func parseBodyLength(req *Request, b []byte) error {
	n, err := parseInt64(b)
	if err != nil || n < 0 {
		return clientError("bad command line format")
	}
	if n > MaxBodySize {
		return clientError("object too large for cache")
	}
	req.Bytes = int(n)
	return nil
}

func trimNoreply(args [][]byte) ([][]byte, bool) {
	if n := len(args); n > 0 && string(args[n-1]) == "noreply" {
		return args[:n-1], true
	}
	return args, false
}

func validateKey(key []byte) error {
	if len(key) > MaxKeyLength {
		return clientError("key too long")
	}
	for _, c := range key {
		if c < 0x21 || c == 0x7f {
			return clientError("invalid key")
		}
	}
	return nil
}

// parseInt64 parses an int64 from a byte slice without allocation
func parseInt64(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, strconv.ErrSyntax
	}

	neg := b[0] == '-'
	if neg {
		b = b[1:]
	}

	u, err := parseUint64(b)
	if err != nil {
		return 0, err
	}
	if u > 1<<63-1 {
		return 0, strconv.ErrRange
	}
	if neg {
		return -int64(u), nil
	}
	return int64(u), nil
}

// parseUint64 parses an unsigned decimal without allocation
func parseUint64(b []byte) (uint64, error) {
	if len(b) == 0 {
		return 0, strconv.ErrSyntax
	}

	var n uint64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, strconv.ErrSyntax
		}
		d := uint64(c - '0')
		// Check for overflow
		if n > (1<<64-1-d)/10 {
			return 0, strconv.ErrRange
		}
		n = n*10 + d
	}
	return n, nil
}

// ParseUint64 exposes the allocation-free decimal parser to command code
func ParseUint64(b []byte) (uint64, error) {
	return parseUint64(b)
}
