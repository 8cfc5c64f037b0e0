package protocol

import "strconv"

// Canned replies
const (
	ReplyStored    = "STORED"
	ReplyNotStored = "NOT_STORED"
	ReplyDeleted   = "DELETED"
	ReplyNotFound  = "NOT_FOUND"
	ReplyTouched   = "TOUCHED"
	ReplyEnd       = "END"
)

// Writer builds memcached replies into a byte slice.
// Replies are handed to the connection's output queue as a whole.
type Writer struct {
	buf []byte
}

// NewWriter creates a new reply writer with the given initial capacity
func NewWriter(size int) *Writer {
	return &Writer{buf: make([]byte, 0, size)}
}

// WriteLine writes a single line followed by CRLF
func (w *Writer) WriteLine(s string) {
	w.buf = append(w.buf, s...)
	w.writeCRLF()
}

// WriteValue writes one VALUE block of a get reply
func (w *Writer) WriteValue(key string, flags uint32, data []byte) {
	w.buf = append(w.buf, "VALUE "...)
	w.buf = append(w.buf, key...)
	w.buf = append(w.buf, ' ')
	w.buf = strconv.AppendUint(w.buf, uint64(flags), 10)
	w.buf = append(w.buf, ' ')
	w.buf = strconv.AppendInt(w.buf, int64(len(data)), 10)
	w.writeCRLF()
	w.buf = append(w.buf, data...)
	w.writeCRLF()
}

// WriteEnd terminates a get reply
func (w *Writer) WriteEnd() {
	w.WriteLine(ReplyEnd)
}

// WriteUint writes a bare decimal line, as used by incr/decr
func (w *Writer) WriteUint(n uint64) {
	w.buf = strconv.AppendUint(w.buf, n, 10)
	w.writeCRLF()
}

// WriteClientError writes a CLIENT_ERROR line
func (w *Writer) WriteClientError(msg string) {
	w.WriteLine("CLIENT_ERROR " + msg)
}

// WriteServerError writes a SERVER_ERROR line
func (w *Writer) WriteServerError(msg string) {
	w.WriteLine("SERVER_ERROR " + msg)
}

// Bytes returns the accumulated reply
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of buffered bytes
func (w *Writer) Len() int {
	return len(w.buf)
}

// Reset discards the accumulated reply
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
}

// writeCRLF writes the CRLF terminator
func (w *Writer) writeCRLF() {
	w.buf = append(w.buf, CRLF...)
}

// Line returns s terminated by CRLF
func Line(s string) []byte {
	return []byte(s + CRLF)
}
