// Package protocol implements the memcached text protocol used by the cache
// server: an incremental request parser and a reply writer.
//
// The parser is push-driven so it can sit behind a nonblocking socket: feed
// it whatever bytes arrived, it reports how many it consumed and whether a
// command line is complete. Storage commands carry a data block whose length
// is announced on the command line; the parser hands that length back to the
// caller instead of buffering the block itself.
//
// Basic usage:
//
//	var p protocol.Parser
//	for len(buf) > 0 {
//		n, done, err := p.Parse(buf)
//		buf = buf[n:]
//		if err != nil {
//			// reply with err.(*protocol.Error).Reply()
//			continue
//		}
//		if !done {
//			break // need more bytes
//		}
//		req, argLen := p.Build()
//		p.Reset()
//		// read argLen more bytes, then execute req
//	}
//
// Supported commands:
//   - set, add, replace, append, prepend
//   - get, delete, incr, decr, touch
//   - version, quit
//   - eval, evalsha, script_load (Lua scripting extension)
package protocol
