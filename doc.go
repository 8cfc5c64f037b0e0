// Package memcore provides an embeddable in-memory cache server speaking
// the memcached text protocol.
//
// The server accepts connections with one of two nonblocking strategies:
//
//   - MultiThreaded distributes connections over a fixed pool of worker
//     goroutines, each with its own epoll instance
//   - SingleThreaded runs every connection as a coroutine on one goroutine
//     and one epoll instance
//
// Both strategies drive the same per-connection session, which parses
// requests incrementally, executes them against the storage and buffers the
// replies under a bounded output queue.
//
// Basic usage:
//
//	srv, err := memcore.New(
//		memcore.WithListenAddr(":11211"),
//		memcore.WithStrategy(memcore.SingleThreaded),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer srv.Close()
//
//	if err := srv.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// Supported commands are set, add, replace, append, prepend, get, delete,
// incr, decr, touch, version and quit, plus eval, evalsha and script_load
// for server-side Lua scripts.
//
// Configuration can also be loaded from a TOML file with LoadConfigFile,
// which returns the equivalent options.
package memcore
