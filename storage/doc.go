// Package storage provides the storage capability consumed by the cache server
// and a sharded in-memory implementation of it.
//
// The storage layer is deliberately value-agnostic: values are opaque byte
// slices, item metadata (flags, expiration) is encoded by the command layer.
//
// Basic usage:
//
//	st := storage.NewMemory()
//	defer st.Close()
//	_ = st.Put("key", []byte("value"))
//	value, ok := st.Get("key")
//
// The package supports:
//   - Thread-safe operations, linearized per key
//   - Atomic read-modify-write through Update
//   - Memory usage tracking with an optional hard limit
//   - Background removal of dead values when an ExpiredFunc is configured
package storage
