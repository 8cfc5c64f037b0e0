// Package execute turns parsed memcached requests into commands that run
// against a storage.Storage.
//
// Values are stored together with a small header carrying the client flags
// and the absolute expiry time, so that every storage backend gets memcached
// expiration semantics without knowing about them. Expired items are treated
// as missing and removed lazily by the command that observes them.
package execute
