// Package lua runs server-side Lua scripts against the cache.
//
// Scripts are submitted with the eval and script_load commands and run
// through evalsha once cached. Inside a script the following are available:
//   - cache.call() and cache.pcall() for get, set, delete and exists
//   - the KEYS array with the keys named on the command line
//
// Each evaluation gets a fresh interpreter with only the base, table, string
// and math libraries opened. File loading functions are removed.
package lua
