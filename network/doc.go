// Package network implements the per-connection protocol session shared by
// the server strategies.
//
// A Session is driven by readiness events: the owning driver calls DoRead
// when the socket is readable and DoWrite when it is writable, then checks
// Alive once the callback returns. Only after observing a dead session may
// the driver Release it. All session state is confined to the owning driver
// except the liveness flag, whose implementation is chosen per strategy:
//
//   - Shared uses an atomic flag so any goroutine may Close the session
//   - Exclusive uses a plain flag for drivers that never share a session
//
// The concrete drivers live in the mtnonblock and stnonblock subpackages.
package network
