package network

import "code.hybscloud.com/atomix"

// Liveness is the flag telling a driver whether a session must be torn down
type Liveness interface {
	// Alive reports whether the session is still usable
	Alive() bool

	// Kill marks the session dead and reports whether this call did so
	Kill() bool
}

// sharedLiveness is safe for concurrent use. Kill releases and Alive
// acquires, so session writes preceding a Kill are visible to the goroutine
// tearing the session down.
type sharedLiveness struct {
	alive atomix.Bool
}

// Shared returns a liveness flag that may be killed from any goroutine
func Shared() Liveness {
	l := &sharedLiveness{}
	l.alive.StoreRelease(true)
	return l
}

func (l *sharedLiveness) Alive() bool {
	return l.alive.LoadAcquire()
}

func (l *sharedLiveness) Kill() bool {
	return l.alive.CompareAndSwapAcqRel(true, false)
}

// exclusiveLiveness must only be used by a single goroutine at a time
type exclusiveLiveness struct {
	dead bool
}

// Exclusive returns a liveness flag for sessions owned by one goroutine
func Exclusive() Liveness {
	return &exclusiveLiveness{}
}

func (l *exclusiveLiveness) Alive() bool {
	return !l.dead
}

func (l *exclusiveLiveness) Kill() bool {
	if l.dead {
		return false
	}
	l.dead = true
	return true
}
