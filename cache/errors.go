package cache

import "errors"

// Error kinds from the error-handling taxonomy. These are sentinel
// values so callers compare with errors.Is; wrapping with fmt.Errorf's
// %w is used wherever extra context is useful, matching the teacher's own
// mix of static sentinels and wrapped errors.
var (
	// ErrNoSuchCache is returned when a uuid is not known to the manager.
	ErrNoSuchCache = errors.New("bbucache: no such cache")

	// ErrAllocFailed covers allocation failures during activation. It
	// never escalates cache state; it simply propagates to the caller.
	ErrAllocFailed = errors.New("bbucache: allocation failed")

	// ErrBadGeometry is returned when the block size does not divide the
	// stripe size, or there are fewer blocks than stripe members.
	ErrBadGeometry = errors.New("bbucache: bad geometry")

	// ErrBusy is returned when an operation cannot proceed because the
	// cache is not idle (registration of an already-active cache, or
	// unregistration of a cache with outstanding activity).
	ErrBusy = errors.New("bbucache: busy")

	// ErrDescriptorError is returned when recovery finds the descriptor
	// table in an inconsistent state. Activation fails atomically; the
	// region remains loadable later.
	ErrDescriptorError = errors.New("bbucache: descriptor error")

	// ErrFailed is returned when an operation is attempted against a
	// cache that has transitioned to the Failed state.
	ErrFailed = errors.New("bbucache: cache failed")

	// ErrWrongDisk is returned when unregister names a disk handle that
	// does not match the cache's registered client.
	ErrWrongDisk = errors.New("bbucache: wrong disk")

	// ErrNotActive is returned when unregister is called on a cache that
	// is not currently active (never registered, or already unregistered).
	ErrNotActive = errors.New("bbucache: not active")

	// errOverlap is internal only: it suspends the requester until the
	// conflicting in-flight transfer finishes; it must never reach a
	// client.
	errOverlap = errors.New("bbucache: overlap")

	// errIO is returned to a client whose request could not be satisfied
	// because of a backing-device or read error.
	errIO = errors.New("bbucache: I/O error")
)
