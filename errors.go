package clht

import "errors"

// NotFound is returned by Lookup when the key is absent.
const NotFound = ^uintptr(0)

var (
	// ErrLockTimeout is returned when a write gave up acquiring the home
	// bucket lock after the configured number of retries.
	ErrLockTimeout = errors.New("clht: bucket lock retries exhausted")
	// ErrAllocationFailure is returned when key storage can not hold another
	// key. The table is unchanged.
	ErrAllocationFailure = errors.New("clht: key storage allocation failed")
	// ErrKeyTooLong is returned when a key does not fit the storage strategy.
	ErrKeyTooLong = errors.New("clht: key too long")
	// ErrClosed is returned by writes on a closed table.
	ErrClosed = errors.New("clht: table closed")
	// ErrBatchLength is returned when batch input and output slices differ
	// in length.
	ErrBatchLength = errors.New("clht: batch slice length mismatch")
)
