package errors

import (
	"fmt"
)

var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrInvalidInput = fmt.Errorf("invalid input")
	// ErrSnapshotLoad marks an unreadable or malformed snapshot source.
	// The processor recovers from it per the skip-unreadable policy.
	ErrSnapshotLoad = fmt.Errorf("snapshot load failed")
	// ErrPersistence marks a change log write failure. It propagates to the
	// run caller; already appended events are not rolled back.
	ErrPersistence = fmt.Errorf("persistence failure")
)
