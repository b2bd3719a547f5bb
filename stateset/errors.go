package stateset

import (
	"errors"
)

// raised (as panics) by iterators and the record chain.
// contention on the commit path is never an error; it retries silently.
var (
	// the owning set changed underneath an iterator
	ErrConcurrentModification = errors.New("state set modified during iteration")

	// Next past exhaustion, or Remove without a current element
	ErrIllegalIteratorState = errors.New("iterator has no element at this position")

	// no record in the chain is visible to the current snapshot.
	// unreachable for objects created before the snapshot was taken.
	ErrNoRecord = errors.New("no readable state record")
)

// returned by snapshot lifecycle operations
var (
	ErrReadOnlySnapshot = errors.New("snapshot is read-only")
	ErrSnapshotClosed   = errors.New("snapshot was already applied or disposed")
	ErrApplyConflict    = errors.New("snapshot apply conflicts with a newer commit")
)
