package stateset

import (
	"fmt"
	"sync/atomic"
)

// the (content, version) pair a record holds. replaced as a unit so
// lock-free readers always observe a consistent pair.
type setValue[T comparable] struct {
	set *Set[T]
	// bumped by exactly 1 on every successful commit to the owning object
	modification uint64
}

type setStateRecord[T comparable] struct {
	id atomic.Uint64
	// only mutated by the owner's prepend, under `snapshotLock`
	nxt   stateRecord
	value atomic.Pointer[setValue[T]]
}

// stateRecord implementation

func (self *setStateRecord[T]) snapshotId() SnapshotId {
	return SnapshotId(self.id.Load())
}

func (self *setStateRecord[T]) setSnapshotId(snapshotId SnapshotId) {
	self.id.Store(uint64(snapshotId))
}

func (self *setStateRecord[T]) next() stateRecord {
	return self.nxt
}

func (self *setStateRecord[T]) setNext(record stateRecord) {
	self.nxt = record
}

func (self *setStateRecord[T]) create() stateRecord {
	return &setStateRecord[T]{}
}

func (self *setStateRecord[T]) assign(record stateRecord) {
	self.value.Store(record.(*setStateRecord[T]).value.Load())
}

// a mutable set whose reads and writes dispatch through the current
// snapshot, so independent snapshots observe consistent views while
// other snapshots mutate it. safe for concurrent use.
type SnapshotStateSet[T comparable] struct {
	head atomic.Pointer[setStateRecord[T]]
}

func NewSnapshotStateSet[T comparable]() *SnapshotStateSet[T] {
	self := &SnapshotStateSet[T]{}
	snap := currentSnapshot()
	record := &setStateRecord[T]{}
	record.value.Store(&setValue[T]{
		set:          EmptySet[T](),
		modification: 0,
	})
	record.setSnapshotId(snap.id)
	self.head.Store(record)
	if !snap.global && !snap.readOnly {
		snapshotLock.Lock()
		snap.recordModifiedLocked(self)
		snapshotLock.Unlock()
	}
	return self
}

// stateObject implementation

func (self *SnapshotStateSet[T]) firstRecord() stateRecord {
	return self.head.Load()
}

func (self *SnapshotStateSet[T]) prependRecord(record stateRecord) {
	r := record.(*setStateRecord[T])
	r.nxt = self.head.Load()
	self.head.Store(r)
}

// read the visible value for the current snapshot, registering the read
// with the snapshot's read observer
func (self *SnapshotStateSet[T]) readValue() *setValue[T] {
	snap := currentSnapshot()
	snap.notifyRead(self)
	r := readable(self.head.Load(), snap)
	if r == nil {
		panic(ErrNoRecord)
	}
	return r.(*setStateRecord[T]).value.Load()
}

// like `readValue` without observation. used internally and by the
// debug accessor.
func (self *SnapshotStateSet[T]) rawValue() *setValue[T] {
	r := readable(self.head.Load(), currentSnapshot())
	if r == nil {
		panic(ErrNoRecord)
	}
	return r.(*setStateRecord[T]).value.Load()
}

// the content visible to the current snapshot. O(1): returns the
// underlying persistent set, which never reflects later mutations.
func (self *SnapshotStateSet[T]) ToSet() *Set[T] {
	return self.readValue().set
}

// debug accessor. reads the visible content without registering the
// read with any observer.
func (self *SnapshotStateSet[T]) RawSet() *Set[T] {
	return self.rawValue().set
}

func (self *SnapshotStateSet[T]) Size() int {
	return self.readValue().set.Len()
}

func (self *SnapshotStateSet[T]) IsEmpty() bool {
	return self.readValue().set.IsEmpty()
}

func (self *SnapshotStateSet[T]) Contains(value T) bool {
	return self.readValue().set.Contains(value)
}

func (self *SnapshotStateSet[T]) ContainsAll(values []T) bool {
	return self.readValue().set.ContainsAll(values)
}

// reports whether the content changed
func (self *SnapshotStateSet[T]) Add(value T) bool {
	return self.conditionalUpdate(func(set *Set[T]) *Set[T] {
		return set.Add(value)
	})
}

func (self *SnapshotStateSet[T]) AddAll(values []T) bool {
	return self.conditionalUpdate(func(set *Set[T]) *Set[T] {
		return set.AddAll(values)
	})
}

func (self *SnapshotStateSet[T]) Remove(value T) bool {
	return self.conditionalUpdate(func(set *Set[T]) *Set[T] {
		return set.Remove(value)
	})
}

func (self *SnapshotStateSet[T]) RemoveAll(values []T) bool {
	return self.conditionalUpdate(func(set *Set[T]) *Set[T] {
		return set.RemoveAll(values)
	})
}

func (self *SnapshotStateSet[T]) RetainAll(values []T) bool {
	keep := NewSet(values...)
	return self.mutate(func(builder *SetBuilder[T]) {
		builder.Retain(keep.Contains)
	})
}

// unconditionally reset to empty, bumping the version exactly once
func (self *SnapshotStateSet[T]) Clear() {
	for {
		snap := currentSnapshot()
		w := writable(self, snap)

		stateLock.Lock()
		r := readable(self.head.Load(), currentSnapshot())
		if r == nil {
			stateLock.Unlock()
			panic(ErrNoRecord)
		}
		if r != w {
			// the visible record moved between resolution and commit
			stateLock.Unlock()
			continue
		}
		rec := r.(*setStateRecord[T])
		v := rec.value.Load()
		rec.value.Store(&setValue[T]{
			set:          EmptySet[T](),
			modification: v.modification + 1,
		})
		stateLock.Unlock()

		snap.notifyWrite(self)
		if snap.global {
			notifyApplied([]any{self})
		}
		return
	}
}

// optimistic commit: compute the candidate content outside the lock,
// then compare-and-install under the shared lock, retrying on conflict.
// a candidate identical to the original short-circuits as a no-op.
func (self *SnapshotStateSet[T]) conditionalUpdate(transform func(*Set[T]) *Set[T]) bool {
	for {
		v := self.rawValue()
		newSet := transform(v.set)
		if newSet == v.set {
			// no-op edits return the receiver, so pointer equality
			// means the content is already the requested one
			return false
		}
		if self.tryCommit(v.modification, newSet) {
			return true
		}
	}
}

// same retry shape as `conditionalUpdate` with the candidate built by
// imperative edits on a builder
func (self *SnapshotStateSet[T]) mutate(block func(*SetBuilder[T])) bool {
	for {
		v := self.rawValue()
		builder := v.set.Builder()
		block(builder)
		newSet := builder.Build()
		if newSet == v.set {
			return false
		}
		if self.tryCommit(v.modification, newSet) {
			return true
		}
	}
}

func (self *SnapshotStateSet[T]) tryCommit(oldModification uint64, newSet *Set[T]) bool {
	snap := currentSnapshot()
	// resolve or fork the writable record before taking the state lock
	w := writable(self, snap)

	committed := false
	stateLock.Lock()
	r := readable(self.head.Load(), currentSnapshot())
	if r == nil {
		stateLock.Unlock()
		panic(ErrNoRecord)
	}
	// the visible record must not have moved, and no commit may have
	// landed since the value was read
	if r == w {
		rec := r.(*setStateRecord[T])
		if v := rec.value.Load(); v.modification == oldModification {
			rec.value.Store(&setValue[T]{
				set:          newSet,
				modification: oldModification + 1,
			})
			committed = true
		}
	}
	stateLock.Unlock()

	if committed {
		snap.notifyWrite(self)
		if snap.global {
			notifyApplied([]any{self})
		}
	}
	return committed
}

func (self *SnapshotStateSet[T]) String() string {
	return fmt.Sprintf("SnapshotStateSet%s", self.RawSet())
}
