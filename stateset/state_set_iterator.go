package stateset

// iterator over a point-in-time read of the set's content.
// any structural change to the owning set after construction fails the
// iterator with `ErrConcurrentModification`, except removals performed
// through the iterator itself, which resynchronize it.
type StateSetIterator[T comparable] struct {
	owner *SnapshotStateSet[T]

	// content captured at construction
	values    []T
	nextIndex int
	// whether a current element exists for Remove
	hasCurrent bool
	// the owner's version the iterator last synchronized with
	modification uint64
}

func (self *SnapshotStateSet[T]) Iterator() *StateSetIterator[T] {
	v := self.readValue()
	return &StateSetIterator[T]{
		owner:        self,
		values:       v.set.Values(),
		modification: v.modification,
	}
}

func (self *StateSetIterator[T]) HasNext() bool {
	return self.nextIndex < len(self.values)
}

// panics with `ErrConcurrentModification` if the owning set changed,
// and with `ErrIllegalIteratorState` past exhaustion
func (self *StateSetIterator[T]) Next() T {
	self.validate()
	if len(self.values) <= self.nextIndex {
		panic(ErrIllegalIteratorState)
	}
	value := self.values[self.nextIndex]
	self.nextIndex += 1
	self.hasCurrent = true
	return value
}

// remove the current element through the owning set.
// panics with `ErrIllegalIteratorState` if `Next` was never called or
// the element was already removed.
func (self *StateSetIterator[T]) Remove() {
	self.validate()
	if !self.hasCurrent {
		panic(ErrIllegalIteratorState)
	}
	self.owner.Remove(self.values[self.nextIndex-1])
	self.modification = self.owner.rawValue().modification
	self.hasCurrent = false
}

func (self *StateSetIterator[T]) validate() {
	if self.owner.rawValue().modification != self.modification {
		panic(ErrConcurrentModification)
	}
}
