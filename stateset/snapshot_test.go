package stateset

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

// a pinned read-only snapshot never observes later global writes
func TestSnapshotReadIsolation(t *testing.T) {
	set := NewSnapshotStateSet[string]()
	set.Add("a")

	snapshot := TakeSnapshot()
	defer snapshot.Dispose()

	set.Add("b")
	set.Remove("a")

	snapshot.Enter(func() {
		assert.Equal(t, true, set.Contains("a"))
		assert.Equal(t, false, set.Contains("b"))
		assert.Equal(t, 1, set.Size())
	})

	// outside the snapshot the latest content is visible
	assert.Equal(t, true, set.Contains("b"))
	assert.Equal(t, false, set.Contains("a"))
}

func TestSnapshotReadOnlyWrite(t *testing.T) {
	set := NewSnapshotStateSet[string]()

	snapshot := TakeSnapshot()
	defer snapshot.Dispose()

	snapshot.Enter(func() {
		assertPanicsWith(t, ErrReadOnlySnapshot, func() {
			set.Add("a")
		})
	})
	assert.Equal(t, snapshot.Apply(), ErrReadOnlySnapshot)
}

// writes in a mutable snapshot are invisible until apply
func TestMutableSnapshotApply(t *testing.T) {
	set := NewSnapshotStateSet[string]()
	set.Add("a")

	snapshot := TakeMutableSnapshot()
	snapshot.Enter(func() {
		set.Add("b")
		assert.Equal(t, true, set.Contains("b"))
	})

	assert.Equal(t, false, set.Contains("b"))

	assert.Equal(t, nil, snapshot.Apply())
	assert.Equal(t, true, set.Contains("b"))
	assert.Equal(t, true, set.ToSet().Equal(NewSet("a", "b")))

	// a snapshot applies at most once
	assert.Equal(t, ErrSnapshotClosed, snapshot.Apply())
}

// a commit from elsewhere to the same object fails the apply
func TestMutableSnapshotApplyConflict(t *testing.T) {
	set := NewSnapshotStateSet[string]()
	set.Add("a")

	snapshot := TakeMutableSnapshot()
	defer snapshot.Dispose()

	set.Add("z")

	snapshot.Enter(func() {
		set.Add("b")
	})

	assert.Equal(t, ErrApplyConflict, snapshot.Apply())

	// the failed snapshot's writes never land
	snapshot.Dispose()
	assert.Equal(t, true, set.ToSet().Equal(NewSet("a", "z")))
}

// commits to unrelated objects do not conflict
func TestMutableSnapshotApplyDisjoint(t *testing.T) {
	setA := NewSnapshotStateSet[string]()
	setB := NewSnapshotStateSet[string]()

	snapshot := TakeMutableSnapshot()
	setB.Add("global")

	snapshot.Enter(func() {
		setA.Add("isolated")
	})

	assert.Equal(t, nil, snapshot.Apply())
	assert.Equal(t, true, setA.Contains("isolated"))
	assert.Equal(t, true, setB.Contains("global"))
}

func TestMutableSnapshotDispose(t *testing.T) {
	set := NewSnapshotStateSet[string]()
	set.Add("a")

	snapshot := TakeMutableSnapshot()
	snapshot.Enter(func() {
		set.Add("b")
	})
	snapshot.Dispose()

	assert.Equal(t, false, set.Contains("b"))
	assert.Equal(t, ErrSnapshotClosed, snapshot.Apply())

	// the set is still writable after the abandoned records are reused
	set.Add("c")
	assert.Equal(t, true, set.ToSet().Equal(NewSet("a", "c")))
}

func TestNestedEnter(t *testing.T) {
	set := NewSnapshotStateSet[string]()
	set.Add("a")

	outer := TakeSnapshot()
	defer outer.Dispose()

	set.Add("b")

	inner := TakeSnapshot()
	defer inner.Dispose()

	outer.Enter(func() {
		assert.Equal(t, false, set.Contains("b"))
		inner.Enter(func() {
			assert.Equal(t, true, set.Contains("b"))
			assert.Equal(t, inner.Id(), CurrentSnapshotId())
		})
		// the outer snapshot is restored
		assert.Equal(t, false, set.Contains("b"))
		assert.Equal(t, outer.Id(), CurrentSnapshotId())
	})
}

func TestIsInSnapshot(t *testing.T) {
	assert.Equal(t, false, IsInSnapshot())
	snapshot := TakeSnapshot()
	defer snapshot.Dispose()
	snapshot.Enter(func() {
		assert.Equal(t, true, IsInSnapshot())
	})
	assert.Equal(t, false, IsInSnapshot())
}

func TestReadObserver(t *testing.T) {
	set := NewSnapshotStateSet[string]()
	set.Add("a")

	reads := []any{}
	snapshot := TakeSnapshotWithReadObserver(func(state any) {
		reads = append(reads, state)
	})
	defer snapshot.Dispose()

	snapshot.Enter(func() {
		set.Contains("a")
	})

	assert.Equal(t, 1, len(reads))
	assert.Equal(t, true, reads[0] == any(set))
}

func TestWriteObserver(t *testing.T) {
	set := NewSnapshotStateSet[string]()

	writes := []any{}
	snapshot := TakeMutableSnapshotWithObservers(nil, func(state any) {
		writes = append(writes, state)
	})

	snapshot.Enter(func() {
		set.Add("a")
		// a no-op write is not observed
		set.Add("a")
	})
	assert.Equal(t, nil, snapshot.Apply())

	assert.Equal(t, 1, len(writes))
	assert.Equal(t, true, writes[0] == any(set))
}

func TestApplyObserver(t *testing.T) {
	set := NewSnapshotStateSet[string]()

	applied := [][]any{}
	remove := AddApplyObserver(func(modified []any) {
		applied = append(applied, modified)
	})
	defer remove()

	// a committed global write notifies immediately
	set.Add("a")
	assert.Equal(t, 1, len(applied))
	assert.Equal(t, true, applied[0][0] == any(set))

	// snapshot writes notify on apply
	snapshot := TakeMutableSnapshot()
	snapshot.Enter(func() {
		set.Add("b")
	})
	assert.Equal(t, 1, len(applied))
	assert.Equal(t, nil, snapshot.Apply())
	assert.Equal(t, 2, len(applied))

	remove()
	set.Add("c")
	assert.Equal(t, 2, len(applied))
}

// records a disposed snapshot abandoned get reused by later forks
func TestRecordReuse(t *testing.T) {
	set := NewSnapshotStateSet[int]()
	set.Add(1)

	for i := 0; i < 32; i += 1 {
		snapshot := TakeMutableSnapshot()
		snapshot.Enter(func() {
			set.Add(100 + i)
		})
		snapshot.Dispose()
	}

	chainLen := 0
	for r := set.firstRecord(); r != nil; r = r.next() {
		chainLen += 1
	}
	// the chain stays bounded instead of growing per disposed snapshot
	assert.Equal(t, true, chainLen <= 4)

	assert.Equal(t, true, set.ToSet().Equal(NewSet(1)))
}
