package stateset

import (
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
)

// snapshot runtime. tracks the monotonic id source, the set of open
// snapshot ids, and the implicit global snapshot that all code outside
// an explicit snapshot reads and writes.
//
// lock order: `snapshotLock` then `stateLock`.

var snapshotLock sync.Mutex

// guarded by `snapshotLock`
var nextSnapshotId = SnapshotId(2)

// open snapshot id -> pin. the pin is the lowest record id the snapshot
// might still need, min(invalid set, own id). guarded by `snapshotLock`.
var openSnapshotPins = map[SnapshotId]SnapshotId{
	1: 1,
}

var globalSnapshot atomic.Pointer[Snapshot]

func init() {
	globalSnapshot.Store(&Snapshot{
		id:      SnapshotId(1),
		invalid: map[SnapshotId]struct{}{},
		global:  true,
	})
}

type ReadObserverFunction func(state any)
type WriteObserverFunction func(state any)

// a logical point-in-time transaction context.
// records stamped with an open snapshot id are invisible to every other
// snapshot until the snapshot is applied.
type Snapshot struct {
	id       SnapshotId
	invalid  map[SnapshotId]struct{}
	readOnly bool
	global   bool

	readObserver  ReadObserverFunction
	writeObserver WriteObserverFunction

	// state objects this snapshot forked records for.
	// guarded by `snapshotLock`. nil for the global snapshot.
	modified map[stateObject]struct{}

	// guarded by `snapshotLock`
	applied  bool
	disposed bool
}

func (self *Snapshot) Id() SnapshotId {
	return self.id
}

func (self *Snapshot) ReadOnly() bool {
	return self.readOnly
}

// whether a record stamped `id` is visible to this snapshot
func (self *Snapshot) visible(id SnapshotId) bool {
	if id == invalidSnapshotId {
		return false
	}
	if self.id < id {
		return false
	}
	_, invalid := self.invalid[id]
	return !invalid
}

func (self *Snapshot) notifyRead(state any) {
	if self.readObserver != nil {
		self.readObserver(state)
	}
}

func (self *Snapshot) notifyWrite(state any) {
	if self.writeObserver != nil {
		self.writeObserver(state)
	}
}

func (self *Snapshot) recordModifiedLocked(state stateObject) {
	if self.modified != nil {
		self.modified[state] = struct{}{}
	}
}

// run `do` with this snapshot current for the calling goroutine.
// Enter may be nested; the previous snapshot is restored on exit.
func (self *Snapshot) Enter(do func()) {
	goroutineId := currentGoroutineId()
	previous, hasPrevious := enteredSnapshots.Load(goroutineId)
	enteredSnapshots.Store(goroutineId, self)
	enteredCount.Add(1)
	defer func() {
		enteredCount.Add(-1)
		if hasPrevious {
			enteredSnapshots.Store(goroutineId, previous)
		} else {
			enteredSnapshots.Delete(goroutineId)
		}
	}()
	do()
}

// commit this snapshot's records into the global history.
// fails with `ErrApplyConflict` if any modified state object received a
// commit from elsewhere after this snapshot was taken.
func (self *Snapshot) Apply() error {
	if self.readOnly {
		return ErrReadOnlySnapshot
	}

	var modified []any

	snapshotLock.Lock()
	if self.applied || self.disposed {
		snapshotLock.Unlock()
		return ErrSnapshotClosed
	}
	g := globalSnapshot.Load()
	for state := range self.modified {
		r := readable(state.firstRecord(), g)
		if r == nil || !self.visible(r.snapshotId()) {
			snapshotLock.Unlock()
			return ErrApplyConflict
		}
	}
	self.applied = true
	delete(openSnapshotPins, self.id)
	advanceGlobalSnapshotLocked()
	for state := range self.modified {
		modified = append(modified, state)
	}
	snapshotLock.Unlock()

	glog.V(1).Infof("[snapshot]apply %d (%d modified)\n", self.id, len(modified))
	if 0 < len(modified) {
		notifyApplied(modified)
	}
	return nil
}

// abandon the snapshot. records it stamped are invalidated and become
// reusable. applying and then disposing is a no-op.
func (self *Snapshot) Dispose() {
	snapshotLock.Lock()
	defer snapshotLock.Unlock()

	if self.global || self.applied || self.disposed {
		return
	}
	self.disposed = true
	delete(openSnapshotPins, self.id)

	if len(self.modified) == 0 {
		return
	}
	stateLock.Lock()
	defer stateLock.Unlock()
	for state := range self.modified {
		for r := state.firstRecord(); r != nil; r = r.next() {
			if r.snapshotId() == self.id {
				r.setSnapshotId(invalidSnapshotId)
			}
		}
	}
}

// read-only snapshot pinned to the current state
func TakeSnapshot() *Snapshot {
	return takeSnapshot(true, nil, nil)
}

func TakeSnapshotWithReadObserver(readObserver ReadObserverFunction) *Snapshot {
	return takeSnapshot(true, readObserver, nil)
}

// isolated write snapshot. writes inside `Enter` are invisible to other
// snapshots until `Apply`.
func TakeMutableSnapshot() *Snapshot {
	return takeSnapshot(false, nil, nil)
}

func TakeMutableSnapshotWithObservers(
	readObserver ReadObserverFunction,
	writeObserver WriteObserverFunction,
) *Snapshot {
	return takeSnapshot(false, readObserver, writeObserver)
}

func takeSnapshot(
	readOnly bool,
	readObserver ReadObserverFunction,
	writeObserver WriteObserverFunction,
) *Snapshot {
	snapshotLock.Lock()
	defer snapshotLock.Unlock()

	// commit prior global writes into history so the new snapshot
	// observes them while later global writes stay invisible
	advanceGlobalSnapshotLocked()

	snapshot := newSnapshotLocked(readOnly)
	snapshot.readObserver = readObserver
	snapshot.writeObserver = writeObserver
	if !readOnly {
		snapshot.modified = map[stateObject]struct{}{}
	}
	return snapshot
}

func newSnapshotLocked(readOnly bool) *Snapshot {
	id := nextSnapshotId
	nextSnapshotId += 1

	invalid := map[SnapshotId]struct{}{}
	pin := id
	for openId := range openSnapshotPins {
		invalid[openId] = struct{}{}
		if openId < pin {
			pin = openId
		}
	}
	openSnapshotPins[id] = pin

	return &Snapshot{
		id:       id,
		invalid:  invalid,
		readOnly: readOnly,
	}
}

// replace the global snapshot so records stamped with the old global id
// become committed history
func AdvanceGlobalSnapshot() {
	snapshotLock.Lock()
	defer snapshotLock.Unlock()

	advanceGlobalSnapshotLocked()
}

func advanceGlobalSnapshotLocked() *Snapshot {
	old := globalSnapshot.Load()
	delete(openSnapshotPins, old.id)
	g := newSnapshotLocked(false)
	g.global = true
	globalSnapshot.Store(g)
	return g
}

func lowestPinLocked() SnapshotId {
	lowest := nextSnapshotId
	for _, pin := range openSnapshotPins {
		if pin < lowest {
			lowest = pin
		}
	}
	return lowest
}

// current snapshot resolution.
// goroutines that entered a snapshot resolve to it; everything else
// resolves to the global snapshot. the entered table is only consulted
// when at least one Enter is active.

var enteredSnapshots sync.Map
var enteredCount atomic.Int64

func currentSnapshot() *Snapshot {
	if enteredCount.Load() != 0 {
		if snapshot, ok := enteredSnapshots.Load(currentGoroutineId()); ok {
			return snapshot.(*Snapshot)
		}
	}
	return globalSnapshot.Load()
}

func CurrentSnapshotId() SnapshotId {
	return currentSnapshot().id
}

func IsInSnapshot() bool {
	if enteredCount.Load() == 0 {
		return false
	}
	_, ok := enteredSnapshots.Load(currentGoroutineId())
	return ok
}

func currentGoroutineId() uint64 {
	// first line of a stack dump is "goroutine <id> [...]:"
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := strings.Fields(string(buf[:n]))
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// apply observers. notified after a mutable snapshot applies and after
// every committed global-snapshot write, with the modified state objects.

type ApplyObserverFunction func(modified []any)

var applyObservers = NewCallbackList[ApplyObserverFunction]()

// returns an unsubscribe function
func AddApplyObserver(applyObserver ApplyObserverFunction) func() {
	callbackId := applyObservers.Add(applyObserver)
	return func() {
		applyObservers.Remove(callbackId)
	}
}

func notifyApplied(modified []any) {
	for _, applyObserver := range applyObservers.Get() {
		HandleError(func() {
			applyObserver(modified)
		})
	}
}
