package stateset

import (
	"sync"
)

// logical version that created a record. 0 is never a valid id.
type SnapshotId uint64

const invalidSnapshotId = SnapshotId(0)

// versioned value holder linked into a per-object history,
// most recent first. linkage is append-at-head; records are never
// unlinked, only overwritten once no open snapshot can see them.
type stateRecord interface {
	snapshotId() SnapshotId
	setSnapshotId(snapshotId SnapshotId)
	next() stateRecord
	setNext(record stateRecord)
	// a fresh unstamped record of the same concrete type
	create() stateRecord
	// copy the other record's value into this record
	assign(record stateRecord)
}

// a state object owns exactly one record chain
type stateObject interface {
	firstRecord() stateRecord
	prependRecord(record stateRecord)
}

// guards the value of every record of every state object.
// this lock is shared across all instances and is always the innermost
// lock: code that needs both must take `snapshotLock` first.
var stateLock sync.Mutex

// the record visible to `snap`: the one with the highest snapshot id
// not newer than the snapshot and not in its invalid set.
// lock-free; record ids and values are read atomically.
func readable(head stateRecord, snap *Snapshot) stateRecord {
	var best stateRecord
	bestId := invalidSnapshotId
	for r := head; r != nil; r = r.next() {
		if id := r.snapshotId(); snap.visible(id) && bestId < id {
			best = r
			bestId = id
		}
	}
	return best
}

// the record `snap` can mutate. if the snapshot already owns the
// readable record this is lock-free; otherwise a record is forked from
// the nearest visible ancestor and stamped with the snapshot id.
func writable(state stateObject, snap *Snapshot) stateRecord {
	if snap.readOnly {
		panic(ErrReadOnlySnapshot)
	}
	r := readable(state.firstRecord(), snap)
	if r == nil {
		panic(ErrNoRecord)
	}
	if r.snapshotId() == snap.id {
		return r
	}
	return forkRecord(state, snap)
}

func forkRecord(state stateObject, snap *Snapshot) stateRecord {
	snapshotLock.Lock()
	defer snapshotLock.Unlock()

	r := readable(state.firstRecord(), snap)
	if r == nil {
		panic(ErrNoRecord)
	}
	if r.snapshotId() == snap.id {
		// another writer in the same snapshot forked first
		return r
	}

	reuse := reusableRecordLocked(state.firstRecord(), lowestPinLocked())

	// the assign/stamp/link sequence must be atomic with respect to
	// commits, which re-resolve the readable record under `stateLock`
	stateLock.Lock()
	defer stateLock.Unlock()

	var w stateRecord
	if reuse != nil {
		reuse.setSnapshotId(invalidSnapshotId)
		reuse.assign(r)
		reuse.setSnapshotId(snap.id)
		w = reuse
	} else {
		w = r.create()
		w.assign(r)
		w.setSnapshotId(snap.id)
		state.prependRecord(w)
	}
	snap.recordModifiedLocked(state)
	return w
}

// a record no open snapshot can read, available for overwrite.
// every open snapshot reads at or above its pin, and below the lowest
// pin all valid records are visible to everyone, so only the newest
// record below the lowest pin is still needed.
func reusableRecordLocked(head stateRecord, lowestPin SnapshotId) stateRecord {
	var needed stateRecord
	for r := head; r != nil; r = r.next() {
		id := r.snapshotId()
		if id == invalidSnapshotId {
			// abandoned by a disposed snapshot
			return r
		}
		if lowestPin <= id {
			continue
		}
		if needed == nil {
			needed = r
		} else if id < needed.snapshotId() {
			return r
		} else {
			reuse := needed
			needed = r
			return reuse
		}
	}
	return nil
}
