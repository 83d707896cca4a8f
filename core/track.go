package core

import (
	"github.com/sirupsen/logrus"
)

// trackWrite buffers one pending write against the database for the
// lifetime of the transaction; nothing here is visible to the database
// until Track.Commit runs.
type trackWrite struct {
	addr  SubstateAddress
	value []byte
	reset map[string][]byte
	kind  DatabaseUpdateKind
}

// lockEntry is the per-substate lock-table row. Reader count and an
// exclusive-writer flag implement the conflict rule from spec.md §4.3:
// read‖read is allowed, read‖write and write‖anything else are denied.
type lockEntry struct {
	readers int
	writer  bool
}

// Track is the per-transaction staging overlay on the substate database
// (spec.md §2, §4.3). It records every read for observability, buffers
// every write, and exposes commit-or-rollback semantics: on success its
// buffered writes become a single atomic DatabaseUpdates batch; on failure
// it is discarded and the database is untouched.
type Track struct {
	db SubstateDatabase

	writes map[string]trackWrite
	locks  map[string]*lockEntry

	// ioEvents is invoked on every read/write for cost metering (spec.md §9:
	// "generators/coroutines... modeled as pull-style events observed by the
	// costing module through callback hooks").
	ioEvents func(event IOEvent)

	log *logrus.Entry
}

// IOEvent is delivered to the track's observer on every substate access.
type IOEvent struct {
	Kind  string // "read", "write", "lock", "unlock"
	Addr  SubstateAddress
	Bytes int
}

func NewTrack(db SubstateDatabase, log *logrus.Entry) *Track {
	return &Track{
		db:     db,
		writes: make(map[string]trackWrite),
		locks:  make(map[string]*lockEntry),
		log:    log,
	}
}

func (t *Track) OnIOEvent(fn func(IOEvent)) { t.ioEvents = fn }

func (t *Track) emit(ev IOEvent) {
	if t.ioEvents != nil {
		t.ioEvents(ev)
	}
}

// AcquireLock registers a read or write intent on addr per the conflict
// table in spec.md §4.3. It never blocks: conflicts are rejected
// immediately as LockConflict, since the kernel is single-threaded and
// cooperative (spec.md §5) — there is no reason to wait.
func (t *Track) AcquireLock(addr SubstateAddress, write bool) error {
	key := addr.lockKey()
	e, ok := t.locks[key]
	if !ok {
		e = &lockEntry{}
		t.locks[key] = e
	}
	if write {
		if e.writer || e.readers > 0 {
			return ErrLockConflict(addr)
		}
		e.writer = true
	} else {
		if e.writer {
			return ErrLockConflict(addr)
		}
		e.readers++
	}
	t.emit(IOEvent{Kind: "lock", Addr: addr})
	return nil
}

func (t *Track) ReleaseLock(addr SubstateAddress, write bool) {
	key := addr.lockKey()
	e, ok := t.locks[key]
	if !ok {
		return
	}
	if write {
		e.writer = false
	} else if e.readers > 0 {
		e.readers--
	}
	if !e.writer && e.readers == 0 {
		delete(t.locks, key)
	}
	t.emit(IOEvent{Kind: "unlock", Addr: addr})
}

// Read returns the current value at addr: a pending write if one is
// buffered, otherwise whatever the underlying database holds.
func (t *Track) Read(addr SubstateAddress) ([]byte, bool) {
	key := addr.lockKey()
	if w, ok := t.writes[key]; ok {
		if w.kind == DBDelete {
			return nil, false
		}
		t.emit(IOEvent{Kind: "read", Addr: addr, Bytes: len(w.value)})
		return append([]byte(nil), w.value...), true
	}
	v, ok := t.db.Get(addr.Node, addr.Partition, addr.Key)
	t.emit(IOEvent{Kind: "read", Addr: addr, Bytes: len(v)})
	return v, ok
}

// Write buffers a value to be committed at transaction end.
func (t *Track) Write(addr SubstateAddress, value []byte) {
	t.writes[addr.lockKey()] = trackWrite{addr: addr, value: value, kind: DBSet}
	t.emit(IOEvent{Kind: "write", Addr: addr, Bytes: len(value)})
}

func (t *Track) Delete(addr SubstateAddress) {
	t.writes[addr.lockKey()] = trackWrite{addr: addr, kind: DBDelete}
	t.emit(IOEvent{Kind: "write", Addr: addr})
}

// ResetPartition buffers a full replacement of a collection partition
// (used when a native blueprint bulk-rewrites an index, e.g. a worktop
// settlement or a non-fungible id store compaction).
func (t *Track) ResetPartition(node NodeID, partition PartitionNumber, entries map[string][]byte) {
	addr := SubstateAddress{Node: node, Partition: partition}
	t.writes[addr.lockKey()+"#reset"] = trackWrite{addr: addr, kind: DBReset, reset: entries}
}

func (t *Track) ListEntries(node NodeID, partition PartitionNumber) []KVEntry {
	base := t.db.ListEntries(node, partition, nil)
	merged := make(map[string]KVEntry, len(base))
	for _, e := range base {
		merged[e.Key.bytes()] = e
	}
	for _, w := range t.writes {
		if w.addr.Node != node || w.addr.Partition != partition {
			continue
		}
		switch w.kind {
		case DBSet:
			merged[w.addr.Key.bytes()] = KVEntry{Node: node, Partition: partition, Key: w.addr.Key, Value: w.value}
		case DBDelete:
			delete(merged, w.addr.Key.bytes())
		case DBReset:
			merged = make(map[string]KVEntry, len(w.reset))
			for k, v := range w.reset {
				key := MapKey([]byte(k))
				merged[key.bytes()] = KVEntry{Node: node, Partition: partition, Key: key, Value: v}
			}
		}
	}
	out := make([]KVEntry, 0, len(merged))
	for _, e := range merged {
		out = append(out, e)
	}
	return out
}

// Commit flushes every buffered write to the database as one atomic batch
// (spec.md §4.3 "Track commit semantics"). Writes commit in the order they
// were closed within the transaction (spec.md §5's ordering guarantee) —
// since the buffer is keyed by address and applied as a single batch, the
// final state reflects the *last* write to each address, which is exactly
// "latest write wins" for a single transaction.
func (t *Track) Commit() (DatabaseUpdates, error) {
	updates := make(DatabaseUpdates, len(t.writes))
	for key, w := range t.writes {
		upd := DatabaseUpdate{Addr: w.addr, Kind: w.kind, Value: w.value, Entries: w.reset}
		updates[key] = upd
	}
	if err := t.db.Commit(updates); err != nil {
		return nil, err
	}
	if t.log != nil {
		t.log.WithField("writes", len(updates)).Debug("track committed")
	}
	return updates, nil
}

// Rollback discards every buffered write; the database is left untouched.
// This is the path taken on rejection (spec.md §8 property 6) and is simply
// "do nothing" since writes only ever live in t.writes until Commit runs.
func (t *Track) Rollback() {
	t.writes = make(map[string]trackWrite)
	t.locks = make(map[string]*lockEntry)
}
