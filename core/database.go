package core

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// DatabaseUpdate is one of the three things a committed batch can do to a
// substate address: set a new value, delete it, or reset an entire
// collection partition to a fresh set of entries (used when a native
// blueprint's collection, e.g. a non-fungible id store, is replaced wholesale).
type DatabaseUpdateKind uint8

const (
	DBSet DatabaseUpdateKind = iota
	DBDelete
	DBReset
)

type DatabaseUpdate struct {
	Addr    SubstateAddress
	Kind    DatabaseUpdateKind
	Value   []byte
	Entries map[string][]byte // only meaningful for DBReset
}

// DatabaseUpdates batches updates keyed by the lock-key of the substate
// address they apply to (see SubstateAddress.lockKey). The Track produces
// exactly one DatabaseUpdates batch per committed transaction.
type DatabaseUpdates map[string]DatabaseUpdate

// SubstateDatabase is the append/overwrite-only key-value store port
// described in spec.md §6. Implementations provide point reads, ordered
// prefix scans, and atomic batched commits.
type SubstateDatabase interface {
	Get(node NodeID, partition PartitionNumber, key SubstateKey) ([]byte, bool)
	ListEntries(node NodeID, partition PartitionNumber, fromKey *SubstateKey) []KVEntry
	Commit(updates DatabaseUpdates) error
}

// KVEntry is one (key, value) pair returned by a partition scan.
type KVEntry struct {
	Node      NodeID
	Partition PartitionNumber
	Key       SubstateKey
	Value     []byte
}

// addrRecord is the on-disk/in-memory representation of one stored substate,
// kept alongside its address so prefix scans can reconstruct SubstateKey.
type addrRecord struct {
	Addr  SubstateAddress
	Value []byte
}

// InMemorySubstateDatabase is a durable, single-process substate store. It
// mirrors the teacher's Ledger: an in-memory map fronted by an append-only
// write-ahead log, plus snapshots taken when Snapshot is called so restart
// doesn't require replaying the WAL from genesis. Unlike the teacher's blockchain ledger
// there is no notion of blocks here — each WAL record is one committed
// transaction's DatabaseUpdates batch.
type InMemorySubstateDatabase struct {
	mu   sync.RWMutex
	data map[string]addrRecord

	walPath      string
	walFile      *os.File
	snapshotPath string
}

// SubstateDatabaseConfig configures where an InMemorySubstateDatabase
// persists its write-ahead log and snapshot.
type SubstateDatabaseConfig struct {
	WALPath      string
	SnapshotPath string
}

// OpenSubstateDatabase loads a snapshot (if present) and replays the WAL on
// top of it, exactly as the teacher's NewLedger/OpenLedger pair does for
// blocks. An empty WALPath yields a pure in-memory database useful for tests.
func OpenSubstateDatabase(cfg SubstateDatabaseConfig) (*InMemorySubstateDatabase, error) {
	db := &InMemorySubstateDatabase{
		data:         make(map[string]addrRecord),
		walPath:      cfg.WALPath,
		snapshotPath: cfg.SnapshotPath,
	}

	if cfg.SnapshotPath != "" {
		if f, err := os.Open(cfg.SnapshotPath); err == nil {
			defer f.Close()
			var records []addrRecord
			if err := json.NewDecoder(f).Decode(&records); err != nil {
				return nil, fmt.Errorf("decode snapshot: %w", err)
			}
			for _, r := range records {
				db.data[r.Addr.lockKey()] = r
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("open snapshot: %w", err)
		}
	}

	if cfg.WALPath == "" {
		return db, nil
	}

	wal, err := os.OpenFile(cfg.WALPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open WAL: %w", err)
	}
	db.walFile = wal

	scanner := bufio.NewScanner(wal)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var rec walRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			_ = wal.Close()
			return nil, fmt.Errorf("WAL unmarshal: %w", err)
		}
		db.applyWalRecord(rec)
	}
	if err := scanner.Err(); err != nil {
		_ = wal.Close()
		return nil, fmt.Errorf("WAL scan: %w", err)
	}
	return db, nil
}

type walRecord struct {
	Sets    []addrRecord          `json:"sets"`
	Deletes []SubstateAddress     `json:"deletes"`
	Resets  map[string]addrRecord `json:"-"`
}

func (db *InMemorySubstateDatabase) applyWalRecord(rec walRecord) {
	for _, s := range rec.Sets {
		db.data[s.Addr.lockKey()] = s
	}
	for _, d := range rec.Deletes {
		delete(db.data, d.lockKey())
	}
}

func (db *InMemorySubstateDatabase) Get(node NodeID, partition PartitionNumber, key SubstateKey) ([]byte, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	addr := SubstateAddress{Node: node, Partition: partition, Key: key}
	r, ok := db.data[addr.lockKey()]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), r.Value...), true
}

func (db *InMemorySubstateDatabase) ListEntries(node NodeID, partition PartitionNumber, fromKey *SubstateKey) []KVEntry {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var out []KVEntry
	for _, r := range db.data {
		if r.Addr.Node != node || r.Addr.Partition != partition {
			continue
		}
		if fromKey != nil && r.Addr.Key.bytes() < fromKey.bytes() {
			continue
		}
		out = append(out, KVEntry{Node: node, Partition: partition, Key: r.Addr.Key, Value: append([]byte(nil), r.Value...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.bytes() < out[j].Key.bytes() })
	return out
}

// Commit applies a DatabaseUpdates batch atomically: every Set/Delete/Reset
// is installed in memory and then persisted to the WAL as a single record.
// There is no partial-commit state observable by a subsequent Get/ListEntries
// call, satisfying spec.md §8 property 6 (rejection purity) for the database
// layer — an uncommitted batch never touches `data` at all.
func (db *InMemorySubstateDatabase) Commit(updates DatabaseUpdates) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	rec := walRecord{}
	for lockKey, u := range updates {
		switch u.Kind {
		case DBSet:
			ar := addrRecord{Addr: u.Addr, Value: u.Value}
			db.data[lockKey] = ar
			rec.Sets = append(rec.Sets, ar)
		case DBDelete:
			delete(db.data, lockKey)
			rec.Deletes = append(rec.Deletes, u.Addr)
		case DBReset:
			keep := make(map[string]bool, len(u.Entries))
			for subKey := range u.Entries {
				sub := u.Addr
				sub.Key = MapKey([]byte(subKey))
				keep[sub.lockKey()] = true
			}
			for k := range db.data {
				if db.data[k].Addr.Node == u.Addr.Node && db.data[k].Addr.Partition == u.Addr.Partition {
					if !keep[k] {
						rec.Deletes = append(rec.Deletes, db.data[k].Addr)
					}
					delete(db.data, k)
				}
			}
			for subKey, val := range u.Entries {
				sub := u.Addr
				sub.Key = MapKey([]byte(subKey))
				ar := addrRecord{Addr: sub, Value: val}
				db.data[sub.lockKey()] = ar
				rec.Sets = append(rec.Sets, ar)
			}
		}
	}

	if db.walFile != nil {
		buf, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal WAL record: %w", err)
		}
		if _, err := db.walFile.Write(append(buf, '\n')); err != nil {
			return fmt.Errorf("write WAL: %w", err)
		}
		if err := db.walFile.Sync(); err != nil {
			return fmt.Errorf("sync WAL: %w", err)
		}
	}
	logrus.WithField("updates", len(updates)).Debug("substate database commit")
	return nil
}

// Snapshot writes the full set of stored substates to JSON and truncates the
// WAL, mirroring the teacher's Ledger.snapshot.
func (db *InMemorySubstateDatabase) Snapshot() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.snapshotPath == "" {
		return nil
	}
	records := make([]addrRecord, 0, len(db.data))
	for _, r := range db.data {
		records = append(records, r)
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(records); err != nil {
		return err
	}
	if err := os.WriteFile(db.snapshotPath, buf.Bytes(), 0o600); err != nil {
		return err
	}
	if db.walFile != nil {
		if err := db.walFile.Truncate(0); err != nil {
			return err
		}
		if _, err := db.walFile.Seek(0, 0); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying WAL file handle.
func (db *InMemorySubstateDatabase) Close() error {
	if db.walFile == nil {
		return nil
	}
	return db.walFile.Close()
}
