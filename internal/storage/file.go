package storage

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/quorum-kv/paxoskv/internal/paxos"
)

// journalEntry is one line of the append-only journal: a single slot's
// record, as of the moment it was written. Replaying every entry in
// order and keeping only the last one per slot reconstructs current
// state exactly, per spec.md §6: "on restart, the compacted file is read
// first, then the journal tail replayed."
type journalEntry struct {
	Slot   int64
	Record Record
}

const compactEvery = 500

// FileStorage is the production Storage backend: an append-only journal
// for every promise/accept decision, `fsync`'d before SavePromise/
// SaveAccept return, plus a periodically-written compacted snapshot so
// recovery doesn't have to replay the journal from the beginning of
// time. The teacher's storage.go describes exactly this requirement
// ("production requires durable storage with sync writes") without
// implementing it; this is that implementation.
type FileStorage struct {
	mu       sync.Mutex
	dir      string
	journal  *os.File
	records  map[int64]Record
	pending  int
}

// Open opens (creating if necessary) a FileStorage rooted at dir,
// replaying the compacted snapshot and journal tail to reconstruct
// current per-slot state.
func Open(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create dir: %w", err)
	}
	f := &FileStorage{dir: dir, records: make(map[int64]Record)}
	if err := f.loadSnapshot(); err != nil {
		return nil, fmt.Errorf("storage: load snapshot: %w", err)
	}
	if err := f.replayJournal(); err != nil {
		return nil, fmt.Errorf("storage: replay journal: %w", err)
	}
	journal, err := os.OpenFile(f.journalPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: open journal: %w", err)
	}
	f.journal = journal
	return f, nil
}

func (f *FileStorage) snapshotPath() string { return filepath.Join(f.dir, "snapshot.gob") }
func (f *FileStorage) journalPath() string  { return filepath.Join(f.dir, "journal.gob") }

func (f *FileStorage) loadSnapshot() error {
	file, err := os.Open(f.snapshotPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer file.Close()
	var snap map[int64]Record
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	f.records = snap
	return nil
}

func (f *FileStorage) replayJournal() error {
	file, err := os.Open(f.journalPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer file.Close()
	// appendLocked writes every entry with its own gob.Encoder, so each
	// entry carries its own type definitions; decode each with a fresh
	// Decoder over one shared buffered reader to match.
	r := bufio.NewReader(file)
	for {
		var entry journalEntry
		if err := gob.NewDecoder(r).Decode(&entry); err != nil {
			if err == io.EOF {
				return nil
			}
			// A truncated final record means a crash mid-write; the
			// corresponding reply was never sent, so it's safe to stop
			// here and drop the partial entry.
			return nil
		}
		f.records[entry.Slot] = entry.Record
	}
}

func (f *FileStorage) appendLocked(slot int64, rec Record) error {
	entry := journalEntry{Slot: slot, Record: rec}
	if err := gob.NewEncoder(f.journal).Encode(entry); err != nil {
		return fmt.Errorf("storage: append journal: %w", err)
	}
	if err := f.journal.Sync(); err != nil {
		return fmt.Errorf("storage: fsync journal: %w", err)
	}
	f.records[slot] = rec
	f.pending++
	if f.pending >= compactEvery {
		if err := f.compactLocked(); err != nil {
			return err
		}
	}
	return nil
}

// compactLocked writes the current in-memory table to a fresh snapshot
// file and truncates the journal. The snapshot is written to a temp file
// and fsync'd before being renamed over the old one, so a crash mid-
// compaction leaves either the old snapshot+full journal or the new
// snapshot+empty journal — never a half-written snapshot.
func (f *FileStorage) compactLocked() error {
	tmp := f.snapshotPath() + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("storage: create snapshot tmp: %w", err)
	}
	if err := gob.NewEncoder(file).Encode(f.records); err != nil {
		file.Close()
		return fmt.Errorf("storage: encode snapshot: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("storage: fsync snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("storage: close snapshot tmp: %w", err)
	}
	if err := os.Rename(tmp, f.snapshotPath()); err != nil {
		return fmt.Errorf("storage: rename snapshot: %w", err)
	}

	if err := f.journal.Close(); err != nil {
		return fmt.Errorf("storage: close journal: %w", err)
	}
	journal, err := os.OpenFile(f.journalPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("storage: recreate journal: %w", err)
	}
	f.journal = journal
	f.pending = 0
	return nil
}

func (f *FileStorage) SavePromise(slot int64, promised paxos.ProposalNumber) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := f.records[slot]
	rec.Promised = promised
	return f.appendLocked(slot, rec)
}

func (f *FileStorage) SaveAccept(slot int64, n paxos.ProposalNumber, value paxos.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := copyCommand(value)
	return f.appendLocked(slot, Record{Promised: n, AcceptedNum: n, AcceptedVal: &v})
}

func (f *FileStorage) Load(slot int64) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[slot]
	if !ok {
		return Record{}, nil
	}
	return copyRecord(rec), nil
}

func (f *FileStorage) LoadAll() (map[int64]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int64]Record, len(f.records))
	for slot, rec := range f.records {
		out[slot] = copyRecord(rec)
	}
	return out, nil
}

func (f *FileStorage) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.journal == nil {
		return nil
	}
	err := f.journal.Close()
	f.journal = nil
	return err
}
