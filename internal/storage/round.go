package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileRoundStore persists a Proposer's maxRoundSeen as an 8-byte
// big-endian counter, fsync'd on every update. It's deliberately
// simpler than FileStorage's journal: there's only ever one live value,
// so each update writes a temp file, fsyncs it, and renames it over the
// old one, which survives a crash mid-write (the file is only read at
// startup).
type FileRoundStore struct {
	mu   sync.Mutex
	path string
}

// OpenRoundStore opens (creating if necessary) a FileRoundStore backed
// by a file under dir.
func OpenRoundStore(dir string) (*FileRoundStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("roundstore: create dir: %w", err)
	}
	return &FileRoundStore{path: filepath.Join(dir, "round.bin")}, nil
}

func (r *FileRoundStore) SaveMaxRound(round int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(round))
	tmp := r.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("roundstore: open tmp: %w", err)
	}
	if _, err := f.Write(buf[:]); err != nil {
		f.Close()
		return fmt.Errorf("roundstore: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("roundstore: fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("roundstore: close: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("roundstore: rename: %w", err)
	}
	return nil
}

func (r *FileRoundStore) LoadMaxRound() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("roundstore: read: %w", err)
	}
	if len(data) < 8 {
		return 0, nil
	}
	return int64(binary.BigEndian.Uint64(data[:8])), nil
}

// MemoryRoundStore is the in-memory RoundStore used by tests and the
// demo cluster, where surviving a process restart doesn't matter.
type MemoryRoundStore struct {
	mu    sync.Mutex
	round int64
}

func NewMemoryRoundStore() *MemoryRoundStore { return &MemoryRoundStore{} }

func (m *MemoryRoundStore) SaveMaxRound(round int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.round = round
	return nil
}

func (m *MemoryRoundStore) LoadMaxRound() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.round, nil
}
