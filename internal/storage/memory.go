package storage

import (
	"sync"

	"github.com/quorum-kv/paxoskv/internal/paxos"
)

// MemoryStorage is a Storage backed by a plain Go map, matching the
// teacher's MemoryStorage in spirit (no disk, defensive copies on every
// boundary crossing) but extended to one record per slot instead of one
// global record. It's fine for tests and for cmd/demo; it provides no
// durability across a process restart.
type MemoryStorage struct {
	mu      sync.RWMutex
	records map[int64]Record
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{records: make(map[int64]Record)}
}

func (m *MemoryStorage) SavePromise(slot int64, promised paxos.ProposalNumber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.records[slot]
	rec.Promised = promised
	m.records[slot] = rec
	return nil
}

func (m *MemoryStorage) SaveAccept(slot int64, n paxos.ProposalNumber, value paxos.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := copyCommand(value)
	m.records[slot] = Record{
		Promised:    n,
		AcceptedNum: n,
		AcceptedVal: &v,
	}
	return nil
}

func (m *MemoryStorage) Load(slot int64) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[slot]
	if !ok {
		return Record{}, nil
	}
	return copyRecord(rec), nil
}

func (m *MemoryStorage) LoadAll() (map[int64]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int64]Record, len(m.records))
	for slot, rec := range m.records {
		out[slot] = copyRecord(rec)
	}
	return out, nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

func copyCommand(c paxos.Command) paxos.Command {
	out := c
	if c.Value != nil {
		out.Value = make([]byte, len(c.Value))
		copy(out.Value, c.Value)
	}
	return out
}

func copyRecord(rec Record) Record {
	out := rec
	if rec.AcceptedVal != nil {
		v := copyCommand(*rec.AcceptedVal)
		out.AcceptedVal = &v
	}
	return out
}
