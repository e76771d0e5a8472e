package storage

import (
	"testing"

	"github.com/quorum-kv/paxoskv/internal/paxos"
)

func TestFileStoragePersistsAndReopens(t *testing.T) {
	dir := t.TempDir()

	f, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	n := paxos.ProposalNumber{Round: 1, ProposerID: "p1"}
	cmd := paxos.Command{Kind: paxos.CommandWrite, Key: "k", Value: []byte("v")}
	if err := f.SavePromise(1, n); err != nil {
		t.Fatalf("save promise: %v", err)
	}
	if err := f.SaveAccept(1, n, cmd); err != nil {
		t.Fatalf("save accept: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	rec, err := reopened.Load(1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !rec.AcceptedNum.Equal(n) {
		t.Fatalf("expected accepted num %v, got %v", n, rec.AcceptedNum)
	}
	if rec.AcceptedVal == nil || !rec.AcceptedVal.Equal(cmd) {
		t.Fatalf("expected accepted value %v, got %v", cmd, rec.AcceptedVal)
	}
}

func TestFileStorageLoadAllCopiesAreIndependent(t *testing.T) {
	dir := t.TempDir()
	f, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	n := paxos.ProposalNumber{Round: 1, ProposerID: "p1"}
	cmd := paxos.Command{Kind: paxos.CommandWrite, Key: "k", Value: []byte("v")}
	if err := f.SaveAccept(1, n, cmd); err != nil {
		t.Fatalf("save accept: %v", err)
	}

	all, err := f.LoadAll()
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	rec := all[1]
	rec.AcceptedVal.Value[0] = 'X'

	fresh, err := f.Load(1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if fresh.AcceptedVal.Value[0] == 'X' {
		t.Fatalf("mutating a LoadAll copy must not affect the stored record")
	}
}

func TestFileStorageMissingSlotReturnsZeroRecord(t *testing.T) {
	dir := t.TempDir()
	f, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	rec, err := f.Load(99)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !rec.Promised.IsZero() || rec.AcceptedVal != nil {
		t.Fatalf("expected a zero record for an unknown slot, got %+v", rec)
	}
}
