package storage

import "testing"

func TestFileRoundStorePersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()

	r, err := OpenRoundStore(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := r.SaveMaxRound(42); err != nil {
		t.Fatalf("save: %v", err)
	}

	reopened, err := OpenRoundStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.LoadMaxRound()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestFileRoundStoreDefaultsToZero(t *testing.T) {
	r, err := OpenRoundStore(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	got, err := r.LoadMaxRound()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != 0 {
		t.Fatalf("expected 0 for a never-saved round store, got %d", got)
	}
}

func TestMemoryRoundStoreRoundTrip(t *testing.T) {
	m := NewMemoryRoundStore()
	if got, _ := m.LoadMaxRound(); got != 0 {
		t.Fatalf("expected 0 initially, got %d", got)
	}
	if err := m.SaveMaxRound(7); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got, _ := m.LoadMaxRound(); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
}
