package store

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestMemoryStore(t *testing.T) {
	s := NewMemory()
	defer s.Close()

	// Test Put and Get
	v, err := s.Put("test", "x = 1;")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if v != 1 {
		t.Errorf("expected version 1, got %d", v)
	}

	got, err := s.Get("test")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.Source != "x = 1;" || got.Name != "test" {
		t.Errorf("expected stored document, got %+v", got)
	}

	// Test Delete
	if err := s.Delete("test"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	got, err = s.Get("test")
	if err != nil {
		t.Fatalf("Get after delete failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil after delete, got %+v", got)
	}
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "herd-test.db")

	s, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("Failed to create SQLite store: %v", err)
	}

	if _, err := s.Put("test", "y = 2;"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.SetMetadata("main", "test"); err != nil {
		t.Fatalf("SetMetadata failed: %v", err)
	}

	// Close and reopen to verify persistence
	s.Close()

	s2, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("Failed to reopen SQLite store: %v", err)
	}
	defer s2.Close()

	got, err := s2.Get("test")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got == nil || got.Source != "y = 2;" {
		t.Errorf("expected 'y = 2;' after reopen, got %+v", got)
	}
	main, err := s2.GetMetadata("main")
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	if main != "test" {
		t.Errorf("expected metadata 'test', got %q", main)
	}
}

func testVersioning(t *testing.T, s HistoryStore) {
	t.Helper()

	// Put creates version 1, a changed source version 2
	s.Put("X", "a = 1;")
	s.Put("X", "a = 2;")
	got, _ := s.Get("X")
	if got.Source != "a = 2;" || got.Version != 2 {
		t.Errorf("expected v2 'a = 2;', got v%d %q", got.Version, got.Source)
	}

	// Put with same source is a no-op (dedup)
	if v, _ := s.Put("X", "a = 2;"); v != 2 {
		t.Errorf("expected unchanged put to report version 2, got %d", v)
	}

	// GetHistory returns newest-first
	entries, err := s.GetHistory("X", 0)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Version != 2 || entries[0].Source != "a = 2;" {
		t.Errorf("entry[0]: expected v2, got v%d %q", entries[0].Version, entries[0].Source)
	}
	if entries[1].Version != 1 || entries[1].Source != "a = 1;" {
		t.Errorf("entry[1]: expected v1, got v%d %q", entries[1].Version, entries[1].Source)
	}

	// GetHistory with limit
	entries, err = s.GetHistory("X", 1)
	if err != nil {
		t.Fatalf("GetHistory with limit failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Version != 2 {
		t.Fatalf("expected only v2 with limit, got %v", entries)
	}

	s.Put("Y", "b = 1;")
	names, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(names) != 2 || names[0] != "X" || names[1] != "Y" {
		t.Errorf("expected [X Y], got %v", names)
	}

	// Delete removes all versions
	s.Delete("X")
	entries, err = s.GetHistory("X", 0)
	if err != nil {
		t.Fatalf("GetHistory after delete failed: %v", err)
	}
	if entries != nil {
		t.Errorf("expected nil after delete, got %v", entries)
	}
}

func TestMemoryVersioning(t *testing.T) {
	testVersioning(t, NewMemory())
}

func TestSQLiteVersioning(t *testing.T) {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "herd-ver.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer s.Close()
	testVersioning(t, s)
}

func TestCodecCanonical(t *testing.T) {
	d := &Document{Name: "n", Source: "x = 1;", Version: 3, Ts: "2026-01-01T00:00:00Z"}
	a, err := Encode(d)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b, err := Encode(&Document{Ts: d.Ts, Version: 3, Source: d.Source, Name: "n"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("expected identical encodings")
	}
	got, err := Decode(a)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if *got != *d {
		t.Errorf("expected %+v, got %+v", d, got)
	}
	if _, err := Decode([]byte{0xff}); err == nil {
		t.Errorf("expected error decoding garbage")
	}
}

func TestRequire(t *testing.T) {
	s := NewMemory()
	if _, err := Require(s, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	s.Put("main", "x = 1;")
	d, err := Require(s, "main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Version != 1 {
		t.Errorf("expected version 1, got %d", d.Version)
	}
}
