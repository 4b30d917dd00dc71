package store

import (
	"path/filepath"
	"testing"
)

// createTestStore creates a new SQLite store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestBoltStore creates a new bbolt store in a temp directory.
func createTestBoltStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.bolt")
	s, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("OpenBolt() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// backends returns every KV implementation under test.
func backends(t *testing.T) map[string]KV {
	t.Helper()
	return map[string]KV{
		"sqlite": createTestStore(t),
		"bolt":   createTestBoltStore(t),
	}
}
