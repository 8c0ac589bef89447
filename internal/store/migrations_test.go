package store

import (
	"path/filepath"
	"testing"
)

func TestFreshDatabaseIsFullyMigrated(t *testing.T) {
	st := testStore(t)

	status, err := st.MigrationStatus()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.CurrentVersion != status.AvailableVersion {
		t.Fatalf("expected current %d == available %d", status.CurrentVersion, status.AvailableVersion)
	}
	if len(status.Pending) != 0 {
		t.Fatalf("expected no pending migrations, got %+v", status.Pending)
	}
}

func TestReopenDoesNotRerunMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")

	st, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	first, err := st.MigrationStatus()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	second, err := st.MigrationStatus()
	if err != nil {
		t.Fatalf("status after reopen: %v", err)
	}
	if second.CurrentVersion != first.CurrentVersion {
		t.Fatalf("version moved on reopen: %d -> %d", first.CurrentVersion, second.CurrentVersion)
	}
}

func TestMigrationVersionsAreOrderedAndUnique(t *testing.T) {
	seen := make(map[int]bool)
	for _, m := range migrations {
		if m.Version <= 0 {
			t.Fatalf("migration %q has non-positive version", m.Description)
		}
		if seen[m.Version] {
			t.Fatalf("duplicate migration version %d", m.Version)
		}
		seen[m.Version] = true
	}
}
