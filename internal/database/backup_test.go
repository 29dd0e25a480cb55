package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestBackupListAndPrune(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Exec("CREATE TABLE grain (lot TEXT)"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("INSERT INTO grain VALUES ('HRW-01')"); err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(t.TempDir(), "backups")
	for i := 0; i < 3; i++ {
		info, err := Backup(context.Background(), db, dir)
		if err != nil {
			t.Fatalf("Backup: %v", err)
		}
		if info.Size == 0 || !IsBackupName(info.Filename) {
			t.Errorf("Unexpected backup %+v", info)
		}
	}
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644)

	list, err := ListBackups(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("Expected 3 backups, got %d", len(list))
	}

	copyDB, err := Open(filepath.Join(dir, list[0].Filename))
	if err != nil {
		t.Fatal(err)
	}
	var lot string
	copyDB.QueryRow("SELECT lot FROM grain").Scan(&lot)
	copyDB.Close()
	if lot != "HRW-01" {
		t.Errorf("Expected backup to hold HRW-01, got %q", lot)
	}

	removed, err := PruneBackups(dir, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 2 {
		t.Errorf("Expected 2 removed, got %v", removed)
	}
	list, _ = ListBackups(dir)
	if len(list) != 1 {
		t.Errorf("Expected 1 backup left, got %d", len(list))
	}

	empty, err := ListBackups(filepath.Join(t.TempDir(), "missing"))
	if err != nil || len(empty) != 0 {
		t.Errorf("Expected no backups for a missing dir, got %v %v", empty, err)
	}
}

func TestIsBackupName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"millops-backup-2026-05-01T10-00-00.db", true},
		{"millops-backup-../../etc/passwd.db", false},
		{"other.db", false},
		{"millops-backup-2026.db.gz", false},
	}
	for _, tt := range tests {
		if got := IsBackupName(tt.name); got != tt.want {
			t.Errorf("IsBackupName(%q): expected %v, got %v", tt.name, tt.want, got)
		}
	}
}
