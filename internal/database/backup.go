package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const backupPrefix = "millops-backup-"

// BackupInfo describes one backup file.
type BackupInfo struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	CreatedAt string `json:"created_at"`
}

var backupMu sync.Mutex

// Backup writes a consistent copy of db into dir with VACUUM INTO and
// returns the new file.
func Backup(ctx context.Context, db *sql.DB, dir string) (BackupInfo, error) {
	backupMu.Lock()
	defer backupMu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return BackupInfo{}, fmt.Errorf("create backup dir: %w", err)
	}
	ts := time.Now().UTC().Format("2006-01-02T15-04-05")
	name := backupPrefix + ts + ".db"
	for n := 1; ; n++ {
		if _, err := os.Stat(filepath.Join(dir, name)); os.IsNotExist(err) {
			break
		}
		name = fmt.Sprintf("%s%s-%d.db", backupPrefix, ts, n)
	}
	dest := filepath.Join(dir, name)
	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return BackupInfo{}, fmt.Errorf("vacuum into %s: %w", dest, err)
	}
	st, err := os.Stat(dest)
	if err != nil {
		return BackupInfo{}, err
	}
	return BackupInfo{Filename: name, Size: st.Size(), CreatedAt: st.ModTime().UTC().Format(time.RFC3339)}, nil
}

// ListBackups returns the backups in dir, newest first. A missing dir has
// no backups.
func ListBackups(dir string) ([]BackupInfo, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []BackupInfo{}, nil
	}
	if err != nil {
		return nil, err
	}
	backups := []BackupInfo{}
	for _, e := range entries {
		if e.IsDir() || !IsBackupName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		backups = append(backups, BackupInfo{Filename: e.Name(), Size: info.Size(), CreatedAt: info.ModTime().UTC().Format(time.RFC3339)})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].Filename > backups[j].Filename })
	return backups, nil
}

// IsBackupName reports whether name is a plain backup filename, with no
// path components.
func IsBackupName(name string) bool {
	return strings.HasPrefix(name, backupPrefix) && strings.HasSuffix(name, ".db") &&
		!strings.ContainsAny(name, `/\`) && !strings.Contains(name, "..")
}

// PruneBackups removes all but the newest keep backups and returns the
// names removed.
func PruneBackups(dir string, keep int) ([]string, error) {
	backups, err := ListBackups(dir)
	if err != nil {
		return nil, err
	}
	var removed []string
	for i := keep; i < len(backups); i++ {
		if err := os.Remove(filepath.Join(dir, backups[i].Filename)); err != nil {
			return removed, fmt.Errorf("remove %s: %w", backups[i].Filename, err)
		}
		removed = append(removed, backups[i].Filename)
	}
	return removed, nil
}
