package admin

import (
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"millops/internal/audit"
	"millops/internal/database"
	"millops/internal/handlers/common"
	"millops/internal/response"
)

// CreateBackup snapshots the database and prunes old backups.
func (h *Handler) CreateBackup(w http.ResponseWriter, r *http.Request) {
	info, err := database.Backup(r.Context(), h.DB, h.BackupDir)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	if h.BackupRetention > 0 {
		removed, err := database.PruneBackups(h.BackupDir, h.BackupRetention)
		if err != nil {
			common.Logger(r).Warn("prune backups", zap.Error(err))
		} else if len(removed) > 0 {
			common.Logger(r).Info("pruned backups", zap.Strings("removed", removed))
		}
	}
	h.Audit(r, audit.ActionCreate, "admin", info.Filename, "Created database backup")
	response.Created(w, info)
}

// ListBackups lists backups, newest first.
func (h *Handler) ListBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := database.ListBackups(h.BackupDir)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, backups)
}

// DownloadBackup streams one backup file.
func (h *Handler) DownloadBackup(w http.ResponseWriter, r *http.Request) {
	name := common.Param(r, "filename")
	if !database.IsBackupName(name) {
		response.Err(w, "invalid backup name", http.StatusBadRequest)
		return
	}
	path := filepath.Join(h.BackupDir, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		response.Err(w, "backup not found", http.StatusNotFound)
		return
	}
	h.Audit(r, audit.ActionExport, "admin", name, "Downloaded database backup")
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeFile(w, r, path)
}

// DeleteBackup removes one backup file.
func (h *Handler) DeleteBackup(w http.ResponseWriter, r *http.Request) {
	name := common.Param(r, "filename")
	if !database.IsBackupName(name) {
		response.Err(w, "invalid backup name", http.StatusBadRequest)
		return
	}
	if err := os.Remove(filepath.Join(h.BackupDir, name)); err != nil {
		if os.IsNotExist(err) {
			response.Err(w, "backup not found", http.StatusNotFound)
			return
		}
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionDelete, "admin", name, "Deleted database backup")
	response.JSON(w, map[string]string{"status": "deleted"})
}
