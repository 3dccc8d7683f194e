package scandb

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/laserscan/internal/httputil"
	"github.com/banshee-data/laserscan/internal/monitoring"
)

// TableStats is the row count of one table.
type TableStats struct {
	Name     string `json:"name"`
	RowCount int64  `json:"row_count"`
}

// Stats summarises the database for the debug page.
type Stats struct {
	Path          string       `json:"path"`
	SchemaVersion uint         `json:"schema_version"`
	Dirty         bool         `json:"dirty"`
	Tables        []TableStats `json:"tables"`
}

// Stats returns row counts of the scan tables.
func (db *DB) Stats() (Stats, error) {
	st := Stats{Path: db.path}
	v, dirty, err := db.MigrateVersion()
	if err != nil {
		return st, err
	}
	st.SchemaVersion, st.Dirty = v, dirty
	for _, table := range []string{"scan_sessions", "scan_batches", "scan_points"} {
		var n int64
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			return st, fmt.Errorf("count %s: %w", table, err)
		}
		st.Tables = append(st.Tables, TableStats{Name: table, RowCount: n})
	}
	return st, nil
}

// AttachAdminRoutes mounts tailsql, a stats page and a backup download
// under /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "Scan DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("db-stats", "Scan database row counts", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, err := db.Stats()
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, st)
	}))

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.handleBackup))
	return nil
}

func (db *DB) handleBackup(w http.ResponseWriter, r *http.Request) {
	dir, err := os.MkdirTemp("", "scandb-backup-")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to create backup dir: %v", err))
		return
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			monitoring.Logf("scandb: failed to remove backup dir: %v", err)
		}
	}()

	name := fmt.Sprintf("backup-%d.db", time.Now().Unix())
	backupPath := filepath.Join(dir, name)
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to create backup: %v", err))
		return
	}
	f, err := os.Open(backupPath)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to open backup file: %v", err))
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/gzip")
	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, f); err != nil {
		monitoring.Logf("scandb: backup stream failed: %v", err)
	}
}
