package monitor

import (
	"fmt"
	"html/template"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/slamframe/internal/httputil"
)

var sessionsPage = template.Must(template.New("sessions").Parse(`<!DOCTYPE html>
<html><head><title>SLAM sessions</title></head><body>
<table border="1" cellpadding="4">
<tr><th>scene</th><th>run</th><th>mode</th><th>frames</th><th>fused</th><th>fusion</th><th>last result</th><th>keyframes</th><th>voxels</th><th>exhausted</th><th>dropped</th></tr>
{{range .}}<tr><td>{{.SceneID}}</td><td>{{.RunID}}</td><td>{{.FailureMode}}</td><td>{{.FramesProcessed}}</td><td>{{.FusedFramesCount}}</td><td>{{.FusionEnabled}}</td><td>{{.LastResult}}</td><td>{{.Keyframes}}</td><td>{{.VoxelCount}}</td><td>{{.Exhausted}}</td><td>{{.DroppedFrames}}</td></tr>
{{end}}</table></body></html>
`))

// AttachAdminRoutes mounts the debug pages on mux under /debug/. The SQL
// debugger, table statistics and backup pages need the server's database.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	debug.Handle("slam-sessions", "Live SLAM session table", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := sessionsPage.Execute(w, s.Statuses()); err != nil {
			opsf("render sessions page: %v", err)
		}
	}))

	if s.db == nil {
		return nil
	}

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(s.db.Path()), s.db.DB, &tailsql.DBOptions{
		Label: "SLAM pose DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("db-stats", "Row counts per table", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.db.Stats()
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, stats)
	}))

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(s.handleBackup))
	return nil
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	dir, err := os.MkdirTemp("", "slam-backup-")
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup dir: %v", err), http.StatusInternalServerError)
		return
	}
	defer os.RemoveAll(dir)

	name := fmt.Sprintf("backup-%d.db", s.clock.Now().Unix())
	backupPath := filepath.Join(dir, name)
	if _, err := s.db.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	f, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/gzip")
	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, f); err != nil {
		opsf("stream backup: %v", err)
	}
}
