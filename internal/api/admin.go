package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/suscart-data/freshrelay/internal/monitoring"
	"github.com/suscart-data/freshrelay/internal/relay"
	"github.com/suscart-data/freshrelay/internal/wire"
)

// AttachAdminRoutes mounts the debug surface: tsweb's standard debug pages,
// a tailSQL console over the inventory database, and a live SSE tail of the
// event stream.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://inventory.db", s.store.DB(), &tailsql.DBOptions{
		Label: "Inventory DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("relay-stats", "Current hub statistics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.Encode(s.hub.Stats())
	}))

	debug.Handle("backup", "Create and download a backup of the inventory database", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath, err := s.store.Backup(os.TempDir())
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			if err := os.Remove(backupPath); err != nil {
				monitoring.Logf("failed to remove backup file: %v", err)
			}
		}()

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer backupFile.Close()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filepath.Base(backupPath)))
		w.Header().Set("Content-Type", "application/octet-stream")
		io.Copy(w, backupFile)
	}))

	// SSE tail of the broadcast stream. The tail is a normal subscriber, so
	// it sees the snapshot prologue and is subject to the same slow-consumer
	// rules as a dashboard.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		sub, err := s.hub.Register()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		defer s.hub.Unregister(sub.ID)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		w.(http.Flusher).Flush()

		if err := sub.Run(r.Context(), &sseTailWriter{w: w}); err != nil {
			monitoring.Logf("debug tail %s ended: %v", sub.ID, err)
		}
	})

	return nil
}

// sseTailWriter renders the stream as server-sent events. Frames are reduced
// to a sequence line so the tail stays readable; events go out in full.
type sseTailWriter struct {
	w http.ResponseWriter
}

func (t *sseTailWriter) WriteFrame(f *relay.Frame) error {
	detections := 0
	if f.Metadata != nil {
		detections = len(f.Metadata.Detections)
	}
	_, err := fmt.Fprintf(t.w, "data: frame seq=%d captured=%s detections=%d\n\n",
		f.Sequence, f.CapturedAt.Format(time.RFC3339Nano), detections)
	if err != nil {
		return err
	}
	t.w.(http.Flusher).Flush()
	return nil
}

func (t *sseTailWriter) WriteEvent(e *relay.StateEvent) error {
	data, err := json.Marshal(wire.EventEnvelope(e))
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(t.w, "data: %s\n\n", data); err != nil {
		return err
	}
	t.w.(http.Flusher).Flush()
	return nil
}
