// Package api provides read-only HTTP handlers for the pattern watcher.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"pivotwatch/internal/store/sqlite"
	"pivotwatch/internal/watcher"
)

// StatusProvider reports the state of every watch.
type StatusProvider interface {
	Status() []watcher.WatchStatus
}

// AlertLister returns journaled alerts, newest first.
type AlertLister interface {
	Recent(ctx context.Context, limit int) ([]sqlite.AlertRecord, error)
}

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 500
)

// NewRouter sets up the API routes. alerts may be nil when the journal is disabled.
func NewRouter(status StatusProvider, alerts AlertLister) *http.ServeMux {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// GET /api/v1/watches
	mux.HandleFunc("/api/v1/watches", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, status.Status())
	})

	// GET /api/v1/alerts?limit=N
	mux.HandleFunc("/api/v1/alerts", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if alerts == nil {
			writeError(w, http.StatusServiceUnavailable, "alert journal disabled")
			return
		}
		limit := defaultAlertLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}
		if limit > maxAlertLimit {
			limit = maxAlertLimit
		}
		recs, err := alerts.Recent(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if recs == nil {
			recs = []sqlite.AlertRecord{}
		}
		writeJSON(w, http.StatusOK, recs)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
