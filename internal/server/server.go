// Package server exposes run progress over HTTP while an enrichment runs.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listing-enrich/internal/model"
)

// Controller is the run surface the server reports on.
type Controller interface {
	Running() bool
	Progress() model.Stats
	Stop()
	CheckForSnapshot(ctx context.Context) (*model.Snapshot, error)
}

// SnapshotSummary describes a stored snapshot without its results.
type SnapshotSummary struct {
	RunID        string    `json:"run_id"`
	Filename     string    `json:"filename"`
	Owner        string    `json:"owner,omitempty"`
	Cursor       int       `json:"cursor"`
	TotalRecords int       `json:"total_records"`
	Tier         string    `json:"tier"`
	SavedAt      time.Time `json:"saved_at"`
}

// Summarize drops the result payload from snap.
func Summarize(snap *model.Snapshot) SnapshotSummary {
	return SnapshotSummary{
		RunID:        snap.RunID,
		Filename:     snap.Filename,
		Owner:        snap.Owner,
		Cursor:       snap.Cursor,
		TotalRecords: snap.TotalRecords,
		Tier:         snap.Config.Tier,
		SavedAt:      snap.SavedAt,
	}
}

// NewRouter builds the status routes.
func NewRouter(c Controller) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "running": c.Running()})
	})

	r.Get("/progress", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, c.Progress())
	})

	r.Get("/snapshot", func(w http.ResponseWriter, req *http.Request) {
		snap, err := c.CheckForSnapshot(req.Context())
		if err != nil {
			zap.L().Error("server: load snapshot", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "snapshot unavailable"})
			return
		}
		if snap == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no snapshot"})
			return
		}
		writeJSON(w, http.StatusOK, Summarize(snap))
	})

	r.Post("/stop", func(w http.ResponseWriter, _ *http.Request) {
		if !c.Running() {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "no run in progress"})
			return
		}
		c.Stop()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
	})

	r.Handle("/metrics", promhttp.Handler())
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: write response", zap.Error(err))
	}
}

// ListenAndServe serves h on addr until ctx is done, then shuts down.
func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server: shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("server: status endpoint listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}
