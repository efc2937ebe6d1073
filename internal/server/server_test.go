package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/listing-enrich/internal/model"
)

type fakeController struct {
	running bool
	stats   model.Stats
	snap    *model.Snapshot
	snapErr error
	stopped int
}

func (f *fakeController) Running() bool         { return f.running }
func (f *fakeController) Progress() model.Stats { return f.stats }
func (f *fakeController) Stop()                 { f.stopped++ }

func (f *fakeController) CheckForSnapshot(context.Context) (*model.Snapshot, error) {
	return f.snap, f.snapErr
}

func serve(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	rr := serve(t, NewRouter(&fakeController{running: true}), http.MethodGet, "/health")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["running"])
}

func TestProgress(t *testing.T) {
	c := &fakeController{stats: model.Stats{Total: 100, Processed: 40, Succeeded: 38, Failed: 2, ProviderCalls: map[string]int{"mapbox": 40}}}
	rr := serve(t, NewRouter(c), http.MethodGet, "/progress")

	require.Equal(t, http.StatusOK, rr.Code)
	var got model.Stats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, 40, got.Processed)
	assert.Equal(t, 40, got.ProviderCalls["mapbox"])
}

func TestSnapshot(t *testing.T) {
	saved := time.Date(2026, 3, 2, 15, 4, 5, 0, time.UTC)
	c := &fakeController{snap: &model.Snapshot{
		RunID:        "run-9",
		Filename:     "orlando.xlsx",
		Cursor:       25,
		TotalRecords: 80,
		Config:       model.BatchConfig{Tier: "medium"},
		Results:      make([]model.ProcessedResult, 25),
		SavedAt:      saved,
	}}
	rr := serve(t, NewRouter(c), http.MethodGet, "/snapshot")

	require.Equal(t, http.StatusOK, rr.Code)
	var got SnapshotSummary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "run-9", got.RunID)
	assert.Equal(t, 25, got.Cursor)
	assert.Equal(t, 80, got.TotalRecords)
	assert.Equal(t, "medium", got.Tier)
	assert.True(t, saved.Equal(got.SavedAt))
	assert.NotContains(t, rr.Body.String(), "results")
}

func TestSnapshot_None(t *testing.T) {
	rr := serve(t, NewRouter(&fakeController{}), http.MethodGet, "/snapshot")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSnapshot_Error(t *testing.T) {
	rr := serve(t, NewRouter(&fakeController{snapErr: errors.New("boom")}), http.MethodGet, "/snapshot")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "boom")
}

func TestStop(t *testing.T) {
	c := &fakeController{running: true}
	rr := serve(t, NewRouter(c), http.MethodPost, "/stop")
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, 1, c.stopped)

	idle := &fakeController{}
	rr = serve(t, NewRouter(idle), http.MethodPost, "/stop")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, 0, idle.stopped)
}

func TestStop_WrongMethod(t *testing.T) {
	rr := serve(t, NewRouter(&fakeController{running: true}), http.MethodGet, "/stop")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestMetrics(t *testing.T) {
	rr := serve(t, NewRouter(&fakeController{}), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/progress", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	NewRouter(&fakeController{}).ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestListenAndServe_Shutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ListenAndServe(ctx, addr, NewRouter(&fakeController{})) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close() //nolint:errcheck
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
