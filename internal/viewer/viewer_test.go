package viewer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perflens/internal/report"
	t "perflens/internal/types"
)

func testViewer(tt *testing.T) (*Viewer, *report.Store) {
	tt.Helper()
	store := report.NewStore(tt.TempDir())
	return New(store), store
}

func TestListEmpty(tt *testing.T) {
	v, _ := testViewer(tt)
	rec := httptest.NewRecorder()
	v.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports", nil))

	require.Equal(tt, http.StatusOK, rec.Code)
	assert.JSONEq(tt, "[]", rec.Body.String())
}

func TestListAndFetchReport(tt *testing.T) {
	v, store := testViewer(tt)
	entry, err := store.Save(&t.Result{Project: "demo", Language: "c", Report: "# Performance Analysis Report\n"})
	require.NoError(tt, err)

	rec := httptest.NewRecorder()
	v.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports", nil))
	require.Equal(tt, http.StatusOK, rec.Code)

	var entries []report.Entry
	require.NoError(tt, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(tt, entries, 1)
	assert.Equal(tt, entry.Name, entries[0].Name)

	rec = httptest.NewRecorder()
	v.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports/"+entry.Name, nil))
	require.Equal(tt, http.StatusOK, rec.Code)
	assert.Equal(tt, "# Performance Analysis Report\n", rec.Body.String())
}

func TestFetchRejectsBadNames(tt *testing.T) {
	v, _ := testViewer(tt)
	for path, want := range map[string]int{
		"/api/reports/up..dots.md": http.StatusBadRequest,
		"/api/reports/notes.txt":   http.StatusBadRequest,
		"/api/reports/missing.md":  http.StatusNotFound,
	} {
		rec := httptest.NewRecorder()
		v.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(tt, want, rec.Code, path)
	}
}

func TestShellServedAtRootOnly(tt *testing.T) {
	v, _ := testViewer(tt)

	rec := httptest.NewRecorder()
	v.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(tt, http.StatusOK, rec.Code)
	assert.Contains(tt, rec.Body.String(), "perflens reports")

	rec = httptest.NewRecorder()
	v.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/somewhere", nil))
	assert.Equal(tt, http.StatusNotFound, rec.Code)
}

func TestHubBroadcastAndUnsubscribe(tt *testing.T) {
	h := newHub()
	a := h.subscribe()
	b := h.subscribe()
	require.Equal(tt, 2, h.count())

	h.broadcast(Event{Type: "created", Name: "x.md"})
	assert.Equal(tt, Event{Type: "created", Name: "x.md"}, <-a)
	assert.Equal(tt, Event{Type: "created", Name: "x.md"}, <-b)

	h.unsubscribe(a)
	assert.Equal(tt, 1, h.count())
	_, open := <-a
	assert.False(tt, open)
}

func TestWatchForwardsReportEvents(tt *testing.T) {
	store := report.NewStore(tt.TempDir())
	v := New(store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- v.watch(ctx) }()

	events := v.hub.subscribe()
	defer v.hub.unsubscribe(events)

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(tt, os.WriteFile(filepath.Join(store.Dir(), "demo-perf-20250101-000000.md"), []byte("# r"), 0o644))

	select {
	case ev := <-events:
		assert.Equal(tt, "demo-perf-20250101-000000.md", ev.Name)
	case <-time.After(3 * time.Second):
		tt.Fatal("no watch event received")
	}

	cancel()
	require.NoError(tt, <-done)
}
