package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ritzau/crate-deps/pkg/analysis"
	"github.com/ritzau/crate-deps/pkg/exporttest"
	"github.com/ritzau/crate-deps/pkg/ingest"
	"github.com/ritzau/crate-deps/pkg/model"
	"github.com/ritzau/crate-deps/pkg/pubsub"
)

func loadedServer(t *testing.T) *Server {
	t.Helper()
	reg, summary, err := ingest.Load(context.Background(),
		bytes.NewReader(exporttest.Diamond.Archive(t)), ingest.DefaultOptions())
	require.NoError(t, err)

	s := NewServer()
	s.SetResult(&analysis.Result{Registry: reg, Summary: summary})
	return s
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	s := NewServer()
	rec := get(t, s.Handler(), "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","loaded":false}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	s = loadedServer(t)
	rec = get(t, s.Handler(), "/api/health")
	assert.JSONEq(t, `{"status":"ok","loaded":true}`, rec.Body.String())
}

func TestNotLoaded(t *testing.T) {
	s := NewServer()
	for _, target := range []string{
		"/api/summary",
		"/api/cycles",
		"/api/crates/a",
		"/api/crates/a/tree",
		"/api/crates/a/tree.dot",
	} {
		rec := get(t, s.Handler(), target)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, target)
		assert.Contains(t, rec.Body.String(), analysis.ErrNotLoaded.Error(), target)
	}
}

func TestSummary(t *testing.T) {
	s := loadedServer(t)
	rec := get(t, s.Handler(), "/api/summary")
	require.Equal(t, http.StatusOK, rec.Code)

	var got SummaryInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 4, got.Crates)
	assert.Equal(t, 5, got.Edges)
	assert.False(t, got.FromCache)
	require.NotNil(t, got.Summary)
}

func TestCrate(t *testing.T) {
	s := loadedServer(t)

	rec := get(t, s.Handler(), "/api/crates/a")
	require.Equal(t, http.StatusOK, rec.Code)

	var got CrateInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, uint32(1), got.ID)
	assert.Equal(t, "https://a.example", got.Metadata.Homepage)
	require.Len(t, got.Dependencies, 2)
	assert.Equal(t, "b", got.Dependencies[0].Name)
	assert.Equal(t, "^2.0", got.Dependencies[0].Requirement)
	assert.Equal(t, "c", got.Dependencies[1].Name)

	rec = get(t, s.Handler(), "/api/crates/c")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Dependencies, 1)
	assert.Equal(t, "build", got.Dependencies[0].Kind)
	assert.True(t, got.Dependencies[0].Optional)

	rec = get(t, s.Handler(), "/api/crates/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTree(t *testing.T) {
	s := loadedServer(t)

	rec := get(t, s.Handler(), "/api/crates/a/tree")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("X-Connected-Crates"))

	var tree model.ResultTree
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tree))
	assert.Equal(t, "a", tree.Name)
	require.Len(t, tree.Children, 2)
	assert.Equal(t, "b", tree.Children[0].Name)
	assert.Equal(t, "c", tree.Children[1].Name)
	require.Len(t, tree.Children[1].Children, 1)
	assert.True(t, tree.Children[1].Children[0].Stub)

	rec = get(t, s.Handler(), "/api/crates/missing/tree")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTreeVersionFilter(t *testing.T) {
	s := loadedServer(t)

	tests := []struct {
		name     string
		target   string
		status   int
		children []string
	}{
		{"requirement", "/api/crates/a/tree?version=%5E2.0", http.StatusOK, []string{"b"}},
		{"bare version", "/api/crates/a/tree?version=2.0", http.StatusOK, []string{"b"}},
		{"literal", "/api/crates/a/tree?version=%5E0.3&match=literal", http.StatusOK, []string{"c"}},
		{"nothing admitted", "/api/crates/a/tree?version=%5E5.0", http.StatusOK, nil},
		{"bad requirement", "/api/crates/a/tree?version=abc&match=requirement", http.StatusBadRequest, nil},
		{"empty filter", "/api/crates/a/tree?version=", http.StatusBadRequest, nil},
		{"unknown match", "/api/crates/a/tree?version=1&match=regex", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, s.Handler(), tt.target)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.status != http.StatusOK {
				return
			}

			var tree model.ResultTree
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tree))
			var names []string
			for _, child := range tree.Children {
				names = append(names, child.Name)
			}
			assert.Equal(t, tt.children, names)
		})
	}
}

func TestTreeDOT(t *testing.T) {
	s := loadedServer(t)
	rec := get(t, s.Handler(), "/api/crates/b/tree.dot")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/vnd.graphviz; charset=utf-8", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "strict digraph b {"), body)
	assert.Contains(t, body, "d")
}

func TestCycles(t *testing.T) {
	s := loadedServer(t)
	rec := get(t, s.Handler(), "/api/cycles")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":1,"cycles":[{"crates":["a","b","c","d"]}]}`, rec.Body.String())
}

func TestSetResultReplacesRegistry(t *testing.T) {
	s := loadedServer(t)
	require.Equal(t, http.StatusOK, get(t, s.Handler(), "/api/cycles").Code)

	reg := model.NewRegistry(1)
	require.NoError(t, reg.Add(model.NewCrate(7, "solo", model.Metadata{})))
	s.SetResult(&analysis.Result{Registry: reg, Summary: ingest.RegistrySummary(1, 0), FromCache: true})

	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/api/crates/a").Code)
	assert.Equal(t, http.StatusOK, get(t, s.Handler(), "/api/crates/solo").Code)
	assert.JSONEq(t, `{"count":0,"cycles":[]}`, get(t, s.Handler(), "/api/cycles").Body.String())
}

func TestCyclesCachedPerRegistry(t *testing.T) {
	s := loadedServer(t)

	found, ok := s.currentCycles()
	require.True(t, ok)
	require.Len(t, found, 1)
	s.mu.RLock()
	assert.Len(t, s.cycles, 1)
	old := s.registry
	s.mu.RUnlock()

	reg := model.NewRegistry(1)
	require.NoError(t, reg.Add(model.NewCrate(7, "solo", model.Metadata{})))
	s.SetResult(&analysis.Result{Registry: reg, Summary: ingest.RegistrySummary(1, 0)})

	// A computation that finishes after the swap must not be cached
	s.storeCycles(old, found)
	s.mu.RLock()
	assert.Nil(t, s.cycles)
	s.mu.RUnlock()

	found, ok = s.currentCycles()
	require.True(t, ok)
	assert.Empty(t, found)
}

func TestSubscribeStatus(t *testing.T) {
	s := loadedServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/subscribe/registry_status", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan pubsub.Event, 4)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data: ")
			if !ok {
				continue
			}
			var ev pubsub.Event
			if json.Unmarshal([]byte(data), &ev) == nil {
				events <- ev
			}
		}
	}()

	// The ready state from SetResult is replayed first
	ev := <-events
	require.Equal(t, pubsub.StateReady, ev.Type)
	var status pubsub.RegistryStatus
	require.NoError(t, json.Unmarshal(ev.Data, &status))
	assert.Equal(t, 4, status.Crates)

	s.PublishStatus(pubsub.RegistryStatus{State: pubsub.StateLoading, Message: "export changed"})
	ev = <-events
	assert.Equal(t, pubsub.StateLoading, ev.Type)
}
