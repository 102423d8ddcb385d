package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/ritzau/crate-deps/pkg/analysis"
	"github.com/ritzau/crate-deps/pkg/cycles"
	"github.com/ritzau/crate-deps/pkg/graph"
	"github.com/ritzau/crate-deps/pkg/ingest"
	"github.com/ritzau/crate-deps/pkg/logging"
	"github.com/ritzau/crate-deps/pkg/model"
	"github.com/ritzau/crate-deps/pkg/pubsub"
	"github.com/ritzau/crate-deps/pkg/query"
	"github.com/ritzau/crate-deps/pkg/unroll"
)

// DependencyInfo is one outgoing edge of a crate
type DependencyInfo struct {
	Name        string `json:"name"`
	ID          uint32 `json:"id"`
	Requirement string `json:"req,omitempty"`
	Kind        string `json:"kind"`
	Optional    bool   `json:"optional,omitempty"`
}

// CrateInfo describes a single crate
type CrateInfo struct {
	ID           uint32           `json:"id"`
	Name         string           `json:"name"`
	Metadata     model.Metadata   `json:"metadata"`
	Dependencies []DependencyInfo `json:"dependencies"`
}

// SummaryInfo describes the loaded registry
type SummaryInfo struct {
	Summary   *ingest.Summary `json:"summary"`
	Crates    int             `json:"crates"`
	Edges     int             `json:"edges"`
	FromCache bool            `json:"fromCache"`
}

// Server represents the web server
type Server struct {
	router    *mux.Router
	publisher *pubsub.SSEPublisher

	mu        sync.RWMutex
	registry  *model.Registry
	summary   *ingest.Summary
	fromCache bool
	cycles    []cycles.CrateCycle // Computed on first request per registry
}

// NewServer creates a new web server
func NewServer() *Server {
	ssePublisher := pubsub.NewSSEPublisher()

	// registry_status: buffer last 10 events, replay only last event to new subscribers
	ssePublisher.ConfigureTopic(pubsub.TopicRegistryStatus, pubsub.TopicConfig{
		BufferSize: 10,
		ReplayAll:  false, // Only send current state
	})

	s := &Server{
		router:    mux.NewRouter(),
		publisher: ssePublisher,
	}
	s.setupRoutes()
	return s
}

// SetResult swaps in a new registry. Requests already running keep the
// registry they started with.
func (s *Server) SetResult(result *analysis.Result) {
	s.mu.Lock()
	s.registry = result.Registry
	s.summary = result.Summary
	s.fromCache = result.FromCache
	s.cycles = nil
	s.mu.Unlock()

	s.PublishStatus(pubsub.RegistryStatus{
		State:     pubsub.StateReady,
		Message:   "Registry ready",
		Crates:    result.Registry.Len(),
		Edges:     result.Registry.EdgeCount(),
		FromCache: result.FromCache,
	})
}

// PublishStatus publishes a registry status event
func (s *Server) PublishStatus(status pubsub.RegistryStatus) {
	if err := s.publisher.Publish(pubsub.TopicRegistryStatus, status.State, status); err != nil {
		logging.Warn("could not publish registry status", "error", err)
	}
}

func (s *Server) current() (*model.Registry, *ingest.Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry, s.summary, s.fromCache
}

func (s *Server) setupRoutes() {
	// SSE subscription endpoint
	s.router.HandleFunc("/api/subscribe/registry_status", s.handleSubscribeStatus).Methods("GET")

	// API routes
	s.router.HandleFunc("/api/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/summary", s.handleSummary).Methods("GET")
	s.router.HandleFunc("/api/cycles", s.handleCycles).Methods("GET")
	s.router.HandleFunc("/api/crates/{name}", s.handleCrate).Methods("GET")
	s.router.HandleFunc("/api/crates/{name}/tree", s.handleTree).Methods("GET")
	s.router.HandleFunc("/api/crates/{name}/tree.dot", s.handleTreeDOT).Methods("GET")
}

// Handler returns the router wrapped in request logging
func (s *Server) Handler() http.Handler {
	return logging.RequestIDMiddleware(s.router)
}

func (s *Server) handleSubscribeStatus(w http.ResponseWriter, r *http.Request) {
	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Send initial comment to establish connection
	fmt.Fprintf(w, ": connected\n\n")
	flush(w)

	// Create subscription
	sub, err := s.publisher.Subscribe(r.Context(), pubsub.TopicRegistryStatus)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer sub.Close()

	// Stream events until the client goes away
	for event := range sub.Events() {
		if err := pubsub.WriteSSE(w, event); err != nil {
			logging.DebugContext(r.Context(), "error writing SSE event", "error", err)
			return
		}
		flush(w)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reg, _, _ := s.current()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"loaded": reg != nil,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	reg, summary, fromCache := s.current()
	if reg == nil {
		writeError(w, http.StatusServiceUnavailable, analysis.ErrNotLoaded.Error())
		return
	}

	writeJSON(w, http.StatusOK, SummaryInfo{
		Summary:   summary,
		Crates:    reg.Len(),
		Edges:     reg.EdgeCount(),
		FromCache: fromCache,
	})
}

func (s *Server) handleCrate(w http.ResponseWriter, r *http.Request) {
	reg, _, _ := s.current()
	if reg == nil {
		writeError(w, http.StatusServiceUnavailable, analysis.ErrNotLoaded.Error())
		return
	}

	name := mux.Vars(r)["name"]
	c, ok := reg.ByName(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("%v: %s", unroll.ErrCrateNotFound, name))
		return
	}

	info := CrateInfo{
		ID:           c.ID,
		Name:         c.Name,
		Metadata:     c.Metadata,
		Dependencies: make([]DependencyInfo, 0, c.EdgeCount()),
	}
	if c.Edges != nil {
		for keys, edge := range c.Edges.All() {
			info.Dependencies = append(info.Dependencies, DependencyInfo{
				Name:        keys.Primary,
				ID:          edge.TargetID,
				Requirement: edge.Requirement,
				Kind:        edge.Kind.String(),
				Optional:    edge.Optional,
			})
		}
	}
	writeJSON(w, http.StatusOK, info)
}

// unrollRequest runs the tree query a request describes and writes the
// error response when it fails
func (s *Server) unrollRequest(w http.ResponseWriter, r *http.Request) (*model.ResultTree, bool) {
	predicate, err := parsePredicate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	reg, _, _ := s.current()
	tree, err := analysis.Query(reg, query.Query{
		CrateName: mux.Vars(r)["name"],
		Predicate: predicate,
	})
	switch {
	case err == nil:
		return tree, true
	case errors.Is(err, analysis.ErrNotLoaded):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, unroll.ErrCrateNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
	return nil, false
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	tree, ok := s.unrollRequest(w, r)
	if !ok {
		return
	}
	w.Header().Set("X-Connected-Crates", fmt.Sprint(tree.Connected()))
	writeJSON(w, http.StatusOK, tree)
}

func (s *Server) handleTreeDOT(w http.ResponseWriter, r *http.Request) {
	tree, ok := s.unrollRequest(w, r)
	if !ok {
		return
	}

	data, err := graph.BuildTreeGraph(tree).MarshalDOT(tree.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	found, ok := s.currentCycles()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, analysis.ErrNotLoaded.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(found),
		"cycles": found,
	})
}

// currentCycles returns the cycles of the current registry, computing them
// outside the lock on first use
func (s *Server) currentCycles() ([]cycles.CrateCycle, bool) {
	s.mu.RLock()
	reg, cached := s.registry, s.cycles
	s.mu.RUnlock()

	if reg == nil {
		return nil, false
	}
	if cached != nil {
		return cached, true
	}

	found := cycles.FindCrateCycles(graph.BuildCrateGraph(reg))
	s.storeCycles(reg, found)
	return found, true
}

// storeCycles caches found unless reg was replaced in the meantime
func (s *Server) storeCycles(reg *model.Registry, found []cycles.CrateCycle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registry == reg {
		s.cycles = found
	}
}

// parsePredicate reads the version filter of a tree request. match selects
// how the value is read: "requirement" must parse, "literal" compares
// verbatim, and the default picks whichever fits.
func parsePredicate(r *http.Request) (*query.Predicate, error) {
	params := r.URL.Query()
	raw, present := params["version"]
	if !present {
		return nil, nil
	}
	value := strings.TrimSpace(raw[0])
	if value == "" {
		return nil, fmt.Errorf("version filter is empty")
	}

	op := query.OperatorEquals
	switch match := params.Get("match"); match {
	case "":
		return query.NewVersionPredicate(&op, value), nil
	case "requirement":
		req, err := query.ParseRequirement(value)
		if err != nil {
			return nil, err
		}
		return &query.Predicate{Field: query.FieldVersion, Operator: &op, Value: req}, nil
	case "literal":
		return &query.Predicate{Field: query.FieldVersion, Operator: &op, Value: query.Literal(value)}, nil
	default:
		return nil, fmt.Errorf("unknown match %q (want requirement or literal)", match)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("could not write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func flush(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start serves on port until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("starting web server", "url", "http://localhost"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.publisher.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
