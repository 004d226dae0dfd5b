// Package statusapi exposes the election-state counter over HTTP,
// generalizing a rafthttp-style package (path constants plus an
// Install(mux) method, JSON bodies via encoding/json) from a
// command/append-entries RPC surface to a read-only debug surface for this
// module's own external state counter.
package statusapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"

	election "github.com/clustermind/electiond"
)

// Path constants, in the same spirit as rafthttp's IdPath/CommandPath/
// AppendEntriesPath/RequestVotePath.
const (
	StatusPath = "/election/status"
	MemberPath = "/election/status/"
)

// MemberStatus is one member's externally observable election state.
type MemberStatus struct {
	MemberID int64  `json:"member_id"`
	State    string `json:"state"`
}

// Registry tracks the state counters of every election this process is
// running, keyed by member id, so a single status endpoint can report on an
// entire in-process cluster (as the demo binary runs).
type Registry struct {
	mu       sync.RWMutex
	counters map[int64]*election.StateCounter
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{counters: make(map[int64]*election.StateCounter)}
}

// Register associates a member id with the StateCounter its Election
// publishes to. Safe to call concurrently with Install's handlers.
func (r *Registry) Register(memberID int64, counter *election.StateCounter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[memberID] = counter
}

func (r *Registry) snapshot() []MemberStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]MemberStatus, 0, len(r.counters))
	for id, counter := range r.counters {
		out = append(out, MemberStatus{MemberID: id, State: counter.Load().String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	return out
}

// Server adapts a Registry to net/http, the way rafthttp.Server adapts a
// raft.Server.
type Server struct {
	registry *Registry
}

// NewServer returns a Server backed by registry.
func NewServer(registry *Registry) *Server {
	return &Server{registry: registry}
}

// Install registers the status endpoints on mux.
func (s *Server) Install(mux *http.ServeMux) {
	mux.HandleFunc(StatusPath, s.handleStatus)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.registry.snapshot()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
