package csms

import (
	"sync"
	"sync/atomic"

	"github.com/seu-repo/sigec-swarm/internal/ocpp"
)

// Registry is the process-wide map of connected stations. It is the only
// cross-session shared state besides the transaction-id allocator. Reads
// (routing a CSMS-originated call) and the single write on connect or
// disconnect share one RWMutex.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	txSeq atomic.Int64
}

// NewRegistry constructs an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register adds a session under stationID, rejecting (returning false) if
// one is already connected unless replace is set. On replacement the
// displaced session is returned so the caller can close it.
func (r *Registry) Register(stationID string, s *Session, replace bool) (displaced *Session, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, present := r.sessions[stationID]; present {
		if !replace {
			return nil, false
		}
		displaced = existing
	}
	r.sessions[stationID] = s
	return displaced, true
}

// Unregister removes stationID's session if it is still the one given (a
// superseded session calling Unregister after a replacement connected must
// not evict the new one).
func (r *Registry) Unregister(stationID string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[stationID]; ok && cur == s {
		delete(r.sessions, stationID)
	}
}

// Get looks up the live session for stationID.
func (r *Registry) Get(stationID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[stationID]
	return s, ok
}

// StationIDs returns the ids of all currently connected stations.
func (r *Registry) StationIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of currently connected stations.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// nextTransactionID allocates the next monotonically increasing
// transaction id, shared across all sessions via the atomic counter.
func (r *Registry) nextTransactionID() int {
	return int(r.txSeq.Add(1))
}

// require is the StationDisconnected path every CSMS-originated helper
// takes when Get fails.
func (r *Registry) require(stationID string) (*Session, error) {
	s, ok := r.Get(stationID)
	if !ok {
		return nil, ocpp.ErrStationDisconnected
	}
	return s, nil
}
