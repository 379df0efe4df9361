package network

import (
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Registry tracks peer descriptors and their liveness state, grounded on
// the teacher's peer_management.go PeerManagement type — adapted to key
// entries by NodeID (the teacher's Sample indexed by a never-populated
// Address field, always the zero value; this keys by the identifier that
// is actually known at discovery time).
type Registry struct {
	mu       sync.RWMutex
	peers    map[string]*PeerState
	maxFault int
}

// NewRegistry builds an empty peer registry. maxFault is the total number
// of parse failures from one peer before it is dropped; the count is never
// reset, so the failures need not be consecutive.
func NewRegistry(maxFault int) *Registry {
	if maxFault <= 0 {
		maxFault = 3
	}
	return &Registry{peers: make(map[string]*PeerState), maxFault: maxFault}
}

// Upsert adds or refreshes a peer's descriptor, entering it at Connecting
// if new.
func (r *Registry) Upsert(nodeID, address string, port int, version uint32) *PeerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[nodeID]
	if !ok {
		p = &PeerState{NodeID: nodeID, State: Connecting}
		r.peers[nodeID] = p
	}
	p.Address = address
	p.Port = port
	p.Version = version
	p.LastSeen = time.Now()
	return p
}

// MarkReady transitions a peer to Ready after a successful handshake.
func (r *Registry) MarkReady(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[nodeID]; ok {
		p.State = Ready
		p.ConsecStale = 0
		p.LastSeen = time.Now()
	}
}

// Touch records that a peer's channel produced traffic.
func (r *Registry) Touch(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[nodeID]; ok {
		p.LastSeen = time.Now()
		p.ConsecStale = 0
	}
}

// RecordPong clears a peer's stale counter on receipt of PONG.
func (r *Registry) RecordPong(nodeID string) { r.Touch(nodeID) }

// RecordFault increments a peer's parse-failure counter; repeated parse
// failures from the same peer drop it (§4.4 failure semantics).
func (r *Registry) RecordFault(nodeID string) (dropped bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[nodeID]
	if !ok {
		return false
	}
	p.ParseFailures++
	if p.ParseFailures >= r.maxFault {
		p.State = Dropped
		logrus.WithField("peer", nodeID).Warn("peer dropped: repeated parse failures")
		return true
	}
	return false
}

// AgeLiveness advances each peer's liveness state: no PONG within 2*T
// marks it Stale; 3 consecutive stale checks drop it. Called once per
// liveness tick.
func (r *Registry) AgeLiveness(t time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, p := range r.peers {
		if p.State == Dropped {
			continue
		}
		if now.Sub(p.LastSeen) > 2*t {
			p.ConsecStale++
			p.State = Stale
			if p.ConsecStale >= 3 {
				p.State = Dropped
				logrus.WithField("peer", p.NodeID).Info("peer dropped: liveness decay")
			}
		}
	}
}

// Remove deletes a peer outright (used when a peer reports an
// incompatible protocol version).
func (r *Registry) Remove(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, nodeID)
}

// Get returns a copy of a peer's current state.
func (r *Registry) Get(nodeID string) (PeerState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[nodeID]
	if !ok {
		return PeerState{}, false
	}
	return *p, true
}

// List returns every peer currently known, including non-Ready ones.
func (r *Registry) List() []PeerState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PeerState, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, *p)
	}
	return out
}

// Ready returns the node IDs of every peer currently in the Ready state,
// the gossip fan-out set.
func (r *Registry) Ready() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.peers))
	for id, p := range r.peers {
		if p.State == Ready {
			out = append(out, id)
		}
	}
	return out
}

// Sample draws n distinct Ready peer ids uniformly at random via a
// crypto/rand Fisher-Yates shuffle, grounded on peer_management.go's
// Sample but keyed by the peer's own NodeID rather than its never-set
// Address field.
func (r *Registry) Sample(n int) []string {
	ready := r.Ready()
	if n >= len(ready) {
		return ready
	}
	for i := len(ready) - 1; i > 0; i-- {
		jBig, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			break
		}
		j := int(jBig.Int64())
		ready[i], ready[j] = ready[j], ready[i]
	}
	return ready[:n]
}

// ToDescriptors renders peers as the PEERS response shape.
func ToDescriptors(peers []PeerState) []PeerDescriptor {
	out := make([]PeerDescriptor, len(peers))
	for i, p := range peers {
		out[i] = PeerDescriptor{
			Address:  p.Address,
			Port:     p.Port,
			NodeID:   p.NodeID,
			Version:  p.Version,
			LastSeen: p.LastSeen.Unix(),
		}
	}
	return out
}
