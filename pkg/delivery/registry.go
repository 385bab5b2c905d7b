// Package delivery tracks destination node connectivity and performs
// the transmit step behind a circuit breaker.
package delivery

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tacedge/tacgate/pkg/types"
)

// Node connectivity states.
const (
	NodeConnected    = "CONNECTED"
	NodeDisconnected = "DISCONNECTED"
)

// Node is one known destination.
type Node struct {
	NodeID            string               `json:"node_id"`
	Status            string               `json:"status"`
	LastSeen          time.Time            `json:"last_seen"`
	IPAddress         string               `json:"ip_address,omitempty"`
	Capabilities      []string             `json:"capabilities,omitempty"`
	MaxClassification types.Classification `json:"max_classification,omitempty"`
}

// Registry is the membership view the pipeline routes against.
// Membership is eventually consistent; a node listed as connected may
// still fail at transmit time.
type Registry interface {
	// IsConnected reports whether the node is currently reachable.
	IsConnected(nodeID string) bool
	// Get returns the node record if known.
	Get(nodeID string) (Node, bool)
	// Nodes lists all known nodes, ordered by id.
	Nodes() []Node
	// SetConnected flips a node's connectivity.
	SetConnected(nodeID string, connected bool) error
}

// StaticRegistry is an in-memory Registry seeded at startup.
type StaticRegistry struct {
	mu    sync.RWMutex
	nodes map[string]Node
	clock func() time.Time
}

// NewStaticRegistry seeds a registry. Nodes without a status default to
// disconnected.
func NewStaticRegistry(nodes []Node) *StaticRegistry {
	r := &StaticRegistry{
		nodes: make(map[string]Node, len(nodes)),
		clock: time.Now,
	}
	for _, n := range nodes {
		if n.Status == "" {
			n.Status = NodeDisconnected
		}
		if n.LastSeen.IsZero() && n.Status == NodeConnected {
			n.LastSeen = r.clock()
		}
		r.nodes[n.NodeID] = n
	}
	return r
}

// SetClock overrides the time source. Intended for tests.
func (r *StaticRegistry) SetClock(clock func() time.Time) { r.clock = clock }

func (r *StaticRegistry) IsConnected(nodeID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[nodeID]
	return ok && n.Status == NodeConnected
}

func (r *StaticRegistry) Get(nodeID string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[nodeID]
	return n, ok
}

func (r *StaticRegistry) Nodes() []Node {
	r.mu.RLock()
	out := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

func (r *StaticRegistry) SetConnected(nodeID string, connected bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[nodeID]
	if !ok {
		return fmt.Errorf("delivery: unknown node %q", nodeID)
	}
	if connected {
		n.Status = NodeConnected
		n.LastSeen = r.clock()
	} else {
		n.Status = NodeDisconnected
	}
	r.nodes[nodeID] = n
	return nil
}
