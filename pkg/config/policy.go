package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tacedge/tacgate/pkg/types"
)

// DeliveryPolicy is the optional YAML policy file controlling queue
// retention and the static node roster.
type DeliveryPolicy struct {
	Name  string       `yaml:"name" json:"name"`
	Queue QueuePolicy  `yaml:"queue" json:"queue"`
	Nodes []NodePolicy `yaml:"nodes" json:"nodes"`
}

// QueuePolicy holds store-and-forward retention overrides.
type QueuePolicy struct {
	TTL        time.Duration            `yaml:"ttl" json:"ttl"`
	MaxRetries int                      `yaml:"max_retries" json:"max_retries"`
	TTLByClass map[string]time.Duration `yaml:"ttl_by_class,omitempty" json:"ttl_by_class,omitempty"`
}

// NodePolicy declares a destination node and what it may receive.
type NodePolicy struct {
	NodeID            string   `yaml:"node_id" json:"node_id"`
	IPAddress         string   `yaml:"ip_address,omitempty" json:"ip_address,omitempty"`
	Connected         bool     `yaml:"connected" json:"connected"`
	Capabilities      []string `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	MaxClassification string   `yaml:"max_classification,omitempty" json:"max_classification,omitempty"`
}

// LoadPolicy reads and validates a delivery policy file. An empty path
// returns the defaults.
func LoadPolicy(path string) (*DeliveryPolicy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load policy %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, policy); err != nil {
		return nil, fmt.Errorf("parse policy %q: %w", path, err)
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("policy %q: %w", path, err)
	}
	return policy, nil
}

// DefaultPolicy returns the built-in policy used when no file is given.
func DefaultPolicy() *DeliveryPolicy {
	return &DeliveryPolicy{
		Name: "default",
		Queue: QueuePolicy{
			TTL:        24 * time.Hour,
			MaxRetries: 5,
		},
		Nodes: []NodePolicy{
			{NodeID: "NODE-ALPHA", Connected: true, Capabilities: []string{"voice", "data"}},
			{NodeID: "NODE-BRAVO", Connected: true, Capabilities: []string{"data"}},
		},
	}
}

// Validate rejects unusable policies.
func (p *DeliveryPolicy) Validate() error {
	if p.Queue.TTL <= 0 {
		return fmt.Errorf("queue.ttl must be positive, got %s", p.Queue.TTL)
	}
	if p.Queue.MaxRetries < 0 {
		return fmt.Errorf("queue.max_retries must not be negative, got %d", p.Queue.MaxRetries)
	}
	for class := range p.Queue.TTLByClass {
		if !types.Precedence(class).Valid() {
			return fmt.Errorf("queue.ttl_by_class: unknown precedence %q", class)
		}
	}
	seen := make(map[string]bool, len(p.Nodes))
	for _, n := range p.Nodes {
		if n.NodeID == "" {
			return fmt.Errorf("nodes: node_id must not be empty")
		}
		if seen[n.NodeID] {
			return fmt.Errorf("nodes: duplicate node_id %q", n.NodeID)
		}
		seen[n.NodeID] = true
		if n.MaxClassification != "" && !types.Classification(n.MaxClassification).Valid() {
			return fmt.Errorf("nodes: %s: unknown classification %q", n.NodeID, n.MaxClassification)
		}
	}
	return nil
}

// TTLFor returns the retention for a precedence class, honoring
// per-class overrides.
func (p *DeliveryPolicy) TTLFor(precedence types.Precedence) time.Duration {
	if ttl, ok := p.Queue.TTLByClass[string(precedence)]; ok && ttl > 0 {
		return ttl
	}
	return p.Queue.TTL
}
