// Package audit implements the append-only audit log: NIST 800-53
// control-family tagging, per-event integrity hashing over a canonical
// serialization, indexed query, stats, export, and a daily-rotated
// JSON-lines file sink.
package audit

import (
	"github.com/tacedge/tacgate/pkg/canonical"
)

// ControlFamily is the NIST 800-53 grouping of an event.
type ControlFamily string

const (
	FamilyAccessControl  ControlFamily = "AC"
	FamilyAudit          ControlFamily = "AU"
	FamilyIdentification ControlFamily = "IA"
	FamilyComms          ControlFamily = "SC"
	FamilyIntegrity      ControlFamily = "SI"
)

// Valid reports whether f is a member of the closed set.
func (f ControlFamily) Valid() bool {
	switch f {
	case FamilyAccessControl, FamilyAudit, FamilyIdentification, FamilyComms, FamilyIntegrity:
		return true
	}
	return false
}

// Outcome is the result recorded in an action.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
	OutcomeUnknown Outcome = "UNKNOWN"
)

// Actor identifies who performed the audited action.
type Actor struct {
	NodeID    string `json:"node_id"`
	Role      string `json:"role"`
	IPAddress string `json:"ip_address,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Action describes what was done and how it turned out.
type Action struct {
	Operation string  `json:"operation"`
	Resource  string  `json:"resource"`
	Outcome   Outcome `json:"outcome"`
	Reason    string  `json:"reason,omitempty"`
}

// Event is a single immutable audit record. Timestamp is RFC 3339 UTC.
// Hash is the SHA-256 hex digest of the canonical serialization of all
// other fields.
type Event struct {
	EventID       string         `json:"event_id"`
	Timestamp     string         `json:"timestamp"`
	EventType     string         `json:"event_type"`
	ControlFamily ControlFamily  `json:"control_family"`
	Actor         Actor          `json:"actor"`
	Action        Action         `json:"action"`
	Context       map[string]any `json:"context"`
	Hash          string         `json:"hash"`
}

// hashable mirrors Event without the hash field; it is the exact input
// to the integrity digest.
type hashable struct {
	EventID       string         `json:"event_id"`
	Timestamp     string         `json:"timestamp"`
	EventType     string         `json:"event_type"`
	ControlFamily ControlFamily  `json:"control_family"`
	Actor         Actor          `json:"actor"`
	Action        Action         `json:"action"`
	Context       map[string]any `json:"context"`
}

// ComputeHash returns the integrity digest over the event's fields,
// excluding the hash field itself.
func (e *Event) ComputeHash() (string, error) {
	return canonical.Hash(hashable{
		EventID:       e.EventID,
		Timestamp:     e.Timestamp,
		EventType:     e.EventType,
		ControlFamily: e.ControlFamily,
		Actor:         e.Actor,
		Action:        e.Action,
		Context:       e.Context,
	})
}

// VerifyIntegrity recomputes the digest and compares it to the stored
// hash. A tampered event is reported, never repaired.
func (e *Event) VerifyIntegrity() bool {
	computed, err := e.ComputeHash()
	if err != nil {
		return false
	}
	return computed == e.Hash
}
