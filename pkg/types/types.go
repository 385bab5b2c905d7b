// Package types holds the closed enumerations shared across the gateway:
// message precedence, security classification, message status, and the
// client-facing error taxonomy.
package types

import "time"

// Precedence is the military message-priority class.
type Precedence string

const (
	PrecedenceFlash     Precedence = "FLASH"
	PrecedenceImmediate Precedence = "IMMEDIATE"
	PrecedencePriority  Precedence = "PRIORITY"
	PrecedenceRoutine   Precedence = "ROUTINE"
)

// PrecedenceOrder lists all classes in strict priority order,
// highest priority first. Drain and flush walk this slice.
var PrecedenceOrder = []Precedence{
	PrecedenceFlash,
	PrecedenceImmediate,
	PrecedencePriority,
	PrecedenceRoutine,
}

// Valid reports whether p is a member of the closed set.
func (p Precedence) Valid() bool {
	switch p {
	case PrecedenceFlash, PrecedenceImmediate, PrecedencePriority, PrecedenceRoutine:
		return true
	}
	return false
}

// MaxLatency returns the delivery latency budget for the class.
func (p Precedence) MaxLatency() time.Duration {
	switch p {
	case PrecedenceFlash:
		return 100 * time.Millisecond
	case PrecedenceImmediate:
		return 500 * time.Millisecond
	case PrecedencePriority:
		return 2 * time.Second
	default:
		return 10 * time.Second
	}
}

// PriorityValue returns the numeric rank used for queue ordering.
// Lower value means higher priority.
func (p Precedence) PriorityValue() int {
	switch p {
	case PrecedenceFlash:
		return 1
	case PrecedenceImmediate:
		return 2
	case PrecedencePriority:
		return 3
	default:
		return 4
	}
}

// Classification is the security label on a message body.
// The set is totally ordered: UNCLASSIFIED < CONFIDENTIAL < SECRET < TOP_SECRET.
type Classification string

const (
	ClassificationUnclassified Classification = "UNCLASSIFIED"
	ClassificationConfidential Classification = "CONFIDENTIAL"
	ClassificationSecret       Classification = "SECRET"
	ClassificationTopSecret    Classification = "TOP_SECRET"
)

// Valid reports whether c is a member of the closed set.
func (c Classification) Valid() bool {
	switch c {
	case ClassificationUnclassified, ClassificationConfidential,
		ClassificationSecret, ClassificationTopSecret:
		return true
	}
	return false
}

// Level returns the position of c in the total order (0 = UNCLASSIFIED).
// Unknown labels rank lowest.
func (c Classification) Level() int {
	switch c {
	case ClassificationConfidential:
		return 1
	case ClassificationSecret:
		return 2
	case ClassificationTopSecret:
		return 3
	default:
		return 0
	}
}

// Exceeds reports whether c is strictly above ceiling in the hierarchy.
func (c Classification) Exceeds(ceiling Classification) bool {
	return c.Level() > ceiling.Level()
}

// Status is the observable state of a message in the gateway.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusTransmitted Status = "TRANSMITTED"
	StatusStored      Status = "STORED"
	StatusQueued      Status = "QUEUED"
	StatusFailed      Status = "FAILED"
	StatusExpired     Status = "EXPIRED"
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusTransmitted, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// CanTransition reports whether the state machine permits s -> to.
// Transitions only ever advance; there is no path back toward PENDING.
func (s Status) CanTransition(to Status) bool {
	if s == to {
		return false
	}
	switch s {
	case StatusPending:
		switch to {
		case StatusTransmitted, StatusStored, StatusQueued, StatusFailed:
			return true
		}
	case StatusQueued:
		switch to {
		case StatusStored, StatusTransmitted, StatusFailed, StatusExpired:
			return true
		}
	case StatusStored:
		switch to {
		case StatusTransmitted, StatusFailed, StatusExpired:
			return true
		}
	}
	return false
}
