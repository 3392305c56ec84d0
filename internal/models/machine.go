package models

import (
	"slices"
	"time"
)

// Status is the lifecycle state of a machine.
type Status string

const (
	StatusAvailable       Status = "AVAILABLE"
	StatusAwaitingDropoff Status = "AWAITING_DROPOFF"
	StatusRunning         Status = "RUNNING"
	StatusError           Status = "ERROR"
)

// Valid reports whether s is one of the four lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusAwaitingDropoff, StatusRunning, StatusError:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// Machine is the core domain object: a physical locker or appliance at a
// location, optionally bound to a job. Shared between the server and storage
// layers.
type Machine struct {
	ID         string    `json:"id" yaml:"id"`
	LocationID string    `json:"locationId" yaml:"location"`
	Status     Status    `json:"status" yaml:"status"`
	JobID      string    `json:"jobId,omitempty" yaml:"job,omitempty"`
	Version    int64     `json:"version" yaml:"-"`
	UpdatedAt  time.Time `json:"updatedAt" yaml:"-"`
}

// Clone returns a copy that shares no state with m.
func (m *Machine) Clone() *Machine {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// Transition is a conditional status change applied atomically by a store.
// It succeeds only when the machine's current status is one of From.
// A non-nil JobID replaces the job binding in the same write.
type Transition struct {
	From  []Status
	To    Status
	JobID *string
}

// Allows reports whether the transition may be applied to a machine in
// status current.
func (t Transition) Allows(current Status) bool {
	return slices.Contains(t.From, current)
}

// Apply mutates m according to t and bumps its version. The caller must have
// checked Allows.
func (t Transition) Apply(m *Machine, now time.Time) {
	m.Status = t.To
	if t.JobID != nil {
		m.JobID = *t.JobID
	}
	m.Version++
	m.UpdatedAt = now.UTC()
}

// Consistent reports whether the machine satisfies the job binding invariant:
// an AVAILABLE machine carries no job.
func (m *Machine) Consistent() bool {
	return m.Status.Valid() && !(m.Status == StatusAvailable && m.JobID != "")
}
