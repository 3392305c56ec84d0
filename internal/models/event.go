package models

import (
	"time"

	"github.com/google/uuid"
)

// Lifecycle event types.
const (
	EventAllocated = "machine.allocated"
	EventStarted   = "machine.started"
	EventFaulted   = "machine.faulted"
	EventReleased  = "machine.released"
)

// MachineEvent announces a committed machine transition.
type MachineEvent struct {
	ID         string    `json:"id"`
	Event      string    `json:"event"`
	MachineID  string    `json:"machineId"`
	LocationID string    `json:"locationId,omitempty"`
	JobID      string    `json:"jobId,omitempty"`
	Status     Status    `json:"status,omitempty"`
	Version    int64     `json:"version,omitempty"`
	Time       time.Time `json:"time"`
}

// NewMachineEvent describes m after a transition. m may be nil when the
// post-transition snapshot could not be read.
func NewMachineEvent(event, machineID string, m *Machine) MachineEvent {
	ev := MachineEvent{
		ID:        uuid.NewString(),
		Event:     event,
		MachineID: machineID,
		Time:      time.Now().UTC(),
	}
	if m != nil {
		ev.LocationID = m.LocationID
		ev.JobID = m.JobID
		ev.Status = m.Status
		ev.Version = m.Version
	}
	return ev
}
