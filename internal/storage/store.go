package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/devghori1264/aerophoenix/lockerd/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional transition finds the machine
	// in a status it does not allow, or loses a write race.
	ErrConflict = errors.New("conflict")
	// ErrInvalid is returned for writes that would break a machine invariant.
	ErrInvalid = errors.New("invalid machine state")
)

// Store is the authoritative machine state table (kept minimal, allows
// swapping implementations).
type Store interface {
	// ListAtLocation returns every machine at the location ordered by id.
	ListAtLocation(ctx context.Context, locationID string) ([]*models.Machine, error)
	GetMachine(ctx context.Context, id string) (*models.Machine, error)
	// SaveMachine creates or replaces a machine row.
	SaveMachine(ctx context.Context, m *models.Machine) error
	// UpdateStatus sets the status unconditionally.
	UpdateStatus(ctx context.Context, id string, status models.Status) error
	// Transition applies t atomically, failing with ErrConflict when the
	// current status is not one of t.From.
	Transition(ctx context.Context, id string, t models.Transition) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// DefaultPath is where a backend keeps its data when no path is configured.
// The memory backend has none.
func DefaultPath(backend string) string {
	switch backend {
	case BackendBadger:
		return "./data/badger"
	case BackendSQLite:
		return "./data/lockerd.db"
	}
	return ""
}

// Open builds the store for the named backend. path is ignored by the memory
// backend.
func Open(backend, path string) (Store, error) {
	switch backend {
	case BackendBadger:
		return NewBadgerStore(path)
	case BackendSQLite:
		return NewSQLiteStore(path)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

func validateMachine(m *models.Machine) error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("%w: machine id required", ErrInvalid)
	}
	if !m.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalid, m.Status)
	}
	if !m.Consistent() {
		return fmt.Errorf("%w: machine %s is %s with job %q", ErrInvalid, m.ID, m.Status, m.JobID)
	}
	return nil
}

func validateTransition(t models.Transition) error {
	if len(t.From) == 0 {
		return fmt.Errorf("%w: transition has no source status", ErrInvalid)
	}
	if !t.To.Valid() {
		return fmt.Errorf("%w: target status %q", ErrInvalid, t.To)
	}
	if t.To == models.StatusAvailable && (t.JobID == nil || *t.JobID != "") {
		return fmt.Errorf("%w: transition to %s must clear the job", ErrInvalid, t.To)
	}
	return nil
}
