package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/devghori1264/aerophoenix/lockerd/internal/models"
)

// MemoryStore keeps machines in a process-local map. Used for local
// development and tests.
type MemoryStore struct {
	mu       sync.Mutex
	machines map[string]*models.Machine
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{machines: make(map[string]*models.Machine)}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) GetMachine(ctx context.Context, id string) (*models.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.machines[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.Clone(), nil
}

func (s *MemoryStore) ListAtLocation(ctx context.Context, locationID string) ([]*models.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Machine
	for _, m := range s.machines {
		if m.LocationID == locationID {
			out = append(out, m.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.Machine) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *MemoryStore) SaveMachine(ctx context.Context, m *models.Machine) error {
	if err := validateMachine(m); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.machines[m.ID] = m.Clone()
	return nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.machines[id]
	if !ok {
		return ErrNotFound
	}
	next := m.Clone()
	next.Status = status
	next.Version++
	next.UpdatedAt = time.Now().UTC()
	if err := validateMachine(next); err != nil {
		return err
	}
	s.machines[id] = next
	return nil
}

func (s *MemoryStore) Transition(ctx context.Context, id string, t models.Transition) error {
	if err := validateTransition(t); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.machines[id]
	if !ok {
		return ErrNotFound
	}
	if !t.Allows(m.Status) {
		return fmt.Errorf("%w: machine %s is %s", ErrConflict, id, m.Status)
	}
	next := m.Clone()
	t.Apply(next, time.Now())
	s.machines[id] = next
	return nil
}
