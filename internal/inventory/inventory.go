// Package inventory seeds the machine table from a YAML file:
//
//	machines:
//	  - id: locker-001
//	    location: site-a
//	  - id: locker-002
//	    location: site-a
//	    status: ERROR
package inventory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/devghori1264/aerophoenix/lockerd/internal/models"
	"github.com/devghori1264/aerophoenix/lockerd/internal/storage"
	"gopkg.in/yaml.v3"
)

type File struct {
	Machines []models.Machine `yaml:"machines"`
}

// Load reads and validates an inventory file. Entries without a status
// start AVAILABLE.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse inventory: %w", err)
	}

	seen := make(map[string]bool, len(f.Machines))
	for i := range f.Machines {
		m := &f.Machines[i]
		if m.ID == "" || m.LocationID == "" {
			return nil, fmt.Errorf("machine %d: id and location required", i)
		}
		if seen[m.ID] {
			return nil, fmt.Errorf("machine %s: duplicate id", m.ID)
		}
		seen[m.ID] = true
		if m.Status == "" {
			m.Status = models.StatusAvailable
		}
		if !m.Consistent() {
			return nil, fmt.Errorf("machine %s: invalid status %q for job %q", m.ID, m.Status, m.JobID)
		}
	}
	return &f, nil
}

// Seed creates every machine missing from the store and returns how many
// were created. Existing rows are never modified.
func Seed(ctx context.Context, store storage.Store, f *File) (int, error) {
	created := 0
	now := time.Now().UTC()
	for _, m := range f.Machines {
		_, err := store.GetMachine(ctx, m.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return created, fmt.Errorf("check machine %s: %w", m.ID, err)
		}
		m.Version = 1
		m.UpdatedAt = now
		if err := store.SaveMachine(ctx, &m); err != nil {
			return created, fmt.Errorf("create machine %s: %w", m.ID, err)
		}
		created++
	}
	return created, nil
}
