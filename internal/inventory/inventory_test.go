package inventory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/devghori1264/aerophoenix/lockerd/internal/models"
	"github.com/devghori1264/aerophoenix/lockerd/internal/storage"
)

const sample = `
machines:
  - id: locker-001
    location: site-a
  - id: locker-002
    location: site-a
    status: ERROR
  - id: washer-1
    location: site-b
    status: RUNNING
    job: job-7
`

func TestLoadAndSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(f.Machines) != 3 {
		t.Fatalf("machines = %d, want 3", len(f.Machines))
	}
	if f.Machines[0].Status != models.StatusAvailable {
		t.Fatalf("default status = %s, want AVAILABLE", f.Machines[0].Status)
	}

	ctx := context.Background()
	store := storage.NewMemoryStore()
	if err := store.SaveMachine(ctx, &models.Machine{
		ID: "locker-001", LocationID: "site-a", Status: models.StatusRunning, JobID: "live", Version: 9,
	}); err != nil {
		t.Fatal(err)
	}

	created, err := Seed(ctx, store, f)
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if created != 2 {
		t.Fatalf("Seed() created = %d, want 2", created)
	}

	existing, _ := store.GetMachine(ctx, "locker-001")
	if existing.Status != models.StatusRunning || existing.Version != 9 {
		t.Fatalf("existing machine modified: %+v", existing)
	}
	washer, err := store.GetMachine(ctx, "washer-1")
	if err != nil {
		t.Fatalf("GetMachine(washer-1) error = %v", err)
	}
	if washer.JobID != "job-7" || washer.Version != 1 {
		t.Fatalf("washer = %+v, want job-7 v1", washer)
	}

	again, err := Seed(ctx, store, f)
	if err != nil || again != 0 {
		t.Fatalf("second Seed() = %d, %v, want 0, nil", again, err)
	}
}

func TestParse_Rejects(t *testing.T) {
	for name, doc := range map[string]string{
		"missing location": "machines:\n  - id: a\n",
		"duplicate":        "machines:\n  - {id: a, location: x}\n  - {id: a, location: y}\n",
		"bad status":       "machines:\n  - {id: a, location: x, status: BROKEN}\n",
		"job on available": "machines:\n  - {id: a, location: x, job: j}\n",
		"not yaml":         "machines: [",
	} {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("%s: Parse() should fail", name)
		}
	}
}
