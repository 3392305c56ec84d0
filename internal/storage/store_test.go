package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/devghori1264/aerophoenix/lockerd/internal/models"
)

func openBackends(t *testing.T) map[string]Store {
	t.Helper()

	badgerStore, err := NewBadgerStore("")
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	sqliteStore, err := NewSQLiteStore(filepath.Join(t.TempDir(), "machines.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	stores := map[string]Store{
		BackendBadger: badgerStore,
		BackendSQLite: sqliteStore,
		BackendMemory: NewMemoryStore(),
	}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func seed(t *testing.T, s Store, machines ...*models.Machine) {
	t.Helper()
	for _, m := range machines {
		if m.Version == 0 {
			m.Version = 1
		}
		if err := s.SaveMachine(context.Background(), m); err != nil {
			t.Fatalf("SaveMachine(%s) error = %v", m.ID, err)
		}
	}
}

func strPtr(s string) *string { return &s }

func TestStores_GetAndList(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed(t, s,
				&models.Machine{ID: "m-2", LocationID: "loc-a", Status: models.StatusAvailable},
				&models.Machine{ID: "m-1", LocationID: "loc-a", Status: models.StatusRunning, JobID: "job-9"},
				&models.Machine{ID: "m-3", LocationID: "loc-b", Status: models.StatusAvailable},
			)

			got, err := s.GetMachine(ctx, "m-1")
			if err != nil {
				t.Fatalf("GetMachine() error = %v", err)
			}
			if got.JobID != "job-9" || got.Status != models.StatusRunning {
				t.Fatalf("GetMachine() = %+v, want RUNNING with job-9", got)
			}

			if _, err := s.GetMachine(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("GetMachine(missing) error = %v, want ErrNotFound", err)
			}

			list, err := s.ListAtLocation(ctx, "loc-a")
			if err != nil {
				t.Fatalf("ListAtLocation() error = %v", err)
			}
			if len(list) != 2 || list[0].ID != "m-1" || list[1].ID != "m-2" {
				t.Fatalf("ListAtLocation() = %v, want [m-1 m-2]", ids(list))
			}

			empty, err := s.ListAtLocation(ctx, "loc-none")
			if err != nil {
				t.Fatalf("ListAtLocation(empty) error = %v", err)
			}
			if len(empty) != 0 {
				t.Fatalf("ListAtLocation(empty) = %v, want none", ids(empty))
			}
		})
	}
}

func TestStores_Transition(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed(t, s, &models.Machine{ID: "m-1", LocationID: "loc", Status: models.StatusAvailable})

			allocate := models.Transition{
				From:  []models.Status{models.StatusAvailable},
				To:    models.StatusAwaitingDropoff,
				JobID: strPtr("job-1"),
			}
			if err := s.Transition(ctx, "m-1", allocate); err != nil {
				t.Fatalf("Transition() error = %v", err)
			}
			got, err := s.GetMachine(ctx, "m-1")
			if err != nil {
				t.Fatalf("GetMachine() error = %v", err)
			}
			if got.Status != models.StatusAwaitingDropoff || got.JobID != "job-1" || got.Version != 2 {
				t.Fatalf("after allocate = %+v, want AWAITING_DROPOFF job-1 v2", got)
			}

			if err := s.Transition(ctx, "m-1", allocate); !errors.Is(err, ErrConflict) {
				t.Fatalf("second allocate error = %v, want ErrConflict", err)
			}
			if err := s.Transition(ctx, "missing", allocate); !errors.Is(err, ErrNotFound) {
				t.Fatalf("allocate missing error = %v, want ErrNotFound", err)
			}

			release := models.Transition{
				From:  []models.Status{models.StatusRunning, models.StatusAwaitingDropoff},
				To:    models.StatusAvailable,
				JobID: strPtr(""),
			}
			if err := s.Transition(ctx, "m-1", release); err != nil {
				t.Fatalf("release error = %v", err)
			}
			got, _ = s.GetMachine(ctx, "m-1")
			if got.Status != models.StatusAvailable || got.JobID != "" || got.Version != 3 {
				t.Fatalf("after release = %+v, want AVAILABLE with no job v3", got)
			}
		})
	}
}

func TestStores_TransitionRejectsJobOnAvailable(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, s, &models.Machine{ID: "m-1", LocationID: "loc", Status: models.StatusRunning, JobID: "job"})
			err := s.Transition(context.Background(), "m-1", models.Transition{
				From: []models.Status{models.StatusRunning},
				To:   models.StatusAvailable,
			})
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("Transition() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestStores_UpdateStatus(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed(t, s, &models.Machine{ID: "m-1", LocationID: "loc", Status: models.StatusAwaitingDropoff, JobID: "job"})

			if err := s.UpdateStatus(ctx, "m-1", models.StatusError); err != nil {
				t.Fatalf("UpdateStatus() error = %v", err)
			}
			got, _ := s.GetMachine(ctx, "m-1")
			if got.Status != models.StatusError || got.Version != 2 {
				t.Fatalf("after UpdateStatus = %+v, want ERROR v2", got)
			}
			if got.UpdatedAt.IsZero() {
				t.Fatal("UpdatedAt not set")
			}

			if err := s.UpdateStatus(ctx, "m-1", models.StatusAvailable); !errors.Is(err, ErrInvalid) {
				t.Fatalf("UpdateStatus(AVAILABLE with job) error = %v, want ErrInvalid", err)
			}
			if err := s.UpdateStatus(ctx, "missing", models.StatusError); !errors.Is(err, ErrNotFound) {
				t.Fatalf("UpdateStatus(missing) error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStores_SaveRejectsInvalid(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			bad := []*models.Machine{
				{ID: "", LocationID: "loc", Status: models.StatusAvailable},
				{ID: "m-1", LocationID: "loc", Status: "BROKEN"},
				{ID: "m-2", LocationID: "loc", Status: models.StatusAvailable, JobID: "job"},
			}
			for _, m := range bad {
				if err := s.SaveMachine(context.Background(), m); !errors.Is(err, ErrInvalid) {
					t.Fatalf("SaveMachine(%+v) error = %v, want ErrInvalid", m, err)
				}
			}
		})
	}
}

func TestStores_ConcurrentTransitionSingleWinner(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, s, &models.Machine{ID: "m-1", LocationID: "loc", Status: models.StatusAvailable, UpdatedAt: time.Now()})

			const workers = 8
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				wins int
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := s.Transition(context.Background(), "m-1", models.Transition{
						From:  []models.Status{models.StatusAvailable},
						To:    models.StatusAwaitingDropoff,
						JobID: strPtr("job"),
					})
					if err == nil {
						mu.Lock()
						wins++
						mu.Unlock()
						return
					}
					if !errors.Is(err, ErrConflict) {
						t.Errorf("Transition() error = %v, want nil or ErrConflict", err)
					}
				}()
			}
			wg.Wait()
			if wins != 1 {
				t.Fatalf("winning transitions = %d, want 1", wins)
			}
		})
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	if _, err := Open("etcd", ""); err == nil {
		t.Fatal("Open(etcd) should fail")
	}
}

func ids(ms []*models.Machine) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}
