package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/devghori1264/aerophoenix/lockerd/internal/models"
	badger "github.com/dgraph-io/badger/v4"
)

var machinePrefix = []byte("machine:")

// BadgerStore implements Store with Badger DB. Conditional writes rely on
// Badger's transaction conflict detection.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens the database at path. An empty path opens an
// in-memory database.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(path))
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil                         // disable badger logs
	opts = opts.WithValueLogFileSize(1 << 20) // smaller value log for local dev
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func machineKey(id string) []byte {
	return append(bytes.Clone(machinePrefix), id...)
}

func getTxn(txn *badger.Txn, id string) (*models.Machine, error) {
	item, err := txn.Get(machineKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var out models.Machine
	if err := item.Value(func(v []byte) error {
		return json.Unmarshal(v, &out)
	}); err != nil {
		return nil, fmt.Errorf("decode machine %s: %w", id, err)
	}
	return &out, nil
}

func setTxn(txn *badger.Txn, m *models.Machine) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return txn.Set(machineKey(m.ID), data)
}

// update runs fn in a read-write transaction and reports a lost write race
// as ErrConflict.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	err := s.db.Update(fn)
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func (s *BadgerStore) SaveMachine(ctx context.Context, m *models.Machine) error {
	if err := validateMachine(m); err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		return setTxn(txn, m)
	})
}

func (s *BadgerStore) GetMachine(ctx context.Context, id string) (*models.Machine, error) {
	var out *models.Machine
	err := s.db.View(func(txn *badger.Txn) error {
		m, err := getTxn(txn, id)
		out = m
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) ListAtLocation(ctx context.Context, locationID string) ([]*models.Machine, error) {
	var out []*models.Machine
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = machinePrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		// keys iterate in byte order, so the result is ordered by id
		for it.Rewind(); it.Valid(); it.Next() {
			var m models.Machine
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &m)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			if m.LocationID == locationID {
				out = append(out, &m)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	return s.update(func(txn *badger.Txn) error {
		m, err := getTxn(txn, id)
		if err != nil {
			return err
		}
		m.Status = status
		m.Version++
		m.UpdatedAt = time.Now().UTC()
		if err := validateMachine(m); err != nil {
			return err
		}
		return setTxn(txn, m)
	})
}

func (s *BadgerStore) Transition(ctx context.Context, id string, t models.Transition) error {
	if err := validateTransition(t); err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		m, err := getTxn(txn, id)
		if err != nil {
			return err
		}
		if !t.Allows(m.Status) {
			return fmt.Errorf("%w: machine %s is %s", ErrConflict, id, m.Status)
		}
		t.Apply(m, time.Now())
		return setTxn(txn, m)
	})
}
