package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/devghori1264/aerophoenix/lockerd/internal/models"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS machines (
	id          TEXT PRIMARY KEY,
	location_id TEXT NOT NULL,
	status      TEXT NOT NULL,
	job_id      TEXT NOT NULL DEFAULT '',
	version     INTEGER NOT NULL DEFAULT 0,
	updated_at  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS machines_location ON machines (location_id, id);
`

// SQLiteStore implements Store on a single SQLite table. Conditional writes
// are single UPDATE statements guarded on the current status.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// pragmas below are per connection
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMachine(row rowScanner) (*models.Machine, error) {
	var (
		m       models.Machine
		status  string
		updated int64
	)
	if err := row.Scan(&m.ID, &m.LocationID, &status, &m.JobID, &m.Version, &updated); err != nil {
		return nil, err
	}
	m.Status = models.Status(status)
	if updated != 0 {
		m.UpdatedAt = time.Unix(0, updated).UTC()
	}
	return &m, nil
}

func unixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

const selectMachine = `SELECT id, location_id, status, job_id, version, updated_at FROM machines`

func (s *SQLiteStore) GetMachine(ctx context.Context, id string) (*models.Machine, error) {
	m, err := scanMachine(s.db.QueryRowContext(ctx, selectMachine+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get machine %s: %w", id, err)
	}
	return m, nil
}

func (s *SQLiteStore) ListAtLocation(ctx context.Context, locationID string) ([]*models.Machine, error) {
	rows, err := s.db.QueryContext(ctx, selectMachine+` WHERE location_id = ? ORDER BY id`, locationID)
	if err != nil {
		return nil, fmt.Errorf("list machines at %s: %w", locationID, err)
	}
	defer rows.Close()

	var out []*models.Machine
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan machine: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveMachine(ctx context.Context, m *models.Machine) error {
	if err := validateMachine(m); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO machines (id, location_id, status, job_id, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			location_id = excluded.location_id,
			status = excluded.status,
			job_id = excluded.job_id,
			version = excluded.version,
			updated_at = excluded.updated_at`,
		m.ID, m.LocationID, string(m.Status), m.JobID, m.Version, unixNanos(m.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save machine %s: %w", m.ID, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalid, status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE machines SET status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND NOT (? = ? AND job_id != '')`,
		string(status), time.Now().UnixNano(), id, string(status), string(models.StatusAvailable))
	if err != nil {
		return fmt.Errorf("update status of %s: %w", id, err)
	}
	return s.checkApplied(ctx, res, id, ErrInvalid)
}

func (s *SQLiteStore) Transition(ctx context.Context, id string, t models.Transition) error {
	if err := validateTransition(t); err != nil {
		return err
	}

	setJob := t.JobID != nil
	jobID := ""
	if setJob {
		jobID = *t.JobID
	}
	args := []any{string(t.To), setJob, jobID, time.Now().UnixNano(), id}
	placeholders := make([]string, len(t.From))
	for i, from := range t.From {
		placeholders[i] = "?"
		args = append(args, string(from))
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE machines SET
			status = ?,
			job_id = CASE WHEN ? THEN ? ELSE job_id END,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND status IN (`+strings.Join(placeholders, ", ")+`)`, args...)
	if err != nil {
		return fmt.Errorf("transition %s to %s: %w", id, t.To, err)
	}
	return s.checkApplied(ctx, res, id, ErrConflict)
}

// checkApplied turns a zero-row update into ErrNotFound or the given guard
// error.
func (s *SQLiteStore) checkApplied(ctx context.Context, res sql.Result, id string, guardErr error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM machines WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check machine %s: %w", id, err)
	}
	return fmt.Errorf("%w: machine %s", guardErr, id)
}
