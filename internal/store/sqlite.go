package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"embed-artifacts/internal/codec"
)

// SQLiteStore is the embedded registry used when no Postgres is available.
// Values are kept in the same JSON text form as the artifact files.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS artifacts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			path TEXT NOT NULL,
			status TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			scale INTEGER NOT NULL,
			dimensions INTEGER NOT NULL DEFAULT 0,
			vals TEXT NOT NULL DEFAULT '[]',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_created ON artifacts(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating sqlite: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) CreateArtifact(ctx context.Context, name, path string, scale int) (Artifact, error) {
	a := Artifact{
		ID:        uuid.New(),
		Name:      name,
		Path:      path,
		Status:    StatusPending,
		Scale:     scale,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts(id, name, path, status, scale, created_at) VALUES(?,?,?,?,?,?)`,
		a.ID.String(), name, path, string(a.Status), scale, a.CreatedAt.UnixNano())
	if err != nil {
		return Artifact{}, err
	}
	return a, nil
}

func (s *SQLiteStore) CompleteArtifact(ctx context.Context, id uuid.UUID, model string, values []int64) error {
	var buf strings.Builder
	if err := codec.Encode(&buf, values); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE artifacts SET status=?, model=?, dimensions=?, vals=? WHERE id=?`,
		string(StatusReady), model, len(values), buf.String(), id.String())
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStore) UpdateArtifactStatus(ctx context.Context, id uuid.UUID, status ArtifactStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE artifacts SET status=? WHERE id=?`, string(status), id.String())
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStore) GetArtifact(ctx context.Context, id uuid.UUID) (Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, path, status, model, scale, dimensions, vals, created_at FROM artifacts WHERE id=?`,
		id.String())

	var (
		a       Artifact
		rawID   string
		status  string
		vals    string
		created int64
	)
	err := row.Scan(&rawID, &a.Name, &a.Path, &status, &a.Model, &a.Scale, &a.Dimensions, &vals, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Artifact{}, ErrArtifactNotFound
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to get artifact %s: %w", id, err)
	}
	a.ID = id
	a.Status = ArtifactStatus(status)
	a.CreatedAt = time.Unix(0, created).UTC()
	if a.Status == StatusReady {
		if a.Values, err = codec.Decode(strings.NewReader(vals)); err != nil {
			return Artifact{}, fmt.Errorf("artifact %s values: %w", id, err)
		}
	}
	return a, nil
}

func (s *SQLiteStore) ListArtifacts(ctx context.Context, limit int) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, path, status, model, scale, dimensions, created_at
		 FROM artifacts ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Artifact{}
	for rows.Next() {
		var (
			a       Artifact
			rawID   string
			status  string
			created int64
		)
		if err := rows.Scan(&rawID, &a.Name, &a.Path, &status, &a.Model, &a.Scale, &a.Dimensions, &created); err != nil {
			return nil, err
		}
		if a.ID, err = uuid.Parse(rawID); err != nil {
			return nil, fmt.Errorf("artifact id %q: %w", rawID, err)
		}
		a.Status = ArtifactStatus(status)
		a.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrArtifactNotFound
	}
	return nil
}
