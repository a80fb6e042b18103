package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	s := &PostgresStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	// Advisory lock keeps the gateway and workers from migrating at once.
	const lockID = 731004 // arbitrary, unique to this schema

	var acquired bool
	err := s.db.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired)
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}

	if !acquired {
		// Another service is running migrations; wait briefly and skip
		time.Sleep(2 * time.Second)
		return nil
	}

	defer func() {
		_, _ = s.db.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
	}()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS artifacts (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			path TEXT NOT NULL,
			status TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			scale INT NOT NULL,
			dimensions INT NOT NULL DEFAULT 0,
			vals BIGINT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS artifacts_created_idx ON artifacts (created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) CreateArtifact(ctx context.Context, name, path string, scale int) (Artifact, error) {
	a := Artifact{ID: uuid.New(), Name: name, Path: path, Status: StatusPending, Scale: scale}
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO artifacts(id, name, path, status, scale) VALUES($1,$2,$3,$4,$5) RETURNING created_at`,
		a.ID, name, path, a.Status, scale)
	if err := row.Scan(&a.CreatedAt); err != nil {
		return Artifact{}, err
	}
	return a, nil
}

func (s *PostgresStore) CompleteArtifact(ctx context.Context, id uuid.UUID, model string, values []int64) error {
	if values == nil {
		values = []int64{}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE artifacts SET status=$1, model=$2, dimensions=$3, vals=$4 WHERE id=$5`,
		StatusReady, model, len(values), pq.Array(values), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresStore) UpdateArtifactStatus(ctx context.Context, id uuid.UUID, status ArtifactStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE artifacts SET status=$1 WHERE id=$2`, status, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresStore) GetArtifact(ctx context.Context, id uuid.UUID) (Artifact, error) {
	var (
		a      Artifact
		status string
		vals   []int64
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT name, path, status, model, scale, dimensions, vals, created_at FROM artifacts WHERE id=$1`, id)
	if err := row.Scan(&a.Name, &a.Path, &status, &a.Model, &a.Scale, &a.Dimensions, pq.Array(&vals), &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Artifact{}, ErrArtifactNotFound
		}
		return Artifact{}, fmt.Errorf("failed to get artifact %s: %w", id, err)
	}
	a.ID = id
	a.Status = ArtifactStatus(status)
	if a.Status == StatusReady {
		a.Values = vals
		if a.Values == nil {
			a.Values = []int64{}
		}
	}
	return a, nil
}

func (s *PostgresStore) ListArtifacts(ctx context.Context, limit int) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, path, status, model, scale, dimensions, created_at
		FROM artifacts
		ORDER BY created_at DESC
		LIMIT $1
	`, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Artifact{}
	for rows.Next() {
		var (
			a      Artifact
			status string
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.Path, &status, &a.Model, &a.Scale, &a.Dimensions, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Status = ArtifactStatus(status)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
