package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/andresmejia3/cymatic/internal/utils"
)

// Store manages the PostgreSQL connection and the labeled descriptor table.
// It is the persistent home of seed profiles; the live session never writes to it.
type Store struct {
	conn *pgx.Conn
}

// Descriptor is one stored face descriptor.
type Descriptor struct {
	ID        int64
	Label     string
	Vector    []float64
	CreatedAt time.Time
}

// Identity summarizes all descriptors sharing a label.
type Identity struct {
	Label     string
	Count     int
	Dim       int
	CreatedAt time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the descriptor table and vector extension if they don't exist.
// The vector column has no fixed dimension so profiles from different models can coexist;
// queries filter by vector_dims.
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS face_descriptors (
			id BIGSERIAL PRIMARY KEY,
			label TEXT NOT NULL,
			embedding VECTOR NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS face_descriptors_label_idx ON face_descriptors (label);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// InsertDescriptor stores one descriptor under label and returns its row id.
func (s *Store) InsertDescriptor(ctx context.Context, label string, vec []float64) (int64, error) {
	var id int64
	err := s.conn.QueryRow(ctx,
		"INSERT INTO face_descriptors (label, embedding) VALUES ($1, $2::vector) RETURNING id",
		label, utils.VecToString(vec),
	).Scan(&id)
	return id, err
}

// Labeled is a label with all of its descriptors.
type Labeled struct {
	Label   string
	Vectors [][]float64
}

// ImportProfile replaces the descriptors of every label in entries inside one transaction.
func (s *Store) ImportProfile(ctx context.Context, entries []Labeled) (int, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	n := 0
	for _, e := range entries {
		if _, err := tx.Exec(ctx, "DELETE FROM face_descriptors WHERE label = $1", e.Label); err != nil {
			return 0, err
		}
		for _, vec := range e.Vectors {
			if _, err := tx.Exec(ctx,
				"INSERT INTO face_descriptors (label, embedding) VALUES ($1, $2::vector)",
				e.Label, utils.VecToString(vec),
			); err != nil {
				return 0, fmt.Errorf("failed to insert descriptor for %q: %w", e.Label, err)
			}
			n++
		}
	}
	return n, tx.Commit(ctx)
}

// ListDescriptors returns every descriptor in insertion order.
func (s *Store) ListDescriptors(ctx context.Context) ([]Descriptor, error) {
	rows, err := s.conn.Query(ctx, "SELECT id, label, embedding::text, created_at FROM face_descriptors ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Descriptor
	for rows.Next() {
		var d Descriptor
		var vecStr string
		if err := rows.Scan(&d.ID, &d.Label, &vecStr, &d.CreatedAt); err != nil {
			return nil, err
		}
		if d.Vector, err = utils.ParseVector(vecStr); err != nil {
			return nil, fmt.Errorf("descriptor %d: %w", d.ID, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListIdentities summarizes the stored labels in the order they were first added.
func (s *Store) ListIdentities(ctx context.Context) ([]Identity, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT label, COUNT(*), MAX(vector_dims(embedding)), MIN(created_at)
		FROM face_descriptors
		GROUP BY label
		ORDER BY MIN(id)
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Identity
	for rows.Next() {
		var id Identity
		if err := rows.Scan(&id.Label, &id.Count, &id.Dim, &id.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// FindClosestIdentity searches for the nearest stored descriptor by Euclidean distance.
// Returns an empty label if nothing lies within threshold.
func (s *Store) FindClosestIdentity(ctx context.Context, vec []float64, threshold float64) (string, float64, error) {
	vecStr := utils.VecToString(vec)
	// <-> is the Euclidean (L2) distance operator in pgvector
	query := `
		SELECT label, embedding <-> $1::vector AS dist
		FROM face_descriptors
		WHERE vector_dims(embedding) = $2
		ORDER BY dist ASC, id ASC
		LIMIT 1`

	var label string
	var dist float64
	err := s.conn.QueryRow(ctx, query, vecStr, len(vec)).Scan(&label, &dist)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, err
	}
	if dist > threshold {
		return "", dist, nil
	}
	return label, dist, nil
}

// RenameIdentity moves every descriptor of oldLabel to newLabel.
func (s *Store) RenameIdentity(ctx context.Context, oldLabel, newLabel string) (int64, error) {
	tag, err := s.conn.Exec(ctx, "UPDATE face_descriptors SET label = $1 WHERE label = $2", newLabel, oldLabel)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteIdentity removes every descriptor of label.
func (s *Store) DeleteIdentity(ctx context.Context, label string) (int64, error) {
	tag, err := s.conn.Exec(ctx, "DELETE FROM face_descriptors WHERE label = $1", label)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Reset drops the descriptor table.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `DROP TABLE IF EXISTS face_descriptors CASCADE;`)
	return err
}
