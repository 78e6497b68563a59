/**
 * @description
 * PostgreSQL implementation of the snapshot `Repository`. One row per engine
 * instance holds the JSON-encoded state and a monotonically increasing version.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and pool.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createStateTableSQL = `
CREATE TABLE IF NOT EXISTS linkdrop_state (
    id TEXT PRIMARY KEY,
    version BIGINT NOT NULL,
    payload JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
`

// PostgresRepository stores snapshots in the linkdrop_state table.
type PostgresRepository struct {
	db      *pgxpool.Pool
	stateID string
}

// NewPostgresRepository creates a repository for the given state row id.
func NewPostgresRepository(db *pgxpool.Pool, stateID string) *PostgresRepository {
	if stateID == "" {
		stateID = "default"
	}
	return &PostgresRepository{db: db, stateID: stateID}
}

// Migrate creates the state table if it does not exist.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	_, err := r.db.Exec(ctx, createStateTableSQL)
	return err
}

func (r *PostgresRepository) Load(ctx context.Context) (*State, error) {
	var (
		version int64
		payload []byte
	)
	err := r.db.QueryRow(ctx, "SELECT version, payload FROM linkdrop_state WHERE id = $1", r.stateID).Scan(&version, &payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("load state %s: %w", r.stateID, err)
	}

	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", r.stateID, err)
	}
	state.Version = version
	return &state, nil
}

// Save upserts the snapshot and bumps the stored version.
func (r *PostgresRepository) Save(ctx context.Context, state *State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	var version int64
	err = r.db.QueryRow(ctx, `
INSERT INTO linkdrop_state (id, version, payload, updated_at)
VALUES ($1, 1, $2, $3)
ON CONFLICT (id) DO UPDATE
SET version = linkdrop_state.version + 1,
    payload = EXCLUDED.payload,
    updated_at = EXCLUDED.updated_at
RETURNING version
`, r.stateID, string(payload), time.Now().UTC()).Scan(&version)
	if err != nil {
		return fmt.Errorf("save state %s: %w", r.stateID, err)
	}
	state.Version = version
	return nil
}
