package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ledger-engine/internal/eventlog"
)

// checkpointRepository persists global log positions. The projector and the
// saga keep separate tables so a read-model rebuild never rewinds the saga.
type checkpointRepository struct {
	db      DBTX
	table   string
	nameCol string
}

// NewProjectionCheckpointRepository stores positions in projection_checkpoints.
func NewProjectionCheckpointRepository(db DBTX) CheckpointStore {
	return &checkpointRepository{db: db, table: "projection_checkpoints", nameCol: "projection_name"}
}

// NewSagaCheckpointRepository stores positions in saga_checkpoints.
func NewSagaCheckpointRepository(db DBTX) CheckpointStore {
	return &checkpointRepository{db: db, table: "saga_checkpoints", nameCol: "saga_name"}
}

func (r *checkpointRepository) Save(ctx context.Context, name string, pos eventlog.Position) error {
	query := fmt.Sprintf(`
        INSERT INTO %s (%s, last_commit, last_prepare)
        VALUES ($1, $2, $3)
        ON CONFLICT (%s)
        DO UPDATE SET last_commit = EXCLUDED.last_commit, last_prepare = EXCLUDED.last_prepare
    `, r.table, r.nameCol, r.nameCol)
	_, err := r.db.ExecContext(ctx, query, name, pos.Commit, pos.Prepare)
	return err
}

func (r *checkpointRepository) Find(ctx context.Context, name string) (*eventlog.Position, error) {
	query := fmt.Sprintf(`
        SELECT last_commit, last_prepare FROM %s WHERE %s = $1
    `, r.table, r.nameCol)
	var pos eventlog.Position
	err := r.db.QueryRowContext(ctx, query, name).Scan(&pos.Commit, &pos.Prepare)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}
