package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"ledger-engine/internal/domain/account"
)

type snapshotRepository struct {
	db DBTX
}

func NewSnapshotRepository(db DBTX) SnapshotStore {
	return &snapshotRepository{db: db}
}

func (r *snapshotRepository) Save(ctx context.Context, s *account.Snapshot) error {
	txJSON, err := json.Marshal(s.ProcessedTransactions)
	if err != nil {
		return fmt.Errorf("serialize processed transactions: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
        INSERT INTO account_snapshots (account_id, last_event_sequence, balance, processed_transactions, created_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (account_id, last_event_sequence)
        DO UPDATE SET balance = EXCLUDED.balance,
                      processed_transactions = EXCLUDED.processed_transactions,
                      created_at = EXCLUDED.created_at
    `, s.AccountID, s.LastEventSequence, s.Balance, txJSON, s.CreatedAt)
	return err
}

func (r *snapshotRepository) FindLatest(ctx context.Context, accountID string) (*account.Snapshot, error) {
	var (
		s      account.Snapshot
		txJSON []byte
	)
	err := r.db.QueryRowContext(ctx, `
        SELECT account_id, last_event_sequence, balance, processed_transactions, created_at
        FROM account_snapshots
        WHERE account_id = $1
        ORDER BY last_event_sequence DESC
        LIMIT 1
    `, accountID).Scan(&s.AccountID, &s.LastEventSequence, &s.Balance, &txJSON, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(txJSON, &s.ProcessedTransactions); err != nil {
		return nil, fmt.Errorf("deserialize processed transactions: %w", err)
	}
	return &s, nil
}

func (r *snapshotRepository) DeleteOlderSnapshots(ctx context.Context, accountID string, retain int) error {
	_, err := r.db.ExecContext(ctx, `
        DELETE FROM account_snapshots
        WHERE account_id = $1
          AND last_event_sequence NOT IN (
              SELECT last_event_sequence FROM account_snapshots
              WHERE account_id = $1
              ORDER BY last_event_sequence DESC
              LIMIT $2
          )
    `, accountID, retain)
	return err
}
