package repository

import (
	"context"
	"time"
)

// idempotencyRepository gates saga steps on the database's unique-constraint
// enforcement: the (transaction_id, step) insert is the atomic "has this
// step already fired?" check, safe against any number of concurrent nodes.
type idempotencyRepository struct {
	db DBTX
}

func NewIdempotencyRepository(db DBTX) IdempotencyStore {
	return &idempotencyRepository{db: db}
}

func (r *idempotencyRepository) TryMarkProcessed(ctx context.Context, txID, step string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
        INSERT INTO processed_transactions (transaction_id, step, processed_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (transaction_id, step) DO NOTHING
    `, txID, step)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *idempotencyRepository) FindStagesByTransactionID(ctx context.Context, txID string) ([]SagaStep, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT step, processed_at
        FROM processed_transactions
        WHERE transaction_id = $1
        ORDER BY processed_at ASC
    `, txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []SagaStep
	for rows.Next() {
		var s SagaStep
		if err := rows.Scan(&s.Step, &s.ProcessedAt); err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

func (r *idempotencyRepository) FindTimeoutTransactions(ctx context.Context, olderThan time.Duration) ([]string, error) {
	// Anti-join: INIT rows past the threshold with no closing step.
	rows, err := r.db.QueryContext(ctx, `
        SELECT t1.transaction_id
        FROM processed_transactions t1
        WHERE t1.step = 'INIT'
          AND t1.processed_at < NOW() - ($1 * INTERVAL '1 second')
          AND NOT EXISTS (
              SELECT 1 FROM processed_transactions t2
              WHERE t2.transaction_id = t1.transaction_id
                AND t2.step IN ('COMPLETE', 'COMPENSATION')
          )
    `, int64(olderThan.Seconds()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		txIDs = append(txIDs, id)
	}
	return txIDs, rows.Err()
}

func (r *idempotencyRepository) DeleteOldRecords(ctx context.Context, days int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
        DELETE FROM processed_transactions
        WHERE processed_at < NOW() - ($1 * INTERVAL '1 day')
    `, days)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
