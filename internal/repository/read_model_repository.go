package repository

import (
	"context"
	"database/sql"
	"errors"

	ledger_errors "ledger-engine/pkg/errors"
)

type readModelRepository struct {
	db DBTX
}

func NewReadModelRepository(db DBTX) ReadModelStore {
	return &readModelRepository{db: db}
}

func (r *readModelRepository) BatchUpsertDeposits(ctx context.Context, deltas []BalanceDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	return WithTx(ctx, r.db, func(tx DBTX) error {
		for _, d := range deltas {
			_, err := tx.ExecContext(ctx, `
        INSERT INTO accounts (account_id, balance, last_updated_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (account_id)
        DO UPDATE SET balance = accounts.balance + EXCLUDED.balance, last_updated_at = NOW()
    `, d.AccountID, d.Amount)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *readModelRepository) BatchUpdateWithdraws(ctx context.Context, deltas []BalanceDelta) (int64, error) {
	if len(deltas) == 0 {
		return 0, nil
	}
	var updated int64
	err := WithTx(ctx, r.db, func(tx DBTX) error {
		for _, d := range deltas {
			res, err := tx.ExecContext(ctx, `
        UPDATE accounts
        SET balance = balance - $1, last_updated_at = NOW()
        WHERE account_id = $2
    `, d.Amount, d.AccountID)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			updated += n
		}
		return nil
	})
	return updated, err
}

func (r *readModelRepository) GetAccount(ctx context.Context, accountID string) (*AccountRow, error) {
	var row AccountRow
	err := r.db.QueryRowContext(ctx, `
        SELECT account_id, balance, last_updated_at
        FROM accounts
        WHERE account_id = $1
    `, accountID).Scan(&row.AccountID, &row.Balance, &row.LastUpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger_errors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
