package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

type fakeResult struct {
	rows int64
}

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.rows, nil }

// execOnlyDB fakes the Exec path of DBTX; queries are not used by the
// behaviors under test.
type execOnlyDB struct {
	rows    int64
	err     error
	queries []string
}

func (db *execOnlyDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	db.queries = append(db.queries, query)
	if db.err != nil {
		return nil, db.err
	}
	return fakeResult{rows: db.rows}, nil
}

func (db *execOnlyDB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return nil, errors.New("not implemented")
}

func (db *execOnlyDB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return nil
}

func TestTryMarkProcessed_WinsWhenRowInserted(t *testing.T) {
	repo := NewIdempotencyRepository(&execOnlyDB{rows: 1})
	won, err := repo.TryMarkProcessed(context.Background(), "T1", "INIT")
	if err != nil {
		t.Fatalf("TryMarkProcessed: %v", err)
	}
	if !won {
		t.Fatal("one affected row means the reservation was won")
	}
}

func TestTryMarkProcessed_LosesOnConflict(t *testing.T) {
	repo := NewIdempotencyRepository(&execOnlyDB{rows: 0})
	won, err := repo.TryMarkProcessed(context.Background(), "T1", "INIT")
	if err != nil {
		t.Fatalf("TryMarkProcessed: %v", err)
	}
	if won {
		t.Fatal("zero affected rows means another node holds the step")
	}
}

func TestTryMarkProcessed_SwallowsUniqueViolation(t *testing.T) {
	repo := NewIdempotencyRepository(&execOnlyDB{err: &pgconn.PgError{Code: "23505"}})
	won, err := repo.TryMarkProcessed(context.Background(), "T1", "INIT")
	if err != nil {
		t.Fatalf("unique violations are a lost race, not an error: %v", err)
	}
	if won {
		t.Fatal("a unique violation means the reservation was lost")
	}
}

func TestTryMarkProcessed_PropagatesOtherErrors(t *testing.T) {
	repo := NewIdempotencyRepository(&execOnlyDB{err: errors.New("connection refused")})
	if _, err := repo.TryMarkProcessed(context.Background(), "T1", "INIT"); err == nil {
		t.Fatal("infrastructure errors must surface")
	}
}

func TestDeleteOldRecordsReportsCount(t *testing.T) {
	repo := NewIdempotencyRepository(&execOnlyDB{rows: 42})
	deleted, err := repo.DeleteOldRecords(context.Background(), 30)
	if err != nil {
		t.Fatalf("DeleteOldRecords: %v", err)
	}
	if deleted != 42 {
		t.Fatalf("deleted = %d, want 42", deleted)
	}
}
