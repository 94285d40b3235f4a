package saga

import (
	"context"

	"ledger-engine/internal/repository"
	ledger_errors "ledger-engine/pkg/errors"
)

// Transfer states as derived from the idempotency rows.
const (
	StatusProcessing           = "PROCESSING"
	StatusCompleted            = "COMPLETED"
	StatusFailedAndCompensated = "FAILED_AND_COMPENSATED"
)

// StatusReport is the dashboard view of one transfer.
type StatusReport struct {
	TransactionID string
	FinalStatus   string
	History       []repository.SagaStep
}

// Monitor reconstructs a transfer's state from its step history.
type Monitor struct {
	idempotency repository.IdempotencyStore
}

func NewMonitor(idempotency repository.IdempotencyStore) *Monitor {
	return &Monitor{idempotency: idempotency}
}

func (m *Monitor) Status(ctx context.Context, txID string) (*StatusReport, error) {
	steps, err := m.idempotency.FindStagesByTransactionID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, ledger_errors.ErrNotFound
	}
	return &StatusReport{
		TransactionID: txID,
		FinalStatus:   deriveStatus(steps),
		History:       steps,
	}, nil
}

func deriveStatus(steps []repository.SagaStep) string {
	var hasComplete bool
	for _, s := range steps {
		switch s.Step {
		case StepCompensation:
			return StatusFailedAndCompensated
		case StepComplete:
			hasComplete = true
		}
	}
	if hasComplete {
		return StatusCompleted
	}
	return StatusProcessing
}
