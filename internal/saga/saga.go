// Package saga coordinates cross-account money transfers: a choreographed
// process manager that watches the fact stream and decides at most one
// outbound command per event.
package saga

import (
	"context"

	"ledger-engine/internal/domain/account"
	"ledger-engine/internal/pipeline"
	"ledger-engine/internal/repository"
	"ledger-engine/pkg/logger"
)

// Saga step names. A transfer's state machine is derivable from which of
// these rows exist: INIT_CAPTURED -> DEPOSIT_PENDING -> {COMPLETED |
// COMPENSATION_CAPTURED -> REFUNDED}.
const (
	StepInit         = "INIT"
	StepComplete     = "COMPLETE"
	StepCompensation = "COMPENSATION"
)

// Name keys the saga's checkpoint row.
const Name = "money_transfer_saga"

// MoneyTransferSaga drives two-phase transfers with compensation. Every
// decision is gated by an idempotency reservation, so no two nodes ever emit
// the same command for one transfer.
type MoneyTransferSaga struct {
	commandBus  pipeline.CommandBus
	idempotency repository.IdempotencyStore
	l           *logger.Logger
}

func NewMoneyTransferSaga(commandBus pipeline.CommandBus, idempotency repository.IdempotencyStore, l *logger.Logger) *MoneyTransferSaga {
	return &MoneyTransferSaga{
		commandBus:  commandBus,
		idempotency: idempotency,
		l:           l,
	}
}

// OnEvent is the state machine entry. A non-nil error means the delivery
// should be retried; losing an idempotency race is not an error.
func (s *MoneyTransferSaga) OnEvent(ctx context.Context, e *account.Event) error {
	if e.Description == account.DescSagaBypass {
		return nil
	}
	if e.TransactionID == "" {
		return nil
	}

	switch {
	case e.IsTransferWithdraw():
		return s.startDeposit(ctx, e)
	case e.Type == account.TypeDeposit && e.Description == account.DescTransferDeposit:
		return s.markCompleted(ctx, e)
	case e.Type == account.TypeFail && e.Description == account.DescTransferDeposit:
		return s.compensate(ctx, e)
	}
	return nil
}

// startDeposit handles phase 1: the source account's withdrawal succeeded,
// so move the money into the target. The original source goes into the
// deposit's targetId so a later failure knows where the refund belongs.
func (s *MoneyTransferSaga) startDeposit(ctx context.Context, e *account.Event) error {
	won, err := s.idempotency.TryMarkProcessed(ctx, e.TransactionID, StepInit)
	if err != nil {
		return err
	}
	if !won {
		s.l.Debugf("transfer %s already initiated, dropping duplicate", e.TransactionID)
		return nil
	}

	s.l.Infof("transfer %s: withdraw captured on %s, depositing into %s", e.TransactionID, e.AccountID, e.TargetID)
	return s.commandBus.Publish(ctx, &account.Event{
		AccountID:     e.TargetID,
		TargetID:      e.AccountID,
		Amount:        e.Amount,
		Type:          account.TypeDeposit,
		TransactionID: e.TransactionID,
		Description:   account.DescTransferDeposit,
	})
}

// markCompleted records that phase 2 landed. No command goes out; the row
// closes the transfer so the timeout watcher's orphan scan skips it.
func (s *MoneyTransferSaga) markCompleted(ctx context.Context, e *account.Event) error {
	won, err := s.idempotency.TryMarkProcessed(ctx, e.TransactionID, StepComplete)
	if err != nil {
		return err
	}
	if won {
		s.l.Infof("transfer %s completed into account %s", e.TransactionID, e.AccountID)
	}
	return nil
}

// compensate handles a failed phase 2: refund the original source, which the
// deposit command carried in targetId.
func (s *MoneyTransferSaga) compensate(ctx context.Context, e *account.Event) error {
	won, err := s.idempotency.TryMarkProcessed(ctx, e.TransactionID, StepCompensation)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	if e.TargetID == "" {
		s.l.Errorf("transfer %s: deposit failed but no refund target is known, abandoning recovery", e.TransactionID)
		return nil
	}

	s.l.Warnf("transfer %s: deposit into %s failed, refunding %s to %s", e.TransactionID, e.AccountID, e.Amount, e.TargetID)
	return s.commandBus.Publish(ctx, &account.Event{
		AccountID:     e.TargetID,
		Amount:        e.Amount,
		Type:          account.TypeDeposit,
		TransactionID: e.TransactionID,
		Description:   account.DescCompensation,
	})
}
