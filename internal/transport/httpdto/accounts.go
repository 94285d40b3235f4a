package httpdto

import (
	"github.com/shopspring/decimal"
)

// TransactionRequest is used for POST /v1/accounts/:id/deposit and /withdraw
type TransactionRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

// TransferRequest is used for POST /v1/accounts/:id/transfer
type TransferRequest struct {
	Amount   decimal.Decimal `json:"amount" binding:"required"`
	TargetID string          `json:"target_id" binding:"required"`
}

// TransactionAcceptedResponse is returned once a command is on the ring.
// The transaction id is the handle for the saga-status endpoint.
type TransactionAcceptedResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

// AccountResponse is the read-model view of one account.
type AccountResponse struct {
	AccountID     string `json:"account_id"`
	Balance       string `json:"balance"`
	LastUpdatedAt string `json:"last_updated_at"`
}

// SagaStepDTO is one recorded saga milestone.
type SagaStepDTO struct {
	Step        string `json:"step"`
	ProcessedAt string `json:"processed_at"`
}

// SagaStatusResponse reports a transfer's derived state and history.
type SagaStatusResponse struct {
	TransactionID string        `json:"transaction_id"`
	FinalStatus   string        `json:"final_status"`
	History       []SagaStepDTO `json:"history"`
}
