// Package handler provides HTTP handlers for API endpoints.
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ledger-engine/internal/domain/account"
	"ledger-engine/internal/pipeline"
	"ledger-engine/internal/repository"
	"ledger-engine/internal/transport/httpdto"
	ledger_errors "ledger-engine/pkg/errors"
)

// AccountHandler turns REST calls into ring publishes. Each endpoint builds
// one command, stamps a transaction id and hands it to the command bus; the
// reply only acknowledges acceptance, never completion.
type AccountHandler struct {
	commandBus pipeline.CommandBus
	readModel  repository.ReadModelStore
}

// NewAccountHandler creates an account handler.
func NewAccountHandler(commandBus pipeline.CommandBus, readModel repository.ReadModelStore) *AccountHandler {
	return &AccountHandler{commandBus: commandBus, readModel: readModel}
}

// Deposit handles POST /accounts/:id/deposit.
func (h *AccountHandler) Deposit(c *gin.Context) {
	var req httpdto.TransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Amount.IsPositive() {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("amount must be positive", "INVALID_REQUEST"))
		return
	}

	h.publish(c, &account.Event{
		AccountID: c.Param("id"),
		Amount:    req.Amount,
		Type:      account.TypeDeposit,
	})
}

// Withdraw handles POST /v1/accounts/:id/withdraw.
func (h *AccountHandler) Withdraw(c *gin.Context) {
	var req httpdto.TransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Amount.IsPositive() {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("amount must be positive", "INVALID_REQUEST"))
		return
	}

	h.publish(c, &account.Event{
		AccountID: c.Param("id"),
		Amount:    req.Amount,
		Type:      account.TypeWithdraw,
	})
}

// Transfer handles POST /accounts/:id/transfer. The command enters the ring
// as a WITHDRAW carrying the target; the saga owns the transfer tags.
func (h *AccountHandler) Transfer(c *gin.Context) {
	var req httpdto.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Amount.IsPositive() {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("amount and target_id are required", "INVALID_REQUEST"))
		return
	}
	if req.TargetID == c.Param("id") {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("cannot transfer to the same account", "INVALID_REQUEST"))
		return
	}

	h.publish(c, &account.Event{
		AccountID: c.Param("id"),
		TargetID:  req.TargetID,
		Amount:    req.Amount,
		Type:      account.TypeWithdraw,
	})
}

// GetAccount handles GET /v1/accounts/:id.
func (h *AccountHandler) GetAccount(c *gin.Context) {
	row, err := h.readModel.GetAccount(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ledger_errors.ErrNotFound) {
		c.JSON(http.StatusNotFound, httpdto.NewErrorResponse("account not found", "NOT_FOUND"))
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse("query failed", "INTERNAL"))
		return
	}

	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.AccountResponse{
		AccountID:     row.AccountID,
		Balance:       row.Balance.StringFixed(4),
		LastUpdatedAt: row.LastUpdatedAt.Format(time.RFC3339),
	}))
}

func (h *AccountHandler) publish(c *gin.Context, cmd *account.Event) {
	cmd.TransactionID = uuid.NewString()

	if err := h.commandBus.Publish(c.Request.Context(), cmd); err != nil {
		c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse("command rejected", "PIPELINE_UNAVAILABLE"))
		return
	}

	c.JSON(http.StatusAccepted, httpdto.NewSuccessResponse(httpdto.TransactionAcceptedResponse{
		TransactionID: cmd.TransactionID,
		Status:        "ACCEPTED",
	}))
}
