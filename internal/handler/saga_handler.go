package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ledger-engine/internal/saga"
	"ledger-engine/internal/transport/httpdto"
	ledger_errors "ledger-engine/pkg/errors"
)

// SagaMonitorHandler serves the transfer-status dashboard endpoint.
type SagaMonitorHandler struct {
	monitor *saga.Monitor
}

func NewSagaMonitorHandler(monitor *saga.Monitor) *SagaMonitorHandler {
	return &SagaMonitorHandler{monitor: monitor}
}

// GetStatus handles GET /saga/:txId.
func (h *SagaMonitorHandler) GetStatus(c *gin.Context) {
	report, err := h.monitor.Status(c.Request.Context(), c.Param("txId"))
	if errors.Is(err, ledger_errors.ErrNotFound) {
		c.JSON(http.StatusNotFound, httpdto.NewErrorResponse("transaction not found", "NOT_FOUND"))
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse("query failed", "INTERNAL"))
		return
	}

	history := make([]httpdto.SagaStepDTO, 0, len(report.History))
	for _, step := range report.History {
		history = append(history, httpdto.SagaStepDTO{
			Step:        step.Step,
			ProcessedAt: step.ProcessedAt.Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.SagaStatusResponse{
		TransactionID: report.TransactionID,
		FinalStatus:   report.FinalStatus,
		History:       history,
	}))
}
