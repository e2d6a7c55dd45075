package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scorelend/backend/internal/domain/errs"
	"github.com/scorelend/backend/internal/domain/loan"
	"github.com/scorelend/backend/internal/http/middleware"
	"github.com/scorelend/backend/internal/observability"
)

type LoanApplier interface {
	Apply(ctx context.Context, borrowerID string, in loan.ApplyInput) (*loan.ApplyResult, error)
}

type InstallmentPayer interface {
	Pay(ctx context.Context, actorID, loanTransactionID string) (*loan.PayResult, error)
}

type OperationsHandler struct {
	applier LoanApplier
	payer   InstallmentPayer
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewOperationsHandler(applier LoanApplier, payer InstallmentPayer, logger *slog.Logger, metrics *observability.Metrics) *OperationsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OperationsHandler{applier: applier, payer: payer, logger: logger, metrics: metrics}
}

func (h *OperationsHandler) ApplyForLoan(c *gin.Context) {
	var in loan.ApplyInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return
	}

	res, err := h.applier.Apply(c.Request.Context(), middleware.UserID(c), in)
	if err != nil {
		h.metrics.ObserveOperation("loan_application", errs.Code(err))
		writeError(c, h.logger, err)
		return
	}
	h.metrics.ObserveOperation("loan_application", "ok")
	c.JSON(http.StatusOK, res)
}

func (h *OperationsHandler) PayInstallment(c *gin.Context) {
	var in loan.PayInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return
	}

	res, err := h.payer.Pay(c.Request.Context(), middleware.UserID(c), in.LoanTransactionID)
	if err != nil {
		h.metrics.ObserveOperation("installment_payment", errs.Code(err))
		writeError(c, h.logger, err)
		return
	}
	h.metrics.ObserveOperation("installment_payment", "ok")
	c.JSON(http.StatusOK, res)
}
