package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/scorelend/backend/internal/domain/loan"
	"github.com/scorelend/backend/internal/domain/score"
	"github.com/scorelend/backend/internal/http/middleware"
)

type TransactionReader interface {
	ListByBorrower(ctx context.Context, borrowerID string, limit, offset int32) ([]loan.Transaction, error)
}

type ScoreHistoryReader interface {
	ListByUser(ctx context.Context, userID string, beforeID int64, limit int32) ([]score.Entry, error)
}

// HistoryHandler serves the caller's own loans and score changes.
type HistoryHandler struct {
	transactions TransactionReader
	scores       ScoreHistoryReader
	logger       *slog.Logger
}

func NewHistoryHandler(transactions TransactionReader, scores ScoreHistoryReader, logger *slog.Logger) *HistoryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryHandler{transactions: transactions, scores: scores, logger: logger}
}

func (h *HistoryHandler) MyLoanTransactions(c *gin.Context) {
	limit, _ := strconv.ParseInt(strings.TrimSpace(c.DefaultQuery("limit", "50")), 10, 32)
	offset, _ := strconv.ParseInt(strings.TrimSpace(c.DefaultQuery("offset", "0")), 10, 32)

	items, err := h.transactions.ListByBorrower(c.Request.Context(), middleware.UserID(c), int32(limit), int32(offset))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *HistoryHandler) MyScoreHistory(c *gin.Context) {
	limit, _ := strconv.ParseInt(strings.TrimSpace(c.DefaultQuery("limit", "50")), 10, 32)
	before, _ := strconv.ParseInt(strings.TrimSpace(c.DefaultQuery("before", "0")), 10, 64)

	items, err := h.scores.ListByUser(c.Request.Context(), middleware.UserID(c), before, int32(limit))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp := gin.H{"items": items}
	if len(items) > 0 {
		resp["next_before"] = items[len(items)-1].ID
	}
	c.JSON(http.StatusOK, resp)
}
