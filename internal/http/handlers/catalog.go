package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scorelend/backend/internal/domain/loan"
)

type ProductLister interface {
	List(ctx context.Context) ([]loan.Product, error)
}

// CatalogHandler lists the loan products a borrower can apply for.
type CatalogHandler struct {
	products ProductLister
	logger   *slog.Logger
}

func NewCatalogHandler(products ProductLister, logger *slog.Logger) *CatalogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogHandler{products: products, logger: logger}
}

func (h *CatalogHandler) ListLoans(c *gin.Context) {
	items, err := h.products.List(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}
