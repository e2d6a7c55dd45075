package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// OutboxBacklog counts outbox jobs by status.
type OutboxBacklog interface {
	Backlog(ctx context.Context) (map[string]int64, error)
}

type HealthHandler struct {
	pinger Pinger
	outbox OutboxBacklog
}

// NewHealthHandler accepts a nil outbox; /ready then reports the database only.
func NewHealthHandler(pinger Pinger, outbox OutboxBacklog) *HealthHandler {
	return &HealthHandler{pinger: pinger, outbox: outbox}
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "scorelend-backend",
	})
}

// Ready reports whether the database answers within two seconds, along with
// the outbox backlog. Failed jobs are reported but do not make the API unready:
// requests still commit, only their deferred effects are stuck.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if h.pinger == nil || h.pinger.Ping(ctx) != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "not_ready",
			"database": "error",
		})
		return
	}

	resp := gin.H{
		"status":   "ready",
		"database": "ok",
	}
	if h.outbox != nil {
		backlog, err := h.outbox.Backlog(ctx)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "not_ready",
				"database": "ok",
				"outbox":   "error",
			})
			return
		}
		resp["outbox"] = gin.H{
			"pending":    backlog["pending"],
			"processing": backlog["processing"],
			"failed":     backlog["failed"],
		}
	}
	c.JSON(http.StatusOK, resp)
}
