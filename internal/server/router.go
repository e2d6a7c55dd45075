package server

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/scorelend/backend/internal/auth"
	"github.com/scorelend/backend/internal/config"
	"github.com/scorelend/backend/internal/http/handlers"
	"github.com/scorelend/backend/internal/http/middleware"
	"github.com/scorelend/backend/internal/observability"
	"github.com/scorelend/backend/internal/version"
	"github.com/scorelend/backend/internal/ws"
)

type Dependencies struct {
	Pinger            handlers.Pinger
	Outbox            handlers.OutboxBacklog
	CatalogHandler    *handlers.CatalogHandler
	OperationsHandler *handlers.OperationsHandler
	HistoryHandler    *handlers.HistoryHandler
	WSHandler         *ws.Handler
	JWTManager        *auth.JWTManager
	Metrics           *observability.Metrics
}

func NewRouter(cfg config.Config, logger *slog.Logger, deps Dependencies) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Observe(logger, deps.Metrics))

	health := handlers.NewHealthHandler(deps.Pinger, deps.Outbox)
	meta := handlers.NewMetaHandler(cfg.Env, version.Version, strconv.FormatFloat(cfg.AnnualRate, 'f', -1, 64))

	r.GET("/health", health.Health)
	r.GET("/ready", health.Ready)
	r.GET("/v1/meta", meta.GetMeta)
	r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	if deps.JWTManager != nil {
		v1 := r.Group("/v1")
		v1.Use(middleware.RequireAuth(deps.JWTManager, cfg.AuthEnableBearer))

		if deps.OperationsHandler != nil {
			ops := v1.Group("/operations")
			ops.Use(middleware.RequestBodyLimit(cfg.MaxBodyBytes))
			ops.POST("/loan", deps.OperationsHandler.ApplyForLoan)
			ops.POST("/installment", deps.OperationsHandler.PayInstallment)
		}
		if deps.CatalogHandler != nil {
			v1.GET("/loans", deps.CatalogHandler.ListLoans)
		}
		if deps.HistoryHandler != nil {
			v1.GET("/loan-transactions/mine", deps.HistoryHandler.MyLoanTransactions)
			v1.GET("/me/score-history", deps.HistoryHandler.MyScoreHistory)
		}
		if deps.WSHandler != nil {
			v1.GET("/ws", deps.WSHandler.HandleWebSocket)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	})

	return r
}
