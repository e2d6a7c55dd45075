package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type MetaHandler struct {
	env        string
	version    string
	annualRate string
}

func NewMetaHandler(env, version, annualRate string) *MetaHandler {
	return &MetaHandler{env: env, version: version, annualRate: annualRate}
}

func (h *MetaHandler) GetMeta(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Scorelend Backend",
		"version":     h.version,
		"env":         h.env,
		"annual_rate": h.annualRate,
	})
}
