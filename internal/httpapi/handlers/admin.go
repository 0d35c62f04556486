package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/cyberguard/internal/common"
)

const serviceVersion = "1.0.0"

func (h *Handler) AdminStatus(c *gin.Context) {
	id, ok := identityFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	conns := 0
	if h.Conns != nil {
		conns = h.Conns.Len()
	}
	common.OK(c, gin.H{
		"status":            "operational",
		"version":           serviceVersion,
		"authMode":          h.Cfg.AuthMode,
		"user":              id.Email,
		"activeConnections": conns,
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
	})
}

// AdminModels lists what the gateway can route to. Model ids prefixed with
// "ollama/" go to Ollama; anything else goes to the default provider.
func (h *Handler) AdminModels(c *gin.Context) {
	if h.AI == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "no ai provider configured")
		return
	}
	common.OK(c, gin.H{
		"defaultModel":    h.AI.DefaultModel(),
		"defaultProvider": h.Cfg.AIProvider,
		"providers":       h.AI.Providers(),
	})
}
