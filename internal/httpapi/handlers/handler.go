package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/suPer8Hu/cyberguard/internal/ai"
	"github.com/suPer8Hu/cyberguard/internal/auth"
	"github.com/suPer8Hu/cyberguard/internal/chat"
	"github.com/suPer8Hu/cyberguard/internal/common"
	"github.com/suPer8Hu/cyberguard/internal/config"
	"github.com/suPer8Hu/cyberguard/internal/httpapi/middleware"
	"github.com/suPer8Hu/cyberguard/internal/report"
)

// Advisor is the slice of the completion gateway the report and admin
// endpoints use.
type Advisor interface {
	Complete(ctx context.Context, messages []ai.Message, modelID string) (string, error)
	DefaultModel() string
	Providers() []string
}

// ConnCounter reports live websocket connections.
type ConnCounter interface {
	Len() int
}

type Handler struct {
	DB      *gorm.DB
	Cfg     config.Config
	ChatSvc *chat.Service
	Log     *slog.Logger

	// optional; the routes that need them report 503 when nil
	AI      Advisor
	Reports report.Transport
	Conns   ConnCounter
}

func NewHandler(db *gorm.DB, cfg config.Config, chatSvc *chat.Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{DB: db, Cfg: cfg, ChatSvc: chatSvc, Log: log}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func identityFromContext(c *gin.Context) (auth.Identity, bool) {
	return middleware.IdentityFrom(c)
}

// failErr maps pipeline errors onto the REST envelope.
func (h *Handler) failErr(c *gin.Context, err error) {
	if errors.Is(err, chat.ErrSessionNotFound) {
		common.Fail(c, http.StatusNotFound, 40004, "session not found")
		return
	}
	ce := common.AsError(err)
	switch ce.Code {
	case common.CodeValidation:
		common.Fail(c, http.StatusBadRequest, 10002, ce.Message)
	case common.CodeAuthorization:
		common.Fail(c, http.StatusNotFound, 40004, "session not found")
	case common.CodeUpstream:
		common.Fail(c, http.StatusBadGateway, 50201, ce.Message)
	case common.CodePersistence:
		h.Log.Error("persistence failed", "path", c.FullPath(), "err", err)
		common.Fail(c, http.StatusInternalServerError, 50002, ce.Message)
	default:
		h.Log.Error("request failed", "path", c.FullPath(), "err", err)
		common.Fail(c, http.StatusInternalServerError, 50000, "internal error")
	}
}
