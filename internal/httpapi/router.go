package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/suPer8Hu/cyberguard/internal/auth"
	"github.com/suPer8Hu/cyberguard/internal/chat"
	"github.com/suPer8Hu/cyberguard/internal/common"
	"github.com/suPer8Hu/cyberguard/internal/config"
	"github.com/suPer8Hu/cyberguard/internal/httpapi/handlers"
	"github.com/suPer8Hu/cyberguard/internal/httpapi/middleware"
	"github.com/suPer8Hu/cyberguard/internal/realtime"
	"github.com/suPer8Hu/cyberguard/internal/report"
)

type Deps struct {
	DB       *gorm.DB
	Cfg      config.Config
	Chat     *chat.Service
	Auth     auth.Authenticator
	Realtime *realtime.Registry
	Gateway  handlers.Advisor
	Reports  report.Transport
	// Gatherer backs /metrics; nil leaves the route off.
	Gatherer prometheus.Gatherer
	Log      *slog.Logger
}

func NewRouter(d Deps) *gin.Engine {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery(log))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(d.DB, d.Cfg, d.Chat, log)
	h.AI = d.Gateway
	h.Reports = d.Reports
	if d.Realtime != nil {
		h.Conns = d.Realtime
	}

	r.GET("/ping", h.Ping)
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	// realtime; the handshake authenticates itself
	if d.Realtime != nil {
		r.GET("/ws", d.Realtime.Handler())
	}

	// users register
	r.POST("/users", h.CreateUser)

	// auth
	r.POST("/login", h.Login)
	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(d.Auth))
	authGroup.GET("/me", h.Me)
	authGroup.GET("/users/:id", h.GetUserByID)

	// Chat (JWT required)
	authGroup.POST("/chat/message", h.SendChatMessage)
	authGroup.POST("/chat/sessions", h.CreateChatSession)
	authGroup.GET("/chat/sessions", h.ListChatSessions)
	authGroup.GET("/chat/sessions/:session_id/messages", h.ListChatMessages)
	authGroup.PATCH("/chat/sessions/:session_id", h.RenameChatSession)
	authGroup.DELETE("/chat/sessions/:session_id", h.DeleteChatSession)

	// user-filed reports
	authGroup.GET("/reports/config", h.GetReportConfig)
	authGroup.POST("/reports/incident", h.SendIncidentReport)
	authGroup.POST("/reports/generic", h.SendGenericReport)

	// admin
	authGroup.GET("/admin/status", h.AdminStatus)
	authGroup.GET("/admin/models", h.AdminModels)
	return r
}
