package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/cyberguard/internal/common"
)

func (h *Handler) CreateChatSession(c *gin.Context) {
	if _, ok := identityFromContext(c); !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	// no row until the first message lands
	sid, err := common.NewULID()
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to create session")
		return
	}
	common.OK(c, gin.H{"session_id": sid})
}

func (h *Handler) ListChatSessions(c *gin.Context) {
	id, ok := identityFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	sessions, err := h.ChatSvc.Repo().ListSessions(c.Request.Context(), id.ID)
	if err != nil {
		h.failErr(c, err)
		return
	}
	common.OK(c, gin.H{"sessions": sessions})
}

type sendMessageReq struct {
	SessionID string `json:"sessionId" binding:"max=64"`
	Message   string `json:"message" binding:"required,max=8000"`
	Model     string `json:"model" binding:"max=128"`
}

// SendChatMessage is the non-streaming fallback of the websocket pipeline.
func (h *Handler) SendChatMessage(c *gin.Context) {
	id, ok := identityFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "message is required; sessionId is at most 64 characters")
		return
	}

	res, err := h.ChatSvc.Reply(c.Request.Context(), id, req.SessionID, req.Message, req.Model)
	if err != nil {
		h.failErr(c, err)
		return
	}
	common.OK(c, res)
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	id, ok := identityFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	sessionID := c.Param("session_id")
	ctx := c.Request.Context()
	if _, err := h.ChatSvc.Repo().GetSession(ctx, id.ID, sessionID); err != nil {
		h.failErr(c, err)
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var beforeID uint64
	if s := c.Query("before_id"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			beforeID = n
		}
	}

	msgs, err := h.ChatSvc.Repo().ListMessages(ctx, id.ID, sessionID, limit, beforeID)
	if err != nil {
		h.failErr(c, err)
		return
	}

	var nextBeforeID uint64
	if len(msgs) > 0 {
		nextBeforeID = msgs[len(msgs)-1].ID
	}

	common.OK(c, gin.H{
		"messages":       msgs,
		"next_before_id": nextBeforeID,
	})
}

type renameSessionReq struct {
	Title string `json:"title" binding:"required,max=255"`
}

func (h *Handler) RenameChatSession(c *gin.Context) {
	id, ok := identityFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req renameSessionReq
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		common.Fail(c, http.StatusBadRequest, 10001, "title required")
		return
	}

	renamed, err := h.ChatSvc.Repo().RenameSession(c.Request.Context(), id.ID, c.Param("session_id"), strings.TrimSpace(req.Title))
	if err != nil {
		h.failErr(c, err)
		return
	}
	if !renamed {
		common.Fail(c, http.StatusNotFound, 40004, "session not found")
		return
	}
	common.OK(c, gin.H{"session_id": c.Param("session_id"), "title": strings.TrimSpace(req.Title)})
}

func (h *Handler) DeleteChatSession(c *gin.Context) {
	id, ok := identityFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	deleted, err := h.ChatSvc.Repo().DeleteSession(c.Request.Context(), id.ID, c.Param("session_id"))
	if err != nil {
		h.failErr(c, err)
		return
	}
	if !deleted {
		common.Fail(c, http.StatusNotFound, 40004, "session not found")
		return
	}
	common.OK(c, gin.H{"deleted": true})
}
