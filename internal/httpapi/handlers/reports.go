package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/cyberguard/internal/ai"
	"github.com/suPer8Hu/cyberguard/internal/common"
	"github.com/suPer8Hu/cyberguard/internal/report"
)

const (
	recommendationPrompt = "You are a cybersecurity expert. Provide concise, practical recommendations for addressing the security incident described."
	noRecommendations    = "Unable to generate recommendations due to an error."
	recommendBudget      = 45 * time.Second
)

type incidentReq struct {
	Title       string            `json:"title" binding:"required,max=200"`
	Description string            `json:"description" binding:"required,max=8000"`
	ThreatLevel string            `json:"threatLevel" binding:"required,oneof=low medium high critical"`
	Details     map[string]string `json:"details" binding:"max=50"`
}

type genericReportReq struct {
	Title   string            `json:"title" binding:"required,max=200"`
	Content string            `json:"content" binding:"required,max=8000"`
	Metrics map[string]string `json:"metrics" binding:"max=50"`
}

// SendIncidentReport mails a user-filed incident, with model recommendations
// when the model answers.
func (h *Handler) SendIncidentReport(c *gin.Context) {
	id, ok := identityFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	if h.Reports == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "reporting is not configured")
		return
	}

	var req incidentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "title, description and threatLevel (low|medium|high|critical) are required")
		return
	}

	ctx := c.Request.Context()
	r := report.IncidentReport{
		Kind:            report.KindIncident,
		Title:           strings.TrimSpace(req.Title),
		Description:     strings.TrimSpace(req.Description),
		ThreatLevel:     req.ThreatLevel,
		Details:         req.Details,
		Recommendations: h.recommend(ctx, req),
		ReporterID:      id.ID,
		ReporterEmail:   id.Email,
		CreatedAt:       time.Now(),
	}
	if err := h.Reports.ReportIncident(ctx, r); err != nil {
		h.Log.Error("incident report failed", "user_id", id.ID, "err", err)
		common.Fail(c, http.StatusBadGateway, 50202, "failed to send report")
		return
	}

	h.Log.Info("incident report sent", "user_id", id.ID, "threat_level", r.ThreatLevel)
	common.OK(c, gin.H{
		"message":         "Security incident report sent successfully",
		"recommendations": r.Recommendations,
	})
}

func (h *Handler) recommend(ctx context.Context, req incidentReq) string {
	if h.AI == nil {
		return noRecommendations
	}
	ctx, cancel := context.WithTimeout(ctx, recommendBudget)
	defer cancel()

	msgs := []ai.Message{
		{Role: ai.RoleSystem, Content: recommendationPrompt},
		{Role: ai.RoleUser, Content: "Based on this security incident: " + req.Title + " - " + req.Description +
			" (Threat level: " + req.ThreatLevel + "), what are the top 3-5 recommendations to address this issue?"},
	}
	text, err := h.AI.Complete(ctx, msgs, "")
	if err != nil || strings.TrimSpace(text) == "" {
		h.Log.Warn("incident recommendations failed", "err", err)
		return noRecommendations
	}
	return text
}

func (h *Handler) SendGenericReport(c *gin.Context) {
	id, ok := identityFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	if h.Reports == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "reporting is not configured")
		return
	}

	var req genericReportReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "title and content are required")
		return
	}

	r := report.IncidentReport{
		Kind:          report.KindGeneric,
		Title:         strings.TrimSpace(req.Title),
		Description:   strings.TrimSpace(req.Content),
		Details:       req.Metrics,
		ReporterID:    id.ID,
		ReporterEmail: id.Email,
		CreatedAt:     time.Now(),
	}
	if err := h.Reports.ReportIncident(c.Request.Context(), r); err != nil {
		h.Log.Error("generic report failed", "user_id", id.ID, "err", err)
		common.Fail(c, http.StatusBadGateway, 50202, "failed to send report")
		return
	}
	common.OK(c, gin.H{"message": "Report sent successfully"})
}

type reportType struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *Handler) GetReportConfig(c *gin.Context) {
	common.OK(c, gin.H{
		"transport":           h.Cfg.ReportTransport,
		"smtpConfigured":      h.Cfg.SMTPHost != "" && h.Cfg.SMTPUser != "",
		"recipientConfigured": h.Cfg.ReportRecipient != "",
		"reportTypes": []reportType{
			{ID: string(report.KindIncident), Name: "Security Incident Report", Description: "Report security incidents with threat assessment"},
			{ID: string(report.KindGeneric), Name: "Generic Security Report", Description: "Send custom security reports with flexible content"},
		},
	})
}
