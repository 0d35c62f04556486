// Package report delivers scam reports to the security team.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ScamReport is one flagged message, as sent to the security team.
type ScamReport struct {
	UserID      uint64    `json:"user_id"`
	UserEmail   string    `json:"user_email"`
	SessionID   string    `json:"session_id"`
	Message     string    `json:"message"`
	Analysis    []string  `json:"analysis"`
	Confidence  float64   `json:"confidence"`
	ThreatLevel string    `json:"threat_level"`
	DetectedAt  time.Time `json:"detected_at"`
}

// Reporter hands a report to some transport. Implementations block until the
// transport accepted it or failed.
type Reporter interface {
	Report(ctx context.Context, r ScamReport) error
}

// LogReporter only logs. Used when no transport is configured.
type LogReporter struct {
	Log *slog.Logger
}

func (l LogReporter) Report(_ context.Context, r ScamReport) error {
	log := l.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("scam report",
		"user_id", r.UserID,
		"session_id", r.SessionID,
		"confidence", r.Confidence,
		"threat_level", r.ThreatLevel,
		"analysis", strings.Join(r.Analysis, "; "),
	)
	return nil
}

// EmailReporter renders and mails the report directly.
type EmailReporter struct {
	Mailer    Mailer
	Recipient string
}

func (e EmailReporter) Report(ctx context.Context, r ScamReport) error {
	if e.Recipient == "" {
		return fmt.Errorf("report: no recipient configured")
	}
	subject, body, err := Render(r)
	if err != nil {
		return err
	}
	return e.Mailer.Send(ctx, e.Recipient, subject, body)
}

// Publisher is the queue side of QueueReporter.
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// QueueReporter publishes the report as JSON for cmd/worker to deliver.
type QueueReporter struct {
	Pub Publisher
}

func (q QueueReporter) Report(ctx context.Context, r ScamReport) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return q.Pub.Publish(ctx, body)
}
