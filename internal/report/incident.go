package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type IncidentKind string

const (
	// KindIncident is a security incident with a threat assessment.
	KindIncident IncidentKind = "incident"
	// KindGeneric is a free-form security report.
	KindGeneric IncidentKind = "generic"
)

// IncidentReport is a report a signed-in user files by hand.
type IncidentReport struct {
	Kind            IncidentKind      `json:"kind"`
	Title           string            `json:"title"`
	Description     string            `json:"description"`
	ThreatLevel     string            `json:"threat_level,omitempty"`
	Details         map[string]string `json:"details,omitempty"`
	Recommendations string            `json:"recommendations,omitempty"`
	ReporterID      uint64            `json:"reporter_id"`
	ReporterEmail   string            `json:"reporter_email"`
	CreatedAt       time.Time         `json:"created_at"`
}

type IncidentReporter interface {
	ReportIncident(ctx context.Context, r IncidentReport) error
}

// Transport carries both automatic scam reports and filed incidents.
type Transport interface {
	Reporter
	IncidentReporter
}

var (
	_ Transport = LogReporter{}
	_ Transport = EmailReporter{}
	_ Transport = QueueReporter{}
)

func (l LogReporter) ReportIncident(_ context.Context, r IncidentReport) error {
	log := l.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("incident report",
		"kind", r.Kind,
		"reporter_id", r.ReporterID,
		"title", r.Title,
		"threat_level", r.ThreatLevel,
	)
	return nil
}

func (e EmailReporter) ReportIncident(ctx context.Context, r IncidentReport) error {
	if e.Recipient == "" {
		return fmt.Errorf("report: no recipient configured")
	}
	subject, body, err := RenderIncident(r)
	if err != nil {
		return err
	}
	return e.Mailer.Send(ctx, e.Recipient, subject, body)
}

func (q QueueReporter) ReportIncident(ctx context.Context, r IncidentReport) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return q.Pub.Publish(ctx, body)
}

// Queued is one decoded message from the report queue. Exactly one field is set.
type Queued struct {
	Scam     *ScamReport
	Incident *IncidentReport
}

// Decode parses a queued report. Scam reports carry no kind; incidents carry
// theirs. Reports without a message or title are rejected.
func Decode(body []byte) (Queued, error) {
	var peek struct {
		Kind IncidentKind `json:"kind"`
	}
	if err := json.Unmarshal(body, &peek); err != nil {
		return Queued{}, fmt.Errorf("report: decode: %w", err)
	}

	switch peek.Kind {
	case "":
		var r ScamReport
		if err := json.Unmarshal(body, &r); err != nil {
			return Queued{}, fmt.Errorf("report: decode: %w", err)
		}
		if strings.TrimSpace(r.Message) == "" {
			return Queued{}, fmt.Errorf("report: empty message")
		}
		return Queued{Scam: &r}, nil
	case KindIncident, KindGeneric:
		var r IncidentReport
		if err := json.Unmarshal(body, &r); err != nil {
			return Queued{}, fmt.Errorf("report: decode: %w", err)
		}
		if strings.TrimSpace(r.Title) == "" {
			return Queued{}, fmt.Errorf("report: empty title")
		}
		return Queued{Incident: &r}, nil
	default:
		return Queued{}, fmt.Errorf("report: unknown kind %q", peek.Kind)
	}
}

// Deliver hands the decoded report to t.
func (q Queued) Deliver(ctx context.Context, t Transport) error {
	if q.Incident != nil {
		return t.ReportIncident(ctx, *q.Incident)
	}
	if q.Scam != nil {
		return t.Report(ctx, *q.Scam)
	}
	return fmt.Errorf("report: nothing to deliver")
}

// UserID is the account behind the report, for logging.
func (q Queued) UserID() uint64 {
	if q.Incident != nil {
		return q.Incident.ReporterID
	}
	if q.Scam != nil {
		return q.Scam.UserID
	}
	return 0
}
