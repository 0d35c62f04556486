package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/suPer8Hu/cyberguard/internal/ai"
	"github.com/suPer8Hu/cyberguard/internal/auth"
	"github.com/suPer8Hu/cyberguard/internal/common"
	"github.com/suPer8Hu/cyberguard/internal/observability"
	"github.com/suPer8Hu/cyberguard/internal/report"
	"github.com/suPer8Hu/cyberguard/internal/scam"
	"github.com/suPer8Hu/cyberguard/internal/throttle"
)

const DefaultSystemPrompt = "You are CyberGuard AI, an advanced cybersecurity assistant. Provide accurate, helpful information about cybersecurity topics."

const (
	upstreamFailureMessage    = "The assistant is unavailable right now. Please try again."
	persistenceFailureMessage = "Your answer could not be saved."
	sessionDeniedMessage      = "session not available"
)

// Completer is the part of the completion gateway the pipeline uses.
type Completer interface {
	Complete(ctx context.Context, messages []ai.Message, modelID string) (string, error)
	StreamComplete(ctx context.Context, messages []ai.Message, modelID string) *ai.Stream
	ResolveModel(modelID string) string
}

type Config struct {
	ContextWindowSize int
	SystemPrompt      string
	ReportTimeout     time.Duration
}

type Deps struct {
	Repo     *Repo
	Filter   *scam.Filter
	Gateway  Completer
	Throttle *throttle.Throttle
	Reporter report.Reporter
	Metrics  *observability.Metrics
	Log      *slog.Logger
}

// Service is the message pipeline: filter, then either the scam branch or a
// streamed completion, with the transcript persisted along the way.
type Service struct {
	repo     *Repo
	filter   *scam.Filter
	gateway  Completer
	throttle *throttle.Throttle
	reporter report.Reporter
	metrics  *observability.Metrics
	log      *slog.Logger
	cfg      Config

	reports sync.WaitGroup
}

func NewService(d Deps, cfg Config) *Service {
	if cfg.ContextWindowSize <= 0 || cfg.ContextWindowSize > 100 {
		cfg.ContextWindowSize = 10
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.ReportTimeout <= 0 {
		cfg.ReportTimeout = 30 * time.Second
	}
	if d.Filter == nil {
		d.Filter = scam.Default()
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return &Service{
		repo:     d.Repo,
		filter:   d.Filter,
		gateway:  d.Gateway,
		throttle: d.Throttle,
		reporter: d.Reporter,
		metrics:  d.Metrics,
		log:      d.Log,
		cfg:      cfg,
	}
}

func (s *Service) Repo() *Repo { return s.repo }

// reportsEnabled is false when flagged messages only end up in the log.
func (s *Service) reportsEnabled() bool {
	if s.throttle == nil || s.reporter == nil {
		return false
	}
	switch s.reporter.(type) {
	case report.LogReporter, *report.LogReporter:
		return false
	}
	return true
}

type intake struct {
	result         scam.Result
	advisory       string
	userSaved      bool
	sessionCreated bool
}

// admit classifies the message, stores it, and on the scam branch stores the
// warning and schedules a report. A session owned by someone else is the only
// fatal outcome.
func (s *Service) admit(ctx context.Context, log *slog.Logger, who auth.Identity, sessionID, content string) (intake, error) {
	res := s.filter.Classify(content)

	var threat *string
	if res.IsScam {
		lvl := res.ThreatLevel()
		threat = &lvl
	}

	in := intake{result: res}
	ar, err := s.repo.Append(ctx, AppendParams{
		UserID:      who.ID,
		SessionID:   sessionID,
		Role:        RoleUser,
		Content:     content,
		ThreatLevel: threat,
	})
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return in, common.NewError(common.CodeAuthorization, sessionDeniedMessage, err)
	case err != nil:
		log.Warn("persist user message failed", "err", err)
	default:
		in.userSaved = true
		in.sessionCreated = ar.SessionCreated
	}

	if !res.IsScam {
		return in, nil
	}

	in.advisory = scam.Advisory(res, s.reportsEnabled())
	if main, ok := res.MainIssue(); ok {
		s.metrics.ScamDetected(string(main.Type))
		log.Info("scam detected", "rule", main.Type, "confidence", res.Confidence)
	}
	if _, err := s.repo.Append(ctx, AppendParams{
		UserID:      who.ID,
		SessionID:   sessionID,
		Role:        RoleSystem,
		Content:     in.advisory,
		ThreatLevel: threat,
	}); err != nil {
		log.Warn("persist scam warning failed", "err", err)
	}
	s.dispatchReport(who, sessionID, content, res)
	return in, nil
}

// prompt builds the model input: persona first, then recent history without
// system rows, ending with the current user message.
func (s *Service) prompt(ctx context.Context, log *slog.Logger, who auth.Identity, sessionID, content string, userSaved bool) []ai.Message {
	msgs := []ai.Message{{Role: ai.RoleSystem, Content: s.cfg.SystemPrompt}}

	history, err := s.repo.RecentMessages(ctx, who.ID, sessionID, s.cfg.ContextWindowSize)
	if err != nil {
		log.Warn("load context failed", "err", err)
		history = nil
	}
	for _, m := range history {
		if m.Role == RoleSystem {
			continue
		}
		msgs = append(msgs, ai.Message{Role: m.Role, Content: m.Content})
	}

	if !userSaved {
		msgs = append(msgs, ai.Message{Role: ai.RoleUser, Content: content})
	}
	return msgs
}

// Run drives one job to a terminal state and reports which. A canceled job
// emits nothing further; the caller decides whether the client is told.
func (s *Service) Run(ctx context.Context, who auth.Identity, job *StreamJob, sink Sink) JobState {
	start := time.Now()
	model := s.gateway.ResolveModel(job.Model)
	log := s.log.With("job_id", job.ID, "session_id", job.SessionID, "user_id", who.ID)

	in, err := s.admit(ctx, log, who, job.SessionID, job.Content)
	if err != nil {
		ce := common.AsError(err)
		sink.Error(ErrorEvent{JobID: job.ID, Code: ce.Code, Message: ce.Message, Err: err})
		return s.finish(job, JobErrored, "errored")
	}
	if in.result.IsScam {
		sink.ScamNotice(ScamNoticeEvent{
			JobID:      job.ID,
			SessionID:  job.SessionID,
			Message:    in.advisory,
			IsScam:     true,
			Confidence: in.result.Confidence,
		})
		return s.finish(job, JobCompleted, "scam")
	}

	msgs := s.prompt(ctx, log, who, job.SessionID, job.Content, in.userSaved)

	stream := s.gateway.StreamComplete(ctx, msgs, model)
	defer stream.Close()
	job.setState(JobStreaming)

	done := false
	for ev := range stream.Events() {
		// buffered fragments of an aborted job never reach the client
		if ctx.Err() != nil {
			break
		}
		if ev.Err != nil {
			log.Warn("completion failed", "model", model, "err", ev.Err)
			sink.Error(ErrorEvent{JobID: job.ID, Code: common.CodeUpstream, Message: upstreamFailureMessage, Err: ev.Err})
			return s.finish(job, JobErrored, "errored")
		}
		if ev.Done {
			done = true
			break
		}
		seq := job.appendFragment(ev.Text)
		if seq == 0 {
			s.metrics.FirstFragment(time.Since(start))
		}
		sink.Fragment(FragmentEvent{JobID: job.ID, SessionID: job.SessionID, Fragment: ev.Text, Sequence: seq})
		s.metrics.FragmentSent()
	}
	if !done || ctx.Err() != nil {
		// partial text is dropped
		log.Info("job canceled", "fragments", job.seq)
		return s.finish(job, JobCanceled, "canceled")
	}

	full := job.Text()
	if strings.TrimSpace(full) != "" {
		if _, err := s.repo.Append(ctx, AppendParams{
			UserID:    who.ID,
			SessionID: job.SessionID,
			Role:      RoleAssistant,
			Content:   full,
			Model:     &model,
		}); err != nil {
			log.Error("persist assistant message failed", "err", err)
			sink.Error(ErrorEvent{JobID: job.ID, Code: common.CodePersistence, Message: persistenceFailureMessage, Err: err})
			return s.finish(job, JobErrored, "errored")
		}
	}

	ev := CompleteEvent{JobID: job.ID, SessionID: job.SessionID, FullText: full, Model: model}
	if in.sessionCreated {
		sessions, err := s.repo.ListSessions(ctx, who.ID)
		if err != nil {
			log.Warn("list sessions failed", "err", err)
		} else {
			ev.UpdatedSessions = sessions
		}
	}
	sink.Complete(ev)
	return s.finish(job, JobCompleted, "completed")
}

func (s *Service) finish(job *StreamJob, state JobState, outcome string) JobState {
	job.setState(state)
	s.metrics.JobFinished(outcome)
	return state
}

type ReplyResult struct {
	Response   string  `json:"response"`
	SessionID  string  `json:"sessionId"`
	IsScam     bool    `json:"isScam,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Reply is the non-streamed variant of Run. An empty sessionID starts a new session.
func (s *Service) Reply(ctx context.Context, who auth.Identity, sessionID, content, modelID string) (ReplyResult, error) {
	if strings.TrimSpace(content) == "" {
		return ReplyResult{}, common.Validation("message is required")
	}
	if sessionID == "" {
		id, err := common.NewULID()
		if err != nil {
			return ReplyResult{}, err
		}
		sessionID = id
	}
	log := s.log.With("session_id", sessionID, "user_id", who.ID)

	in, err := s.admit(ctx, log, who, sessionID, content)
	if err != nil {
		return ReplyResult{}, err
	}
	if in.result.IsScam {
		s.metrics.JobFinished("scam")
		return ReplyResult{Response: in.advisory, SessionID: sessionID, IsScam: true, Confidence: in.result.Confidence}, nil
	}

	model := s.gateway.ResolveModel(modelID)
	reply, err := s.gateway.Complete(ctx, s.prompt(ctx, log, who, sessionID, content, in.userSaved), model)
	if err != nil {
		log.Warn("completion failed", "model", model, "err", err)
		s.metrics.JobFinished("errored")
		return ReplyResult{}, common.NewError(common.CodeUpstream, upstreamFailureMessage, err)
	}

	if strings.TrimSpace(reply) != "" {
		if _, err := s.repo.Append(ctx, AppendParams{
			UserID:    who.ID,
			SessionID: sessionID,
			Role:      RoleAssistant,
			Content:   reply,
			Model:     &model,
		}); err != nil {
			s.metrics.JobFinished("errored")
			return ReplyResult{}, common.Persistence(persistenceFailureMessage, err)
		}
	}
	s.metrics.JobFinished("completed")
	return ReplyResult{Response: reply, SessionID: sessionID}, nil
}

// dispatchReport runs off the response path with its own deadline. Failures
// are logged and never reach the user.
func (s *Service) dispatchReport(who auth.Identity, sessionID, content string, res scam.Result) {
	if s.throttle == nil || s.reporter == nil {
		return
	}
	s.reports.Add(1)
	go func() {
		defer s.reports.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ReportTimeout)
		defer cancel()

		log := s.log.With("user_id", who.ID, "session_id", sessionID)
		ok, err := s.throttle.ShouldReport(ctx, who.ID, content)
		if err != nil {
			log.Warn("report throttle failed", "err", err)
			s.metrics.Report("failed")
			return
		}
		if !ok {
			s.metrics.Report("throttled")
			return
		}

		err = s.reporter.Report(ctx, report.ScamReport{
			UserID:      who.ID,
			UserEmail:   who.Email,
			SessionID:   sessionID,
			Message:     content,
			Analysis:    res.Analysis(),
			Confidence:  res.Confidence,
			ThreatLevel: res.ThreatLevel(),
			DetectedAt:  time.Now().UTC(),
		})
		if err != nil {
			log.Warn("scam report failed", "err", err)
			s.metrics.Report("failed")
			return
		}
		s.metrics.Report("sent")
	}()
}

// WaitReports blocks until every scheduled report has been handled.
func (s *Service) WaitReports() { s.reports.Wait() }
