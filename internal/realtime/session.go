// Package realtime is the websocket side of the chat: one Session per
// connection, tracked by a Registry.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/suPer8Hu/cyberguard/internal/auth"
	"github.com/suPer8Hu/cyberguard/internal/chat"
	"github.com/suPer8Hu/cyberguard/internal/common"
	"github.com/suPer8Hu/cyberguard/internal/config"
	"github.com/suPer8Hu/cyberguard/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameBytes  = 64 * 1024
	outQueueSize   = 256
	authCallBudget = 10 * time.Second
)

type State int32

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "closed"
	}
}

// Pipeline runs one accepted message to a terminal state.
type Pipeline interface {
	Run(ctx context.Context, who auth.Identity, job *chat.StreamJob, sink chat.Sink) chat.JobState
}

type Options struct {
	Authenticator     auth.Authenticator
	Pipeline          Pipeline
	AuthMode          config.AuthMode
	AuthDeadline      time.Duration
	MessagesPerSecond float64
	MessageBurst      int
	Metrics           *observability.Metrics
	Log               *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.AuthMode == "" {
		o.AuthMode = config.AuthStrict
	}
	if o.AuthDeadline <= 0 {
		o.AuthDeadline = 10 * time.Second
	}
	if o.MessageBurst <= 0 {
		o.MessageBurst = 5
	}
	if o.Log == nil {
		o.Log = slog.Default()
	}
	return o
}

// wsConn is the subset of *websocket.Conn the writer needs.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type outFrame struct {
	data  []byte
	close bool
}

type jobEntry struct {
	job     *chat.StreamJob
	cancel  context.CancelFunc
	aborted bool
}

// lane runs the jobs of one chat session strictly one after another.
type lane struct {
	queue   []func()
	running bool
}

// Session is one connection's protocol state machine. It owns the identity,
// the selected model, and the in-flight jobs. All frames go through a single
// writer goroutine.
type Session struct {
	id      string
	opts    Options
	conn    wsConn
	log     *slog.Logger
	limiter *rate.Limiter

	ctx        context.Context
	cancel     context.CancelFunc
	out        chan outFrame
	writerDone chan struct{}

	mu        sync.Mutex
	state     State
	identity  auth.Identity
	model     string
	jobs      map[string]*jobEntry
	lanes     map[string]*lane
	authTimer *time.Timer

	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ chat.Sink = (*Session)(nil)

func newSession(parent context.Context, id string, conn wsConn, opts Options) *Session {
	opts = opts.withDefaults()
	limit := rate.Inf
	if opts.MessagesPerSecond > 0 {
		limit = rate.Limit(opts.MessagesPerSecond)
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		id:         id,
		opts:       opts,
		conn:       conn,
		log:        opts.Log.With("conn_id", id),
		limiter:    rate.NewLimiter(limit, opts.MessageBurst),
		ctx:        ctx,
		cancel:     cancel,
		out:        make(chan outFrame, outQueueSize),
		writerDone: make(chan struct{}),
		state:      StateUnauthenticated,
		jobs:       make(map[string]*jobEntry),
		lanes:      make(map[string]*lane),
	}
	go s.writeLoop()
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Identity() auth.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// InFlight is the number of accepted jobs that have not finished yet.
func (s *Session) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// start authenticates with the handshake token, or arms the deadline for an
// authenticate event.
func (s *Session) start(token string) {
	if token != "" {
		s.authenticate(token)
		return
	}
	s.mu.Lock()
	if s.state == StateUnauthenticated {
		s.authTimer = time.AfterFunc(s.opts.AuthDeadline, s.authExpired)
	}
	s.mu.Unlock()
}

func (s *Session) authenticate(token string) {
	switch s.State() {
	case StateUnauthenticated:
	case StateClosed:
		return
	default:
		s.sendError("", common.CodeValidation, "already authenticated")
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, authCallBudget)
	id, err := s.opts.Authenticator.Authenticate(ctx, token)
	cancel()
	if err != nil {
		s.rejectAuth("authentication failed", err)
		return
	}
	s.admit(id)
}

func (s *Session) authExpired() {
	s.rejectAuth("authentication timeout", nil)
}

// rejectAuth applies the configured auth mode to a failed authentication.
func (s *Session) rejectAuth(msg string, err error) {
	if s.opts.AuthMode.AllowsPlaceholder() {
		s.log.Warn("authentication failed, continuing with placeholder identity", "reason", msg, "err", err)
		s.admit(auth.Placeholder)
		return
	}

	s.mu.Lock()
	if s.state != StateUnauthenticated {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()

	s.log.Info("authentication rejected", "reason", msg, "err", err)
	s.send(EventAuthResult, AuthResult{Success: false, Error: msg})
	s.sendFrame(EventError, chat.ErrorEvent{Code: common.CodeAuthentication, Message: msg}, true)
}

func (s *Session) admit(id auth.Identity) {
	s.mu.Lock()
	if s.state != StateUnauthenticated {
		s.mu.Unlock()
		return
	}
	s.state = StateAuthenticated
	s.identity = id
	if s.authTimer != nil {
		s.authTimer.Stop()
	}
	s.mu.Unlock()

	s.log.Info("connection authenticated", "user_id", id.ID, "placeholder", id.IsPlaceholder())
	s.send(EventAuthResult, AuthResult{Success: true, User: &id})
	s.send(EventConnected, Connected{
		Message:   "Connected to CyberGuard AI",
		Timestamp: time.Now().UTC(),
		User:      id,
	})
}

// HandleEvent processes one inbound frame. It is called from the connection's
// read loop only, so acknowledgments leave in arrival order.
func (s *Session) HandleEvent(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.sendError("", common.CodeValidation, "malformed event")
		return
	}

	switch env.Type {
	case EventAuthenticate:
		var p AuthenticatePayload
		if err := decode(env.Data, &p); err != nil {
			s.rejectAuth("authentication failed", err)
			return
		}
		s.authenticate(auth.StripBearer(p.Token))
	case EventSendMessage:
		s.onSendMessage(env.Data)
	case EventCancel:
		s.onCancel(env.Data)
	case EventSelectModel:
		var p SelectModelPayload
		if err := decode(env.Data, &p); err != nil {
			s.sendError("", common.CodeValidation, common.AsError(err).Message)
			return
		}
		s.mu.Lock()
		s.model = p.ModelID
		s.mu.Unlock()
	default:
		s.sendError("", common.CodeValidation, "unknown event type: "+env.Type)
	}
}

func (s *Session) onSendMessage(data json.RawMessage) {
	var p SendMessagePayload
	if err := decode(data, &p); err != nil {
		s.reject(p.JobID, common.AsError(err))
		return
	}

	s.mu.Lock()
	if s.state != StateAuthenticated {
		s.mu.Unlock()
		s.reject(p.JobID, common.Authentication("not authenticated", nil))
		return
	}
	if !s.limiter.Allow() {
		s.mu.Unlock()
		s.opts.Metrics.RateLimited()
		s.reject(p.JobID, common.NewError(common.CodeRateLimited, "too many messages, slow down", nil))
		return
	}
	if _, dup := s.jobs[p.JobID]; dup {
		s.mu.Unlock()
		s.reject(p.JobID, common.Validation("duplicate jobId"))
		return
	}
	model := p.ModelID
	if model == "" {
		model = s.model
	}
	jctx, jcancel := context.WithCancel(s.ctx)
	entry := &jobEntry{
		job:    chat.NewStreamJob(p.JobID, p.SessionID, s.id, p.Content, model),
		cancel: jcancel,
	}
	s.jobs[p.JobID] = entry
	who := s.identity
	s.mu.Unlock()

	s.send(EventAck, Ack{JobID: p.JobID, Accepted: true})
	if !s.enqueue(p.SessionID, func() { s.runJob(jctx, who, entry) }) {
		s.forget(entry)
	}
}

func (s *Session) reject(jobID string, e *common.Error) {
	s.send(EventAck, Ack{JobID: jobID, Accepted: false, Error: &AckError{Code: e.Code, Message: e.Message}})
}

func (s *Session) onCancel(data json.RawMessage) {
	var p CancelPayload
	if err := decode(data, &p); err != nil {
		s.sendError("", common.CodeValidation, common.AsError(err).Message)
		return
	}
	s.mu.Lock()
	e := s.jobs[p.JobID]
	if e != nil {
		e.aborted = true
	}
	s.mu.Unlock()
	if e == nil {
		s.log.Debug("cancel for unknown job", "job_id", p.JobID)
		return
	}
	e.cancel()
}

// enqueue appends run to the session's lane, starting a drain goroutine when
// the lane is idle. It refuses work once the connection is closed.
func (s *Session) enqueue(sessionID string, run func()) bool {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return false
	}
	l, ok := s.lanes[sessionID]
	if !ok {
		l = &lane{}
		s.lanes[sessionID] = l
	}
	l.queue = append(l.queue, run)
	if l.running {
		s.mu.Unlock()
		return true
	}
	l.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	go s.drain(sessionID, l)
	return true
}

func (s *Session) drain(sessionID string, l *lane) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if len(l.queue) == 0 {
			l.running = false
			delete(s.lanes, sessionID)
			s.mu.Unlock()
			return
		}
		next := l.queue[0]
		l.queue = l.queue[1:]
		s.mu.Unlock()
		next()
	}
}

func (s *Session) runJob(ctx context.Context, who auth.Identity, e *jobEntry) {
	defer s.forget(e)

	state := chat.JobCanceled
	if ctx.Err() == nil {
		state = s.opts.Pipeline.Run(ctx, who, e.job, s)
	} else {
		s.opts.Metrics.JobFinished("canceled")
	}
	if state != chat.JobCanceled || s.ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	aborted := e.aborted
	s.mu.Unlock()
	if aborted {
		s.send(EventError, chat.ErrorEvent{JobID: e.job.ID, Code: common.CodeCanceled, Message: "canceled by client"})
	}
}

func (s *Session) forget(e *jobEntry) {
	s.mu.Lock()
	if s.jobs[e.job.ID] == e {
		delete(s.jobs, e.job.ID)
	}
	s.mu.Unlock()
	e.cancel()
}

// chat.Sink

func (s *Session) Fragment(ev chat.FragmentEvent)     { s.send(EventFragment, ev) }
func (s *Session) Complete(ev chat.CompleteEvent)     { s.send(EventComplete, ev) }
func (s *Session) ScamNotice(ev chat.ScamNoticeEvent) { s.send(EventScamNotice, ev) }

func (s *Session) Error(ev chat.ErrorEvent) {
	if ev.Err != nil && s.opts.AuthMode.AllowsPlaceholder() {
		ev.Detail = ev.Err.Error()
	}
	s.send(EventError, ev)
}

func (s *Session) sendError(jobID, code, msg string) {
	s.send(EventError, chat.ErrorEvent{JobID: jobID, Code: code, Message: msg})
}

func (s *Session) send(eventType string, payload any) bool {
	return s.sendFrame(eventType, payload, false)
}

// sendFrame queues a frame for the writer. closeAfter makes the writer close
// the connection once the frame is on the wire.
func (s *Session) sendFrame(eventType string, payload any, closeAfter bool) bool {
	data, err := encode(eventType, payload)
	if err != nil {
		s.log.Error("encode event failed", "type", eventType, "err", err)
		return false
	}
	select {
	case s.out <- outFrame{data: data, close: closeAfter}:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Session) writeLoop() {
	defer close(s.writerDone)
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case f := <-s.out:
			if s.ctx.Err() != nil {
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
				s.log.Debug("write failed", "err", err)
				_ = s.conn.Close()
				return
			}
			if f.close {
				_ = s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"))
				_ = s.conn.Close()
				return
			}
		case <-ping.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = s.conn.Close()
				return
			}
		}
	}
}

// Close cancels every in-flight job and waits for them to unwind. No event is
// written after Close starts. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		if s.authTimer != nil {
			s.authTimer.Stop()
		}
		s.mu.Unlock()

		s.cancel()
		_ = s.conn.Close()
		s.wg.Wait()
		<-s.writerDone
		s.log.Info("connection closed")
	})
}
