package realtime

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/suPer8Hu/cyberguard/internal/auth"
)

// Registry maps connection ids to live Sessions. Ids are per connection, so
// one user may hold several connections at once.
type Registry struct {
	opts     Options
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(opts Options) *Registry {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// TokenFromRequest reads the bearer token from the handshake: the "token"
// query parameter first, then the Authorization header.
func TokenFromRequest(r *http.Request) string {
	if t := strings.TrimSpace(r.URL.Query().Get("token")); t != "" {
		return t
	}
	return auth.StripBearer(r.Header.Get("Authorization"))
}

func (r *Registry) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		r.ServeHTTP(c.Writer, c.Request)
	}
}

// ServeHTTP upgrades the request and runs the connection until it ends.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if r.ctx.Err() != nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	token := TokenFromRequest(req)

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.opts.Log.Warn("websocket upgrade failed", "err", err)
		return
	}

	id := uuid.NewString()
	s := newSession(r.ctx, id, ws, r.opts)
	if !r.add(s) {
		s.Close()
		return
	}
	defer r.remove(id)

	s.start(token)
	r.readLoop(id, ws)
}

func (r *Registry) readLoop(id string, ws *websocket.Conn) {
	ws.SetReadLimit(maxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.opts.Log.Debug("websocket read ended", "conn_id", id, "err", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		if mt != websocket.TextMessage {
			continue
		}
		if !r.Route(id, data) {
			return
		}
	}
}

// Route hands an inbound frame to the session that owns connID.
func (r *Registry) Route(connID string, data []byte) bool {
	s, ok := r.Get(connID)
	if !ok {
		return false
	}
	s.HandleEvent(data)
	return true
}

func (r *Registry) Get(connID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connID]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) add(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx.Err() != nil {
		return false
	}
	r.sessions[s.id] = s
	r.opts.Metrics.ConnOpened()
	return true
}

// remove tears down exactly the session registered under id.
func (r *Registry) remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return
	}
	s.Close()
	r.opts.Metrics.ConnClosed()
}

// Shutdown stops accepting connections and closes the live ones, waiting for
// their jobs to unwind or ctx to expire.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.cancel()

	r.mu.RLock()
	live := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.RUnlock()

	var g errgroup.Group
	for _, s := range live {
		g.Go(func() error {
			s.Close()
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
