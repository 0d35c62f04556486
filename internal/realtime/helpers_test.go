package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/cyberguard/internal/auth"
	"github.com/suPer8Hu/cyberguard/internal/chat"
)

var errBadToken = errors.New("bad token")

// tokenAuth accepts the tokens in its map.
type tokenAuth map[string]auth.Identity

func (a tokenAuth) Authenticate(_ context.Context, token string) (auth.Identity, error) {
	id, ok := a[token]
	if !ok {
		return auth.Identity{}, errBadToken
	}
	return id, nil
}

var testUsers = tokenAuth{
	"alice-token": {ID: 1, Email: "alice@example.com", FullName: "Alice"},
	"bob-token":   {ID: 2, Email: "bob@example.com", FullName: "Bob"},
}

// scriptPipeline emits fixed fragments per job and tracks per-session overlap.
type scriptPipeline struct {
	fragments []string
	block     bool
	delay     time.Duration

	mu         sync.Mutex
	active     map[string]int
	maxOverlap int
	canceled   chan string
	order      []string
}

func newScriptPipeline(fragments ...string) *scriptPipeline {
	return &scriptPipeline{
		fragments: fragments,
		active:    make(map[string]int),
		canceled:  make(chan string, 16),
	}
}

func (p *scriptPipeline) Run(ctx context.Context, who auth.Identity, job *chat.StreamJob, sink chat.Sink) chat.JobState {
	p.mu.Lock()
	p.active[job.SessionID]++
	if p.active[job.SessionID] > p.maxOverlap {
		p.maxOverlap = p.active[job.SessionID]
	}
	p.order = append(p.order, job.ID)
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.active[job.SessionID]--
		p.mu.Unlock()
	}()

	var full strings.Builder
	for i, f := range p.fragments {
		if ctx.Err() != nil {
			p.canceled <- job.ID
			return chat.JobCanceled
		}
		full.WriteString(f)
		sink.Fragment(chat.FragmentEvent{JobID: job.ID, SessionID: job.SessionID, Fragment: f, Sequence: i})
		if p.delay > 0 {
			time.Sleep(p.delay)
		}
	}
	if p.block {
		<-ctx.Done()
		p.canceled <- job.ID
		return chat.JobCanceled
	}
	sink.Complete(chat.CompleteEvent{JobID: job.ID, SessionID: job.SessionID, FullText: full.String(), Model: job.Model})
	return chat.JobCompleted
}

func (p *scriptPipeline) MaxOverlap() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxOverlap
}

func startServer(t *testing.T, opts Options) (*Registry, *httptest.Server) {
	t.Helper()
	if opts.Authenticator == nil {
		opts.Authenticator = testUsers
	}
	reg := NewRegistry(opts)
	srv := httptest.NewServer(reg)
	t.Cleanup(func() {
		srv.Close()
		_ = reg.Shutdown(context.Background())
	})
	return reg, srv
}

type testClient struct {
	t  *testing.T
	ws *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server, query string, header http.Header) *testClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if query != "" {
		url += "?" + query
	}
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return &testClient{t: t, ws: ws}
}

func (c *testClient) send(eventType string, payload any) {
	c.t.Helper()
	data, err := encode(eventType, payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.ws.WriteMessage(websocket.TextMessage, data))
}

func (c *testClient) next() Envelope {
	c.t.Helper()
	_ = c.ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := c.ws.ReadMessage()
	require.NoError(c.t, err)
	var env Envelope
	require.NoError(c.t, json.Unmarshal(data, &env))
	return env
}

// expect reads the next frame, requires its type and decodes its data.
func (c *testClient) expect(eventType string, dst any) {
	c.t.Helper()
	env := c.next()
	require.Equal(c.t, eventType, env.Type, "payload: %s", string(env.Data))
	if dst != nil {
		require.NoError(c.t, json.Unmarshal(env.Data, dst))
	}
}

// login dials with a query token and consumes auth_result + connected.
func login(t *testing.T, srv *httptest.Server, token string) *testClient {
	t.Helper()
	c := dial(t, srv, "token="+token, nil)
	var res AuthResult
	c.expect(EventAuthResult, &res)
	require.True(t, res.Success)
	c.expect(EventConnected, nil)
	return c
}

func sendMsg(jobID, sessionID, content string) SendMessagePayload {
	return SendMessagePayload{JobID: jobID, SessionID: sessionID, Content: content}
}

// recordConn is a wsConn that keeps written frames in memory.
type recordConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *recordConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if messageType == websocket.TextMessage {
		c.frames = append(c.frames, append([]byte(nil), data...))
	}
	return nil
}

func (c *recordConn) SetWriteDeadline(time.Time) error { return nil }

func (c *recordConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordConn) Frames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}
