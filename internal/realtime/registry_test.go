package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonUnmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=q", nil)
	r.Header.Set("Authorization", "Bearer h")
	assert.Equal(t, "q", TokenFromRequest(r))

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer h")
	assert.Equal(t, "h", TokenFromRequest(r))

	r = httptest.NewRequest("GET", "/ws", nil)
	assert.Equal(t, "", TokenFromRequest(r))
}

func TestRegistry_SameUserManyConnections(t *testing.T) {
	reg, srv := startServer(t, Options{Pipeline: newScriptPipeline("x")})

	a := login(t, srv, "alice-token")
	b := login(t, srv, "alice-token")
	assert.Equal(t, 2, reg.Len())

	require.NoError(t, a.ws.Close())
	assert.Eventually(t, func() bool { return reg.Len() == 1 }, 5*time.Second, 10*time.Millisecond)

	b.send(EventSendMessage, sendMsg("j1", "s1", "still here"))
	var ack Ack
	b.expect(EventAck, &ack)
	assert.True(t, ack.Accepted)
	b.expect(EventFragment, nil)
	b.expect(EventComplete, nil)
}

func TestRegistry_RouteUnknownConnection(t *testing.T) {
	reg := NewRegistry(Options{Authenticator: testUsers, Pipeline: newScriptPipeline()})
	assert.False(t, reg.Route("missing", []byte(`{}`)))
}

func TestRegistry_Shutdown(t *testing.T) {
	pipe := newScriptPipeline("x")
	pipe.block = true
	reg, srv := startServer(t, Options{Pipeline: pipe})

	c := login(t, srv, "alice-token")
	c.send(EventSendMessage, sendMsg("j1", "s1", "one"))
	c.expect(EventAck, nil)
	c.expect(EventFragment, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, reg.Shutdown(ctx))

	select {
	case <-pipe.canceled:
	case <-time.After(5 * time.Second):
		t.Fatal("job survived shutdown")
	}
	assert.Eventually(t, func() bool { return reg.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}
