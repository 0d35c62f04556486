package realtime

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/cyberguard/internal/chat"
	"github.com/suPer8Hu/cyberguard/internal/common"
	"github.com/suPer8Hu/cyberguard/internal/config"
)

func TestConnect_QueryToken(t *testing.T) {
	_, srv := startServer(t, Options{Pipeline: newScriptPipeline()})
	c := dial(t, srv, "token=alice-token", nil)

	var res AuthResult
	c.expect(EventAuthResult, &res)
	assert.True(t, res.Success)
	require.NotNil(t, res.User)
	assert.Equal(t, uint64(1), res.User.ID)
	assert.Equal(t, "Alice", res.User.FullName)

	var conn Connected
	c.expect(EventConnected, &conn)
	assert.Equal(t, "alice@example.com", conn.User.Email)
	assert.False(t, conn.Timestamp.IsZero())
}

func TestConnect_HeaderTokenFallback(t *testing.T) {
	_, srv := startServer(t, Options{Pipeline: newScriptPipeline()})
	c := dial(t, srv, "", http.Header{"Authorization": {"Bearer bob-token"}})

	var res AuthResult
	c.expect(EventAuthResult, &res)
	require.True(t, res.Success)
	assert.Equal(t, uint64(2), res.User.ID)
}

func TestAuthenticateEvent(t *testing.T) {
	_, srv := startServer(t, Options{Pipeline: newScriptPipeline()})
	c := dial(t, srv, "", nil)

	c.send(EventAuthenticate, AuthenticatePayload{Token: "alice-token"})
	var res AuthResult
	c.expect(EventAuthResult, &res)
	assert.True(t, res.Success)
	c.expect(EventConnected, nil)

	c.send(EventAuthenticate, AuthenticatePayload{Token: "bob-token"})
	var e chat.ErrorEvent
	c.expect(EventError, &e)
	assert.Equal(t, common.CodeValidation, e.Code)
}

func TestStrictMode_RejectsAndCloses(t *testing.T) {
	reg, srv := startServer(t, Options{Pipeline: newScriptPipeline()})
	c := dial(t, srv, "token=nope", nil)

	var res AuthResult
	c.expect(EventAuthResult, &res)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)

	var e chat.ErrorEvent
	c.expect(EventError, &e)
	assert.Equal(t, common.CodeAuthentication, e.Code)

	_ = c.ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := c.ws.ReadMessage()
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return reg.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestStrictMode_SilentAfterRejection(t *testing.T) {
	conn := &recordConn{}
	s := newSession(context.Background(), "c1", conn, Options{
		Authenticator: testUsers,
		Pipeline:      newScriptPipeline(),
		AuthMode:      config.AuthStrict,
	})
	t.Cleanup(s.Close)

	s.authenticate("nope")
	<-s.writerDone
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 2, conn.Frames())

	s.authenticate("alice-token")
	assert.Equal(t, StateClosed, s.State())
	assert.Zero(t, len(s.out), "no reply queued on a closed connection")
}

func TestStrictMode_AuthDeadline(t *testing.T) {
	_, srv := startServer(t, Options{Pipeline: newScriptPipeline(), AuthDeadline: 50 * time.Millisecond})
	c := dial(t, srv, "", nil)

	var res AuthResult
	c.expect(EventAuthResult, &res)
	assert.False(t, res.Success)
	assert.Equal(t, "authentication timeout", res.Error)
	c.expect(EventError, nil)
}

func TestDevelopmentMode_Placeholder(t *testing.T) {
	pipe := newScriptPipeline("ok")
	_, srv := startServer(t, Options{Pipeline: pipe, AuthMode: config.AuthDevelopment})
	c := dial(t, srv, "token=nope", nil)

	var res AuthResult
	c.expect(EventAuthResult, &res)
	require.True(t, res.Success)
	assert.True(t, res.User.IsPlaceholder())
	c.expect(EventConnected, nil)

	// anonymous connections share the placeholder account
	other := dial(t, srv, "token=also-bad", nil)
	var res2 AuthResult
	other.expect(EventAuthResult, &res2)
	require.True(t, res2.Success)
	assert.Equal(t, res.User.ID, res2.User.ID)

	c.send(EventSendMessage, sendMsg("j1", "s1", "hi"))
	var ack Ack
	c.expect(EventAck, &ack)
	assert.True(t, ack.Accepted)
}

func TestSendMessage_RequiresAuth(t *testing.T) {
	_, srv := startServer(t, Options{Pipeline: newScriptPipeline()})
	c := dial(t, srv, "", nil)

	c.send(EventSendMessage, sendMsg("j1", "s1", "hi"))
	var ack Ack
	c.expect(EventAck, &ack)
	assert.False(t, ack.Accepted)
	require.NotNil(t, ack.Error)
	assert.Equal(t, common.CodeAuthentication, ack.Error.Code)
}

func TestSendMessage_AckThenOrderedFragments(t *testing.T) {
	_, srv := startServer(t, Options{Pipeline: newScriptPipeline("Hel", "lo, ", "world")})
	c := login(t, srv, "alice-token")

	c.send(EventSendMessage, SendMessagePayload{JobID: "j1", SessionID: "s1", Content: "hi", ModelID: "ollama/llama3"})

	var ack Ack
	c.expect(EventAck, &ack)
	assert.Equal(t, Ack{JobID: "j1", Accepted: true}, ack)

	for i, want := range []string{"Hel", "lo, ", "world"} {
		var fr chat.FragmentEvent
		c.expect(EventFragment, &fr)
		assert.Equal(t, i, fr.Sequence)
		assert.Equal(t, want, fr.Fragment)
		assert.Equal(t, "j1", fr.JobID)
	}
	var done chat.CompleteEvent
	c.expect(EventComplete, &done)
	assert.Equal(t, "Hello, world", done.FullText)
	assert.Equal(t, "ollama/llama3", done.Model)
}

func TestSelectModel_AppliesToLaterMessages(t *testing.T) {
	_, srv := startServer(t, Options{Pipeline: newScriptPipeline("x")})
	c := login(t, srv, "alice-token")

	c.send(EventSelectModel, SelectModelPayload{ModelID: "ollama/mistral"})
	c.send(EventSendMessage, sendMsg("j1", "s1", "hi"))
	c.expect(EventAck, nil)
	c.expect(EventFragment, nil)
	var done chat.CompleteEvent
	c.expect(EventComplete, &done)
	assert.Equal(t, "ollama/mistral", done.Model)
}

func TestSendMessage_Validation(t *testing.T) {
	_, srv := startServer(t, Options{Pipeline: newScriptPipeline()})
	c := login(t, srv, "alice-token")

	c.send(EventSendMessage, SendMessagePayload{JobID: "j1", SessionID: "s1"})
	var ack Ack
	c.expect(EventAck, &ack)
	assert.False(t, ack.Accepted)
	assert.Equal(t, "j1", ack.JobID)
	assert.Equal(t, common.CodeValidation, ack.Error.Code)
	assert.Contains(t, ack.Error.Message, "content")
}

func TestSendMessage_RateLimited(t *testing.T) {
	_, srv := startServer(t, Options{Pipeline: newScriptPipeline("x"), MessagesPerSecond: 0.001, MessageBurst: 1})
	c := login(t, srv, "alice-token")

	c.send(EventSendMessage, sendMsg("j1", "s1", "one"))
	c.send(EventSendMessage, sendMsg("j2", "s2", "two"))

	var acks []Ack
	for len(acks) < 2 {
		env := c.next()
		if env.Type != EventAck {
			continue
		}
		var a Ack
		require.NoError(t, jsonUnmarshal(env.Data, &a))
		acks = append(acks, a)
	}
	assert.True(t, acks[0].Accepted)
	assert.False(t, acks[1].Accepted)
	assert.Equal(t, common.CodeRateLimited, acks[1].Error.Code)
}

func TestSendMessage_DuplicateJobRejected(t *testing.T) {
	pipe := newScriptPipeline("x")
	pipe.block = true
	_, srv := startServer(t, Options{Pipeline: pipe})
	c := login(t, srv, "alice-token")

	c.send(EventSendMessage, sendMsg("j1", "s1", "one"))
	c.expect(EventAck, nil)
	c.expect(EventFragment, nil)

	c.send(EventSendMessage, sendMsg("j1", "s2", "again"))
	var ack Ack
	c.expect(EventAck, &ack)
	assert.False(t, ack.Accepted)
	assert.Equal(t, common.CodeValidation, ack.Error.Code)
}

func TestCancel_EmitsCanceled(t *testing.T) {
	pipe := newScriptPipeline("x")
	pipe.block = true
	_, srv := startServer(t, Options{Pipeline: pipe})
	c := login(t, srv, "alice-token")

	c.send(EventSendMessage, sendMsg("j1", "s1", "one"))
	c.expect(EventAck, nil)
	c.expect(EventFragment, nil)

	c.send(EventCancel, CancelPayload{JobID: "j1"})
	var e chat.ErrorEvent
	c.expect(EventError, &e)
	assert.Equal(t, "j1", e.JobID)
	assert.Equal(t, common.CodeCanceled, e.Code)

	select {
	case id := <-pipe.canceled:
		assert.Equal(t, "j1", id)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline not canceled")
	}
}

func TestDisconnect_CancelsInFlightJobs(t *testing.T) {
	pipe := newScriptPipeline("x")
	pipe.block = true
	reg, srv := startServer(t, Options{Pipeline: pipe})
	c := login(t, srv, "alice-token")

	c.send(EventSendMessage, sendMsg("j1", "s1", "one"))
	c.send(EventSendMessage, sendMsg("j2", "s2", "two"))
	for i := 0; i < 4; i++ {
		c.next()
	}
	require.Equal(t, 1, reg.Len())

	require.NoError(t, c.ws.Close())

	got := map[string]bool{}
	for len(got) < 2 {
		select {
		case id := <-pipe.canceled:
			got[id] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("jobs not canceled, got %v", got)
		}
	}
	assert.Eventually(t, func() bool { return reg.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestSameSession_RunsSerially(t *testing.T) {
	pipe := newScriptPipeline("a", "b")
	pipe.delay = 20 * time.Millisecond
	_, srv := startServer(t, Options{Pipeline: pipe})
	c := login(t, srv, "alice-token")

	c.send(EventSendMessage, sendMsg("j1", "s1", "one"))
	c.send(EventSendMessage, sendMsg("j2", "s1", "two"))

	var jobOrder []string
	completes := 0
	for completes < 2 {
		env := c.next()
		switch env.Type {
		case EventFragment:
			var fr chat.FragmentEvent
			require.NoError(t, jsonUnmarshal(env.Data, &fr))
			jobOrder = append(jobOrder, fr.JobID)
		case EventComplete:
			completes++
		}
	}
	assert.Equal(t, []string{"j1", "j1", "j2", "j2"}, jobOrder)
	assert.Equal(t, 1, pipe.MaxOverlap())
}

func TestDifferentSessions_RunInParallel(t *testing.T) {
	pipe := newScriptPipeline("a")
	pipe.block = true
	_, srv := startServer(t, Options{Pipeline: pipe})
	c := login(t, srv, "alice-token")

	c.send(EventSendMessage, sendMsg("j1", "s1", "one"))
	c.send(EventSendMessage, sendMsg("j2", "s2", "two"))

	frags := 0
	for frags < 2 {
		if c.next().Type == EventFragment {
			frags++
		}
	}
}

func TestUnknownEvent(t *testing.T) {
	_, srv := startServer(t, Options{Pipeline: newScriptPipeline()})
	c := login(t, srv, "alice-token")

	c.send("shout", map[string]string{})
	var e chat.ErrorEvent
	c.expect(EventError, &e)
	assert.Equal(t, common.CodeValidation, e.Code)
	assert.Contains(t, e.Message, "shout")
}
