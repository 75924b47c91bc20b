package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strangertalk/relay/internal/engine"
	"github.com/strangertalk/relay/internal/matching"
	"github.com/strangertalk/relay/internal/moderation"
	"github.com/strangertalk/relay/internal/protocol"
	"github.com/strangertalk/relay/internal/ratelimit"
	"github.com/strangertalk/relay/internal/registry"
	"github.com/strangertalk/relay/internal/relay"
	"github.com/strangertalk/relay/internal/ws"
)

type fakeCore struct {
	calls        []string
	requestErr   error
	stopErr      error
	relayErr     error
	reportErr    error
	lastMessage  relay.Message
	safeMode     *bool
	disconnected string
	user         registry.User
}

func (f *fakeCore) Identify(_ context.Context, userID string) (registry.User, bool, error) {
	if userID == "" {
		return registry.User{}, false, engine.ErrInvalidIdentifier
	}
	f.calls = append(f.calls, "identify")
	u := f.user
	u.ID = userID
	return u, true, nil
}

func (f *fakeCore) RequestSession(context.Context, string) (matching.Result, error) {
	f.calls = append(f.calls, "start")
	return matching.Result{}, f.requestErr
}

func (f *fakeCore) Next(context.Context, string) (matching.Result, error) {
	f.calls = append(f.calls, "next")
	return matching.Result{}, f.requestErr
}

func (f *fakeCore) Stop(context.Context, string) error {
	f.calls = append(f.calls, "stop")
	return f.stopErr
}

func (f *fakeCore) Relay(_ context.Context, _ string, msg relay.Message) (relay.Outcome, error) {
	f.calls = append(f.calls, "relay")
	f.lastMessage = msg
	return relay.Delivered, f.relayErr
}

func (f *fakeCore) Report(context.Context, string) (moderation.ReportOutcome, error) {
	f.calls = append(f.calls, "report")
	return moderation.ReportOutcome{}, f.reportErr
}

func (f *fakeCore) SetSafeMode(_ context.Context, _ string, enabled *bool) bool {
	f.calls = append(f.calls, "safe_mode")
	f.safeMode = enabled
	return true
}

func (f *fakeCore) Share(context.Context, string) int {
	f.calls = append(f.calls, "share")
	return 1
}

func (f *fakeCore) Profile(context.Context, string) registry.User {
	f.calls = append(f.calls, "profile")
	return registry.User{}
}

func (f *fakeCore) Disconnect(_ context.Context, userID string) {
	f.disconnected = userID
}

type denyLimiter struct {
	deny map[string]bool
}

func (l denyLimiter) Allow(_ context.Context, _ string, rule ratelimit.Rule) (bool, error) {
	return !l.deny[rule.Name], nil
}

func (l denyLimiter) RetryAfter(_ context.Context, _ string, rule ratelimit.Rule) (time.Duration, error) {
	return rule.Window, nil
}

type recordConn struct {
	frames []map[string]any
}

func (c *recordConn) WriteMessage(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	c.frames = append(c.frames, m)
	return nil
}

type recordBinder struct {
	bound map[string]*ws.Connection
}

func (b *recordBinder) Bind(c *ws.Connection, userID string) {
	b.bound[userID] = c
}

func TestStart_MapsEngineErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"banned", engine.ErrBanned, protocol.CodeBanned},
		{"in session", engine.ErrAlreadyInSession, protocol.CodeAlreadyInSession},
		{"unexpected", errors.New("boom"), protocol.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core := &fakeCore{requestErr: tt.err}
			h := New(core, nil, nil)
			c := &recordConn{}

			h.start(context.Background(), c, "u", protocol.StartMsg{})
			require.Len(t, c.frames, 1)
			assert.Equal(t, protocol.TypeError, c.frames[0]["type"])
			assert.Equal(t, tt.code, c.frames[0]["code"])
		})
	}
}

func TestStart_SuccessSendsNothingExtra(t *testing.T) {
	core := &fakeCore{}
	h := New(core, nil, nil)
	c := &recordConn{}

	h.start(context.Background(), c, "u", protocol.StartMsg{})
	assert.Empty(t, c.frames, "engine delivers queued and partner_found itself")
	assert.Equal(t, []string{"start"}, core.calls)
}

func TestStop_NotInChat(t *testing.T) {
	core := &fakeCore{stopErr: engine.ErrNotInSession}
	h := New(core, nil, nil)
	c := &recordConn{}

	h.stop(context.Background(), c, "u", protocol.StopMsg{})
	require.Len(t, c.frames, 1)
	assert.Equal(t, protocol.CodeNotInSession, c.frames[0]["code"])
	assert.Equal(t, "⏹ You are not in a chat currently.", c.frames[0]["message"])
}

func TestMessage_ParsesKind(t *testing.T) {
	core := &fakeCore{}
	h := New(core, nil, nil)
	c := &recordConn{}

	h.message(context.Background(), c, "u", protocol.ChatMsg{Kind: "photo", MediaRef: "f1", Caption: "cap"})
	assert.Equal(t, relay.Message{Kind: relay.KindPhoto, MediaRef: "f1", Caption: "cap"}, core.lastMessage)
	assert.Empty(t, c.frames)

	h.message(context.Background(), c, "u", protocol.ChatMsg{Kind: "hologram"})
	require.Len(t, c.frames, 1)
	assert.Equal(t, protocol.CodeInvalidMessage, c.frames[0]["code"])
	assert.Equal(t, []string{"relay"}, core.calls)
}

func TestMessage_DeliveryFailureIsNotReportedTwice(t *testing.T) {
	core := &fakeCore{relayErr: engine.ErrDeliveryFailed}
	h := New(core, nil, nil)
	c := &recordConn{}

	h.message(context.Background(), c, "u", protocol.ChatMsg{Kind: "text", Text: "hi"})
	assert.Empty(t, c.frames)
}

func TestRateLimited(t *testing.T) {
	core := &fakeCore{}
	h := New(core, denyLimiter{deny: map[string]bool{"message": true, "report": true}}, nil)
	c := &recordConn{}

	h.message(context.Background(), c, "u", protocol.ChatMsg{Kind: "text", Text: "hi"})
	h.report(context.Background(), c, "u", protocol.ReportMsg{})
	h.start(context.Background(), c, "u", protocol.StartMsg{})

	require.Len(t, c.frames, 2)
	assert.Equal(t, protocol.TypeRateLimited, c.frames[0]["type"])
	assert.Equal(t, "message", c.frames[0]["action"])
	assert.Equal(t, float64(10), c.frames[0]["retry_after"])
	assert.Equal(t, "report", c.frames[1]["action"])
	assert.Equal(t, []string{"start"}, core.calls)
}

func TestSafeModeShareProfile(t *testing.T) {
	core := &fakeCore{}
	h := New(core, nil, nil)
	c := &recordConn{}
	on := true

	h.safeMode(context.Background(), c, "u", protocol.SafeModeMsg{Enabled: &on})
	h.share(context.Background(), c, "u", protocol.ShareMsg{})
	h.profile(context.Background(), c, "u", protocol.ProfileMsg{})

	require.NotNil(t, core.safeMode)
	assert.True(t, *core.safeMode)
	assert.Equal(t, []string{"safe_mode", "share", "profile"}, core.calls)
}

func TestSafeMode_IgnoresOtherPayloads(t *testing.T) {
	core := &fakeCore{}
	h := New(core, nil, nil)

	h.safeMode(context.Background(), &recordConn{}, "u", protocol.ShareMsg{})
	h.safeMode(context.Background(), &recordConn{}, "u", nil)

	assert.Empty(t, core.calls)
	assert.Nil(t, core.safeMode)
}

func TestIdentify_ThroughDispatcher(t *testing.T) {
	core := &fakeCore{user: registry.User{Active: false, SafeMode: true, CumulativeSupport: 60}}
	binder := &recordBinder{bound: make(map[string]*ws.Connection)}
	h := New(core, nil, binder)
	d := ws.NewMessageDispatcher()
	h.Register(d)

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	conn := &ws.Connection{ID: "c1", Conn: server}

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Dispatch(conn, []byte(`{"type":"identify","user_id":"alice"}`))
	}()

	var frames []map[string]any
	for i := 0; i < 2; i++ {
		data, err := wsutil.ReadServerText(client)
		require.NoError(t, err)
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		frames = append(frames, m)
	}
	<-done

	assert.Same(t, conn, binder.bound["alice"])
	assert.Equal(t, protocol.TypeIdentified, frames[0]["type"])
	assert.Equal(t, "alice", frames[0]["user_id"])
	assert.Equal(t, "premium", frames[0]["tier"])
	assert.Equal(t, protocol.TypeBanned, frames[1]["type"])
}

func TestOnDisconnect(t *testing.T) {
	core := &fakeCore{}
	h := New(core, nil, nil)

	h.OnDisconnect(&ws.Connection{ID: "anon"})
	assert.Empty(t, core.disconnected, "anonymous connections have no chat state")

	server, client := net.Pipe()
	defer client.Close()
	conn := &ws.Connection{ID: "c2", Conn: server}
	cm := ws.NewConnectionManager()
	cm.Add(conn)
	cm.Bind(conn, "bob")

	h.OnDisconnect(conn)
	assert.Equal(t, "bob", core.disconnected)
}
