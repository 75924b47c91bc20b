package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strangertalk/relay/internal/engine"
	"github.com/strangertalk/relay/internal/messaging"
)

type nopSink struct{}

func (nopSink) Send(context.Context, string, []byte) error { return nil }

type recordSubscriber struct {
	subjects []string
}

func (r *recordSubscriber) HandleRequests(subject string, _ func([]byte) []byte) error {
	r.subjects = append(r.subjects, subject)
	return nil
}

func setup(t *testing.T) (*Handlers, *engine.Engine) {
	t.Helper()
	e := engine.New(engine.Options{Sink: nopSink{}})
	return New(e, []string{"root"}), e
}

func decode(t *testing.T, data []byte) Reply {
	t.Helper()
	var r Reply
	require.NoError(t, json.Unmarshal(data, &r))
	return r
}

func TestRegister(t *testing.T) {
	h, _ := setup(t)
	sub := &recordSubscriber{}
	require.NoError(t, h.Register(sub))
	assert.ElementsMatch(t, []string{
		messaging.SubjectPaymentConfirmed,
		messaging.SubjectAdminBan,
		messaging.SubjectAdminUnban,
		messaging.SubjectAdminBroadcast,
		messaging.SubjectAdminStats,
		messaging.SubjectAdminList,
	}, sub.subjects)
}

func TestHandlePayment(t *testing.T) {
	h, e := setup(t)

	r := decode(t, h.HandlePayment([]byte(`{"user_id":"u1","amount":50,"transaction_id":"tx-1"}`)))
	assert.True(t, r.OK)
	u, ok := e.User("u1")
	require.True(t, ok)
	assert.Equal(t, int64(50), u.CumulativeSupport)

	r = decode(t, h.HandlePayment([]byte(`{"user_id":"u1","amount":50,"transaction_id":"tx-1"}`)))
	assert.False(t, r.OK)
	assert.Contains(t, r.Error, "already applied")

	r = decode(t, h.HandlePayment([]byte(`{"user_id":"u1","amount":-5,"transaction_id":"tx-2"}`)))
	assert.False(t, r.OK)

	r = decode(t, h.HandlePayment([]byte(`{`)))
	assert.Equal(t, ErrMalformed.Error(), r.Error)

	u, _ = e.User("u1")
	assert.Equal(t, int64(50), u.CumulativeSupport, "rejected confirmations never credit")
}

func TestAdmin_RejectsNonAdmins(t *testing.T) {
	h, e := setup(t)
	_, _, err := e.Identify(context.Background(), "victim")
	require.NoError(t, err)

	r := decode(t, h.HandleBan([]byte(`{"admin_id":"intruder","user_id":"victim"}`)))
	assert.False(t, r.OK)
	assert.Equal(t, ErrNotAdmin.Error(), r.Error)

	u, _ := e.User("victim")
	assert.True(t, u.Active)
}

func TestAdmin_BanUnban(t *testing.T) {
	h, e := setup(t)
	_, _, err := e.Identify(context.Background(), "u")
	require.NoError(t, err)

	tests := []struct {
		name string
		fn   func([]byte) []byte
		body string
		ok   bool
		err  string
	}{
		{"ban", h.HandleBan, `{"admin_id":"root","user_id":"u"}`, true, ""},
		{"ban again", h.HandleBan, `{"admin_id":"root","user_id":"u"}`, false, engine.ErrAlreadyBanned.Error()},
		{"ban unknown", h.HandleBan, `{"admin_id":"root","user_id":"ghost"}`, false, engine.ErrUnknownUser.Error()},
		{"ban missing id", h.HandleBan, `{"admin_id":"root"}`, false, ErrMalformed.Error()},
		{"unban", h.HandleUnban, `{"admin_id":"root","user_id":"u"}`, true, ""},
		{"unban again", h.HandleUnban, `{"admin_id":"root","user_id":"u"}`, false, engine.ErrNotBanned.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := decode(t, tt.fn([]byte(tt.body)))
			assert.Equal(t, tt.ok, r.OK)
			assert.Equal(t, tt.err, r.Error)
		})
	}
}

func TestAdmin_BroadcastAndStats(t *testing.T) {
	h, e := setup(t)
	for _, id := range []string{"a", "b"} {
		_, _, err := e.Identify(context.Background(), id)
		require.NoError(t, err)
	}

	r := decode(t, h.HandleBroadcast([]byte(`{"admin_id":"root","text":"hello all"}`)))
	require.True(t, r.OK)
	var res engine.BroadcastResult
	require.NoError(t, json.Unmarshal(r.Result, &res))
	assert.Equal(t, engine.BroadcastResult{Sent: 2}, res)

	r = decode(t, h.HandleBroadcast([]byte(`{"admin_id":"root"}`)))
	assert.False(t, r.OK)

	r = decode(t, h.HandleStats([]byte(`{"admin_id":"root"}`)))
	require.True(t, r.OK)
	var st engine.Stats
	require.NoError(t, json.Unmarshal(r.Result, &st))
	assert.Equal(t, 2, st.TotalUsers)
}

func TestAdmin_List(t *testing.T) {
	h, e := setup(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, _, err := e.Identify(ctx, id)
		require.NoError(t, err)
	}
	require.NoError(t, h.core.Ban(ctx, "b"))
	decode(t, h.HandlePayment([]byte(`{"user_id":"c","amount":100,"transaction_id":"t"}`)))

	list := func(body string) []UserSummary {
		r := decode(t, h.HandleList([]byte(body)))
		require.True(t, r.OK, r.Error)
		var out []UserSummary
		require.NoError(t, json.Unmarshal(r.Result, &out))
		return out
	}

	users := list(`{"admin_id":"root","list":"users","limit":2}`)
	require.Len(t, users, 2)
	assert.Equal(t, "c", users[0].ID)

	banned := list(`{"admin_id":"root","list":"banned"}`)
	require.Len(t, banned, 1)
	assert.Equal(t, "b", banned[0].ID)

	supporters := list(`{"admin_id":"root","list":"supporters"}`)
	require.Len(t, supporters, 1)
	assert.Equal(t, "vip", supporters[0].Tier)

	r := decode(t, h.HandleList([]byte(`{"admin_id":"root","list":"reports"}`)))
	assert.True(t, r.OK)

	r = decode(t, h.HandleList([]byte(`{"admin_id":"root","list":"nope"}`)))
	assert.False(t, r.OK)
}
