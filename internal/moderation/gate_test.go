package moderation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strangertalk/relay/internal/registry"
)

func activeUser(id string) *registry.User {
	return &registry.User{ID: id, Active: true, SafeMode: true}
}

func TestReport_ThirdReportBans(t *testing.T) {
	g := NewGate(GateOptions{})
	target := activeUser("bad")

	for i, reporter := range []string{"r1", "r2"} {
		out, err := g.Report(reporter, target, "s1", nil)
		require.NoError(t, err)
		assert.Equal(t, i+1, out.Count)
		assert.False(t, out.Banned)
		assert.True(t, target.Active)
	}

	out, err := g.Report("r3", target, "s2", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Count)
	assert.True(t, out.Banned)
	assert.False(t, target.Active)
	assert.Equal(t, 3, g.Total())
}

func TestReport_FourthReportDoesNotRetrigger(t *testing.T) {
	g := NewGate(GateOptions{})
	target := activeUser("bad")
	for i := 0; i < 3; i++ {
		_, err := g.Report("r", target, "s", nil)
		require.NoError(t, err)
	}
	require.False(t, target.Active)

	out, err := g.Report("r", target, "s", nil)
	require.NoError(t, err)
	assert.Equal(t, 4, out.Count)
	assert.False(t, out.Banned, "ban transition happens once")
}

func TestReport_AdminBannedUserNeverTriggers(t *testing.T) {
	g := NewGate(GateOptions{})
	target := activeUser("bad")
	require.NoError(t, g.Ban(target))

	for i := 0; i < 5; i++ {
		out, err := g.Report("r", target, "s", nil)
		require.NoError(t, err)
		assert.False(t, out.Banned)
	}
	assert.Equal(t, 5, target.ReportCount)
}

func TestReport_SelfReportRejected(t *testing.T) {
	g := NewGate(GateOptions{})
	u := activeUser("me")
	_, err := g.Report("me", u, "s", nil)
	assert.ErrorIs(t, err, ErrSelfReport)
	assert.Zero(t, u.ReportCount)
	assert.Zero(t, g.Total())
}

func TestReport_Dedupe(t *testing.T) {
	g := NewGate(GateOptions{DedupeReports: true})
	target := activeUser("bad")

	out, err := g.Report("r1", target, "s1", nil)
	require.NoError(t, err)
	assert.False(t, out.Duplicate)

	out, err = g.Report("r1", target, "s1", nil)
	require.NoError(t, err)
	assert.True(t, out.Duplicate)
	assert.Equal(t, 1, out.Count)

	out, err = g.Report("r1", target, "s2", nil)
	require.NoError(t, err)
	assert.False(t, out.Duplicate, "new session may be reported again")
	assert.Equal(t, 2, target.ReportCount)
	assert.Equal(t, 2, g.Total())
}

func TestReport_NoDedupeByDefault(t *testing.T) {
	g := NewGate(GateOptions{})
	target := activeUser("bad")
	for i := 0; i < 3; i++ {
		_, err := g.Report("r1", target, "s1", nil)
		require.NoError(t, err)
	}
	assert.False(t, target.Active, "the same reporter can drive the count to the threshold")
}

func TestReport_CustomThreshold(t *testing.T) {
	g := NewGate(GateOptions{Threshold: 1})
	assert.Equal(t, 1, g.Threshold())
	target := activeUser("bad")
	out, err := g.Report("r", target, "s", nil)
	require.NoError(t, err)
	assert.True(t, out.Banned)
}

func TestReport_RecordsTranscript(t *testing.T) {
	g := NewGate(GateOptions{})
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return at })

	lines := []Line{{From: "reported", Text: "hi", Ts: at.Unix()}}
	out, err := g.Report("r", activeUser("bad"), "s9", lines)
	require.NoError(t, err)
	assert.NotEmpty(t, out.Record.ID)
	assert.Equal(t, "s9", out.Record.SessionID)
	assert.Equal(t, at, out.Record.CreatedAt)
	assert.Equal(t, lines, out.Record.Transcript)

	reps := g.Reports("bad")
	require.Len(t, reps, 1)
	assert.Equal(t, out.Record.ID, reps[0].ID)
}

func TestBanUnban(t *testing.T) {
	g := NewGate(GateOptions{})
	u := activeUser("u")
	u.ReportCount = 2

	require.NoError(t, g.Ban(u))
	assert.False(t, u.Active)
	assert.ErrorIs(t, g.Ban(u), ErrAlreadyBanned)

	require.NoError(t, g.Unban(u))
	assert.True(t, u.Active)
	assert.Zero(t, u.ReportCount)
	assert.ErrorIs(t, g.Unban(u), ErrNotBanned)
}

func TestUnban_RestartsThresholdCount(t *testing.T) {
	g := NewGate(GateOptions{})
	target := activeUser("bad")
	for i := 0; i < 3; i++ {
		_, _ = g.Report("r", target, "s", nil)
	}
	require.NoError(t, g.Unban(target))

	out, err := g.Report("r", target, "s", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Count)
	assert.True(t, target.Active)
}

func TestFlagged_MostRecentFirst(t *testing.T) {
	g := NewGate(GateOptions{})
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	g.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	})

	a, b := activeUser("a"), activeUser("b")
	_, _ = g.Report("x", a, "s1", nil)
	_, _ = g.Report("x", b, "s2", nil)
	_, _ = g.Report("y", a, "s3", nil)

	flagged := g.Flagged()
	require.Len(t, flagged, 2)
	assert.Equal(t, "a", flagged[0].UserID)
	assert.Equal(t, 2, flagged[0].Count)
	assert.Equal(t, "b", flagged[1].UserID)
	assert.Equal(t, 1, flagged[1].Count)
}
