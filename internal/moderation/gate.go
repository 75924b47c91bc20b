package moderation

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/strangertalk/relay/internal/registry"
)

// AutoBanThreshold is the report count at which a user is deactivated.
const AutoBanThreshold = 3

var (
	ErrAlreadyBanned = errors.New("moderation: user already banned")
	ErrNotBanned     = errors.New("moderation: user is not banned")
	ErrSelfReport    = errors.New("moderation: cannot report yourself")
)

// Report is one accumulated complaint against a user.
type Report struct {
	ID         string
	ReporterID string
	ReportedID string
	SessionID  string
	CreatedAt  time.Time
	Transcript []Line // recent relayed text for reviewers, may be empty
}

// Line is one relayed text message attached to a report.
type Line struct {
	From string `json:"from"` // "reporter" or "reported"
	Text string `json:"text"`
	Ts   int64  `json:"ts"`
}

// ReportOutcome describes what a Report call did.
type ReportOutcome struct {
	Record    Report
	Count     int  // reported user's report count after this call
	Banned    bool // this report crossed the threshold
	Duplicate bool // ignored because the reporter already reported this session
}

// Flagged summarizes reports against one user for admin listings.
type Flagged struct {
	UserID string
	Count  int
	Latest time.Time
}

// GateOptions configures a Gate.
type GateOptions struct {
	// Threshold overrides AutoBanThreshold when positive.
	Threshold int
	// DedupeReports limits each reporter to one report per session.
	DedupeReports bool
}

type dedupeKey struct {
	reporter, reported, session string
}

// Gate accumulates reports and applies the auto-ban rule. It mutates the
// registry records it is handed and is not safe for concurrent use.
type Gate struct {
	threshold int
	dedupe    bool
	reports   map[string][]Report // reported ID -> reports, oldest first
	seen      map[dedupeKey]struct{}
	total     int
	now       func() time.Time
}

// NewGate creates a Gate.
func NewGate(opts GateOptions) *Gate {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = AutoBanThreshold
	}
	return &Gate{
		threshold: threshold,
		dedupe:    opts.DedupeReports,
		reports:   make(map[string][]Report),
		seen:      make(map[dedupeKey]struct{}),
		now:       time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (g *Gate) SetClock(now func() time.Time) {
	g.now = now
}

// Threshold returns the effective auto-ban threshold.
func (g *Gate) Threshold() int {
	return g.threshold
}

// Report records a complaint from reporterID against reported, made during
// sessionID. Reaching the threshold deactivates an active user exactly once;
// later reports only grow the count until an Unban resets it.
func (g *Gate) Report(reporterID string, reported *registry.User, sessionID string, transcript []Line) (ReportOutcome, error) {
	if reporterID == reported.ID {
		return ReportOutcome{}, ErrSelfReport
	}

	if g.dedupe {
		key := dedupeKey{reporter: reporterID, reported: reported.ID, session: sessionID}
		if _, dup := g.seen[key]; dup {
			return ReportOutcome{Count: reported.ReportCount, Duplicate: true}, nil
		}
		g.seen[key] = struct{}{}
	}

	rec := Report{
		ID:         uuid.New().String(),
		ReporterID: reporterID,
		ReportedID: reported.ID,
		SessionID:  sessionID,
		CreatedAt:  g.now(),
		Transcript: transcript,
	}
	g.reports[reported.ID] = append(g.reports[reported.ID], rec)
	g.total++

	reported.ReportCount++
	out := ReportOutcome{Record: rec, Count: reported.ReportCount}
	if reported.Active && reported.ReportCount >= g.threshold {
		reported.Active = false
		out.Banned = true
	}
	return out, nil
}

// Ban deactivates u on an admin's request.
func (g *Gate) Ban(u *registry.User) error {
	if !u.Active {
		return ErrAlreadyBanned
	}
	u.Active = false
	return nil
}

// Unban reactivates u and clears its report count.
func (g *Gate) Unban(u *registry.User) error {
	if u.Active {
		return ErrNotBanned
	}
	u.Active = true
	u.ReportCount = 0
	return nil
}

// Reports returns the reports filed against userID, oldest first.
func (g *Gate) Reports(userID string) []Report {
	src := g.reports[userID]
	out := make([]Report, len(src))
	copy(out, src)
	return out
}

// Total returns the number of reports ever recorded.
func (g *Gate) Total() int {
	return g.total
}

// Flagged lists every reported user, most recently reported first.
func (g *Gate) Flagged() []Flagged {
	out := make([]Flagged, 0, len(g.reports))
	for id, reps := range g.reports {
		out = append(out, Flagged{
			UserID: id,
			Count:  len(reps),
			Latest: reps[len(reps)-1].CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Latest.Equal(out[j].Latest) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Latest.After(out[j].Latest)
	})
	return out
}
