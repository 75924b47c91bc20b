package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/strangertalk/relay/internal/moderation"
	"github.com/strangertalk/relay/internal/protocol"
	"github.com/strangertalk/relay/internal/registry"
)

// Stats is the operator summary.
type Stats struct {
	TotalUsers    int   `json:"total_users"`
	CurrentChats  int   `json:"current_chats"`
	WaitingQueue  int   `json:"waiting_queue"`
	Supporters    int   `json:"supporters"`
	TotalEarnings int64 `json:"total_earnings"`
	TotalReports  int   `json:"total_reports"`
	TotalShares   int   `json:"total_shares"`
	Banned        int   `json:"banned"`
}

// BroadcastResult counts per-user outcomes of a broadcast.
type BroadcastResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Stats returns a snapshot of the operator counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statsLocked()
}

func (e *Engine) statsLocked() Stats {
	st := Stats{
		TotalUsers:   e.users.Len(),
		CurrentChats: e.sessions.Len(),
		WaitingQueue: e.queue.Len(),
		TotalReports: e.gate.Total(),
	}
	for _, u := range e.users.All() {
		if u.IsSupporter() {
			st.Supporters++
		}
		st.TotalEarnings += u.CumulativeSupport
		st.TotalShares += u.Shares
		if !u.Active {
			st.Banned++
		}
	}
	return st
}

// Flagged lists reported users, most recently reported first.
func (e *Engine) Flagged() []moderation.Flagged {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gate.Flagged()
}

// Supporters lists supporters by cumulative support, largest first.
func (e *Engine) Supporters() []registry.User {
	e.mu.Lock()
	all := e.users.All()
	e.mu.Unlock()

	out := all[:0]
	for _, u := range all {
		if u.IsSupporter() {
			out = append(out, u)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CumulativeSupport > out[j].CumulativeSupport
	})
	return out
}

// BannedUsers lists inactive users in join order.
func (e *Engine) BannedUsers() []registry.User {
	e.mu.Lock()
	all := e.users.All()
	e.mu.Unlock()

	out := all[:0]
	for _, u := range all {
		if !u.Active {
			out = append(out, u)
		}
	}
	return out
}

// RecentUsers returns up to n users, most recently joined first.
func (e *Engine) RecentUsers(n int) []registry.User {
	e.mu.Lock()
	all := e.users.All()
	e.mu.Unlock()

	out := make([]registry.User, 0, n)
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, all[i])
	}
	return out
}

// Broadcast sends an announcement to every known user.
func (e *Engine) Broadcast(ctx context.Context, text string) (BroadcastResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return BroadcastResult{}, ErrEmptyBroadcast
	}

	e.mu.Lock()
	all := e.users.All()
	e.mu.Unlock()

	frame := protocol.MustServerMessage(protocol.TypeAnnouncement, protocol.AnnouncementMsg{
		Text: "📢 Announcement:\n\n" + text,
	})
	var o outbox
	for _, u := range all {
		o.send(u.ID, frame)
	}
	failed := e.flush(ctx, &o)

	res := BroadcastResult{Sent: len(all) - len(failed), Failed: len(failed)}
	log.Printf("[engine] broadcast sent=%d failed=%d", res.Sent, res.Failed)
	return res, nil
}

// IsAdmin reports whether userID is on the admin allow-list.
func (e *Engine) IsAdmin(userID string) bool {
	for _, id := range e.admins {
		if id == userID {
			return true
		}
	}
	return false
}

func adminText(kind string, f map[string]any) string {
	switch kind {
	case "payment":
		return fmt.Sprintf("💰 Payment Received!\n\nID: %v\nAmount: %v Stars ⭐\nTotal Support: %v Stars\nTier: %v\n\nTotal Earnings: %v Stars\nTotal Users: %v\nCurrent Supporters: %v",
			f["user_id"], f["amount"], f["total"], f["tier"], f["total_earnings"], f["total_users"], f["supporters"])
	case "auto_ban":
		return fmt.Sprintf("🚫 User %v was banned automatically after %v reports.", f["user_id"], f["report_count"])
	}
	return kind
}
