package engine

import (
	"context"
	"encoding/json"
	"log"

	"github.com/strangertalk/relay/internal/metrics"
	"github.com/strangertalk/relay/internal/moderation"
	"github.com/strangertalk/relay/internal/protocol"
)

// Report files a complaint from reporterID against its current partner. The
// report that crosses the auto-ban threshold deactivates the partner and ends
// the session; the reporter is told the partner left.
func (e *Engine) Report(ctx context.Context, reporterID string) (moderation.ReportOutcome, error) {
	var o outbox
	e.mu.Lock()
	s, ok := e.sessions.Get(reporterID)
	if !ok {
		e.mu.Unlock()
		return moderation.ReportOutcome{}, ErrNotInSession
	}
	reportedID := s.GetPartner(reporterID)
	reported, created := e.users.Ensure(reportedID)
	if created {
		o.save(reported)
	}

	entries := e.transcripts.Recent(s.ID)
	transcript := make([]moderation.Line, 0, len(entries))
	for _, en := range entries {
		from := "reported"
		if en.From == reporterID {
			from = "reporter"
		}
		transcript = append(transcript, moderation.Line{From: from, Text: en.Text, Ts: en.Ts})
	}

	out, err := e.gate.Report(reporterID, reported, s.ID, transcript)
	if err != nil {
		e.mu.Unlock()
		return out, err
	}
	if out.Duplicate {
		e.mu.Unlock()
		o.send(reporterID, notice("already_reported", "⚠️ You already reported this chat."))
		e.flush(ctx, &o)
		return out, nil
	}

	metrics.ReportsTotal.Inc()
	o.reports = append(o.reports, out.Record)
	o.save(reported)
	o.send(reporterID, protocol.MustServerMessage(protocol.TypeReportAccepted, protocol.ReportAcceptedMsg{}))

	if out.Banned {
		metrics.BansTotal.WithLabelValues("auto").Inc()
		o.send(reportedID, protocol.MustServerMessage(protocol.TypeBanned, protocol.BannedMsg{
			Reason: "🚫 You have been banned due to multiple reports.",
		}))
		e.dropLocked(&o, reportedID, protocol.ReasonBanned)
		e.leaveQueueLocked(reportedID)
		e.notifyAdminsLocked(&o, "auto_ban", map[string]any{
			"user_id":      reportedID,
			"report_count": out.Count,
		})
		log.Printf("[engine] user=%s auto-banned after %d reports", reportedID, out.Count)
	}
	e.mu.Unlock()

	e.flush(ctx, &o)
	return out, nil
}

// Ban deactivates userID on an admin's request and ends its session.
func (e *Engine) Ban(ctx context.Context, userID string) error {
	var o outbox
	e.mu.Lock()
	u, ok := e.users.Get(userID)
	if !ok {
		e.mu.Unlock()
		return ErrUnknownUser
	}
	if err := e.gate.Ban(u); err != nil {
		e.mu.Unlock()
		return err
	}
	metrics.BansTotal.WithLabelValues("admin").Inc()
	o.save(u)
	o.send(userID, protocol.MustServerMessage(protocol.TypeBanned, protocol.BannedMsg{
		Reason: "🚫 You have been banned by an administrator.",
	}))
	e.dropLocked(&o, userID, protocol.ReasonBanned)
	e.leaveQueueLocked(userID)
	e.mu.Unlock()

	log.Printf("[engine] user=%s banned by admin", userID)
	e.flush(ctx, &o)
	return nil
}

// Unban reactivates userID and resets its report count.
func (e *Engine) Unban(ctx context.Context, userID string) error {
	var o outbox
	e.mu.Lock()
	u, ok := e.users.Get(userID)
	if !ok {
		e.mu.Unlock()
		return ErrUnknownUser
	}
	if err := e.gate.Unban(u); err != nil {
		e.mu.Unlock()
		return err
	}
	o.save(u)
	o.send(userID, protocol.MustServerMessage(protocol.TypeUnbanned, protocol.UnbannedMsg{}))
	o.send(userID, notice("unbanned", "✅ You have been unbanned! You can now use the bot again. Use start to begin chatting."))
	e.mu.Unlock()

	log.Printf("[engine] user=%s unbanned", userID)
	e.flush(ctx, &o)
	return nil
}

// Reports returns the reports filed against userID, oldest first.
func (e *Engine) Reports(userID string) []moderation.Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gate.Reports(userID)
}

// notifyAdminsLocked sends an announcement to every connected admin and
// publishes the same event for out-of-band consumers.
func (e *Engine) notifyAdminsLocked(o *outbox, kind string, fields map[string]any) {
	fields["kind"] = kind
	data, err := json.Marshal(fields)
	if err != nil {
		log.Printf("[engine] encode admin notify: %v", err)
		return
	}
	o.notify = append(o.notify, data)

	frame := protocol.MustServerMessage(protocol.TypeAnnouncement, protocol.AnnouncementMsg{Text: adminText(kind, fields)})
	for _, id := range e.admins {
		o.send(id, frame)
	}
}
