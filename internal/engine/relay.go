package engine

import (
	"context"
	"time"

	"github.com/strangertalk/relay/internal/chat"
	"github.com/strangertalk/relay/internal/metrics"
	"github.com/strangertalk/relay/internal/protocol"
	"github.com/strangertalk/relay/internal/registry"
	"github.com/strangertalk/relay/internal/relay"
)

// Relay forwards msg from senderID to its partner. Text is masked; media is
// replaced by a placeholder when the partner has safe mode on. When the
// partner cannot be reached the session is torn down and ErrDeliveryFailed
// is returned along with the outcome that was attempted.
func (e *Engine) Relay(ctx context.Context, senderID string, msg relay.Message) (relay.Outcome, error) {
	start := time.Now()
	defer func() {
		metrics.MessageLatency.Observe(time.Since(start).Seconds())
	}()

	var o outbox
	e.mu.Lock()
	sender, created := e.users.Ensure(senderID)
	if created {
		o.save(sender)
	}

	var recipient *registry.User
	s, paired := e.sessions.Get(senderID)
	if paired {
		recipient, _ = e.users.Ensure(s.GetPartner(senderID))
	}

	dec := e.dispatcher.Decide(sender, recipient, msg)
	metrics.MessagesTotal.WithLabelValues(dec.Outcome.String()).Inc()

	switch dec.Outcome {
	case relay.NoSession:
		o.send(senderID, notice("not_in_session", "⏹ You are not in a chat. Use start to find a partner."))

	case relay.Rejected:
		e.mu.Unlock()
		return dec.Outcome, dec.Err

	case relay.Restricted:
		// One side was banned while the session was still open.
		e.endLocked(&o, senderID, protocol.ReasonRestricted)
		o.send(senderID, notice("restricted", dec.SenderNotice))

	case relay.Delivered, relay.BlockedBySafeMode:
		d := dec.Recipient
		now := e.now()
		o.sendInSession(recipient.ID, s.ID, protocol.MustServerMessage(protocol.TypeMessage, protocol.ServerChatMsg{
			Kind:        d.Kind.String(),
			Text:        d.Text,
			MediaRef:    d.MediaRef,
			Caption:     d.Caption,
			Annotation:  d.Annotation,
			Placeholder: d.Placeholder,
			Ts:          now.Unix(),
		}))
		if dec.SenderNotice != "" {
			o.send(senderID, notice(noticeCode(dec), dec.SenderNotice))
		}
		if len(dec.FilteredTerms) > 0 {
			metrics.MessagesTotal.WithLabelValues("filtered").Inc()
		}
		if d.Kind == relay.KindText {
			e.transcripts.Record(s.ID, chat.Entry{From: senderID, Text: d.Text, Ts: now.Unix()})
		}
	}
	e.mu.Unlock()

	for _, f := range e.flush(ctx, &o) {
		if paired && f.to == recipient.ID && f.session == s.ID {
			// flush already ended the session and told the sender.
			metrics.MessagesTotal.WithLabelValues("failed").Inc()
			return dec.Outcome, ErrDeliveryFailed
		}
	}
	return dec.Outcome, nil
}

func noticeCode(dec relay.Decision) string {
	if dec.Outcome == relay.BlockedBySafeMode {
		return "blocked_by_safe_mode"
	}
	return "filtered"
}
