package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/strangertalk/relay/internal/matching"
	"github.com/strangertalk/relay/internal/metrics"
	"github.com/strangertalk/relay/internal/protocol"
	"github.com/strangertalk/relay/internal/registry"
	"github.com/strangertalk/relay/internal/session"
)

// Identify registers userID on first contact and returns a copy of its
// record. The second return value reports whether the record is new.
func (e *Engine) Identify(ctx context.Context, userID string) (registry.User, bool, error) {
	if userID == "" {
		return registry.User{}, false, ErrInvalidIdentifier
	}

	var o outbox
	e.mu.Lock()
	u, created := e.users.Ensure(userID)
	if created {
		o.save(u)
	}
	snapshot := *u
	e.mu.Unlock()

	e.flush(ctx, &o)
	return snapshot, created, nil
}

// RequestSession asks for a partner. A user who is already paired gets
// ErrAlreadyInSession; a banned user gets ErrBanned. Both checks run before
// the queue is touched.
func (e *Engine) RequestSession(ctx context.Context, userID string) (matching.Result, error) {
	var o outbox
	e.mu.Lock()
	res, err := e.requestLocked(&o, userID)
	e.mu.Unlock()

	e.flush(ctx, &o)
	return res, err
}

// Next ends the current session, if any, and immediately requests a new
// partner.
func (e *Engine) Next(ctx context.Context, userID string) (matching.Result, error) {
	var o outbox
	e.mu.Lock()
	u, _ := e.users.Ensure(userID)
	if !u.Active {
		e.mu.Unlock()
		return matching.Result{}, ErrBanned
	}
	e.endLocked(&o, userID, protocol.ReasonStop)
	res, err := e.requestLocked(&o, userID)
	e.mu.Unlock()

	e.flush(ctx, &o)
	return res, err
}

// Stop ends userID's session, or withdraws it from the queue. It returns
// ErrNotInSession when the user was neither paired nor waiting.
func (e *Engine) Stop(ctx context.Context, userID string) error {
	var o outbox
	e.mu.Lock()
	ended := e.endLocked(&o, userID, protocol.ReasonStop)
	left := e.leaveQueueLocked(userID)
	e.mu.Unlock()

	switch {
	case ended:
	case left:
		o.send(userID, notice("left_queue", "⏹ You left the waiting queue."))
	default:
		return ErrNotInSession
	}
	e.flush(ctx, &o)
	return nil
}

// Disconnect handles a transport going away: the user leaves the queue and
// any session ends as if it had sent stop.
func (e *Engine) Disconnect(ctx context.Context, userID string) {
	var o outbox
	e.mu.Lock()
	e.endLocked(&o, userID, protocol.ReasonDisconnect)
	e.leaveQueueLocked(userID)
	e.mu.Unlock()

	e.flush(ctx, &o)
}

func (e *Engine) requestLocked(o *outbox, userID string) (matching.Result, error) {
	u, created := e.users.Ensure(userID)
	if created {
		o.save(u)
	}
	if e.sessions.InSession(userID) {
		return matching.Result{}, ErrAlreadyInSession
	}
	if !u.Active {
		return matching.Result{}, ErrBanned
	}

	res := e.queue.RequestMatch(userID, e.isSupporter)
	if res.Outcome == matching.Queued {
		if _, waiting := e.queuedAt[userID]; !waiting {
			e.queuedAt[userID] = e.now()
		}
		e.updateGauges()
		o.send(userID, protocol.MustServerMessage(protocol.TypeQueued, protocol.QueuedMsg{Priority: res.Priority}))
		return res, nil
	}

	s, err := e.sessions.Open(userID, res.PartnerID)
	if err != nil {
		// The queue never holds a paired user, so this is a broken invariant.
		// Put the partner back where it was rather than lose it.
		e.queue.PushFront(res.PartnerID)
		log.Printf("[engine] open session %s<->%s: %v", userID, res.PartnerID, err)
		return matching.Result{}, fmt.Errorf("engine: open session: %w", err)
	}
	e.pairedLocked(o, s)
	return res, nil
}

// pairedLocked announces a freshly opened session to both participants.
func (e *Engine) pairedLocked(o *outbox, s session.Session) {
	now := e.now()
	for _, id := range []string{s.UserA, s.UserB} {
		if at, ok := e.queuedAt[id]; ok {
			metrics.MatchWait.Observe(now.Sub(at).Seconds())
			delete(e.queuedAt, id)
		}
	}

	supA, supB := e.isSupporter(s.UserA), e.isSupporter(s.UserB)
	priority := "standard"
	if supA && supB {
		priority = "supporter"
	}
	metrics.MatchesTotal.WithLabelValues(priority).Inc()
	e.updateGauges()

	o.sendInSession(s.UserA, s.ID, protocol.MustServerMessage(protocol.TypePartnerFound, protocol.PartnerFoundMsg{
		SessionID:        s.ID,
		PartnerSupporter: supB,
		YouSupporter:     supA,
	}))
	o.sendInSession(s.UserB, s.ID, protocol.MustServerMessage(protocol.TypePartnerFound, protocol.PartnerFoundMsg{
		SessionID:        s.ID,
		PartnerSupporter: supA,
		YouSupporter:     supB,
	}))

	data, _ := json.Marshal(struct {
		SessionID string `json:"session_id"`
		Priority  string `json:"priority"`
	}{s.ID, priority})
	o.events = append(o.events, lifecycle{opened: true, sessionID: s.ID, data: data})

	log.Printf("[engine] paired session=%s priority=%s", s.ID, priority)
}

// endLocked closes userID's session and queues session_ended for userID and
// partner_left for the partner. It reports whether a session existed.
func (e *Engine) endLocked(o *outbox, userID, reason string) bool {
	s, ok := e.sessions.Close(userID)
	if !ok {
		return false
	}
	e.sessionClosed(o, s, reason)

	o.send(userID, protocol.MustServerMessage(protocol.TypeSessionEnded, protocol.SessionEndedMsg{
		SessionID: s.ID,
		Reason:    reason,
	}))
	o.send(s.GetPartner(userID), protocol.MustServerMessage(protocol.TypePartnerLeft, protocol.PartnerLeftMsg{
		SessionID: s.ID,
		Reason:    reason,
	}))
	return true
}

// dropLocked closes userID's session without messaging userID. The partner
// is told why. Used when userID has just been banned.
func (e *Engine) dropLocked(o *outbox, userID, reason string) {
	s, ok := e.sessions.Close(userID)
	if !ok {
		return
	}
	e.sessionClosed(o, s, reason)
	o.send(s.GetPartner(userID), protocol.MustServerMessage(protocol.TypePartnerLeft, protocol.PartnerLeftMsg{
		SessionID: s.ID,
		Reason:    reason,
	}))
}

func (e *Engine) leaveQueueLocked(userID string) bool {
	delete(e.queuedAt, userID)
	if !e.queue.Remove(userID) {
		return false
	}
	e.updateGauges()
	return true
}
