// Package engine coordinates the registry, matching queue, session table,
// moderation gate, relay dispatcher and support resolver. Every state
// transition runs under one mutex; outbound deliveries are computed inside the
// critical section and sent after it is released.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/strangertalk/relay/internal/chat"
	"github.com/strangertalk/relay/internal/matching"
	"github.com/strangertalk/relay/internal/metrics"
	"github.com/strangertalk/relay/internal/moderation"
	"github.com/strangertalk/relay/internal/protocol"
	"github.com/strangertalk/relay/internal/registry"
	"github.com/strangertalk/relay/internal/relay"
	"github.com/strangertalk/relay/internal/session"
	"github.com/strangertalk/relay/internal/support"
)

var (
	ErrBanned            = errors.New("engine: user is banned")
	ErrAlreadyInSession  = errors.New("engine: user already in a session")
	ErrNotInSession      = errors.New("engine: user not in a session")
	ErrUnknownUser       = errors.New("engine: unknown user")
	ErrAlreadyBanned     = moderation.ErrAlreadyBanned
	ErrNotBanned         = moderation.ErrNotBanned
	ErrDeliveryFailed    = errors.New("engine: delivery to partner failed")
	ErrEmptyBroadcast    = errors.New("engine: broadcast text is empty")
	ErrInvalidIdentifier = errors.New("engine: user id is empty")
)

// Sink delivers rendered frames to users. It returns an error when the user
// cannot be reached.
type Sink interface {
	Send(ctx context.Context, userID string, data []byte) error
}

// UserStore persists user records. Implemented by registry.RedisStore.
type UserStore interface {
	Save(ctx context.Context, u registry.User) error
}

// ReportStore persists report records. Implemented by report.Store.
type ReportStore interface {
	Create(ctx context.Context, r moderation.Report) error
}

// EventPublisher announces lifecycle events. Implemented by
// messaging.NATSClient.
type EventPublisher interface {
	PublishSessionOpened(sessionID string, data []byte) error
	PublishSessionClosed(sessionID string, data []byte) error
	PublishAdminNotify(data []byte) error
}

// Options configures an Engine. Only Sink is required.
type Options struct {
	Sink          Sink
	Users         UserStore
	Reports       ReportStore
	Events        EventPublisher
	Admins        []string
	DedupeReports bool
	Filter        *moderation.Filter
}

// Engine is the single owner of all pairing state.
type Engine struct {
	mu          sync.Mutex
	users       *registry.Registry
	queue       *matching.Queue
	sessions    *session.Table
	gate        *moderation.Gate
	resolver    *support.Resolver
	dispatcher  *relay.Dispatcher
	transcripts *chat.Transcripts
	queuedAt    map[string]time.Time

	sink    Sink
	store   UserStore
	reports ReportStore
	events  EventPublisher
	admins  []string
	now     func() time.Time
}

// New creates an Engine with empty state.
func New(opts Options) *Engine {
	return &Engine{
		users:       registry.New(),
		queue:       matching.NewQueue(),
		sessions:    session.NewTable(),
		gate:        moderation.NewGate(moderation.GateOptions{DedupeReports: opts.DedupeReports}),
		resolver:    support.NewResolver(),
		dispatcher:  relay.NewDispatcher(opts.Filter),
		transcripts: chat.NewTranscripts(chat.DefaultSize),
		queuedAt:    make(map[string]time.Time),
		sink:        opts.Sink,
		store:       opts.Users,
		reports:     opts.Reports,
		events:      opts.Events,
		admins:      append([]string(nil), opts.Admins...),
		now:         time.Now,
	}
}

// SetClock overrides the time source for every component. Tests only.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
	e.users.SetClock(now)
	e.resolver.SetClock(now)
	e.gate.SetClock(now)
}

// Restore loads persisted user records, typically at startup.
func (e *Engine) Restore(users []registry.User) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, u := range users {
		e.users.Restore(u)
	}
}

// User returns a copy of the user's record.
func (e *Engine) User(userID string) (registry.User, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, ok := e.users.Get(userID)
	if !ok {
		return registry.User{}, false
	}
	return *u, true
}

// PeerOf returns userID's current partner.
func (e *Engine) PeerOf(userID string) (string, bool) {
	return e.sessions.PeerOf(userID)
}

// Queued reports whether userID is waiting for a partner.
func (e *Engine) Queued(userID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Contains(userID)
}

func (e *Engine) isSupporter(userID string) bool {
	u, ok := e.users.Get(userID)
	return ok && u.IsSupporter()
}

// ---------------------------------------------------------------------------
// Outbox: side effects collected under the lock and flushed after it.
// ---------------------------------------------------------------------------

// delivery is one frame for one user. When session is set, a failed send
// tears that session down if it is still current.
type delivery struct {
	to      string
	data    []byte
	session string
}

type lifecycle struct {
	opened    bool
	sessionID string
	data      []byte
}

type outbox struct {
	sends   []delivery
	saves   []registry.User
	reports []moderation.Report
	events  []lifecycle
	notify  [][]byte
}

func (o *outbox) send(to string, data []byte) {
	o.sends = append(o.sends, delivery{to: to, data: data})
}

func (o *outbox) sendInSession(to, sessionID string, data []byte) {
	o.sends = append(o.sends, delivery{to: to, data: data, session: sessionID})
}

func (o *outbox) save(u *registry.User) {
	o.saves = append(o.saves, *u)
}

// flush performs the collected side effects and returns the deliveries that
// failed.
func (e *Engine) flush(ctx context.Context, o *outbox) []delivery {
	for _, u := range o.saves {
		if e.store == nil {
			break
		}
		if err := e.store.Save(ctx, u); err != nil {
			log.Printf("[engine] persist user=%s: %v", u.ID, err)
		}
	}
	for _, r := range o.reports {
		if e.reports == nil {
			break
		}
		if err := e.reports.Create(ctx, r); err != nil {
			log.Printf("[engine] persist report=%s: %v", r.ID, err)
		}
	}
	if e.events != nil {
		for _, ev := range o.events {
			var err error
			if ev.opened {
				err = e.events.PublishSessionOpened(ev.sessionID, ev.data)
			} else {
				err = e.events.PublishSessionClosed(ev.sessionID, ev.data)
			}
			if err != nil {
				log.Printf("[engine] publish session=%s: %v", ev.sessionID, err)
			}
		}
		for _, n := range o.notify {
			if err := e.events.PublishAdminNotify(n); err != nil {
				log.Printf("[engine] publish admin notify: %v", err)
			}
		}
	}

	var failed []delivery
	for _, d := range o.sends {
		if err := e.sink.Send(ctx, d.to, d.data); err != nil {
			log.Printf("[engine] deliver to=%s: %v", d.to, err)
			failed = append(failed, d)
			if d.session != "" {
				e.deliveryFailed(ctx, d)
			}
		}
	}
	return failed
}

// deliveryFailed ends the session a failed delivery belonged to, but only if
// it is still the recipient's current session, and tells the other side.
func (e *Engine) deliveryFailed(ctx context.Context, d delivery) {
	var o outbox
	e.mu.Lock()
	s, ok := e.sessions.CloseIf(d.to, d.session)
	if ok {
		e.sessionClosed(&o, s, protocol.ReasonDeliveryFailure)
		other := s.GetPartner(d.to)
		o.send(other, protocol.MustServerMessage(protocol.TypePartnerLeft, protocol.PartnerLeftMsg{
			SessionID: s.ID,
			Reason:    protocol.ReasonDeliveryFailure,
		}))
		o.send(other, notice("delivery_failed", "⏹ Failed to send message. Your partner might have left."))
	}
	e.mu.Unlock()

	if ok {
		log.Printf("[engine] session=%s ended after delivery failure to=%s", s.ID, d.to)
		e.flush(ctx, &o)
	}
}

// sessionClosed does the bookkeeping shared by every teardown path. The
// caller has already removed s from the table.
func (e *Engine) sessionClosed(o *outbox, s session.Session, reason string) {
	e.transcripts.Forget(s.ID)
	metrics.SessionsEnded.WithLabelValues(reason).Inc()
	e.updateGauges()

	data, _ := json.Marshal(struct {
		SessionID string `json:"session_id"`
		Reason    string `json:"reason"`
		Duration  int64  `json:"duration_seconds"`
	}{s.ID, reason, int64(e.now().Sub(s.StartedAt).Seconds())})
	o.events = append(o.events, lifecycle{sessionID: s.ID, data: data})
}

func (e *Engine) updateGauges() {
	metrics.ActiveSessions.Set(float64(e.sessions.Len()))
	metrics.MatchQueueSize.Set(float64(e.queue.Len()))
}

func notice(code, text string) []byte {
	return protocol.MustServerMessage(protocol.TypeNotice, protocol.NoticeMsg{Code: code, Text: text})
}
