// Package handler binds client protocol messages to engine operations. It
// owns rate limiting and the mapping from engine errors to error frames.
package handler

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

	"github.com/strangertalk/relay/internal/engine"
	"github.com/strangertalk/relay/internal/matching"
	"github.com/strangertalk/relay/internal/metrics"
	"github.com/strangertalk/relay/internal/moderation"
	"github.com/strangertalk/relay/internal/protocol"
	"github.com/strangertalk/relay/internal/ratelimit"
	"github.com/strangertalk/relay/internal/registry"
	"github.com/strangertalk/relay/internal/relay"
	"github.com/strangertalk/relay/internal/support"
	"github.com/strangertalk/relay/internal/ws"
)

// Core is the subset of engine.Engine the handlers drive.
type Core interface {
	Identify(ctx context.Context, userID string) (registry.User, bool, error)
	RequestSession(ctx context.Context, userID string) (matching.Result, error)
	Next(ctx context.Context, userID string) (matching.Result, error)
	Stop(ctx context.Context, userID string) error
	Relay(ctx context.Context, senderID string, msg relay.Message) (relay.Outcome, error)
	Report(ctx context.Context, reporterID string) (moderation.ReportOutcome, error)
	SetSafeMode(ctx context.Context, userID string, enabled *bool) bool
	Share(ctx context.Context, userID string) int
	Profile(ctx context.Context, userID string) registry.User
	Disconnect(ctx context.Context, userID string)
}

// Limiter is implemented by ratelimit.Limiter.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
	RetryAfter(ctx context.Context, identifier string, rule ratelimit.Rule) (time.Duration, error)
}

// Binder attaches a user ID to a connection. Implemented by ws.Server.
type Binder interface {
	Bind(c *ws.Connection, userID string)
}

// Conn is what handlers write replies to.
type Conn interface {
	WriteMessage(data []byte) error
}

// Handlers translates protocol messages into engine calls.
type Handlers struct {
	core    Core
	limiter Limiter
	binder  Binder
	timeout time.Duration
}

// New creates Handlers. limiter may be nil to disable rate limiting.
func New(core Core, limiter Limiter, binder Binder) *Handlers {
	return &Handlers{
		core:    core,
		limiter: limiter,
		binder:  binder,
		timeout: 5 * time.Second,
	}
}

// Register installs every client message handler on d.
func (h *Handlers) Register(d *ws.MessageDispatcher) {
	d.Register(protocol.TypeIdentify, func(c *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.IdentifyMsg)
		if !ok {
			return
		}
		h.identify(c, m)
	})
	d.Register(protocol.TypeStart, h.bind(h.start))
	d.Register(protocol.TypeNext, h.bind(h.next))
	d.Register(protocol.TypeStop, h.bind(h.stop))
	d.Register(protocol.TypeMessage, h.bind(h.message))
	d.Register(protocol.TypeReport, h.bind(h.report))
	d.Register(protocol.TypeSafeMode, h.bind(h.safeMode))
	d.Register(protocol.TypeShare, h.bind(h.share))
	d.Register(protocol.TypeProfile, h.bind(h.profile))
}

// OnDisconnect ends the user's chat when its bound connection goes away.
func (h *Handlers) OnDisconnect(c *ws.Connection) {
	userID := c.UserID()
	if userID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	h.core.Disconnect(ctx, userID)
	log.Printf("[handler] disconnect user=%s conn=%s", userID, c.ID)
}

type boundFunc func(ctx context.Context, c Conn, userID string, msg interface{})

// bind adapts a handler that needs the connection's user ID.
func (h *Handlers) bind(fn boundFunc) ws.MessageHandler {
	return func(c *ws.Connection, msg interface{}) {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		fn(ctx, c, c.UserID(), msg)
	}
}

func (h *Handlers) identify(c *ws.Connection, m protocol.IdentifyMsg) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	u, created, err := h.core.Identify(ctx, m.UserID)
	if err != nil {
		reply(c, protocol.ErrorMessage(protocol.CodeInvalidMessage, "user_id is required"))
		return
	}
	h.binder.Bind(c, u.ID)
	reply(c, protocol.MustServerMessage(protocol.TypeIdentified, protocol.IdentifiedMsg{
		UserID:   u.ID,
		New:      created,
		SafeMode: u.SafeMode,
		Tier:     support.TierOf(u.CumulativeSupport).String(),
	}))
	if !u.Active {
		reply(c, protocol.MustServerMessage(protocol.TypeBanned, protocol.BannedMsg{
			Reason: "🚫 You have been banned from using this bot.",
		}))
	}
}

func (h *Handlers) start(ctx context.Context, c Conn, userID string, _ interface{}) {
	if !h.allow(ctx, c, userID, ratelimit.RuleMatch) {
		return
	}
	if _, err := h.core.RequestSession(ctx, userID); err != nil {
		replyErr(c, err)
	}
}

func (h *Handlers) next(ctx context.Context, c Conn, userID string, _ interface{}) {
	if !h.allow(ctx, c, userID, ratelimit.RuleMatch) {
		return
	}
	if _, err := h.core.Next(ctx, userID); err != nil {
		replyErr(c, err)
	}
}

func (h *Handlers) stop(ctx context.Context, c Conn, userID string, _ interface{}) {
	if err := h.core.Stop(ctx, userID); err != nil {
		replyErr(c, err)
	}
}

func (h *Handlers) message(ctx context.Context, c Conn, userID string, msg interface{}) {
	m, ok := msg.(protocol.ChatMsg)
	if !ok {
		return
	}
	kind, err := relay.ParseKind(m.Kind)
	if err != nil {
		reply(c, protocol.ErrorMessage(protocol.CodeInvalidMessage, err.Error()))
		return
	}
	if !h.allow(ctx, c, userID, ratelimit.RuleMessage) {
		return
	}

	_, err = h.core.Relay(ctx, userID, relay.Message{
		Kind:     kind,
		Text:     m.Text,
		MediaRef: m.MediaRef,
		Caption:  m.Caption,
	})
	if err != nil && !errors.Is(err, engine.ErrDeliveryFailed) {
		reply(c, protocol.ErrorMessage(protocol.CodeInvalidMessage, err.Error()))
	}
}

func (h *Handlers) report(ctx context.Context, c Conn, userID string, _ interface{}) {
	if !h.allow(ctx, c, userID, ratelimit.RuleReport) {
		return
	}
	if _, err := h.core.Report(ctx, userID); err != nil {
		replyErr(c, err)
	}
}

func (h *Handlers) safeMode(ctx context.Context, _ Conn, userID string, msg interface{}) {
	m, ok := msg.(protocol.SafeModeMsg)
	if !ok {
		return
	}
	h.core.SetSafeMode(ctx, userID, m.Enabled)
}

func (h *Handlers) share(ctx context.Context, _ Conn, userID string, _ interface{}) {
	h.core.Share(ctx, userID)
}

func (h *Handlers) profile(ctx context.Context, _ Conn, userID string, _ interface{}) {
	h.core.Profile(ctx, userID)
}

// allow applies rule to userID and tells the client when it is throttled.
func (h *Handlers) allow(ctx context.Context, c Conn, userID string, rule ratelimit.Rule) bool {
	if h.limiter == nil {
		return true
	}
	ok, _ := h.limiter.Allow(ctx, userID, rule)
	if ok {
		return true
	}
	metrics.RateLimited.WithLabelValues(rule.Name).Inc()
	wait, _ := h.limiter.RetryAfter(ctx, userID, rule)
	reply(c, protocol.MustServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
		Action:     rule.Name,
		RetryAfter: int(math.Ceil(wait.Seconds())),
	}))
	return false
}

func replyErr(c Conn, err error) {
	code, text := describe(err)
	reply(c, protocol.ErrorMessage(code, text))
}

// describe maps an engine error to an error code and user-facing text.
func describe(err error) (string, string) {
	switch {
	case errors.Is(err, engine.ErrBanned):
		return protocol.CodeBanned, "🚫 You have been banned from using this bot."
	case errors.Is(err, engine.ErrAlreadyInSession):
		return protocol.CodeAlreadyInSession, "💬 You are already in a chat! Use stop to end current chat first."
	case errors.Is(err, engine.ErrNotInSession):
		return protocol.CodeNotInSession, "⏹ You are not in a chat currently."
	default:
		log.Printf("[handler] unexpected error: %v", err)
		return protocol.CodeInternal, "internal error"
	}
}

func reply(c Conn, data []byte) {
	if err := c.WriteMessage(data); err != nil {
		log.Printf("[handler] reply failed: %v", err)
	}
}
