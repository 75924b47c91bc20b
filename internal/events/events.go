// Package events serves the relay's NATS request subjects: payment
// confirmations from the payment collaborator and operator commands. Admin
// commands are checked against a static allow-list before they reach the
// engine.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/strangertalk/relay/internal/engine"
	"github.com/strangertalk/relay/internal/messaging"
	"github.com/strangertalk/relay/internal/moderation"
	"github.com/strangertalk/relay/internal/registry"
	"github.com/strangertalk/relay/internal/support"
)

var (
	ErrNotAdmin    = errors.New("events: access denied, admin only")
	ErrMalformed   = errors.New("events: malformed request")
	ErrUnknownList = errors.New("events: unknown listing")
)

// DefaultRecentUsers is the /users listing size when none is given.
const DefaultRecentUsers = 10

// Core is the subset of engine.Engine the event handlers drive.
type Core interface {
	ApplyPayment(ctx context.Context, p support.Payment) error
	Ban(ctx context.Context, userID string) error
	Unban(ctx context.Context, userID string) error
	Broadcast(ctx context.Context, text string) (engine.BroadcastResult, error)
	Stats() engine.Stats
	Flagged() []moderation.Flagged
	Supporters() []registry.User
	BannedUsers() []registry.User
	RecentUsers(n int) []registry.User
}

// Subscriber registers request handlers. Implemented by
// messaging.NATSClient.
type Subscriber interface {
	HandleRequests(subject string, handler func(data []byte) []byte) error
}

// AdminRequest is the body of every admin.* request.
type AdminRequest struct {
	AdminID string `json:"admin_id"`
	UserID  string `json:"user_id,omitempty"`
	Text    string `json:"text,omitempty"`
	List    string `json:"list,omitempty"` // users, reports, supporters or banned
	Limit   int    `json:"limit,omitempty"`
}

// Reply is the body of every response.
type Reply struct {
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// UserSummary is one row of a user listing.
type UserSummary struct {
	ID                string    `json:"id"`
	Active            bool      `json:"active"`
	ReportCount       int       `json:"report_count"`
	CumulativeSupport int64     `json:"cumulative_support"`
	Tier              string    `json:"tier"`
	JoinedAt          time.Time `json:"joined_at"`
}

// Handlers decodes event payloads and applies them to the engine.
type Handlers struct {
	core    Core
	admins  map[string]struct{}
	timeout time.Duration
}

// New creates Handlers that accept admin commands from the given IDs.
func New(core Core, adminIDs []string) *Handlers {
	admins := make(map[string]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &Handlers{core: core, admins: admins, timeout: 10 * time.Second}
}

// Register subscribes every handler on sub.
func (h *Handlers) Register(sub Subscriber) error {
	routes := []struct {
		subject string
		fn      func([]byte) []byte
	}{
		{messaging.SubjectPaymentConfirmed, h.HandlePayment},
		{messaging.SubjectAdminBan, h.HandleBan},
		{messaging.SubjectAdminUnban, h.HandleUnban},
		{messaging.SubjectAdminBroadcast, h.HandleBroadcast},
		{messaging.SubjectAdminStats, h.HandleStats},
		{messaging.SubjectAdminList, h.HandleList},
	}
	for _, r := range routes {
		if err := sub.HandleRequests(r.subject, r.fn); err != nil {
			return fmt.Errorf("events: subscribe %s: %w", r.subject, err)
		}
	}
	return nil
}

// HandlePayment applies a payment confirmation. Bad confirmations are
// dropped with a log line and an error reply.
func (h *Handlers) HandlePayment(data []byte) []byte {
	var p support.Payment
	if err := json.Unmarshal(data, &p); err != nil {
		log.Printf("[events] payment: %v", err)
		return failure(ErrMalformed)
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.core.ApplyPayment(ctx, p); err != nil {
		log.Printf("[events] payment dropped user=%s tx=%s: %v", p.UserID, p.TransactionID, err)
		return failure(err)
	}
	return success(nil)
}

// HandleBan bans the user named in the request.
func (h *Handlers) HandleBan(data []byte) []byte {
	return h.admin(data, func(ctx context.Context, req AdminRequest) (any, error) {
		if req.UserID == "" {
			return nil, ErrMalformed
		}
		return nil, h.core.Ban(ctx, req.UserID)
	})
}

// HandleUnban unbans the user named in the request.
func (h *Handlers) HandleUnban(data []byte) []byte {
	return h.admin(data, func(ctx context.Context, req AdminRequest) (any, error) {
		if req.UserID == "" {
			return nil, ErrMalformed
		}
		return nil, h.core.Unban(ctx, req.UserID)
	})
}

// HandleBroadcast sends an announcement to every known user.
func (h *Handlers) HandleBroadcast(data []byte) []byte {
	return h.admin(data, func(ctx context.Context, req AdminRequest) (any, error) {
		return h.core.Broadcast(ctx, req.Text)
	})
}

// HandleStats returns the operator counters.
func (h *Handlers) HandleStats(data []byte) []byte {
	return h.admin(data, func(context.Context, AdminRequest) (any, error) {
		return h.core.Stats(), nil
	})
}

// HandleList returns one of the admin listings.
func (h *Handlers) HandleList(data []byte) []byte {
	return h.admin(data, func(_ context.Context, req AdminRequest) (any, error) {
		switch req.List {
		case "users":
			n := req.Limit
			if n <= 0 {
				n = DefaultRecentUsers
			}
			return summarize(h.core.RecentUsers(n)), nil
		case "reports":
			return h.core.Flagged(), nil
		case "supporters":
			return summarize(h.core.Supporters()), nil
		case "banned":
			return summarize(h.core.BannedUsers()), nil
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownList, req.List)
		}
	})
}

func (h *Handlers) admin(data []byte, fn func(ctx context.Context, req AdminRequest) (any, error)) []byte {
	var req AdminRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return failure(ErrMalformed)
	}
	if _, ok := h.admins[req.AdminID]; !ok {
		log.Printf("[events] rejected admin command from %q", req.AdminID)
		return failure(ErrNotAdmin)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	result, err := fn(ctx, req)
	if err != nil {
		return failure(err)
	}
	return success(result)
}

func summarize(users []registry.User) []UserSummary {
	out := make([]UserSummary, 0, len(users))
	for _, u := range users {
		out = append(out, UserSummary{
			ID:                u.ID,
			Active:            u.Active,
			ReportCount:       u.ReportCount,
			CumulativeSupport: u.CumulativeSupport,
			Tier:              support.TierOf(u.CumulativeSupport).String(),
			JoinedAt:          u.JoinedAt,
		})
	}
	return out
}

func success(result any) []byte {
	r := Reply{OK: true}
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return failure(err)
		}
		r.Result = raw
	}
	data, _ := json.Marshal(r)
	return data
}

func failure(err error) []byte {
	data, _ := json.Marshal(Reply{Error: err.Error()})
	return data
}
