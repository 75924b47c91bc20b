package engine

import (
	"context"

	"github.com/strangertalk/relay/internal/protocol"
	"github.com/strangertalk/relay/internal/registry"
	"github.com/strangertalk/relay/internal/support"
)

// SetSafeMode sets userID's safe mode when enabled is non-nil and toggles it
// otherwise. It returns the new setting.
func (e *Engine) SetSafeMode(ctx context.Context, userID string, enabled *bool) bool {
	var o outbox
	e.mu.Lock()
	u, _ := e.users.Ensure(userID)
	if enabled != nil {
		u.SafeMode = *enabled
	} else {
		u.SafeMode = !u.SafeMode
	}
	state := u.SafeMode
	o.save(u)
	o.send(userID, protocol.MustServerMessage(protocol.TypeSafeModeState, protocol.SafeModeStateMsg{Enabled: state}))
	e.mu.Unlock()

	e.flush(ctx, &o)
	return state
}

// Share records that userID shared the service and returns its share count.
func (e *Engine) Share(ctx context.Context, userID string) int {
	var o outbox
	e.mu.Lock()
	u, _ := e.users.Ensure(userID)
	u.Shares++
	n := u.Shares
	o.save(u)
	o.send(userID, protocol.MustServerMessage(protocol.TypeShareRecorded, protocol.ShareRecordedMsg{Shares: n}))
	e.mu.Unlock()

	e.flush(ctx, &o)
	return n
}

// Profile sends userID its supporter status and returns a copy of the record.
func (e *Engine) Profile(ctx context.Context, userID string) registry.User {
	var o outbox
	e.mu.Lock()
	u, created := e.users.Ensure(userID)
	if created {
		o.save(u)
	}
	snapshot := *u
	e.mu.Unlock()

	tier := support.TierOf(snapshot.CumulativeSupport)
	info := protocol.ProfileInfoMsg{
		Supporter:         snapshot.IsSupporter(),
		Tier:              tier.String(),
		CumulativeSupport: snapshot.CumulativeSupport,
		Shares:            snapshot.Shares,
		SafeMode:          snapshot.SafeMode,
		Benefits:          tier.Benefits(),
	}
	if snapshot.LastSupportAt != nil {
		info.LastSupportAt = snapshot.LastSupportAt.Unix()
	}
	o.send(userID, protocol.MustServerMessage(protocol.TypeProfileInfo, info))

	e.flush(ctx, &o)
	return snapshot
}
