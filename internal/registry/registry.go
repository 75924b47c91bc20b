// Package registry owns per-user state: the active flag, safe-mode setting,
// report counter and supporter totals. Users are created lazily on first
// interaction and are never removed; a ban only clears the active flag.
package registry

import "time"

// User is the authoritative record for one externally identified user.
type User struct {
	ID                string
	Active            bool // false once banned
	SafeMode          bool // blocks non-text media addressed to this user
	ReportCount       int
	Supporter         bool // always equal to CumulativeSupport > 0
	CumulativeSupport int64
	LastSupportAt     *time.Time
	JoinedAt          time.Time
	Shares            int
}

// IsSupporter reports whether the user has at least one confirmed payment.
func (u *User) IsSupporter() bool {
	return u.CumulativeSupport > 0
}

// Registry maps user IDs to their records. It is not safe for concurrent use;
// the engine serializes every access behind its own lock.
type Registry struct {
	users map[string]*User
	order []string // join order, used for listings
	now   func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		users: make(map[string]*User),
		now:   time.Now,
	}
}

// SetClock overrides the time source used for JoinedAt. Tests only.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// Ensure returns the user with the given ID, creating a default record
// (active, safe mode on, no support) when none exists yet. The second return
// value is true when the record was created by this call.
func (r *Registry) Ensure(id string) (*User, bool) {
	if u, ok := r.users[id]; ok {
		return u, false
	}
	u := &User{
		ID:       id,
		Active:   true,
		SafeMode: true,
		JoinedAt: r.now(),
	}
	r.users[id] = u
	r.order = append(r.order, id)
	return u, true
}

// Get returns the user with the given ID without creating it.
func (r *Registry) Get(id string) (*User, bool) {
	u, ok := r.users[id]
	return u, ok
}

// Restore installs a previously persisted record, replacing any in-memory
// record with the same ID. The supporter flag is recomputed from the total.
func (r *Registry) Restore(u User) {
	u.Supporter = u.CumulativeSupport > 0
	if _, ok := r.users[u.ID]; !ok {
		r.order = append(r.order, u.ID)
	}
	r.users[u.ID] = &u
}

// Len returns the number of known users.
func (r *Registry) Len() int {
	return len(r.users)
}

// All returns copies of every record in join order.
func (r *Registry) All() []User {
	out := make([]User, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.users[id])
	}
	return out
}
