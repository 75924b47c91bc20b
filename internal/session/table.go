package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrAlreadyInSession is returned by Open when either user already has
	// a partner. It indicates a caller bug; the table is left unchanged.
	ErrAlreadyInSession = errors.New("session: user already in a session")

	// ErrSelfPair is returned by Open when both IDs are the same.
	ErrSelfPair = errors.New("session: cannot pair a user with itself")
)

// Session is an active pairing between two users.
type Session struct {
	ID        string
	UserA     string
	UserB     string
	StartedAt time.Time
}

// GetPartner returns the other participant, or "" if userID is not part of
// the session.
func (s Session) GetPartner(userID string) string {
	if userID == s.UserA {
		return s.UserB
	}
	if userID == s.UserB {
		return s.UserA
	}
	return ""
}

// IsParticipant checks if userID is part of this session.
func (s Session) IsParticipant(userID string) bool {
	return userID == s.UserA || userID == s.UserB
}

// Table maps each participant to its session. Entries always exist in
// matched pairs: Open installs both directions and Close removes both.
type Table struct {
	mu     sync.RWMutex
	byUser map[string]*Session
	count  int
	now    func() time.Time
}

// NewTable creates an empty session table.
func NewTable() *Table {
	return &Table{
		byUser: make(map[string]*Session),
		now:    time.Now,
	}
}

// Open pairs a and b and returns the new session.
func (t *Table) Open(a, b string) (Session, error) {
	if a == b {
		return Session{}, fmt.Errorf("%w: %s", ErrSelfPair, a)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.byUser[a]; ok {
		return Session{}, fmt.Errorf("%w: %s", ErrAlreadyInSession, a)
	}
	if _, ok := t.byUser[b]; ok {
		return Session{}, fmt.Errorf("%w: %s", ErrAlreadyInSession, b)
	}

	s := &Session{
		ID:        uuid.New().String(),
		UserA:     a,
		UserB:     b,
		StartedAt: t.now(),
	}
	t.byUser[a] = s
	t.byUser[b] = s
	t.count++
	return *s, nil
}

// Close removes both directions of userID's session and returns it. When
// userID has no session, Close is a no-op and returns false; this makes the
// second of two racing closes for the same pair harmless.
func (t *Table) Close(userID string) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.byUser[userID]
	if !ok {
		return Session{}, false
	}
	delete(t.byUser, s.UserA)
	delete(t.byUser, s.UserB)
	t.count--
	return *s, true
}

// CloseIf closes userID's session only if it is still the session with the
// given ID. Used when a stale event (such as a late delivery failure) must
// not tear down a newer pairing.
func (t *Table) CloseIf(userID, sessionID string) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.byUser[userID]
	if !ok || s.ID != sessionID {
		return Session{}, false
	}
	delete(t.byUser, s.UserA)
	delete(t.byUser, s.UserB)
	t.count--
	return *s, true
}

// PeerOf returns userID's current partner.
func (t *Table) PeerOf(userID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.byUser[userID]
	if !ok {
		return "", false
	}
	return s.GetPartner(userID), true
}

// Get returns userID's current session.
func (t *Table) Get(userID string) (Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.byUser[userID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// InSession reports whether userID currently has a partner.
func (t *Table) InSession(userID string) bool {
	t.mu.RLock()
	_, ok := t.byUser[userID]
	t.mu.RUnlock()
	return ok
}

// Len returns the number of active sessions (pairs, not participants).
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.count
}

// All returns a snapshot of every active session.
func (t *Table) All() []Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Session, 0, t.count)
	for userID, s := range t.byUser {
		if userID == s.UserA {
			out = append(out, *s)
		}
	}
	return out
}
