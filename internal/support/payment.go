package support

import (
	"errors"
	"fmt"
	"time"

	"github.com/strangertalk/relay/internal/registry"
)

var (
	ErrInvalidAmount        = errors.New("support: amount must be positive")
	ErrMissingTransaction   = errors.New("support: missing transaction id")
	ErrDuplicateTransaction = errors.New("support: transaction already applied")
)

// Payment is an externally confirmed payment. Amount validation against a
// price catalog happens before it reaches this package.
type Payment struct {
	UserID        string `json:"user_id"`
	Amount        int64  `json:"amount"`
	TransactionID string `json:"transaction_id"`
}

// Validate checks the fields every confirmation must carry.
func (p Payment) Validate() error {
	if p.TransactionID == "" {
		return ErrMissingTransaction
	}
	if p.Amount <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidAmount, p.Amount)
	}
	return nil
}

// Resolver applies payments to user records and remembers which external
// transactions have already been credited.
type Resolver struct {
	applied map[string]struct{}
	now     func() time.Time
}

// NewResolver creates a Resolver with an empty transaction history.
func NewResolver() *Resolver {
	return &Resolver{
		applied: make(map[string]struct{}),
		now:     time.Now,
	}
}

// SetClock overrides the time source used for LastSupportAt. Tests only.
func (r *Resolver) SetClock(now func() time.Time) {
	r.now = now
}

// Check reports whether Apply would accept p, without changing anything.
func (r *Resolver) Check(p Payment) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, dup := r.applied[p.TransactionID]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateTransaction, p.TransactionID)
	}
	return nil
}

// Apply credits p.Amount to u. On any error u is left unchanged.
func (r *Resolver) Apply(u *registry.User, p Payment) error {
	if err := r.Check(p); err != nil {
		return err
	}

	now := r.now()
	u.CumulativeSupport += p.Amount
	u.Supporter = true
	u.LastSupportAt = &now
	r.applied[p.TransactionID] = struct{}{}
	return nil
}
