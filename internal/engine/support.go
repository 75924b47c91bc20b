package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/strangertalk/relay/internal/metrics"
	"github.com/strangertalk/relay/internal/protocol"
	"github.com/strangertalk/relay/internal/support"
)

// maxWelcomeRecipients caps how many existing supporters hear about a new
// premium supporter.
const maxWelcomeRecipients = 3

// ApplyPayment credits a confirmed payment. Invalid or already applied
// confirmations leave every record unchanged.
func (e *Engine) ApplyPayment(ctx context.Context, p support.Payment) error {
	if p.UserID == "" {
		metrics.PaymentsTotal.WithLabelValues("rejected").Inc()
		return ErrInvalidIdentifier
	}

	var o outbox
	e.mu.Lock()
	if err := e.resolver.Check(p); err != nil {
		e.mu.Unlock()
		if errors.Is(err, support.ErrDuplicateTransaction) {
			metrics.PaymentsTotal.WithLabelValues("duplicate").Inc()
		} else {
			metrics.PaymentsTotal.WithLabelValues("rejected").Inc()
		}
		return err
	}
	u, _ := e.users.Ensure(p.UserID)
	if err := e.resolver.Apply(u, p); err != nil {
		e.mu.Unlock()
		return err
	}
	metrics.PaymentsTotal.WithLabelValues("applied").Inc()
	metrics.SupportAmountTotal.Add(float64(p.Amount))
	o.save(u)

	total := u.CumulativeSupport
	tier := support.TierOf(total)
	o.send(u.ID, protocol.MustServerMessage(protocol.TypePaymentApplied, protocol.PaymentAppliedMsg{
		Amount:            p.Amount,
		CumulativeSupport: total,
		Tier:              tier.String(),
		Benefits:          tier.Benefits(),
	}))

	st := e.statsLocked()
	e.notifyAdminsLocked(&o, "payment", map[string]any{
		"user_id":        u.ID,
		"amount":         p.Amount,
		"total":          total,
		"tier":           tier.String(),
		"transaction_id": p.TransactionID,
		"total_earnings": st.TotalEarnings,
		"total_users":    st.TotalUsers,
		"supporters":     st.Supporters,
	})

	if support.Annotated(total) {
		e.welcomeLocked(&o, u.ID, tier, st.Supporters)
	}
	e.mu.Unlock()

	log.Printf("[engine] payment user=%s amount=%d total=%d tier=%s", p.UserID, p.Amount, total, tier)
	e.flush(ctx, &o)
	return nil
}

// welcomeLocked tells up to maxWelcomeRecipients other supporters, in join
// order, that a new premium supporter arrived.
func (e *Engine) welcomeLocked(o *outbox, newID string, tier support.Tier, community int) {
	text := fmt.Sprintf("🎉 New %s Supporter!\n\nWelcome to our premium community! Another amazing supporter just joined us.\n\nCurrent premium community: %d supporters strong! 💪", tier, community)
	frame := protocol.MustServerMessage(protocol.TypeAnnouncement, protocol.AnnouncementMsg{Text: text})

	sent := 0
	for _, other := range e.users.All() {
		if sent == maxWelcomeRecipients {
			break
		}
		if other.ID == newID || !other.IsSupporter() {
			continue
		}
		o.send(other.ID, frame)
		sent++
	}
}
