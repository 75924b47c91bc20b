// Package relay decides how a chat message travels from a sender to its
// partner: delivered, masked, blocked by the recipient's safe mode or
// rejected. It only computes the decision; the caller performs delivery.
package relay

import (
	"github.com/strangertalk/relay/internal/moderation"
	"github.com/strangertalk/relay/internal/registry"
	"github.com/strangertalk/relay/internal/support"
)

// Annotation accompanies text and stickers from premium supporters.
const Annotation = "⭐ From Premium Supporter"

// Notice texts sent back to the sender.
const (
	NoticeFiltered   = "⚠️ Your message contained inappropriate content and was filtered."
	NoticeRestricted = "⏹ Chat ended due to user restrictions."
)

// Outcome classifies a relay attempt.
type Outcome int

const (
	Delivered Outcome = iota
	BlockedBySafeMode
	NoSession
	// Rejected means the message itself was invalid; nothing is sent.
	Rejected
	// Restricted means a participant is banned; the session must end.
	Restricted
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case BlockedBySafeMode:
		return "blocked_by_safe_mode"
	case NoSession:
		return "no_session"
	case Rejected:
		return "rejected"
	case Restricted:
		return "restricted"
	default:
		return "unknown"
	}
}

// Message is an inbound chat message. MediaRef is an opaque handle for media
// kinds (a file ID or URL); Text is used only by KindText.
type Message struct {
	Kind     Kind
	Text     string
	MediaRef string
	Caption  string
}

// Delivery is the payload handed to the recipient.
type Delivery struct {
	Kind        Kind
	Text        string // masked text, or the placeholder when blocked
	MediaRef    string
	Caption     string
	Placeholder bool   // media was withheld by safe mode
	Annotation  string // set for premium senders on text and stickers
}

// Decision is the full result of Decide.
type Decision struct {
	Outcome       Outcome
	Recipient     *Delivery // nil when nothing goes to the partner
	SenderNotice  string    // empty when the sender gets no notice
	FilteredTerms []string
	Err           error // validation failure for Rejected
}

// Dispatcher applies the per-kind delivery table.
type Dispatcher struct {
	filter *moderation.Filter
}

// NewDispatcher creates a Dispatcher using filter for text messages.
func NewDispatcher(filter *moderation.Filter) *Dispatcher {
	if filter == nil {
		filter = moderation.NewFilter()
	}
	return &Dispatcher{filter: filter}
}

// Decide computes how msg from sender reaches recipient. A nil recipient
// means the sender has no session.
func (d *Dispatcher) Decide(sender, recipient *registry.User, msg Message) Decision {
	if recipient == nil {
		return Decision{Outcome: NoSession}
	}
	if !sender.Active || !recipient.Active {
		return Decision{Outcome: Restricted, SenderNotice: NoticeRestricted}
	}
	if err := msg.Validate(); err != nil {
		return Decision{Outcome: Rejected, Err: err}
	}

	annotation := ""
	if msg.Kind.Annotatable() && support.Annotated(sender.CumulativeSupport) {
		annotation = Annotation
	}

	switch msg.Kind {
	case KindText:
		res := d.filter.Check(msg.Text)
		dec := Decision{
			Outcome: Delivered,
			Recipient: &Delivery{
				Kind:       KindText,
				Text:       res.Text,
				Annotation: annotation,
			},
		}
		if !res.Clean {
			dec.SenderNotice = NoticeFiltered
			dec.FilteredTerms = res.Terms
		}
		return dec

	case KindPhoto, KindVideo, KindDocument, KindAudio, KindVoice, KindSticker:
		if recipient.SafeMode {
			return Decision{
				Outcome: BlockedBySafeMode,
				Recipient: &Delivery{
					Kind:        msg.Kind,
					Text:        msg.Kind.placeholder(),
					Placeholder: true,
				},
				SenderNotice: msg.Kind.blockedNotice(),
			}
		}
		return Decision{
			Outcome: Delivered,
			Recipient: &Delivery{
				Kind:       msg.Kind,
				MediaRef:   msg.MediaRef,
				Caption:    msg.Caption,
				Annotation: annotation,
			},
		}
	}

	return Decision{Outcome: Rejected, Err: msg.Validate()}
}
