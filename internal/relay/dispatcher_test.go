package relay

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strangertalk/relay/internal/registry"
)

func newUsers() (*registry.User, *registry.User) {
	sender := &registry.User{ID: "s", Active: true, SafeMode: true}
	recipient := &registry.User{ID: "r", Active: true, SafeMode: true}
	return sender, recipient
}

func TestDecide_NoSession(t *testing.T) {
	d := NewDispatcher(nil)
	sender, _ := newUsers()
	dec := d.Decide(sender, nil, Message{Kind: KindText, Text: "hi"})
	assert.Equal(t, NoSession, dec.Outcome)
	assert.Nil(t, dec.Recipient)
}

func TestDecide_TextDeliveredRegardlessOfSafeMode(t *testing.T) {
	d := NewDispatcher(nil)
	for _, safe := range []bool{true, false} {
		sender, recipient := newUsers()
		recipient.SafeMode = safe

		dec := d.Decide(sender, recipient, Message{Kind: KindText, Text: "hello"})
		require.Equal(t, Delivered, dec.Outcome)
		require.NotNil(t, dec.Recipient)
		assert.Equal(t, "hello", dec.Recipient.Text)
		assert.Empty(t, dec.SenderNotice)
		assert.Empty(t, dec.Recipient.Annotation)
	}
}

func TestDecide_TextMaskedAndSenderWarned(t *testing.T) {
	d := NewDispatcher(nil)
	sender, recipient := newUsers()

	dec := d.Decide(sender, recipient, Message{Kind: KindText, Text: "this is SPAM"})
	require.Equal(t, Delivered, dec.Outcome)
	assert.Equal(t, "this is ****", dec.Recipient.Text)
	assert.Equal(t, NoticeFiltered, dec.SenderNotice)
	assert.Equal(t, []string{"spam"}, dec.FilteredTerms)
}

func TestDecide_MediaMatrix(t *testing.T) {
	d := NewDispatcher(nil)

	for _, k := range Kinds {
		if !k.IsMedia() {
			continue
		}
		t.Run(k.String()+"/safe", func(t *testing.T) {
			sender, recipient := newUsers()
			dec := d.Decide(sender, recipient, Message{Kind: k, MediaRef: "file-1", Caption: "look"})
			require.Equal(t, BlockedBySafeMode, dec.Outcome)
			require.NotNil(t, dec.Recipient)
			assert.True(t, dec.Recipient.Placeholder)
			assert.Empty(t, dec.Recipient.MediaRef, "placeholder must not leak the media")
			assert.Contains(t, dec.Recipient.Text, "blocked by Safe Mode")
			assert.Contains(t, dec.SenderNotice, "blocked by your partner's Safe Mode")
		})
		t.Run(k.String()+"/open", func(t *testing.T) {
			sender, recipient := newUsers()
			recipient.SafeMode = false
			dec := d.Decide(sender, recipient, Message{Kind: k, MediaRef: "file-1", Caption: "look"})
			require.Equal(t, Delivered, dec.Outcome)
			assert.False(t, dec.Recipient.Placeholder)
			assert.Equal(t, "file-1", dec.Recipient.MediaRef)
			assert.Equal(t, "look", dec.Recipient.Caption)
			assert.Empty(t, dec.SenderNotice)
		})
	}
}

func TestDecide_SafeModeIsRecipients(t *testing.T) {
	d := NewDispatcher(nil)
	sender, recipient := newUsers()
	sender.SafeMode = true
	recipient.SafeMode = false

	dec := d.Decide(sender, recipient, Message{Kind: KindPhoto, MediaRef: "p"})
	assert.Equal(t, Delivered, dec.Outcome)
}

func TestDecide_SupporterAnnotation(t *testing.T) {
	d := NewDispatcher(nil)

	tests := []struct {
		name    string
		total   int64
		kind    Kind
		wantAnn bool
	}{
		{"text below threshold", 49, KindText, false},
		{"text at threshold", 50, KindText, true},
		{"sticker above threshold", 120, KindSticker, true},
		{"photo never annotated", 500, KindPhoto, false},
		{"voice never annotated", 500, KindVoice, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender, recipient := newUsers()
			recipient.SafeMode = false
			sender.CumulativeSupport = tt.total
			sender.Supporter = tt.total > 0

			msg := Message{Kind: tt.kind, Text: "hey", MediaRef: "m"}
			dec := d.Decide(sender, recipient, msg)
			require.Equal(t, Delivered, dec.Outcome)
			if tt.wantAnn {
				assert.Equal(t, Annotation, dec.Recipient.Annotation)
			} else {
				assert.Empty(t, dec.Recipient.Annotation)
			}
		})
	}
}

func TestDecide_BlockedStickerHasNoAnnotation(t *testing.T) {
	d := NewDispatcher(nil)
	sender, recipient := newUsers()
	sender.CumulativeSupport, sender.Supporter = 100, true

	dec := d.Decide(sender, recipient, Message{Kind: KindSticker, MediaRef: "st"})
	require.Equal(t, BlockedBySafeMode, dec.Outcome)
	assert.Empty(t, dec.Recipient.Annotation)
}

func TestDecide_Restricted(t *testing.T) {
	d := NewDispatcher(nil)

	sender, recipient := newUsers()
	recipient.Active = false
	dec := d.Decide(sender, recipient, Message{Kind: KindText, Text: "hi"})
	assert.Equal(t, Restricted, dec.Outcome)
	assert.Nil(t, dec.Recipient)
	assert.Equal(t, NoticeRestricted, dec.SenderNotice)

	sender, recipient = newUsers()
	sender.Active = false
	dec = d.Decide(sender, recipient, Message{Kind: KindText, Text: "hi"})
	assert.Equal(t, Restricted, dec.Outcome)
}

func TestDecide_Rejected(t *testing.T) {
	d := NewDispatcher(nil)
	sender, recipient := newUsers()

	tests := []struct {
		name string
		msg  Message
	}{
		{"empty text", Message{Kind: KindText}},
		{"oversized text", Message{Kind: KindText, Text: strings.Repeat("a", MaxMessageBytes+1)}},
		{"media without ref", Message{Kind: KindVideo}},
		{"unknown kind", Message{Kind: Kind(42), MediaRef: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := d.Decide(sender, recipient, tt.msg)
			assert.Equal(t, Rejected, dec.Outcome)
			assert.Error(t, dec.Err)
			assert.Nil(t, dec.Recipient)
		})
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("gif")
	assert.Error(t, err)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "blocked_by_safe_mode", BlockedBySafeMode.String())
	assert.Equal(t, "unknown", Outcome(99).String())
}
