// Package protocol defines the JSON frames exchanged over the client
// WebSocket. Every frame is an object whose "type" field selects its shape.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeIdentify = "identify"
	TypeStart    = "start"
	TypeStop     = "stop"
	TypeNext     = "next"
	TypeMessage  = "message"
	TypeReport   = "report"
	TypeSafeMode = "safe_mode"
	TypeShare    = "share"
	TypeProfile  = "profile"
	TypePing     = "ping"
)

// Server -> Client message types.
const (
	TypeIdentified     = "identified"
	TypeQueued         = "queued"
	TypePartnerFound   = "partner_found"
	TypeSessionEnded   = "session_ended"
	TypePartnerLeft    = "partner_left"
	TypeNotice         = "notice"
	TypeReportAccepted = "report_accepted"
	TypeBanned         = "banned"
	TypeUnbanned       = "unbanned"
	TypeSafeModeState  = "safe_mode_state"
	TypeProfileInfo    = "profile_info"
	TypeShareRecorded  = "share_recorded"
	TypePaymentApplied = "payment_applied"
	TypeAnnouncement   = "announcement"
	TypeRateLimited    = "rate_limited"
	TypeError          = "error"
	TypePong           = "pong"
)

// Reasons carried by session_ended and partner_left.
const (
	ReasonStop            = "stop"
	ReasonBanned          = "banned"
	ReasonRestricted      = "restricted"
	ReasonDeliveryFailure = "delivery_failure"
	ReasonDisconnect      = "disconnect"
)

// Error codes carried by ErrorMsg.
const (
	CodeInvalidMessage   = "invalid_message"
	CodeNotIdentified    = "not_identified"
	CodeBanned           = "banned"
	CodeAlreadyInSession = "already_in_session"
	CodeNotInSession     = "not_in_session"
	CodeInternal         = "internal"
)

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// IdentifyMsg binds the connection to an externally assigned user ID. It must
// be the first message on a connection.
type IdentifyMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// StartMsg requests a partner.
type StartMsg struct {
	Type string `json:"type"`
}

// StopMsg ends the current session or leaves the queue.
type StopMsg struct {
	Type string `json:"type"`
}

// NextMsg ends the current session and immediately requests a new partner.
type NextMsg struct {
	Type string `json:"type"`
}

// ChatMsg is a message for the partner. Kind is one of text, photo, video,
// document, audio, voice or sticker; media kinds carry MediaRef.
type ChatMsg struct {
	Type     string `json:"type"`
	Kind     string `json:"kind"`
	Text     string `json:"text,omitempty"`
	MediaRef string `json:"media_ref,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// ReportMsg reports the current partner.
type ReportMsg struct {
	Type string `json:"type"`
}

// SafeModeMsg sets safe mode when Enabled is present and toggles it otherwise.
type SafeModeMsg struct {
	Type    string `json:"type"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// ShareMsg records that the user shared the service.
type ShareMsg struct {
	Type string `json:"type"`
}

// ProfileMsg asks for the user's supporter status.
type ProfileMsg struct {
	Type string `json:"type"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// IdentifiedMsg confirms the connection's user binding.
type IdentifiedMsg struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	New      bool   `json:"new"`
	SafeMode bool   `json:"safe_mode"`
	Tier     string `json:"tier"`
}

// QueuedMsg confirms the user is waiting for a partner.
type QueuedMsg struct {
	Type     string `json:"type"`
	Priority bool   `json:"priority"`
}

// PartnerFoundMsg announces a new session. PartnerSupporter and
// YouSupporter drive the supporter greeting variants.
type PartnerFoundMsg struct {
	Type             string `json:"type"`
	SessionID        string `json:"session_id"`
	PartnerSupporter bool   `json:"partner_supporter"`
	YouSupporter     bool   `json:"you_supporter"`
}

// SessionEndedMsg tells the user its own session ended.
type SessionEndedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason"`
}

// PartnerLeftMsg tells the user its partner is gone.
type PartnerLeftMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason"`
}

// ServerChatMsg is a message relayed from the partner. Placeholder is set when
// safe mode withheld the media and Text carries the placeholder notice.
type ServerChatMsg struct {
	Type        string `json:"type"`
	Kind        string `json:"kind"`
	Text        string `json:"text,omitempty"`
	MediaRef    string `json:"media_ref,omitempty"`
	Caption     string `json:"caption,omitempty"`
	Annotation  string `json:"annotation,omitempty"`
	Placeholder bool   `json:"placeholder,omitempty"`
	Ts          int64  `json:"ts"`
}

// NoticeMsg is an informational message for the user.
type NoticeMsg struct {
	Type string `json:"type"`
	Code string `json:"code"`
	Text string `json:"text"`
}

// ReportAcceptedMsg acknowledges a report.
type ReportAcceptedMsg struct {
	Type string `json:"type"`
}

// BannedMsg is sent when the user has been deactivated.
type BannedMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// UnbannedMsg is sent when an admin reactivates the user.
type UnbannedMsg struct {
	Type string `json:"type"`
}

// SafeModeStateMsg reports the user's current safe mode setting.
type SafeModeStateMsg struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

// ProfileInfoMsg reports supporter status.
type ProfileInfoMsg struct {
	Type              string   `json:"type"`
	Supporter         bool     `json:"supporter"`
	Tier              string   `json:"tier"`
	CumulativeSupport int64    `json:"cumulative_support"`
	LastSupportAt     int64    `json:"last_support_at,omitempty"`
	Shares            int      `json:"shares"`
	SafeMode          bool     `json:"safe_mode"`
	Benefits          []string `json:"benefits"`
}

// ShareRecordedMsg acknowledges a share.
type ShareRecordedMsg struct {
	Type   string `json:"type"`
	Shares int    `json:"shares"`
}

// PaymentAppliedMsg acknowledges a credited payment.
type PaymentAppliedMsg struct {
	Type              string   `json:"type"`
	Amount            int64    `json:"amount"`
	CumulativeSupport int64    `json:"cumulative_support"`
	Tier              string   `json:"tier"`
	Benefits          []string `json:"benefits"`
}

// AnnouncementMsg carries an admin broadcast or notification.
type AnnouncementMsg struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// RateLimitedMsg is sent by the server when the client has been rate-limited.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	Action     string `json:"action"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ErrUnknownType is returned by ParseClientMessage for a type the server does
// not accept from clients, including server-only types.
var ErrUnknownType = errors.New("protocol: unknown client message type")

func decodeAs[T any](raw []byte) (any, error) {
	var m T
	err := json.Unmarshal(raw, &m)
	return m, err
}

var clientDecoders = map[string]func([]byte) (any, error){
	TypeIdentify: decodeAs[IdentifyMsg],
	TypeStart:    decodeAs[StartMsg],
	TypeStop:     decodeAs[StopMsg],
	TypeNext:     decodeAs[NextMsg],
	TypeMessage:  decodeAs[ChatMsg],
	TypeReport:   decodeAs[ReportMsg],
	TypeSafeMode: decodeAs[SafeModeMsg],
	TypeShare:    decodeAs[ShareMsg],
	TypeProfile:  decodeAs[ProfileMsg],
	TypePing:     decodeAs[PingMsg],
}

// ParseClientMessage reads the type discriminator of a client frame and
// decodes the frame into that type's struct, returned by value.
func ParseClientMessage(data []byte) (string, any, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", nil, fmt.Errorf("protocol: parse: %w", err)
	}
	if head.Type == "" {
		return "", nil, errors.New(`protocol: missing "type"`)
	}

	decode, ok := clientDecoders[head.Type]
	if !ok {
		return head.Type, nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
	msg, err := decode(data)
	if err != nil {
		return head.Type, nil, fmt.Errorf("protocol: decode %q: %w", head.Type, err)
	}
	return head.Type, msg, nil
}

// NewServerMessage encodes payload as a JSON object whose "type" is msgType,
// whatever the payload's own Type field holds.
func NewServerMessage(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %q: %w", msgType, err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("protocol: %q payload is not an object: %w", msgType, err)
	}
	fields["type"], _ = json.Marshal(msgType)
	return json.Marshal(fields)
}

// MustServerMessage is NewServerMessage for payloads that always marshal
// (the structs in this package). It panics on failure.
func MustServerMessage(msgType string, payload any) []byte {
	out, err := NewServerMessage(msgType, payload)
	if err != nil {
		panic(err)
	}
	return out
}

// ErrorMessage builds an ErrorMsg frame.
func ErrorMessage(code, message string) []byte {
	return MustServerMessage(TypeError, ErrorMsg{Code: code, Message: message})
}
