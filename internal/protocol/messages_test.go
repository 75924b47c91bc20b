package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a media chat message
// ---------------------------------------------------------------------------

func TestParseClientMessage_ChatMedia(t *testing.T) {
	input := []byte(`{"type":"message","kind":"photo","media_ref":"file-9","caption":"sunset"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMessage {
		t.Fatalf("expected type %q, got %q", TypeMessage, msgType)
	}

	cm, ok := msg.(ChatMsg)
	if !ok {
		t.Fatalf("expected ChatMsg, got %T", msg)
	}
	if cm.Kind != "photo" || cm.MediaRef != "file-9" || cm.Caption != "sunset" {
		t.Errorf("unexpected chat message: %+v", cm)
	}
}

// ---------------------------------------------------------------------------
// Test: safe_mode distinguishes "set" from "toggle"
// ---------------------------------------------------------------------------

func TestParseClientMessage_SafeMode(t *testing.T) {
	_, msg, err := ParseClientMessage([]byte(`{"type":"safe_mode"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.(SafeModeMsg).Enabled != nil {
		t.Error("expected nil Enabled for toggle")
	}

	_, msg, err = ParseClientMessage([]byte(`{"type":"safe_mode","enabled":false}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sm := msg.(SafeModeMsg)
	if sm.Enabled == nil || *sm.Enabled {
		t.Errorf("expected Enabled=false, got %v", sm.Enabled)
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a partner_found server message
// ---------------------------------------------------------------------------

func TestNewServerMessage_PartnerFound(t *testing.T) {
	data, err := NewServerMessage(TypePartnerFound, PartnerFoundMsg{
		SessionID:        "uuid-456",
		PartnerSupporter: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != TypePartnerFound {
		t.Errorf("expected type %q, got %v", TypePartnerFound, result["type"])
	}
	if result["session_id"] != "uuid-456" {
		t.Errorf("expected session_id %q, got %v", "uuid-456", result["session_id"])
	}
	if result["partner_supporter"] != true || result["you_supporter"] != false {
		t.Errorf("unexpected supporter flags: %v", result)
	}
}

func TestNewServerMessage_ChatOmitsEmptyFields(t *testing.T) {
	data := MustServerMessage(TypeMessage, ServerChatMsg{Kind: "text", Text: "hi", Ts: 7})

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	for _, k := range []string{"media_ref", "caption", "annotation", "placeholder"} {
		if _, ok := result[k]; ok {
			t.Errorf("expected %q to be omitted", k)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	var e ErrorMsg
	if err := json.Unmarshal(ErrorMessage(CodeBanned, "nope"), &e); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if e.Type != TypeError || e.Code != CodeBanned || e.Message != "nope" {
		t.Errorf("unexpected error message: %+v", e)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing an unknown message type returns an error
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"partner_found","session_id":"x"}`)

	msgType, msg, err := ParseClientMessage(input)
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType for server-only message type, got %v", err)
	}
	if msg != nil {
		t.Errorf("expected nil message for unknown type, got %v", msg)
	}
	if msgType != TypePartnerFound {
		t.Errorf("expected returned type %q, got %q", TypePartnerFound, msgType)
	}
}

func TestParseClientMessage_BadPayload(t *testing.T) {
	_, _, err := ParseClientMessage([]byte(`{"type":"identify","user_id":42}`))
	if err == nil {
		t.Fatal("expected decode error for numeric user_id")
	}
}

// ---------------------------------------------------------------------------
// Test: malformed frames
// ---------------------------------------------------------------------------

func TestParseClientMessage_MissingType(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{"data":"no type field"}`)); err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

func TestParseClientMessage_InvalidJSON(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{invalid json}`)); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

func TestNewServerMessage_NonObjectPayload(t *testing.T) {
	if _, err := NewServerMessage(TypeNotice, []string{"x"}); err == nil {
		t.Fatal("expected error for array payload")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing all client message types succeeds
// ---------------------------------------------------------------------------

func TestParseClientMessage_AllTypes(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantType string
	}{
		{"identify", `{"type":"identify","user_id":"u1"}`, TypeIdentify},
		{"start", `{"type":"start"}`, TypeStart},
		{"stop", `{"type":"stop"}`, TypeStop},
		{"next", `{"type":"next"}`, TypeNext},
		{"message", `{"type":"message","kind":"text","text":"hi"}`, TypeMessage},
		{"report", `{"type":"report"}`, TypeReport},
		{"safe_mode", `{"type":"safe_mode","enabled":true}`, TypeSafeMode},
		{"share", `{"type":"share"}`, TypeShare},
		{"profile", `{"type":"profile"}`, TypeProfile},
		{"ping", `{"type":"ping"}`, TypePing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != tc.wantType {
				t.Errorf("expected type %q, got %q", tc.wantType, msgType)
			}
			if msg == nil {
				t.Error("expected non-nil message")
			}
		})
	}
}
