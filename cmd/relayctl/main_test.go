package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strangertalk/relay/internal/events"
	"github.com/strangertalk/relay/internal/messaging"
	"github.com/strangertalk/relay/internal/support"
)

func TestBuild_AdminCommands(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		subject string
		want    events.AdminRequest
	}{
		{"ban", []string{"ban", "42"}, messaging.SubjectAdminBan, events.AdminRequest{AdminID: "1", UserID: "42"}},
		{"unban", []string{"unban", "42"}, messaging.SubjectAdminUnban, events.AdminRequest{AdminID: "1", UserID: "42"}},
		{"broadcast", []string{"broadcast", "hello", "there"}, messaging.SubjectAdminBroadcast, events.AdminRequest{AdminID: "1", Text: "hello there"}},
		{"stats", []string{"stats"}, messaging.SubjectAdminStats, events.AdminRequest{AdminID: "1"}},
		{"list", []string{"list", "users", "5"}, messaging.SubjectAdminList, events.AdminRequest{AdminID: "1", List: "users", Limit: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject, body, err := build("1", tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.subject, subject)

			var got events.AdminRequest
			require.NoError(t, json.Unmarshal(body, &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuild_Pay(t *testing.T) {
	subject, body, err := build("", []string{"pay", "7", "50", "tx-9"})
	require.NoError(t, err)
	assert.Equal(t, messaging.SubjectPaymentConfirmed, subject)

	var p support.Payment
	require.NoError(t, json.Unmarshal(body, &p))
	assert.Equal(t, support.Payment{UserID: "7", Amount: 50, TransactionID: "tx-9"}, p)

	_, body, err = build("", []string{"pay", "7", "50"})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, &p))
	assert.NotEmpty(t, p.TransactionID)
}

func TestBuild_Errors(t *testing.T) {
	for _, args := range [][]string{
		{"ban"},
		{"broadcast"},
		{"list"},
		{"list", "users", "many"},
		{"pay", "7"},
		{"pay", "7", "lots"},
		{"explode"},
	} {
		_, _, err := build("1", args)
		assert.Error(t, err, "%v", args)
	}

	_, _, err := build("", []string{"stats"})
	assert.Error(t, err, "admin commands need an admin id")
}
