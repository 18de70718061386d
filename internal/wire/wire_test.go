// ABOUTME: Tests for wire envelope building and timestamp handling
// ABOUTME: Covers the malformed-timestamp fallback and validation close codes

package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/thread-relay/internal/store"
)

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2024, 3, 15, 12, 30, 45, 123456000, time.UTC)
	assert.Equal(t, "2024-03-15T12:30:45.123456Z", FormatTimestamp(ts))
}

func TestParseTimestamp_RoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 15, 12, 30, 45, 123456000, time.UTC)
	parsed := ParseTimestamp(FormatTimestamp(ts))
	assert.True(t, parsed.Equal(ts))
}

func TestParseTimestamp_FallbackOnGarbage(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"garbage", "not-a-timestamp"},
		{"partial", "2024-03-15"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := time.Now().UTC()
			parsed := ParseTimestamp(tt.input)
			after := time.Now().UTC()

			// Malformed values fall back to the current time
			assert.False(t, parsed.Before(before))
			assert.False(t, parsed.After(after))
		})
	}
}

func TestParseTimestamp_AcceptsRFC3339(t *testing.T) {
	parsed := ParseTimestamp("2024-03-15T12:30:45Z")
	assert.Equal(t, 2024, parsed.Year())
	assert.Equal(t, 45, parsed.Second())
}

func TestNewMessageEnvelope(t *testing.T) {
	msg := &store.Message{
		ID:        1001,
		ThreadID:  42,
		Content:   "hello",
		Role:      store.RoleUser,
		CreatedAt: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC),
	}

	env, err := NewMessageEnvelope(msg)
	require.NoError(t, err)
	assert.Equal(t, TypeMessage, env.Type)

	var payload MessagePayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, int64(1001), payload.ID)
	assert.Equal(t, int64(42), payload.ThreadID)
	assert.Equal(t, "hello", payload.Content)
	assert.Equal(t, store.RoleUser, payload.Role)
	assert.Equal(t, "2024-03-15T12:00:00.000000Z", payload.CreatedAt)
}

func TestNewErrorEnvelope(t *testing.T) {
	env, err := NewErrorEnvelope("failed to save message")
	require.NoError(t, err)
	assert.Equal(t, TypeError, env.Type)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, "failed to save message", payload.Message)
}

func TestMessagePayload_Message(t *testing.T) {
	payload := MessagePayload{
		ID:        7,
		ThreadID:  3,
		Content:   "hi",
		Role:      store.RoleAssistant,
		CreatedAt: "2024-03-15T12:00:00.000000Z",
	}

	msg := payload.Message()
	assert.Equal(t, int64(7), msg.ID)
	assert.Equal(t, int64(3), msg.ThreadID)
	assert.Equal(t, store.RoleAssistant, msg.Role)
	assert.Equal(t, 2024, msg.CreatedAt.Year())
}

func TestMessagePayload_MessageMalformedTimestamp(t *testing.T) {
	payload := MessagePayload{ID: 7, ThreadID: 3, Content: "hi", Role: store.RoleUser, CreatedAt: "bogus"}

	// A malformed timestamp never aborts processing
	msg := payload.Message()
	assert.False(t, msg.CreatedAt.IsZero())
}

func TestIsValidationClose(t *testing.T) {
	assert.True(t, IsValidationClose(CloseStoreUnusable))
	assert.True(t, IsValidationClose(CloseThreadNotFound))
	assert.True(t, IsValidationClose(CloseInternalError))
	assert.False(t, IsValidationClose(1000))
	assert.False(t, IsValidationClose(1006))
}
