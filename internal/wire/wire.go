// ABOUTME: Wire protocol types shared by the gateway and the client session manager
// ABOUTME: Defines the JSON envelope, close codes, and timestamp handling

package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389/thread-relay/internal/store"
)

// Server-initiated close codes. These signal validation failures that the
// client must not retry automatically.
const (
	CloseStoreUnusable  = 4003 // store/session unusable
	CloseThreadNotFound = 4004 // thread not found
	CloseInternalError  = 4005 // unclassified critical failure
)

// Envelope type strings for server-to-client frames
const (
	TypeMessage = "message"
	TypeError   = "error"
)

// TimestampLayout is the created_at format on the wire: UTC with
// microsecond precision and a literal Z suffix.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Envelope is the outer frame for every server-to-client message
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MessagePayload is the data carried by a "message" envelope
type MessagePayload struct {
	ID        int64  `json:"id"`
	ThreadID  int64  `json:"thread_id"`
	Content   string `json:"content"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

// ErrorPayload is the data carried by an "error" envelope. Error envelopes
// go to the offending sender only, never to the thread's other subscribers.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ClientPayload is the single inbound frame shape: raw content, role
// implicitly "user". The server assigns the ID and timestamp.
type ClientPayload struct {
	Content string `json:"content"`
}

// FormatTimestamp renders a timestamp in the wire layout
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a wire timestamp. Absent or malformed values fall
// back to the current time so a bad timestamp never aborts a session.
func ParseTimestamp(s string) time.Time {
	if s == "" {
		return time.Now().UTC()
	}
	for _, layout := range []string{TimestampLayout, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

// IsValidationClose reports whether a close code signals a validation
// failure that must not be retried.
func IsValidationClose(code int) bool {
	return code == CloseStoreUnusable || code == CloseThreadNotFound || code == CloseInternalError
}

// NewMessageEnvelope builds a "message" envelope from a committed message
func NewMessageEnvelope(msg *store.Message) (*Envelope, error) {
	payload := MessagePayload{
		ID:        msg.ID,
		ThreadID:  msg.ThreadID,
		Content:   msg.Content,
		Role:      msg.Role,
		CreatedAt: FormatTimestamp(msg.CreatedAt),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling message payload: %w", err)
	}
	return &Envelope{Type: TypeMessage, Data: data}, nil
}

// NewErrorEnvelope builds an "error" envelope with the given message
func NewErrorEnvelope(message string) (*Envelope, error) {
	data, err := json.Marshal(ErrorPayload{Message: message})
	if err != nil {
		return nil, fmt.Errorf("marshaling error payload: %w", err)
	}
	return &Envelope{Type: TypeError, Data: data}, nil
}

// Message converts a wire payload into a store message, applying the
// timestamp fallback for absent or malformed created_at values.
func (p *MessagePayload) Message() *store.Message {
	return &store.Message{
		ID:        p.ID,
		ThreadID:  p.ThreadID,
		Content:   p.Content,
		Role:      p.Role,
		CreatedAt: ParseTimestamp(p.CreatedAt),
	}
}
