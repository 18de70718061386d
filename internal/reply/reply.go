// ABOUTME: Reply generation for assistant responses in a thread
// ABOUTME: Defines the Generator interface and a canned implementation

package reply

import (
	"context"
	"math/rand"

	"github.com/2389/thread-relay/internal/store"
)

// Generator produces an assistant reply from conversation history.
// The gateway treats it as a black box that may block.
type Generator interface {
	Generate(ctx context.Context, history []*store.Message) (string, error)
}

// Canned is a Generator that returns a pseudorandom canned response.
// It stands in for a real model backend.
type Canned struct {
	responses []string
}

// NewCanned creates a Canned generator with the default response set.
func NewCanned() *Canned {
	return &Canned{
		responses: []string{
			"I understand your concern. Let me help you with that.",
			"That's an interesting question. Here's what I think...",
			"I can help you with that. Let me explain...",
			"Thank you for sharing. Here's my response...",
			"I see what you mean. Let me address that...",
			"That's a good question. Here's what you should know...",
			"I understand. Here's what I recommend...",
			"Let me help you with that information...",
			"I can provide guidance on that topic...",
			"Here's what you need to know about that...",
		},
	}
}

// Generate returns a canned response. The history is accepted but unused;
// a real backend would condition on it.
func (c *Canned) Generate(ctx context.Context, history []*store.Message) (string, error) {
	return c.responses[rand.Intn(len(c.responses))], nil
}
