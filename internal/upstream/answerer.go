package upstream

import (
	"context"

	"kenbright-chat-gateway/internal/citations"
	"kenbright-chat-gateway/internal/types"
)

// Answer is a complete response from the answer generator.
type Answer struct {
	Answer    string
	Sources   []citations.Source
	FollowUps []string
}

// Emit delivers one stream event to the transport. Returning an error stops
// the stream.
type Emit func(evt types.StreamEvent) error

// Answerer produces answers for questions. AskStream emits events in order
// and finishes with a done event carrying the authoritative full answer.
type Answerer interface {
	Ask(ctx context.Context, question string) (*Answer, error)
	AskStream(ctx context.Context, question string, emit Emit) error
}
