package chat

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"kenbright-chat-gateway/internal/citations"
	"kenbright-chat-gateway/internal/stream"
	"kenbright-chat-gateway/internal/types"
)

var (
	// ErrBusy rejects a submission while another is still in flight.
	// Submissions are serialized so a stale stream can never write into a
	// newer placeholder.
	ErrBusy = errors.New("a submission is already in flight")

	// ErrEmptyQuestion rejects blank input.
	ErrEmptyQuestion = errors.New("question is empty")
)

// Streamer starts a streamed answer and blocks until a terminal outcome.
// A non-nil error means streaming was unavailable or broke mid-way.
type Streamer interface {
	Start(ctx context.Context, question string, ev stream.Events) error
	Stop()
}

// Asker performs the non-streaming fallback request.
type Asker interface {
	Ask(ctx context.Context, question string) (*types.AskResponse, error)
}

// Orchestrator coordinates one submission at a time: append the user turn and
// an assistant placeholder, stream the answer into the placeholder, and fall
// back to the non-streaming path when streaming fails. Errors never escape
// Submit as message state; they land in the placeholder's Error field.
type Orchestrator struct {
	transcript *Transcript
	streamer   Streamer
	asker      Asker

	mu       sync.Mutex
	inFlight bool
}

func New(streamer Streamer, asker Asker) *Orchestrator {
	return &Orchestrator{
		transcript: NewTranscript(0),
		streamer:   streamer,
		asker:      asker,
	}
}

// Transcript exposes the message list for rendering.
func (o *Orchestrator) Transcript() *Transcript { return o.transcript }

// Clear aborts any in-flight stream and wipes the transcript.
func (o *Orchestrator) Clear() {
	o.streamer.Stop()
	o.transcript.Clear()
}

// Submit runs one question to completion. It returns ErrBusy while a prior
// submission is in flight and ErrEmptyQuestion for blank input; any other
// failure is recorded on the assistant message instead of being returned.
func (o *Orchestrator) Submit(ctx context.Context, question string) error {
	if strings.TrimSpace(question) == "" {
		return ErrEmptyQuestion
	}
	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		return ErrBusy
	}
	o.inFlight = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.inFlight = false
		o.mu.Unlock()
	}()

	o.transcript.Append(Message{
		ID:      uuid.NewString(),
		Role:    RoleUser,
		Content: question,
		Time:    timeNow(),
	})
	// The placeholder id is the handle all callbacks write through, so no
	// positional "last assistant message" lookup is ever needed.
	placeholderID := uuid.NewString()
	o.transcript.Append(Message{
		ID:   placeholderID,
		Role: RoleAssistant,
		Time: timeNow(),
	})

	err := o.streamer.Start(ctx, question, stream.Events{
		OnMeta: func(sources []citations.Source) {
			// Last meta wins the sources slot for this answer.
			cites := citations.Normalize(citations.SourcesToCitations(sources), 0)
			o.transcript.Update(placeholderID, func(m *Message) {
				m.Sources = sources
				m.Citations = cites
			})
		},
		OnToken: func(token string) {
			o.transcript.Update(placeholderID, func(m *Message) {
				m.Content += token
			})
		},
		OnDone: func(answer string) {
			o.transcript.Update(placeholderID, func(m *Message) {
				m.Content = answer
			})
		},
		OnError: func(message string) {
			if message == "" {
				message = "Stream error"
			}
			o.transcript.Update(placeholderID, func(m *Message) {
				m.Error = message
				m.Content = ""
			})
		},
	})
	if err == nil {
		return nil
	}

	log.Printf("[chat] streaming failed, falling back: %v", err)
	o.fallback(ctx, placeholderID, question)
	return nil
}

// fallback issues the non-streaming request and finalizes the placeholder.
func (o *Orchestrator) fallback(ctx context.Context, placeholderID, question string) {
	resp, err := o.asker.Ask(ctx, question)
	if err != nil {
		o.transcript.Update(placeholderID, func(m *Message) {
			m.Content = ""
			m.Error = err.Error()
		})
		return
	}

	cites := resolveCitations(resp)
	o.transcript.Update(placeholderID, func(m *Message) {
		m.Content = resp.Answer
		m.Sources = resp.Sources
		m.Citations = cites
		m.FollowUps = resp.FollowUps
		if resp.Answer != "" {
			m.Error = ""
			return
		}
		if resp.Error != "" {
			m.Error = resp.Error
		} else {
			m.Error = "Request failed"
		}
	})
}

// resolveCitations pools the response's explicit citations with ones derived
// from its raw sources, then normalizes the union so both feed one dedup
// pass rather than being layered.
func resolveCitations(resp *types.AskResponse) []citations.Citation {
	pool := make([]citations.Citation, 0, len(resp.Citations)+len(resp.Sources))
	pool = append(pool, resp.Citations...)
	pool = append(pool, citations.SourcesToCitations(resp.Sources)...)
	return citations.Normalize(pool, 0)
}
