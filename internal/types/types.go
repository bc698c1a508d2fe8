package types

import "kenbright-chat-gateway/internal/citations"

// AskRequest is the question payload accepted by both chat endpoints and
// forwarded to the upstream backend.
type AskRequest struct {
	Q string `json:"q"`
}

// AskResponse is the non-streaming answer shape. Error is set instead of
// Answer when the request failed but a JSON body was still produced.
type AskResponse struct {
	Answer    string               `json:"answer,omitempty"`
	Sources   []citations.Source   `json:"sources,omitempty"`
	Citations []citations.Citation `json:"citations,omitempty"`
	FollowUps []string             `json:"followUps,omitempty"`
	Error     string               `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// Stream event types. Exactly one meta event is expected before tokens;
// done and error are terminal.
const (
	EventMeta  = "meta"
	EventToken = "token"
	EventDone  = "done"
	EventError = "error"
)

// StreamEvent is one decoded frame of the answer stream.
type StreamEvent struct {
	Type    string             `json:"type"`
	Sources []citations.Source `json:"sources,omitempty"`
	Value   string             `json:"value,omitempty"`
	Answer  string             `json:"answer,omitempty"`
	Message string             `json:"message,omitempty"`
}
