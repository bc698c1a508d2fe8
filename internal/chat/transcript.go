package chat

import (
	"sync"
	"time"

	"kenbright-chat-gateway/internal/citations"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one visible turn in the transcript. Content accumulates
// incrementally for assistant turns while a stream is in flight. Error and
// Content are mutually exclusive: a failed turn has an error and no content.
type Message struct {
	ID        string               `json:"id"`
	Role      string               `json:"role"`
	Content   string               `json:"content"`
	Time      string               `json:"time"`
	Sources   []citations.Source   `json:"sources,omitempty"`
	Citations []citations.Citation `json:"citations,omitempty"`
	FollowUps []string             `json:"followUps,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// Transcript is a mutex-guarded message list. Readers always get copies, so
// an in-flight mutation is never visible through a previously returned slice.
type Transcript struct {
	mu          sync.RWMutex
	msgs        []Message
	maxMessages int
}

func NewTranscript(maxMessages int) *Transcript {
	return &Transcript{maxMessages: maxMessages}
}

func (t *Transcript) Append(msg Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.msgs = append(t.msgs, msg)
	t.trimLocked()
}

// Update applies fn to the message with the given id. It reports whether the
// message was found.
func (t *Transcript) Update(id string, fn func(*Message)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.msgs {
		if t.msgs[i].ID == id {
			fn(&t.msgs[i])
			return true
		}
	}
	return false
}

func (t *Transcript) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.msgs)
}

func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.msgs = nil
}

func (t *Transcript) trimLocked() {
	if t.maxMessages <= 0 {
		return
	}
	if len(t.msgs) > t.maxMessages {
		t.msgs = t.msgs[len(t.msgs)-t.maxMessages:]
	}
}

func timeNow() string {
	return time.Now().Format("15:04")
}
