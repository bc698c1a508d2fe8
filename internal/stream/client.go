package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"kenbright-chat-gateway/internal/citations"
	"kenbright-chat-gateway/internal/types"
)

// doneSentinel terminates the stream without further parsing.
const doneSentinel = "[DONE]"

// Events receives decoded stream callbacks. Nil handlers are skipped.
// Callbacks run on the goroutine that called Start, in wire order.
type Events struct {
	OnMeta  func(sources []citations.Source)
	OnToken func(token string)
	OnDone  func(answer string)
	OnError func(message string)
}

// Client consumes an event-stream answer endpoint and reconstructs the
// sequence of stream events. At most one stream is active per client;
// starting a new one cancels the previous.
type Client struct {
	endpoint string
	http     *http.Client
	timeout  time.Duration

	mu        sync.Mutex
	cancel    context.CancelFunc
	gen       uint64
	streaming bool
	answer    strings.Builder
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds a whole streamed answer. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		http:     &http.Client{},
		timeout:  60 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Streaming reports whether a stream is currently in flight.
func (c *Client) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming
}

// Answer returns the accumulated answer text of the current or most recent
// stream.
func (c *Client) Answer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answer.String()
}

// Stop aborts any in-flight stream. An aborted stream makes no further
// callbacks and Start returns nil; cancellation is not an error.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.streaming = false
}

// Start opens the stream for question and blocks until a terminal outcome.
// A nil return means the stream completed (done event, [DONE], natural end,
// an error event already delivered to OnError, or a local abort). A non-nil
// return means streaming never worked or broke mid-way, and the caller should
// fall back to the non-streaming path.
func (c *Client) Start(ctx context.Context, question string, ev Events) error {
	var cancel context.CancelFunc
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	gen := c.gen
	c.cancel = cancel
	c.streaming = true
	c.answer.Reset()
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		// A superseding Start owns the client state by now; only the
		// current generation may reset it.
		if gen == c.gen {
			c.streaming = false
			c.cancel = nil
		}
		c.mu.Unlock()
		cancel()
	}()

	body, err := json.Marshal(types.AskRequest{Q: question})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		if aborted(ctx) {
			return nil
		}
		return fmt.Errorf("stream request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("stream unavailable: HTTP %d", resp.StatusCode)
	}

	return c.consume(ctx, resp.Body, ev)
}

// consume reads data: frames separated by blank lines and dispatches them in
// wire order. One malformed frame is logged and skipped; it does not kill the
// connection.
func (c *Client) consume(ctx context.Context, body io.Reader, ev Events) error {
	reader := bufio.NewReader(body)
	var payload strings.Builder

	dispatchPending := func() (terminal bool) {
		if payload.Len() == 0 {
			return false
		}
		data := payload.String()
		payload.Reset()
		return c.dispatch(ctx, data, ev)
	}

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if aborted(ctx) {
				return nil
			}
			if errors.Is(err, io.EOF) {
				// Natural end of stream; flush whatever is buffered.
				dispatchPending()
				return nil
			}
			if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
				return fmt.Errorf("stream stalled: %w", err)
			}
			return fmt.Errorf("stream read: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			if dispatchPending() {
				return nil
			}
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		if payload.Len() > 0 {
			payload.WriteString("\n")
		}
		payload.WriteString(strings.TrimSpace(line[len("data:"):]))
	}
}

// dispatch decodes one frame and fires the matching callback. It returns true
// on a terminal frame ([DONE], done, error).
func (c *Client) dispatch(ctx context.Context, data string, ev Events) bool {
	if aborted(ctx) {
		return true
	}
	if data == doneSentinel {
		return true
	}

	var evt types.StreamEvent
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		log.Printf("[stream] skipping bad frame: %v", err)
		return false
	}

	switch evt.Type {
	case types.EventMeta:
		if ev.OnMeta != nil {
			ev.OnMeta(evt.Sources)
		}
	case types.EventToken:
		c.mu.Lock()
		c.answer.WriteString(evt.Value)
		c.mu.Unlock()
		if ev.OnToken != nil {
			ev.OnToken(evt.Value)
		}
	case types.EventDone:
		// The done event carries the authoritative final text, which may
		// differ from the token-accumulated answer.
		c.mu.Lock()
		c.answer.Reset()
		c.answer.WriteString(evt.Answer)
		c.mu.Unlock()
		if ev.OnDone != nil {
			ev.OnDone(evt.Answer)
		}
		return true
	case types.EventError:
		if ev.OnError != nil {
			ev.OnError(evt.Message)
		}
		return true
	default:
		log.Printf("[stream] ignoring unknown event type %q", evt.Type)
	}
	return false
}

func aborted(ctx context.Context) bool {
	return ctx.Err() == context.Canceled
}
