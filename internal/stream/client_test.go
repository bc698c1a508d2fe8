package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kenbright-chat-gateway/internal/citations"
)

// sseServer serves a fixed event-stream body for every request.
func sseServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, body)
	}))
}

// recorder collects callback invocations.
type recorder struct {
	metas  [][]citations.Source
	tokens []string
	dones  []string
	errs   []string
}

func (r *recorder) events() Events {
	return Events{
		OnMeta:  func(s []citations.Source) { r.metas = append(r.metas, s) },
		OnToken: func(t string) { r.tokens = append(r.tokens, t) },
		OnDone:  func(a string) { r.dones = append(r.dones, a) },
		OnError: func(m string) { r.errs = append(r.errs, m) },
	}
}

func TestStart_TokenThenDoneSentinel(t *testing.T) {
	ts := sseServer(t, "data: {\"type\":\"token\",\"value\":\"Hi\"}\n\ndata: [DONE]\n\n")
	defer ts.Close()

	c := NewClient(ts.URL)
	var rec recorder
	require.NoError(t, c.Start(context.Background(), "hello", rec.events()))

	assert.Equal(t, []string{"Hi"}, rec.tokens)
	assert.Empty(t, rec.dones)
	assert.Empty(t, rec.errs)
	assert.False(t, c.Streaming())
	assert.Equal(t, "Hi", c.Answer())
}

func TestStart_DoneAnswerIsAuthoritative(t *testing.T) {
	ts := sseServer(t,
		"data: {\"type\":\"token\",\"value\":\"Hi\"}\n\n"+
			"data: {\"type\":\"token\",\"value\":\" there\"}\n\n"+
			"data: {\"type\":\"done\",\"answer\":\"Hi there!\"}\n\n"+
			"data: [DONE]\n\n")
	defer ts.Close()

	c := NewClient(ts.URL)
	var rec recorder
	require.NoError(t, c.Start(context.Background(), "hello", rec.events()))

	assert.Equal(t, []string{"Hi", " there"}, rec.tokens)
	assert.Equal(t, []string{"Hi there!"}, rec.dones)
	assert.Equal(t, "Hi there!", c.Answer())
}

func TestStart_MetaDeliveredBeforeTokens(t *testing.T) {
	ts := sseServer(t,
		"data: {\"type\":\"meta\",\"sources\":[{\"metadata\":{\"title\":\"Act\",\"url\":\"/a\"}}]}\n\n"+
			"data: {\"type\":\"token\",\"value\":\"Hi\"}\n\n"+
			"data: [DONE]\n\n")
	defer ts.Close()

	c := NewClient(ts.URL)
	var order []string
	err := c.Start(context.Background(), "q", Events{
		OnMeta:  func(s []citations.Source) { order = append(order, "meta") },
		OnToken: func(tok string) { order = append(order, "token") },
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"meta", "token"}, order)
}

func TestStart_MalformedFrameSkipped(t *testing.T) {
	ts := sseServer(t,
		"data: {\"type\":\"token\",\"value\":\"a\"}\n\n"+
			"data: {not json at all\n\n"+
			"data: {\"type\":\"token\",\"value\":\"b\"}\n\n"+
			"data: [DONE]\n\n")
	defer ts.Close()

	c := NewClient(ts.URL)
	var rec recorder
	require.NoError(t, c.Start(context.Background(), "q", rec.events()))
	assert.Equal(t, []string{"a", "b"}, rec.tokens)
	assert.Empty(t, rec.errs)
}

func TestStart_ErrorEventTerminates(t *testing.T) {
	ts := sseServer(t,
		"data: {\"type\":\"error\",\"message\":\"index not loaded\"}\n\n"+
			"data: {\"type\":\"token\",\"value\":\"never\"}\n\n")
	defer ts.Close()

	c := NewClient(ts.URL)
	var rec recorder
	require.NoError(t, c.Start(context.Background(), "q", rec.events()))
	assert.Equal(t, []string{"index not loaded"}, rec.errs)
	assert.Empty(t, rec.tokens)
}

func TestStart_Non2xxIsError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	var rec recorder
	err := c.Start(context.Background(), "q", rec.events())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Empty(t, rec.tokens)
	assert.Empty(t, rec.errs)
	assert.False(t, c.Streaming())
}

func TestStart_UnreachableEndpointIsError(t *testing.T) {
	c := NewClient("http://127.0.0.1:1/api/chat/stream")
	err := c.Start(context.Background(), "q", Events{})
	require.Error(t, err)
}

func TestStart_NaturalEndWithoutDone(t *testing.T) {
	ts := sseServer(t, "data: {\"type\":\"token\",\"value\":\"partial\"}\n\n")
	defer ts.Close()

	c := NewClient(ts.URL)
	var rec recorder
	require.NoError(t, c.Start(context.Background(), "q", rec.events()))
	assert.Equal(t, []string{"partial"}, rec.tokens)
	assert.False(t, c.Streaming())
}

func TestStop_AbortMakesNoCallbacks(t *testing.T) {
	release := make(chan struct{})
	var tokensSent atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"type\":\"token\",\"value\":\"x\"}\n\n")
		flusher.Flush()
		tokensSent.Add(1)
		<-release
	}))
	defer ts.Close()
	defer close(release)

	c := NewClient(ts.URL)
	var rec recorder
	done := make(chan error, 1)
	started := make(chan struct{})
	go func() {
		close(started)
		done <- c.Start(context.Background(), "q", Events{
			OnToken: func(tok string) { rec.tokens = append(rec.tokens, tok) },
			OnError: func(m string) { rec.errs = append(rec.errs, m) },
		})
	}()
	<-started

	// Wait for the first token to arrive, then abort mid-stream.
	require.Eventually(t, func() bool { return tokensSent.Load() > 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	c.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
	// The abort itself is not an error and produces no error callback.
	assert.Empty(t, rec.errs)
	assert.False(t, c.Streaming())
}

func TestStart_RestartSupersedesInFlightStream(t *testing.T) {
	var reqs atomic.Int32
	releaseA := make(chan struct{})
	releaseB := make(chan struct{})
	stopB := sync.OnceFunc(func() { close(releaseB) })
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		if reqs.Add(1) == 1 {
			fmt.Fprint(w, "data: {\"type\":\"token\",\"value\":\"a\"}\n\n")
			flusher.Flush()
			<-releaseA
			return
		}
		fmt.Fprint(w, "data: {\"type\":\"token\",\"value\":\"b\"}\n\n")
		flusher.Flush()
		<-releaseB
		fmt.Fprint(w, "data: {\"type\":\"token\",\"value\":\"late\"}\n\n")
		flusher.Flush()
	}))
	defer ts.Close()
	defer close(releaseA)
	defer stopB()

	c := NewClient(ts.URL)

	var aTokens, bTokens atomic.Int32
	aDone := make(chan error, 1)
	go func() {
		aDone <- c.Start(context.Background(), "first", Events{
			OnToken: func(string) { aTokens.Add(1) },
		})
	}()
	require.Eventually(t, func() bool { return aTokens.Load() > 0 }, time.Second, 5*time.Millisecond)

	bDone := make(chan error, 1)
	go func() {
		bDone <- c.Start(context.Background(), "second", Events{
			OnToken: func(string) { bTokens.Add(1) },
		})
	}()

	// Starting the second stream cancels the first, whose Start returns nil.
	select {
	case err := <-aDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("superseded Start did not return")
	}

	// The superseded call's cleanup must not clobber the live stream's state.
	require.Eventually(t, func() bool { return bTokens.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, c.Streaming())

	// Stop must abort the live stream: the token sent after the abort is
	// never delivered.
	c.Stop()
	stopB()
	select {
	case err := <-bDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
	assert.Equal(t, int32(1), bTokens.Load())
	assert.False(t, c.Streaming())
}

func TestStart_TimeoutIsFailure(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-release
	}))
	defer ts.Close()
	defer close(release)

	c := NewClient(ts.URL, WithTimeout(50*time.Millisecond))
	err := c.Start(context.Background(), "q", Events{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stall")
}
