package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"kenbright-chat-gateway/internal/types"
)

// Client performs the non-streaming fallback request against the gateway's
// chat endpoint.
type Client struct {
	endpoint string
	http     *http.Client
}

func NewClient(endpoint string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{endpoint: endpoint, http: hc}
}

// Ask posts the question and decodes the response defensively: a body that
// fails to parse becomes an AskResponse carrying the HTTP status and raw text
// as its error, not a returned error. Only a network-level failure returns an
// error.
func (c *Client) Ask(ctx context.Context, question string) (*types.AskResponse, error) {
	body, err := json.Marshal(types.AskRequest{Q: question})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var out types.AskResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		text := strings.TrimSpace(string(raw))
		if text == "" {
			text = "invalid JSON body"
		}
		return &types.AskResponse{Error: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, text)}, nil
	}
	if out.Error == "" && out.Answer == "" && resp.StatusCode >= 300 {
		out.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return &out, nil
}
