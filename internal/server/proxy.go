package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"kenbright-chat-gateway/internal/types"
)

// altBase derives the retry host used when the primary cannot be reached at
// the network level. 127.0.0.1 and localhost sometimes resolve differently on
// dual-stack machines, so each substitutes for the other. An explicit
// override wins; a non-loopback base gets no alternate.
func altBase(base, override string) string {
	if override != "" {
		return strings.TrimRight(override, "/")
	}
	if strings.Contains(base, "127.0.0.1") {
		return strings.Replace(base, "127.0.0.1", "localhost", 1)
	}
	if strings.Contains(base, "localhost") {
		return strings.Replace(base, "localhost", "127.0.0.1", 1)
	}
	return ""
}

func ok2xx(status int) bool { return status >= 200 && status < 300 }

// handleHealth forwards to the upstream /healthz, mirroring its status code.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	base := s.cfg.BackendBase
	alt := altBase(base, s.cfg.BackendAlt)

	status, data, err := s.fetchHealth(r.Context(), base)
	if err == nil {
		s.writeJSON(w, status, map[string]any{"ok": ok2xx(status), "backend": base, "data": data})
		return
	}
	if alt != "" {
		status, data, err2 := s.fetchHealth(r.Context(), alt)
		if err2 == nil {
			s.writeJSON(w, status, map[string]any{"ok": ok2xx(status), "backend": alt, "fallbackFrom": base, "data": data})
			return
		}
		err = err2
	}
	s.writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "backend": base, "alt": alt, "error": err.Error()})
}

// fetchHealth returns the upstream status and its JSON body. A non-JSON body
// degrades to an empty object rather than failing the check.
func (s *Server) fetchHealth(ctx context.Context, base string) (int, map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/healthz", nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&data)
	return resp.StatusCode, data, nil
}

// handleAsk relays the JSON body to the upstream /ask. Upstream HTTP errors
// are passed through with their status and body text; only a network-level
// failure triggers the alternate-host retry.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}
	base := s.cfg.BackendBase
	alt := altBase(base, s.cfg.BackendAlt)

	usedBase := base
	fallbackFrom := ""
	resp, err := s.postJSON(r.Context(), base+"/ask", body)
	if err != nil {
		if alt == "" {
			s.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "backend": base, "altTried": alt})
			return
		}
		log.Printf("[proxy] %s unreachable, retrying %s: %v", base, alt, err)
		resp, err = s.postJSON(r.Context(), alt+"/ask", body)
		if err != nil {
			s.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "backend": base, "altTried": alt})
			return
		}
		usedBase = alt
		fallbackFrom = base
	}
	defer resp.Body.Close()

	if !ok2xx(resp.StatusCode) {
		text, _ := io.ReadAll(resp.Body)
		payload := map[string]any{"error": string(text), "backend": usedBase}
		if fallbackFrom != "" {
			payload["fallbackFrom"] = fallbackFrom
		}
		s.writeJSON(w, resp.StatusCode, payload)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, resp.Body)
}

// handleAskStream forwards to the upstream /ask-stream and pipes the event
// stream through byte for byte. The request context carries the browser's
// abort, so a cancelled client tears down the upstream connection too.
func (s *Server) handleAskStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	var req types.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Q) == "" {
		s.writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	body, _ := json.Marshal(types.AskRequest{Q: req.Q})

	resp, err := s.postJSON(r.Context(), s.cfg.BackendBase+"/ask-stream", body)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, fmt.Sprintf("upstream unreachable: %v", err))
		return
	}
	defer resp.Body.Close()
	if !ok2xx(resp.StatusCode) {
		s.writeError(w, resp.StatusCode, fmt.Sprintf("upstream error %d", resp.StatusCode))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF && r.Context().Err() == nil {
				log.Printf("[stream] upstream read: %v", err)
			}
			return
		}
	}
}

func (s *Server) postJSON(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.BackendAPIKey != "" {
		req.Header.Set("X-API-KEY", s.cfg.BackendAPIKey)
	}
	return s.client.Do(req)
}
