package citations

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// SourceType classifies where a cited document came from.
type SourceType string

const (
	SourceInsuranceAct SourceType = "InsuranceAct"
	SourceIFRS17       SourceType = "IFRS17"
	SourceInternalDoc  SourceType = "InternalDoc"
	SourceWeb          SourceType = "Web"
)

// DefaultLimit is the maximum number of citations shown per answer.
const DefaultLimit = 4

// Citation is a normalized, display-ready reference to a source document.
type Citation struct {
	DocID      string     `json:"docId"`
	Title      string     `json:"title"`
	URL        string     `json:"url"`
	Page       PageRef    `json:"page,omitempty"`
	Section    string     `json:"section,omitempty"`
	Score      float64    `json:"score"`
	SourceType SourceType `json:"sourceType"`
}

// PageRef is a page locator. Backends send it as either a JSON string or a
// number, so it decodes from both.
type PageRef string

func (p *PageRef) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*p = PageRef(s)
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("page must be a string or number: %w", err)
	}
	*p = PageRef(strconv.FormatFloat(n, 'f', -1, 64))
	return nil
}

// Source is a raw retrieval record as the backend returns it. Metadata is an
// open bag of scalars with no fixed schema; every access must tolerate
// absent or wrongly-typed keys.
type Source struct {
	Snippet  string         `json:"snippet,omitempty"`
	Score    any            `json:"score,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (c Citation) hasLocator() bool {
	return c.Page != "" || c.Section != ""
}

// SourcesToCitations converts raw backend sources into citations, preserving
// input order. Records without a resolvable link are dropped rather than
// shown with a dead link. No deduplication happens here; Normalize does that.
func SourcesToCitations(sources []Source) []Citation {
	out := make([]Citation, 0, len(sources))
	for i, src := range sources {
		if c, ok := toCitation(src, i); ok {
			out = append(out, c)
		}
	}
	return out
}

func toCitation(src Source, index int) (Citation, bool) {
	md := src.Metadata

	title := stringField(md, "title", "document_title", "file_name", "source")
	if title == "" {
		title = fmt.Sprintf("Document %d", index+1)
	}

	link := stringField(md, "url", "source_url", "file_path")
	if link == "" {
		if name := stringField(md, "file_name", "source"); name != "" {
			if strings.HasSuffix(strings.ToLower(name), ".pdf") {
				link = "/pdf?file=" + url.QueryEscape(name)
			} else {
				link = "/documents/" + url.PathEscape(name)
			}
		}
	}
	if link == "" {
		return Citation{}, false
	}

	docID := stringField(md, "doc_id", "source")
	if docID == "" {
		docID = link
	}

	sourceType := SourceInternalDoc
	titleLower := strings.ToLower(title)
	switch {
	case strings.Contains(titleLower, "insurance act"):
		sourceType = SourceInsuranceAct
	case strings.Contains(titleLower, "ifrs"):
		sourceType = SourceIFRS17
	case strings.HasPrefix(link, "http"):
		sourceType = SourceWeb
	}

	return Citation{
		DocID:      docID,
		Title:      strings.TrimSpace(title),
		URL:        link,
		Page:       pageField(md, "page", "page_number"),
		Section:    stringField(md, "section", "chunk_id"),
		Score:      resolveScore(src, md, index),
		SourceType: sourceType,
	}, true
}

// Normalize filters out citations missing a title or URL, deduplicates by
// DocID (URL when absent) keeping the better of two colliding entries, sorts
// by score descending, and truncates to limit (DefaultLimit when limit <= 0).
// Normalizing its own output is a no-op.
func Normalize(raw []Citation, limit int) []Citation {
	if limit <= 0 {
		limit = DefaultLimit
	}
	seen := make(map[string]int, len(raw))
	kept := make([]Citation, 0, len(raw))
	for _, c := range raw {
		if c.Title == "" || c.URL == "" {
			continue
		}
		key := c.DocID
		if key == "" {
			key = c.URL
		}
		if at, ok := seen[key]; ok {
			if better(c, kept[at]) {
				kept[at] = c
			}
			continue
		}
		seen[key] = len(kept)
		kept = append(kept, c)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	if len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}

// better reports whether c should replace existing under the same dedup key:
// a higher score wins, and a citation carrying a page or section locator
// beats one without.
func better(c, existing Citation) bool {
	if c.Score > existing.Score {
		return true
	}
	return c.hasLocator() && !existing.hasLocator()
}

// FormatMeta returns a short display suffix for a citation, e.g. "s. 12" for
// an Insurance Act section or "p. 4" for a page reference.
func FormatMeta(c Citation) string {
	switch {
	case c.SourceType == SourceInsuranceAct && c.Section != "":
		return "s. " + c.Section
	case c.Page != "":
		return "p. " + string(c.Page)
	case c.Section != "":
		return c.Section
	}
	return ""
}

// SanitizeURL accepts root-relative paths unconditionally and absolute URLs
// with an http or https scheme. Anything else (javascript:, data:,
// unparseable input) is rejected and must not be rendered as a link.
func SanitizeURL(raw string) (string, bool) {
	if strings.HasPrefix(raw, "/") {
		return raw, true
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "http" || parsed.Scheme == "https" {
		return raw, true
	}
	return "", false
}

// stringField returns the first non-empty string value among keys. Non-string
// and whitespace-only values are skipped.
func stringField(md map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := md[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// pageField reads a page locator that may be a string or a number.
func pageField(md map[string]any, keys ...string) PageRef {
	for _, k := range keys {
		switch v := md[k].(type) {
		case string:
			if v != "" {
				return PageRef(v)
			}
		case float64:
			return PageRef(strconv.FormatFloat(v, 'f', -1, 64))
		case int:
			return PageRef(strconv.Itoa(v))
		}
	}
	return ""
}

// resolveScore picks the relevance score from the source, then metadata, then
// a rank-based decay. A present but unusable value coerces to 0.
func resolveScore(src Source, md map[string]any, index int) float64 {
	candidate := src.Score
	if candidate == nil {
		if v, ok := md["score"]; ok {
			candidate = v
		}
	}
	if candidate == nil {
		return 1 - float64(index)*0.1
	}
	return coerceFinite(candidate)
}

func coerceFinite(v any) float64 {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0
		}
		return n
	case int:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		return f
	case bool:
		if n {
			return 1
		}
		return 0
	}
	return 0
}
