package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// handlePDF serves a document from the allow-listed roots. The requested path
// is resolved against the document root and anything escaping the allowed
// directories is rejected before touching the filesystem.
func (s *Server) handlePDF(w http.ResponseWriter, r *http.Request) {
	src := r.URL.Query().Get("src")
	if src == "" {
		// Citation links synthesized from file names use ?file=.
		src = r.URL.Query().Get("file")
	}
	if src == "" {
		http.Error(w, "missing src", http.StatusBadRequest)
		return
	}

	norm := strings.TrimLeft(strings.ReplaceAll(src, "\\", "/"), "/")
	root, err := filepath.Abs(s.cfg.DocumentRoot)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	candidate := filepath.Join(root, filepath.FromSlash(norm))

	allowed := false
	for _, dir := range s.cfg.AllowedDirs {
		if isSubpath(filepath.Join(root, filepath.FromSlash(dir)), candidate) {
			allowed = true
			break
		}
	}
	if !allowed {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	data, err := os.ReadFile(candidate)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// isSubpath reports whether child is strictly inside parent.
func isSubpath(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != "" && rel != "." && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}
