package app

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// HTTPServer is the minimal operator surface: health plus the upload,
// archive and erase triggers. Everything else consuming the engine runs
// in-process.
type HTTPServer struct {
	service *Service
}

func NewHTTPServer(service *Service) *HTTPServer {
	return &HTTPServer{service: service}
}

func (s *HTTPServer) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/healthz" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := s.service.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	segments := pathSegments(r.URL.Path)
	if len(segments) < 2 || segments[0] != "projects" {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false})
		return
	}
	slug := segments[1]

	switch {
	case r.Method == http.MethodPost && len(segments) == 3 && segments[2] == "entries":
		var input UploadInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid payload"})
			return
		}
		writeResult(w, s.service.Upload(r.Context(), slug, input))

	case r.Method == http.MethodPost && len(segments) == 5 && segments[2] == "entries" && segments[4] == "archive":
		formRef := r.URL.Query().Get("form_ref")
		writeResult(w, s.service.Archive(r.Context(), slug, formRef, segments[3]))

	case r.Method == http.MethodPost && len(segments) == 5 && segments[2] == "branch-entries" && segments[4] == "archive":
		writeResult(w, s.service.ArchiveBranch(r.Context(), slug, segments[3]))

	case r.Method == http.MethodPost && len(segments) == 3 && segments[2] == "archive":
		writeResult(w, s.service.ArchiveProject(r.Context(), slug))

	case r.Method == http.MethodDelete && len(segments) == 2:
		writeResult(w, s.service.EraseProject(r.Context(), slug))

	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false})
	}
}

func writeResult(w http.ResponseWriter, result Result) {
	status := http.StatusOK
	if !result.OK {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, result)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func pathSegments(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
