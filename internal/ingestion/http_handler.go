package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rpattn/cohortwatch/internal/source"
)

var errNoTargets = errors.New("seed file contains no targets")

// Handler runs a crawl over an uploaded seed list.
type Handler struct {
	orchestrator *Orchestrator
	baseURL      string
}

// NewHTTPHandler wraps the orchestrator with a multipart POST endpoint.
// The form carries the seed list in "file" and an optional "limit".
func NewHTTPHandler(orchestrator *Orchestrator, baseURL string) http.Handler {
	return &Handler{orchestrator: orchestrator, baseURL: baseURL}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid form data: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("file required: %v", err))
		return
	}
	defer file.Close()

	limit := 0
	if raw := strings.TrimSpace(r.FormValue("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
			return
		}
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read file: %v", err))
		return
	}

	targets, err := source.LoadTargets(header.Filename, data, h.baseURL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(targets) == 0 {
		writeError(w, http.StatusBadRequest, errNoTargets.Error())
		return
	}
	if limit > 0 && len(targets) > limit {
		targets = targets[:limit]
	}

	summary, err := h.orchestrator.RunFrom(r.Context(), "upload:"+header.Filename, targets)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, summary)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
