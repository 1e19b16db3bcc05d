package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpattn/cohortwatch/internal/domain"
	"github.com/rpattn/cohortwatch/internal/query"
)

type handlers struct {
	query  *query.Service
	db     Pinger
	logger *zap.Logger
}

func (h *handlers) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"service": "cohortwatch", "status": "ok"})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) search(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	params := domain.SearchParams{Query: values.Get("q")}

	var err error
	if params.MinScore, err = floatParam(values.Get("min_score")); err != nil {
		h.fail(w, r, err)
		return
	}
	if params.Limit, err = intParam("limit", values.Get("limit")); err != nil {
		h.fail(w, r, err)
		return
	}
	if params.Offset, err = intParam("offset", values.Get("offset")); err != nil {
		h.fail(w, r, err)
		return
	}

	results, err := h.query.Search(r.Context(), params)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
}

func (h *handlers) detail(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	detail, err := h.query.Detail(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *handlers) leaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := h.query.Leaderboard(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (h *handlers) trends(w http.ResponseWriter, r *http.Request) {
	trends, err := h.query.Trends(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trends": trends})
}

func (h *handlers) runs(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam("limit", r.URL.Query().Get("limit"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	runs, err := h.query.Runs(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *handlers) runFailures(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	failures, err := h.query.RunFailures(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"failures": failures})
}

// fail maps an error onto a status code. Internal errors are logged and
// reported without detail.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, &domain.ValidationError{Field: name, Reason: "must be a UUID"}
	}
	return id, nil
}

func intParam(name, raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &domain.ValidationError{Field: name, Reason: "must be an integer"}
	}
	return n, nil
}

func floatParam(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &domain.ValidationError{Field: "min_score", Reason: "must be a number"}
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
