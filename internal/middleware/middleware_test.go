package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rpattn/cohortwatch/internal/entityloader"
	"github.com/rpattn/cohortwatch/internal/repository/memory"
)

func TestLoggingMiddlewareRecordsStatus(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	router := chi.NewRouter()
	router.Use(LoggingMiddleware(zap.New(core)))
	router.Get("/api/companies/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/companies/abc", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, int64(http.StatusNotFound), fields["status"])
		assert.Equal(t, "/api/companies/abc", fields["path"])
	}
}

func TestDataLoaderMiddlewareAttachesLoader(t *testing.T) {
	var seen *entityloader.EntityLoader
	handler := DataLoaderMiddleware(memory.New().Entities())(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = entityloader.FromContext(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotNil(t, seen)
}
