package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/cohortwatch/internal/domain"
	"github.com/rpattn/cohortwatch/internal/history"
	"github.com/rpattn/cohortwatch/internal/query"
	"github.com/rpattn/cohortwatch/internal/repository/memory"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type apiFixture struct {
	db     *memory.DB
	router http.Handler
}

func newAPIFixture(t *testing.T, opts Options) *apiFixture {
	t.Helper()
	db := memory.New()
	opts.Query = query.NewService(db.Entities(), db.Ranking(), db.Scores(), db.ChangeEvents(), db.Runs())
	opts.Entities = db.Entities()
	return &apiFixture{db: db, router: NewRouter(opts)}
}

func (f *apiFixture) seed(t *testing.T, externalID, name, description string, momentum float64) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	id, err := f.db.Entities().Upsert(ctx, externalID, name, now)
	require.NoError(t, err)
	_, err = history.NewStore(f.db.Snapshots()).Append(ctx, id, domain.Observation{Description: description}, now)
	require.NoError(t, err)
	f.db.SetScore(domain.Score{EntityID: id, Momentum: momentum, Stability: 1, ComputedAt: now})
	return id
}

func (f *apiFixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
}

func TestSearchEndpoint(t *testing.T) {
	f := newAPIFixture(t, Options{})
	f.seed(t, "acme", "Acme", "payments api for fintech", 0.9)
	f.seed(t, "beta", "Beta", "developer tooling", 0.5)

	rec := f.get(t, "/api/search?q=fintech&limit=5")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Results []domain.SearchResult `json:"results"`
		Count   int                   `json:"count"`
	}
	decode(t, rec, &body)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "acme", body.Results[0].Entity.ExternalID)
}

func TestSearchEndpointRejectsBadParameters(t *testing.T) {
	f := newAPIFixture(t, Options{})

	for _, path := range []string{
		"/api/search?limit=abc",
		"/api/search?limit=-1",
		"/api/search?min_score=high",
		"/api/search?offset=-2",
	} {
		rec := f.get(t, path)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)

		var body map[string]string
		decode(t, rec, &body)
		assert.NotEmpty(t, body["error"], path)
	}
}

func TestDetailEndpoint(t *testing.T) {
	f := newAPIFixture(t, Options{})
	id := f.seed(t, "acme", "Acme", "payments", 0.9)

	rec := f.get(t, "/api/companies/"+id.String())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var detail struct {
		Entity    domain.Entity     `json:"entity"`
		Snapshots []domain.Snapshot `json:"snapshots"`
	}
	decode(t, rec, &detail)
	assert.Equal(t, id, detail.Entity.ID)
	assert.Len(t, detail.Snapshots, 1)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/companies/not-a-uuid").Code)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/companies/"+uuid.NewString()).Code)
}

func TestLeaderboardAndTrendsEndpoints(t *testing.T) {
	f := newAPIFixture(t, Options{})
	f.seed(t, "acme", "Acme", "payments", 0.9)
	f.seed(t, "beta", "Beta", "tooling", 0.2)

	rec := f.get(t, "/api/leaderboard")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var board domain.Leaderboard
	decode(t, rec, &board)
	require.Len(t, board.TopMomentum, 2)
	assert.Equal(t, "acme", board.TopMomentum[0].Entity.ExternalID)

	rec = f.get(t, "/api/trends")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"trends":[]}`, rec.Body.String())
}

func TestRunEndpoints(t *testing.T) {
	f := newAPIFixture(t, Options{})
	ctx := context.Background()
	runID := uuid.New()
	started := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.db.Runs().Start(ctx, domain.IngestionRun{ID: runID, Source: "seed.csv", StartedAt: started}))
	require.NoError(t, f.db.Runs().RecordFailure(ctx, domain.IngestionFailure{
		RunID: runID, ExternalID: "acme", Kind: domain.FailureSource, Message: "502", OccurredAt: started,
	}))

	rec := f.get(t, "/api/runs?limit=5")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var runs struct {
		Runs []domain.IngestionRun `json:"runs"`
	}
	decode(t, rec, &runs)
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, runID, runs.Runs[0].ID)

	rec = f.get(t, "/api/runs/"+runID.String()+"/failures")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var failures struct {
		Failures []domain.IngestionFailure `json:"failures"`
	}
	decode(t, rec, &failures)
	require.Len(t, failures.Failures, 1)
	assert.Equal(t, "acme", failures.Failures[0].ExternalID)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/runs?limit=x").Code)
}

func TestCrawlEndpointIsMountedOnlyWhenConfigured(t *testing.T) {
	f := newAPIFixture(t, Options{})
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/runs", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	called := false
	f = newAPIFixture(t, Options{Crawl: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusAccepted)
	})})
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/runs", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, called)
}

func TestHealthAndStatus(t *testing.T) {
	f := newAPIFixture(t, Options{DB: pinger{}})
	assert.Equal(t, http.StatusOK, f.get(t, "/").Code)
	assert.Equal(t, http.StatusOK, f.get(t, "/healthz").Code)

	f = newAPIFixture(t, Options{DB: pinger{err: errors.New("connection refused")}})
	assert.Equal(t, http.StatusServiceUnavailable, f.get(t, "/healthz").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t, Options{})
	f.get(t, "/api/trends")

	rec := f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cohortwatch_http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	f := newAPIFixture(t, Options{AllowedOrigins: []string{"http://localhost:3000"}})
	req := httptest.NewRequest(http.MethodOptions, "/api/search", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()

	f.router.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
