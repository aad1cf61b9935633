package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidegate/cascade/internal/fallback"
	"github.com/tidegate/cascade/internal/health"
	"github.com/tidegate/cascade/internal/history"
	"github.com/tidegate/cascade/internal/provider"
	"github.com/tidegate/cascade/internal/registry"
	"github.com/tidegate/cascade/internal/selection"
)

// okClient always returns a substantial response that clears the quality bar.
type okClient struct{}

func (okClient) Generate(_ context.Context, _ registry.Provider, _ provider.Request) (*provider.Result, error) {
	content := "The requested answer follows in full. Each point is covered in " +
		"order with enough detail to stand on its own. A short summary closes " +
		"the response. Nothing was omitted from the requested scope here."
	return &provider.Result{Content: content, TokensIn: 10, TokensOut: 40, CostUSD: 0.002}, nil
}

func newTestServer(t *testing.T, store *history.Store, srvOpts ...Option) *Server {
	t.Helper()

	reg, err := registry.New([]registry.Tier{
		{
			Rank:             1,
			Name:             "premium",
			Providers:        []registry.Provider{{ID: "alpha", Name: "Alpha", Model: "alpha-1"}},
			QualityThreshold: 0.6,
			MaxRetries:       1,
			AttemptTimeout:   time.Second,
		},
	})
	require.NoError(t, err)

	tracker := health.NewTracker()
	engine := selection.NewEngine(tracker, selection.NewInferencer(), selection.NewFeedbackStore())

	var opts []fallback.Option
	if store != nil {
		opts = append(opts, fallback.WithArchiver(store))
	}
	orch, err := fallback.New(reg, tracker, engine, okClient{}, opts...)
	require.NoError(t, err)

	return New(orch, tracker, reg, store, "127.0.0.1:0", srvOpts...)
}

func openTestHistory(t *testing.T) *history.Store {
	t.Helper()
	st, err := history.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, nil)
	w := doJSON(t, s.Router(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
}

func TestExecute_ReturnsRecord(t *testing.T) {
	s := newTestServer(t, nil)
	w := doJSON(t, s.Router(), http.MethodPost, "/v1/execute",
		`{"messages":[{"role":"user","content":"write a short note about the weather today"}]}`)
	require.Equal(t, http.StatusOK, w.Code)

	var rec fallback.ExecutionRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.True(t, rec.Success)
	assert.Equal(t, "alpha", rec.WinningProvider)
	assert.Equal(t, 1, rec.FallbackLevel)
	assert.NotEmpty(t, rec.ID)
}

func TestExecute_RejectsEmptyMessages(t *testing.T) {
	s := newTestServer(t, nil)
	w := doJSON(t, s.Router(), http.MethodPost, "/v1/execute", `{"messages":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecute_RejectsMalformedJSON(t *testing.T) {
	s := newTestServer(t, nil)
	w := doJSON(t, s.Router(), http.MethodPost, "/v1/execute", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSelect_ReturnsDecision(t *testing.T) {
	s := newTestServer(t, nil)
	w := doJSON(t, s.Router(), http.MethodPost, "/v1/select",
		`{"messages":[{"role":"user","content":"refactor this function to remove the duplication"}]}`)
	require.Equal(t, http.StatusOK, w.Code)

	var res selection.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "alpha", res.Chosen.ID)
	assert.NotEmpty(t, res.Reasoning)
}

func TestSelect_UsesConfiguredDefaultStrategy(t *testing.T) {
	s := newTestServer(t, nil, WithDefaultStrategy(selection.StrategyCostOptimized))
	w := doJSON(t, s.Router(), http.MethodPost, "/v1/select",
		`{"messages":[{"role":"user","content":"summarize the meeting notes"}]}`)
	require.Equal(t, http.StatusOK, w.Code)

	var res selection.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, selection.StrategyCostOptimized, res.Strategy)
}

func TestSelect_ExplicitStrategyOverridesDefault(t *testing.T) {
	s := newTestServer(t, nil, WithDefaultStrategy(selection.StrategyCostOptimized))
	w := doJSON(t, s.Router(), http.MethodPost, "/v1/select",
		`{"messages":[{"role":"user","content":"summarize the meeting notes"}],"strategy":"quality-focused"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var res selection.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, selection.StrategyQualityFocused, res.Strategy)
}

func TestSelect_UnknownStrategy(t *testing.T) {
	s := newTestServer(t, nil)
	w := doJSON(t, s.Router(), http.MethodPost, "/v1/select",
		`{"messages":[{"role":"user","content":"hello"}],"strategy":"mystery"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFeedback_Validation(t *testing.T) {
	s := newTestServer(t, nil)

	w := doJSON(t, s.Router(), http.MethodPost, "/v1/feedback", `{"rating":0.5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s.Router(), http.MethodPost, "/v1/feedback", `{"execution_id":"x","rating":1.5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s.Router(), http.MethodPost, "/v1/feedback", `{"execution_id":"missing","rating":0.5}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFeedback_RoundTrip(t *testing.T) {
	store := openTestHistory(t)
	s := newTestServer(t, store)

	w := doJSON(t, s.Router(), http.MethodPost, "/v1/execute",
		`{"messages":[{"role":"user","content":"write a short note about the weather today"}]}`)
	require.Equal(t, http.StatusOK, w.Code)

	var rec fallback.ExecutionRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))

	w = doJSON(t, s.Router(), http.MethodPost, "/v1/feedback",
		`{"execution_id":"`+rec.ID+`","rating":0.9}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestExecutions_HistoryEndpoints(t *testing.T) {
	store := openTestHistory(t)
	s := newTestServer(t, store)

	w := doJSON(t, s.Router(), http.MethodPost, "/v1/execute",
		`{"messages":[{"role":"user","content":"write a short note about the weather today"}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	var rec fallback.ExecutionRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))

	w = doJSON(t, s.Router(), http.MethodGet, "/v1/executions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), rec.ID)

	w = doJSON(t, s.Router(), http.MethodGet, "/v1/executions/"+rec.ID, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s.Router(), http.MethodGet, "/v1/executions/not-there", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExecutions_WithoutHistoryStore(t *testing.T) {
	s := newTestServer(t, nil)
	w := doJSON(t, s.Router(), http.MethodGet, "/v1/executions", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProvidersAndHealth(t *testing.T) {
	s := newTestServer(t, nil)

	w := doJSON(t, s.Router(), http.MethodGet, "/v1/providers", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"alpha"`)
	// Key references never appear in the catalog response.
	assert.NotContains(t, w.Body.String(), "key_ref")

	w = doJSON(t, s.Router(), http.MethodGet, "/v1/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAnalytics(t *testing.T) {
	store := openTestHistory(t)
	s := newTestServer(t, store)

	w := doJSON(t, s.Router(), http.MethodPost, "/v1/execute",
		`{"messages":[{"role":"user","content":"write a short note about the weather today"}]}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s.Router(), http.MethodGet, "/v1/analytics", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp, "stats")
	assert.Contains(t, resp, "health")
	assert.Contains(t, resp, "daily_trends")
}
