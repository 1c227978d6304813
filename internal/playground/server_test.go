package playground

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rlvr/internal/agents"
	"rlvr/internal/evaluation"
	"rlvr/internal/models"
	"rlvr/internal/monitoring"
	"rlvr/internal/training"
	"rlvr/internal/verify"
)

const testSecret = "playground-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStore struct {
	episodes []models.EpisodeRecord
	runID    string
}

func (f *fakeStore) ListEpisodes(_ context.Context, runID string, limit int) ([]models.EpisodeRecord, error) {
	f.runID = runID
	return f.episodes[:min(limit, len(f.episodes))], nil
}

func newAgent(t *testing.T) *agents.Agent {
	t.Helper()
	cfg := agents.DefaultConfig("playground")
	cfg.Verifiers = []verify.Verifier{verify.NewExactMatch(verify.Config{Weight: 1})}
	a := agents.NewAgent(cfg)
	for i := 0; i < 3; i++ {
		_, err := a.ExecuteAndLearn(context.Background(), i, func(context.Context) (any, error) { return i, nil }, i)
		require.NoError(t, err)
	}
	return a
}

func newServer(t *testing.T, opts Options) *PlaygroundServer {
	t.Helper()
	if opts.Agent == nil {
		opts.Agent = newAgent(t)
	}
	if opts.JWTSecret == "" {
		opts.JWTSecret = testSecret
	}
	return NewPlaygroundServer(opts)
}

func do(t *testing.T, s *PlaygroundServer, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	w := do(t, newServer(t, Options{}), http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestAgentMetrics(t *testing.T) {
	w := do(t, newServer(t, Options{}), http.MethodGet, "/api/agent/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var m agents.Metrics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	assert.Equal(t, 3, m.TotalAttempts)
	assert.Equal(t, 3, m.SuccessfulAttempts)
	assert.Equal(t, 1.0, m.AverageScore)
}

func TestAgentPatternsAndMemory(t *testing.T) {
	s := newServer(t, Options{})

	w := do(t, s, http.MethodGet, "/api/agent/patterns?limit=1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var patterns []agents.PatternCount
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &patterns))
	assert.Len(t, patterns, 1)

	w = do(t, s, http.MethodGet, "/api/agent/memory?n=2", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var memory []agents.Memory
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &memory))
	assert.Len(t, memory, 2)

	w = do(t, s, http.MethodGet, "/api/agent/memory?n=lots", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestImportState_RequiresToken(t *testing.T) {
	s := newServer(t, Options{})

	w := do(t, s, http.MethodPost, "/api/agent/state", agents.State{}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, s, http.MethodPost, "/api/agent/state", agents.State{}, "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	other, err := IssueToken("other-secret", "mallory", time.Minute)
	require.NoError(t, err)
	w = do(t, s, http.MethodPost, "/api/agent/state", agents.State{}, other)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestImportState_WithoutSecretIsForbidden(t *testing.T) {
	s := NewPlaygroundServer(Options{Agent: newAgent(t)})
	w := do(t, s, http.MethodPost, "/api/agent/state", agents.State{}, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestStateRoundTrip(t *testing.T) {
	source := newServer(t, Options{})
	w := do(t, source, http.MethodGet, "/api/agent/state", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var state agents.State
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	require.Len(t, state.Memory, 3)

	fresh := agents.NewAgent(agents.DefaultConfig("fresh"))
	target := newServer(t, Options{Agent: fresh})
	token, err := IssueToken(testSecret, "operator", time.Minute)
	require.NoError(t, err)

	w = do(t, target, http.MethodPost, "/api/agent/state", state, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, fresh.GetMetrics().TotalAttempts)
	assert.Equal(t, source.opts.Agent.GetTopPatterns(10), fresh.GetTopPatterns(10))
}

func TestEpisodes(t *testing.T) {
	w := do(t, newServer(t, Options{}), http.MethodGet, "/api/episodes", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	store := &fakeStore{episodes: []models.EpisodeRecord{
		{RunID: "r1", Episode: 2, AverageScore: 0.9},
		{RunID: "r1", Episode: 1, AverageScore: 0.4},
	}}
	w = do(t, newServer(t, Options{Store: store}), http.MethodGet, "/api/episodes?run_id=r1&limit=1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "r1", store.runID)

	var got []models.EpisodeRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Episode)
}

func echoTask(name string) training.Task {
	return training.Task{
		Name:     name,
		Weight:   1,
		Input:    func(rng *rand.Rand) any { return rng.Intn(100) },
		Execute:  func(_ context.Context, in any, _ *agents.Agent) (any, error) { return in, nil },
		Expected: func(in any) any { return in },
	}
}

func TestEvaluate(t *testing.T) {
	a := newAgent(t)
	tr, err := training.NewTrainer(a, []training.Task{echoTask("echo")}, training.Config{Seed: 3})
	require.NoError(t, err)
	ev := evaluation.NewEvaluator()
	ev.Register(&evaluation.Suite{ID: "echo", Name: "Echo", Tasks: []training.Task{echoTask("echo")}})
	mon := monitoring.NewMonitor()
	s := newServer(t, Options{Agent: a, Monitor: mon, Evaluator: ev, Trainer: tr})

	w := do(t, s, http.MethodGet, "/api/suites", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var suites []SuiteInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &suites))
	assert.Equal(t, []SuiteInfo{{ID: "echo", Name: "Echo", Tasks: 1}}, suites)

	token, err := IssueToken(testSecret, "operator", time.Minute)
	require.NoError(t, err)

	w = do(t, s, http.MethodPost, "/api/evaluate", EvaluationRequest{Suite: "missing"}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/api/evaluate", EvaluationRequest{Suite: "echo", Attempts: 5}, token)
	require.Equal(t, http.StatusOK, w.Code)
	var res evaluation.EvaluationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 5, res.Evaluation.Attempts)
	assert.Equal(t, 1.0, res.Evaluation.SuccessRate)

	rate, ok := mon.GetMetric("playground_echo_success_rate")
	require.True(t, ok)
	assert.Equal(t, 1.0, rate)
	// evaluation must not add to memory
	assert.Equal(t, 3, a.GetMetrics().TotalAttempts)
}

func TestWebSocket_StreamsEvents(t *testing.T) {
	mon := monitoring.NewMonitor()
	s := newServer(t, Options{Monitor: mon})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	mon.TrainingEpisode("run-1", training.Metrics{Episode: 1, AverageScore: 0.75})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev monitoring.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "run-1", ev.RunID)
	assert.Equal(t, 1, ev.Episode)

	require.NoError(t, conn.WriteJSON(wsRequest{Type: "snapshot"}))
	var snap monitoring.Event
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, "snapshot", snap.Type)
	data, ok := snap.Data.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, data, "uptime_seconds")
}
