package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

const defaultBaseURL = "http://localhost:8080"

// ApiClient talks to the rlvr playground API
type ApiClient struct {
	httpClient *http.Client
	BaseURL    string
	Token      string
}

// NewApiClient reads the server address from RLVR_API_URL and the bearer
// token for write routes from RLVR_TOKEN.
func NewApiClient() *ApiClient {
	baseURL := os.Getenv("RLVR_API_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &ApiClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		BaseURL:    baseURL,
		Token:      os.Getenv("RLVR_TOKEN"),
	}
}

// AgentMetrics mirrors the agent metrics payload.
type AgentMetrics struct {
	TotalAttempts      int       `json:"total_attempts"`
	SuccessfulAttempts int       `json:"successful_attempts"`
	AverageScore       float64   `json:"average_score"`
	AverageReward      float64   `json:"average_reward"`
	ImprovementRate    float64   `json:"improvement_rate"`
	RecentPerformance  []float64 `json:"recent_performance"`
	LearnedPatterns    []string  `json:"learned_patterns"`
	ExplorationRate    float64   `json:"exploration_rate"`
}

type Pattern struct {
	Pattern   string `json:"pattern"`
	Frequency int    `json:"frequency"`
}

// Episode is one stored episode record.
type Episode struct {
	RunID            string    `json:"RunID"`
	Source           string    `json:"Source"`
	Episode          int       `json:"Episode"`
	Steps            int       `json:"Steps"`
	SuccessRate      float64   `json:"SuccessRate"`
	AverageScore     float64   `json:"AverageScore"`
	AverageReward    float64   `json:"AverageReward"`
	ConvergenceScore float64   `json:"ConvergenceScore"`
	ExplorationRate  float64   `json:"ExplorationRate"`
	RecordedAt       time.Time `json:"RecordedAt"`
}

type Suite struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Tasks       int    `json:"tasks"`
}

// EvaluationResult holds the summary fields of an evaluation run.
type EvaluationResult struct {
	Agent   string         `json:"agent"`
	Suite   string         `json:"suite"`
	Metrics map[string]any `json:"metrics"`
}

// CheckHealth checks if the API is up and running
func (c *ApiClient) CheckHealth() (bool, error) {
	resp, err := c.httpClient.Get(c.BaseURL + "/health")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("API health check failed with status code: %d", resp.StatusCode)
	}
	return true, nil
}

func (c *ApiClient) GetAgentMetrics() (*AgentMetrics, error) {
	var m AgentMetrics
	if err := c.get("/api/agent/metrics", nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *ApiClient) GetPatterns(limit int) ([]Pattern, error) {
	var patterns []Pattern
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if err := c.get("/api/agent/patterns", q, &patterns); err != nil {
		return nil, err
	}
	return patterns, nil
}

// GetEpisodes lists stored episodes, newest first. An empty runID lists all runs.
func (c *ApiClient) GetEpisodes(runID string, limit int) ([]Episode, error) {
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if runID != "" {
		q.Set("run_id", runID)
	}
	var episodes []Episode
	if err := c.get("/api/episodes", q, &episodes); err != nil {
		return nil, err
	}
	return episodes, nil
}

// GetMonitorMetrics returns the server's live metric snapshot.
func (c *ApiClient) GetMonitorMetrics() (map[string]any, error) {
	var m map[string]any
	if err := c.get("/api/metrics", nil, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *ApiClient) GetSuites() ([]Suite, error) {
	var suites []Suite
	if err := c.get("/api/suites", nil, &suites); err != nil {
		return nil, err
	}
	return suites, nil
}

// Evaluate runs a suite on the server's agent. It needs a token.
func (c *ApiClient) Evaluate(suite string, attempts int) (*EvaluationResult, error) {
	body, err := json.Marshal(map[string]any{"suite": suite, "attempts": attempts})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, c.BaseURL+"/api/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	var res EvaluationResult
	if err := c.do(req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *ApiClient) get(path string, query url.Values, out any) error {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *ApiClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return json.Unmarshal(body, out)
}
