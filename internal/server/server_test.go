package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/ZEPHYR/internal/config"
	"github.com/copyleftdev/ZEPHYR/internal/logging"
	"github.com/copyleftdev/ZEPHYR/internal/optimization"
)

func testServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Optimization.DefaultAlgorithm = "genetic"
	cfg.Optimization.MaxConcurrentJobs = 4
	cfg.Optimization.JobTimeout = time.Minute

	logger := logging.New(logging.ErrorLevel, io.Discard)
	srv := NewServer(cfg, logger)

	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	t.Cleanup(func() { srv.Close() })
	return srv, ts
}

func postJSON(t *testing.T, url string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func sphereJob(iterations int) map[string]interface{} {
	return map[string]interface{}{
		"algorithm":      "genetic",
		"objective":      "sphere",
		"seed":           42,
		"max_iterations": iterations,
		"variables": []map[string]interface{}{
			{"name": "x", "kind": "continuous", "min": -5, "max": 5},
			{"name": "y", "kind": "continuous", "min": -5, "max": 5},
		},
	}
}

// slowObjective registers a sphere variant that sleeps on every evaluation,
// so a job stays in flight long enough for cancellation and streaming tests
// to observe it running.
func slowObjective(t *testing.T, delay time.Duration) string {
	t.Helper()
	name := fmt.Sprintf("slow_sphere_%d", time.Now().UnixNano())
	RegisterObjective(name, func(vars []optimization.Variable) ([]optimization.Objective, []optimization.Constraint, error) {
		return []optimization.Objective{{
			Name: name,
			Func: func(a optimization.Assignment) (float64, error) {
				time.Sleep(delay)
				x, y := a.Float("x"), a.Float("y")
				return x*x + y*y, nil
			},
		}}, nil, nil
	})
	return name
}

func waitForStatus(t *testing.T, url, want string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		_, status := getJSON(t, url)
		if status["status"] == want {
			return status
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job never reached status %q", want)
	return nil
}

func TestCreateAndCompleteJob(t *testing.T) {
	_, ts := testServer(t)

	resp, created := postJSON(t, ts.URL+"/api/v1/jobs", sphereJob(30))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	jobID, _ := created["job_id"].(string)
	require.NotEmpty(t, jobID)

	status := waitForStatus(t, ts.URL+"/api/v1/jobs/"+jobID, JobCompleted)
	result, ok := status["result"].(map[string]interface{})
	require.True(t, ok, "completed job must carry a result")

	assert.Equal(t, "genetic", status["algorithm"])
	assert.NotNil(t, result["best_fitness"])
	assert.NotEmpty(t, result["history"])
	best, ok := result["best_assignment"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, best, "x")
	assert.Contains(t, best, "y")
}

func TestCreateJobValidation(t *testing.T) {
	_, ts := testServer(t)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing objective", map[string]interface{}{
			"variables": []map[string]interface{}{{"name": "x", "min": -1, "max": 1}},
		}},
		{"no variables", map[string]interface{}{"objective": "sphere"}},
		{"unknown objective", map[string]interface{}{
			"objective": "escher",
			"variables": []map[string]interface{}{{"name": "x", "min": -1, "max": 1}},
		}},
		{"unknown algorithm", func() map[string]interface{} {
			j := sphereJob(10)
			j["algorithm"] = "quantum"
			return j
		}()},
		{"bad variable kind", map[string]interface{}{
			"objective": "sphere",
			"variables": []map[string]interface{}{{"name": "x", "kind": "imaginary"}},
		}},
		{"rosenbrock needs two dims", map[string]interface{}{
			"objective": "rosenbrock",
			"variables": []map[string]interface{}{{"name": "x", "min": -1, "max": 1}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postJSON(t, ts.URL+"/api/v1/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestCancelJob(t *testing.T) {
	_, ts := testServer(t)

	// A job slow enough that cancellation lands before completion.
	job := sphereJob(0)
	job["algorithm"] = "annealing"
	job["objective"] = slowObjective(t, 20*time.Millisecond)
	job["max_iterations"] = 5_000_000
	_, created := postJSON(t, ts.URL+"/api/v1/jobs", job)
	jobID := created["job_id"].(string)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/jobs/"+jobID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	status := waitForStatus(t, ts.URL+"/api/v1/jobs/"+jobID, JobCancelled)
	assert.Nil(t, status["result"])

	// A terminal job cannot be cancelled again.
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListEndpoints(t *testing.T) {
	_, ts := testServer(t)

	_, algos := getJSON(t, ts.URL+"/api/v1/algorithms")
	assert.Len(t, algos["algorithms"], 4)

	_, objs := getJSON(t, ts.URL+"/api/v1/objectives")
	names := objs["objectives"].([]interface{})
	assert.Contains(t, names, "sphere")
	assert.Contains(t, names, "rastrigin")

	postJSON(t, ts.URL+"/api/v1/jobs", sphereJob(10))
	_, jobs := getJSON(t, ts.URL+"/api/v1/jobs")
	assert.NotEmpty(t, jobs["jobs"])
}

func TestJobNotFound(t *testing.T) {
	_, ts := testServer(t)
	resp, _ := getJSON(t, ts.URL+"/api/v1/jobs/no-such-job")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJSONRPCLifecycle(t *testing.T) {
	_, ts := testServer(t)

	call := func(method string, param interface{}) map[string]interface{} {
		body := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      1,
			"method":  method,
		}
		if param != nil {
			body["params"] = []interface{}{param}
		}
		_, decoded := postJSON(t, ts.URL+"/rpc", body)
		return decoded
	}

	started := call("optimization.start", sphereJob(20))
	require.Nil(t, started["error"], "start: %v", started["error"])
	result := started["result"].(map[string]interface{})
	jobID := result["job_id"].(string)
	require.NotEmpty(t, jobID)

	deadline := time.Now().Add(10 * time.Second)
	for {
		statusResp := call("optimization.status", map[string]interface{}{"job_id": jobID})
		require.Nil(t, statusResp["error"])
		if statusResp["result"].(map[string]interface{})["status"] == JobCompleted {
			break
		}
		require.True(t, time.Now().Before(deadline), "job never completed")
		time.Sleep(20 * time.Millisecond)
	}

	cancelResp := call("optimization.cancel", map[string]interface{}{"job_id": jobID})
	// Terminal jobs cannot be cancelled; the RPC surfaces that as an error.
	assert.NotNil(t, cancelResp["error"])

	algos := call("optimization.algorithms", nil)
	assert.Len(t, algos["result"].(map[string]interface{})["algorithms"], 4)

	unknown := call("optimization.levitate", nil)
	errObj := unknown["error"].(map[string]interface{})
	assert.Equal(t, float64(-32601), errObj["code"])
}

func TestJSONRPCMalformed(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Post(ts.URL+"/rpc", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	errObj := decoded["error"].(map[string]interface{})
	assert.Equal(t, float64(-32700), errObj["code"])

	_, wrongVersion := postJSON(t, ts.URL+"/rpc", map[string]interface{}{
		"jsonrpc": "1.0", "id": 1, "method": "optimization.start",
	})
	errObj = wrongVersion["error"].(map[string]interface{})
	assert.Equal(t, float64(-32600), errObj["code"])
}

func TestRegisterObjective(t *testing.T) {
	name := fmt.Sprintf("custom_%d", time.Now().UnixNano())
	RegisterObjective(name, func(vars []optimization.Variable) ([]optimization.Objective, []optimization.Constraint, error) {
		return []optimization.Objective{{
			Name: name,
			Func: func(a optimization.Assignment) (float64, error) { return a.Float("x"), nil },
		}}, nil, nil
	})
	assert.Contains(t, ObjectiveNames(), name)

	_, ts := testServer(t)
	job := sphereJob(10)
	job["objective"] = name
	job["variables"] = []map[string]interface{}{{"name": "x", "min": -1, "max": 1}}
	resp, _ := postJSON(t, ts.URL+"/api/v1/jobs", job)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestConstrainedSphereRespectsPolicy(t *testing.T) {
	_, ts := testServer(t)

	job := sphereJob(60)
	job["objective"] = "constrained_sphere"
	job["constraint_policy"] = "penalty"
	_, created := postJSON(t, ts.URL+"/api/v1/jobs", job)
	jobID := created["job_id"].(string)

	status := waitForStatus(t, ts.URL+"/api/v1/jobs/"+jobID, JobCompleted)
	result := status["result"].(map[string]interface{})
	assert.Equal(t, true, result["feasible"])
}
