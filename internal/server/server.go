// Package server exposes the optimization engines over HTTP: a REST
// surface and a JSON-RPC 2.0 endpoint for job control, a websocket
// progress stream per job, and Prometheus job metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/copyleftdev/ZEPHYR/internal/config"
	"github.com/copyleftdev/ZEPHYR/internal/logging"
	"github.com/copyleftdev/ZEPHYR/internal/optimization"
	"github.com/copyleftdev/ZEPHYR/internal/optimization/annealing"
	"github.com/copyleftdev/ZEPHYR/internal/optimization/dispatch"
	"github.com/copyleftdev/ZEPHYR/internal/optimization/genetic"
	"github.com/copyleftdev/ZEPHYR/internal/optimization/gradient"
	"github.com/copyleftdev/ZEPHYR/internal/optimization/swarm"
)

// Logger defines the logging interface used by the server.
// This allows us to be flexible with our logging implementation.
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// JobState tracks one optimization job from submission to terminal state.
// Mutable fields are written under the server's jobs lock; the hub's own
// lock orders Result against late stream subscribers.
type JobState struct {
	ID          string
	Algorithm   string
	Status      string
	StartTime   time.Time
	EndTime     *time.Time
	Result      *optimization.Result
	Error       string
	Problem     *optimization.Problem
	Optimizer   optimization.Optimizer
	CancelFunc  context.CancelFunc
	LastUpdated time.Time

	hub *progressHub
}

// snapshotHistory returns the recorded history of a finished job. Callers
// must have observed the hub closed first.
func (j *JobState) snapshotHistory() []optimization.IterationRecord {
	if j.Result != nil {
		return j.Result.History
	}
	return nil
}

// Server manages optimization jobs and the endpoints that start, monitor,
// stream, and cancel them.
type Server struct {
	cfg    *config.Config
	logger Logger

	jobs   map[string]*JobState
	jobsMu sync.RWMutex

	// slots bounds concurrent optimization goroutines.
	slots chan struct{}
}

// NewServer creates a server with the given config and logger.
func NewServer(cfg *config.Config, logger Logger) *Server {
	concurrency := cfg.Optimization.MaxConcurrentJobs
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Server{
		cfg:    cfg,
		logger: logger,
		jobs:   make(map[string]*JobState),
		slots:  make(chan struct{}, concurrency),
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleJobStatus)
		r.Delete("/jobs/{id}", s.handleCancelJob)
		r.Get("/jobs/{id}/stream", s.handleStream)
		r.Get("/algorithms", s.handleAlgorithms)
		r.Get("/objectives", s.handleObjectives)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// variableSpec is the wire form of one design variable.
type variableSpec struct {
	Name   string   `json:"name"`
	Kind   string   `json:"kind"`
	Min    float64  `json:"min,omitempty"`
	Max    float64  `json:"max,omitempty"`
	Values []string `json:"values,omitempty"`
}

// jobRequest is the wire form of a job submission, shared by the REST and
// JSON-RPC paths.
type jobRequest struct {
	Algorithm            string         `json:"algorithm,omitempty"`
	Objective            string         `json:"objective"`
	Variables            []variableSpec `json:"variables"`
	Seed                 int64          `json:"seed,omitempty"`
	MaxIterations        int            `json:"max_iterations,omitempty"`
	ConvergenceTolerance float64        `json:"convergence_tolerance,omitempty"`
	ConstraintPolicy     string         `json:"constraint_policy,omitempty"`
	PenaltyCoefficient   float64        `json:"penalty_coefficient,omitempty"`
}

// startJob validates a submission, builds the problem, and launches the
// optimization goroutine. It returns the accepted-job payload.
func (s *Server) startJob(req jobRequest) (map[string]interface{}, error) {
	algorithm := req.Algorithm
	if algorithm == "" {
		algorithm = s.cfg.Optimization.DefaultAlgorithm
	}
	if req.Objective == "" {
		return nil, fmt.Errorf("objective is required")
	}
	if len(req.Variables) == 0 {
		return nil, fmt.Errorf("at least one variable is required")
	}

	variables := make([]optimization.Variable, len(req.Variables))
	for i, vs := range req.Variables {
		v := optimization.Variable{Name: vs.Name, Min: vs.Min, Max: vs.Max, Values: vs.Values}
		switch vs.Kind {
		case "continuous", "":
			v.Kind = optimization.Continuous
		case "discrete":
			v.Kind = optimization.Discrete
		default:
			return nil, fmt.Errorf("variable %q has unknown kind %q", vs.Name, vs.Kind)
		}
		variables[i] = v
	}

	builder, ok := lookupObjective(req.Objective)
	if !ok {
		return nil, fmt.Errorf("unknown objective %q", req.Objective)
	}
	objectives, constraints, err := builder(variables)
	if err != nil {
		return nil, err
	}

	problem := &optimization.Problem{
		Variables:            variables,
		Objectives:           objectives,
		Constraints:          constraints,
		ConvergenceTolerance: req.ConvergenceTolerance,
		MaxIterations:        req.MaxIterations,
	}
	if err := problem.Validate(); err != nil {
		return nil, err
	}

	seed := req.Seed
	if seed == 0 {
		seed = s.cfg.Optimization.DefaultSeed
	}

	id := uuid.NewString()
	hub := newProgressHub()
	jobLogger := s.logger.WithFields(map[string]interface{}{
		"job_id":    id,
		"algorithm": algorithm,
	})

	opts := dispatch.Options{
		Seed:   seed,
		Logger: logging.NewZapLogger(jobLogger),
		Progress: func(rec optimization.IterationRecord) {
			hub.publish(rec)
		},
	}
	s.applyConstraintPolicy(&opts, algorithm, req)

	optimizer, err := dispatch.New(algorithm, opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &JobState{
		ID:          id,
		Algorithm:   algorithm,
		Status:      JobPending,
		StartTime:   time.Now(),
		Problem:     problem,
		Optimizer:   optimizer,
		CancelFunc:  cancel,
		LastUpdated: time.Now(),
		hub:         hub,
	}

	s.jobsMu.Lock()
	s.jobs[id] = job
	s.jobsMu.Unlock()

	metricJobsStarted.WithLabelValues(algorithm).Inc()
	go s.runJob(ctx, job)

	return map[string]interface{}{
		"job_id":    id,
		"algorithm": algorithm,
		"status":    JobPending,
	}, nil
}

// applyConstraintPolicy threads the submitted constraint handling into the
// chosen engine's config. Sparse configs are fine: each engine fills its
// remaining zero fields from its own defaults.
func (s *Server) applyConstraintPolicy(opts *dispatch.Options, algorithm string, req jobRequest) {
	if req.ConstraintPolicy == "" && req.PenaltyCoefficient == 0 {
		return
	}
	switch algorithm {
	case dispatch.AlgorithmGenetic:
		opts.Genetic = &genetic.Config{
			ConstraintPolicy:   req.ConstraintPolicy,
			PenaltyCoefficient: req.PenaltyCoefficient,
		}
	case dispatch.AlgorithmAnnealing:
		opts.Annealing = &annealing.Config{
			ConstraintPolicy:   req.ConstraintPolicy,
			PenaltyCoefficient: req.PenaltyCoefficient,
		}
	case dispatch.AlgorithmSwarm:
		opts.Swarm = &swarm.Config{
			ConstraintPolicy:   req.ConstraintPolicy,
			PenaltyCoefficient: req.PenaltyCoefficient,
		}
	case dispatch.AlgorithmGradient:
		opts.Gradient = &gradient.Config{
			ConstraintPolicy:   req.ConstraintPolicy,
			PenaltyCoefficient: req.PenaltyCoefficient,
		}
	}
}

// runJob waits for a concurrency slot, executes the optimizer, and records
// the terminal state.
func (s *Server) runJob(ctx context.Context, job *JobState) {
	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-ctx.Done():
		s.finishJob(job, nil, ctx.Err())
		return
	}

	if timeout := s.cfg.Optimization.JobTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	s.jobsMu.Lock()
	job.Status = JobRunning
	job.LastUpdated = time.Now()
	s.jobsMu.Unlock()
	metricJobsRunning.Inc()
	defer metricJobsRunning.Dec()

	result, err := job.Optimizer.Optimize(ctx, job.Problem)
	s.finishJob(job, result, err)
}

// finishJob moves the job to its terminal state, closes the progress
// stream, and updates the metrics.
func (s *Server) finishJob(job *JobState, result *optimization.Result, err error) {
	s.jobsMu.Lock()
	switch {
	case job.Status == JobCancelled:
		// Cancellation already recorded; keep the status.
	case err != nil:
		if err == context.Canceled {
			job.Status = JobCancelled
		} else {
			job.Status = JobFailed
			job.Error = err.Error()
		}
	default:
		job.Status = JobCompleted
		job.Result = result
	}
	now := time.Now()
	job.EndTime = &now
	job.LastUpdated = now
	status := job.Status
	s.jobsMu.Unlock()

	job.hub.close()

	metricJobsFinished.WithLabelValues(job.Algorithm, status).Inc()
	metricJobDuration.WithLabelValues(job.Algorithm).Observe(now.Sub(job.StartTime).Seconds())
	if result != nil {
		metricEvaluations.WithLabelValues(job.Algorithm).Add(float64(result.Stats.Evaluations))
	}

	if err != nil && err != context.Canceled {
		s.logger.Error("Job failed", map[string]interface{}{
			"job_id": job.ID,
			"error":  err.Error(),
		})
	} else {
		s.logger.Info("Job finished", map[string]interface{}{
			"job_id": job.ID,
			"status": status,
		})
	}
}

// cancelJob transitions a non-terminal job to cancelled.
func (s *Server) cancelJob(id string) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("job not found")
	}
	switch job.Status {
	case JobCompleted, JobFailed, JobCancelled:
		return fmt.Errorf("cannot cancel job with status: %s", job.Status)
	}

	if job.CancelFunc != nil {
		job.CancelFunc()
	}
	job.Status = JobCancelled
	now := time.Now()
	job.EndTime = &now
	job.LastUpdated = now

	s.logger.Info("Job cancelled", map[string]interface{}{"job_id": id})
	return nil
}

// jobStatus renders the externally visible view of a job.
func (s *Server) jobStatus(id string) (map[string]interface{}, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, fmt.Errorf("job not found")
	}

	response := map[string]interface{}{
		"job_id":      job.ID,
		"algorithm":   job.Algorithm,
		"status":      job.Status,
		"start_time":  job.StartTime.Format(time.RFC3339),
		"last_update": job.LastUpdated.Format(time.RFC3339),
	}
	if job.EndTime != nil {
		response["end_time"] = job.EndTime.Format(time.RFC3339)
	}
	if job.Error != "" {
		response["error"] = job.Error
	}

	if job.Result != nil {
		result := job.Result
		response["result"] = map[string]interface{}{
			"termination":     string(result.Status),
			"best_fitness":    result.Best.Fitness,
			"best_assignment": renderAssignment(job.Problem, result.BestAssignment),
			"feasible":        result.Best.Feasible,
			"iterations":      result.Stats.Iterations,
			"evaluations":     result.Stats.Evaluations,
			"duration":        result.Stats.Duration.String(),
			"diagnostics":     result.Diagnostics,
			"warnings":        result.Warnings,
			"history":         result.History,
		}
	} else if rec := job.hub.latest(); rec != nil && job.Status == JobRunning {
		// In-flight peek via the last published iteration record; reading
		// the optimizer itself would race with the run goroutine.
		response["progress"] = map[string]interface{}{
			"iteration":    rec.Iteration,
			"best_fitness": rec.BestFitness,
		}
	}
	return response, nil
}

// renderAssignment maps values back to their user-facing form: floats for
// continuous variables, labels for discrete ones.
func renderAssignment(problem *optimization.Problem, a optimization.Assignment) map[string]interface{} {
	out := make(map[string]interface{}, len(a))
	for i := range problem.Variables {
		v := &problem.Variables[i]
		val, ok := a[v.Name]
		if !ok {
			continue
		}
		if v.Kind == optimization.Discrete {
			out[v.Name] = v.Values[val.Index]
		} else {
			out[v.Name] = val.Real
		}
	}
	return out
}

// Close cancels all running jobs.
func (s *Server) Close() error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	for _, job := range s.jobs {
		if job.CancelFunc != nil {
			job.CancelFunc()
		}
	}
	return nil
}

// --- REST handlers ---

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	result, err := s.startJob(req)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	s.jobsMu.RLock()
	jobs := make([]map[string]interface{}, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, map[string]interface{}{
			"job_id":    job.ID,
			"algorithm": job.Algorithm,
			"status":    job.Status,
		})
	}
	s.jobsMu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, err := s.jobStatus(id)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.cancelJob(id); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancellation requested"})
}

func (s *Server) handleAlgorithms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"algorithms": dispatch.Algorithms()})
}

func (s *Server) handleObjectives(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"objectives": ObjectiveNames()})
}

// --- JSON-RPC 2.0 ---

// handleJSONRPC handles JSON-RPC 2.0 requests.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request struct {
		JSONRPC string            `json:"jsonrpc"`
		ID      interface{}       `json:"id"`
		Method  string            `json:"method"`
		Params  []json.RawMessage `json:"params,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, -32700, "Parse error", nil)
		return
	}
	if request.JSONRPC != "2.0" {
		s.respondWithError(w, -32600, "Invalid Request", nil)
		return
	}

	var result interface{}
	var err error
	switch request.Method {
	case "optimization.start":
		var req jobRequest
		if err = decodeRPCParam(request.Params, &req); err == nil {
			result, err = s.startJob(req)
		}
	case "optimization.status":
		var p struct {
			JobID string `json:"job_id"`
		}
		if err = decodeRPCParam(request.Params, &p); err == nil {
			result, err = s.jobStatus(p.JobID)
		}
	case "optimization.cancel":
		var p struct {
			JobID string `json:"job_id"`
		}
		if err = decodeRPCParam(request.Params, &p); err == nil {
			err = s.cancelJob(p.JobID)
		}
	case "optimization.algorithms":
		result = map[string]interface{}{"algorithms": dispatch.Algorithms()}
	default:
		s.respondWithError(w, -32601, "Method not found", request.ID)
		return
	}

	if err != nil {
		s.respondWithError(w, -32000, err.Error(), request.ID)
		return
	}

	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// decodeRPCParam unmarshals the first positional parameter into dst.
func decodeRPCParam(params []json.RawMessage, dst interface{}) error {
	if len(params) == 0 {
		return fmt.Errorf("missing required parameters")
	}
	if err := json.Unmarshal(params[0], dst); err != nil {
		return fmt.Errorf("invalid parameter format: %v", err)
	}
	return nil
}

// respondWithError sends a JSON-RPC 2.0 error response.
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Error("Request error", map[string]interface{}{
		"status":  code,
		"message": message,
	})
	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"error": message})
}
