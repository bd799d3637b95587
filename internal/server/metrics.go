package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job metrics exported on /metrics. Registered on the default registry,
// which main serves through promhttp.
var (
	metricJobsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zephyr_jobs_started_total",
		Help: "Optimization jobs accepted, by algorithm.",
	}, []string{"algorithm"})

	metricJobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zephyr_jobs_finished_total",
		Help: "Optimization jobs reaching a terminal state, by algorithm and status.",
	}, []string{"algorithm", "status"})

	metricJobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zephyr_jobs_running",
		Help: "Optimization jobs currently executing.",
	})

	metricEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zephyr_objective_evaluations_total",
		Help: "Objective evaluations spent by finished jobs, by algorithm.",
	}, []string{"algorithm"})

	metricJobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zephyr_job_duration_seconds",
		Help:    "Wall-clock duration of finished optimization jobs.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"algorithm"})
)
