// Package metrics holds the Prometheus collectors of the exam runtime.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counter for proctoring violations
	ViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_security_violations_total",
			Help: "Total number of security violations recorded by the monitor",
		},
		[]string{"type", "severity"},
	)

	// Counter for answer saves
	AnswerSavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_answer_saves_total",
			Help: "Total number of remote answer saves",
		},
		[]string{"status"}, // status: success/failure
	)

	// Counter for submissions
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_submissions_total",
			Help: "Total number of submission sequences run",
		},
		[]string{"trigger", "status"}, // trigger: manual/time_up, status: completed/failed
	)

	// Histogram for submission duration
	SubmissionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "exam_submission_duration_seconds",
			Help:    "Time spent running the submission sequence",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"trigger"},
	)

	// Gauge for connected candidates
	ActiveRuntimes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "exam_active_runtimes_current",
			Help: "Current number of connected candidate exam runtimes",
		},
	)

	// Counter for lifecycle transitions
	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_session_transitions_total",
			Help: "Total number of exam session status transitions",
		},
		[]string{"status"}, // status: in_progress/completed/expired
	)
)
