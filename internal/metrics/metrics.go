package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsStarted counts simulation starts by variant
	RunsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twin_runs_started_total",
		Help: "The number of simulation runs started",
	}, []string{"variant"})

	// RunsFinished counts runs that produced a terminal transition, by variant
	// and whether a result was surfaced
	RunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twin_runs_finished_total",
		Help: "The number of simulation runs that reached their terminal state",
	}, []string{"variant", "result"})

	// PollFailures counts failed realtime polls
	PollFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "twin_realtime_poll_failures_total",
		Help: "The number of realtime production record polls that failed",
	})

	// ResultFetchFailures counts failed scripted result fetches
	ResultFetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "twin_result_fetch_failures_total",
		Help: "The number of scripted result fetches that failed",
	})

	// StepProgress is the progress of the active step (0-1)
	StepProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "twin_step_progress",
		Help: "Progress of the currently active step",
	})

	// SensorReadings counts sensor stream events by outcome (accepted/discarded)
	SensorReadings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twin_sensor_readings_total",
		Help: "The number of sensor stream events received",
	}, []string{"outcome"})

	// ReviewSubmissions counts validation submissions by outcome
	ReviewSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twin_review_submissions_total",
		Help: "The number of result validation submissions",
	}, []string{"outcome"})
)
