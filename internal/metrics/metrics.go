// Package metrics holds the prometheus collectors of the relay and the
// helpers components call to update them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "relay"

	// Labels
	stageLabel   = "stage"
	resultLabel  = "result"
	kindLabel    = "kind"
	backendLabel = "backend"
	countLabel   = "count"
)

var stageAttemptsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stage_attempts_total",
		Help:      "number of stage attempts by stage and result (success, retry, failure)",
	},
	[]string{stageLabel, resultLabel},
)

var pipelineOutcomesMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_outcomes_total",
		Help:      "number of finished record pipelines by kind, result and stopping stage",
	},
	[]string{kindLabel, resultLabel, stageLabel},
)

var pipelineDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "pipeline_duration_seconds",
		Help:      "wall time of record pipeline runs",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	},
	[]string{kindLabel},
)

var deliveriesMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deliveries_total",
		Help:      "number of delivery attempts by backend and result (uploaded, skipped, failed)",
	},
	[]string{backendLabel, resultLabel},
)

var batchRunsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batch_runs_total",
		Help:      "number of batch runs by result",
	},
	[]string{resultLabel},
)

var batchRecordsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batch_records_total",
		Help:      "records seen by batch runs, by count (found, new, skipped, processed, failed)",
	},
	[]string{countLabel},
)

var scheduleFiresMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "schedule_fires_total",
		Help:      "scheduled trigger fires by result (started, skipped, paused)",
	},
	[]string{resultLabel},
)

var callEventsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "call_events_total",
		Help:      "inbound call events by result (created, updated, rejected)",
	},
	[]string{resultLabel},
)

var activeRunsMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_runs",
		Help:      "number of asynchronous runs currently executing",
	},
)

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(stageAttemptsMetric)
	prometheus.MustRegister(pipelineOutcomesMetric)
	prometheus.MustRegister(pipelineDurationMetric)
	prometheus.MustRegister(deliveriesMetric)
	prometheus.MustRegister(batchRunsMetric)
	prometheus.MustRegister(batchRecordsMetric)
	prometheus.MustRegister(scheduleFiresMetric)
	prometheus.MustRegister(callEventsMetric)
	prometheus.MustRegister(activeRunsMetric)
}

func ObserveStageAttempt(stage, result string) {
	stageAttemptsMetric.WithLabelValues(stage, result).Inc()
}

// ObservePipeline records a finished pipeline. stage is empty for runs that
// completed every stage.
func ObservePipeline(kind, result, stage string, elapsed time.Duration) {
	pipelineOutcomesMetric.WithLabelValues(kind, result, stage).Inc()
	pipelineDurationMetric.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func IncreaseDeliveries(backend, result string) {
	deliveriesMetric.WithLabelValues(backend, result).Inc()
}

// ObserveBatch records a finished batch run and its record counts.
func ObserveBatch(result string, found, newRecords, skipped, processed, failed int) {
	batchRunsMetric.WithLabelValues(result).Inc()
	counts := map[string]int{
		"found":     found,
		"new":       newRecords,
		"skipped":   skipped,
		"processed": processed,
		"failed":    failed,
	}
	for label, n := range counts {
		batchRecordsMetric.WithLabelValues(label).Add(float64(n))
	}
}

func IncreaseScheduleFires(result string) {
	scheduleFiresMetric.WithLabelValues(result).Inc()
}

func IncreaseCallEvents(result string) {
	callEventsMetric.WithLabelValues(result).Inc()
}

func RunStarted()  { activeRunsMetric.Inc() }
func RunFinished() { activeRunsMetric.Dec() }
