// Package metrics exposes validation counters and stage latencies to
// Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dharsanguruparan/FileGate/internal/intake"
)

var (
	validationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filegate_validations_total",
		Help: "Finished validations by use-case and outcome",
	}, []string{"use_case", "outcome", "kind"}) // outcome=accepted|rejected

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "filegate_stage_duration_seconds",
		Help:    "Time spent in each validation stage",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 15, 60},
	}, []string{"use_case", "stage"})

	stageRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filegate_stage_rejections_total",
		Help: "Rejections by the stage that issued them",
	}, []string{"use_case", "stage", "code"})

	malwareScans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filegate_malware_scans_total",
		Help: "External malware scan attempts by result",
	}, []string{"result"}) // result=clean|infected|error|skipped

	importsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filegate_imports_total",
		Help: "Master-data import jobs by result",
	}, []string{"result"}) // result=imported|failed
)

// Collector feeds pipeline and scanner events into the package collectors.
// The zero value is ready to use.
type Collector struct{}

// New returns a Collector.
func New() *Collector { return &Collector{} }

func (*Collector) ObserveStage(useCase, stage string, out intake.Outcome, elapsed time.Duration) {
	stageDuration.WithLabelValues(useCase, stage).Observe(elapsed.Seconds())
	if rej, ok := out.Rejection(); ok {
		stageRejections.WithLabelValues(useCase, stage, rej.Code).Inc()
	}
}

func (*Collector) ObserveOutcome(useCase string, out intake.Outcome) {
	if rej, ok := out.Rejection(); ok {
		validationsTotal.WithLabelValues(useCase, "rejected", rej.Kind.Code()).Inc()
		return
	}
	validationsTotal.WithLabelValues(useCase, "accepted", "").Inc()
}

func (*Collector) ObserveScan(result string) {
	malwareScans.WithLabelValues(result).Inc()
}

// ObserveImport counts a finished import job.
func (*Collector) ObserveImport(ok bool) {
	if ok {
		importsTotal.WithLabelValues("imported").Inc()
		return
	}
	importsTotal.WithLabelValues("failed").Inc()
}
