// Package monitor records timings and sizes of the risk computation stages
// as prometheus metrics.
package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stages measured by the output generator.
const (
	StageBuildingContext = "building context"
	StageBuildingHazard  = "building hazard"
	StageGroupingAssets  = "grouping assets by taxonomy"
	StageComputingRisk   = "computing risk"
)

// Monitor holds the collectors of one registry. A nil *Monitor is valid and
// records nothing.
type Monitor struct {
	stageDuration *prometheus.HistogramVec
	outputs       *prometheus.CounterVec
	gmfBytes      prometheus.Gauge
}

// New registers the risk collectors on reg under the given namespace.
func New(namespace string, reg prometheus.Registerer) *Monitor {
	factory := promauto.With(reg)
	return &Monitor{
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "risk",
				Name:      "stage_duration_seconds",
				Help:      "Time spent in each stage of the risk output generation",
				Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120},
			},
			[]string{"stage"},
		),
		outputs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "risk",
				Name:      "outputs_total",
				Help:      "Number of output records produced, by taxonomy",
			},
			[]string{"taxonomy"},
		),
		gmfBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "risk",
				Name:      "gmf_bytes",
				Help:      "Bytes of ground motion data produced by the samplers",
			},
		),
	}
}

// Measure starts timing a stage; call the returned function when it ends.
//
//	defer m.Measure(monitor.StageComputingRisk)()
func (m *Monitor) Measure(stage string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

// RecordOutput counts one output record for the taxonomy.
func (m *Monitor) RecordOutput(taxonomy string) {
	if m == nil {
		return
	}
	m.outputs.WithLabelValues(taxonomy).Inc()
}

// AddGMFBytes adds to the ground motion byte gauge.
func (m *Monitor) AddGMFBytes(n int64) {
	if m == nil || n == 0 {
		return
	}
	m.gmfBytes.Add(float64(n))
}
