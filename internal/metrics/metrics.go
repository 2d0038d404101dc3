// Copyright Project Hosh Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provide Prometheus metrics for the app
type Metrics struct {
	checksPerformedCounter *prometheus.CounterVec
	jobsDispatchedCounter  *prometheus.CounterVec
	resultsIngestedCounter prometheus.Counter
	targetsInsertedCounter prometheus.Counter
	renderCacheAgeGauge    *prometheus.GaugeVec
	renderDurationSummary  *prometheus.SummaryVec
}

const (
	ChecksPerformedCounter = "hosh_checks_performed_total"
	JobsDispatchedCounter  = "hosh_jobs_dispatched_total"
	ResultsIngestedCounter = "hosh_results_ingested_total"
	TargetsInsertedCounter = "hosh_discovery_targets_inserted_total"
	RenderCacheAgeGauge    = "hosh_render_cache_age_seconds"

	renderDurationSummary = "hosh_render_duration_seconds"
)

// NewMetrics creates a new set of metrics and registers them with
// the supplied registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := Metrics{
		checksPerformedCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: ChecksPerformedCounter,
				Help: "Total number of probe checks performed",
			},
			[]string{"module", "status"},
		),
		jobsDispatchedCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: JobsDispatchedCounter,
				Help: "Total number of jobs handed out by the dispatch API",
			},
			[]string{"module"},
		),
		resultsIngestedCounter: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: ResultsIngestedCounter,
				Help: "Total number of result rows ingested",
			},
		),
		targetsInsertedCounter: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: TargetsInsertedCounter,
				Help: "Total number of targets inserted by discovery",
			},
		),
		renderCacheAgeGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: RenderCacheAgeGauge,
				Help: "Age of the rendered page cache entries",
			},
			[]string{"key"},
		),
		renderDurationSummary: prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Name:       renderDurationSummary,
				Help:       "Time spent rendering a dashboard page",
				Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
			},
			[]string{"network"},
		),
	}
	m.register(registry)
	return &m
}

func (m *Metrics) register(registry *prometheus.Registry) {
	registry.MustRegister(
		m.checksPerformedCounter,
		m.jobsDispatchedCounter,
		m.resultsIngestedCounter,
		m.targetsInsertedCounter,
		m.renderCacheAgeGauge,
		m.renderDurationSummary,
	)
}

// CheckPerformed records one finished probe.
func (m *Metrics) CheckPerformed(module, status string) {
	m.checksPerformedCounter.WithLabelValues(module, status).Inc()
}

// JobsDispatched records jobs handed out to a worker.
func (m *Metrics) JobsDispatched(module string, n int) {
	m.jobsDispatchedCounter.WithLabelValues(module).Add(float64(n))
}

// ResultIngested records one accepted result row.
func (m *Metrics) ResultIngested() {
	m.resultsIngestedCounter.Inc()
}

// TargetInserted records one target inserted by discovery.
func (m *Metrics) TargetInserted() {
	m.targetsInsertedCounter.Inc()
}

// SetRenderCacheAge reports the age of one cache entry.
func (m *Metrics) SetRenderCacheAge(key string, seconds float64) {
	m.renderCacheAgeGauge.WithLabelValues(key).Set(seconds)
}

// ObserveRenderDuration records one page render.
func (m *Metrics) ObserveRenderDuration(network string, seconds float64) {
	m.renderDurationSummary.WithLabelValues(network).Observe(seconds)
}
