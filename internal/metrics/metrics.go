// Package metrics counts fetch attempts, day outcomes and upserted records
// for one ingestion run.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Day results
const (
	DayStored = "stored"
	DayNoData = "no_data"
	DayEmpty  = "empty"
	DayFailed = "persist_failed"
)

// Recorder records ingestion metrics on a Prometheus registry
type Recorder struct {
	registry     *prometheus.Registry
	attempts     *prometheus.CounterVec
	days         *prometheus.CounterVec
	records      prometheus.Counter
	lastRevision prometheus.Gauge
}

// NewRecorder registers the ingestion collectors on a fresh registry
func NewRecorder() (*Recorder, error) {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drawal_fetch_attempts_total",
			Help: "Revision attempts against the schedule endpoint by outcome",
		}, []string{"outcome"}),
		days: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drawal_days_total",
			Help: "Days processed by result",
		}, []string{"result"}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "drawal_records_upserted_total",
			Help: "Schedule records written to the store",
		}),
		lastRevision: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "drawal_last_success_revision",
			Help: "Revision number of the last payload accepted",
		}),
	}
	for _, c := range []prometheus.Collector{r.attempts, r.days, r.records, r.lastRevision} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}
	return r, nil
}

// Registry exposes the underlying registry for scraping or tests
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// FetchAttempt counts one revision attempt
func (r *Recorder) FetchAttempt(outcome string) {
	r.attempts.WithLabelValues(outcome).Inc()
}

// Day counts one processed day
func (r *Recorder) Day(result string) {
	r.days.WithLabelValues(result).Inc()
}

// Stored counts upserted records and the revision they came from
func (r *Recorder) Stored(revision, records int) {
	r.records.Add(float64(records))
	r.lastRevision.Set(float64(revision))
}

// Push sends the registry to a Pushgateway under job
func (r *Recorder) Push(url, job string) error {
	if err := push.New(url, job).Gatherer(r.registry).Push(); err != nil {
		return fmt.Errorf("pushing metrics: %w", err)
	}
	return nil
}
