// Package metrics collects Prometheus counters for produce runs.
//
// A Recorder owns its registry so that separate engines never collide on
// registration. All methods are safe on a nil *Recorder.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "geeksw"

// Instance outcomes.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Recorder holds the metrics of one engine.
type Recorder struct {
	registry *prometheus.Registry

	instances      *prometheus.CounterVec
	instanceTime   *prometheus.HistogramVec
	streamUnits    *prometheus.CounterVec
	cacheHits      prometheus.Counter
	cacheWrites    *prometheus.CounterVec
	prunedProducts prometheus.Counter
	runs           *prometheus.CounterVec
}

// New creates a Recorder with a fresh registry.
func New() (*Recorder, error) {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		instances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_total",
			Help:      "Producer instances executed, by producer and outcome.",
		}, []string{"producer", "status"}),
		instanceTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "instance_duration_seconds",
			Help:      "Wall time of producer instances.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"producer"}),
		streamUnits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_units_total",
			Help:      "Stream units processed, by producer.",
		}, []string{"producer"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Products served from the cache.",
		}),
		cacheWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_writes_total",
			Help:      "Cache writes, by outcome.",
		}, []string{"status"}),
		prunedProducts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pruned_products_total",
			Help:      "Intermediate products dropped from the record store.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Produce runs, by outcome.",
		}, []string{"status"}),
	}

	var errs []error
	for _, c := range []prometheus.Collector{
		r.instances, r.instanceTime, r.streamUnits, r.cacheHits, r.cacheWrites, r.prunedProducts, r.runs,
	} {
		if err := r.registry.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return r, nil
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// InstanceDone records an executed instance.
func (r *Recorder) InstanceDone(producer string, elapsed time.Duration, err error) {
	if r == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusFailed
	}
	r.instances.WithLabelValues(producer, status).Inc()
	r.instanceTime.WithLabelValues(producer).Observe(elapsed.Seconds())
}

// StreamUnits records n processed units.
func (r *Recorder) StreamUnits(producer string, n int) {
	if r == nil {
		return
	}
	r.streamUnits.WithLabelValues(producer).Add(float64(n))
}

// CacheHits records products served from the cache.
func (r *Recorder) CacheHits(n int) {
	if r == nil {
		return
	}
	r.cacheHits.Add(float64(n))
}

// CacheWrite records a cache write attempt.
func (r *Recorder) CacheWrite(err error) {
	if r == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusFailed
	}
	r.cacheWrites.WithLabelValues(status).Inc()
}

// Pruned records products dropped from the record store.
func (r *Recorder) Pruned(n int) {
	if r == nil {
		return
	}
	r.prunedProducts.Add(float64(n))
}

// RunDone records a finished run.
func (r *Recorder) RunDone(err error) {
	if r == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusFailed
	}
	r.runs.WithLabelValues(status).Inc()
}

// WriteToTextfile writes the metrics in the Prometheus text format, for the
// node exporter textfile collector.
func (r *Recorder) WriteToTextfile(path string) error {
	if r == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
