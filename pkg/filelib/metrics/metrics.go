// Package metrics exports Prometheus metrics for storage operations, renders
// and version changes.
package metrics

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/simple-filelib/pkg/filelib"
	"github.com/tendant/simple-filelib/pkg/filelib/plugin"
	"github.com/tendant/simple-filelib/pkg/filelib/storage"
)

// Metrics is both a plugin counting lifecycle events and a storage.Observer.
type Metrics struct {
	plugin.Base

	StorageOperations  *prometheus.CounterVec
	StorageDuration    *prometheus.HistogramVec
	Renders            *prometheus.CounterVec
	VersionsProvided   *prometheus.CounterVec
	VersionsUnprovided *prometheus.CounterVec
}

// New creates the collectors under namespace. Call Register before use.
func New(namespace string) *Metrics {
	return &Metrics{
		StorageOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "operations_total",
				Help:      "Storage operations by backend, operation and outcome",
			},
			[]string{"backend", "op", "status"},
		),
		StorageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "operation_duration_seconds",
				Help:      "Storage operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend", "op"},
		),
		Renders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "renderer",
				Name:      "renders_total",
				Help:      "Renders by version and response status",
			},
			[]string{"version", "status"},
		),
		VersionsProvided: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "versions",
				Name:      "provided_total",
				Help:      "Versions materialized",
			},
			[]string{"version"},
		),
		VersionsUnprovided: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "versions",
				Name:      "unprovided_total",
				Help:      "Versions removed",
			},
			[]string{"version"},
		),
	}
}

// Register registers every collector with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.StorageOperations,
		m.StorageDuration,
		m.Renders,
		m.VersionsProvided,
		m.VersionsUnprovided,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveStorage implements storage.Observer
func (m *Metrics) ObserveStorage(backend, op string, err error, elapsed time.Duration) {
	status := "ok"
	switch {
	case errors.Is(err, filelib.ErrNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	m.StorageOperations.WithLabelValues(backend, op, status).Inc()
	m.StorageDuration.WithLabelValues(backend, op).Observe(elapsed.Seconds())
}

// Subscriptions implements filelib.Subscriber
func (m *Metrics) Subscriptions() []filelib.Subscription {
	return []filelib.Subscription{
		{Topic: filelib.TopicRendererRender, Handler: m.onRender},
		{Topic: filelib.TopicVersionsProvided, Handler: m.onVersions(m.VersionsProvided)},
		{Topic: filelib.TopicVersionsUnprovided, Handler: m.onVersions(m.VersionsUnprovided)},
	}
}

func (m *Metrics) onRender(ctx context.Context, event filelib.Event) error {
	e, ok := event.(*filelib.RenderEvent)
	if !ok {
		return nil
	}
	// Only declared bases become label values.
	version := "invalid"
	if v, err := filelib.ParseVersion(e.Version); err == nil && !errors.Is(e.Err, filelib.ErrInvalidVersion) {
		version = v.Base()
	}
	m.Renders.WithLabelValues(version, strconv.Itoa(e.StatusCode)).Inc()
	return nil
}

func (m *Metrics) onVersions(counter *prometheus.CounterVec) filelib.Handler {
	return func(ctx context.Context, event filelib.Event) error {
		e, ok := event.(*filelib.VersionProviderEvent)
		if !ok {
			return nil
		}
		for _, v := range e.Versions {
			counter.WithLabelValues(v.Base()).Inc()
		}
		return nil
	}
}

var _ storage.Observer = (*Metrics)(nil)
