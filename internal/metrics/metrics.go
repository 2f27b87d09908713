// Package metrics holds the Prometheus collectors updated during a run and
// writes them as a node-exporter textfile.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "qbt_manager"

// Metrics is the set of collectors for one process. Each instance owns its
// registry.
type Metrics struct {
	registry *prometheus.Registry

	Torrents      *prometheus.GaugeVec
	Actions       *prometheus.CounterVec
	ActionErrors  *prometheus.CounterVec
	LimitUpdates  *prometheus.CounterVec
	FeedItems     *prometheus.CounterVec
	FeedErrors    *prometheus.CounterVec
	Notifications *prometheus.CounterVec
	RunDuration   *prometheus.HistogramVec
	LastRun       prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Torrents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "torrents",
			Help:      "Torrents seen in the last run by classification.",
		}, []string{"action"}),
		Actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_actions_total",
			Help:      "Torrents paused or deleted, by action and reason.",
		}, []string{"action", "reason"}),
		ActionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_errors_total",
			Help:      "Failed torrent client calls by operation.",
		}, []string{"operation"}),
		LimitUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "limit_updates_total",
			Help:      "Torrents whose limits were updated, by limit kind.",
		}, []string{"kind"}),
		FeedItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_items_total",
			Help:      "Feed items processed by outcome.",
		}, []string{"outcome"}),
		FeedErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_errors_total",
			Help:      "Feed fetch failures by feed.",
		}, []string{"feed"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications sent by result.",
		}, []string{"result"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Duration of run phases.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"phase"}),
		LastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}
	m.registry.MustRegister(
		m.Torrents,
		m.Actions,
		m.ActionErrors,
		m.LimitUpdates,
		m.FeedItems,
		m.FeedErrors,
		m.Notifications,
		m.RunDuration,
		m.LastRun,
	)
	return m
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObservePhase records how long a run phase took.
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	m.RunDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// WriteTextfile writes all metrics to path in the text exposition format.
// The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
