// Package metrics exposes Prometheus collectors for the relay daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Relay-side counters and gauges.
var (
	Published = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairlink_relay_published_total",
		Help: "Envelopes accepted for publication.",
	})

	Delivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairlink_relay_delivered_total",
		Help: "Envelopes delivered to a live subscriber.",
	})

	Mailboxed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairlink_relay_mailboxed_total",
		Help: "Envelopes parked for an offline subscriber.",
	})

	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairlink_relay_auth_failures_total",
		Help: "Connections refused at the auth boundary.",
	})

	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pairlink_relay_connections",
		Help: "Currently open client connections.",
	})
)
