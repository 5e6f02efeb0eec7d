// Package metrics exposes Prometheus instrumentation for the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CapturesTotal counts webhook requests captured.
	CapturesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhookspy_captures_total",
		Help: "Total number of webhook requests captured",
	})

	// EndpointsCreatedTotal counts endpoints created, explicitly or by
	// auto-recreation on first capture.
	EndpointsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhookspy_endpoints_created_total",
		Help: "Total number of endpoints created",
	})

	// RateLimitedTotal counts rejected requests by action.
	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhookspy_rate_limited_total",
		Help: "Total number of requests rejected by the rate limiter",
	}, []string{"action"}) // "create" or "capture"

	// LiveSubscribers tracks currently open live-stream connections.
	LiveSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webhookspy_live_subscribers",
		Help: "Number of currently connected live-stream subscribers",
	})
)
