// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geoconv

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geoconv_requests_total",
		Help: "Conversion requests sent to providers, by outcome",
	}, []string{"platform", "outcome"})
	convertedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geoconv_positions_converted_total",
		Help: "Converted positions stored",
	}, []string{"platform"})
	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geoconv_failures_total",
		Help: "Failures by type",
	}, []string{"platform", "type"})
	limiterWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geoconv_limiter_wait_seconds",
		Help:    "Time spent waiting for provider quota",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 60, 600, 3600},
	}, []string{"platform"})
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geoconv_request_latency_seconds",
		Help:    "Provider request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"platform"})
	pollerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "geoconv_poller_state",
		Help: "Current poller state (0 idle, 1 limit wait, 2 fetching, 3 calling, 4 storing, 5 stopped)",
	}, []string{"platform"})
)

func observeSince(h *prometheus.HistogramVec, platform Platform, start time.Time) {
	h.WithLabelValues(string(platform)).Observe(time.Since(start).Seconds())
}

func countFailure(platform Platform, err error) {
	failuresTotal.WithLabelValues(string(platform), ErrorTypeOf(err).String()).Inc()
}
