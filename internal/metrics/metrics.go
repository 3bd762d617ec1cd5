// Package metrics centralizes the prometheus registry and the cross-cutting
// counters/gauges not already owned by a single component (health.go and
// orchestrator.go each register their own domain-specific series): queue
// depth, cache hit/miss, session connections, and the shared HTTP
// exposition handler.
/*
 * Copyright (c) 2024, blockforge authors. All rights reserved.
 */
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CacheHits counts cache-served source downloads, by source.
	CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "blockforge_cache_hits_total",
		Help: "Source downloads served from the cache namespace.",
	}, []string{"source"})

	// CacheMisses counts source downloads that required a fresh fetch.
	CacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "blockforge_cache_misses_total",
		Help: "Source downloads that required a fresh fetch.",
	}, []string{"source"})

	// QueueDepth reports the current pending-job count per priority class.
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "blockforge_queue_depth",
		Help: "Pending job count in the asynchronous queue, by priority.",
	}, []string{"priority"})

	// QueueProcessingRate reports the queue's rolling jobs/sec throughput.
	QueueProcessingRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "blockforge_queue_processing_rate",
		Help: "Rolling-window jobs-per-second processed by the queue workers.",
	})

	// SessionConnections reports the current count of open streaming
	// connections.
	SessionConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "blockforge_session_connections",
		Help: "Currently open streaming session connections.",
	})
)

func init() {
	prometheus.MustRegister(CacheHits, CacheMisses, QueueDepth, QueueProcessingRate, SessionConnections)
}

// Handler is the HTTP handler to mount at /metrics for prometheus scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
