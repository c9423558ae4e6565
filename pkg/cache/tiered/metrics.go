package tiered

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "trproxy_cache_hits_total",
	Help: "Number of cache hits per tier",
}, []string{"tier"})

var cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "trproxy_cache_misses_total",
	Help: "Number of cache misses per tier",
}, []string{"tier"})

var cacheCoalesced = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "trproxy_cache_coalesced_total",
	Help: "Number of misses that waited on an in-flight computation",
}, []string{"tier"})

var cacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "trproxy_cache_evictions_total",
	Help: "Number of entries removed from a tier by expiry, capacity or purge",
}, []string{"tier"})

var cacheEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "trproxy_cache_entries",
	Help: "Number of entries held per tier",
}, []string{"tier"})

var cacheSweeps = promauto.NewCounter(prometheus.CounterOpts{
	Name: "trproxy_cache_sweeps_total",
	Help: "Number of full sweeps of the evictable tiers",
})
