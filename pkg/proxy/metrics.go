package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "trproxy_request_duration_seconds",
	Help:    "Duration of transaction requests by cache tier and HTTP status",
	Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
}, []string{"tier", "status"})

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "trproxy_requests_total",
	Help: "Successful transaction requests by cache outcome",
}, []string{"outcome"})
