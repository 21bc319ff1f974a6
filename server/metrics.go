package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comfy2ayon_http_requests_total",
			Help: "Total number of endpoint requests by endpoint and outcome",
		},
		[]string{"endpoint", "success"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "comfy2ayon_http_request_duration_seconds",
			Help: "Duration of endpoint requests in seconds",
		},
		[]string{"endpoint"},
	)
)
