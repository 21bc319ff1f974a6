package publish

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comfy2ayon_publish_total",
			Help: "Total number of publish calls by result",
		},
		[]string{"result"},
	)

	PublishFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comfy2ayon_publish_files_total",
			Help: "Total number of files copied into the publish area",
		},
		[]string{"kind"},
	)

	PublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "comfy2ayon_publish_duration_seconds",
			Help: "Duration of publish calls in seconds",
		},
	)
)
