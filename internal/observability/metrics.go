package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fd",
		Name:      "frames_captured_total",
		Help:      "Total number of frames captured",
	}, []string{"tag_video"})

	FacesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fd",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected",
	}, []string{"tag_video"})

	FacesRecognized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fd",
		Name:      "faces_recognized_total",
		Help:      "Total number of faces resolved to an identity",
	}, []string{"tag_video"})

	IdentitiesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fd",
		Name:      "identities_created_total",
		Help:      "Total number of new identities minted",
	}, []string{"tag_video"})

	PresencesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fd",
		Name:      "presences_recorded_total",
		Help:      "Total number of presences persisted",
	}, []string{"tag_video"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fd",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fd",
		Name:      "queue_depth",
		Help:      "Number of pending messages per pipeline stream",
	}, []string{"stream"})

	ActiveCaptures = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fd",
		Name:      "active_captures",
		Help:      "Number of currently active capture sources",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fd",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fd",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
