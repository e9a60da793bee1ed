package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "defect_detect_inference_duration_seconds",
		Help:    "Wall-clock time spent inside the detection backend.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	}, []string{"backend"})
	Detections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "defect_detect_detections_total",
		Help: "Detections returned to clients, by class.",
	}, []string{"class"})
	SkippedDetections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "defect_detect_detections_skipped_total",
		Help: "Backend results dropped because of an unknown class or invalid confidence.",
	}, []string{"reason"})
	Predictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "defect_detect_predictions_total",
		Help: "Predict requests by outcome.",
	}, []string{"outcome"})
	UploadBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "defect_detect_upload_bytes",
		Help:    "Size of accepted uploads.",
		Buckets: prometheus.ExponentialBuckets(16*1024, 4, 7),
	})
	CleanupDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "defect_detect_cleanup_deleted_total",
		Help: "Files removed from the upload directory by the age sweep.",
	})
	CleanupFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "defect_detect_cleanup_failures_total",
		Help: "Files the age sweep failed to remove.",
	})
)

const (
	OutcomeSuccess     = "success"
	OutcomeClientError = "client_error"
	OutcomeServerError = "server_error"
)

func Handler() http.Handler {
	return promhttp.Handler()
}
