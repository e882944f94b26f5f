package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpRequestsTotal     *prometheus.CounterVec
	httpLatencySeconds    *prometheus.HistogramVec
	httpErrorsTotal       *prometheus.CounterVec
	essaysScoredTotal     *prometheus.CounterVec
	scanRejectedTotal     *prometheus.CounterVec
	ocrLatencySeconds     prometheus.Histogram
	examGradingsTotal     prometheus.Counter
	examPercentage        prometheus.Histogram
	evaluationPairsTotal  *prometheus.CounterVec
	metricsCacheTotal     *prometheus.CounterVec
	metricsStreamsActive  prometheus.Gauge
	gradingEventsReceived *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the grading API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grading_http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_http_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		essaysScoredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_essays_scored_total",
			Help: "Essays scored, by source and letter grade.",
		}, []string{"source", "grade"})

		scanRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_essay_scans_rejected_total",
			Help: "Essay scans rejected before scoring.",
		}, []string{"reason"})

		ocrLatencySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "grading_ocr_latency_seconds",
			Help:    "Time spent recognising scanned essays.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45},
		})

		examGradingsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grading_exam_gradings_total",
			Help: "Exam submissions graded against an answer key.",
		})

		examPercentage = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "grading_exam_percentage",
			Help:    "Distribution of exam percentages.",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		})

		evaluationPairsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_evaluation_pairs_total",
			Help: "Predicted/actual pairs recorded, by source and outcome.",
		}, []string{"source", "outcome"})

		metricsCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_evaluation_metrics_cache_total",
			Help: "Evaluation metrics cache lookups.",
		}, []string{"result"})

		metricsStreamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grading_evaluation_streams_active",
			Help: "Open websocket metric streams.",
		})

		gradingEventsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_events_received_total",
			Help: "Grading events received from other nodes.",
		}, []string{"type"})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			httpErrorsTotal,
			essaysScoredTotal,
			scanRejectedTotal,
			ocrLatencySeconds,
			examGradingsTotal,
			examPercentage,
			evaluationPairsTotal,
			metricsCacheTotal,
			metricsStreamsActive,
			gradingEventsReceived,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for API error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// EssaysScored counts scored essays by source and grade.
func EssaysScored() *prometheus.CounterVec {
	RegisterMetrics()
	return essaysScoredTotal
}

// ScanRejected counts rejected scans by reason.
func ScanRejected() *prometheus.CounterVec {
	RegisterMetrics()
	return scanRejectedTotal
}

// OCRLatency observes recognition time.
func OCRLatency() prometheus.Histogram {
	RegisterMetrics()
	return ocrLatencySeconds
}

// ExamGradings counts graded exam submissions.
func ExamGradings() prometheus.Counter {
	RegisterMetrics()
	return examGradingsTotal
}

// ExamPercentage observes graded exam percentages.
func ExamPercentage() prometheus.Histogram {
	RegisterMetrics()
	return examPercentage
}

// EvaluationPairs counts recorded evaluation pairs.
func EvaluationPairs() *prometheus.CounterVec {
	RegisterMetrics()
	return evaluationPairsTotal
}

// MetricsCache counts evaluation metrics cache hits and misses.
func MetricsCache() *prometheus.CounterVec {
	RegisterMetrics()
	return metricsCacheTotal
}

// MetricsStreamsActive tracks open websocket streams.
func MetricsStreamsActive() prometheus.Gauge {
	RegisterMetrics()
	return metricsStreamsActive
}

// GradingEventsReceived counts events consumed from other nodes.
func GradingEventsReceived() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingEventsReceived
}
