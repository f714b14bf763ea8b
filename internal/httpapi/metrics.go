package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"lorad/internal/manager"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lorad",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lorad",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)

	httpInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lorad",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "In-flight HTTP requests",
		},
		[]string{"path"},
	)

	generatedTokensTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lorad",
			Subsystem: "engine",
			Name:      "generated_tokens_total",
			Help:      "Total tokens produced by generation calls",
		},
	)

	trainEpochsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lorad",
			Subsystem: "engine",
			Name:      "train_epochs_total",
			Help:      "Total completed training epochs",
		},
	)

	trainLossLast = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lorad",
			Subsystem: "engine",
			Name:      "train_loss_last",
			Help:      "Training loss of the most recent epoch",
		},
	)

	modelLoadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lorad",
			Subsystem: "engine",
			Name:      "model_loads_total",
			Help:      "Total model load operations",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, httpInflight,
		generatedTokensTotal, trainEpochsTotal, trainLossLast, modelLoadsTotal)
}

// statusRecorder wraps http.ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// MetricsMiddleware instruments requests for Prometheus
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := routePatternOrPath(r)
		method := r.Method
		httpInflight.WithLabelValues(path).Inc()
		defer httpInflight.WithLabelValues(path).Dec()

		sr := &statusRecorder{ResponseWriter: w, status: 200}
		start := time.Now()
		next.ServeHTTP(sr, r)
		statusLabel := itoa(sr.status)
		dur := time.Since(start).Seconds()
		httpRequestsTotal.WithLabelValues(path, method, statusLabel).Inc()
		httpRequestDuration.WithLabelValues(path, method, statusLabel).Observe(dur)
	})
}

// routePatternOrPath returns the chi route pattern if available, otherwise
// falls back to URL path. This avoids high-cardinality label values.
func routePatternOrPath(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// MetricsPublisher feeds manager lifecycle events into the Prometheus
// collectors. Register it alongside other publishers via manager.MultiPublisher.
type MetricsPublisher struct{}

func (MetricsPublisher) Publish(e manager.Event) {
	switch e.Name {
	case "model_load":
		modelLoadsTotal.Inc()
	case "generate_done":
		if n, ok := e.Fields["generated"].(int); ok {
			generatedTokensTotal.Add(float64(n))
		}
	case "train_epoch":
		trainEpochsTotal.Inc()
		if loss, ok := e.Fields["train_loss"].(float64); ok {
			trainLossLast.Set(loss)
		}
	}
}

// fast integer to ascii for small set of status codes
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [4]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
