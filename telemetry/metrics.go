// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	DispatchTicks  *prometheus.CounterVec // result
	Deliveries     *prometheus.CounterVec // path, outcome
	TokenRefreshes *prometheus.CounterVec // result
	QueueWrites    prometheus.Counter
	HTTPRequests   *prometheus.CounterVec // handler, method, code

	// Histograms (seconds)
	DeliveryDuration     prometheus.Observer
	DispatchTickDuration prometheus.Observer

	// Gauges
	PendingMessagesGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		DispatchTicks = promauto.NewCounterVec(prometheus.CounterOpts{Name: "slack_dispatch_ticks_total", Help: "Dispatcher ticks by result"}, []string{"result"})
		Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{Name: "slack_deliveries_total", Help: "chat.postMessage attempts by path and outcome"}, []string{"path", "outcome"})
		TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "slack_token_refresh_total", Help: "Access token refreshes by result"}, []string{"result"})
		QueueWrites = promauto.NewCounter(prometheus.CounterOpts{Name: "slack_queue_writes_total", Help: "Number of queue snapshots written"})
		HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "http_requests_total", Help: "HTTP requests by handler, method and status code"}, []string{"handler", "method", "code"})
		DeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "slack_delivery_duration_seconds", Help: "chat.postMessage call duration seconds", Buckets: prometheus.DefBuckets})
		DispatchTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "slack_dispatch_tick_duration_seconds", Help: "Dispatcher tick duration seconds", Buckets: prometheus.DefBuckets})
		PendingMessagesGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "slack_pending_messages", Help: "Unsent messages in the queue at the last tick"})
	})
}

// Tick results.
const (
	TickOK           = "ok"
	TickNoCredential = "skipped_no_credential"
	TickStoreError   = "store_error"
)

// Refresh results.
const (
	RefreshOK     = "ok"
	RefreshFailed = "failed"
	RefreshReused = "reused"
)

// RecordTick counts one dispatcher tick.
func RecordTick(result string) {
	if DispatchTicks != nil {
		DispatchTicks.WithLabelValues(result).Inc()
	}
}

// RecordDelivery counts one delivery attempt.
func RecordDelivery(path, outcome string) {
	if Deliveries != nil {
		Deliveries.WithLabelValues(path, outcome).Inc()
	}
}

// RecordRefresh counts one refresh attempt.
func RecordRefresh(result string) {
	if TokenRefreshes != nil {
		TokenRefreshes.WithLabelValues(result).Inc()
	}
}

// RecordQueueWrite counts one queue snapshot write.
func RecordQueueWrite() {
	if QueueWrites != nil {
		QueueWrites.Inc()
	}
}

// RecordHTTPRequest counts one served HTTP request.
func RecordHTTPRequest(handler, method string, code int) {
	if HTTPRequests != nil {
		HTTPRequests.WithLabelValues(handler, method, statusLabel(code)).Inc()
	}
}

// SetPendingMessages records the current unsent message count.
func SetPendingMessages(n int) {
	if PendingMessagesGauge != nil {
		PendingMessagesGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context carrying correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}

// MaskToken returns the last six characters of tok prefixed with ***, for logs.
func MaskToken(tok string) string {
	if len(tok) <= 6 {
		return "***"
	}
	return "***" + tok[len(tok)-6:]
}
