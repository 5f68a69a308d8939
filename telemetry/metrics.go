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
	CommandsTotal         *prometheus.CounterVec
	TokenRefreshTotal     *prometheus.CounterVec
	AnnouncementsTotal    prometheus.Counter
	TransportSendFailures *prometheus.CounterVec
	TransportReconnects   *prometheus.CounterVec
	DuplicateMessages     prometheus.Counter

	// Histograms (seconds)
	CommandApplyDuration prometheus.Observer

	// Gauges
	QueueDepthGauge prometheus.Gauge
	TokenStateGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "queuebot_commands_total", Help: "Chat commands applied, by command and outcome"}, []string{"command", "outcome"})
		TokenRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "queuebot_token_refresh_total", Help: "Token refresh attempts by result"}, []string{"result"})
		AnnouncementsTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "queuebot_announcements_total", Help: "Announcements fanned out to transports"})
		TransportSendFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "queuebot_transport_send_failures_total", Help: "Failed sends per transport"}, []string{"transport"})
		TransportReconnects = promauto.NewCounterVec(prometheus.CounterOpts{Name: "queuebot_transport_reconnects_total", Help: "Transport reconnect attempts"}, []string{"transport"})
		DuplicateMessages = promauto.NewCounter(prometheus.CounterOpts{Name: "queuebot_duplicate_messages_total", Help: "Inbound messages dropped as duplicates"})
		CommandApplyDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "queuebot_command_apply_seconds", Help: "Time to handle one chat command", Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5}})
		QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "queuebot_queue_depth", Help: "Current number of participants in the queue"})
		TokenStateGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "queuebot_token_state", Help: "Credential state: 0=unauthenticated 1=awaiting 2=active 3=refreshing 4=expired"})
	})
}

// RecordCommand counts one handled command.
func RecordCommand(command, outcome string) {
	if CommandsTotal != nil {
		CommandsTotal.WithLabelValues(command, outcome).Inc()
	}
}

// RecordTokenRefresh counts a refresh by result (ok, transient, rejected, persist_failed).
func RecordTokenRefresh(result string) {
	if TokenRefreshTotal != nil {
		TokenRefreshTotal.WithLabelValues(result).Inc()
	}
}

// RecordAnnouncement counts one announcement fan-out.
func RecordAnnouncement() {
	if AnnouncementsTotal != nil {
		AnnouncementsTotal.Inc()
	}
}

// RecordSendFailure counts a failed send on transport.
func RecordSendFailure(transport string) {
	if TransportSendFailures != nil {
		TransportSendFailures.WithLabelValues(transport).Inc()
	}
}

// RecordReconnect counts a reconnect attempt on transport.
func RecordReconnect(transport string) {
	if TransportReconnects != nil {
		TransportReconnects.WithLabelValues(transport).Inc()
	}
}

// RecordDuplicate counts a dropped duplicate message.
func RecordDuplicate() {
	if DuplicateMessages != nil {
		DuplicateMessages.Inc()
	}
}

// SetQueueDepth records the current queue length.
func SetQueueDepth(n int) {
	if QueueDepthGauge != nil {
		QueueDepthGauge.Set(float64(n))
	}
}

// SetTokenState records the numeric credential state.
func SetTokenState(state int) {
	if TokenStateGauge != nil {
		TokenStateGauge.Set(float64(state))
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

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
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
