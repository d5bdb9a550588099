package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	messagesScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_messages_scheduled_total",
			Help: "Messages accepted and scheduled for dispatch, by channel",
		},
		[]string{"channel"},
	)

	messagesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_messages_dispatched_total",
			Help: "Dispatch attempts by outcome and channel",
		},
		[]string{"outcome", "channel"},
	)

	sendsBlocked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_sends_blocked_total",
			Help: "Send requests refused by the safety policy, by reason",
		},
		[]string{"reason"},
	)

	dispatchDelay = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_dispatch_delay_seconds",
			Help:    "Time between scheduling a message and dispatching it",
			Buckets: []float64{30, 60, 120, 180, 240, 300, 450, 600},
		},
	)

	templateSelections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_template_selections_total",
			Help: "Template rotation picks by template name",
		},
		[]string{"template"},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_rate_limit_rejections_total",
			Help: "API requests rejected by the per-sender rate limiter",
		},
		[]string{"sender_id"},
	)

	dedupeHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_dedupe_hits_total",
			Help: "Send requests served from the idempotency cache",
		},
	)

	senderCanSend = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warden_sender_can_send",
			Help: "1 when the sender is currently eligible to send, else 0",
		},
		[]string{"sender_id"},
	)

	senderHourCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warden_sender_messages_hour",
			Help: "Messages attempted in the trailing hour, per sender",
		},
		[]string{"sender_id"},
	)

	senderDayCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warden_sender_messages_day",
			Help: "Messages attempted in the current calendar day, per sender",
		},
		[]string{"sender_id"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordMessageScheduled records an accepted send request
func RecordMessageScheduled(channel string) {
	messagesScheduled.WithLabelValues(channel).Inc()
}

// RecordMessageDispatched records a dispatch attempt outcome
func RecordMessageDispatched(outcome, channel string) {
	messagesDispatched.WithLabelValues(outcome, channel).Inc()
}

// RecordSendBlocked records a send refused by the safety policy
func RecordSendBlocked(reason string) {
	sendsBlocked.WithLabelValues(reason).Inc()
}

// ObserveDispatchDelay records the randomized delay applied to a send
func ObserveDispatchDelay(delay time.Duration) {
	dispatchDelay.Observe(delay.Seconds())
}

// RecordTemplateSelection records a template rotation pick
func RecordTemplateSelection(template string) {
	templateSelections.WithLabelValues(template).Inc()
}

// RecordRateLimitRejection records an API rate limit rejection
func RecordRateLimitRejection(senderID string) {
	rateLimitRejections.WithLabelValues(senderID).Inc()
}

// RecordDedupeHit records a request served from the idempotency cache
func RecordDedupeHit() {
	dedupeHits.Inc()
}

// SetSenderStatus publishes the latest evaluated eligibility for a sender
func SetSenderStatus(senderID string, canSend bool, hourCount, dayCount int) {
	v := 0.0
	if canSend {
		v = 1.0
	}
	senderCanSend.WithLabelValues(senderID).Set(v)
	senderHourCount.WithLabelValues(senderID).Set(float64(hourCount))
	senderDayCount.WithLabelValues(senderID).Set(float64(dayCount))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
