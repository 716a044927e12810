// Package telemetry holds the Prometheus metrics exposed at /metrics.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pollchat_messages_ingested_total",
		Help: "Messages accepted and persisted.",
	})
	MessagesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pollchat_messages_rejected_total",
		Help: "Messages rejected by the ingestion pipeline, by reason.",
	}, []string{"reason"})
	MessagesTrimmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pollchat_messages_trimmed_total",
		Help: "Messages soft-deleted by capacity trimming.",
	})
	MessagesPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pollchat_messages_purged_total",
		Help: "Soft-deleted messages physically removed by cleanup.",
	})
	BansExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pollchat_bans_expired_total",
		Help: "Bans deactivated by the expiry sweep.",
	})
	PollRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pollchat_poll_requests_total",
		Help: "Message list requests served.",
	})
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pollchat_http_request_duration_seconds",
		Help:    "HTTP request latency by route, method and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})
)

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request latency per route.
func Middleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		requestDuration.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}
