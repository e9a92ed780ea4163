package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics — registered once at package init via promauto.
var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "identity",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests by method, path, and status code.",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "identity",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method and path.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"method", "path"})

	httpRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "identity",
		Name:      "http_requests_in_flight",
		Help:      "Current number of HTTP requests being processed.",
	})

	// LoginAttempts counts Login/BotLogin outcomes by result
	// ("success"/"failure"), so a spike in failures can page before a
	// user ever files a report.
	LoginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "identity",
		Name:      "login_attempts_total",
		Help:      "Total login attempts by outcome.",
	}, []string{"result"})

	// TokensIssued and TokensRevoked track Create/Login vs. Logout/Revoke
	// volume — a registry growing without matching revocations usually
	// means a client isn't calling logout.
	TokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "identity",
		Name:      "tokens_issued_total",
		Help:      "Total bearer tokens issued.",
	})
	TokensRevoked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "identity",
		Name:      "tokens_revoked_total",
		Help:      "Total bearer tokens revoked (logout or gRPC revoke).",
	})

	// BanRejections counts requests RequestGate turned away for an IP ban
	// or passed on marked banned for a user ban, split by which kind tripped.
	BanRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "identity",
		Name:      "ban_rejections_total",
		Help:      "Requests rejected (IP ban) or marked banned (user ban) by RequestGate.",
	}, []string{"kind"})
)

// Metrics returns middleware that tracks HTTP request counts, durations, and in-flight
// requests using Prometheus. Call this AFTER SecurityHeaders so metrics are always collected.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip the /metrics endpoint itself to avoid self-referential noise
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.statusCode)

		// Normalise path — avoid high-cardinality labels from dynamic segments
		path := normalisePath(r.URL.Path)
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// normalisePath maps specific known paths to their canonical label value.
// Unknown paths collapse to "/other" to prevent label cardinality explosion.
func normalisePath(p string) string {
	switch p {
	case "/v1/account/login", "/v1/account/logout", "/v1/account/create", "/v1/account/finalize",
		"/v1/account/change_password", "/v1/account/bot_login", "/v1/account/bot_create", "/v1/account/bot_internal",
		"/health/live", "/health/ready", "/metrics":
		return p
	default:
		return "/other"
	}
}
