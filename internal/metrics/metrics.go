package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels shared by the auth collectors.
const (
	ResultSuccess  = "success"
	ResultRejected = "rejected"
	ResultExpired  = "expired"
	ResultRevoked  = "revoked"
	ResultInvalid  = "invalid"
	ResultTimeout  = "timeout"
	ResultError    = "error"
)

var (
	CredentialAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_credential_attempts_total",
			Help: "Registration and credential verification attempts by outcome",
		},
		[]string{"operation", "result"},
	)

	TokensIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_token_pairs_issued_total",
			Help: "Token pairs minted on login or registration",
		},
	)

	RefreshOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_refresh_total",
			Help: "Refresh attempts by outcome",
		},
		[]string{"result"},
	)

	Revocations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_refresh_revocations_total",
			Help: "Stored refresh references cleared",
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Current number of HTTP requests being served",
		},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
