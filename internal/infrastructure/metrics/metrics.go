package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the auth layer. A fresh set is
// constructed per middleware instance so tests can register against their own
// registry.
type Metrics struct {
	TokenExchanges *prometheus.CounterVec
	LivenessChecks *prometheus.CounterVec
	OAuthCallbacks *prometheus.CounterVec
}

// New creates and registers the auth metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TokenExchanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shopify_auth_token_exchanges_total",
			Help: "Token exchange attempts by result (success, timeout, error, inactive).",
		}, []string{"result"}),
		LivenessChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shopify_auth_liveness_checks_total",
			Help: "Access token liveness checks by result (cached, valid, rejected, error).",
		}, []string{"result"}),
		OAuthCallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shopify_auth_oauth_callbacks_total",
			Help: "OAuth callback validations by result (success, retriable, invalid, error).",
		}, []string{"result"}),
	}
}
