package httpapi

import "github.com/prometheus/client_golang/prometheus"

var (
	authnFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matricare_authn_failures_total",
		Help: "Authentication failures by reason.",
	}, []string{"reason"})

	authzDenials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matricare_authz_denials_total",
		Help: "Authorization denials by route.",
	}, []string{"route"})
)

func init() {
	prometheus.MustRegister(authnFailures, authzDenials)
}
