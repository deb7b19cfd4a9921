package api

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters fed by the auth layer, the resource engine and
// housekeeping. It satisfies auth.Events.
type Metrics struct {
	loginAttempts *prometheus.CounterVec
	lockouts      prometheus.Counter
	csrfFailures  prometheus.Counter
	mutations     *prometheus.CounterVec
	housekeeping  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cms_login_attempts_total",
			Help: "Login attempts by result.",
		}, []string{"result"}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cms_lockouts_total",
			Help: "Identifiers locked out after too many failures.",
		}),
		csrfFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cms_csrf_failures_total",
			Help: "Requests rejected for a missing or invalid CSRF token.",
		}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cms_mutations_total",
			Help: "Committed resource mutations.",
		}, []string{"resource", "action"}),
		housekeeping: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cms_housekeeping_runs_total",
			Help: "Housekeeping passes by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(m.loginAttempts, m.lockouts, m.csrfFailures, m.mutations, m.housekeeping)
}

func (m *Metrics) LoginAttempt(result string) { m.loginAttempts.WithLabelValues(result).Inc() }
func (m *Metrics) Lockout()                   { m.lockouts.Inc() }
func (m *Metrics) CSRFFailure()               { m.csrfFailures.Inc() }

func (m *Metrics) Mutation(resource, action string) {
	m.mutations.WithLabelValues(resource, action).Inc()
}

func (m *Metrics) HousekeepingRun(result string) {
	m.housekeeping.WithLabelValues(result).Inc()
}
