// Package metrics holds the Prometheus counters of the login service. A nil
// *Metrics is valid and records nothing, so domain code never has to check.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ehrlogin"

// Outcome and result label values.
const (
	ResultOK         = "ok"
	ResultError      = "error"
	ResultSuperseded = "superseded"
	ResultSkipped    = "skipped"
)

type Metrics struct {
	registry         *prometheus.Registry
	LoginAttempts    *prometheus.CounterVec
	AttributeWrites  *prometheus.CounterVec
	DirectoryFetches *prometheus.CounterVec
	LocationCommits  *prometheus.CounterVec
}

// New creates a private registry with the Go and process collectors plus the
// service counters.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		LoginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome",
		}, []string{"outcome"}),
		AttributeWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attribute_writes_total",
			Help:      "Default-location attribute writes by path and result",
		}, []string{"path", "result"}),
		DirectoryFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directory_fetches_total",
			Help:      "Location directory fetches by result",
		}, []string{"result"}),
		LocationCommits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_commits_total",
			Help:      "Session location commits by result",
		}, []string{"result"}),
	}
	reg.MustRegister(m.LoginAttempts, m.AttributeWrites, m.DirectoryFetches, m.LocationCommits)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) Login(outcome string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AttributeWrite(path, result string) {
	if m == nil {
		return
	}
	m.AttributeWrites.WithLabelValues(path, result).Inc()
}

func (m *Metrics) DirectoryFetch(result string) {
	if m == nil {
		return
	}
	m.DirectoryFetches.WithLabelValues(result).Inc()
}

func (m *Metrics) LocationCommit(result string) {
	if m == nil {
		return
	}
	m.LocationCommits.WithLabelValues(result).Inc()
}
