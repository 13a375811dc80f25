// Package metrics provides Prometheus instrumentation for Aegis.
// Label values never carry raw identifiers; paths are templated and
// ids are hashed before they reach a metric.
package metrics

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"runtime"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
	registryMu   sync.Mutex
)

func newRegistry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// GetRegistry returns the process-wide Aegis metrics registry.
func GetRegistry() *prometheus.Registry {
	registryOnce.Do(func() {
		registry = newRegistry()
	})
	return registry
}

// ResetRegistry replaces the registry. Test hook only; metric bundles
// register under fixed names and would collide across test cases.
func ResetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = newRegistry()
	registryOnce = sync.Once{}
}

// ServiceMetrics is the per-service HTTP metric bundle.
type ServiceMetrics struct {
	ServiceName string

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  prometheus.Gauge
	ServiceInfo     *prometheus.GaugeVec
	AuthAttempts    *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
}

// NewServiceMetrics registers and returns the HTTP metric bundle for a
// service. The version labels the static info gauge.
func NewServiceMetrics(serviceName, version string) *ServiceMetrics {
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{
			Namespace: "aegis",
			Subsystem: serviceName,
			Name:      name,
			Help:      help,
		}
	}

	m := &ServiceMetrics{
		ServiceName: serviceName,
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts(opts("http_requests_total", "HTTP requests served")),
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "aegis",
				Subsystem: serviceName,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		ActiveRequests: prometheus.NewGauge(
			prometheus.GaugeOpts(opts("http_active_requests", "In-flight HTTP requests")),
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts(opts("info", "Build and runtime information")),
			[]string{"version", "go_version"},
		),
		AuthAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts(opts("auth_attempts_total", "Authentication attempts by outcome")),
			[]string{"method", "result"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts(opts("errors_total", "Errors by type")),
			[]string{"type"},
		),
	}

	GetRegistry().MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.ServiceInfo,
		m.AuthAttempts,
		m.ErrorsTotal,
	)
	m.ServiceInfo.WithLabelValues(version, runtime.Version()).Set(1)

	return m
}

// Handler serves the registry in OpenMetrics-capable text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(GetRegistry(), promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// HashID shortens an identifier to an 8-byte hex digest so ids can be
// used as labels without exposing them.
func HashID(id string) string {
	if id == "" {
		return "unknown"
	}
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:8])
}

// idSegments maps a path segment to the placeholder that replaces
// whatever follows it. Ordered; first match per position wins.
var idSegments = []struct {
	segment     string
	placeholder string
}{
	{"users", "{user_id}"},
	{"sessions", "{session_id}"},
	{"policies", "{policy_id}"},
	{"keys", "{key_id}"},
}

// SanitizePath templates identifier segments out of a request path:
// /api/v1/users/abc123 becomes /api/v1/users/{user_id}. Keeps the
// label cardinality bounded and the ids out of the metrics.
func SanitizePath(path string) string {
	segments := strings.Split(path, "/")
	for i := 0; i+1 < len(segments); i++ {
		if segments[i+1] == "" {
			continue
		}
		for _, s := range idSegments {
			if segments[i] == s.segment {
				segments[i+1] = s.placeholder
				break
			}
		}
	}
	return strings.Join(segments, "/")
}
