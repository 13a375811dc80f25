package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aegis-project/aegis/pkg/models"
)

// IdentityMetrics contains metrics for user and session operations.
type IdentityMetrics struct {
	LoginsTotal    *prometheus.CounterVec
	LockoutsTotal  prometheus.Counter
	UsersTotal     prometheus.Gauge
	SessionsActive prometheus.Gauge
}

// NewIdentityMetrics creates identity metrics.
func NewIdentityMetrics() *IdentityMetrics {
	reg := GetRegistry()

	m := &IdentityMetrics{
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aegis",
				Subsystem: "identity",
				Name:      "logins_total",
				Help:      "Total login attempts",
			},
			[]string{"result"},
		),
		LockoutsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "aegis",
				Subsystem: "identity",
				Name:      "lockouts_total",
				Help:      "Total account lockouts",
			},
		),
		UsersTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "aegis",
				Subsystem: "identity",
				Name:      "users_total",
				Help:      "Number of registered users",
			},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "aegis",
				Subsystem: "identity",
				Name:      "sessions_active",
				Help:      "Number of active sessions",
			},
		),
	}

	reg.MustRegister(m.LoginsTotal, m.LockoutsTotal, m.UsersTotal, m.SessionsActive)
	return m
}

// PolicyMetrics contains metrics for policy evaluations.
type PolicyMetrics struct {
	EvaluationsTotal  *prometheus.CounterVec
	EvaluationLatency *prometheus.HistogramVec
	ViolationsTotal   *prometheus.CounterVec
}

// NewPolicyMetrics creates policy engine metrics.
func NewPolicyMetrics() *PolicyMetrics {
	reg := GetRegistry()

	m := &PolicyMetrics{
		EvaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aegis",
				Subsystem: "policy",
				Name:      "evaluations_total",
				Help:      "Total policy evaluations",
			},
			[]string{"result"},
		),
		EvaluationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "aegis",
				Subsystem: "policy",
				Name:      "evaluation_duration_seconds",
				Help:      "Policy evaluation duration",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{},
		),
		ViolationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aegis",
				Subsystem: "policy",
				Name:      "violations_total",
				Help:      "Total policy rule violations",
			},
			[]string{"enforcement"},
		),
	}

	reg.MustRegister(m.EvaluationsTotal, m.EvaluationLatency, m.ViolationsTotal)
	return m
}

// AuditMetrics contains metrics for the audit log.
type AuditMetrics struct {
	EventsTotal   *prometheus.CounterVec
	RetainedCount prometheus.Gauge
}

// NewAuditMetrics creates audit log metrics.
func NewAuditMetrics() *AuditMetrics {
	reg := GetRegistry()

	m := &AuditMetrics{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aegis",
				Subsystem: "audit",
				Name:      "events_total",
				Help:      "Total audit events",
			},
			[]string{"event_type"},
		),
		RetainedCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "aegis",
				Subsystem: "audit",
				Name:      "retained_events",
				Help:      "Number of events retained in the ring",
			},
		),
	}

	reg.MustRegister(m.EventsTotal, m.RetainedCount)
	return m
}

// KeyMetrics contains metrics for key lifecycle operations.
type KeyMetrics struct {
	OperationsTotal *prometheus.CounterVec
	RotationsTotal  prometheus.Counter
	ActiveKeys      *prometheus.GaugeVec
}

// NewKeyMetrics creates key lifecycle metrics.
func NewKeyMetrics() *KeyMetrics {
	reg := GetRegistry()

	m := &KeyMetrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aegis",
				Subsystem: "keys",
				Name:      "operations_total",
				Help:      "Total key operations",
			},
			[]string{"operation", "result"},
		),
		RotationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "aegis",
				Subsystem: "keys",
				Name:      "rotations_total",
				Help:      "Total key rotations",
			},
		),
		ActiveKeys: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "aegis",
				Subsystem: "keys",
				Name:      "active_total",
				Help:      "Number of active keys",
			},
			[]string{"usage"},
		),
	}

	reg.MustRegister(m.OperationsTotal, m.RotationsTotal, m.ActiveKeys)
	return m
}

// PostureMetrics exports the monitor's derived security snapshot.
type PostureMetrics struct {
	ComplianceScore prometheus.Gauge
	RiskScore       prometheus.Gauge
	FailedLogins    prometheus.Gauge
	BlockedAttempts prometheus.Gauge
	ThreatsDetected prometheus.Gauge
}

// NewPostureMetrics creates security posture metrics.
func NewPostureMetrics() *PostureMetrics {
	reg := GetRegistry()

	m := &PostureMetrics{
		ComplianceScore: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "aegis",
				Subsystem: "posture",
				Name:      "compliance_score",
				Help:      "Derived compliance score (0-100)",
			},
		),
		RiskScore: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "aegis",
				Subsystem: "posture",
				Name:      "risk_score",
				Help:      "Derived risk score (0-100)",
			},
		),
		FailedLogins: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "aegis",
				Subsystem: "posture",
				Name:      "failed_logins",
				Help:      "Failed logins in the scoring window",
			},
		),
		BlockedAttempts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "aegis",
				Subsystem: "posture",
				Name:      "blocked_attempts",
				Help:      "Blocked operations in the scoring window",
			},
		),
		ThreatsDetected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "aegis",
				Subsystem: "posture",
				Name:      "threats_detected",
				Help:      "Threats detected in the scoring window",
			},
		),
	}

	reg.MustRegister(m.ComplianceScore, m.RiskScore, m.FailedLogins, m.BlockedAttempts, m.ThreatsDetected)
	return m
}

// Update pushes a metrics snapshot into the posture gauges.
func (m *PostureMetrics) Update(snapshot models.SecurityMetrics) {
	m.ComplianceScore.Set(snapshot.ComplianceScore)
	m.RiskScore.Set(snapshot.RiskScore)
	m.FailedLogins.Set(float64(snapshot.FailedLogins))
	m.BlockedAttempts.Set(float64(snapshot.BlockedAttempts))
	m.ThreatsDetected.Set(float64(snapshot.ThreatsDetected))
}

// DatabaseMetrics contains metrics for database operations.
type DatabaseMetrics struct {
	QueriesTotal      *prometheus.CounterVec
	QueryLatency      *prometheus.HistogramVec
	ConnectionsActive prometheus.Gauge
	ConnectionsIdle   prometheus.Gauge
}

// NewDatabaseMetrics creates database metrics.
func NewDatabaseMetrics() *DatabaseMetrics {
	reg := GetRegistry()

	m := &DatabaseMetrics{
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aegis",
				Subsystem: "db",
				Name:      "queries_total",
				Help:      "Database queries",
			},
			[]string{"operation", "result"},
		),
		QueryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "aegis",
				Subsystem: "db",
				Name:      "query_duration_seconds",
				Help:      "Database query duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		ConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "aegis",
				Subsystem: "db",
				Name:      "connections_active",
				Help:      "Active database connections",
			},
		),
		ConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "aegis",
				Subsystem: "db",
				Name:      "connections_idle",
				Help:      "Idle database connections",
			},
		),
	}

	reg.MustRegister(m.QueriesTotal, m.QueryLatency, m.ConnectionsActive, m.ConnectionsIdle)
	return m
}
