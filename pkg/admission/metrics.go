package admission

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	admissionDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_admission_decisions_total",
		Help: "Total number of admission decisions by result and check",
	}, []string{"result", "check"})

	auditSinkErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dashboard_admission_audit_errors_total",
		Help: "Total number of audit entries the sink failed to record",
	})
)
