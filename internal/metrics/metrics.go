package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Métricas del lado cliente: requests al backend, corridas del pipeline y cola de acciones.
// Viven en un paquete aparte para que stateclient, workflow y actions no se importen entre sí.

var (
	ClientRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kph_client_requests_total",
		Help: "Requests al backend por operación y resultado (ok|domain_error|network_error)",
	}, []string{"op", "result"})

	ClientRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kph_client_request_duration_seconds",
		Help:    "Latencia de requests al backend",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	WorkflowRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kph_workflow_runs_total",
		Help: "Corridas de save→restart→refresh por resultado",
	}, []string{"outcome"})

	WorkflowStageFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kph_workflow_stage_failures_total",
		Help: "Fallas por etapa del pipeline",
	}, []string{"stage"})

	PendingActions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kph_pending_actions",
		Help: "Acciones pendientes visibles en la cola",
	})

	ActionResolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kph_action_resolutions_total",
		Help: "Resoluciones de acciones por verbo (approve|deny) y resultado",
	}, []string{"verb", "result"})
)

func all() []prometheus.Collector {
	return []prometheus.Collector{
		ClientRequests,
		ClientRequestDuration,
		WorkflowRuns,
		WorkflowStageFailures,
		PendingActions,
		ActionResolutions,
	}
}

// Register registers every collector on reg (or the default registerer if nil).
// Registering twice on the same registry is not an error.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range all() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}

// ObserveRequest records one backend call.
func ObserveRequest(op, result string, d time.Duration) {
	ClientRequests.WithLabelValues(op, result).Inc()
	ClientRequestDuration.WithLabelValues(op).Observe(d.Seconds())
}
