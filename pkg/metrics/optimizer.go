package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OptimizerMetrics counts decision outcomes across optimization runs.
type OptimizerMetrics struct {
	decisions        *prometheus.CounterVec
	mutationFailures *prometheus.CounterVec
	adsEvaluated     prometheus.Counter
}

// NewOptimizerMetrics registers the optimizer counters on the provided registerer.
func NewOptimizerMetrics(reg prometheus.Registerer) *OptimizerMetrics {
	if reg == nil {
		return &OptimizerMetrics{}
	}
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "optimizer_decisions_total",
		Help: "Decisions emitted per action.",
	}, []string{"action"})
	mutationFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "optimizer_mutation_failures_total",
		Help: "Platform mutations that failed, per action.",
	}, []string{"action"})
	adsEvaluated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "optimizer_ads_evaluated_total",
		Help: "Ads evaluated across all runs.",
	})
	reg.MustRegister(decisions, mutationFailures, adsEvaluated)
	return &OptimizerMetrics{
		decisions:        decisions,
		mutationFailures: mutationFailures,
		adsEvaluated:     adsEvaluated,
	}
}

// IncDecision increments the decision counter for the given action.
func (o *OptimizerMetrics) IncDecision(action string) {
	if o == nil || o.decisions == nil {
		return
	}
	o.decisions.WithLabelValues(normalizeLabel(action)).Inc()
}

// IncMutationFailure increments the failed-mutation counter for the given action.
func (o *OptimizerMetrics) IncMutationFailure(action string) {
	if o == nil || o.mutationFailures == nil {
		return
	}
	o.mutationFailures.WithLabelValues(normalizeLabel(action)).Inc()
}

// AddAdsEvaluated adds the number of ads evaluated in a run.
func (o *OptimizerMetrics) AddAdsEvaluated(count int) {
	if o == nil || o.adsEvaluated == nil || count <= 0 {
		return
	}
	o.adsEvaluated.Add(float64(count))
}
