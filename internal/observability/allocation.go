package observability

import "github.com/prometheus/client_golang/prometheus"

// AllocationRecorder counts allocation outcomes. It satisfies allocation.Recorder.
type AllocationRecorder struct {
	allocations *prometheus.CounterVec
	failures    *prometheus.CounterVec
}

// NewAllocationRecorder registers the allocation counters against registerer,
// falling back to the default registerer when nil.
func NewAllocationRecorder(registerer prometheus.Registerer) *AllocationRecorder {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	allocations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_allocations_total",
		Help: "Units allocated to sale lines by allocation path and mode.",
	}, []string{"path", "mode"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_allocation_failures_total",
		Help: "Allocation attempts that failed, by reason.",
	}, []string{"reason"})
	registerer.MustRegister(allocations, failures)
	return &AllocationRecorder{allocations: allocations, failures: failures}
}

// ObserveAllocation counts one successful allocation.
func (r *AllocationRecorder) ObserveAllocation(path, mode string) {
	if r == nil {
		return
	}
	r.allocations.WithLabelValues(path, mode).Inc()
}

// ObserveFailure counts one failed allocation.
func (r *AllocationRecorder) ObserveFailure(reason string) {
	if r == nil {
		return
	}
	r.failures.WithLabelValues(reason).Inc()
}
