package skills

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/warp/skill-engine/core"
)

var (
	skillWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skills",
		Name:      "definition_writes_total",
		Help:      "Skill create/update attempts by operation and outcome.",
	}, []string{"op", "outcome"})

	dependencyAssignments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skills",
		Name:      "dependency_assignments_total",
		Help:      "Dependency edge assignments by outcome.",
	}, []string{"outcome"})

	eventsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skills",
		Name:      "events_recorded_total",
		Help:      "Event submissions by outcome.",
	}, []string{"outcome"})

	lookupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "skills",
		Name:      "user_lookup_seconds",
		Help:      "Latency of user directory lookups made while recording events.",
		Buckets:   prometheus.DefBuckets,
	})

	progressRebuilt = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "skills",
		Name:      "progress_rows_rebuilt_total",
		Help:      "Progress rows rewritten from the event log.",
	})
)

// outcome maps an error to a bounded label value.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return core.KindOf(err).String()
}
