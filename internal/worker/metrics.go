package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	grantsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credo_grants_total",
		Help: "Periodic credit grants issued, by cohort.",
	}, []string{"cohort"})

	jobErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credo_job_errors_total",
		Help: "Chunk-level batch job errors, by job.",
	}, []string{"job"})

	expiredCreditsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credo_expired_credits_total",
		Help: "Credits reclaimed by the expiration reconciler.",
	})
)
