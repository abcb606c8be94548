package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StatusError labels ExchangeRequests when no response was received.
const StatusError = "error"

const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeCanceled = "canceled"
	OutcomePending  = "pending"
)

var (
	PollAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcauth_device_poll_attempts_total",
		Help: "Total number of token endpoint polls, by outcome",
	}, []string{"outcome"})
	ExchangeRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcauth_exchange_requests_total",
		Help: "Total number of HTTP calls made by the login pipeline, by endpoint and status class",
	}, []string{"endpoint", "status"})
	ExchangeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mcauth_exchange_duration_seconds",
		Help:    "Latency of HTTP calls made by the login pipeline",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
	FlowSteps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcauth_flow_steps_total",
		Help: "Total number of login flow steps, by step and outcome",
	}, []string{"step", "outcome"})
)

// Collectors returns every collector defined by this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		PollAttempts,
		ExchangeRequests,
		ExchangeDuration,
		FlowSteps,
	}
}

// Register adds the login metrics to reg. Collectors that are already
// registered are skipped.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}
