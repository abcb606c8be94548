// Package metrics defines Prometheus metrics for login flows, covering
// device-code polling, token exchanges and per-step flow outcomes.
package metrics
