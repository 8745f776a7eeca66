// Package telemetry provides structured logging and Prometheus metrics
// for the control plane and its workers.
package telemetry
