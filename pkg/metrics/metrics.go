package metrics

import (
	"time"
)

// MetricsCollector defines the interface for collecting service metrics.
// Implementations export to Prometheus or keep values in memory for tests.
type MetricsCollector interface {
	// Cache layers
	RecordGet(layer string, hit bool, duration time.Duration)
	RecordSet(layer string, success bool, duration time.Duration)
	RecordDelete(layer string, success bool, duration time.Duration)

	// Cache invalidation after a successful write
	RecordInvalidation(operation string, keys int)

	// Circuit breakers guarding layers and remote calls
	RecordCircuitState(name string, state CircuitState)

	// Remote calls made through the gateway or the mirror reader
	RecordGatewayCall(operation string, outcome Outcome, duration time.Duration)

	// Balance observer
	RecordBalancePoll(success bool, duration time.Duration)

	// Notification sink
	RecordNotification(kind string)

	// Withdrawal status changes applied by the backend
	RecordTransition(from, to string)
}

// Outcome classifies the result of a remote call.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeRejected  Outcome = "rejected"
	OutcomeTransport Outcome = "transport"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the service has recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// OrNoOp returns c, or a NoOpCollector when c is nil.
func OrNoOp(c MetricsCollector) MetricsCollector {
	if c == nil {
		return NoOpCollector{}
	}
	return c
}

// NoOpCollector is a no-op implementation of MetricsCollector.
type NoOpCollector struct{}

func (NoOpCollector) RecordGet(layer string, hit bool, duration time.Duration)                    {}
func (NoOpCollector) RecordSet(layer string, success bool, duration time.Duration)                {}
func (NoOpCollector) RecordDelete(layer string, success bool, duration time.Duration)             {}
func (NoOpCollector) RecordInvalidation(operation string, keys int)                               {}
func (NoOpCollector) RecordCircuitState(name string, state CircuitState)                          {}
func (NoOpCollector) RecordGatewayCall(operation string, outcome Outcome, duration time.Duration) {}
func (NoOpCollector) RecordBalancePoll(success bool, duration time.Duration)                      {}
func (NoOpCollector) RecordNotification(kind string)                                              {}
func (NoOpCollector) RecordTransition(from, to string)                                            {}
