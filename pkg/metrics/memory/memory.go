package memory

import (
	"sync"
	"time"

	"propchain/pkg/metrics"
)

// MemoryCollector implements MetricsCollector in memory. Tests use it to
// assert on side effects without a Prometheus registry.
type MemoryCollector struct {
	mu sync.RWMutex

	layers        map[string]*LayerMetrics
	invalidations map[string]int
	circuits      map[string]metrics.CircuitState
	calls         map[string]map[metrics.Outcome]int
	polls         PollMetrics
	notifications map[string]int
	transitions   map[string]int
}

// LayerMetrics holds metrics for a single cache layer.
type LayerMetrics struct {
	Hits    int64
	Misses  int64
	Sets    int64
	Deletes int64
	Errors  int64
}

// PollMetrics counts balance observer reads.
type PollMetrics struct {
	Successes    int64
	Failures     int64
	LastDuration time.Duration
}

// NewMemoryCollector creates a new in-memory metrics collector.
func NewMemoryCollector() *MemoryCollector {
	mc := &MemoryCollector{}
	mc.Reset()
	return mc
}

func (mc *MemoryCollector) layer(name string) *LayerMetrics {
	lm, ok := mc.layers[name]
	if !ok {
		lm = &LayerMetrics{}
		mc.layers[name] = lm
	}
	return lm
}

// RecordGet records a cache get operation.
func (mc *MemoryCollector) RecordGet(layer string, hit bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	if hit {
		lm.Hits++
	} else {
		lm.Misses++
	}
}

// RecordSet records a cache set operation.
func (mc *MemoryCollector) RecordSet(layer string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	lm.Sets++
	if !success {
		lm.Errors++
	}
}

// RecordDelete records a cache delete operation.
func (mc *MemoryCollector) RecordDelete(layer string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	lm.Deletes++
	if !success {
		lm.Errors++
	}
}

// RecordInvalidation records the number of keys an operation invalidated.
func (mc *MemoryCollector) RecordInvalidation(operation string, keys int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.invalidations[operation] += keys
}

// RecordCircuitState records the current circuit breaker state.
func (mc *MemoryCollector) RecordCircuitState(name string, state metrics.CircuitState) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.circuits[name] = state
}

// RecordGatewayCall records a remote call outcome.
func (mc *MemoryCollector) RecordGatewayCall(operation string, outcome metrics.Outcome, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	byOutcome, ok := mc.calls[operation]
	if !ok {
		byOutcome = make(map[metrics.Outcome]int)
		mc.calls[operation] = byOutcome
	}
	byOutcome[outcome]++
}

// RecordBalancePoll records one balance observer read.
func (mc *MemoryCollector) RecordBalancePoll(success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if success {
		mc.polls.Successes++
	} else {
		mc.polls.Failures++
	}
	mc.polls.LastDuration = duration
}

// RecordNotification records a notification of the given kind.
func (mc *MemoryCollector) RecordNotification(kind string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.notifications[kind]++
}

// RecordTransition records a withdrawal status change.
func (mc *MemoryCollector) RecordTransition(from, to string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.transitions[from+"->"+to]++
}

// Layer returns a copy of the metrics for a cache layer, or nil if unseen.
func (mc *MemoryCollector) Layer(name string) *LayerMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	lm, ok := mc.layers[name]
	if !ok {
		return nil
	}
	copied := *lm
	return &copied
}

// Invalidations returns how many keys the operation has invalidated so far.
func (mc *MemoryCollector) Invalidations(operation string) int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.invalidations[operation]
}

// CircuitState returns the last reported state for a breaker.
func (mc *MemoryCollector) CircuitState(name string) (metrics.CircuitState, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	state, ok := mc.circuits[name]
	return state, ok
}

// GatewayCalls returns the number of calls of an operation with the given outcome.
func (mc *MemoryCollector) GatewayCalls(operation string, outcome metrics.Outcome) int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.calls[operation][outcome]
}

// Polls returns the balance observer counters.
func (mc *MemoryCollector) Polls() PollMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.polls
}

// Notifications returns the number of notifications of a kind.
func (mc *MemoryCollector) Notifications(kind string) int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.notifications[kind]
}

// Transitions returns the number of recorded from->to changes.
func (mc *MemoryCollector) Transitions(from, to string) int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.transitions[from+"->"+to]
}

// Reset clears all collected metrics.
func (mc *MemoryCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.layers = make(map[string]*LayerMetrics)
	mc.invalidations = make(map[string]int)
	mc.circuits = make(map[string]metrics.CircuitState)
	mc.calls = make(map[string]map[metrics.Outcome]int)
	mc.polls = PollMetrics{}
	mc.notifications = make(map[string]int)
	mc.transitions = make(map[string]int)
}
