package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"propchain/pkg/logging"
	"propchain/pkg/metrics"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var (
	// ErrCircuitOpen is returned when the breaker rejects a call without running it.
	ErrCircuitOpen = errors.New("resilience: circuit breaker open")

	// ErrTimeout is returned when a guarded call exceeds its configured timeout.
	ErrTimeout = errors.New("resilience: operation timeout")
)

// IsCircuitOpen checks if the given error indicates the circuit breaker is open.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// IsTimeout checks if the given error indicates a timeout occurred.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// Breaker runs calls through a timeout and a circuit breaker. It never retries.
type Breaker struct {
	name    string
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	metrics metrics.MetricsCollector
	logger  *logging.Logger
}

// Option customizes a Breaker.
type Option func(*breakerOptions)

type breakerOptions struct {
	metrics    metrics.MetricsCollector
	logger     *logging.Logger
	successful func(err error) bool
}

// WithMetrics reports breaker state changes to the collector.
func WithMetrics(c metrics.MetricsCollector) Option {
	return func(o *breakerOptions) { o.metrics = c }
}

// WithLogger sets the logger the breaker names itself under.
func WithLogger(l *logging.Logger) Option {
	return func(o *breakerOptions) { o.logger = l }
}

// WithSuccessful marks errors that must not count as failures, such as cache
// misses or requests the remote side deliberately refused.
func WithSuccessful(fn func(err error) bool) Option {
	return func(o *breakerOptions) { o.successful = fn }
}

// NewBreaker creates a breaker named name.
func NewBreaker(name string, config ResilientConfig, opts ...Option) *Breaker {
	o := breakerOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	b := &Breaker{
		name:    name,
		timeout: config.Timeout,
		metrics: metrics.OrNoOp(o.metrics),
		logger:  logging.OrGlobal(o.logger).Named("resilience").Named(name),
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: config.CircuitBreakerConfig.MaxRequests,
		Interval:    config.CircuitBreakerConfig.Interval,
		Timeout:     config.CircuitBreakerConfig.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			trip := config.CircuitBreakerConfig.ReadyToTrip
			if trip == nil {
				trip = ConsecutiveFailures(5)
			}
			return trip(Counts{
				Requests:             counts.Requests,
				TotalSuccesses:       counts.TotalSuccesses,
				TotalFailures:        counts.TotalFailures,
				ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
				ConsecutiveFailures:  counts.ConsecutiveFailures,
			})
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			b.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			b.metrics.RecordCircuitState(name, toCircuitState(to))
		},
	}
	if o.successful != nil {
		successful := o.successful
		settings.IsSuccessful = func(err error) bool {
			return err == nil || successful(err)
		}
	}

	b.cb = gobreaker.NewCircuitBreaker(settings)

	return b
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current breaker state.
func (b *Breaker) State() metrics.CircuitState {
	return toCircuitState(b.cb.State())
}

// Execute runs fn once with the configured deadline applied to ctx.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err == nil {
		return result, nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.logger.Warn("circuit breaker open - request rejected")
		return nil, ErrCircuitOpen
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		b.logger.Warn("operation timeout",
			zap.Duration("timeout", b.timeout),
			zap.Duration("elapsed", time.Since(start)),
		)
		return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return result, err
}

func toCircuitState(s gobreaker.State) metrics.CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return metrics.CircuitOpen
	case gobreaker.StateHalfOpen:
		return metrics.CircuitHalfOpen
	default:
		return metrics.CircuitClosed
	}
}
