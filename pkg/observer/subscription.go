package observer

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"propchain/pkg/models"
)

// Subscription polls one treasury address until stopped. The first read
// happens immediately. Every exit path, Stop or the parent context ending,
// stops the ticker and ends the goroutine.
type Subscription struct {
	address string
	current atomic.Pointer[models.BalanceSnapshot]
	updates chan *models.BalanceSnapshot

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// Subscribe starts polling address. It returns nil, and starts nothing, when
// address is empty.
func (o *Observer) Subscribe(ctx context.Context, address string) *Subscription {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		address: address,
		updates: make(chan *models.BalanceSnapshot, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go s.run(ctx, o)
	return s
}

func (s *Subscription) run(ctx context.Context, o *Observer) {
	defer close(s.done)

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		s.publish(o.Observe(ctx, s.address))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Subscription) publish(snap *models.BalanceSnapshot) {
	if snap == nil || snap == s.current.Load() {
		return
	}
	s.current.Store(snap)

	// Keep only the newest snapshot for a slow reader.
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- snap:
	default:
	}
}

// Address returns the polled address.
func (s *Subscription) Address() string {
	return s.address
}

// Snapshot returns the latest good snapshot, or nil before the first
// successful read.
func (s *Subscription) Snapshot() *models.BalanceSnapshot {
	return s.current.Load()
}

// Updates delivers each new snapshot. Only the newest undelivered snapshot is
// kept.
func (s *Subscription) Updates() <-chan *models.BalanceSnapshot {
	return s.updates
}

// Stop ends polling and waits for the poll goroutine to exit. It is safe to
// call more than once and on a nil subscription.
func (s *Subscription) Stop() {
	if s == nil {
		return
	}
	s.stopOnce.Do(s.cancel)
	<-s.done
}

// Done is closed when polling has stopped.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}
