package session

import (
	"context"
	"sync"
	"time"

	"propchain/pkg/logging"
	"propchain/pkg/models"

	"go.uber.org/zap"
)

// Source resolves an access token into a session. The remote gateway
// implements it.
type Source interface {
	GetSession(ctx context.Context, accessToken string) (models.Session, error)
}

// Watcher is a subscription to a caller's session. It resolves the token once
// on start and again every interval until Stop is called or the context ends.
// Until the first resolution the session is in the unknown state.
type Watcher struct {
	source   Source
	token    string
	interval time.Duration
	logger   *logging.Logger

	mu      sync.RWMutex
	current models.Session

	ready     chan struct{}
	readyOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
	stopOnce  sync.Once
}

// Watch starts a session subscription. A non-positive interval resolves once
// and never refreshes.
func Watch(ctx context.Context, source Source, token string, interval time.Duration, logger *logging.Logger) *Watcher {
	ctx, cancel := context.WithCancel(ctx)

	w := &Watcher{
		source:   source,
		token:    token,
		interval: interval,
		logger:   logging.OrGlobal(logger).Named("session"),
		current:  models.Session{State: models.SessionUnknown},
		ready:    make(chan struct{}),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go w.run(ctx)
	return w
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	defer w.markReady()

	w.refresh(ctx)
	if w.interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.refresh(ctx)
		}
	}
}

func (w *Watcher) refresh(ctx context.Context) {
	if w.token == "" {
		w.set(models.Anonymous())
		return
	}

	s, err := w.source.GetSession(ctx, w.token)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("session refresh failed", zap.Error(err))
		}
		w.markReady()
		return
	}
	w.set(s)
}

func (w *Watcher) set(s models.Session) {
	w.mu.Lock()
	w.current = s
	w.mu.Unlock()
	w.markReady()
}

func (w *Watcher) markReady() {
	w.readyOnce.Do(func() { close(w.ready) })
}

// Current returns the latest known session.
func (w *Watcher) Current() models.Session {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Ready is closed after the first resolution attempt.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Wait blocks until the first resolution attempt or until ctx ends, then
// returns the current session.
func (w *Watcher) Wait(ctx context.Context) models.Session {
	select {
	case <-w.ready:
	case <-ctx.Done():
	}
	return w.Current()
}

// Stop ends the subscription and waits for its goroutine. It is safe to call
// more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(w.cancel)
	<-w.done
}

// Done is closed once the subscription has stopped.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}
