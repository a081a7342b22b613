package notify

import (
	"context"
	"fmt"
	"io"
	"sync"

	"propchain/pkg/logging"
	"propchain/pkg/metrics"

	"go.uber.org/zap"
)

// LogSink writes notifications to the structured log.
type LogSink struct {
	logger *logging.Logger
}

func NewLogSink(logger *logging.Logger) *LogSink {
	return &LogSink{logger: logging.OrGlobal(logger).Named("notify")}
}

func (s *LogSink) Notify(ctx context.Context, n Notification) {
	fields := []zap.Field{
		logging.Operation(n.Operation),
		zap.String("title", n.Title),
		zap.String("message", n.Message),
	}
	if n.UserID != "" {
		fields = append(fields, logging.UserID(n.UserID))
	}

	if n.Kind == KindError {
		s.logger.Warn("notification", fields...)
		return
	}
	s.logger.Info("notification", fields...)
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Notify(ctx context.Context, n Notification) {
	r.mu.Lock()
	r.items = append(r.items, n)
	r.mu.Unlock()
}

// Notifications returns a copy of the recorded notifications in order.
func (r *Recorder) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Last returns the most recent notification.
func (r *Recorder) Last() (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return Notification{}, false
	}
	return r.items[len(r.items)-1], true
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.items = nil
	r.mu.Unlock()
}

// Writer prints one line per notification, for terminals.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
}

func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

func (w *Writer) Notify(ctx context.Context, n Notification) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, "[%s] %s: %s\n", n.Kind, n.Title, n.Message)
}

// Fanout delivers to every sink in order.
type Fanout []Sink

func (f Fanout) Notify(ctx context.Context, n Notification) {
	for _, s := range f {
		s.Notify(ctx, n)
	}
}

// Metered counts notifications by kind before passing them on.
type Metered struct {
	next    Sink
	metrics metrics.MetricsCollector
}

func NewMetered(next Sink, collector metrics.MetricsCollector) *Metered {
	return &Metered{next: next, metrics: metrics.OrNoOp(collector)}
}

func (m *Metered) Notify(ctx context.Context, n Notification) {
	m.metrics.RecordNotification(string(n.Kind))
	m.next.Notify(ctx, n)
}
