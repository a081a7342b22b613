package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"propchain/pkg/logging"
	"propchain/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) (models.Session, error)
}

func (f *fakeSource) GetSession(ctx context.Context, token string) (models.Session, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(call)
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestWatch_ResolvesImmediately(t *testing.T) {
	src := &fakeSource{fn: func(int) (models.Session, error) {
		return models.Session{State: models.SessionAuthenticated, UserID: "user-1"}, nil
	}}

	w := Watch(context.Background(), src, "token", time.Hour, logging.NewNoOpLogger())
	defer w.Stop()

	s := w.Wait(context.Background())
	assert.Equal(t, "user-1", s.UserID)
	assert.True(t, s.Authenticated())
}

func TestWatch_EmptyTokenIsAnonymous(t *testing.T) {
	src := &fakeSource{fn: func(int) (models.Session, error) {
		t.Fatal("source must not be called without a token")
		return models.Session{}, nil
	}}

	w := Watch(context.Background(), src, "", time.Hour, logging.NewNoOpLogger())
	defer w.Stop()

	s := w.Wait(context.Background())
	assert.Equal(t, models.SessionUnauthenticated, s.State)
}

func TestWatch_FailureKeepsPreviousSession(t *testing.T) {
	src := &fakeSource{fn: func(call int) (models.Session, error) {
		if call == 1 {
			return models.Session{State: models.SessionAuthenticated, UserID: "user-1"}, nil
		}
		return models.Session{}, errors.New("network down")
	}}

	w := Watch(context.Background(), src, "token", 5*time.Millisecond, logging.NewNoOpLogger())
	defer w.Stop()

	w.Wait(context.Background())
	require.Eventually(t, func() bool { return src.Calls() >= 3 }, time.Second, time.Millisecond)

	assert.Equal(t, "user-1", w.Current().UserID)
}

func TestWatch_FirstFailureStaysUnknown(t *testing.T) {
	src := &fakeSource{fn: func(int) (models.Session, error) {
		return models.Session{}, errors.New("network down")
	}}

	w := Watch(context.Background(), src, "token", time.Hour, logging.NewNoOpLogger())
	defer w.Stop()

	s := w.Wait(context.Background())
	assert.Equal(t, models.SessionUnknown, s.State)
}

func TestWatch_StopIsIdempotent(t *testing.T) {
	src := &fakeSource{fn: func(int) (models.Session, error) {
		return models.Anonymous(), nil
	}}

	w := Watch(context.Background(), src, "token", time.Millisecond, logging.NewNoOpLogger())
	w.Stop()
	w.Stop()

	select {
	case <-w.Done():
	default:
		t.Fatal("Done must be closed after Stop")
	}

	calls := src.Calls()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, calls, src.Calls(), "no refresh may run after Stop")
}

func TestWatch_ContextCancelStops(t *testing.T) {
	src := &fakeSource{fn: func(int) (models.Session, error) {
		return models.Anonymous(), nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	w := Watch(ctx, src, "token", time.Millisecond, logging.NewNoOpLogger())
	cancel()

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop after context cancel")
	}
}
