package manager

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"propchain/pkg/cache"
	"propchain/pkg/cache/memory"
	"propchain/pkg/cache/mock"
	metricsmem "propchain/pkg/metrics/memory"
)

func newTestManager(t *testing.T, opts ...Option) (*Manager, *memory.MemoryCache) {
	t.Helper()
	store := memory.NewMemoryCache(memory.MemoryCacheConfig{
		Name:            "test",
		DefaultTTL:      time.Minute,
		CleanupInterval: time.Minute,
	})
	t.Cleanup(func() { store.Close() })
	return New(store, nil, opts...), store
}

func TestLoad_CachesLoaderResult(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	calls := 0
	loader := func(ctx context.Context) ([]string, error) {
		calls++
		return []string{"w1", "w2"}, nil
	}

	for i := 0; i < 3; i++ {
		got, err := Load(ctx, m, "withdrawals:user:u1", loader)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("Unexpected value %v", got)
		}
	}

	if calls != 1 {
		t.Errorf("Expected loader to run once, ran %d times", calls)
	}
}

func TestLoad_LoaderErrorIsNotCached(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := Load(ctx, m, "k", func(ctx context.Context) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected loader error, got %v", err)
	}

	if _, err := store.Get(ctx, "k"); !cache.IsNotFound(err) {
		t.Errorf("Expected nothing cached, got %v", err)
	}
}

func TestLoad_EmptyKeyBypassesCache(t *testing.T) {
	m, store := newTestManager(t)

	got, err := Load(context.Background(), m, "", func(ctx context.Context) (string, error) {
		return "direct", nil
	})
	if err != nil || got != "direct" {
		t.Fatalf("Unexpected result %q, %v", got, err)
	}
	if store.Len() != 0 {
		t.Errorf("Expected empty store, got %d entries", store.Len())
	}
}

func TestLoad_DecodesRawJSON(t *testing.T) {
	layer := mock.NewMockLayer("json")
	layer.GetFunc = func(ctx context.Context, key string) (interface{}, error) {
		return json.RawMessage(`{"id":"w1"}`), nil
	}
	m := New(layer, nil)

	type row struct {
		ID string `json:"id"`
	}

	got, err := Load(context.Background(), m, "k", func(ctx context.Context) (row, error) {
		t.Fatal("loader must not run on a hit")
		return row{}, nil
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.ID != "w1" {
		t.Errorf("Expected w1, got %q", got.ID)
	}
}

func TestLoad_UndecodableEntryFallsBackToLoader(t *testing.T) {
	layer := mock.NewMockLayer("junk")
	layer.GetFunc = func(ctx context.Context, key string) (interface{}, error) {
		return 42, nil
	}
	m := New(layer, nil)

	got, err := Load(context.Background(), m, "k", func(ctx context.Context) (string, error) {
		return "fresh", nil
	})
	if err != nil || got != "fresh" {
		t.Fatalf("Unexpected result %q, %v", got, err)
	}

	deleted := layer.DeletedKeys()
	if len(deleted) != 1 || deleted[0] != "k" {
		t.Errorf("Expected junk entry to be deleted, got %v", deleted)
	}
}

func TestLoad_ConcurrentCallersShareOneLoad(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	var calls int32
	release := make(chan struct{})
	loader := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 7, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, err := Load(ctx, m, "shared", loader); err != nil || v != 7 {
				t.Errorf("Unexpected result %d, %v", v, err)
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("Expected 1 loader call, got %d", n)
	}
}

func TestInvalidate_DeletesDeclaredKeys(t *testing.T) {
	collector := metricsmem.NewMemoryCollector()
	m, store := newTestManager(t, WithMetrics(collector))
	ctx := context.Background()

	listKey := cache.WithdrawalListKey("u1")
	balanceKey := cache.TreasuryBalanceKey("0.0.42")
	otherKey := cache.WithdrawalListKey("u2")
	for _, key := range []string{listKey, balanceKey, otherKey} {
		if err := m.Set(ctx, key, "cached"); err != nil {
			t.Fatalf("Set %s failed: %v", key, err)
		}
	}

	scope := cache.Scope{UserID: "u1", TreasuryAddress: "0.0.42"}
	if err := m.Invalidate(ctx, cache.OpWithdrawalInitiate, scope); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	for _, key := range []string{listKey, balanceKey} {
		if _, err := store.Get(ctx, key); !cache.IsNotFound(err) {
			t.Errorf("Expected %s to be invalidated, got %v", key, err)
		}
	}
	if _, err := store.Get(ctx, otherKey); err != nil {
		t.Errorf("Other user's list must survive, got %v", err)
	}

	if got := collector.Invalidations(string(cache.OpWithdrawalInitiate)); got != 2 {
		t.Errorf("Expected 2 invalidated keys recorded, got %d", got)
	}
}

func TestInvalidate_CancelLeavesBalance(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	listKey := cache.WithdrawalListKey("u1")
	balanceKey := cache.TreasuryBalanceKey("0.0.42")
	m.Set(ctx, listKey, "cached")
	m.Set(ctx, balanceKey, "cached")

	scope := cache.Scope{UserID: "u1", TreasuryAddress: "0.0.42"}
	if err := m.Invalidate(ctx, cache.OpWithdrawalCancel, scope); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	if _, err := store.Get(ctx, listKey); !cache.IsNotFound(err) {
		t.Errorf("Expected list to be invalidated, got %v", err)
	}
	if _, err := store.Get(ctx, balanceKey); err != nil {
		t.Errorf("Expected balance to survive cancel, got %v", err)
	}
}

func TestInvalidate_UnknownOperation(t *testing.T) {
	m, _ := newTestManager(t)

	err := m.Invalidate(context.Background(), cache.Operation("withdrawal.teleport"), cache.Scope{UserID: "u1"})
	if !errors.Is(err, cache.ErrUnknownOperation) {
		t.Errorf("Expected ErrUnknownOperation, got %v", err)
	}
}

func TestInvalidate_ReportsDeleteFailures(t *testing.T) {
	layer := mock.NewMockLayer("flaky")
	boom := errors.New("connection reset")
	layer.DeleteFunc = func(ctx context.Context, key string) error {
		return boom
	}
	m := New(layer, nil)

	err := m.Invalidate(context.Background(), cache.OpWithdrawalCancel, cache.Scope{UserID: "u1"})
	if !errors.Is(err, boom) {
		t.Errorf("Expected delete error, got %v", err)
	}
}

func TestInvalidate_DuringLoadSkipsFill(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	key := cache.WithdrawalListKey("u1")

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		Load(ctx, m, key, func(ctx context.Context) (string, error) {
			close(started)
			<-release
			return "stale", nil
		})
	}()

	<-started
	if err := m.Invalidate(ctx, cache.OpWithdrawalCancel, cache.Scope{UserID: "u1"}); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	close(release)
	<-done

	if _, err := store.Get(ctx, key); !cache.IsNotFound(err) {
		t.Errorf("A load overlapping an invalidation must not fill the cache, got %v", err)
	}
}

func TestLoad_AfterInvalidateDoesNotJoinEarlierLoad(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	key := cache.WithdrawalListKey("u1")

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		Load(ctx, m, key, func(ctx context.Context) (string, error) {
			close(started)
			<-release
			return "stale", nil
		})
	}()

	<-started
	if err := m.Invalidate(ctx, cache.OpWithdrawalInitiate, cache.Scope{UserID: "u1"}); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	got, err := Load(ctx, m, key, func(ctx context.Context) (string, error) {
		return "fresh", nil
	})
	close(release)
	<-done

	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != "fresh" {
		t.Errorf("Expected a load after invalidation to run its own loader, got %q", got)
	}

	cached, err := Load(ctx, m, key, func(ctx context.Context) (string, error) {
		return "unexpected", nil
	})
	if err != nil || cached != "fresh" {
		t.Errorf("Expected cached fresh value, got %q (%v)", cached, err)
	}
}

func TestSet_RejectsEmptyKey(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.Set(context.Background(), "", 1); !errors.Is(err, cache.ErrInvalidKey) {
		t.Errorf("Expected ErrInvalidKey, got %v", err)
	}
}
