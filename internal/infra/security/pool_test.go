package security

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type blockingHasher struct {
	active  atomic.Int32
	maxSeen atomic.Int32
	release chan struct{}
}

func (b *blockingHasher) enter() {
	n := b.active.Add(1)
	for {
		seen := b.maxSeen.Load()
		if n <= seen || b.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	<-b.release
	b.active.Add(-1)
}

func (b *blockingHasher) Hash(context.Context, string) (string, error) {
	b.enter()
	return "digest", nil
}

func (b *blockingHasher) Verify(context.Context, string, string) (bool, error) {
	b.enter()
	return true, nil
}

func (b *blockingHasher) NeedsRehash(string) bool { return false }

func TestHasherPoolBoundsConcurrency(t *testing.T) {
	inner := &blockingHasher{release: make(chan struct{})}
	pool := NewHasherPool(inner, 2, nil)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = pool.Hash(context.Background(), "Passw0rd")
		}()
	}

	deadline := time.After(2 * time.Second)
	for inner.active.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("workers never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	close(inner.release)
	wg.Wait()

	if got := inner.maxSeen.Load(); got > 2 {
		t.Fatalf("expected at most 2 concurrent hashes, saw %d", got)
	}
}

func TestHasherPoolHonoursContext(t *testing.T) {
	inner := &blockingHasher{release: make(chan struct{})}
	pool := NewHasherPool(inner, 1, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = pool.Hash(context.Background(), "first")
	}()
	for inner.active.Load() < 1 {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := pool.Verify(ctx, "second", "digest"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error while pool is saturated, got %v", err)
	}

	close(inner.release)
	<-done
}

func TestHasherPoolObservesDurations(t *testing.T) {
	h := newTestHasher(t)
	var ops []string
	pool := NewHasherPool(h, 0, func(op string, elapsed time.Duration) {
		ops = append(ops, op)
	})
	if pool.Size() <= 0 {
		t.Fatal("default pool size must be positive")
	}

	encoded, err := pool.Hash(context.Background(), "Passw0rd")
	if err != nil {
		t.Fatalf("Hash returned error: %v", err)
	}
	if ok, err := pool.Verify(context.Background(), "Passw0rd", encoded); err != nil || !ok {
		t.Fatalf("Verify failed: ok=%v err=%v", ok, err)
	}
	if len(ops) != 2 || ops[0] != "hash" || ops[1] != "verify" {
		t.Fatalf("unexpected observed ops %v", ops)
	}
}
