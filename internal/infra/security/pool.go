package security

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/arklim/identity-service/internal/core/port"
)

// HashObserver receives the duration of each hashing operation.
type HashObserver func(op string, elapsed time.Duration)

// HasherPool bounds how many hashing operations run at once. Callers waiting for
// a slot give up when their context is done.
type HasherPool struct {
	inner    port.PasswordHasher
	sem      *semaphore.Weighted
	size     int64
	observer HashObserver
}

// NewHasherPool wraps inner with a pool of size workers; size <= 0 uses runtime.NumCPU().
func NewHasherPool(inner port.PasswordHasher, size int, observer HashObserver) *HasherPool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &HasherPool{
		inner:    inner,
		sem:      semaphore.NewWeighted(int64(size)),
		size:     int64(size),
		observer: observer,
	}
}

// Size returns the number of concurrent hashing slots.
func (p *HasherPool) Size() int {
	return int(p.size)
}

// Hash acquires a slot and hashes password.
func (p *HasherPool) Hash(ctx context.Context, password string) (string, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire hashing slot: %w", err)
	}
	defer p.sem.Release(1)

	start := time.Now()
	encoded, err := p.inner.Hash(ctx, password)
	p.observe("hash", start)
	return encoded, err
}

// Verify acquires a slot and verifies password against encoded.
func (p *HasherPool) Verify(ctx context.Context, password, encoded string) (bool, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return false, fmt.Errorf("acquire hashing slot: %w", err)
	}
	defer p.sem.Release(1)

	start := time.Now()
	ok, err := p.inner.Verify(ctx, password, encoded)
	p.observe("verify", start)
	return ok, err
}

// NeedsRehash delegates to the wrapped hasher; it does no hashing work.
func (p *HasherPool) NeedsRehash(encoded string) bool {
	return p.inner.NeedsRehash(encoded)
}

func (p *HasherPool) observe(op string, start time.Time) {
	if p.observer != nil {
		p.observer(op, time.Since(start))
	}
}
