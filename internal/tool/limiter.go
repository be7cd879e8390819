package tool

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds the number of concurrently running tool processes.
type Limiter struct {
	sem   *semaphore.Weighted
	size  int64
	inUse atomic.Int64
}

func NewLimiter(size int) *Limiter {
	if size < 1 {
		size = 1
	}
	return &Limiter{
		sem:  semaphore.NewWeighted(int64(size)),
		size: int64(size),
	}
}

type reservationKey struct{}

type reservation struct {
	l         *Limiter
	remaining atomic.Int64
}

// Acquire blocks until n process slots are free or ctx is done. The returned
// context carries the slots so that tool calls made with it run without
// acquiring again. release must be called once the work is finished.
func (l *Limiter) Acquire(ctx context.Context, n int) (context.Context, func(), error) {
	if l == nil {
		return ctx, func() {}, nil
	}
	w := int64(n)
	if w > l.size {
		w = l.size
	}
	if err := l.sem.Acquire(ctx, w); err != nil {
		return ctx, nil, err
	}
	l.inUse.Add(w)

	r := &reservation{l: l}
	r.remaining.Store(w)

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.inUse.Add(-w)
			l.sem.Release(w)
		})
	}
	return context.WithValue(ctx, reservationKey{}, r), release, nil
}

// slot takes one unit from a reservation on ctx, or acquires a fresh one.
func (l *Limiter) slot(ctx context.Context) (func(), error) {
	if l == nil {
		return func() {}, nil
	}
	if r, ok := ctx.Value(reservationKey{}).(*reservation); ok && r.l == l {
		if r.remaining.Add(-1) >= 0 {
			var once sync.Once
			return func() { once.Do(func() { r.remaining.Add(1) }) }, nil
		}
		r.remaining.Add(1)
	}
	_, release, err := l.Acquire(ctx, 1)
	return release, err
}

// Size returns the pool capacity.
func (l *Limiter) Size() int {
	if l == nil {
		return 0
	}
	return int(l.size)
}

// InUse returns the number of held slots.
func (l *Limiter) InUse() int {
	if l == nil {
		return 0
	}
	return int(l.inUse.Load())
}
