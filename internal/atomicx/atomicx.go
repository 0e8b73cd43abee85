// Package atomicx provides constructors for initialized atomics.
package atomicx

import (
	"sync/atomic"
	"time"

	"golang.org/x/exp/constraints"
)

func Pointer[T any](v T) (r *atomic.Pointer[T]) {
	r = &atomic.Pointer[T]{}
	r.Store(&v)
	return r
}

func Uint32[T constraints.Integer](n T) (r *atomic.Uint32) {
	r = &atomic.Uint32{}
	r.Store(uint32(n))
	return r
}

func Bool(n bool) (r *atomic.Bool) {
	r = &atomic.Bool{}
	r.Store(n)
	return r
}

// Duration is an atomic time.Duration.
type Duration struct {
	d atomic.Int64
}

func (t *Duration) Store(d time.Duration) {
	t.d.Store(int64(d))
}

func (t *Duration) Load() time.Duration {
	return time.Duration(t.d.Load())
}
