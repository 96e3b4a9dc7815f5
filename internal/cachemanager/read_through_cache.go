package cachemanager

import (
	"context"
	"sync"
	"time"
)

// Source says how a ReadThroughCache produced a value.
type Source int

const (
	// SourceLoader means this call ran the loader.
	SourceLoader Source = iota
	// SourceCache means the value was already stored.
	SourceCache
	// SourceShared means the value came from a concurrent caller's load of the
	// same key.
	SourceShared
)

func (s Source) String() string {
	switch s {
	case SourceCache:
		return "hit"
	case SourceShared:
		return "shared"
	default:
		return "miss"
	}
}

// ReadThroughCache fills cache misses by calling a loader. Concurrent misses
// on one key run the loader once; the others wait for its value.
type ReadThroughCache[K comparable, V any, I any] struct {
	cache  CacheManager[K, V]
	load   func(ctx context.Context, input I) (V, error)
	bypass bool

	mu       sync.Mutex
	inflight map[K]*pendingLoad[V]
}

type pendingLoad[V any] struct {
	done  chan struct{}
	value V
	err   error
}

// NewReadThroughCache wraps cache around load. With bypass, or a nil cache,
// nothing is stored, though concurrent loads of one key are still shared.
func NewReadThroughCache[K comparable, V any, I any](
	cache CacheManager[K, V],
	load func(ctx context.Context, input I) (V, error),
	bypass bool,
) *ReadThroughCache[K, V, I] {
	return &ReadThroughCache[K, V, I]{
		cache:    cache,
		load:     load,
		bypass:   bypass || cache == nil,
		inflight: make(map[K]*pendingLoad[V]),
	}
}

// Get returns the cached value for key, loading and storing it on a miss.
// Errors are never cached.
func (r *ReadThroughCache[K, V, I]) Get(ctx context.Context, key K, input I, ttl time.Duration) (V, error) {
	v, _, err := r.Fetch(ctx, key, input, ttl, false)
	return v, err
}

// GetWithRefresh is Get, but a hit extends the entry's TTL.
func (r *ReadThroughCache[K, V, I]) GetWithRefresh(ctx context.Context, key K, input I, ttl time.Duration) (V, error) {
	v, _, err := r.Fetch(ctx, key, input, ttl, true)
	return v, err
}

// Fetch is Get that also reports where the value came from. With refresh a
// hit extends the entry's TTL.
func (r *ReadThroughCache[K, V, I]) Fetch(ctx context.Context, key K, input I, ttl time.Duration, refresh bool) (V, Source, error) {
	if !r.bypass {
		var (
			value V
			ok    bool
		)
		if refresh {
			value, ok = r.cache.GetWithRefresh(ctx, key, ttl)
		} else {
			value, ok = r.cache.Get(ctx, key)
		}
		if ok {
			return value, SourceCache, nil
		}
	}

	r.mu.Lock()
	if p, ok := r.inflight[key]; ok {
		r.mu.Unlock()
		select {
		case <-p.done:
			return p.value, SourceShared, p.err
		case <-ctx.Done():
			var zero V
			return zero, SourceShared, ctx.Err()
		}
	}
	p := &pendingLoad[V]{done: make(chan struct{})}
	r.inflight[key] = p
	r.mu.Unlock()

	p.value, p.err = r.load(ctx, input)
	if p.err == nil && !r.bypass {
		r.cache.Set(ctx, key, p.value, ttl)
	}

	r.mu.Lock()
	delete(r.inflight, key)
	r.mu.Unlock()
	close(p.done)

	return p.value, SourceLoader, p.err
}
