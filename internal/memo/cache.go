// Package memo provides a keyed, concurrency-safe memoization cache for
// values that are expensive to produce, such as loaded speech models and
// finished transcripts.
//
// A value is computed at most once per key while it stays cached. Concurrent
// callers asking for the same missing key wait for a single computation.
// Failed computations are returned to every waiting caller and are never
// stored, so the next call for that key computes again.
package memo

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Stats holds cache counters.
type Stats struct {
	Entries   int
	Hits      int64
	Misses    int64
	Computes  int64
	Failures  int64
	Evictions int64
}

// Cache memoizes values of type V under comparable keys of type K.
// The zero value is not usable; create caches with New.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	items    map[K]*list.Element
	order    *list.List // front = most recently used
	capacity int

	flights   singleflight.Group
	keyString func(K) string

	stats Stats
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// Option configures a Cache.
type Option[K comparable] func(*options[K])

type options[K comparable] struct {
	capacity  int
	keyString func(K) string
}

// WithCapacity bounds the cache to n entries with least-recently-used
// eviction. n <= 0 keeps the cache unbounded.
func WithCapacity[K comparable](n int) Option[K] {
	return func(o *options[K]) { o.capacity = n }
}

// WithKeyString overrides how keys are turned into in-flight identifiers.
// The function must be injective over the keys in use.
func WithKeyString[K comparable](fn func(K) string) Option[K] {
	return func(o *options[K]) { o.keyString = fn }
}

func New[K comparable, V any](opts ...Option[K]) *Cache[K, V] {
	o := options[K]{keyString: defaultKeyString[K]}
	for _, opt := range opts {
		opt(&o)
	}

	return &Cache[K, V]{
		items:     make(map[K]*list.Element),
		order:     list.New(),
		capacity:  o.capacity,
		keyString: o.keyString,
	}
}

// %#v quotes strings inside structs, which keeps composite keys apart.
func defaultKeyString[K comparable](key K) string {
	return fmt.Sprintf("%#v", key)
}

// GetOrCompute returns the cached value for key, or runs compute, caches its
// result and returns it. Errors from compute are returned unchanged and leave
// the cache untouched.
func (c *Cache[K, V]) GetOrCompute(key K, compute func() (V, error)) (V, error) {
	if value, ok := c.hit(key); ok {
		return value, nil
	}

	result, err, _ := c.flights.Do(c.keyString(key), c.flight(key, compute))
	return unpack[V](result, err)
}

// GetOrComputeContext is GetOrCompute for computations that take a context.
// The shared computation runs under a context that keeps ctx's values but
// not its cancellation, so one caller giving up never fails the others
// waiting on the same key. A caller whose ctx ends stops waiting and gets
// ctx.Err(); the computation carries on and is cached for later callers.
func (c *Cache[K, V]) GetOrComputeContext(ctx context.Context, key K, compute func(context.Context) (V, error)) (V, error) {
	if value, ok := c.hit(key); ok {
		return value, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(c.keyString(key), c.flight(key, func() (V, error) {
		return compute(detached)
	}))

	select {
	case res := <-ch:
		return unpack[V](res.Val, res.Err)
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

func (c *Cache[K, V]) hit(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, ok := c.lookupLocked(key)
	if ok {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	return value, ok
}

func (c *Cache[K, V]) flight(key K, compute func() (V, error)) func() (any, error) {
	return func() (any, error) {
		// A flight for this key may have finished between the miss and here.
		c.mu.Lock()
		if value, ok := c.lookupLocked(key); ok {
			c.mu.Unlock()
			return value, nil
		}
		c.mu.Unlock()

		value, err := compute()

		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			c.stats.Failures++
			return nil, err
		}
		c.stats.Computes++
		c.storeLocked(key, value)
		return value, nil
	}
}

func unpack[V any](result any, err error) (V, error) {
	if err != nil {
		var zero V
		return zero, err
	}
	value, _ := result.(V)
	return value, nil
}

// Peek returns the cached value for key without computing or touching
// recency or counters.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	return elem.Value.(*entry[K, V]).value, true
}

func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Entries = len(c.items)
	return stats
}

func (c *Cache[K, V]) lookupLocked(key K) (V, bool) {
	elem, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*entry[K, V]).value, true
}

func (c *Cache[K, V]) storeLocked(key K, value V) {
	if elem, ok := c.items[key]; ok {
		elem.Value.(*entry[K, V]).value = value
		c.order.MoveToFront(elem)
		return
	}

	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value})

	for c.capacity > 0 && c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*entry[K, V]).key)
		c.stats.Evictions++
	}
}
