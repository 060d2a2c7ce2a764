// Package cache is the process-wide query cache shared by every consumer of
// the data façade. Entries are invalidated (marked stale) rather than deleted,
// concurrent misses for one key share a single fetch, and a fetch result is
// only committed if no newer fetch, put or invalidation was issued for its key.
package cache

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const DefaultFetchTimeout = 30 * time.Second

type Entry struct {
	Key       Key
	Payload   any
	Stale     bool
	Loading   bool
	Err       error
	FetchedAt time.Time

	loadingSeq uint64
}

// Fresh reports whether the payload may be served without a refetch.
func (e Entry) Fresh() bool {
	return !e.Stale && !e.FetchedAt.IsZero()
}

// FetchFunc performs the remote read for a key. The context it receives is
// bounded by the cache's fetch timeout and is not cancelled by callers.
type FetchFunc func(ctx context.Context) (any, error)

type Options struct {
	FetchTimeout time.Duration
	Now          func() time.Time
	Metrics      *Metrics
}

type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	seq     *seqGenerator
	group   singleflight.Group

	timeout time.Duration
	now     func() time.Time
	metrics *Metrics
}

func New() *Cache {
	return NewWithOptions(Options{})
}

func NewWithOptions(opts Options) *Cache {
	c := &Cache{
		entries: make(map[string]*Entry),
		seq:     newSeqGenerator(),
		timeout: opts.FetchTimeout,
		now:     opts.Now,
		metrics: opts.Metrics,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultFetchTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	return c
}

// Get returns the entry only when it is present and fresh; a stale or
// never-loaded entry is a miss.
func (c *Cache) Get(key Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key.String()]
	if !ok || !e.Fresh() {
		return Entry{}, false
	}
	return *e, true
}

// Peek returns the entry even when stale, for stale-while-revalidate display.
func (c *Cache) Peek(key Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key.String()]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Put stores payload as fresh. Any fetch still in flight for key is outdated.
func (c *Cache) Put(key Key, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq.next(key.String())

	e := c.entryLocked(key)
	e.Payload = payload
	e.Stale = false
	e.Err = nil
	e.Loading = false
	e.FetchedAt = c.now()
}

// Invalidate marks every entry matching pred stale and returns how many were
// fresh before. Payloads are kept. Fetches in flight for matching keys will
// not be committed, and the next read starts a new fetch instead of joining
// them. Invalidating an already-stale entry leaves it stale.
func (c *Cache) Invalidate(pred func(Key) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for ks, e := range c.entries {
		if !pred(e.Key) {
			continue
		}
		if e.Fresh() {
			n++
		}
		e.Stale = true
		c.seq.next(ks)
	}
	c.metrics.Invalidations.Add(float64(n))
	return n
}

func (c *Cache) InvalidateTable(table string) int {
	return c.Invalidate(DependsOn(table))
}

// Clear drops every entry. Fetches still in flight are discarded on return
// and nobody joins them afterwards.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for ks := range c.entries {
		c.seq.next(ks)
	}
	c.entries = make(map[string]*Entry)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys lists the cached keys in a stable order.
func (c *Cache) Keys() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Key, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.Key)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Fetch returns the fresh payload for key, or performs fn. Concurrent callers
// missing on the same key share one call of fn and observe the same result.
// A caller whose ctx ends stops waiting and gets ctx.Err(); the shared fetch
// keeps running for the others.
func (c *Cache) Fetch(ctx context.Context, key Key, fn FetchFunc) (any, error) {
	if e, ok := c.Get(key); ok {
		c.metrics.Hits.Inc()
		return e.Payload, nil
	}
	c.metrics.Misses.Inc()
	return c.do(ctx, key, fn)
}

// Refetch ignores any fresh entry and joins or starts a new fetch.
func (c *Cache) Refetch(ctx context.Context, key Key, fn FetchFunc) (any, error) {
	c.mu.Lock()
	c.seq.next(key.String())
	c.mu.Unlock()

	return c.do(ctx, key, fn)
}

// do joins the fetch for key's current sequence or starts one. The entry is
// created before the flight is registered, so Invalidate and Clear always see
// a pending fetch and move later callers onto a new flight.
func (c *Cache) do(ctx context.Context, key Key, fn FetchFunc) (any, error) {
	ks := key.String()
	c.mu.Lock()
	e := c.entryLocked(key)
	if e.Fresh() {
		payload := e.Payload
		c.mu.Unlock()
		return payload, nil
	}
	seq := c.seq.current(ks)
	e.Loading = true
	e.loadingSeq = seq
	c.mu.Unlock()

	ch := c.group.DoChan(ks+"#"+strconv.FormatUint(seq, 10), func() (any, error) {
		return c.run(ctx, key, seq, fn)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		c.settle(key, seq)
		return res.Val, res.Err
	}
}

func (c *Cache) run(callerCtx context.Context, key Key, seq uint64, fn FetchFunc) (any, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(callerCtx), c.timeout)
	defer cancel()

	payload, err := fn(ctx)
	c.finish(key, seq, payload, err)
	return payload, err
}

// settle clears Loading for a caller that joined a flight after it had
// already finished.
func (c *Cache) settle(key Key, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key.String()]; ok && e.loadingSeq == seq {
		e.Loading = false
	}
}

func (c *Cache) finish(key Key, seq uint64, payload any, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ks := key.String()
	e, ok := c.entries[ks]
	if !ok {
		c.metrics.Discarded.Inc()
		return
	}
	if e.loadingSeq == seq {
		e.Loading = false
	}
	if seq != c.seq.current(ks) {
		c.metrics.Discarded.Inc()
		return
	}
	if err != nil {
		c.metrics.FetchErrors.Inc()
		e.Err = err
		return
	}
	e.Payload = payload
	e.Stale = false
	e.Err = nil
	e.FetchedAt = c.now()
}

func (c *Cache) entryLocked(key Key) *Entry {
	ks := key.String()
	e, ok := c.entries[ks]
	if !ok {
		e = &Entry{Key: key}
		c.entries[ks] = e
	}
	return e
}
