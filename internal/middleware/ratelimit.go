package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"youth-mis/internal/apperr"
	"youth-mis/internal/wire"
)

// Limiter allows at most limit hits per key in each fixed window.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	done    chan struct{}
	once    sync.Once
}

type bucket struct {
	hits    int
	resetAt time.Time
}

// Decision is the outcome of one hit.
type Decision struct {
	Allowed   bool
	Remaining int
	// Reset is the time left in the current window.
	Reset time.Duration
}

func NewLimiter(limit int, window time.Duration) *Limiter {
	return NewLimiterWithClock(limit, window, time.Now)
}

func NewLimiterWithClock(limit int, window time.Duration, now func() time.Time) *Limiter {
	l := &Limiter{
		limit:   limit,
		window:  window,
		now:     now,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	if window > 0 {
		go l.sweep()
	}
	return l
}

// Stop ends the background sweep.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.done) })
}

// sweep drops expired buckets once per window.
func (l *Limiter) sweep() {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
		}
		l.mu.Lock()
		now := l.now()
		for key, b := range l.buckets {
			if now.After(b.resetAt) {
				delete(l.buckets, key)
			}
		}
		l.mu.Unlock()
	}
}

func (l *Limiter) Hit(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok || now.After(b.resetAt) {
		b = &bucket{resetAt: now.Add(l.window)}
		l.buckets[key] = b
	}
	left := b.resetAt.Sub(now)
	if b.hits >= l.limit {
		return Decision{Allowed: false, Reset: left}
	}
	b.hits++
	return Decision{Allowed: true, Remaining: l.limit - b.hits, Reset: left}
}

// RateLimit throttles by client address and route. Rejections are counted
// on throttled when it is not nil.
func RateLimit(l *Limiter, throttled *prometheus.CounterVec) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		d := l.Hit(route + "|" + c.ClientIP())
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if d.Allowed {
			c.Next()
			return
		}
		if throttled != nil {
			throttled.WithLabelValues(route).Inc()
		}
		secs := int((d.Reset + time.Second - 1) / time.Second)
		c.Header("Retry-After", strconv.Itoa(secs))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, wire.ErrorBody{
			Error: "too many requests, retry in " + strconv.Itoa(secs) + "s",
			Code:  apperr.KindNetwork.String(),
		})
	}
}
