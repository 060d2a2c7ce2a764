package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLimiter_Window(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLimiterWithClock(2, time.Minute, func() time.Time { return clock })
	defer l.Stop()

	if d := l.Hit("a"); !d.Allowed || d.Remaining != 1 {
		t.Fatalf("first hit: %+v", d)
	}
	if d := l.Hit("a"); !d.Allowed || d.Remaining != 0 {
		t.Fatalf("second hit: %+v", d)
	}
	clock = clock.Add(20 * time.Second)
	d := l.Hit("a")
	if d.Allowed {
		t.Fatalf("expected third hit to be refused")
	}
	if d.Reset != 40*time.Second {
		t.Fatalf("expected 40s until reset, got %v", d.Reset)
	}
	if d := l.Hit("b"); !d.Allowed {
		t.Fatalf("keys are counted separately")
	}

	clock = clock.Add(time.Minute)
	if d := l.Hit("a"); !d.Allowed {
		t.Fatalf("expected a new window")
	}
}

func TestRateLimit_PerRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := NewLimiter(1, time.Minute)
	defer l.Stop()
	throttled := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "throttled"}, []string{"route"})

	r := gin.New()
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	r.POST("/token", RateLimit(l, throttled), ok)
	r.POST("/signup", RateLimit(l, throttled), ok)

	send := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
		return w
	}

	if w := send("/token"); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w := send("/token")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", w.Header().Get("Retry-After"))
	}
	if w := send("/signup"); w.Code != http.StatusOK {
		t.Fatalf("expected another route to have its own budget, got %d", w.Code)
	}
	if got := testutil.ToFloat64(throttled.WithLabelValues("/token")); got != 1 {
		t.Fatalf("expected one throttled request, got %v", got)
	}
}
