package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"youth-mis/internal/apperr"
	"youth-mis/internal/backend"
	"youth-mis/internal/backend/embedded"
	"youth-mis/internal/model"
)

type staticToken string

func (s staticToken) AccessToken() string { return string(s) }

type invalidations struct {
	mu     sync.Mutex
	counts map[string]int
}

func (i *invalidations) InvalidateTable(table string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.counts == nil {
		i.counts = map[string]int{}
	}
	i.counts[table]++
	return 1
}

func (i *invalidations) count(table string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.counts[table]
}

// recordingDialer remembers every connection so tests can drop them.
type recordingDialer struct {
	backend.Realtime
	mu       sync.Mutex
	conns    []backend.Conn
	failures int
}

func (d *recordingDialer) Dial(ctx context.Context, token string) (backend.Conn, error) {
	d.mu.Lock()
	if d.failures > 0 {
		d.failures--
		d.mu.Unlock()
		return nil, apperr.New(apperr.KindNetwork, "dial", "connection refused")
	}
	d.mu.Unlock()
	c, err := d.Realtime.Dial(ctx, token)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *recordingDialer) dropLast() {
	d.mu.Lock()
	c := d.conns[len(d.conns)-1]
	d.mu.Unlock()
	_ = c.Close()
}

func fastBackOff() backoff.BackOff { return backoff.NewConstantBackOff(5 * time.Millisecond) }

type env struct {
	b     *embedded.Backend
	token string
	inv   *invalidations
	dial  *recordingDialer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	b, err := embedded.New(context.Background(), embedded.Options{Secret: "test-secret"})
	require.NoError(t, err)
	t.Cleanup(b.Close)
	s, err := b.SignUp(context.Background(), "staff@example.com", "correct horse", map[string]any{"role": "staff"})
	require.NoError(t, err)
	return &env{b: b, token: s.AccessToken, inv: &invalidations{}, dial: &recordingDialer{Realtime: b.Backend().Realtime}}
}

func (e *env) listener(tables ...string) *Listener {
	return New(Options{
		Realtime:   e.dial,
		Tokens:     staticToken(e.token),
		Cache:      e.inv,
		Tables:     tables,
		NewBackOff: fastBackOff,
	})
}

func (e *env) insert(t *testing.T, table string, row model.Row) {
	t.Helper()
	_, err := e.b.Insert(context.Background(), e.token, table, []model.Row{row})
	require.NoError(t, err)
}

func waitState(t *testing.T, l *Listener, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return l.State() == want }, 2*time.Second, 5*time.Millisecond, "state %s", want)
}

func TestChangeInvalidatesTable(t *testing.T) {
	e := newEnv(t)
	l := e.listener(model.TablePrograms, model.TableJobs)

	var mu sync.Mutex
	var events []model.ChangeEvent
	l.OnEvent(func(ev model.ChangeEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()
	waitState(t, l, Subscribed)
	base := e.inv.count(model.TablePrograms)

	e.insert(t, model.TablePrograms, model.Row{"name": "Robotics", "status": "planned"})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, base+1, e.inv.count(model.TablePrograms))

	mu.Lock()
	assert.Equal(t, model.OpInsert, events[0].Op)
	mu.Unlock()
	assert.Equal(t, 1, e.inv.count(model.TableJobs), "jobs only saw the subscribe sweep")
}

func TestStateTransitions(t *testing.T) {
	e := newEnv(t)
	l := e.listener(model.TablePrograms)

	var mu sync.Mutex
	var seen []State
	l.OnState(func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	require.NoError(t, l.Start(context.Background()))
	waitState(t, l, Subscribed)
	assert.ErrorIs(t, l.Start(context.Background()), ErrRunning)
	l.Stop()

	assert.Equal(t, Disconnected, l.State())
	mu.Lock()
	assert.Equal(t, []State{Connecting, Subscribed, Disconnected}, seen)
	mu.Unlock()
}

func TestNoEventsAfterStop(t *testing.T) {
	e := newEnv(t)
	l := e.listener(model.TablePrograms)
	require.NoError(t, l.Start(context.Background()))
	waitState(t, l, Subscribed)
	l.Stop()

	before := e.inv.count(model.TablePrograms)
	e.insert(t, model.TablePrograms, model.Row{"name": "Late", "status": "planned"})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, e.inv.count(model.TablePrograms))
	assert.Zero(t, e.b.Core().Hub.Subscribers(model.TablePrograms), "the subscription is torn down")
}

func TestReconnectAfterDrop(t *testing.T) {
	e := newEnv(t)
	l := e.listener(model.TablePrograms)
	l.opts.Metrics = NewMetrics(prometheus.NewRegistry())
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()
	waitState(t, l, Subscribed)
	before := e.inv.count(model.TablePrograms)

	e.dial.dropLast()
	require.Eventually(t, func() bool { return l.Reconnects() == 1 && l.State() == Subscribed }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, before+1, e.inv.count(model.TablePrograms), "a reconnect invalidates every watched table")
	assert.Equal(t, 1.0, testutil.ToFloat64(l.opts.Metrics.Reconnects))

	e.insert(t, model.TablePrograms, model.Row{"name": "After", "status": "planned"})
	require.Eventually(t, func() bool { return e.inv.count(model.TablePrograms) == before+2 }, time.Second, 5*time.Millisecond)
}

func TestDialFailuresBackOff(t *testing.T) {
	e := newEnv(t)
	e.dial.failures = 3
	l := e.listener(model.TablePrograms)
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()
	waitState(t, l, Subscribed)
	assert.Zero(t, l.Reconnects(), "the first successful subscription is not a reconnect")
}

func TestRejectedSessionEndsLoop(t *testing.T) {
	e := newEnv(t)
	l := New(Options{Realtime: e.dial, Tokens: staticToken("bogus"), Cache: e.inv, Tables: []string{model.TablePrograms}, NewBackOff: fastBackOff})
	require.NoError(t, l.Start(context.Background()))
	require.Eventually(t, func() bool { return l.Err() != nil }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, l.Err(), apperr.Auth)
	waitState(t, l, Disconnected)
	l.Stop()

	require.NoError(t, l.Start(context.Background()), "a finished listener can be started again")
	l.Stop()
}

func TestRejectedTokenIsReportedAfterExit(t *testing.T) {
	e := newEnv(t)
	got := make(chan string, 1)
	var l *Listener
	l = New(Options{
		Realtime:   e.dial,
		Tokens:     staticToken("revoked"),
		Cache:      e.inv,
		Tables:     []string{model.TablePrograms},
		NewBackOff: fastBackOff,
		Rejected: func(token string) {
			l.Stop() // the loop has exited, so this must not block
			got <- token
		},
	})
	require.NoError(t, l.Start(context.Background()))
	select {
	case token := <-got:
		assert.Equal(t, "revoked", token)
	case <-time.After(2 * time.Second):
		t.Fatal("rejection was not reported")
	}
}

func TestUnreadableTablesAreSkipped(t *testing.T) {
	e := newEnv(t)
	s, err := e.b.SignUp(context.Background(), "kid@example.com", "correct horse", map[string]any{"role": "student"})
	require.NoError(t, err)
	l := New(Options{
		Realtime:   e.dial,
		Tokens:     staticToken(s.AccessToken),
		Cache:      e.inv,
		Tables:     []string{model.TablePrograms, model.TableEmployees},
		NewBackOff: fastBackOff,
	})
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()
	waitState(t, l, Subscribed)

	before := e.inv.count(model.TableEmployees)
	e.insert(t, model.TableEmployees, model.Row{"full_name": "Grace"})
	e.insert(t, model.TablePrograms, model.Row{"name": "Coding Club", "status": "planned"})
	require.Eventually(t, func() bool { return e.inv.count(model.TablePrograms) >= 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, before, e.inv.count(model.TableEmployees), "no change frames for a table the caller cannot read")
	assert.Equal(t, Subscribed, l.State())
}

func TestUnknownTableFailsSubscribe(t *testing.T) {
	e := newEnv(t)
	l := e.listener("nope")
	var mu sync.Mutex
	connecting := 0
	l.OnState(func(s State) {
		if s == Connecting {
			mu.Lock()
			connecting++
			mu.Unlock()
		}
	})
	require.NoError(t, l.Start(context.Background()))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connecting >= 2
	}, 2*time.Second, 5*time.Millisecond, "a rejected subscription is retried")
	l.Stop()
	assert.Equal(t, Disconnected, l.State())
}

func TestStartRequiresTables(t *testing.T) {
	l := New(Options{})
	assert.ErrorIs(t, l.Start(context.Background()), ErrNoTables)
	l.Stop()
}
