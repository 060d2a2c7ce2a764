// Package realtime keeps the query cache honest by listening to the
// backend's change feed and invalidating every entry of a changed table.
package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"youth-mis/internal/apperr"
	"youth-mis/internal/backend"
	"youth-mis/internal/logger"
	"youth-mis/internal/model"
	"youth-mis/internal/wire"
)

const DefaultSubscribeTimeout = 10 * time.Second

type State int

const (
	Disconnected State = iota
	Connecting
	Subscribed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	}
	return "unknown"
}

var (
	ErrRunning     = errors.New("listener already running")
	ErrNoTables    = errors.New("no tables to watch")
	errNotSignedIn = apperr.New(apperr.KindAuth, "realtime", "not signed in")
)

// Invalidator is the part of the query cache the listener drives.
type Invalidator interface {
	InvalidateTable(table string) int
}

type TokenSource interface {
	AccessToken() string
}

type Options struct {
	Realtime backend.Realtime
	Tokens   TokenSource
	Cache    Invalidator
	Tables   []string
	// NewBackOff builds the reconnect schedule. It must never return
	// backoff.Stop; the default retries forever, capped at 30s.
	NewBackOff       func() backoff.BackOff
	SubscribeTimeout time.Duration
	// Rejected is called with the token the backend refused, after the loop
	// has exited. The session store uses it to force a sign-out.
	Rejected func(token string)
	Metrics  *Metrics
	Logger   *logger.Logger
}

// Listener owns one connection per session with one subscription per
// watched table.
type Listener struct {
	opts Options
	log  *logger.Logger

	mu        sync.Mutex
	state     State
	cancel    context.CancelFunc
	done      chan struct{}
	stopped   bool
	lastErr   error
	stateFns  map[int]func(State)
	eventFns  map[int]func(model.ChangeEvent)
	nextHook  int
	reconnect int
}

func New(opts Options) *Listener {
	if opts.NewBackOff == nil {
		opts.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		}
	}
	if opts.SubscribeTimeout <= 0 {
		opts.SubscribeTimeout = DefaultSubscribeTimeout
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Listener{
		opts:     opts,
		log:      log.With("component", "realtime"),
		stateFns: make(map[int]func(State)),
		eventFns: make(map[int]func(model.ChangeEvent)),
	}
}

func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Err returns the error that ended the last run, if it ended on its own.
func (l *Listener) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// Reconnects counts successful subscriptions after the first.
func (l *Listener) Reconnects() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reconnect
}

// OnState registers fn for every state transition.
func (l *Listener) OnState(fn func(State)) (cancel func()) {
	l.mu.Lock()
	id := l.nextHook
	l.nextHook++
	l.stateFns[id] = fn
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.stateFns, id)
		l.mu.Unlock()
	}
}

// OnEvent registers fn for every applied change event.
func (l *Listener) OnEvent(fn func(model.ChangeEvent)) (cancel func()) {
	l.mu.Lock()
	id := l.nextHook
	l.nextHook++
	l.eventFns[id] = fn
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.eventFns, id)
		l.mu.Unlock()
	}
}

func (l *Listener) setState(s State) {
	l.mu.Lock()
	if l.state == s {
		l.mu.Unlock()
		return
	}
	l.state = s
	fns := make([]func(State), 0, len(l.stateFns))
	for _, fn := range l.stateFns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	if l.opts.Metrics != nil {
		l.opts.Metrics.State.Set(float64(s))
	}
	l.log.Debug("state changed", "state", s.String())
	for _, fn := range fns {
		fn(s)
	}
}

// Start connects in the background and returns immediately.
func (l *Listener) Start(ctx context.Context) error {
	if len(l.opts.Tables) == 0 {
		return ErrNoTables
	}
	l.mu.Lock()
	if l.done != nil {
		select {
		case <-l.done:
		default:
			l.mu.Unlock()
			return ErrRunning
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.stopped = false
	l.lastErr = nil
	done := l.done
	l.mu.Unlock()

	go l.run(ctx, done)
	return nil
}

// Stop tears the subscription down and waits for the loop to exit. No
// event is applied once Stop has been called.
func (l *Listener) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.stopped = true
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (l *Listener) run(ctx context.Context, done chan struct{}) {
	var rejected string
	defer func() {
		if rejected != "" && l.opts.Rejected != nil {
			l.opts.Rejected(rejected)
		}
	}()
	defer close(done)
	defer l.setState(Disconnected)

	b := l.opts.NewBackOff()
	first := true
	for {
		l.setState(Connecting)
		token := ""
		if l.opts.Tokens != nil {
			token = l.opts.Tokens.AccessToken()
		}
		conn, err := l.connect(ctx, token)
		if err == nil {
			b.Reset()
			if !first {
				l.mu.Lock()
				l.reconnect++
				l.mu.Unlock()
				if l.opts.Metrics != nil {
					l.opts.Metrics.Reconnects.Inc()
				}
			}
			first = false
			// Events may have been missed while not subscribed.
			for _, t := range l.opts.Tables {
				l.apply(model.ChangeEvent{Table: t})
			}
			l.setState(Subscribed)
			err = l.consume(ctx, conn)
			_ = conn.Close()
		}
		if ctx.Err() != nil {
			return
		}
		if apperr.IsKind(err, apperr.KindAuth) {
			l.log.Warn("realtime rejected the session", "error", err)
			l.finish(err)
			rejected = token
			return
		}

		l.setState(Disconnected)
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			l.finish(err)
			return
		}
		l.log.Info("realtime disconnected, reconnecting", "error", err, "in", wait)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (l *Listener) finish(err error) {
	l.mu.Lock()
	l.lastErr = err
	l.mu.Unlock()
}

// connect dials and subscribes every table, waiting for each ack. Tables the
// caller may not read are skipped.
func (l *Listener) connect(ctx context.Context, token string) (backend.Conn, error) {
	if token == "" {
		return nil, errNotSignedIn
	}
	conn, err := l.opts.Realtime.Dial(ctx, token)
	if err != nil {
		return nil, err
	}

	pending := make(map[string]bool, len(l.opts.Tables))
	for _, t := range l.opts.Tables {
		if err := conn.Subscribe(t); err != nil {
			_ = conn.Close()
			return nil, err
		}
		pending[t] = true
	}

	wctx, cancel := context.WithTimeout(ctx, l.opts.SubscribeTimeout)
	defer cancel()
	for len(pending) > 0 {
		msg, err := conn.Next(wctx)
		if err != nil {
			_ = conn.Close()
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, apperr.New(apperr.KindTimeout, "realtime subscribe", "no subscription ack")
			}
			return nil, err
		}
		switch msg.Type {
		case wire.TypeSubscribed:
			delete(pending, msg.Table)
		case wire.TypeError:
			if pending[msg.Table] && msg.Code == apperr.KindPermission.String() {
				l.log.Debug("table not readable, not watching it", "table", msg.Table)
				delete(pending, msg.Table)
				continue
			}
			_ = conn.Close()
			return nil, apperr.New(apperr.KindValidation, "realtime subscribe", msg.Table+": "+msg.Message)
		case wire.TypeChange:
			l.apply(msg.Event())
		}
	}
	return conn, nil
}

func (l *Listener) consume(ctx context.Context, conn backend.Conn) error {
	for {
		msg, err := conn.Next(ctx)
		if err != nil {
			return err
		}
		switch msg.Type {
		case wire.TypeChange:
			l.apply(msg.Event())
		case wire.TypeError:
			l.log.Warn("realtime error frame", "table", msg.Table, "message", msg.Message)
		}
	}
}

// apply invalidates the event's table unless the listener was stopped.
// An event with no Op is the resubscribe sweep and is not reported to
// event hooks.
func (l *Listener) apply(ev model.ChangeEvent) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	n := l.opts.Cache.InvalidateTable(ev.Table)
	if ev.Op == "" {
		l.mu.Unlock()
		return
	}
	fns := make([]func(model.ChangeEvent), 0, len(l.eventFns))
	for _, fn := range l.eventFns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	if l.opts.Metrics != nil {
		l.opts.Metrics.Events.WithLabelValues(ev.Table).Inc()
	}
	l.log.Debug("change applied", "table", ev.Table, "op", ev.Op, "id", ev.RowID, "invalidated", n)
	for _, fn := range fns {
		fn(ev)
	}
}
