// Package app assembles the client layer: session, cache, data façade,
// realtime listener and role gate, bound to one backend.
package app

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"youth-mis/internal/apperr"
	"youth-mis/internal/backend"
	"youth-mis/internal/backend/embedded"
	"youth-mis/internal/backend/httpapi"
	"youth-mis/internal/cache"
	"youth-mis/internal/config"
	"youth-mis/internal/data"
	"youth-mis/internal/email"
	"youth-mis/internal/logger"
	"youth-mis/internal/model"
	"youth-mis/internal/realtime"
	"youth-mis/internal/rolegate"
	"youth-mis/internal/session"
)

type Options struct {
	Backend backend.Backend
	Tokens  session.TokenStore
	// WatchTables defaults to every table.
	WatchTables   []string
	AutoProvision bool
	Registerer    prometheus.Registerer
	Logger        *logger.Logger
}

type App struct {
	Backend  backend.Backend
	Session  *session.Store
	Cache    *cache.Cache
	Data     *data.Facade
	Realtime *realtime.Listener
	Router   *rolegate.Router

	log      *logger.Logger
	closeFns []func()
}

func New(opts Options) *App {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	tables := opts.WatchTables
	if len(tables) == 0 {
		tables = model.Tables()
	}

	a := &App{Backend: opts.Backend, log: log}
	var cacheMetrics *cache.Metrics
	var rtMetrics *realtime.Metrics
	if opts.Registerer != nil {
		cacheMetrics = cache.NewMetrics(opts.Registerer)
		rtMetrics = realtime.NewMetrics(opts.Registerer)
	}
	a.Cache = cache.NewWithOptions(cache.Options{Metrics: cacheMetrics})
	a.Session = session.New(session.Options{
		Provider:      session.NewBackendProvider(opts.Backend),
		Tokens:        opts.Tokens,
		AutoProvision: opts.AutoProvision,
		Logger:        log.With("component", "session"),
	})
	a.Data = data.NewFacade(data.NewClient(data.Options{
		Tables: opts.Backend.Tables,
		Cache:  a.Cache,
		Tokens: a.Session,
		Rejected: func(token string) {
			a.Session.Expire(token)
		},
		Logger: log.With("component", "data"),
	}))
	a.Realtime = realtime.New(realtime.Options{
		Realtime: opts.Backend.Realtime,
		Tokens:   a.Session,
		Cache:    a.Cache,
		Tables:   tables,
		Metrics:  rtMetrics,
		Rejected: func(token string) {
			a.Session.Expire(token)
		},
		Logger: log,
	})
	a.Router = rolegate.NewRouter(a.Session)

	// Nothing cached for one identity may be served to the next. A token the
	// backend rejects mid-use ends the session the same way.
	a.Session.OnChange(func(c session.Change) {
		if c.Kind == session.SignedOut {
			a.Realtime.Stop()
			a.Cache.Clear()
		}
	})
	return a
}

// FromConfig builds the backend named by BACKEND_MODE and the app on top.
func FromConfig(ctx context.Context, cfg config.Client, log *logger.Logger, reg prometheus.Registerer) (*App, error) {
	var b backend.Backend
	var closeFns []func()
	switch cfg.BackendMode {
	case config.BackendModeEmbedded:
		eb, err := embedded.New(ctx, embedded.Options{
			StateFile: cfg.EmbeddedStateFile,
			Sender:    email.NewConsoleSender(log),
			Logger:    log.With("component", "embedded"),
		})
		if err != nil {
			return nil, err
		}
		b = eb.Backend()
		closeFns = append(closeFns, eb.Close)
	default:
		c, err := httpapi.New(httpapi.Config{
			BaseURL:   cfg.BackendURL,
			PublicKey: cfg.BackendPublicKey,
			Timeout:   cfg.RequestTimeout,
		})
		if err != nil {
			return nil, err
		}
		b = c.Backend()
	}

	a := New(Options{
		Backend:       b,
		Tokens:        session.NewFileTokenStore(cfg.SessionPath()),
		WatchTables:   cfg.WatchedTables(),
		AutoProvision: cfg.ProfileAutoProvision,
		Registerer:    reg,
		Logger:        log,
	})
	a.closeFns = closeFns
	log.Debug("client ready", "backend", cfg.BackendMode)
	return a, nil
}

// Watch starts the realtime listener for the current session.
func (a *App) Watch(ctx context.Context) error {
	if a.Session.AccessToken() == "" {
		return session.ErrNotSignedIn
	}
	err := a.Realtime.Start(ctx)
	if errors.Is(err, realtime.ErrRunning) {
		return nil
	}
	return err
}

// Dashboard returns the view and the aggregates it may show.
func (a *App) Dashboard(ctx context.Context) (rolegate.View, data.Stats, error) {
	view := a.Router.Current()
	if view == rolegate.ViewUnauthenticated || view == rolegate.ViewProfilePending {
		return view, data.Stats{}, nil
	}
	stats, err := a.Data.Dashboard.Stats(ctx)
	if err != nil {
		return view, data.Stats{}, err
	}
	return view, rolegate.Filter(view, stats), nil
}

// Invoke calls a backend function as the signed-in user.
func (a *App) Invoke(ctx context.Context, name string, body any, out any) error {
	token := a.Session.AccessToken()
	if token == "" {
		return session.ErrNotSignedIn
	}
	raw, err := a.Backend.Functions.Invoke(ctx, token, name, body)
	if apperr.IsKind(err, apperr.KindAuth) {
		a.Session.Expire(token)
	}
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.Wrap(apperr.KindInternal, name, err)
	}
	return nil
}

// Close stops the listener and releases an embedded backend.
func (a *App) Close() {
	a.Realtime.Stop()
	for _, fn := range a.closeFns {
		fn()
	}
}
