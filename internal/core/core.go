// Package core assembles the backend services shared by the mis-backend
// server and the embedded in-process backend.
package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"youth-mis/internal/access"
	"youth-mis/internal/auth"
	"youth-mis/internal/config"
	"youth-mis/internal/email"
	"youth-mis/internal/functions"
	"youth-mis/internal/hub"
	"youth-mis/internal/identity"
	"youth-mis/internal/logger"
	"youth-mis/internal/model"
	"youth-mis/internal/notify"
	"youth-mis/internal/policy"
	"youth-mis/internal/store"
)

type Options struct {
	Tables store.Tables
	// PolicyModule is Rego source; empty uses the built-in policy.
	PolicyModule string
	Tokens       auth.TokenConfig
	Sender       email.Sender
	Relay        hub.Relay
	Registerer   prometheus.Registerer
	Logger       *logger.Logger
	AppName      string
	Security     functions.Security
}

type Core struct {
	Tables    store.Tables
	Identity  *identity.Service
	Rows      *access.Service
	Hub       *hub.Hub
	Notifier  *notify.Notifier
	Functions *functions.Registry
	Sender    email.Sender

	log      *logger.Logger
	closeFns []func()
}

func New(ctx context.Context, opts Options) (*Core, error) {
	if opts.Tables == nil {
		return nil, errors.New("core: tables are required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Sender == nil {
		opts.Sender = email.NewConsoleSender(opts.Logger)
	}
	engine, err := policy.New(ctx, opts.PolicyModule)
	if err != nil {
		return nil, err
	}

	h := hub.NewWithOptions(hub.Options{
		Relay:   opts.Relay,
		Metrics: hub.NewMetrics(opts.Registerer),
		Logger:  opts.Logger.With("component", "hub"),
	})
	rows := access.NewService(opts.Tables, engine, h)
	ids := identity.NewService(opts.Tables, opts.Tokens)
	notifier := notify.New(notify.Config{
		Rows:    rows.Elevated(),
		Sender:  opts.Sender,
		Logger:  opts.Logger.With("component", "notify"),
		Metrics: notify.NewMetrics(opts.Registerer),
	})
	registry := functions.NewRegistry(functions.Deps{
		Identity: ids,
		Rows:     rows,
		Notifier: notifier,
		Sender:   opts.Sender,
		Security: opts.Security,
		AppName:  opts.AppName,
		Logger:   opts.Logger.With("component", "functions"),
	})

	return &Core{
		Tables:    opts.Tables,
		Identity:  ids,
		Rows:      rows,
		Hub:       h,
		Notifier:  notifier,
		Functions: registry,
		Sender:    opts.Sender,
		log:       opts.Logger,
	}, nil
}

// FromConfig builds the stores, relay and sender named by cfg.
func FromConfig(ctx context.Context, cfg config.Server, log *logger.Logger, reg prometheus.Registerer) (*Core, error) {
	var (
		tables  store.Tables
		storage = "memory"
		err     error
	)
	if cfg.DatabaseURL != "" {
		storage = "postgres"
		if tables, err = store.NewPostgres(ctx, cfg.DatabaseURL); err != nil {
			return nil, err
		}
	} else {
		tables = store.NewMemoryWithOptions(store.Options{StateFile: cfg.StateFile, Logger: log.With("component", "store")})
	}

	var module string
	if cfg.PolicyFile != "" {
		if module, err = policy.ReadModule(cfg.PolicyFile); err != nil {
			tables.Close()
			return nil, err
		}
	}

	sender, err := email.FromConfig(cfg, log.With("component", "email"))
	if err != nil {
		tables.Close()
		return nil, err
	}

	var (
		relay hub.Relay
		rdb   *redis.Client
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			tables.Close()
			return nil, errors.Wrap(err, "connect redis")
		}
		relay = hub.NewRedisRelay(rdb, cfg.RedisChannel, log.With("component", "relay"))
	}

	c, err := New(ctx, Options{
		Tables:       tables,
		PolicyModule: module,
		Tokens: auth.TokenConfig{
			Secret: cfg.MasterSecret,
			Expiry: cfg.TokenExpiry,
			Issuer: auth.DefaultIssuer,
		},
		Sender:     sender,
		Relay:      relay,
		Registerer: reg,
		Logger:     log,
		AppName:    cfg.AppName,
		Security: functions.Security{
			TokenExpirySeconds:   int64(cfg.TokenExpiry / time.Second),
			AuthRateLimit:        cfg.AuthRateLimit,
			ProfileAutoProvision: cfg.ProfileAutoProvision,
			EmailProvider:        cfg.EmailProvider,
			CustomPolicy:         cfg.PolicyFile != "",
			RealtimeRelay:        relay != nil,
			Storage:              storage,
		},
	})
	if err != nil {
		if rdb != nil {
			_ = rdb.Close()
		}
		tables.Close()
		return nil, err
	}
	if rdb != nil {
		c.closeFns = append(c.closeFns, func() { _ = rdb.Close() })
	}
	return c, nil
}

// SeedAdmin creates or updates an admin account. It is idempotent.
func (c *Core) SeedAdmin(ctx context.Context, emailAddr, password string) error {
	body, err := json.Marshal(map[string]string{"email": emailAddr, "password": password})
	if err != nil {
		return err
	}
	bootstrap := model.Caller{UserID: "bootstrap", Role: model.RoleAdmin}
	if _, err := c.Functions.Invoke(ctx, bootstrap, functions.CreateAdminUser, body); err != nil {
		return errors.Wrap(err, "seed admin")
	}
	c.log.Info("admin account ready", "email", emailAddr)
	return nil
}

// Close waits for pending notification emails, then releases the store
// and relay connections.
func (c *Core) Close() {
	c.Notifier.Wait()
	for _, fn := range c.closeFns {
		fn()
	}
	c.Tables.Close()
}
