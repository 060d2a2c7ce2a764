// Package embedded runs the backend services in process. misctl uses it in
// embedded mode and tests use it as a fast, fully functional backend.
package embedded

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"youth-mis/internal/access"
	"youth-mis/internal/apperr"
	"youth-mis/internal/auth"
	"youth-mis/internal/backend"
	"youth-mis/internal/core"
	"youth-mis/internal/email"
	"youth-mis/internal/hub"
	"youth-mis/internal/identity"
	"youth-mis/internal/logger"
	"youth-mis/internal/model"
	"youth-mis/internal/store"
	"youth-mis/internal/wire"
)

type Options struct {
	// StateFile persists rows between runs; empty keeps them in memory.
	StateFile string
	// Secret signs access tokens. Tokens do not survive a restart unless
	// it is fixed.
	Secret string
	Sender email.Sender
	Logger *logger.Logger
}

type Backend struct {
	core *core.Core
}

var (
	_ backend.Auth      = (*Backend)(nil)
	_ backend.Tables    = (*Backend)(nil)
	_ backend.Functions = (*Backend)(nil)
	_ backend.Realtime  = (*Backend)(nil)
)

func New(ctx context.Context, opts Options) (*Backend, error) {
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Secret == "" {
		opts.Secret = uuid.NewString()
	}
	tables := store.NewMemoryWithOptions(store.Options{StateFile: opts.StateFile, Logger: opts.Logger})
	c, err := core.New(ctx, core.Options{
		Tables:  tables,
		Tokens:  auth.DefaultTokenConfig(opts.Secret),
		Sender:  opts.Sender,
		Logger:  opts.Logger,
		AppName: "Youth MIS",
	})
	if err != nil {
		return nil, err
	}
	return &Backend{core: c}, nil
}

func (b *Backend) Backend() backend.Backend {
	return backend.Backend{Auth: b, Tables: b, Functions: b, Realtime: b}
}

// Core exposes the services for seeding and inspection.
func (b *Backend) Core() *core.Core { return b.core }

func (b *Backend) Close() { b.core.Close() }

func session(g identity.Grant) model.Session {
	return model.Session{Identity: g.Identity, AccessToken: g.AccessToken, IssuedAt: g.IssuedAt, ExpiresAt: g.ExpiresAt}
}

func (b *Backend) SignUp(ctx context.Context, email, password string, data map[string]any) (model.Session, error) {
	g, err := b.core.SignUp(ctx, email, password, data)
	if err != nil {
		return model.Session{}, err
	}
	return session(g), nil
}

func (b *Backend) SignIn(ctx context.Context, email, password string) (model.Session, error) {
	g, err := b.core.Identity.SignIn(ctx, email, password)
	if err != nil {
		return model.Session{}, err
	}
	return session(g), nil
}

func (b *Backend) SignOut(ctx context.Context, token string) error {
	return b.core.Identity.SignOut(ctx, token)
}

func (b *Backend) GetUser(ctx context.Context, token string) (model.Identity, error) {
	caller, err := b.core.Identity.Authenticate(ctx, token)
	if err != nil {
		return model.Identity{}, err
	}
	return b.core.Identity.User(ctx, caller.UserID)
}

func (b *Backend) caller(ctx context.Context, token string) (model.Caller, error) {
	if err := ctx.Err(); err != nil {
		return model.Caller{}, apperr.Wrap(apperr.KindTimeout, "embedded", err)
	}
	return b.core.Identity.Authenticate(ctx, token)
}

func (b *Backend) Select(ctx context.Context, token string, q model.Query) ([]model.Row, error) {
	caller, err := b.caller(ctx, token)
	if err != nil {
		return nil, err
	}
	return b.core.Rows.Select(ctx, caller, q)
}

func (b *Backend) Get(ctx context.Context, token, table, id string) (model.Row, error) {
	caller, err := b.caller(ctx, token)
	if err != nil {
		return nil, err
	}
	return b.core.Rows.Get(ctx, caller, table, id)
}

func (b *Backend) Insert(ctx context.Context, token, table string, rows []model.Row) ([]model.Row, error) {
	caller, err := b.caller(ctx, token)
	if err != nil {
		return nil, err
	}
	return b.core.Rows.Insert(ctx, caller, table, rows)
}

func (b *Backend) Update(ctx context.Context, token, table, id string, patch model.Row) (model.Row, error) {
	caller, err := b.caller(ctx, token)
	if err != nil {
		return nil, err
	}
	return b.core.Rows.Update(ctx, caller, table, id, patch)
}

func (b *Backend) Delete(ctx context.Context, token, table, id string) error {
	caller, err := b.caller(ctx, token)
	if err != nil {
		return err
	}
	return b.core.Rows.Delete(ctx, caller, table, id)
}

// Invoke round-trips body and result through JSON so callers see exactly
// what the remote backend would return.
func (b *Backend) Invoke(ctx context.Context, token, name string, body any) (json.RawMessage, error) {
	caller, err := b.caller(ctx, token)
	if err != nil {
		return nil, err
	}
	if body == nil {
		body = struct{}{}
	}
	in, err := json.Marshal(body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, name, err)
	}
	out, err := b.core.Functions.Invoke(ctx, caller, name, in)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, name, err)
	}
	return data, nil
}

// conn is a hub connection whose writer feeds a channel instead of a socket.
type conn struct {
	hub    *hub.Hub
	rows   *access.Service
	caller model.Caller
	hc     *hub.Connection
	frames chan wire.ServerMessage

	mu     sync.Mutex
	closed bool
}

func (b *Backend) Dial(ctx context.Context, token string) (backend.Conn, error) {
	caller, err := b.caller(ctx, token)
	if err != nil {
		return nil, err
	}
	c := &conn{hub: b.core.Hub, rows: b.core.Rows, caller: caller, frames: make(chan wire.ServerMessage, 64)}
	c.hc = &hub.Connection{UserID: caller.UserID, Writer: c}
	c.hub.Register(c.hc)
	return c, nil
}

// Write is called by the hub. A full buffer fails the write, which makes
// the hub drop the connection just like a stalled socket.
func (c *conn) Write(message []byte) error {
	var msg wire.ServerMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return err
	}
	return c.push(msg)
}

func (c *conn) push(msg wire.ServerMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return apperr.New(apperr.KindNetwork, "realtime", "connection closed")
	}
	select {
	case c.frames <- msg:
		return nil
	default:
		return apperr.New(apperr.KindNetwork, "realtime", "client too slow")
	}
}

func (c *conn) Subscribe(table string, events ...model.Op) error {
	if !model.IsTable(table) {
		return c.push(wire.ServerMessage{Type: wire.TypeError, Table: table, Message: "unknown table"})
	}
	if err := c.rows.CheckRead(context.Background(), c.caller, table); err != nil {
		return c.push(wire.ErrorFrame(table, err))
	}
	c.hub.Subscribe(c.hc, table, model.EventMask(events))
	return c.push(wire.ServerMessage{Type: wire.TypeSubscribed, Table: table})
}

func (c *conn) Unsubscribe(table string) error {
	c.hub.Unsubscribe(c.hc, table)
	return c.push(wire.ServerMessage{Type: wire.TypeUnsubscribed, Table: table})
}

func (c *conn) Next(ctx context.Context) (wire.ServerMessage, error) {
	select {
	case <-ctx.Done():
		return wire.ServerMessage{}, ctx.Err()
	case msg, ok := <-c.frames:
		if !ok {
			return wire.ServerMessage{}, apperr.New(apperr.KindNetwork, "realtime", "connection closed")
		}
		return msg, nil
	}
}

// Close unregisters from the hub and ends Next. The hub also calls it when
// a write fails.
func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.frames)
	c.mu.Unlock()
	c.hub.Unregister(c.hc)
	return nil
}
