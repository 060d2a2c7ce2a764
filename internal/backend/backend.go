// Package backend defines what the client layer needs from the hosted
// backend. Every method is bounded by its context; implementations map
// failures onto apperr kinds.
package backend

import (
	"context"
	"encoding/json"

	"youth-mis/internal/model"
	"youth-mis/internal/wire"
)

type Auth interface {
	// SignUp creates an identity. Data carries the requested profile
	// fields (display_name, role).
	SignUp(ctx context.Context, email, password string, data map[string]any) (model.Session, error)
	SignIn(ctx context.Context, email, password string) (model.Session, error)
	SignOut(ctx context.Context, token string) error
	GetUser(ctx context.Context, token string) (model.Identity, error)
}

type Tables interface {
	Select(ctx context.Context, token string, q model.Query) ([]model.Row, error)
	Get(ctx context.Context, token, table, id string) (model.Row, error)
	Insert(ctx context.Context, token, table string, rows []model.Row) ([]model.Row, error)
	Update(ctx context.Context, token, table, id string, patch model.Row) (model.Row, error)
	Delete(ctx context.Context, token, table, id string) error
}

type Functions interface {
	// Invoke calls a named function and returns its data payload.
	Invoke(ctx context.Context, token, name string, body any) (json.RawMessage, error)
}

type Realtime interface {
	Dial(ctx context.Context, token string) (Conn, error)
}

// Conn is one realtime connection.
type Conn interface {
	Subscribe(table string, events ...model.Op) error
	Unsubscribe(table string) error
	// Next blocks for the next server frame.
	Next(ctx context.Context) (wire.ServerMessage, error)
	Close() error
}

// Backend bundles the four collaborators.
type Backend struct {
	Auth      Auth
	Tables    Tables
	Functions Functions
	Realtime  Realtime
}
