// Package wire holds the JSON shapes exchanged between mis-backend and its
// clients: realtime frames, function envelopes and error bodies.
package wire

import (
	"encoding/json"
	"errors"

	"youth-mis/internal/apperr"
	"youth-mis/internal/model"
)

// Realtime frame types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePing        = "ping"

	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeChange       = "change"
	TypePong         = "pong"
	TypeError        = "error"
)

type ClientMessage struct {
	Type   string     `json:"type"`
	Table  string     `json:"table,omitempty"`
	Events []model.Op `json:"events,omitempty"`
}

type ServerMessage struct {
	Type    string   `json:"type"`
	Table   string   `json:"table,omitempty"`
	Op      model.Op `json:"op,omitempty"`
	ID      string   `json:"id,omitempty"`
	At      int64    `json:"at,omitempty"`
	Message string   `json:"message,omitempty"`
	// Code is the error kind of an error frame.
	Code string `json:"code,omitempty"`
}

// ErrorFrame reports err for table.
func ErrorFrame(table string, err error) ServerMessage {
	msg := err.Error()
	var e *apperr.Error
	if errors.As(err, &e) && e.Message != "" {
		msg = e.Message
	}
	return ServerMessage{Type: TypeError, Table: table, Message: msg, Code: apperr.KindOf(err).String()}
}

func ChangeMessage(ev model.ChangeEvent) ServerMessage {
	return ServerMessage{Type: TypeChange, Table: ev.Table, Op: ev.Op, ID: ev.RowID, At: ev.At}
}

func (m ServerMessage) Event() model.ChangeEvent {
	return model.ChangeEvent{Table: m.Table, Op: m.Op, RowID: m.ID, At: m.At}
}

// ErrorBody is returned by every failing REST call.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field,omitempty"`
}

// ErrorFrom maps err to its HTTP status and response body.
func ErrorFrom(err error) (int, ErrorBody) {
	body := ErrorBody{Error: err.Error(), Code: apperr.KindOf(err).String(), Field: apperr.FieldOf(err)}
	var e *apperr.Error
	switch {
	case apperr.KindOf(err) == apperr.KindInternal:
		body.Error = "internal error"
	case errors.As(err, &e) && e.Message != "":
		body.Error = e.Message
	}
	return apperr.HTTPStatus(err), body
}

// Err converts a decoded error body back into an *apperr.Error.
func (b ErrorBody) Err(op string, status int) *apperr.Error {
	if b.Code == "" {
		return apperr.FromStatus(op, status, b.Error, b.Field)
	}
	return &apperr.Error{Kind: apperr.ParseKind(b.Code), Op: op, Field: b.Field, Message: b.Error}
}

// FunctionResult is the envelope of /functions/v1 responses.
type FunctionResult struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
	Field   string          `json:"field,omitempty"`
}

type SignUpRequest struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Data     map[string]any `json:"data,omitempty"`
}

type TokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	User        model.Identity `json:"user"`
	AccessToken string         `json:"access_token"`
	IssuedAt    int64          `json:"issued_at"`
	ExpiresAt   int64          `json:"expires_at"`
}
