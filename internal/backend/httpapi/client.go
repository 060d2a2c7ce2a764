// Package httpapi is the remote backend: JSON over HTTPS for auth, tables
// and functions, and a websocket for realtime changes.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"youth-mis/internal/apperr"
	"youth-mis/internal/backend"
	"youth-mis/internal/model"
	"youth-mis/internal/wire"
)

type Config struct {
	BaseURL   string
	PublicKey string
	// Timeout bounds every request, including the websocket handshake.
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	base    *url.URL
	key     string
	timeout time.Duration
	http    *http.Client
}

var (
	_ backend.Auth      = (*Client)(nil)
	_ backend.Tables    = (*Client)(nil)
	_ backend.Functions = (*Client)(nil)
	_ backend.Realtime  = (*Client)(nil)
)

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, fmt.Errorf("httpapi: invalid base URL %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{base: base, key: cfg.PublicKey, timeout: cfg.Timeout, http: hc}, nil
}

// Backend returns c as every collaborator.
func (c *Client) Backend() backend.Backend {
	return backend.Backend{Auth: c, Tables: c, Functions: c, Realtime: c}
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = query.Encode()
	return u.String()
}

// do sends one request and decodes a 2xx JSON body into out. Error bodies
// are mapped onto apperr kinds.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, token string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return apperr.Wrap(apperr.KindValidation, op, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, op, err)
	}
	req.Header.Set("apikey", c.key)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return apperr.Wrap(apperr.KindTimeout, op, ctx.Err())
		}
		return apperr.Wrap(apperr.KindNetwork, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return apperr.Wrap(apperr.KindNetwork, op, err)
	}
	if resp.StatusCode >= 300 {
		var eb wire.ErrorBody
		_ = json.Unmarshal(data, &eb)
		return eb.Err(op, resp.StatusCode)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperr.Wrap(apperr.KindInternal, op, errors.Wrap(err, "decode response"))
	}
	return nil
}

func session(r wire.AuthResponse) model.Session {
	return model.Session{
		Identity:    r.User,
		AccessToken: r.AccessToken,
		IssuedAt:    time.UnixMilli(r.IssuedAt),
		ExpiresAt:   time.UnixMilli(r.ExpiresAt),
	}
}

func (c *Client) SignUp(ctx context.Context, email, password string, data map[string]any) (model.Session, error) {
	var resp wire.AuthResponse
	err := c.do(ctx, "signup", http.MethodPost, "/auth/v1/signup", nil, "", wire.SignUpRequest{Email: email, Password: password, Data: data}, &resp)
	if err != nil {
		return model.Session{}, err
	}
	return session(resp), nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) (model.Session, error) {
	var resp wire.AuthResponse
	if err := c.do(ctx, "signin", http.MethodPost, "/auth/v1/token", nil, "", wire.TokenRequest{Email: email, Password: password}, &resp); err != nil {
		return model.Session{}, err
	}
	return session(resp), nil
}

func (c *Client) SignOut(ctx context.Context, token string) error {
	return c.do(ctx, "signout", http.MethodPost, "/auth/v1/logout", nil, token, nil, nil)
}

func (c *Client) GetUser(ctx context.Context, token string) (model.Identity, error) {
	var id model.Identity
	err := c.do(ctx, "get-user", http.MethodGet, "/auth/v1/user", nil, token, nil, &id)
	return id, err
}

// filterText writes numbers in plain decimal so 1000000 never travels as
// 1e+06.
func filterText(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	}
	return fmt.Sprint(v)
}

// QueryValues encodes q in the backend's URL filter syntax.
func QueryValues(q model.Query) url.Values {
	v := url.Values{}
	cols := make([]string, 0, len(q.Eq))
	for col := range q.Eq {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		v.Set(col, "eq."+filterText(q.Eq[col]))
	}
	if q.Order != "" {
		dir := "asc"
		if q.Desc {
			dir = "desc"
		}
		v.Set("order", q.Order+"."+dir)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	if len(q.Joins) > 0 {
		parts := make([]string, len(q.Joins))
		for i, j := range q.Joins {
			parts[i] = j.Table + ":" + j.On
		}
		v.Set("join", strings.Join(parts, ","))
	}
	return v
}

func tablePath(table string, id ...string) string {
	p := "/rest/v1/" + url.PathEscape(table)
	if len(id) > 0 {
		p += "/" + url.PathEscape(id[0])
	}
	return p
}

func (c *Client) Select(ctx context.Context, token string, q model.Query) ([]model.Row, error) {
	var rows []model.Row
	err := c.do(ctx, "select "+q.Table, http.MethodGet, tablePath(q.Table), QueryValues(q), token, nil, &rows)
	return rows, err
}

func (c *Client) Get(ctx context.Context, token, table, id string) (model.Row, error) {
	var row model.Row
	err := c.do(ctx, "get "+table, http.MethodGet, tablePath(table, id), nil, token, nil, &row)
	return row, err
}

func (c *Client) Insert(ctx context.Context, token, table string, rows []model.Row) ([]model.Row, error) {
	var out []model.Row
	err := c.do(ctx, "insert "+table, http.MethodPost, tablePath(table), nil, token, rows, &out)
	return out, err
}

func (c *Client) Update(ctx context.Context, token, table, id string, patch model.Row) (model.Row, error) {
	var row model.Row
	err := c.do(ctx, "update "+table, http.MethodPatch, tablePath(table, id), nil, token, patch, &row)
	return row, err
}

func (c *Client) Delete(ctx context.Context, token, table, id string) error {
	return c.do(ctx, "delete "+table, http.MethodDelete, tablePath(table, id), nil, token, nil, nil)
}

// Invoke unwraps the function envelope; a failed function returns its
// error with the kind the backend reported.
func (c *Client) Invoke(ctx context.Context, token, name string, body any) (json.RawMessage, error) {
	if body == nil {
		body = struct{}{}
	}
	var res wire.FunctionResult
	err := c.do(ctx, name, http.MethodPost, "/functions/v1/"+url.PathEscape(name), nil, token, body, &res)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, &apperr.Error{Kind: apperr.ParseKind(res.Code), Op: name, Field: res.Field, Message: res.Error}
	}
	return res.Data, nil
}
