// Package data is the client's data-access façade. Every read goes through
// the query cache and every successful mutation invalidates the cache
// entries that depend on the mutated table.
package data

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"youth-mis/internal/apperr"
	"youth-mis/internal/backend"
	"youth-mis/internal/cache"
	"youth-mis/internal/logger"
	"youth-mis/internal/model"
	"youth-mis/internal/validation"
)

// ReadAttempts bounds how often an idempotent read is tried.
const ReadAttempts = 3

var ErrNotSignedIn = apperr.New(apperr.KindAuth, "data", "not signed in")

// TokenSource yields the access token of the current session, or "".
type TokenSource interface {
	AccessToken() string
}

type Options struct {
	Tables backend.Tables
	Cache  *cache.Cache
	Tokens TokenSource
	// NewBackOff builds the retry schedule for one read. Defaults to
	// exponential backoff starting at 200ms.
	NewBackOff func() backoff.BackOff
	// Rejected is called with the token the backend refused as
	// unauthenticated during a read or write.
	Rejected func(token string)
	Logger   *logger.Logger
}

// Client is shared by every repository of one session.
type Client struct {
	tables     backend.Tables
	cache      *cache.Cache
	tokens     TokenSource
	newBackOff func() backoff.BackOff
	rejected   func(token string)
	validate   *validation.Validator
	log        *logger.Logger
}

func NewClient(opts Options) *Client {
	c := &Client{
		tables:     opts.Tables,
		cache:      opts.Cache,
		tokens:     opts.Tokens,
		newBackOff: opts.NewBackOff,
		rejected:   opts.Rejected,
		validate:   validation.New(),
		log:        opts.Logger,
	}
	if c.cache == nil {
		c.cache = cache.New()
	}
	if c.newBackOff == nil {
		c.newBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		}
	}
	if c.log == nil {
		c.log = logger.Discard()
	}
	return c
}

func (c *Client) Cache() *cache.Cache { return c.cache }

func (c *Client) token() (string, error) {
	if c.tokens == nil {
		return "", ErrNotSignedIn
	}
	t := c.tokens.AccessToken()
	if t == "" {
		return "", ErrNotSignedIn
	}
	return t, nil
}

// read runs fn up to ReadAttempts times while it fails with a network or
// timeout error.
func (c *Client) read(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !apperr.Retryable(err) {
			return backoff.Permanent(err)
		}
		if attempt < ReadAttempts {
			c.log.Debug("retrying read", "op", op, "attempt", attempt, "error", err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), ReadAttempts-1), ctx))
	return err
}

// selectRows reads q through the cache. Joined tables become dependencies
// of the entry.
func (c *Client) selectRows(ctx context.Context, q model.Query) ([]model.Row, error) {
	token, err := c.token()
	if err != nil {
		return nil, err
	}
	deps := make([]string, 0, len(q.Joins))
	for _, j := range q.Joins {
		deps = append(deps, j.Table)
	}
	key := cache.NewKey(q.Table, q, deps...)
	v, err := c.cache.Fetch(ctx, key, func(ctx context.Context) (any, error) {
		var rows []model.Row
		err := c.read(ctx, "select "+q.Table, func() error {
			var err error
			rows, err = c.tables.Select(ctx, token, q)
			return err
		})
		return rows, err
	})
	if err != nil {
		return nil, c.checkAuth(token, err)
	}
	rows, _ := v.([]model.Row)
	return rows, nil
}

func (c *Client) getRow(ctx context.Context, table, id string) (model.Row, error) {
	token, err := c.token()
	if err != nil {
		return nil, err
	}
	key := cache.NewKey(table, map[string]string{"id": id})
	v, err := c.cache.Fetch(ctx, key, func(ctx context.Context) (any, error) {
		var row model.Row
		err := c.read(ctx, "get "+table, func() error {
			var err error
			row, err = c.tables.Get(ctx, token, table, id)
			return err
		})
		return row, err
	})
	if err != nil {
		return nil, c.checkAuth(token, err)
	}
	row, _ := v.(model.Row)
	return row, nil
}

// checkAuth reports an authentication failure for token and returns err.
func (c *Client) checkAuth(token string, err error) error {
	if c.rejected != nil && apperr.IsKind(err, apperr.KindAuth) && !errors.Is(err, ErrNotSignedIn) {
		c.rejected(token)
	}
	return err
}

// mutate runs a write once and invalidates table on success.
func (c *Client) mutate(table string, fn func(token string) error) error {
	token, err := c.token()
	if err != nil {
		return err
	}
	if err := fn(token); err != nil {
		return c.checkAuth(token, err)
	}
	n := c.cache.InvalidateTable(table)
	c.log.Debug("cache invalidated", "table", table, "entries", n)
	return nil
}
