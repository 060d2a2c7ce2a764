// Package notify fans a notification out to its recipients: one row per
// recipient, then an optional email per recipient sent in the background.
// A failed email is reported for its recipient only and never touches the
// rows or the other deliveries.
package notify

import (
	"context"
	"fmt"
	"net/mail"
	"sort"
	"sync"
	"time"

	"youth-mis/internal/apperr"
	"youth-mis/internal/email"
	"youth-mis/internal/logger"
	"youth-mis/internal/model"
	"youth-mis/internal/validation"
)

var ErrNoTarget = apperr.New(apperr.KindValidation, "notify", "no target resolved")

const emailTimeout = 30 * time.Second

// Target names the recipients: exactly one of a user, a list of users or
// every user holding Role.
type Target struct {
	UserID  string     `json:"user_id,omitempty"`
	UserIDs []string   `json:"user_ids,omitempty"`
	Role    model.Role `json:"role,omitempty"`
}

type Options struct {
	Type      model.NotificationType `json:"type,omitempty"`
	ActionURL string                 `json:"action_url,omitempty"`
	ExpiresAt int64                  `json:"expires_at,omitempty"`
	SendEmail bool                   `json:"send_email,omitempty"`
}

type Result struct {
	Created []model.Notification `json:"created"`
}

func (r Result) Count() int { return len(r.Created) }

// Delivery is the outcome of one email.
type Delivery struct {
	NotificationID string
	UserID         string
	Address        string
	Err            error
}

// Rows is the table access the notifier needs. It runs with elevated rights:
// callers check who may notify before calling Notify.
type Rows interface {
	Select(ctx context.Context, caller model.Caller, q model.Query) ([]model.Row, error)
	Get(ctx context.Context, caller model.Caller, table, id string) (model.Row, error)
	Insert(ctx context.Context, caller model.Caller, table string, rows []model.Row) ([]model.Row, error)
}

type Notifier struct {
	rows     Rows
	sender   email.Sender
	log      *logger.Logger
	metrics  *Metrics
	validate *validation.Validator

	mu         sync.Mutex
	onDelivery []func(Delivery)
	wg         sync.WaitGroup
}

type Config struct {
	Rows    Rows
	Sender  email.Sender
	Logger  *logger.Logger
	Metrics *Metrics
}

func New(cfg Config) *Notifier {
	n := &Notifier{
		rows:     cfg.Rows,
		sender:   cfg.Sender,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		validate: validation.New(),
	}
	if n.log == nil {
		n.log = logger.Discard()
	}
	if n.metrics == nil {
		n.metrics = NewMetrics(nil)
	}
	return n
}

// OnDelivery registers fn to observe every email outcome.
func (n *Notifier) OnDelivery(fn func(Delivery)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onDelivery = append(n.onDelivery, fn)
}

// Wait blocks until every email started so far has been attempted.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) resolve(ctx context.Context, target Target) ([]string, error) {
	var ids []string
	switch {
	case target.UserID != "":
		ids = []string{target.UserID}
	case len(target.UserIDs) > 0:
		ids = target.UserIDs
	case target.Role != "":
		if !target.Role.Valid() {
			return nil, apperr.FieldError("notify", "role", "unknown role "+string(target.Role))
		}
		profiles, err := n.rows.Select(ctx, model.Caller{}, model.Query{
			Table: model.TableProfiles,
			Eq:    map[string]any{"role": string(target.Role)},
		})
		if err != nil {
			return nil, err
		}
		for _, p := range profiles {
			ids = append(ids, p.ID())
		}
	}

	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil, ErrNoTarget
	}
	return out, nil
}

// Notify creates one notification per resolved recipient and returns them.
// Emails, when requested, are sent after Notify returns.
func (n *Notifier) Notify(ctx context.Context, target Target, title, message string, opts Options) (Result, error) {
	if opts.Type == "" {
		opts.Type = model.NotificationInfo
	}
	sample := model.Notification{UserID: "-", Title: title, Message: message, Type: opts.Type, ActionURL: opts.ActionURL}
	if err := n.validate.Struct("notify", sample); err != nil {
		return Result{}, err
	}

	recipients, err := n.resolve(ctx, target)
	if err != nil {
		return Result{}, err
	}

	rows := make([]model.Row, 0, len(recipients))
	for _, uid := range recipients {
		rows = append(rows, model.Row{
			"user_id":    uid,
			"title":      title,
			"message":    message,
			"type":       string(opts.Type),
			"action_url": opts.ActionURL,
			"read":       false,
			"expires_at": opts.ExpiresAt,
		})
	}
	created, err := n.rows.Insert(ctx, model.Caller{}, model.TableNotifications, rows)
	res := Result{Created: make([]model.Notification, 0, len(created))}
	for _, r := range created {
		nt, convErr := model.FromRow[model.Notification](r)
		if convErr != nil {
			return res, apperr.Wrap(apperr.KindInternal, "notify", convErr)
		}
		res.Created = append(res.Created, nt)
	}
	if err != nil {
		return res, err
	}

	if opts.SendEmail {
		for _, nt := range res.Created {
			n.sendAsync(ctx, nt)
		}
	}
	return res, nil
}

func (n *Notifier) sendAsync(ctx context.Context, nt model.Notification) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emailTimeout)
		defer cancel()
		n.deliver(ctx, nt)
	}()
}

func (n *Notifier) deliver(ctx context.Context, nt model.Notification) Delivery {
	d := Delivery{NotificationID: nt.ID, UserID: nt.UserID}
	d.Address, d.Err = n.addressOf(ctx, nt.UserID)
	if d.Err == nil {
		d.Err = n.sender.Send(ctx, email.Message{
			To:      mail.Address{Address: d.Address},
			Subject: nt.Title,
			Text:    body(nt),
		})
	}

	if d.Err != nil {
		n.metrics.Emails.WithLabelValues("failed").Inc()
		n.log.Warn("notification email failed", "notification", nt.ID, "user", nt.UserID, "error", d.Err)
	} else {
		n.metrics.Emails.WithLabelValues("sent").Inc()
		n.log.Info("notification email sent", "notification", nt.ID, "user", nt.UserID)
	}

	n.mu.Lock()
	hooks := append([]func(Delivery){}, n.onDelivery...)
	n.mu.Unlock()
	for _, fn := range hooks {
		fn(d)
	}
	return d
}

func body(nt model.Notification) string {
	if nt.ActionURL == "" {
		return nt.Message
	}
	return nt.Message + "\n\n" + nt.ActionURL
}

func (n *Notifier) addressOf(ctx context.Context, userID string) (string, error) {
	p, err := n.rows.Get(ctx, model.Caller{}, model.TableProfiles, userID)
	if err != nil {
		return "", fmt.Errorf("recipient %s: %w", userID, err)
	}
	addr := p.String("email")
	if addr == "" {
		return "", fmt.Errorf("recipient %s has no email address", userID)
	}
	return addr, nil
}

// EmailNotification sends the email for an existing notification and
// waits for the outcome.
func (n *Notifier) EmailNotification(ctx context.Context, id string) (Delivery, error) {
	row, err := n.rows.Get(ctx, model.Caller{}, model.TableNotifications, id)
	if err != nil {
		return Delivery{}, err
	}
	nt, err := model.FromRow[model.Notification](row)
	if err != nil {
		return Delivery{}, apperr.Wrap(apperr.KindInternal, "notify", err)
	}
	d := n.deliver(ctx, nt)
	if d.Err != nil {
		return d, apperr.Wrap(apperr.KindNetwork, "send-notification-email", d.Err)
	}
	return d, nil
}
