// Package access is the policy-enforcing table service behind /rest/v1 and
// the embedded backend: every read is filtered and every write is checked by
// the row-level policy, and every successful write is published as a change
// event.
package access

import (
	"context"
	"time"

	"youth-mis/internal/apperr"
	"youth-mis/internal/model"
	"youth-mis/internal/policy"
	"youth-mis/internal/store"
)

type Publisher interface {
	Publish(ctx context.Context, ev model.ChangeEvent)
}

type Service struct {
	store  store.Tables
	policy *policy.Engine
	pub    Publisher
	now    func() time.Time

	elevated bool
}

func NewService(tables store.Tables, engine *policy.Engine, pub Publisher) *Service {
	return &Service{store: tables, policy: engine, pub: pub, now: time.Now}
}

// Elevated returns a view of the service that skips the row-level policy.
// It is used by the identity service and by functions after their own role
// checks; change events are still published.
func (s *Service) Elevated() *Service {
	cp := *s
	cp.elevated = true
	return &cp
}

func (s *Service) allow(ctx context.Context, op string, in policy.Input) error {
	if s.elevated {
		return nil
	}
	if in.Caller.Anonymous() {
		return apperr.New(apperr.KindAuth, op, "authentication required")
	}
	ok, err := s.policy.Allow(ctx, in)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, op, err)
	}
	if !ok {
		return apperr.New(apperr.KindPermission, op, "permission denied for table "+in.Table)
	}
	return nil
}

func checkTable(op, table string) error {
	if !model.IsTable(table) {
		return apperr.New(apperr.KindNotFound, op, "unknown table "+table)
	}
	return nil
}

// CheckRead fails with a permission error when caller may read no row of
// table at all. Realtime subscriptions use it too.
func (s *Service) CheckRead(ctx context.Context, caller model.Caller, table string) error {
	const op = "read"
	if err := checkTable(op, table); err != nil {
		return err
	}
	if s.elevated {
		return nil
	}
	if caller.Anonymous() {
		return apperr.New(apperr.KindAuth, op, "authentication required")
	}
	ok, err := s.policy.TableReadable(ctx, caller, table)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, op, err)
	}
	if !ok {
		return apperr.New(apperr.KindPermission, op, "permission denied for table "+table)
	}
	return nil
}

// Select returns the rows of q the caller may read. A table the caller may
// not read at all is a permission error; otherwise unreadable rows are left
// out. Joined rows the caller may not read are embedded as null.
func (s *Service) Select(ctx context.Context, caller model.Caller, q model.Query) ([]model.Row, error) {
	const op = "select"
	if err := checkTable(op, q.Table); err != nil {
		return nil, err
	}
	for _, j := range q.Joins {
		if err := checkTable(op, j.Table); err != nil {
			return nil, err
		}
	}
	if err := s.CheckRead(ctx, caller, q.Table); err != nil {
		return nil, err
	}

	rows, err := s.store.Select(ctx, q)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	if !s.elevated {
		rows, err = s.policy.Filter(ctx, caller, q.Table, rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, op, err)
		}
	}
	for _, r := range rows {
		for _, j := range q.Joins {
			r[j.Table] = s.joined(ctx, caller, j, r.String(j.On))
		}
	}
	return rows, nil
}

func (s *Service) joined(ctx context.Context, caller model.Caller, j model.Join, id string) any {
	if id == "" {
		return nil
	}
	row, err := s.store.Get(ctx, j.Table, id)
	if err != nil {
		return nil
	}
	if err := s.allow(ctx, "select", policy.Input{Caller: caller, Table: j.Table, Action: policy.ActionRead, Row: row}); err != nil {
		return nil
	}
	return row
}

func (s *Service) Get(ctx context.Context, caller model.Caller, table, id string) (model.Row, error) {
	const op = "get"
	if err := checkTable(op, table); err != nil {
		return nil, err
	}
	if err := s.CheckRead(ctx, caller, table); err != nil {
		return nil, err
	}
	row, err := s.store.Get(ctx, table, id)
	if err != nil {
		return nil, err
	}
	// Unreadable rows of a readable table look missing.
	if err := s.allow(ctx, op, policy.Input{Caller: caller, Table: table, Action: policy.ActionRead, Row: row}); err != nil {
		if apperr.IsKind(err, apperr.KindPermission) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return row, nil
}

// Insert checks every row before writing any of them.
func (s *Service) Insert(ctx context.Context, caller model.Caller, table string, rows []model.Row) ([]model.Row, error) {
	const op = "insert"
	if err := checkTable(op, table); err != nil {
		return nil, err
	}
	for _, r := range rows {
		if err := s.allow(ctx, op, policy.Input{Caller: caller, Table: table, Action: policy.ActionInsert, Row: r}); err != nil {
			return nil, err
		}
	}

	out := make([]model.Row, 0, len(rows))
	for _, r := range rows {
		created, err := s.store.Insert(ctx, table, r)
		if err != nil {
			return out, err
		}
		out = append(out, created)
		s.publish(ctx, table, model.OpInsert, created.ID())
	}
	return out, nil
}

func (s *Service) Update(ctx context.Context, caller model.Caller, table, id string, patch model.Row) (model.Row, error) {
	const op = "update"
	if err := checkTable(op, table); err != nil {
		return nil, err
	}
	current, err := s.store.Get(ctx, table, id)
	if err != nil {
		return nil, err
	}
	if err := s.allow(ctx, op, policy.Input{Caller: caller, Table: table, Action: policy.ActionUpdate, Row: current, Patch: patch}); err != nil {
		return nil, err
	}
	updated, err := s.store.Update(ctx, table, id, patch)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, table, model.OpUpdate, id)
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, caller model.Caller, table, id string) error {
	const op = "delete"
	if err := checkTable(op, table); err != nil {
		return err
	}
	current, err := s.store.Get(ctx, table, id)
	if err != nil {
		return err
	}
	if err := s.allow(ctx, op, policy.Input{Caller: caller, Table: table, Action: policy.ActionDelete, Row: current}); err != nil {
		return err
	}
	if _, err := s.store.Delete(ctx, table, id); err != nil {
		return err
	}
	s.publish(ctx, table, model.OpDelete, id)
	return nil
}

func (s *Service) publish(ctx context.Context, table string, op model.Op, id string) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(ctx, model.ChangeEvent{Table: table, Op: op, RowID: id, At: s.now().UnixMilli()})
}
