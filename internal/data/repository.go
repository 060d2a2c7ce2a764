package data

import (
	"context"
	"sort"
	"strings"

	"youth-mis/internal/apperr"
	"youth-mis/internal/model"
)

// Filter narrows a list read. Eq keys are column names.
type Filter struct {
	Eq     map[string]any `json:"eq,omitempty"`
	Order  string         `json:"order,omitempty"`
	Desc   bool           `json:"desc,omitempty"`
	Limit  int            `json:"limit,omitempty"`
	Offset int            `json:"offset,omitempty"`
	Joins  []model.Join   `json:"joins,omitempty"`
}

// Patch is a partial update keyed by JSON field name.
type Patch map[string]any

func (p Patch) fields() []string {
	out := make([]string, 0, len(p))
	for k := range p {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Repository is the typed view of one table.
type Repository[T any] struct {
	c     *Client
	table string
	// entity names the operations in errors, e.g. "student".
	entity string
}

func NewRepository[T any](c *Client, table, entity string) *Repository[T] {
	return &Repository[T]{c: c, table: table, entity: entity}
}

func (r *Repository[T]) Table() string { return r.table }

func (r *Repository[T]) op(verb string) string { return verb + "-" + r.entity }

func (r *Repository[T]) decode(op string, row model.Row) (T, error) {
	v, err := model.FromRow[T](row)
	if err != nil {
		return v, apperr.Wrap(apperr.KindInternal, op, err)
	}
	return v, nil
}

// List returns the rows matching f, decoded. Joined rows are only
// available through ListRows.
func (r *Repository[T]) List(ctx context.Context, f Filter) ([]T, error) {
	rows, err := r.ListRows(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		v, err := r.decode(r.op("list"), row)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *Repository[T]) ListRows(ctx context.Context, f Filter) ([]model.Row, error) {
	for _, j := range f.Joins {
		if !model.IsTable(j.Table) || j.On == "" {
			return nil, apperr.FieldError(r.op("list"), "joins", "invalid join "+j.Table+":"+j.On)
		}
	}
	return r.c.selectRows(ctx, model.Query{
		Table:  r.table,
		Eq:     f.Eq,
		Order:  f.Order,
		Desc:   f.Desc,
		Limit:  f.Limit,
		Offset: f.Offset,
		Joins:  f.Joins,
	})
}

func (r *Repository[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	if strings.TrimSpace(id) == "" {
		return zero, apperr.FieldError(r.op("get"), "id", "this field is required")
	}
	row, err := r.c.getRow(ctx, r.table, id)
	if err != nil {
		return zero, err
	}
	return r.decode(r.op("get"), row)
}

// Create validates v and inserts it. Server-managed columns are dropped.
func (r *Repository[T]) Create(ctx context.Context, v T) (T, error) {
	op := r.op("create")
	var zero T
	if err := r.c.validate.Struct(op, v); err != nil {
		return zero, err
	}
	row, err := model.ToRow(v)
	if err != nil {
		return zero, apperr.Wrap(apperr.KindValidation, op, err)
	}
	for _, k := range []string{"id", "created_at", "updated_at"} {
		if row[k] == "" || row[k] == nil || row[k] == float64(0) {
			delete(row, k)
		}
	}
	var created []model.Row
	err = r.c.mutate(r.table, func(token string) error {
		var err error
		created, err = r.c.tables.Insert(ctx, token, r.table, []model.Row{row})
		return err
	})
	if err != nil {
		return zero, err
	}
	if len(created) == 0 {
		return zero, apperr.New(apperr.KindInternal, op, "insert returned no row")
	}
	return r.decode(op, created[0])
}

// Update validates only the fields present in p.
func (r *Repository[T]) Update(ctx context.Context, id string, p Patch) (T, error) {
	op := r.op("update")
	var zero T
	if strings.TrimSpace(id) == "" {
		return zero, apperr.FieldError(op, "id", "this field is required")
	}
	if len(p) == 0 {
		return zero, apperr.New(apperr.KindValidation, op, "empty patch")
	}
	for _, k := range []string{"id", "created_at", "updated_at"} {
		if _, ok := p[k]; ok {
			return zero, apperr.FieldError(op, k, "field is read-only")
		}
	}
	shaped, err := model.FromRow[T](model.Row(p))
	if err != nil {
		return zero, apperr.Wrap(apperr.KindValidation, op, err)
	}
	if err := r.c.validate.Partial(op, shaped, p.fields()); err != nil {
		return zero, err
	}

	var updated model.Row
	err = r.c.mutate(r.table, func(token string) error {
		var err error
		updated, err = r.c.tables.Update(ctx, token, r.table, id, model.Row(p))
		return err
	})
	if err != nil {
		return zero, err
	}
	return r.decode(op, updated)
}

func (r *Repository[T]) Delete(ctx context.Context, id string) error {
	op := r.op("delete")
	if strings.TrimSpace(id) == "" {
		return apperr.FieldError(op, "id", "this field is required")
	}
	return r.c.mutate(r.table, func(token string) error {
		return r.c.tables.Delete(ctx, token, r.table, id)
	})
}
