// Package policy is the backend's row-level access policy: a Rego module
// evaluated per caller, table, action and row.
package policy

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"youth-mis/internal/model"
)

const (
	query         = "data.mis.authz.allow"
	readableQuery = "data.mis.authz.table_readable"
)

//go:embed default.rego
var DefaultModule string

type Action string

const (
	ActionRead   Action = "read"
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Input is one access decision. Row is the stored row (or the new row on
// insert); Patch is only set for updates.
type Input struct {
	Caller model.Caller
	Table  string
	Action Action
	Row    model.Row
	Patch  model.Row
}

func (in Input) value() map[string]interface{} {
	v := map[string]interface{}{
		"user": map[string]interface{}{
			"id":    in.Caller.UserID,
			"email": in.Caller.Email,
			"role":  string(in.Caller.Role),
		},
		"table":  in.Table,
		"action": string(in.Action),
		"row":    map[string]interface{}(in.Row),
	}
	if in.Row == nil {
		v["row"] = map[string]interface{}{}
	}
	if in.Patch != nil {
		v["patch"] = map[string]interface{}(in.Patch)
	}
	return v
}

type Engine struct {
	prepared rego.PreparedEvalQuery
	readable rego.PreparedEvalQuery
}

// New compiles module; an empty module selects DefaultModule.
func New(ctx context.Context, module string) (*Engine, error) {
	if module == "" {
		module = DefaultModule
	}
	compiler, err := ast.CompileModules(map[string]string{"authz.rego": module})
	if err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}
	prepared, err := rego.New(
		rego.Query(query),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare policy: %w", err)
	}
	readable, err := rego.New(
		rego.Query(readableQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare policy: %w", err)
	}
	return &Engine{prepared: prepared, readable: readable}, nil
}

// ReadModule loads a replacement policy module from disk.
func ReadModule(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read policy: %w", err)
	}
	return string(data), nil
}

func (e *Engine) Allow(ctx context.Context, in Input) (bool, error) {
	rs, err := e.prepared.Eval(ctx, rego.EvalInput(in.value()))
	if err != nil {
		return false, fmt.Errorf("eval policy: %w", err)
	}
	return rs.Allowed(), nil
}

// TableReadable reports whether caller may read any row of table. A module
// that does not define table_readable leaves the decision to the row checks.
func (e *Engine) TableReadable(ctx context.Context, caller model.Caller, table string) (bool, error) {
	in := Input{Caller: caller, Table: table, Action: ActionRead}
	rs, err := e.readable.Eval(ctx, rego.EvalInput(in.value()))
	if err != nil {
		return false, fmt.Errorf("eval policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return true, nil
	}
	ok, _ := rs[0].Expressions[0].Value.(bool)
	return ok, nil
}

// Filter keeps the rows caller may read.
func (e *Engine) Filter(ctx context.Context, caller model.Caller, table string, rows []model.Row) ([]model.Row, error) {
	out := make([]model.Row, 0, len(rows))
	for _, r := range rows {
		ok, err := e.Allow(ctx, Input{Caller: caller, Table: table, Action: ActionRead, Row: r})
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}
