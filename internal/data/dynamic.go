package data

import (
	"context"
	"encoding/json"

	"youth-mis/internal/apperr"
	"youth-mis/internal/model"
)

// TableOps is a repository addressed by table name with JSON input, for
// callers that only know the table at run time.
type TableOps interface {
	List(ctx context.Context, f Filter) (any, error)
	Get(ctx context.Context, id string) (any, error)
	Create(ctx context.Context, body json.RawMessage) (any, error)
	Update(ctx context.Context, id string, p Patch) (any, error)
	Delete(ctx context.Context, id string) error
}

type tableOps[T any] struct {
	r *Repository[T]
}

func (o tableOps[T]) List(ctx context.Context, f Filter) (any, error) {
	if len(f.Joins) > 0 {
		return o.r.ListRows(ctx, f)
	}
	return o.r.List(ctx, f)
}

func (o tableOps[T]) Get(ctx context.Context, id string) (any, error) {
	return o.r.Get(ctx, id)
}

func (o tableOps[T]) Create(ctx context.Context, body json.RawMessage) (any, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, apperr.New(apperr.KindValidation, o.r.op("create"), "invalid JSON: "+err.Error())
	}
	return o.r.Create(ctx, v)
}

func (o tableOps[T]) Update(ctx context.Context, id string, p Patch) (any, error) {
	return o.r.Update(ctx, id, p)
}

func (o tableOps[T]) Delete(ctx context.Context, id string) error {
	return o.r.Delete(ctx, id)
}

// Table returns the operations of the named table.
func (f *Facade) Table(name string) (TableOps, bool) {
	switch name {
	case model.TableStudents:
		return tableOps[model.Student]{f.Students}, true
	case model.TableTrainers:
		return tableOps[model.Trainer]{f.Trainers}, true
	case model.TableEmployees:
		return tableOps[model.Employee]{f.Employees}, true
	case model.TableJobs:
		return tableOps[model.JobPosting]{f.Jobs}, true
	case model.TableInventory:
		return tableOps[model.Product]{f.Inventory}, true
	case model.TablePrograms:
		return tableOps[model.Program]{f.Programs}, true
	case model.TableReports:
		return tableOps[model.Report]{f.Reports}, true
	case model.TableProfiles:
		return tableOps[model.Profile]{f.Profiles}, true
	case model.TableNotifications:
		return tableOps[model.Notification]{f.Notifications.repo}, true
	}
	return nil, false
}
