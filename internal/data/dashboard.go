package data

import (
	"context"

	"youth-mis/internal/apperr"
	"youth-mis/internal/cache"
	"youth-mis/internal/model"
)

type StatField string

const (
	StatStudents       StatField = "students"
	StatActiveTrainers StatField = "active_trainers"
	StatEmployees      StatField = "employees"
	StatOpenJobs       StatField = "open_jobs"
	StatInventoryValue StatField = "inventory_value"
	StatRevenue        StatField = "revenue"
	StatPrograms       StatField = "programs"
	StatPendingReports StatField = "pending_reports"
)

// AllStats lists every aggregate in display order.
func AllStats() []StatField {
	return []StatField{
		StatStudents, StatActiveTrainers, StatEmployees, StatOpenJobs,
		StatInventoryValue, StatRevenue, StatPrograms, StatPendingReports,
	}
}

// Stats holds the dashboard aggregates. Fields whose table the caller may
// not read are absent from Available.
type Stats struct {
	Values    map[StatField]float64 `json:"values"`
	Available map[StatField]bool    `json:"available"`
}

func (s Stats) Get(f StatField) (float64, bool) {
	if !s.Available[f] {
		return 0, false
	}
	return s.Values[f], true
}

func (s *Stats) set(f StatField, v float64) {
	s.Values[f] = v
	s.Available[f] = true
}

type Dashboard struct {
	f *Facade
}

var statTables = []string{
	model.TableStudents, model.TableTrainers, model.TableEmployees, model.TableJobs,
	model.TableInventory, model.TablePrograms, model.TableReports,
}

// Stats aggregates every table the caller may read. The result is cached
// under a key that depends on all of them.
func (d *Dashboard) Stats(ctx context.Context) (Stats, error) {
	key := cache.NewKey("dashboard", "stats", statTables...)
	v, err := d.f.client.cache.Fetch(ctx, key, func(ctx context.Context) (any, error) {
		return d.compute(ctx)
	})
	if err != nil {
		return Stats{}, err
	}
	s, _ := v.(Stats)
	return s, nil
}

// denied turns a permission error into "not available".
func denied(err error) (bool, error) {
	if err == nil {
		return false, nil
	}
	if apperr.IsKind(err, apperr.KindPermission) {
		return true, nil
	}
	return false, err
}

func (d *Dashboard) compute(ctx context.Context) (Stats, error) {
	s := Stats{Values: map[StatField]float64{}, Available: map[StatField]bool{}}

	students, err := d.f.Students.List(ctx, Filter{})
	if skip, err := denied(err); err != nil {
		return s, err
	} else if !skip {
		s.set(StatStudents, float64(len(students)))
	}

	trainers, err := d.f.Trainers.List(ctx, Filter{Eq: map[string]any{"active": true}})
	if skip, err := denied(err); err != nil {
		return s, err
	} else if !skip {
		s.set(StatActiveTrainers, float64(len(trainers)))
	}

	employees, err := d.f.Employees.List(ctx, Filter{})
	if skip, err := denied(err); err != nil {
		return s, err
	} else if !skip {
		s.set(StatEmployees, float64(len(employees)))
	}

	jobs, err := d.f.Jobs.List(ctx, Filter{Eq: map[string]any{"status": "open"}})
	if skip, err := denied(err); err != nil {
		return s, err
	} else if !skip {
		s.set(StatOpenJobs, float64(len(jobs)))
	}

	products, err := d.f.Inventory.List(ctx, Filter{})
	if skip, err := denied(err); err != nil {
		return s, err
	} else if !skip {
		var value, revenue float64
		for _, p := range products {
			value += float64(p.Quantity) * p.UnitPrice
			revenue += float64(p.Sold) * p.UnitPrice
		}
		s.set(StatInventoryValue, value)
		s.set(StatRevenue, revenue)
	}

	programs, err := d.f.Programs.List(ctx, Filter{})
	if skip, err := denied(err); err != nil {
		return s, err
	} else if !skip {
		s.set(StatPrograms, float64(len(programs)))
	}

	reports, err := d.f.Reports.List(ctx, Filter{Eq: map[string]any{"status": "pending"}})
	if skip, err := denied(err); err != nil {
		return s, err
	} else if !skip {
		s.set(StatPendingReports, float64(len(reports)))
	}
	return s, nil
}
