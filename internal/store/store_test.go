package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"youth-mis/internal/apperr"
	"youth-mis/internal/model"
)

func fixedClock() func() time.Time {
	t := time.UnixMilli(1000)
	return func() time.Time {
		t = t.Add(time.Millisecond)
		return t
	}
}

func TestMemory_CRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryWithOptions(Options{Now: fixedClock()})

	created, err := s.Insert(ctx, model.TableStudents, model.Row{"full_name": "Ada", "status": "active"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	id := created.ID()
	if id == "" {
		t.Fatalf("expected generated id")
	}
	if created["created_at"] == nil || created["updated_at"] == nil {
		t.Fatalf("expected timestamps, got %v", created)
	}

	updated, err := s.Update(ctx, model.TableStudents, id, model.Row{"status": "graduated", "id": "hijack"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated["status"] != "graduated" || updated.ID() != id {
		t.Fatalf("unexpected row after update: %v", updated)
	}

	got, err := s.Get(ctx, model.TableStudents, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got["status"] = "mutated"
	again, _ := s.Get(ctx, model.TableStudents, id)
	if again["status"] != "graduated" {
		t.Fatalf("returned rows must not alias stored rows")
	}

	if _, err := s.Delete(ctx, model.TableStudents, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, model.TableStudents, id); !errors.Is(err, apperr.NotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := s.Delete(ctx, model.TableStudents, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_InsertDuplicateID(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	if _, err := s.Insert(ctx, model.TableProfiles, model.Row{"id": "u1"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := s.Insert(ctx, model.TableProfiles, model.Row{"id": "u1"}); !errors.Is(err, apperr.Conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMemory_SelectFilterOrderPage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryWithOptions(Options{Now: fixedClock()})
	for _, r := range []model.Row{
		{"name": "b", "quantity": float64(3), "status": "open"},
		{"name": "a", "quantity": float64(10), "status": "open"},
		{"name": "c", "quantity": float64(1), "status": "closed"},
	} {
		if _, err := s.Insert(ctx, model.TableInventory, r); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	open, err := s.Select(ctx, model.Query{Table: model.TableInventory, Eq: map[string]any{"status": "open"}, Order: "quantity", Desc: true})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(open) != 2 || open[0]["name"] != "a" || open[1]["name"] != "b" {
		t.Fatalf("unexpected rows: %v", open)
	}

	byQty, _ := s.Select(ctx, model.Query{Table: model.TableInventory, Eq: map[string]any{"quantity": "3"}})
	if len(byQty) != 1 || byQty[0]["name"] != "b" {
		t.Fatalf("expected numeric filter to match textual value, got %v", byQty)
	}

	paged, _ := s.Select(ctx, model.Query{Table: model.TableInventory, Order: "name", Offset: 1, Limit: 1})
	if len(paged) != 1 || paged[0]["name"] != "b" {
		t.Fatalf("unexpected page: %v", paged)
	}

	none, _ := s.Select(ctx, model.Query{Table: model.TableInventory, Offset: 10})
	if len(none) != 0 {
		t.Fatalf("expected empty page, got %v", none)
	}
}

func TestMemory_EqMatchesLargeNumbers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryWithOptions(Options{Now: fixedClock()})
	if _, err := s.Insert(ctx, model.TableInventory, model.Row{"name": "bulk", "quantity": float64(1000000), "unit_price": 0.25}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := s.Insert(ctx, model.TableInventory, model.Row{"name": "code", "quantity": "1000000"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	for _, want := range []any{1000000, int64(1000000), float64(1000000), "1000000", "1e6"} {
		rows, err := s.Select(ctx, model.Query{Table: model.TableInventory, Eq: map[string]any{"quantity": want}})
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		names := map[string]bool{}
		for _, r := range rows {
			names[r.String("name")] = true
		}
		if !names["bulk"] {
			t.Fatalf("quantity=%#v: expected the numeric row, got %v", want, rows)
		}
	}

	rows, _ := s.Select(ctx, model.Query{Table: model.TableInventory, Eq: map[string]any{"unit_price": "0.25"}})
	if len(rows) != 1 {
		t.Fatalf("expected fractional match, got %v", rows)
	}
	rows, _ = s.Select(ctx, model.Query{Table: model.TableInventory, Eq: map[string]any{"quantity": "1e6"}})
	for _, r := range rows {
		if r.String("name") == "code" {
			t.Fatalf("a stored string compares as text, got %v", rows)
		}
	}
}

func TestMemory_PersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	stateFile := filepath.Join(dir, "rows.json")

	s1 := NewMemoryWithOptions(Options{StateFile: stateFile})
	created, err := s1.Insert(ctx, model.TablePrograms, model.Row{"name": "Coding club"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	info, err := os.Stat(stateFile)
	if err != nil {
		t.Fatalf("expected state file written: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected state file mode 0600, got %o", info.Mode().Perm())
	}

	s2 := NewMemoryWithOptions(Options{StateFile: stateFile})
	got, err := s2.Get(ctx, model.TablePrograms, created.ID())
	if err != nil {
		t.Fatalf("expected row to survive restart: %v", err)
	}
	if got["name"] != "Coding club" {
		t.Fatalf("unexpected row: %v", got)
	}
}

func TestMemory_CorruptStateFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	stateFile := filepath.Join(dir, "rows.json")
	if err := os.WriteFile(stateFile, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s := NewMemoryWithOptions(Options{StateFile: stateFile})
	rows, err := s.Select(context.Background(), model.Query{Table: model.TableStudents})
	if err != nil || len(rows) != 0 {
		t.Fatalf("expected empty store, got %v %v", rows, err)
	}
}

func TestPostgres_CRUD(t *testing.T) {
	dsn := os.Getenv("MIS_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("MIS_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := NewPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer s.Close()

	table := "test_" + time.Now().Format("150405.000000")
	created, err := s.Insert(ctx, table, model.Row{"status": "open", "quantity": 3})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	rows, err := s.Select(ctx, model.Query{Table: table, Eq: map[string]any{"quantity": "3"}})
	if err != nil || len(rows) != 1 {
		t.Fatalf("Select: %v %v", rows, err)
	}
	if _, err := s.Update(ctx, table, created.ID(), model.Row{"status": "closed"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := s.Delete(ctx, table, created.ID()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, table, created.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
