package store

import (
	"fmt"
	"sort"
	"strconv"

	"youth-mis/internal/model"
)

func cloneRow(r model.Row) model.Row {
	out := make(model.Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// matchesEq compares stored numbers numerically and everything else by
// textual form: filters arrive as query-string text while stored values are
// decoded JSON numbers, bools and strings.
func matchesEq(r model.Row, eq map[string]any) bool {
	for col, want := range eq {
		got, ok := r[col]
		if !ok {
			if want == nil {
				continue
			}
			return false
		}
		if !equalValue(got, want) {
			return false
		}
	}
	return true
}

func equalValue(stored, want any) bool {
	if g, ok := number(stored); ok {
		if w, ok := filterNumber(want); ok {
			return g == w
		}
	}
	return textOf(stored) == textOf(want)
}

// filterNumber accepts numeric filter values and their text form.
func filterNumber(v any) (float64, bool) {
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return number(v)
}

func textOf(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprint(x)
	}
}

func sortRows(rows []model.Row, col string, desc bool) {
	if col == "" {
		col = "created_at"
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if desc {
			a, b = b, a
		}
		if lessValue(a[col], b[col]) {
			return true
		}
		if lessValue(b[col], a[col]) {
			return false
		}
		return a.ID() < b.ID()
	})
}

func lessValue(a, b any) bool {
	fa, aNum := number(a)
	fb, bNum := number(b)
	switch {
	case aNum && bNum:
		return fa < fb
	case a == nil:
		return b != nil
	case b == nil:
		return false
	}
	return textOf(a) < textOf(b)
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case int:
		return float64(x), true
	}
	return 0, false
}

func page(rows []model.Row, offset, limit int) []model.Row {
	if offset > 0 {
		if offset >= len(rows) {
			return []model.Row{}
		}
		rows = rows[offset:]
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
