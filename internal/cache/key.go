package cache

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Key identifies a cached read: the entity table plus its serialized filter
// parameters. Deps lists further tables the result was joined with.
type Key struct {
	Table  string
	Params string
	Deps   []string
}

// NewKey serializes params deterministically (JSON objects are written with
// sorted keys) so equal filters always map to the same entry.
func NewKey(table string, params any, deps ...string) Key {
	k := Key{Table: table, Deps: deps}
	if params == nil {
		return k
	}
	data, err := json.Marshal(params)
	if err != nil {
		k.Params = fmt.Sprintf("%v", params)
		return k
	}
	if s := string(data); s != "null" && s != "{}" {
		k.Params = s
	}
	return k
}

func (k Key) String() string {
	var b strings.Builder
	b.WriteString(k.Table)
	b.WriteByte(':')
	b.WriteString(k.Params)
	if len(k.Deps) > 0 {
		b.WriteString("+")
		b.WriteString(strings.Join(k.Deps, ","))
	}
	return b.String()
}

// DependsOn reports whether a change to table can affect this key.
func (k Key) DependsOn(table string) bool {
	if k.Table == table {
		return true
	}
	for _, d := range k.Deps {
		if d == table {
			return true
		}
	}
	return false
}

// DependsOn is the predicate form used with Cache.Invalidate.
func DependsOn(table string) func(Key) bool {
	return func(k Key) bool { return k.DependsOn(table) }
}

// All matches every key.
func All(Key) bool { return true }
