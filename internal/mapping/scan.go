package mapping

import (
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// typeIndex caches column-name to field-path lookups per struct type.
// It is process-wide; ResetTypeIndex clears it.
var typeIndex sync.Map // reflect.Type -> map[string][]int

// ResetTypeIndex drops every cached struct layout.
func ResetTypeIndex() {
	typeIndex.Range(func(k, _ any) bool {
		typeIndex.Delete(k)
		return true
	})
}

// Struct returns a RowMapper scanning each row into a T. Columns match the
// `db` tag, or the field name case-insensitively; unmatched columns are
// dropped and `db:"-"` fields are skipped.
func Struct[T any]() RowMapper {
	rt := reflect.TypeOf((*T)(nil)).Elem()
	return func(rows *sql.Rows) (any, error) {
		if rt.Kind() != reflect.Struct {
			return nil, fmt.Errorf("mapping: %s is not a struct", rt)
		}
		cols, err := rows.Columns()
		if err != nil {
			return nil, err
		}
		index := structIndex(rt)

		rv := reflect.New(rt).Elem()
		dests := make([]any, len(cols))
		var sink sql.RawBytes
		for i, c := range cols {
			path, ok := index[strings.ToLower(c)]
			if !ok {
				dests[i] = &sink
				continue
			}
			dests[i] = rv.FieldByIndex(path).Addr().Interface()
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, err
		}
		return rv.Interface(), nil
	}
}

// Scalar returns a RowMapper for single-column results.
func Scalar[T any]() RowMapper {
	return func(rows *sql.Rows) (any, error) {
		var v T
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// Map returns a RowMapper producing one map per row keyed by column name.
func Map() RowMapper {
	return func(rows *sql.Rows) (any, error) {
		cols, err := rows.Columns()
		if err != nil {
			return nil, err
		}
		vals := make([]any, len(cols))
		dests := make([]any, len(cols))
		for i := range vals {
			dests[i] = &vals[i]
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, err
		}
		out := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				vals[i] = string(b)
			}
			out[c] = vals[i]
		}
		return out, nil
	}
}

func structIndex(rt reflect.Type) map[string][]int {
	if v, ok := typeIndex.Load(rt); ok {
		return v.(map[string][]int)
	}
	idx := make(map[string][]int)
	buildIndex(rt, nil, idx)
	v, _ := typeIndex.LoadOrStore(rt, idx)
	return v.(map[string][]int)
}

func buildIndex(rt reflect.Type, base []int, idx map[string][]int) {
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if sf.PkgPath != "" && !sf.Anonymous {
			continue
		}
		tag := sf.Tag.Get("db")
		if tag == "-" {
			continue
		}
		path := append(append([]int(nil), base...), i)
		if sf.Anonymous && tag == "" && sf.Type.Kind() == reflect.Struct {
			buildIndex(sf.Type, path, idx)
			continue
		}
		name := tag
		if name == "" {
			name = sf.Name
		}
		name = strings.ToLower(name)
		if _, seen := idx[name]; !seen {
			idx[name] = path
		}
	}
}
