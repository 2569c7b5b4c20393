// Package query evaluates filters, sorters and windows in memory for stores
// that have no query engine of their own.
package query

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"github.com/mesh-intelligence/metashelf/pkg/types"
)

// Compare orders two values of dt and returns -1, 0 or +1. nil sorts before
// any value. Values that cannot be read as dt are compared as strings.
func Compare(dt types.DataType, a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	switch {
	case dt == types.DataTypeInt32 || dt == types.DataTypeInt64:
		x, errA := cast.ToInt64E(a)
		y, errB := cast.ToInt64E(b)
		if errA == nil && errB == nil {
			return cmp(x < y, x > y)
		}
	case dt.IsNumeric():
		x, errA := cast.ToFloat64E(a)
		y, errB := cast.ToFloat64E(b)
		if errA == nil && errB == nil {
			return cmp(x < y, x > y)
		}
	case dt == types.DataTypeDate || dt == types.DataTypeDateTime:
		x, errA := cast.ToTimeE(a)
		y, errB := cast.ToTimeE(b)
		if errA == nil && errB == nil {
			return x.Compare(y)
		}
	case dt == types.DataTypeBool:
		x, errA := cast.ToBoolE(a)
		y, errB := cast.ToBoolE(b)
		if errA == nil && errB == nil {
			return cmp(!x && y, x && !y)
		}
	case dt == types.DataTypeBlob:
		x, okA := a.([]byte)
		y, okB := b.([]byte)
		if okA && okB {
			return bytes.Compare(x, y)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func cmp(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

// Match reports whether rec satisfies every filter. Filters naming an
// attribute that e does not have never match.
func Match(e *types.MetaEntity, rec types.Record, filters []types.Filter) bool {
	for _, f := range filters {
		a := e.Attr(f.Attr)
		if a == nil || !matchOne(a.DataType, rec[f.Attr], f) {
			return false
		}
	}
	return true
}

func matchOne(dt types.DataType, v any, f types.Filter) bool {
	switch f.Op {
	case types.OpIsNull:
		return v == nil
	case types.OpNotNull:
		return v != nil
	case types.OpContains:
		if v == nil {
			return false
		}
		return strings.Contains(strings.ToLower(cast.ToString(v)), strings.ToLower(cast.ToString(f.Value)))
	case types.OpIn:
		values, err := cast.ToSliceE(f.Value)
		if err != nil {
			return false
		}
		for _, want := range values {
			if Compare(dt, v, want) == 0 {
				return true
			}
		}
		return false
	}

	c := Compare(dt, v, f.Value)
	switch f.Op {
	case types.OpEq:
		return c == 0
	case types.OpNe:
		return c != 0
	case types.OpLt:
		return v != nil && c < 0
	case types.OpLe:
		return v != nil && c <= 0
	case types.OpGt:
		return c > 0
	case types.OpGe:
		return v != nil && c >= 0
	}
	return false
}

// Sort orders rows in place by sorters; earlier sorters take precedence
// and rows that tie keep their relative order.
func Sort(e *types.MetaEntity, rows []types.Record, sorters []types.Sorter) {
	if len(sorters) == 0 {
		return
	}
	dts := make([]types.DataType, len(sorters))
	for i, s := range sorters {
		if a := e.Attr(s.Attr); a != nil {
			dts[i] = a.DataType
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for k, s := range sorters {
			c := Compare(dts[k], rows[i][s.Attr], rows[j][s.Attr])
			if c == 0 {
				continue
			}
			if s.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// Window returns rows[offset:offset+limit], clamped to the slice. A limit
// of 0 leaves the window open at the end.
func Window(rows []types.Record, offset, limit int) []types.Record {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return []types.Record{}
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

// Apply filters, sorts and windows rows the way a Store answers List.
func Apply(e *types.MetaEntity, rows []types.Record, q types.Query) []types.Record {
	matched := make([]types.Record, 0, len(rows))
	for _, r := range rows {
		if Match(e, r, q.Filters) {
			matched = append(matched, r)
		}
	}
	Sort(e, matched, q.Sorters)
	return Window(matched, q.Offset, q.Limit)
}

// Project copies the attrs of rec into a new record. Attributes absent from
// rec are set to nil.
func Project(rec types.Record, attrs []*types.MetaEntityAttr) types.Record {
	out := make(types.Record, len(attrs))
	for _, a := range attrs {
		out[a.PropName] = rec[a.PropName]
	}
	return out
}
