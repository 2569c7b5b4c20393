package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/metashelf/pkg/types"
)

// parseFilter reads "attr=value", "attr:op=value", "attr:isnull" or
// "attr:notnull". Values stay strings; the manager coerces them. The
// value of "in" is a comma-separated list.
func parseFilter(expr string) (types.Filter, error) {
	lhs, value, hasValue := strings.Cut(expr, "=")
	attr, op, hasOp := strings.Cut(lhs, ":")
	if attr == "" {
		return types.Filter{}, fmt.Errorf("%w: filter %q has no attribute", errUsage, expr)
	}
	f := types.Filter{Attr: attr, Op: types.OpEq}
	if hasOp {
		f.Op = types.FilterOp(strings.ToLower(op))
	}
	if !f.Op.IsValid() {
		return types.Filter{}, fmt.Errorf("%w: filter %q has unknown operation %q", errUsage, expr, op)
	}
	switch f.Op {
	case types.OpIsNull, types.OpNotNull:
		if hasValue {
			return types.Filter{}, fmt.Errorf("%w: filter %q takes no value", errUsage, expr)
		}
		return f, nil
	}
	if !hasValue {
		return types.Filter{}, fmt.Errorf("%w: filter %q needs a value (attr[:op]=value)", errUsage, expr)
	}
	if f.Op == types.OpIn {
		parts := strings.Split(value, ",")
		items := make([]any, len(parts))
		for i, p := range parts {
			items[i] = strings.TrimSpace(p)
		}
		f.Value = items
		return f, nil
	}
	f.Value = value
	return f, nil
}

func parseFilters(exprs []string) ([]types.Filter, error) {
	var filters []types.Filter
	for _, expr := range exprs {
		f, err := parseFilter(expr)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, nil
}

// parseSorter reads "attr", "-attr", "attr:asc" or "attr:desc".
func parseSorter(expr string) (types.Sorter, error) {
	if strings.HasPrefix(expr, "-") {
		return types.Sorter{Attr: expr[1:], Desc: true}, checkSorter(expr, expr[1:])
	}
	attr, dir, _ := strings.Cut(expr, ":")
	s := types.Sorter{Attr: attr}
	switch strings.ToLower(dir) {
	case "", "asc":
	case "desc":
		s.Desc = true
	default:
		return types.Sorter{}, fmt.Errorf("%w: sorter %q has unknown direction %q", errUsage, expr, dir)
	}
	return s, checkSorter(expr, attr)
}

func checkSorter(expr, attr string) error {
	if attr == "" {
		return fmt.Errorf("%w: sorter %q has no attribute", errUsage, expr)
	}
	return nil
}

// parseProps reads "prop=value" pairs. Values that parse as JSON (numbers,
// booleans, null, quoted strings) are decoded; anything else is taken as a
// raw string.
func parseProps(args []string, data string) (map[string]any, error) {
	props := make(map[string]any)
	if data != "" {
		if err := json.Unmarshal([]byte(data), &props); err != nil {
			return nil, fmt.Errorf("%w: --data is not a JSON object: %v", errUsage, err)
		}
	}
	for _, arg := range args {
		prop, value, ok := strings.Cut(arg, "=")
		if !ok || prop == "" {
			return nil, fmt.Errorf("%w: invalid property %q (expected prop=value)", errUsage, arg)
		}
		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err != nil {
			parsed = value
		}
		props[prop] = parsed
	}
	return props, nil
}
