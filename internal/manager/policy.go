package manager

import (
	"context"
	"fmt"
	"sort"

	"github.com/mesh-intelligence/metashelf/internal/query"
	"github.com/mesh-intelligence/metashelf/pkg/types"
)

func unknownAttr(prop string) types.FieldError {
	return types.FieldError{
		Code:    types.CodeUnknownAttribute,
		Field:   prop,
		Message: "is not an attribute of this container",
	}
}

func invalidValue(prop string, err error) types.FieldError {
	return types.FieldError{Code: types.CodeInvalidValue, Field: prop, Message: err.Error()}
}

func sortedProps(props map[string]any) []string {
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// checkFilters validates filters against e and coerces their operands to
// the attribute types.
func checkFilters(e *types.MetaEntity, filters []types.Filter) ([]types.Filter, []types.FieldError) {
	var errs []types.FieldError
	out := make([]types.Filter, 0, len(filters))
	for _, f := range filters {
		a := e.Attr(f.Attr)
		if a == nil {
			errs = append(errs, unknownAttr(f.Attr))
			continue
		}
		op := f.Op
		if op == "" {
			op = types.OpEq
		}
		if !op.IsValid() {
			errs = append(errs, types.FieldError{
				Code:    types.CodeInvalidValue,
				Field:   f.Attr,
				Message: fmt.Sprintf("unknown filter operation %q", f.Op),
			})
			continue
		}
		checked := types.Filter{Attr: f.Attr, Op: op, Value: f.Value}
		switch op {
		case types.OpIsNull, types.OpNotNull:
			checked.Value = nil
		case types.OpContains:
		case types.OpIn:
			values, err := toSlice(f.Value)
			if err == nil {
				for i, v := range values {
					if values[i], err = query.Coerce(a.DataType, v); err != nil {
						break
					}
				}
			}
			if err != nil {
				errs = append(errs, invalidValue(f.Attr, err))
				continue
			}
			checked.Value = values
		default:
			v, err := query.Coerce(a.DataType, f.Value)
			if err != nil {
				errs = append(errs, invalidValue(f.Attr, err))
				continue
			}
			checked.Value = v
		}
		out = append(out, checked)
	}
	return out, errs
}

func toSlice(v any) ([]any, error) {
	switch s := v.(type) {
	case []any:
		out := make([]any, len(s))
		copy(out, s)
		return out, nil
	case []string:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out, nil
	}
	return nil, fmt.Errorf("operand of %q must be a list, got %T", types.OpIn, v)
}

// checkCreate applies the create policy to props and returns the coerced
// record to store.
func (m *Manager) checkCreate(e *types.MetaEntity, props map[string]any) (types.Record, []types.FieldError) {
	var errs []types.FieldError
	rec := make(types.Record, len(props))
	for _, name := range sortedProps(props) {
		a := e.Attr(name)
		if a == nil {
			errs = append(errs, unknownAttr(name))
			continue
		}
		v, err := query.Coerce(a.DataType, props[name])
		if err != nil {
			errs = append(errs, invalidValue(name, err))
			continue
		}
		rec[name] = v
	}

	keys := e.KeyAttrs()
	if len(keys) == 1 && rec[keys[0].PropName] == nil && generatesKey(keys[0].DataType) {
		id, err := m.newKey()
		if err != nil {
			errs = append(errs, types.FieldError{Field: keys[0].PropName, Message: err.Error()})
		} else {
			rec[keys[0].PropName] = id
		}
	}

	for _, a := range e.Attributes {
		if rec[a.PropName] != nil {
			continue
		}
		_, supplied := props[a.PropName]
		if supplied && hasField(errs, a.PropName) {
			continue
		}
		if !supplied && a.DefaultValue != nil {
			v, err := query.Coerce(a.DataType, a.DefaultValue)
			if err != nil {
				errs = append(errs, invalidValue(a.PropName, fmt.Errorf("default: %w", err)))
				continue
			}
			rec[a.PropName] = v
			continue
		}
		// A lone key the Manager cannot generate is assigned by the store,
		// as are non-editable columns.
		if a.IsNullable || (a.IsPrimaryKey && len(keys) == 1) || (!a.IsPrimaryKey && !a.IsEditable) {
			continue
		}
		errs = append(errs, types.FieldError{Code: types.CodeRequired, Field: a.PropName, Message: "is required"})
	}
	return rec, errs
}

func generatesKey(dt types.DataType) bool {
	return dt == types.DataTypeGuid || dt == types.DataTypeString
}

func hasField(errs []types.FieldError, field string) bool {
	for _, f := range errs {
		if f.Field == field {
			return true
		}
	}
	return false
}

// checkUpdate applies the update policy to props and returns the coerced
// changes.
func (m *Manager) checkUpdate(e *types.MetaEntity, key types.Key, props map[string]any) (types.Record, []types.FieldError) {
	var errs []types.FieldError
	keyValues := key.Map()
	changes := make(types.Record, len(props))
	for _, name := range sortedProps(props) {
		a := e.Attr(name)
		if a == nil {
			errs = append(errs, unknownAttr(name))
			continue
		}
		v, err := query.Coerce(a.DataType, props[name])
		if err != nil {
			errs = append(errs, invalidValue(name, err))
			continue
		}
		if a.IsPrimaryKey {
			// Echoing the current key value back is harmless.
			if query.Compare(a.DataType, v, keyValues[name]) != 0 {
				errs = append(errs, types.FieldError{Code: types.CodeKeyImmutable, Field: name, Message: "cannot be changed"})
			}
			continue
		}
		if !a.IsEditable {
			errs = append(errs, types.FieldError{Code: types.CodeNotEditable, Field: name, Message: "is not editable"})
			continue
		}
		if v == nil && !a.IsNullable {
			errs = append(errs, types.FieldError{Code: types.CodeRequired, Field: name, Message: "is required"})
			continue
		}
		changes[name] = v
	}
	return changes, errs
}

// validate runs the registered validators over the coerced properties.
func (m *Manager) validate(ctx context.Context, e *types.MetaEntity, key *types.Key, props types.Record) []types.FieldError {
	var errs []types.FieldError
	for _, v := range m.validators {
		errs = append(errs, v.Validate(ctx, e, key, props)...)
	}
	return errs
}
