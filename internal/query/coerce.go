package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/mesh-intelligence/metashelf/pkg/types"
)

// TimeLayout is the canonical form of DataTypeTime values.
const TimeLayout = "15:04:05"

// Coerce converts v to the Go representation of dt:
//
//	string, memo      string
//	guid              canonical UUID string
//	int32             int32
//	int64             int64
//	float, currency   float64
//	bool              bool
//	date, datetime    time.Time
//	time              string (15:04:05)
//	blob              []byte
//
// nil stays nil. Unknown data types pass values through unchanged.
func Coerce(dt types.DataType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch dt {
	case types.DataTypeString, types.DataTypeMemo:
		return cast.ToStringE(v)
	case types.DataTypeGuid:
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, err
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		return id.String(), nil
	case types.DataTypeInt32:
		return cast.ToInt32E(v)
	case types.DataTypeInt64:
		return cast.ToInt64E(v)
	case types.DataTypeFloat, types.DataTypeCurrency:
		return cast.ToFloat64E(v)
	case types.DataTypeBool:
		return cast.ToBoolE(v)
	case types.DataTypeDate, types.DataTypeDateTime:
		return cast.ToTimeE(v)
	case types.DataTypeTime:
		return coerceClock(v)
	case types.DataTypeBlob:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
		return nil, fmt.Errorf("unable to cast %#v of type %T to []byte", v, v)
	}
	return v, nil
}

func coerceClock(v any) (any, error) {
	if t, ok := v.(time.Time); ok {
		return t.Format(TimeLayout), nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil, err
	}
	s = strings.TrimSpace(s)
	for _, layout := range []string{TimeLayout, "15:04", time.Kitchen} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(TimeLayout), nil
		}
	}
	return nil, fmt.Errorf("unable to parse %q as a time of day", s)
}

// ParseKey splits a key string written by types.Key.String into the values
// of e's key attributes and coerces each to its attribute's data type.
func ParseKey(e *types.MetaEntity, s string) (types.Key, error) {
	attrs := e.KeyAttrs()
	if len(attrs) == 0 {
		return types.Key{}, fmt.Errorf("container %s has no key attributes", e.ID)
	}
	parts := []string{s}
	if len(attrs) > 1 {
		var err error
		if parts, err = types.SplitKey(s); err != nil {
			return types.Key{}, err
		}
	}
	if len(parts) != len(attrs) {
		return types.Key{}, fmt.Errorf("key %q has %d parts, want %d", s, len(parts), len(attrs))
	}
	key := types.Key{
		Props:  make([]string, len(attrs)),
		Values: make([]any, len(attrs)),
	}
	for i, a := range attrs {
		if parts[i] == "" {
			return types.Key{}, fmt.Errorf("key %q has an empty %s part", s, a.PropName)
		}
		v, err := Coerce(a.DataType, parts[i])
		if err != nil {
			return types.Key{}, fmt.Errorf("key part %s: %w", a.PropName, err)
		}
		key.Props[i] = a.PropName
		key.Values[i] = v
	}
	return key, nil
}

// KeyOf extracts e's key from a record. ok is false when a key value is
// missing.
func KeyOf(e *types.MetaEntity, rec types.Record) (types.Key, bool) {
	attrs := e.KeyAttrs()
	key := types.Key{
		Props:  make([]string, len(attrs)),
		Values: make([]any, len(attrs)),
	}
	for i, a := range attrs {
		v, ok := rec[a.PropName]
		if !ok || v == nil {
			return types.Key{}, false
		}
		key.Props[i] = a.PropName
		key.Values[i] = v
	}
	return key, len(attrs) > 0
}
