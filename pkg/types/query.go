package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Record is one entity as a flat mapping of property name to value.
type Record map[string]any

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	c := make(Record, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// Key holds primary key values by property name, in the order of the
// entity's key attributes.
type Key struct {
	Props  []string
	Values []any
}

// Map returns the key as a property map.
func (k Key) Map() map[string]any {
	m := make(map[string]any, len(k.Props))
	for i, p := range k.Props {
		m[p] = k.Values[i]
	}
	return m
}

// String formats the key the way callers address entities. A single key
// value is written as is. Composite key values are joined with
// KeySeparator, each with backslashes and separators escaped by a
// backslash. Times are written in UTC as RFC 3339.
func (k Key) String() string {
	if len(k.Values) == 1 {
		return keyPart(k.Values[0])
	}
	parts := make([]string, len(k.Values))
	for i, v := range k.Values {
		parts[i] = keyEscaper.Replace(keyPart(v))
	}
	return strings.Join(parts, KeySeparator)
}

func keyPart(v any) string {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v)
}

// KeySeparator joins the values of a composite key in a key string.
const KeySeparator = ":"

var keyEscaper = strings.NewReplacer(`\`, `\\`, KeySeparator, `\`+KeySeparator)

// ErrMalformedKey reports a key string with a dangling escape.
var ErrMalformedKey = errors.New("malformed key")

// SplitKey splits a composite key string written by Key.String into its
// unescaped parts.
func SplitKey(s string) ([]string, error) {
	var parts []string
	var cur strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\\':
			if i+1 == len(s) {
				return nil, fmt.Errorf("%w: %q ends with an escape", ErrMalformedKey, s)
			}
			i++
			cur.WriteByte(s[i])
		case strings.HasPrefix(s[i:], KeySeparator):
			parts = append(parts, cur.String())
			cur.Reset()
			i += len(KeySeparator) - 1
		default:
			cur.WriteByte(c)
		}
	}
	return append(parts, cur.String()), nil
}

// FilterOp is a comparison applied by a Filter.
type FilterOp string

// Filter operations.
const (
	OpEq       FilterOp = "eq"
	OpNe       FilterOp = "ne"
	OpLt       FilterOp = "lt"
	OpLe       FilterOp = "le"
	OpGt       FilterOp = "gt"
	OpGe       FilterOp = "ge"
	OpContains FilterOp = "contains"
	OpIn       FilterOp = "in"
	OpIsNull   FilterOp = "isnull"
	OpNotNull  FilterOp = "notnull"
)

var validFilterOps = map[FilterOp]bool{
	OpEq: true, OpNe: true, OpLt: true, OpLe: true, OpGt: true, OpGe: true,
	OpContains: true, OpIn: true, OpIsNull: true, OpNotNull: true,
}

// IsValid reports whether op is a recognized operation.
func (op FilterOp) IsValid() bool {
	return validFilterOps[op]
}

// Filter restricts a listing to entities whose Attr satisfies Op against
// Value. OpContains is a case-insensitive substring match; OpIn expects a
// slice value. Filters in one request are combined with AND.
type Filter struct {
	Attr  string   `json:"attr" yaml:"attr"`
	Op    FilterOp `json:"op" yaml:"op"`
	Value any      `json:"value,omitempty" yaml:"value,omitempty"`
}

// Sorter orders a listing by one attribute.
type Sorter struct {
	Attr string `json:"attr" yaml:"attr"`
	Desc bool   `json:"desc,omitempty" yaml:"desc,omitempty"`
}

// ListOptions parameterizes Manager.ListEntities. A nil Offset or Limit
// leaves that side of the window open. Lookup asks for a lookup projection.
type ListOptions struct {
	Filters []Filter
	Sorters []Sorter
	Offset  *int
	Limit   *int
	Lookup  bool
}

// Query is what a Store receives for a listing: validated filters, the
// effective sorters, the window and the attributes to populate.
type Query struct {
	Filters []Filter
	Sorters []Sorter
	Offset  int
	Limit   int // 0 means unbounded
	Attrs   []*MetaEntityAttr
}

// Column describes one result set column.
type Column struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	DataType DataType `json:"data_type"`
}

// ResultSet is the answer to a listing.
type ResultSet struct {
	Columns []Column `json:"columns"`
	Rows    []Record `json:"rows"`
}
