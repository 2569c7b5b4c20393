package types

import (
	"fmt"
	"sort"
)

// DataType enumerates attribute value types.
type DataType string

// Attribute data types.
const (
	DataTypeUnknown  DataType = "unknown"
	DataTypeString   DataType = "string"
	DataTypeMemo     DataType = "memo"
	DataTypeGuid     DataType = "guid"
	DataTypeInt32    DataType = "int32"
	DataTypeInt64    DataType = "int64"
	DataTypeFloat    DataType = "float"
	DataTypeCurrency DataType = "currency"
	DataTypeBool     DataType = "bool"
	DataTypeDate     DataType = "date"
	DataTypeTime     DataType = "time"
	DataTypeDateTime DataType = "datetime"
	DataTypeBlob     DataType = "blob"
)

// validDataTypes is the set of recognized data types.
var validDataTypes = map[DataType]bool{
	DataTypeUnknown:  true,
	DataTypeString:   true,
	DataTypeMemo:     true,
	DataTypeGuid:     true,
	DataTypeInt32:    true,
	DataTypeInt64:    true,
	DataTypeFloat:    true,
	DataTypeCurrency: true,
	DataTypeBool:     true,
	DataTypeDate:     true,
	DataTypeTime:     true,
	DataTypeDateTime: true,
	DataTypeBlob:     true,
}

// IsValid reports whether dt is a recognized data type.
func (dt DataType) IsValid() bool {
	return validDataTypes[dt]
}

// IsNumeric reports whether values of dt compare as numbers.
func (dt DataType) IsNumeric() bool {
	switch dt {
	case DataTypeInt32, DataTypeInt64, DataTypeFloat, DataTypeCurrency:
		return true
	}
	return false
}

// IsTemporal reports whether values of dt are dates or times.
func (dt DataType) IsTemporal() bool {
	return dt == DataTypeDate || dt == DataTypeTime || dt == DataTypeDateTime
}

// IsText reports whether values of dt are strings.
func (dt DataType) IsText() bool {
	return dt == DataTypeString || dt == DataTypeMemo || dt == DataTypeGuid
}

// MetaSchema is the metadata tree of one model. Once published by a resolver
// it is shared read-only; re-resolution replaces it wholesale.
type MetaSchema struct {
	ID   string      `json:"id" yaml:"id"`
	Root *MetaEntity `json:"root" yaml:"root"`
}

// NewMetaSchema returns a schema with an empty root entity.
func NewMetaSchema(id string) *MetaSchema {
	return &MetaSchema{ID: id, Root: &MetaEntity{}}
}

// Containers returns the top-level containers of the schema.
func (s *MetaSchema) Containers() []*MetaEntity {
	if s == nil || s.Root == nil {
		return nil
	}
	return s.Root.SubEntities
}

// Container returns the top-level container with the given id, or nil.
func (s *MetaSchema) Container(id string) *MetaEntity {
	for _, e := range s.Containers() {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// AddContainer appends e to the root's containers.
func (s *MetaSchema) AddContainer(e *MetaEntity) {
	if s.Root == nil {
		s.Root = &MetaEntity{}
	}
	s.Root.SubEntities = append(s.Root.SubEntities, e)
}

// Validate checks the schema structure: container ids are non-empty and
// unique, and property names are unique within each entity.
func (s *MetaSchema) Validate() error {
	if s == nil || s.Root == nil {
		return fmt.Errorf("schema has no root entity")
	}
	seen := make(map[string]bool)
	for _, e := range s.Containers() {
		if e.ID == "" {
			return fmt.Errorf("container with type %q has an empty id", e.TypeName)
		}
		if seen[e.ID] {
			return fmt.Errorf("duplicate container id %q", e.ID)
		}
		seen[e.ID] = true
	}
	return s.Root.validate()
}

// Clone returns a deep copy of the schema.
func (s *MetaSchema) Clone() *MetaSchema {
	if s == nil {
		return nil
	}
	return &MetaSchema{ID: s.ID, Root: s.Root.Clone()}
}

// MetaEntity describes one container.
type MetaEntity struct {
	// ID is the container id callers address (table or collection name).
	ID string `json:"id" yaml:"id"`
	// TypeName is the source-type token overrides are matched against.
	TypeName    string            `json:"type_name" yaml:"type_name"`
	Name        string            `json:"name" yaml:"name"`
	NamePlural  string            `json:"name_plural" yaml:"name_plural"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Attributes  []*MetaEntityAttr `json:"attributes" yaml:"attributes"`
	SubEntities []*MetaEntity     `json:"sub_entities,omitempty" yaml:"sub_entities,omitempty"`
}

// Attr returns the attribute with the given property name, or nil.
func (e *MetaEntity) Attr(propName string) *MetaEntityAttr {
	for _, a := range e.Attributes {
		if a.PropName == propName {
			return a
		}
	}
	return nil
}

// KeyAttrs returns the primary key attributes in declaration order.
func (e *MetaEntity) KeyAttrs() []*MetaEntityAttr {
	var keys []*MetaEntityAttr
	for _, a := range e.Attributes {
		if a.IsPrimaryKey {
			keys = append(keys, a)
		}
	}
	return keys
}

// LookupAttrs returns the attributes populated in a lookup projection:
// key attributes plus those flagged ShowInLookup.
func (e *MetaEntity) LookupAttrs() []*MetaEntityAttr {
	var attrs []*MetaEntityAttr
	for _, a := range e.Attributes {
		if a.IsPrimaryKey || a.ShowInLookup {
			attrs = append(attrs, a)
		}
	}
	return attrs
}

// SortedAttrs returns the attributes ordered by Index, keeping declaration
// order for equal indexes.
func (e *MetaEntity) SortedAttrs() []*MetaEntityAttr {
	attrs := make([]*MetaEntityAttr, len(e.Attributes))
	copy(attrs, e.Attributes)
	sort.SliceStable(attrs, func(i, j int) bool {
		return attrs[i].Index < attrs[j].Index
	})
	return attrs
}

// Clone returns a deep copy of the entity and its subtree.
func (e *MetaEntity) Clone() *MetaEntity {
	if e == nil {
		return nil
	}
	c := *e
	if e.Attributes != nil {
		c.Attributes = make([]*MetaEntityAttr, len(e.Attributes))
		for i, a := range e.Attributes {
			c.Attributes[i] = a.Clone()
		}
	}
	if e.SubEntities != nil {
		c.SubEntities = make([]*MetaEntity, len(e.SubEntities))
		for i, sub := range e.SubEntities {
			c.SubEntities[i] = sub.Clone()
		}
	}
	return &c
}

func (e *MetaEntity) validate() error {
	props := make(map[string]bool, len(e.Attributes))
	for _, a := range e.Attributes {
		if a.PropName == "" {
			return fmt.Errorf("entity %q has an attribute with an empty property name", e.ID)
		}
		if props[a.PropName] {
			return fmt.Errorf("entity %q has duplicate attribute %q", e.ID, a.PropName)
		}
		props[a.PropName] = true
		if !a.DataType.IsValid() {
			return fmt.Errorf("attribute %s.%s has unknown data type %q", e.ID, a.PropName, a.DataType)
		}
	}
	for _, sub := range e.SubEntities {
		if err := sub.validate(); err != nil {
			return err
		}
	}
	return nil
}

// MetaEntityAttr describes one field of a container. PropName is the stable
// key; the remaining fields may change only while a schema is being merged.
type MetaEntityAttr struct {
	PropName      string   `json:"prop_name" yaml:"prop_name"`
	Caption       string   `json:"caption" yaml:"caption"`
	Description   string   `json:"description,omitempty" yaml:"description,omitempty"`
	DisplayFormat string   `json:"display_format,omitempty" yaml:"display_format,omitempty"`
	DataType      DataType `json:"data_type" yaml:"data_type"`
	IsPrimaryKey  bool     `json:"is_primary_key,omitempty" yaml:"is_primary_key,omitempty"`
	IsNullable    bool     `json:"is_nullable,omitempty" yaml:"is_nullable,omitempty"`
	IsEditable    bool     `json:"is_editable" yaml:"is_editable"`
	Index         int      `json:"index" yaml:"index"`
	ShowInLookup  bool     `json:"show_in_lookup" yaml:"show_in_lookup"`
	ShowOnView    bool     `json:"show_on_view" yaml:"show_on_view"`
	ShowOnEdit    bool     `json:"show_on_edit" yaml:"show_on_edit"`
	ShowOnCreate  bool     `json:"show_on_create" yaml:"show_on_create"`
	// Sorting marks a default sorter: 0 means none, a positive value sorts
	// ascending and a negative one descending. Lower absolute values sort first.
	Sorting      int `json:"sorting,omitempty" yaml:"sorting,omitempty"`
	DefaultValue any `json:"default_value,omitempty" yaml:"default_value,omitempty"`
}

// NewAttr returns an attribute with the visibility flags and editability set,
// the way an inferring loader creates it.
func NewAttr(propName, caption string, dt DataType) *MetaEntityAttr {
	return &MetaEntityAttr{
		PropName:     propName,
		Caption:      caption,
		DataType:     dt,
		IsEditable:   true,
		ShowInLookup: false,
		ShowOnView:   true,
		ShowOnEdit:   true,
		ShowOnCreate: true,
	}
}

// Clone returns a copy of the attribute.
func (a *MetaEntityAttr) Clone() *MetaEntityAttr {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}
