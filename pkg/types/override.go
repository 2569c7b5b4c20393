package types

// EntityOverride declares optional replacements for one inferred container,
// matched by TypeName. Nil fields leave the inferred value untouched.
// Overrides are assembled once at startup and never mutated afterwards.
type EntityOverride struct {
	TypeName          string              `json:"type" yaml:"type"`
	Enabled           *bool               `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	DisplayName       *string             `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	DisplayNamePlural *string             `json:"display_name_plural,omitempty" yaml:"display_name_plural,omitempty"`
	Description       *string             `json:"description,omitempty" yaml:"description,omitempty"`
	Attributes        []AttributeOverride `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// AttributeOverride declares optional replacements for one attribute,
// matched by PropName within the entity its EntityOverride targets.
type AttributeOverride struct {
	PropName      string  `json:"prop" yaml:"prop"`
	Enabled       *bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	DisplayName   *string `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	DisplayFormat *string `json:"display_format,omitempty" yaml:"display_format,omitempty"`
	Description   *string `json:"description,omitempty" yaml:"description,omitempty"`
	Editable      *bool   `json:"editable,omitempty" yaml:"editable,omitempty"`
	Index         *int    `json:"index,omitempty" yaml:"index,omitempty"`
	ShowInLookup  *bool   `json:"show_in_lookup,omitempty" yaml:"show_in_lookup,omitempty"`
	ShowOnView    *bool   `json:"show_on_view,omitempty" yaml:"show_on_view,omitempty"`
	ShowOnEdit    *bool   `json:"show_on_edit,omitempty" yaml:"show_on_edit,omitempty"`
	ShowOnCreate  *bool   `json:"show_on_create,omitempty" yaml:"show_on_create,omitempty"`
	Sorting       *int    `json:"sorting,omitempty" yaml:"sorting,omitempty"`
}

// Disabled reports whether the override explicitly disables its entity.
func (o EntityOverride) Disabled() bool {
	return o.Enabled != nil && !*o.Enabled
}

// Disabled reports whether the override explicitly disables its attribute.
func (o AttributeOverride) Disabled() bool {
	return o.Enabled != nil && !*o.Enabled
}

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// String returns a pointer to s.
func String(s string) *string { return &s }

// Int returns a pointer to i.
func Int(i int) *int { return &i }

// CloneOverrides returns a deep copy of overrides so a holder can keep it
// immutable regardless of what the caller does with its slice.
func CloneOverrides(overrides []EntityOverride) []EntityOverride {
	if overrides == nil {
		return nil
	}
	out := make([]EntityOverride, len(overrides))
	for i, o := range overrides {
		out[i] = o
		if o.Attributes != nil {
			out[i].Attributes = append([]AttributeOverride(nil), o.Attributes...)
		}
	}
	return out
}
