// Package schema resolves, merges and caches metadata schemas.
package schema

import (
	"log/slog"

	"github.com/mesh-intelligence/metashelf/pkg/types"
)

// Merge applies overrides to a copy of s and returns the copy. s is never
// modified, so Merge is a pure function of its arguments.
//
// Overrides are applied in order. An override whose type or property name
// matches nothing is skipped. A disabled entity or attribute is removed and
// receives no field overlays. Later overrides win per field.
func Merge(s *types.MetaSchema, overrides []types.EntityOverride) *types.MetaSchema {
	return mergeWith(s, overrides, nil)
}

func mergeWith(s *types.MetaSchema, overrides []types.EntityOverride, logger *slog.Logger) *types.MetaSchema {
	out := s.Clone()
	if out == nil {
		return nil
	}
	if out.Root == nil {
		out.Root = &types.MetaEntity{}
	}
	for _, o := range overrides {
		idx := indexOfType(out.Root.SubEntities, o.TypeName)
		if idx < 0 {
			if logger != nil {
				logger.Debug("override matches no entity", "model", out.ID, "type", o.TypeName)
			}
			continue
		}
		if o.Disabled() {
			out.Root.SubEntities = removeEntity(out.Root.SubEntities, idx)
			continue
		}
		applyEntity(out.Root.SubEntities[idx], o, logger)
	}
	return out
}

func indexOfType(entities []*types.MetaEntity, typeName string) int {
	for i, e := range entities {
		if e.TypeName == typeName {
			return i
		}
	}
	return -1
}

func removeEntity(entities []*types.MetaEntity, i int) []*types.MetaEntity {
	return append(entities[:i:i], entities[i+1:]...)
}

func applyEntity(e *types.MetaEntity, o types.EntityOverride, logger *slog.Logger) {
	overlay(&e.Name, o.DisplayName)
	overlay(&e.NamePlural, o.DisplayNamePlural)
	overlay(&e.Description, o.Description)

	for _, ao := range o.Attributes {
		idx := -1
		for i, a := range e.Attributes {
			if a.PropName == ao.PropName {
				idx = i
				break
			}
		}
		if idx < 0 {
			if logger != nil {
				logger.Debug("override matches no attribute", "entity", e.ID, "prop", ao.PropName)
			}
			continue
		}
		if ao.Disabled() {
			e.Attributes = append(e.Attributes[:idx:idx], e.Attributes[idx+1:]...)
			continue
		}
		applyAttr(e.Attributes[idx], ao)
	}
}

func applyAttr(a *types.MetaEntityAttr, o types.AttributeOverride) {
	overlay(&a.Caption, o.DisplayName)
	overlay(&a.DisplayFormat, o.DisplayFormat)
	overlay(&a.Description, o.Description)
	overlay(&a.IsEditable, o.Editable)
	overlay(&a.Index, o.Index)
	overlay(&a.ShowInLookup, o.ShowInLookup)
	overlay(&a.ShowOnView, o.ShowOnView)
	overlay(&a.ShowOnEdit, o.ShowOnEdit)
	overlay(&a.ShowOnCreate, o.ShowOnCreate)
	overlay(&a.Sorting, o.Sorting)
}

// overlay replaces *dst with *src when src is set.
func overlay[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
