package schema

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/metashelf/pkg/types"
)

// ErrSchemaFileNotFound is returned by FileLoader when no declaration
// exists for a model id.
var ErrSchemaFileNotFound = errors.New("schema declaration not found")

// overridesDoc is the top-level shape of an overrides file:
//
//	entities:
//	  - type: Product
//	    display_name: Item
//	    attributes:
//	      - prop: price
//	        enabled: false
type overridesDoc struct {
	Entities []types.EntityOverride `yaml:"entities"`
}

// DecodeOverrides parses an overrides document.
func DecodeOverrides(r io.Reader) ([]types.EntityOverride, error) {
	var doc overridesDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decoding overrides: %w", err)
	}
	for i, o := range doc.Entities {
		if o.TypeName == "" {
			return nil, fmt.Errorf("override %d: type must not be empty", i)
		}
		for j, a := range o.Attributes {
			if a.PropName == "" {
				return nil, fmt.Errorf("override %s attribute %d: prop must not be empty", o.TypeName, j)
			}
		}
	}
	return doc.Entities, nil
}

// ReadOverrides reads an overrides file. An empty path yields no overrides.
func ReadOverrides(path string) ([]types.EntityOverride, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading overrides: %w", err)
	}
	return DecodeOverrides(bytes.NewReader(data))
}

// DecodeSchema parses a static schema declaration. Attributes omit the
// visibility flags they want left at the inferred defaults (all true).
func DecodeSchema(r io.Reader) (*types.MetaSchema, error) {
	var doc struct {
		ID         string        `yaml:"id"`
		Containers []*entityDecl `yaml:"containers"`
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding schema: %w", err)
	}
	s := types.NewMetaSchema(doc.ID)
	for _, c := range doc.Containers {
		s.AddContainer(c.entity())
	}
	return s, nil
}

// FileLoader loads schemas from <Dir>/<model id>.yaml.
type FileLoader struct {
	Dir string
}

// LoadSchema implements types.SchemaLoader.
func (l FileLoader) LoadSchema(ctx context.Context, modelID string) (*types.MetaSchema, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if modelID == "" || strings.ContainsAny(modelID, `/\`) || modelID == "." || modelID == ".." {
		return nil, fmt.Errorf("invalid model id %q", modelID)
	}
	path := l.Path(modelID)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSchemaFileNotFound, path)
		}
		return nil, err
	}
	defer f.Close()
	s, err := DecodeSchema(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.ID = modelID
	return s, nil
}

// Path returns the declaration file path for modelID.
func (l FileLoader) Path(modelID string) string {
	return filepath.Join(l.Dir, modelID+".yaml")
}

// entityDecl mirrors MetaEntity with optional visibility flags.
type entityDecl struct {
	ID          string        `yaml:"id"`
	Type        string        `yaml:"type"`
	Name        string        `yaml:"name"`
	NamePlural  string        `yaml:"name_plural"`
	Description string        `yaml:"description"`
	Attributes  []attrDecl    `yaml:"attributes"`
	SubEntities []*entityDecl `yaml:"sub_entities"`
}

type attrDecl struct {
	Prop          string         `yaml:"prop"`
	Caption       string         `yaml:"caption"`
	Description   string         `yaml:"description"`
	DisplayFormat string         `yaml:"display_format"`
	Type          types.DataType `yaml:"type"`
	Key           bool           `yaml:"key"`
	Nullable      bool           `yaml:"nullable"`
	Editable      *bool          `yaml:"editable"`
	Index         *int           `yaml:"index"`
	ShowInLookup  bool           `yaml:"show_in_lookup"`
	ShowOnView    *bool          `yaml:"show_on_view"`
	ShowOnEdit    *bool          `yaml:"show_on_edit"`
	ShowOnCreate  *bool          `yaml:"show_on_create"`
	Sorting       int            `yaml:"sorting"`
	Default       any            `yaml:"default"`
}

func (d *entityDecl) entity() *types.MetaEntity {
	e := &types.MetaEntity{
		ID:          d.ID,
		TypeName:    d.Type,
		Name:        d.Name,
		NamePlural:  d.NamePlural,
		Description: d.Description,
	}
	if e.TypeName == "" {
		e.TypeName = TypeNameFor(d.ID)
	}
	if e.Name == "" {
		e.Name = DisplayName(d.ID)
	}
	if e.NamePlural == "" {
		e.NamePlural = DisplayNamePlural(d.ID)
	}
	for i, ad := range d.Attributes {
		dt := ad.Type
		if dt == "" {
			dt = types.DataTypeString
		}
		caption := ad.Caption
		if caption == "" {
			caption = Caption(ad.Prop)
		}
		a := types.NewAttr(ad.Prop, caption, dt)
		a.Description = ad.Description
		a.DisplayFormat = ad.DisplayFormat
		a.IsPrimaryKey = ad.Key
		a.IsNullable = ad.Nullable
		a.Index = i
		a.ShowInLookup = ad.ShowInLookup
		a.Sorting = ad.Sorting
		a.DefaultValue = ad.Default
		overlay(&a.IsEditable, ad.Editable)
		overlay(&a.Index, ad.Index)
		overlay(&a.ShowOnView, ad.ShowOnView)
		overlay(&a.ShowOnEdit, ad.ShowOnEdit)
		overlay(&a.ShowOnCreate, ad.ShowOnCreate)
		e.Attributes = append(e.Attributes, a)
	}
	for _, sub := range d.SubEntities {
		e.SubEntities = append(e.SubEntities, sub.entity())
	}
	return e
}
