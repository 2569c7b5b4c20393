package schema

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/metashelf/pkg/types"
)

const shopDecl = `
id: ignored
containers:
  - id: products
    type: Product
    attributes:
      - prop: id
        type: int64
        key: true
        editable: false
      - prop: name
        show_in_lookup: true
        sorting: 1
      - prop: unit_price
        type: currency
        nullable: true
        show_on_create: false
  - id: order_lines
    attributes:
      - prop: id
        type: guid
        key: true
`

const shopOverrides = `
entities:
  - type: Product
    display_name: Item
    attributes:
      - prop: unit_price
        enabled: false
  - type: OrderLine
    enabled: false
`

func TestDecodeSchema(t *testing.T) {
	s, err := DecodeSchema(strings.NewReader(shopDecl))
	require.NoError(t, err)
	require.NoError(t, s.Validate())
	require.Len(t, s.Containers(), 2)

	products := s.Container("products")
	require.NotNil(t, products)
	assert.Equal(t, "Product", products.TypeName)
	assert.Equal(t, "Product", products.Name)
	assert.Equal(t, "Products", products.NamePlural)

	id := products.Attr("id")
	assert.True(t, id.IsPrimaryKey)
	assert.False(t, id.IsEditable)
	assert.Equal(t, types.DataTypeInt64, id.DataType)

	name := products.Attr("name")
	assert.Equal(t, types.DataTypeString, name.DataType, "type defaults to string")
	assert.True(t, name.ShowInLookup)
	assert.True(t, name.IsEditable)
	assert.Equal(t, 1, name.Sorting)
	assert.Equal(t, 1, name.Index)

	price := products.Attr("unit_price")
	assert.Equal(t, "Unit price", price.Caption)
	assert.True(t, price.IsNullable)
	assert.False(t, price.ShowOnCreate)
	assert.True(t, price.ShowOnView)

	lines := s.Container("order_lines")
	require.NotNil(t, lines)
	assert.Equal(t, "OrderLine", lines.TypeName, "type defaults to the camelized singular id")
}

func TestDecodeSchema_RejectsUnknownFields(t *testing.T) {
	_, err := DecodeSchema(strings.NewReader("containers:\n  - id: x\n    colour: red\n"))
	assert.Error(t, err)
}

func TestDecodeOverrides(t *testing.T) {
	overrides, err := DecodeOverrides(strings.NewReader(shopOverrides))
	require.NoError(t, err)
	require.Len(t, overrides, 2)

	assert.Equal(t, "Product", overrides[0].TypeName)
	require.NotNil(t, overrides[0].DisplayName)
	assert.Equal(t, "Item", *overrides[0].DisplayName)
	assert.Nil(t, overrides[0].Enabled)
	require.Len(t, overrides[0].Attributes, 1)
	assert.True(t, overrides[0].Attributes[0].Disabled())
	assert.Nil(t, overrides[0].Attributes[0].DisplayName)

	assert.True(t, overrides[1].Disabled())
}

func TestDecodeOverrides_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing type", "entities:\n  - display_name: X\n"},
		{"missing prop", "entities:\n  - type: Product\n    attributes:\n      - caption: X\n"},
		{"unknown field", "entities:\n  - type: Product\n    hidden: true\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeOverrides(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestDecodeOverrides_EmptyDocument(t *testing.T) {
	overrides, err := DecodeOverrides(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, overrides)
}

func TestReadOverrides(t *testing.T) {
	overrides, err := ReadOverrides("")
	require.NoError(t, err)
	assert.Nil(t, overrides)

	path := filepath.Join(t.TempDir(), "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte(shopOverrides), 0o644))
	overrides, err = ReadOverrides(path)
	require.NoError(t, err)
	assert.Len(t, overrides, 2)

	_, err = ReadOverrides(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFileLoader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shop.yaml"), []byte(shopDecl), 0o644))
	loader := FileLoader{Dir: dir}

	s, err := loader.LoadSchema(context.Background(), "shop")
	require.NoError(t, err)
	assert.Equal(t, "shop", s.ID)
	assert.Len(t, s.Containers(), 2)

	_, err = loader.LoadSchema(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSchemaFileNotFound)

	_, err = loader.LoadSchema(context.Background(), "../shop")
	assert.Error(t, err)
}

func TestFileLoaderWithResolverAndOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shop.yaml"), []byte(shopDecl), 0o644))
	overrides, err := DecodeOverrides(strings.NewReader(shopOverrides))
	require.NoError(t, err)

	r := NewResolver(FileLoader{Dir: dir}, WithOverrides(overrides))
	s, err := r.Resolve(context.Background(), "shop")
	require.NoError(t, err)

	assert.Nil(t, s.Container("order_lines"))
	products := s.Container("products")
	require.NotNil(t, products)
	assert.Equal(t, "Item", products.Name)
	assert.Nil(t, products.Attr("unit_price"))
}

func TestNaming(t *testing.T) {
	assert.Equal(t, "OrderLine", TypeNameFor("order_lines"))
	assert.Equal(t, "Product", TypeNameFor("public.products"))
	assert.Equal(t, "Order line", DisplayName("order_lines"))
	assert.Equal(t, "Products", DisplayNamePlural("products"))
	assert.Equal(t, "Unit price", Caption("unit_price"))
	assert.Equal(t, "", Caption(""))
	assert.Equal(t, "", TypeNameFor(""))
}
