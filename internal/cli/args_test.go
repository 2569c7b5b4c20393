package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/metashelf/pkg/types"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		expr    string
		want    types.Filter
		wantErr bool
	}{
		{expr: "name=Bolt", want: types.Filter{Attr: "name", Op: types.OpEq, Value: "Bolt"}},
		{expr: "name=", want: types.Filter{Attr: "name", Op: types.OpEq, Value: ""}},
		{expr: "price:GE=3", want: types.Filter{Attr: "price", Op: types.OpGe, Value: "3"}},
		{expr: "note:contains=a=b", want: types.Filter{Attr: "note", Op: types.OpContains, Value: "a=b"}},
		{expr: "id:in=1, 2,3", want: types.Filter{Attr: "id", Op: types.OpIn, Value: []any{"1", "2", "3"}}},
		{expr: "sku:isnull", want: types.Filter{Attr: "sku", Op: types.OpIsNull}},
		{expr: "sku:notnull", want: types.Filter{Attr: "sku", Op: types.OpNotNull}},
		{expr: "sku:isnull=1", wantErr: true},
		{expr: "price:ge", wantErr: true},
		{expr: "name", wantErr: true},
		{expr: "=x", wantErr: true},
		{expr: "name:like=x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := parseFilter(tt.expr)
			if tt.wantErr {
				require.ErrorIs(t, err, errUsage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSorter(t *testing.T) {
	tests := map[string]types.Sorter{
		"name":       {Attr: "name"},
		"-price":     {Attr: "price", Desc: true},
		"price:asc":  {Attr: "price"},
		"price:DESC": {Attr: "price", Desc: true},
	}
	for expr, want := range tests {
		got, err := parseSorter(expr)
		require.NoError(t, err, expr)
		assert.Equal(t, want, got, expr)
	}
	for _, bad := range []string{"", "-", "price:up", ":desc"} {
		_, err := parseSorter(bad)
		assert.ErrorIs(t, err, errUsage, bad)
	}
}

func TestParseProps(t *testing.T) {
	props, err := parseProps([]string{"name=Widget", "price=9.5", "active=true", "sku=null", "code=007", `label="42"`}, `{"stock":3,"name":"ignored"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"name":   "Widget",
		"price":  9.5,
		"active": true,
		"sku":    nil,
		"code":   "007",
		"label":  "42",
		"stock":  float64(3),
	}, props)

	_, err = parseProps([]string{"novalue"}, "")
	assert.ErrorIs(t, err, errUsage)
	_, err = parseProps(nil, "[1,2]")
	assert.ErrorIs(t, err, errUsage)
}
