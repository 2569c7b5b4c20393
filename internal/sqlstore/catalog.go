package sqlstore

import (
	"database/sql"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/metashelf/internal/schema"
	"github.com/mesh-intelligence/metashelf/pkg/types"
)

// inferredEntity returns an empty container named after a table.
func inferredEntity(table string) *types.MetaEntity {
	return &types.MetaEntity{
		ID:         table,
		TypeName:   schema.TypeNameFor(table),
		Name:       schema.DisplayName(table),
		NamePlural: schema.DisplayNamePlural(table),
	}
}

// markKeys makes key columns read-only and visible in lookups.
func markKeys(e *types.MetaEntity) {
	for _, a := range e.Attributes {
		if a.IsPrimaryKey {
			a.IsEditable = false
			a.ShowInLookup = true
		}
	}
}

// applyColumnDefault records a literal column default on the attribute.
// Columns defaulted by an expression (sequences, CURRENT_TIMESTAMP, now())
// are maintained by the database and become read-only.
func applyColumnDefault(a *types.MetaEntityAttr, dflt sql.NullString) {
	if !dflt.Valid || strings.TrimSpace(dflt.String) == "" {
		return
	}
	if v, ok := literalDefault(dflt.String); ok {
		a.DefaultValue = v
		return
	}
	if !a.IsPrimaryKey {
		a.IsEditable = false
		a.ShowOnCreate = false
	}
}

// literalDefault parses constant default expressions: quoted strings with an
// optional ::type cast, numbers and booleans.
func literalDefault(expr string) (any, bool) {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "(") && strings.HasSuffix(expr, ")") {
		expr = strings.TrimSpace(expr[1 : len(expr)-1])
	}
	if i := strings.LastIndex(expr, "::"); i > 0 && strings.HasPrefix(expr, "'") {
		expr = expr[:i]
	}
	if len(expr) >= 2 && expr[0] == '\'' && expr[len(expr)-1] == '\'' {
		return strings.ReplaceAll(expr[1:len(expr)-1], "''", "'"), true
	}
	if _, err := strconv.ParseFloat(expr, 64); err == nil {
		return expr, true
	}
	switch strings.ToLower(expr) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return nil, false
}
