package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mesh-intelligence/metashelf/internal/schema"
	"github.com/mesh-intelligence/metashelf/pkg/types"
)

// SQLite is the dialect for modernc.org/sqlite.
type SQLite struct{}

// Name implements Dialect.
func (SQLite) Name() string { return "sqlite" }

// Placeholder implements Dialect.
func (SQLite) Placeholder(int) string { return "?" }

// Window implements Dialect. SQLite needs a LIMIT before an OFFSET.
func (SQLite) Window(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
	case limit > 0:
		return fmt.Sprintf("LIMIT %d", limit)
	case offset > 0:
		return fmt.Sprintf("LIMIT -1 OFFSET %d", offset)
	}
	return ""
}

// ContainsExpr implements Dialect.
func (SQLite) ContainsExpr(column, ph string) string {
	return "LOWER(" + column + ") LIKE " + ph + ` ESCAPE '\'`
}

// ConstraintViolation implements Dialect. SQLite does not name the column
// in a structured way, so only the classification is reported.
func (SQLite) ConstraintViolation(err error) (string, bool) {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return "", se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return "", strings.Contains(err.Error(), "constraint failed")
}

// LoadSchema implements Dialect using sqlite_master and PRAGMA table_info.
func (SQLite) LoadSchema(ctx context.Context, db *sql.DB, modelID string) (*types.MetaSchema, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("listing tables: %w", err)
		}
		tables = append(tables, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}

	s := types.NewMetaSchema(modelID)
	for _, table := range tables {
		e, err := sqliteEntity(ctx, db, table)
		if err != nil {
			return nil, err
		}
		s.AddContainer(e)
	}
	return s, nil
}

func sqliteEntity(ctx context.Context, db *sql.DB, table string) (*types.MetaEntity, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(table)+")")
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", table, err)
	}
	defer rows.Close()

	e := inferredEntity(table)
	for rows.Next() {
		var (
			cid      int
			name     string
			declType string
			notNull  int
			dflt     sql.NullString
			pk       int
		)
		if err := rows.Scan(&cid, &name, &declType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("reading columns of %s: %w", table, err)
		}
		a := types.NewAttr(name, schema.Caption(name), sqliteType(declType))
		a.Index = cid
		a.IsPrimaryKey = pk > 0
		a.IsNullable = notNull == 0 && pk == 0
		applyColumnDefault(a, dflt)
		e.Attributes = append(e.Attributes, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", table, err)
	}
	markKeys(e)
	return e, nil
}

// sqliteType maps a declared column type to a data type using SQLite's
// affinity rules plus the common date and boolean spellings.
func sqliteType(decl string) types.DataType {
	t := strings.ToUpper(decl)
	switch {
	case t == "":
		return types.DataTypeString
	case strings.Contains(t, "UUID"), strings.Contains(t, "GUID"):
		return types.DataTypeGuid
	case strings.Contains(t, "BOOL"):
		return types.DataTypeBool
	case strings.Contains(t, "DATETIME"), strings.Contains(t, "TIMESTAMP"):
		return types.DataTypeDateTime
	case strings.Contains(t, "DATE"):
		return types.DataTypeDate
	case strings.Contains(t, "TIME"):
		return types.DataTypeTime
	case strings.Contains(t, "INT"):
		return types.DataTypeInt64
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"):
		return types.DataTypeString
	case strings.Contains(t, "TEXT"):
		return types.DataTypeMemo
	case strings.Contains(t, "BLOB"):
		return types.DataTypeBlob
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		return types.DataTypeFloat
	case strings.Contains(t, "DEC"), strings.Contains(t, "NUM"), strings.Contains(t, "MONEY"):
		return types.DataTypeCurrency
	}
	return types.DataTypeString
}
