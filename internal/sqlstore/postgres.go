package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/mesh-intelligence/metashelf/internal/schema"
	"github.com/mesh-intelligence/metashelf/pkg/types"
)

// Postgres is the dialect for github.com/lib/pq. Containers are the tables
// and views of one schema.
type Postgres struct {
	Schema string
}

// Name implements Dialect.
func (Postgres) Name() string { return "postgres" }

// Placeholder implements Dialect.
func (Postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

// Window implements Dialect.
func (Postgres) Window(limit, offset int) string {
	var parts []string
	if limit > 0 {
		parts = append(parts, fmt.Sprintf("LIMIT %d", limit))
	}
	if offset > 0 {
		parts = append(parts, fmt.Sprintf("OFFSET %d", offset))
	}
	return strings.Join(parts, " ")
}

// ContainsExpr implements Dialect.
func (Postgres) ContainsExpr(column, ph string) string {
	return "LOWER(CAST(" + column + " AS TEXT)) LIKE " + ph + ` ESCAPE '\'`
}

// ConstraintViolation implements Dialect: SQLSTATE class 23 is integrity
// constraint violation.
func (Postgres) ConstraintViolation(err error) (string, bool) {
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pe.Column, strings.HasPrefix(string(pe.Code), "23")
	}
	return "", false
}

const pgColumnsQuery = `SELECT table_name, column_name, data_type, is_nullable, column_default, ordinal_position
FROM information_schema.columns
WHERE table_schema = $1
ORDER BY table_name, ordinal_position`

const pgKeysQuery = `SELECT tc.table_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
WHERE tc.table_schema = $1 AND tc.constraint_type = 'PRIMARY KEY'
ORDER BY tc.table_name, kcu.ordinal_position`

// LoadSchema implements Dialect using information_schema.
func (p Postgres) LoadSchema(ctx context.Context, db *sql.DB, modelID string) (*types.MetaSchema, error) {
	keys, err := p.primaryKeys(ctx, db)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, pgColumnsQuery, p.Schema)
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}
	defer rows.Close()

	s := types.NewMetaSchema(modelID)
	var e *types.MetaEntity
	for rows.Next() {
		var (
			table, column, dataType, nullable string
			dflt                              sql.NullString
			position                          int
		)
		if err := rows.Scan(&table, &column, &dataType, &nullable, &dflt, &position); err != nil {
			return nil, fmt.Errorf("reading columns: %w", err)
		}
		if e == nil || e.ID != table {
			if e != nil {
				markKeys(e)
			}
			e = inferredEntity(table)
			s.AddContainer(e)
		}
		a := types.NewAttr(column, schema.Caption(column), postgresType(dataType))
		a.Index = position - 1
		a.IsPrimaryKey = keys[table][column]
		a.IsNullable = nullable == "YES" && !a.IsPrimaryKey
		applyColumnDefault(a, dflt)
		e.Attributes = append(e.Attributes, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}
	if e != nil {
		markKeys(e)
	}
	return s, nil
}

func (p Postgres) primaryKeys(ctx context.Context, db *sql.DB) (map[string]map[string]bool, error) {
	rows, err := db.QueryContext(ctx, pgKeysQuery, p.Schema)
	if err != nil {
		return nil, fmt.Errorf("reading primary keys: %w", err)
	}
	defer rows.Close()
	keys := make(map[string]map[string]bool)
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return nil, fmt.Errorf("reading primary keys: %w", err)
		}
		if keys[table] == nil {
			keys[table] = make(map[string]bool)
		}
		keys[table][column] = true
	}
	return keys, rows.Err()
}

// postgresType maps information_schema.columns.data_type to a data type.
func postgresType(dataType string) types.DataType {
	switch t := strings.ToLower(dataType); {
	case t == "smallint" || t == "integer":
		return types.DataTypeInt32
	case t == "bigint":
		return types.DataTypeInt64
	case t == "numeric" || t == "money":
		return types.DataTypeCurrency
	case t == "real" || t == "double precision":
		return types.DataTypeFloat
	case t == "boolean":
		return types.DataTypeBool
	case t == "date":
		return types.DataTypeDate
	case strings.HasPrefix(t, "timestamp"):
		return types.DataTypeDateTime
	case strings.HasPrefix(t, "time"):
		return types.DataTypeTime
	case t == "uuid":
		return types.DataTypeGuid
	case t == "bytea":
		return types.DataTypeBlob
	case t == "text" || t == "json" || t == "jsonb" || t == "xml":
		return types.DataTypeMemo
	}
	return types.DataTypeString
}
