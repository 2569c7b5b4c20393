// Package sqlstore implements types.Store over database/sql. Schemas are
// inferred from the database catalog; each table is a container and each
// column an attribute. Dialects isolate the catalog queries, placeholder
// syntax and error classification of one database engine.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mesh-intelligence/metashelf/internal/query"
	"github.com/mesh-intelligence/metashelf/pkg/types"
)

var _ types.Store = (*Store)(nil)

// ErrUnknownDriver is returned by Open for a driver without a dialect.
var ErrUnknownDriver = errors.New("no dialect for driver")

// Dialect captures what differs between database engines.
type Dialect interface {
	// Name is the database/sql driver name.
	Name() string
	// Placeholder returns the bind parameter for the n-th argument (1-based).
	Placeholder(n int) string
	// Window renders the LIMIT/OFFSET clause; limit 0 means unbounded.
	Window(limit, offset int) string
	// ContainsExpr renders a case-insensitive LIKE of column against ph.
	ContainsExpr(column, ph string) string
	// LoadSchema infers a schema from the catalog.
	LoadSchema(ctx context.Context, db *sql.DB, modelID string) (*types.MetaSchema, error)
	// ConstraintViolation reports whether err is an integrity violation
	// and, when the engine says so, the offending column.
	ConstraintViolation(err error) (column string, ok bool)
}

// Store implements types.Store on a *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// DialectFor returns the dialect for a driver name: "sqlite" or "postgres".
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "sqlite":
		return SQLite{}, nil
	case "postgres":
		return Postgres{Schema: "public"}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
}

// Open opens dsn with driver and returns a Store using the matching dialect.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	d, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.Name(), dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s: %w", driver, err)
	}
	return New(db, d, opts...), nil
}

// New returns a Store over an open database.
func New(db *sql.DB, d Dialect, opts ...Option) *Store {
	s := &Store{db: db, dialect: d, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// LoadSchema implements types.SchemaLoader by reading the catalog.
func (s *Store) LoadSchema(ctx context.Context, modelID string) (*types.MetaSchema, error) {
	schema, err := s.dialect.LoadSchema(ctx, s.db, modelID)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("inferred schema", "model", modelID, "dialect", s.dialect.Name(), "containers", len(schema.Containers()))
	return schema, nil
}

// builder accumulates SQL text and bind arguments.
type builder struct {
	d    Dialect
	sb   strings.Builder
	args []any
}

func (b *builder) write(parts ...string) {
	for _, p := range parts {
		b.sb.WriteString(p)
	}
}

// arg binds v and returns its placeholder.
func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return b.d.Placeholder(len(b.args))
}

func (b *builder) String() string { return b.sb.String() }

func columnList(attrs []*types.MetaEntityAttr) string {
	cols := make([]string, len(attrs))
	for i, a := range attrs {
		cols[i] = quoteIdent(a.PropName)
	}
	return strings.Join(cols, ", ")
}

func (b *builder) where(filters []types.Filter) {
	if len(filters) == 0 {
		return
	}
	conds := make([]string, len(filters))
	for i, f := range filters {
		conds[i] = b.condition(f)
	}
	b.write(" WHERE ", strings.Join(conds, " AND "))
}

func (b *builder) condition(f types.Filter) string {
	col := quoteIdent(f.Attr)
	switch f.Op {
	case types.OpIsNull:
		return col + " IS NULL"
	case types.OpNotNull:
		return col + " IS NOT NULL"
	case types.OpEq:
		if f.Value == nil {
			return col + " IS NULL"
		}
		return col + " = " + b.arg(f.Value)
	case types.OpNe:
		if f.Value == nil {
			return col + " IS NOT NULL"
		}
		return "(" + col + " <> " + b.arg(f.Value) + " OR " + col + " IS NULL)"
	case types.OpLt:
		return col + " < " + b.arg(f.Value)
	case types.OpLe:
		return col + " <= " + b.arg(f.Value)
	case types.OpGt:
		return col + " > " + b.arg(f.Value)
	case types.OpGe:
		return col + " >= " + b.arg(f.Value)
	case types.OpContains:
		pattern := "%" + escapeLike(strings.ToLower(fmt.Sprint(f.Value))) + "%"
		return b.d.ContainsExpr(col, b.arg(pattern))
	case types.OpIn:
		values, _ := f.Value.([]any)
		if len(values) == 0 {
			return "1 = 0"
		}
		phs := make([]string, len(values))
		for i, v := range values {
			phs[i] = b.arg(v)
		}
		return col + " IN (" + strings.Join(phs, ", ") + ")"
	}
	return "1 = 0"
}

func (b *builder) keyWhere(key types.Key) {
	conds := make([]string, len(key.Props))
	for i, p := range key.Props {
		conds[i] = quoteIdent(p) + " = " + b.arg(key.Values[i])
	}
	b.write(" WHERE ", strings.Join(conds, " AND "))
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// List implements types.Store.
func (s *Store) List(ctx context.Context, e *types.MetaEntity, q types.Query) ([]types.Record, error) {
	attrs := q.Attrs
	if len(attrs) == 0 {
		attrs = e.Attributes
	}
	b := &builder{d: s.dialect}
	b.write("SELECT ", columnList(attrs), " FROM ", quoteIdent(e.ID))
	b.where(q.Filters)
	if len(q.Sorters) > 0 {
		order := make([]string, len(q.Sorters))
		for i, so := range q.Sorters {
			order[i] = quoteIdent(so.Attr)
			if so.Desc {
				order[i] += " DESC"
			}
		}
		b.write(" ORDER BY ", strings.Join(order, ", "))
	}
	if w := s.dialect.Window(q.Limit, q.Offset); w != "" {
		b.write(" ", w)
	}

	rows, err := s.db.QueryContext(ctx, b.String(), b.args...)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", e.ID, err)
	}
	defer rows.Close()
	var out []types.Record
	for rows.Next() {
		rec, err := scanRecord(rows, attrs)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", e.ID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing %s: %w", e.ID, err)
	}
	return out, nil
}

// Count implements types.Store.
func (s *Store) Count(ctx context.Context, e *types.MetaEntity, filters []types.Filter) (int64, error) {
	b := &builder{d: s.dialect}
	b.write("SELECT COUNT(*) FROM ", quoteIdent(e.ID))
	b.where(filters)
	var n int64
	if err := s.db.QueryRowContext(ctx, b.String(), b.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", e.ID, err)
	}
	return n, nil
}

// Get implements types.Store.
func (s *Store) Get(ctx context.Context, e *types.MetaEntity, key types.Key) (types.Record, error) {
	b := &builder{d: s.dialect}
	b.write("SELECT ", columnList(e.Attributes), " FROM ", quoteIdent(e.ID))
	b.keyWhere(key)
	return s.queryOne(ctx, e, b)
}

// Create implements types.Store.
func (s *Store) Create(ctx context.Context, e *types.MetaEntity, rec types.Record) (types.Record, error) {
	b := &builder{d: s.dialect}
	b.write("INSERT INTO ", quoteIdent(e.ID))
	var cols, phs []string
	for _, a := range e.Attributes {
		v, ok := rec[a.PropName]
		if !ok {
			continue
		}
		cols = append(cols, quoteIdent(a.PropName))
		phs = append(phs, b.arg(v))
	}
	if len(cols) == 0 {
		b.write(" DEFAULT VALUES")
	} else {
		b.write(" (", strings.Join(cols, ", "), ") VALUES (", strings.Join(phs, ", "), ")")
	}
	b.write(" RETURNING ", columnList(e.Attributes))
	return s.queryOne(ctx, e, b)
}

// Update implements types.Store.
func (s *Store) Update(ctx context.Context, e *types.MetaEntity, key types.Key, changes types.Record) (types.Record, error) {
	if len(changes) == 0 {
		return s.Get(ctx, e, key)
	}
	b := &builder{d: s.dialect}
	b.write("UPDATE ", quoteIdent(e.ID), " SET ")
	var sets []string
	for _, a := range e.Attributes {
		v, ok := changes[a.PropName]
		if !ok {
			continue
		}
		sets = append(sets, quoteIdent(a.PropName)+" = "+b.arg(v))
	}
	b.write(strings.Join(sets, ", "))
	b.keyWhere(key)
	b.write(" RETURNING ", columnList(e.Attributes))
	return s.queryOne(ctx, e, b)
}

// Delete implements types.Store.
func (s *Store) Delete(ctx context.Context, e *types.MetaEntity, key types.Key) error {
	b := &builder{d: s.dialect}
	b.write("DELETE FROM ", quoteIdent(e.ID))
	b.keyWhere(key)
	res, err := s.db.ExecContext(ctx, b.String(), b.args...)
	if err != nil {
		return s.classify(e, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (s *Store) queryOne(ctx context.Context, e *types.MetaEntity, b *builder) (types.Record, error) {
	rows, err := s.db.QueryContext(ctx, b.String(), b.args...)
	if err != nil {
		return nil, s.classify(e, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, s.classify(e, err)
		}
		return nil, types.ErrNotFound
	}
	rec, err := scanRecord(rows, e.Attributes)
	if err != nil {
		return nil, err
	}
	return rec, rows.Err()
}

// classify turns integrity violations into validation errors.
func (s *Store) classify(e *types.MetaEntity, err error) error {
	column, ok := s.dialect.ConstraintViolation(err)
	if !ok {
		return err
	}
	return types.NewValidationError(e.ID, types.FieldError{
		Code:    types.CodeConstraint,
		Field:   column,
		Message: err.Error(),
	})
}

// scanRecord reads one row and coerces each column to its attribute type.
func scanRecord(rows *sql.Rows, attrs []*types.MetaEntityAttr) (types.Record, error) {
	values := make([]any, len(attrs))
	ptrs := make([]any, len(attrs))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	rec := make(types.Record, len(attrs))
	for i, a := range attrs {
		v := values[i]
		if b, ok := v.([]byte); ok && a.DataType != types.DataTypeBlob {
			v = string(b)
		}
		cv, err := query.Coerce(a.DataType, v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", a.PropName, err)
		}
		rec[a.PropName] = cv
	}
	return rec, nil
}

// quoteIdent quotes a possibly schema-qualified identifier.
func quoteIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}
