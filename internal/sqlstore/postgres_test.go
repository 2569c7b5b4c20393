package sqlstore

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/metashelf/pkg/types"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return New(db, Postgres{Schema: "public"}), mock
}

func pgProducts() *types.MetaEntity {
	id := types.NewAttr("id", "Id", types.DataTypeInt32)
	id.IsPrimaryKey = true
	return &types.MetaEntity{
		ID: "products",
		Attributes: []*types.MetaEntityAttr{
			id,
			types.NewAttr("name", "Name", types.DataTypeString),
			types.NewAttr("price", "Price", types.DataTypeCurrency),
		},
	}
}

func pgKey(id int32) types.Key {
	return types.Key{Props: []string{"id"}, Values: []any{id}}
}

func TestPostgresLoadSchema(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(pgKeysQuery).WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name"}).
			AddRow("order_lines", "order_id").
			AddRow("order_lines", "line_no").
			AddRow("products", "id"))
	mock.ExpectQuery(pgColumnsQuery).WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "data_type", "is_nullable", "column_default", "ordinal_position"}).
			AddRow("order_lines", "order_id", "bigint", "NO", nil, 1).
			AddRow("order_lines", "line_no", "integer", "NO", nil, 2).
			AddRow("order_lines", "note", "text", "YES", nil, 3).
			AddRow("products", "id", "integer", "NO", "nextval('products_id_seq'::regclass)", 1).
			AddRow("products", "name", "character varying", "NO", "'unnamed'::character varying", 2).
			AddRow("products", "price", "numeric", "YES", nil, 3).
			AddRow("products", "ref", "uuid", "YES", nil, 4).
			AddRow("products", "in_stock", "boolean", "NO", "true", 5).
			AddRow("products", "updated_at", "timestamp with time zone", "YES", "now()", 6))

	schema, err := s.LoadSchema(context.Background(), "shop")
	require.NoError(t, err)
	require.NoError(t, schema.Validate())
	require.Len(t, schema.Containers(), 2)

	lines := schema.Container("order_lines")
	require.NotNil(t, lines)
	assert.Equal(t, "OrderLine", lines.TypeName)
	require.Len(t, lines.KeyAttrs(), 2)
	assert.Equal(t, types.DataTypeInt64, lines.Attr("order_id").DataType)
	assert.Equal(t, types.DataTypeMemo, lines.Attr("note").DataType)
	assert.True(t, lines.Attr("note").IsNullable)

	products := schema.Container("products")
	require.NotNil(t, products)
	id := products.Attr("id")
	assert.True(t, id.IsPrimaryKey)
	assert.False(t, id.IsEditable)
	assert.Nil(t, id.DefaultValue)
	assert.Equal(t, 0, id.Index)

	assert.Equal(t, "unnamed", products.Attr("name").DefaultValue)
	assert.Equal(t, types.DataTypeCurrency, products.Attr("price").DataType)
	assert.Equal(t, types.DataTypeGuid, products.Attr("ref").DataType)
	assert.Equal(t, true, products.Attr("in_stock").DefaultValue)

	updated := products.Attr("updated_at")
	assert.Equal(t, types.DataTypeDateTime, updated.DataType)
	assert.False(t, updated.IsEditable)
	assert.False(t, updated.ShowOnCreate)
}

func TestPostgresList(t *testing.T) {
	s, mock := newMockStore(t)
	e := pgProducts()

	mock.ExpectQuery(`SELECT "id", "name" FROM "products" WHERE "price" >= $1 AND LOWER(CAST("name" AS TEXT)) LIKE $2 ESCAPE '\' AND "id" IN ($3, $4) ORDER BY "name" DESC, "id" LIMIT 2 OFFSET 1`).
		WithArgs(3.0, `%50\%%`, int32(1), int32(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(2), "Bolt 50%").
			AddRow(int64(1), []byte("Anchor 50%")))

	rows, err := s.List(context.Background(), e, types.Query{
		Filters: []types.Filter{
			{Attr: "price", Op: types.OpGe, Value: 3.0},
			{Attr: "name", Op: types.OpContains, Value: "50%"},
			{Attr: "id", Op: types.OpIn, Value: []any{int32(1), int32(2)}},
		},
		Sorters: []types.Sorter{{Attr: "name", Desc: true}, {Attr: "id"}},
		Offset:  1,
		Limit:   2,
		Attrs:   e.Attributes[:2],
	})
	require.NoError(t, err)
	assert.Equal(t, []types.Record{
		{"id": int32(2), "name": "Bolt 50%"},
		{"id": int32(1), "name": "Anchor 50%"},
	}, rows)
}

func TestPostgresCount(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT(*) FROM "products" WHERE "price" IS NULL AND ("name" <> $1 OR "name" IS NULL)`).
		WithArgs("x").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(4)))

	n, err := s.Count(context.Background(), pgProducts(), []types.Filter{
		{Attr: "price", Op: types.OpIsNull},
		{Attr: "name", Op: types.OpNe, Value: "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestPostgresCreate(t *testing.T) {
	s, mock := newMockStore(t)
	e := pgProducts()

	mock.ExpectQuery(`INSERT INTO "products" ("name", "price") VALUES ($1, $2) RETURNING "id", "name", "price"`).
		WithArgs("Widget", 9.5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price"}).AddRow(int64(7), "Widget", []byte("9.50")))

	rec, err := s.Create(context.Background(), e, types.Record{"name": "Widget", "price": 9.5})
	require.NoError(t, err)
	assert.Equal(t, types.Record{"id": int32(7), "name": "Widget", "price": 9.5}, rec)
}

func TestPostgresCreateConstraintViolation(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO "products" ("name") VALUES ($1) RETURNING "id", "name", "price"`).
		WithArgs("Widget").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint", Column: "name"})

	_, err := s.Create(context.Background(), pgProducts(), types.Record{"name": "Widget"})
	require.ErrorIs(t, err, types.ErrValidationFailed)
	ve, ok := types.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "products", ve.Container)
	assert.Equal(t, types.CodeConstraint, ve.Errors[0].Code)
	assert.Equal(t, "name", ve.Errors[0].Field)
}

func TestPostgresCreateDefaultValues(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO "products" DEFAULT VALUES RETURNING "id", "name", "price"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price"}).AddRow(int64(1), nil, nil))

	rec, err := s.Create(context.Background(), pgProducts(), types.Record{})
	require.NoError(t, err)
	assert.Equal(t, types.Record{"id": int32(1), "name": nil, "price": nil}, rec)
}

func TestPostgresUpdate(t *testing.T) {
	s, mock := newMockStore(t)
	e := pgProducts()

	mock.ExpectQuery(`UPDATE "products" SET "price" = $1 WHERE "id" = $2 RETURNING "id", "name", "price"`).
		WithArgs(12.0, int32(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price"}).AddRow(int64(3), "Cog", "12"))
	mock.ExpectQuery(`UPDATE "products" SET "price" = $1 WHERE "id" = $2 RETURNING "id", "name", "price"`).
		WithArgs(12.0, int32(4)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price"}))

	rec, err := s.Update(context.Background(), e, pgKey(3), types.Record{"price": 12.0})
	require.NoError(t, err)
	assert.Equal(t, 12.0, rec["price"])

	_, err = s.Update(context.Background(), e, pgKey(4), types.Record{"price": 12.0})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestPostgresGetAndDelete(t *testing.T) {
	s, mock := newMockStore(t)
	e := pgProducts()

	mock.ExpectQuery(`SELECT "id", "name", "price" FROM "products" WHERE "id" = $1`).
		WithArgs(int32(9)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price"}))
	mock.ExpectExec(`DELETE FROM "products" WHERE "id" = $1`).
		WithArgs(int32(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM "products" WHERE "id" = $1`).
		WithArgs(int32(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := s.Get(context.Background(), e, pgKey(9))
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, s.Delete(context.Background(), e, pgKey(9)), types.ErrNotFound)
	assert.NoError(t, s.Delete(context.Background(), e, pgKey(3)))
}

func TestPostgresPassesThroughOtherErrors(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM "products" WHERE "id" = $1`).
		WithArgs(int32(1)).
		WillReturnError(sql.ErrConnDone)

	err := s.Delete(context.Background(), pgProducts(), pgKey(1))
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NotErrorIs(t, err, types.ErrValidationFailed)
}
