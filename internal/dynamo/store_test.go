package dynamo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/metashelf/internal/manager"
	"github.com/mesh-intelligence/metashelf/internal/schema"
	"github.com/mesh-intelligence/metashelf/pkg/types"
)

// --- fake client ---

var fakeNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeTable struct {
	keys  []string
	items []map[string]ddbtypes.AttributeValue
}

// fakeClient keeps items in insertion order and evaluates the two
// condition shapes the store emits: key absent (create) and key present
// (update, delete). Items whose "ttl" is at or before fakeNow count as
// absent.
type fakeClient struct {
	tables   map[string]*fakeTable
	pageSize int
	scans    int
	lastPut  *dynamodb.PutItemInput
	err      error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		tables: map[string]*fakeTable{
			"notes":    {keys: []string{"id"}},
			"counters": {keys: []string{"name"}},
		},
		pageSize: 2,
	}
}

func avText(av ddbtypes.AttributeValue) string {
	switch v := av.(type) {
	case *ddbtypes.AttributeValueMemberS:
		return "S" + v.Value
	case *ddbtypes.AttributeValueMemberN:
		return "N" + v.Value
	case *ddbtypes.AttributeValueMemberB:
		return "B" + string(v.Value)
	}
	return "?"
}

func (t *fakeTable) keyText(item map[string]ddbtypes.AttributeValue) string {
	parts := make([]string, len(t.keys))
	for i, k := range t.keys {
		parts[i] = avText(item[k])
	}
	return strings.Join(parts, "|")
}

func (t *fakeTable) find(key map[string]ddbtypes.AttributeValue) int {
	want := t.keyText(key)
	for i, it := range t.items {
		if t.keyText(it) == want {
			return i
		}
	}
	return -1
}

func fakeLive(item map[string]ddbtypes.AttributeValue) bool {
	n, ok := item["ttl"].(*ddbtypes.AttributeValueMemberN)
	if !ok {
		return true
	}
	ttl, _ := strconv.ParseInt(n.Value, 10, 64)
	return ttl > fakeNow.Unix()
}

func (f *fakeClient) table(name *string) (*fakeTable, error) {
	if f.err != nil {
		return nil, f.err
	}
	t, ok := f.tables[*name]
	if !ok {
		return nil, &ddbtypes.ResourceNotFoundException{Message: name}
	}
	return t, nil
}

func (f *fakeClient) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	if i := t.find(in.Key); i >= 0 {
		return &dynamodb.GetItemOutput{Item: t.items[i]}, nil
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (f *fakeClient) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	f.lastPut = in
	i := t.find(in.Item)
	if i >= 0 && fakeLive(t.items[i]) && strings.Contains(*in.ConditionExpression, "attribute_not_exists") {
		return nil, &ddbtypes.ConditionalCheckFailedException{}
	}
	if i >= 0 {
		t.items[i] = in.Item
	} else {
		t.items = append(t.items, in.Item)
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeClient) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	i := t.find(in.Key)
	if i < 0 || !fakeLive(t.items[i]) {
		return nil, &ddbtypes.ConditionalCheckFailedException{}
	}
	item := make(map[string]ddbtypes.AttributeValue, len(t.items[i]))
	for k, v := range t.items[i] {
		item[k] = v
	}
	for _, set := range strings.Split(strings.TrimPrefix(*in.UpdateExpression, "SET "), ", ") {
		name, value, _ := strings.Cut(set, " = ")
		item[in.ExpressionAttributeNames[name]] = in.ExpressionAttributeValues[value]
	}
	t.items[i] = item
	return &dynamodb.UpdateItemOutput{Attributes: item}, nil
}

func (f *fakeClient) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	i := t.find(in.Key)
	if i < 0 || !fakeLive(t.items[i]) {
		return nil, &ddbtypes.ConditionalCheckFailedException{}
	}
	t.items = append(t.items[:i], t.items[i+1:]...)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeClient) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	f.scans++
	start := 0
	if in.ExclusiveStartKey != nil {
		start = t.find(in.ExclusiveStartKey) + 1
	}
	end := min(start+f.pageSize, len(t.items))
	out := &dynamodb.ScanOutput{Items: t.items[start:end]}
	if end < len(t.items) {
		last := t.items[end-1]
		out.LastEvaluatedKey = map[string]ddbtypes.AttributeValue{}
		for _, k := range t.keys {
			out.LastEvaluatedKey[k] = last[k]
		}
	}
	return out, nil
}

// --- fixtures ---

const boardYAML = `id: board
containers:
  - id: notes
    attributes:
      - prop: id
        type: guid
        key: true
        editable: false
      - prop: title
        show_in_lookup: true
        sorting: 1
      - prop: due
        type: date
        nullable: true
      - prop: priority
        type: int32
        default: 3
  - id: counters
    attributes:
      - prop: name
        key: true
      - prop: value
        type: int64
      - prop: payload
        type: blob
        nullable: true
`

func newTestStore(t *testing.T, opts ...Option) (*Store, *fakeClient) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "board.yaml"), []byte(boardYAML), 0o644))
	client := newFakeClient()
	s := New(client, schema.FileLoader{Dir: dir}, opts...)
	s.now = func() time.Time { return fakeNow }
	return s, client
}

func container(t *testing.T, s *Store, id string) *types.MetaEntity {
	t.Helper()
	sch, err := s.LoadSchema(context.Background(), "board")
	require.NoError(t, err)
	e := sch.Container(id)
	require.NotNil(t, e)
	return e
}

func counterItem(name string, value string, ttl *int64) map[string]ddbtypes.AttributeValue {
	item := map[string]ddbtypes.AttributeValue{
		"name":  &ddbtypes.AttributeValueMemberS{Value: name},
		"value": &ddbtypes.AttributeValueMemberN{Value: value},
	}
	if ttl != nil {
		item["ttl"] = &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(*ttl, 10)}
	}
	return item
}

func counterKey(name string) types.Key {
	return types.Key{Props: []string{"name"}, Values: []any{name}}
}

// --- tests ---

func TestThroughManager(t *testing.T) {
	s, _ := newTestStore(t)
	m := manager.New(s)
	defer m.Close()
	ctx := context.Background()

	created, err := m.CreateEntity(ctx, "board", "notes", map[string]any{
		"title": "Water plants",
		"due":   "2025-06-03",
	})
	require.NoError(t, err)
	id, ok := created["id"].(string)
	require.True(t, ok)
	assert.Len(t, id, 36)
	assert.Equal(t, int32(3), created["priority"])

	for _, title := range []string{"Call plumber", "Book flights"} {
		_, err := m.CreateEntity(ctx, "board", "notes", map[string]any{"title": title, "priority": "1"})
		require.NoError(t, err)
	}

	got, err := m.GetEntity(ctx, "board", "notes", id)
	require.NoError(t, err)
	assert.Equal(t, "Water plants", got["title"])
	assert.Equal(t, int32(3), got["priority"])
	due, ok := got["due"].(time.Time)
	require.True(t, ok)
	assert.True(t, due.Equal(time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)))

	rs, err := m.ListEntities(ctx, "board", "notes", types.ListOptions{})
	require.NoError(t, err)
	require.Len(t, rs.Rows, 3)
	assert.Equal(t, "Book flights", rs.Rows[0]["title"])
	assert.Equal(t, "Water plants", rs.Rows[2]["title"])

	n, err := m.CountEntities(ctx, "board", "notes", []types.Filter{{Attr: "priority", Op: types.OpEq, Value: 1}}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	updated, err := m.UpdateEntity(ctx, "board", "notes", id, map[string]any{"title": "Water all plants"})
	require.NoError(t, err)
	assert.Equal(t, "Water all plants", updated["title"])
	assert.Equal(t, int32(3), updated["priority"])

	require.NoError(t, m.DeleteEntity(ctx, "board", "notes", id))
	_, err = m.GetEntity(ctx, "board", "notes", id)
	assert.ErrorIs(t, err, types.ErrEntityNotFound)
	assert.ErrorIs(t, m.DeleteEntity(ctx, "board", "notes", id), types.ErrEntityNotFound)

	_, err = m.ListEntities(ctx, "board", "missing", types.ListOptions{})
	assert.ErrorIs(t, err, types.ErrContainerNotFound)
}

func TestScanFollowsPages(t *testing.T) {
	s, client := newTestStore(t)
	e := container(t, s, "counters")
	ctx := context.Background()
	for _, name := range []string{"e", "b", "d", "a", "c"} {
		_, err := s.Create(ctx, e, types.Record{"name": name, "value": int64(len(name))})
		require.NoError(t, err)
	}

	rows, err := s.List(ctx, e, types.Query{
		Sorters: []types.Sorter{{Attr: "name"}},
		Offset:  1,
		Limit:   3,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, client.scans)
	require.Len(t, rows, 3)
	assert.Equal(t, "b", rows[0]["name"])
	assert.Equal(t, "d", rows[2]["name"])
}

func TestCreateCondition(t *testing.T) {
	s, client := newTestStore(t)
	e := container(t, s, "counters")
	ctx := context.Background()

	_, err := s.Create(ctx, e, types.Record{"name": "hits", "value": int64(1)})
	require.NoError(t, err)
	require.NotNil(t, client.lastPut)
	assert.Equal(t, "(attribute_not_exists(#n0)) OR #n1 <= :v0", *client.lastPut.ConditionExpression)
	assert.Equal(t, map[string]string{"#n0": "name", "#n1": "ttl"}, client.lastPut.ExpressionAttributeNames)

	_, err = s.Create(ctx, e, types.Record{"name": "hits", "value": int64(2)})
	require.ErrorIs(t, err, types.ErrValidationFailed)
	ve, _ := types.AsValidationError(err)
	assert.Equal(t, types.CodeConstraint, ve.Errors[0].Code)

	_, err = s.Create(ctx, e, types.Record{"value": int64(2)})
	require.ErrorIs(t, err, types.ErrValidationFailed)
	ve, _ = types.AsValidationError(err)
	assert.Equal(t, "name", ve.Errors[0].Field)
	assert.Equal(t, types.CodeRequired, ve.Errors[0].Code)
}

func TestCreateWithoutTTL(t *testing.T) {
	s, client := newTestStore(t, WithTTLAttribute(""), WithTablePrefix(""))
	e := container(t, s, "counters")

	_, err := s.Create(context.Background(), e, types.Record{"name": "hits"})
	require.NoError(t, err)
	assert.Equal(t, "attribute_not_exists(#n0)", *client.lastPut.ConditionExpression)
	assert.Nil(t, client.lastPut.ExpressionAttributeValues)
}

func TestExpiredItemsAreAbsent(t *testing.T) {
	s, client := newTestStore(t)
	e := container(t, s, "counters")
	ctx := context.Background()

	past := fakeNow.Add(-time.Hour).Unix()
	future := fakeNow.Add(time.Hour).Unix()
	client.tables["counters"].items = []map[string]ddbtypes.AttributeValue{
		counterItem("gone", "1", &past),
		counterItem("live", "2", &future),
		counterItem("plain", "3", nil),
	}

	_, err := s.Get(ctx, e, counterKey("gone"))
	assert.ErrorIs(t, err, types.ErrNotFound)
	got, err := s.Get(ctx, e, counterKey("live"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), got["value"])

	n, err := s.Count(ctx, e, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.Update(ctx, e, counterKey("gone"), types.Record{"value": int64(9)})
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, e, counterKey("gone")), types.ErrNotFound)

	_, err = s.Create(ctx, e, types.Record{"name": "gone", "value": int64(5)})
	require.NoError(t, err)
	got, err = s.Get(ctx, e, counterKey("gone"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), got["value"])
}

func TestDecodeItem(t *testing.T) {
	s, client := newTestStore(t)
	e := container(t, s, "counters")

	item := counterItem("big", "9007199254740993", nil)
	item["payload"] = &ddbtypes.AttributeValueMemberB{Value: []byte{0x01, 0x02}}
	item["undeclared"] = &ddbtypes.AttributeValueMemberS{Value: "x"}
	client.tables["counters"].items = append(client.tables["counters"].items, item,
		map[string]ddbtypes.AttributeValue{
			"name":  &ddbtypes.AttributeValueMemberS{Value: "bad"},
			"value": &ddbtypes.AttributeValueMemberS{Value: "not a number"},
		})

	got, err := s.Get(context.Background(), e, counterKey("big"))
	require.NoError(t, err)
	assert.Equal(t, types.Record{
		"name":    "big",
		"value":   int64(9007199254740993),
		"payload": []byte{0x01, 0x02},
	}, got)

	_, err = s.Get(context.Background(), e, counterKey("bad"))
	assert.Error(t, err)

	rows, err := s.List(context.Background(), e, types.Query{})
	require.NoError(t, err)
	assert.Len(t, rows, 1, "undecodable items are skipped")
}

func TestUpdateSetsOnlyChanges(t *testing.T) {
	s, _ := newTestStore(t)
	e := container(t, s, "counters")
	ctx := context.Background()

	_, err := s.Create(ctx, e, types.Record{"name": "hits", "value": int64(1), "payload": []byte("a")})
	require.NoError(t, err)

	rec, err := s.Update(ctx, e, counterKey("hits"), types.Record{"value": int64(2), "payload": nil})
	require.NoError(t, err)
	assert.Equal(t, types.Record{"name": "hits", "value": int64(2), "payload": nil}, rec)

	rec, err = s.Update(ctx, e, counterKey("hits"), types.Record{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec["value"])

	_, err = s.Update(ctx, e, counterKey("nope"), types.Record{"value": int64(1)})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestClientErrorsPassThrough(t *testing.T) {
	s, client := newTestStore(t)
	e := container(t, s, "counters")
	boom := errors.New("throttled")
	client.err = boom

	_, err := s.List(context.Background(), e, types.Query{})
	assert.ErrorIs(t, err, boom)
	_, err = s.Get(context.Background(), e, counterKey("x"))
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, s.Delete(context.Background(), e, counterKey("x")), boom)
}

func TestTablePrefix(t *testing.T) {
	s, client := newTestStore(t, WithTablePrefix("dev_"))
	e := container(t, s, "counters")
	client.tables["dev_counters"] = &fakeTable{keys: []string{"name"}}

	_, err := s.Create(context.Background(), e, types.Record{"name": "hits"})
	require.NoError(t, err)
	assert.Equal(t, "dev_counters", s.TableName(e))
	assert.Len(t, client.tables["dev_counters"].items, 1)
	assert.Empty(t, client.tables["counters"].items)
}
