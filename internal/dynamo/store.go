// Package dynamo implements a store on Amazon DynamoDB. Each container maps
// to one table whose key schema matches the container's key attributes.
// DynamoDB has no catalog to infer attributes from, so schemas come from a
// SchemaLoader, usually schema.FileLoader.
//
// Filters, sorters and windows are evaluated client side after a full
// Scan. Items whose TTL attribute lies in the past are treated as absent
// even before DynamoDB's background sweeper removes them.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/mesh-intelligence/metashelf/internal/query"
	"github.com/mesh-intelligence/metashelf/pkg/types"
)

// DefaultTTLAttribute is the item attribute holding an expiry epoch.
const DefaultTTLAttribute = "ttl"

// API is the subset of *dynamodb.Client the store uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

var (
	_ API         = (*dynamodb.Client)(nil)
	_ types.Store = (*Store)(nil)
)

// Store implements types.Store on DynamoDB.
type Store struct {
	client      API
	loader      types.SchemaLoader
	tablePrefix string
	ttlAttr     string
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTablePrefix prepends prefix to every container id to form the table
// name.
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// WithTTLAttribute changes the expiry attribute. An empty name disables
// expiry checks.
func WithTTLAttribute(name string) Option {
	return func(s *Store) { s.ttlAttr = name }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New returns a Store that reads and writes through client and takes its
// schemas from loader.
func New(client API, loader types.SchemaLoader, opts ...Option) *Store {
	s := &Store{
		client:  client,
		loader:  loader,
		ttlAttr: DefaultTTLAttribute,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadSchema implements types.SchemaLoader.
func (s *Store) LoadSchema(ctx context.Context, modelID string) (*types.MetaSchema, error) {
	return s.loader.LoadSchema(ctx, modelID)
}

// TableName returns the table backing container e.
func (s *Store) TableName(e *types.MetaEntity) string {
	return s.tablePrefix + e.ID
}

// List implements types.Store.
func (s *Store) List(ctx context.Context, e *types.MetaEntity, q types.Query) ([]types.Record, error) {
	rows, err := s.scan(ctx, e)
	if err != nil {
		return nil, err
	}
	return query.Apply(e, rows, q), nil
}

// Count implements types.Store.
func (s *Store) Count(ctx context.Context, e *types.MetaEntity, filters []types.Filter) (int64, error) {
	rows, err := s.scan(ctx, e)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, rec := range rows {
		if query.Match(e, rec, filters) {
			n++
		}
	}
	return n, nil
}

// scan reads every live item of e's table, following LastEvaluatedKey.
func (s *Store) scan(ctx context.Context, e *types.MetaEntity) ([]types.Record, error) {
	table := s.TableName(e)
	var rows []types.Record
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName: aws.String(table),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", table, err)
		}
		for _, item := range page.Items {
			if s.expired(item) {
				continue
			}
			rec, err := decodeItem(e, item)
			if err != nil {
				s.logger.Warn("skipping undecodable item", "table", table, "error", err)
				continue
			}
			rows = append(rows, rec)
		}
	}
	return rows, nil
}

// Get implements types.Store.
func (s *Store) Get(ctx context.Context, e *types.MetaEntity, key types.Key) (types.Record, error) {
	k, err := attributevalue.MarshalMap(key.Map())
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.TableName(e)),
		Key:            k,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil || s.expired(out.Item) {
		return nil, types.ErrNotFound
	}
	return decodeItem(e, out.Item)
}

// Create implements types.Store. Every key attribute must be present; the
// put fails with a constraint error when a live item already has the key.
func (s *Store) Create(ctx context.Context, e *types.MetaEntity, rec types.Record) (types.Record, error) {
	if _, ok := query.KeyOf(e, rec); !ok {
		var errs []types.FieldError
		for _, a := range e.KeyAttrs() {
			if rec[a.PropName] == nil {
				errs = append(errs, types.FieldError{Code: types.CodeRequired, Field: a.PropName, Message: "key value is required"})
			}
		}
		return nil, types.NewValidationError(e.ID, errs...)
	}
	item, err := attributevalue.MarshalMap(map[string]any(rec))
	if err != nil {
		return nil, fmt.Errorf("marshal item: %w", err)
	}

	cond := newCondition()
	var absent []string
	for _, a := range e.KeyAttrs() {
		absent = append(absent, "attribute_not_exists("+cond.name(a.PropName)+")")
	}
	expr := strings.Join(absent, " AND ")
	if s.ttlAttr != "" {
		// An expired item still occupies its key until the sweeper runs.
		expr = "(" + expr + ") OR " + cond.name(s.ttlAttr) + " <= " + cond.value(s.nowAV())
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.TableName(e)),
		Item:                      item,
		ConditionExpression:       aws.String(expr),
		ExpressionAttributeNames:  cond.names,
		ExpressionAttributeValues: cond.valuesOrNil(),
	})
	if err != nil {
		if conditionFailed(err) {
			k, _ := query.KeyOf(e, rec)
			return nil, types.NewValidationError(e.ID, types.FieldError{
				Code:    types.CodeConstraint,
				Message: fmt.Sprintf("an entity with key %s already exists", k),
			})
		}
		return nil, err
	}
	return rec.Clone(), nil
}

// Update implements types.Store with a conditional SET of the changed
// attributes.
func (s *Store) Update(ctx context.Context, e *types.MetaEntity, key types.Key, changes types.Record) (types.Record, error) {
	if len(changes) == 0 {
		return s.Get(ctx, e, key)
	}
	k, err := attributevalue.MarshalMap(key.Map())
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}

	cond := newCondition()
	props := make([]string, 0, len(changes))
	for p := range changes {
		props = append(props, p)
	}
	slices.Sort(props)
	sets := make([]string, 0, len(props))
	for _, p := range props {
		av, err := attributevalue.Marshal(changes[p])
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", p, err)
		}
		sets = append(sets, cond.name(p)+" = "+cond.value(av))
	}

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.TableName(e)),
		Key:                       k,
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       aws.String(s.existsExpr(e, cond)),
		ExpressionAttributeNames:  cond.names,
		ExpressionAttributeValues: cond.valuesOrNil(),
		ReturnValues:              ddbtypes.ReturnValueAllNew,
	})
	if err != nil {
		if conditionFailed(err) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	return decodeItem(e, out.Attributes)
}

// Delete implements types.Store.
func (s *Store) Delete(ctx context.Context, e *types.MetaEntity, key types.Key) error {
	k, err := attributevalue.MarshalMap(key.Map())
	if err != nil {
		return fmt.Errorf("marshal key: %w", err)
	}
	cond := newCondition()
	_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(s.TableName(e)),
		Key:                       k,
		ConditionExpression:       aws.String(s.existsExpr(e, cond)),
		ExpressionAttributeNames:  cond.names,
		ExpressionAttributeValues: cond.valuesOrNil(),
	})
	if err != nil {
		if conditionFailed(err) {
			return types.ErrNotFound
		}
		return err
	}
	return nil
}

// existsExpr requires a live item at the key.
func (s *Store) existsExpr(e *types.MetaEntity, cond *condition) string {
	var parts []string
	for _, a := range e.KeyAttrs() {
		parts = append(parts, "attribute_exists("+cond.name(a.PropName)+")")
	}
	if s.ttlAttr != "" {
		ttl := cond.name(s.ttlAttr)
		parts = append(parts, "(attribute_not_exists("+ttl+") OR "+ttl+" > "+cond.value(s.nowAV())+")")
	}
	return strings.Join(parts, " AND ")
}

func (s *Store) nowAV() ddbtypes.AttributeValue {
	return &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)}
}

// expired reports whether item carries a numeric TTL at or before now.
func (s *Store) expired(item map[string]ddbtypes.AttributeValue) bool {
	if s.ttlAttr == "" {
		return false
	}
	n, ok := item[s.ttlAttr].(*ddbtypes.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return false
	}
	return ttl <= s.now().Unix()
}

func conditionFailed(err error) bool {
	var condErr *ddbtypes.ConditionalCheckFailedException
	return errors.As(err, &condErr)
}

// condition accumulates expression placeholders.
type condition struct {
	names  map[string]string
	values map[string]ddbtypes.AttributeValue
	byName map[string]string
}

func newCondition() *condition {
	return &condition{
		names:  make(map[string]string),
		values: make(map[string]ddbtypes.AttributeValue),
		byName: make(map[string]string),
	}
}

// name returns the #placeholder for an attribute name, reusing it when
// the name repeats.
func (c *condition) name(attr string) string {
	if ph, ok := c.byName[attr]; ok {
		return ph
	}
	ph := fmt.Sprintf("#n%d", len(c.byName))
	c.byName[attr] = ph
	c.names[ph] = attr
	return ph
}

func (c *condition) value(av ddbtypes.AttributeValue) string {
	ph := fmt.Sprintf(":v%d", len(c.values))
	c.values[ph] = av
	return ph
}

// valuesOrNil returns nil when no values were bound; DynamoDB rejects an
// empty ExpressionAttributeValues map.
func (c *condition) valuesOrNil() map[string]ddbtypes.AttributeValue {
	if len(c.values) == 0 {
		return nil
	}
	return c.values
}
