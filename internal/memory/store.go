// Package memory implements an in-process store. Records live in maps
// guarded by a read/write mutex; when a data directory is configured each
// container is snapshotted to <dir>/<container>.jsonl after every write and
// read back the first time the container is touched. Snapshot properties the
// entity does not declare survive rewrites untouched.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cast"

	"github.com/mesh-intelligence/metashelf/internal/query"
	"github.com/mesh-intelligence/metashelf/pkg/types"
)

var _ types.Store = (*Store)(nil)

// Store implements types.Store in memory.
type Store struct {
	loader  types.SchemaLoader
	dataDir string
	logger  *slog.Logger

	mu     sync.RWMutex
	tables map[string]*table
}

// table holds the records of one container in insertion order.
type table struct {
	rows   map[string]types.Record // key string -> record
	order  []string
	nextID int64
}

// Option configures a Store.
type Option func(*Store)

// WithDataDir enables JSONL snapshots in dir.
func WithDataDir(dir string) Option {
	return func(s *Store) { s.dataDir = dir }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New returns a Store whose schemas come from loader.
func New(loader types.SchemaLoader, opts ...Option) (*Store, error) {
	s := &Store{
		loader: loader,
		logger: slog.Default(),
		tables: make(map[string]*table),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dataDir != "" {
		if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
	}
	return s, nil
}

// NewStatic returns a Store that serves a copy of schema for every model id.
func NewStatic(schema *types.MetaSchema, opts ...Option) (*Store, error) {
	loader := types.SchemaLoaderFunc(func(ctx context.Context, modelID string) (*types.MetaSchema, error) {
		return schema.Clone(), nil
	})
	return New(loader, opts...)
}

// LoadSchema implements types.SchemaLoader.
func (s *Store) LoadSchema(ctx context.Context, modelID string) (*types.MetaSchema, error) {
	return s.loader.LoadSchema(ctx, modelID)
}

// tableFor returns the table of e, loading its snapshot on first use.
// Callers hold s.mu for writing.
func (s *Store) tableFor(e *types.MetaEntity) (*table, error) {
	if t, ok := s.tables[e.ID]; ok {
		return t, nil
	}
	t := &table{rows: make(map[string]types.Record), nextID: 1}
	if s.dataDir != "" {
		lines, err := readJSONL(s.snapshotPath(e))
		if err != nil {
			return nil, err
		}
		for i, line := range lines {
			rec, err := decodeRecord(e, line)
			if err != nil {
				s.logger.Warn("skipping snapshot record", "container", e.ID, "line", i+1, "error", err)
				continue
			}
			if _, err := t.insert(e, rec); err != nil {
				s.logger.Warn("skipping snapshot record", "container", e.ID, "line", i+1, "error", err)
			}
		}
	}
	s.tables[e.ID] = t
	return t, nil
}

// readTable returns the table of e for reading, loading it if needed.
func (s *Store) readTable(e *types.MetaEntity) (*table, func(), error) {
	s.mu.RLock()
	if t, ok := s.tables[e.ID]; ok {
		return t, s.mu.RUnlock, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	t, err := s.tableFor(e)
	if err != nil {
		s.mu.Unlock()
		return nil, nil, err
	}
	return t, s.mu.Unlock, nil
}

func (s *Store) snapshotPath(e *types.MetaEntity) string {
	return filepath.Join(s.dataDir, e.ID+".jsonl")
}

// persist writes the snapshot of e. Callers hold s.mu for writing.
func (s *Store) persist(e *types.MetaEntity, t *table) error {
	if s.dataDir == "" {
		return nil
	}
	lines := make([]json.RawMessage, 0, len(t.order))
	for _, k := range t.order {
		b, err := json.Marshal(t.rows[k])
		if err != nil {
			return fmt.Errorf("encoding %s record %s: %w", e.ID, k, err)
		}
		lines = append(lines, b)
	}
	return writeJSONL(s.snapshotPath(e), lines)
}

// insert adds rec, assigning the next integer key when a lone integer key
// is missing.
func (t *table) insert(e *types.MetaEntity, rec types.Record) (types.Record, error) {
	keys := e.KeyAttrs()
	if len(keys) == 1 && rec[keys[0].PropName] == nil {
		switch keys[0].DataType {
		case types.DataTypeInt32:
			rec[keys[0].PropName] = int32(t.nextID)
		case types.DataTypeInt64:
			rec[keys[0].PropName] = t.nextID
		}
	}
	k, ok := query.KeyOf(e, rec)
	if !ok {
		return nil, types.NewValidationError(e.ID, types.FieldError{
			Code:    types.CodeRequired,
			Message: "key values are required",
		})
	}
	ks := k.String()
	if _, exists := t.rows[ks]; exists {
		return nil, types.NewValidationError(e.ID, types.FieldError{
			Code:    types.CodeConstraint,
			Message: fmt.Sprintf("an entity with key %s already exists", ks),
		})
	}
	if len(keys) == 1 && keys[0].DataType != types.DataTypeGuid {
		if n, err := cast.ToInt64E(k.Values[0]); err == nil && n >= t.nextID {
			t.nextID = n + 1
		}
	}
	t.rows[ks] = rec
	t.order = append(t.order, ks)
	return rec, nil
}

func (t *table) remove(ks string) {
	delete(t.rows, ks)
	for i, k := range t.order {
		if k == ks {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}

// List implements types.Store.
func (s *Store) List(ctx context.Context, e *types.MetaEntity, q types.Query) ([]types.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, unlock, err := s.readTable(e)
	if err != nil {
		return nil, err
	}
	rows := make([]types.Record, 0, len(t.order))
	for _, k := range t.order {
		rows = append(rows, t.rows[k].Clone())
	}
	unlock()
	return query.Apply(e, rows, q), nil
}

// Count implements types.Store.
func (s *Store) Count(ctx context.Context, e *types.MetaEntity, filters []types.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	t, unlock, err := s.readTable(e)
	if err != nil {
		return 0, err
	}
	defer unlock()
	var n int64
	for _, rec := range t.rows {
		if query.Match(e, rec, filters) {
			n++
		}
	}
	return n, nil
}

// Get implements types.Store.
func (s *Store) Get(ctx context.Context, e *types.MetaEntity, key types.Key) (types.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, unlock, err := s.readTable(e)
	if err != nil {
		return nil, err
	}
	defer unlock()
	rec, ok := t.rows[key.String()]
	if !ok {
		return nil, types.ErrNotFound
	}
	return rec.Clone(), nil
}

// Create implements types.Store.
func (s *Store) Create(ctx context.Context, e *types.MetaEntity, rec types.Record) (types.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.tableFor(e)
	if err != nil {
		return nil, err
	}
	stored, err := t.insert(e, rec.Clone())
	if err != nil {
		return nil, err
	}
	if err := s.persist(e, t); err != nil {
		k, _ := query.KeyOf(e, stored)
		t.remove(k.String())
		return nil, err
	}
	return stored.Clone(), nil
}

// Update implements types.Store.
func (s *Store) Update(ctx context.Context, e *types.MetaEntity, key types.Key, changes types.Record) (types.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.tableFor(e)
	if err != nil {
		return nil, err
	}
	ks := key.String()
	old, ok := t.rows[ks]
	if !ok {
		return nil, types.ErrNotFound
	}
	rec := old.Clone()
	for k, v := range changes {
		rec[k] = v
	}
	t.rows[ks] = rec
	if err := s.persist(e, t); err != nil {
		t.rows[ks] = old
		return nil, err
	}
	return rec.Clone(), nil
}

// Delete implements types.Store.
func (s *Store) Delete(ctx context.Context, e *types.MetaEntity, key types.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.tableFor(e)
	if err != nil {
		return err
	}
	ks := key.String()
	if _, ok := t.rows[ks]; !ok {
		return types.ErrNotFound
	}
	old := t.rows[ks]
	order := append([]string(nil), t.order...)
	t.remove(ks)
	if err := s.persist(e, t); err != nil {
		t.rows[ks] = old
		t.order = order
		return err
	}
	return nil
}
