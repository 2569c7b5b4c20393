// Package manager implements the generic entity access contract on top of a
// schema resolver and a store adapter. Callers address entities by model id,
// container id and key string; the Manager checks every request against the
// resolved schema before the store sees it.
package manager

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/metashelf/internal/query"
	"github.com/mesh-intelligence/metashelf/internal/schema"
	"github.com/mesh-intelligence/metashelf/pkg/types"
)

var _ types.Manager = (*Manager)(nil)

// Manager implements types.Manager.
type Manager struct {
	store      types.Store
	resolver   *schema.Resolver
	validators []types.Validator
	logger     *slog.Logger

	overrides []types.EntityOverride
	tuners    []schema.Tuner
	newKey    func() (string, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithOverrides sets the overrides merged into every resolved schema. The
// slice is copied.
func WithOverrides(overrides []types.EntityOverride) Option {
	return func(m *Manager) {
		m.overrides = types.CloneOverrides(overrides)
	}
}

// WithTuner adds a tuner that adjusts each loaded schema before overrides
// are merged.
func WithTuner(tuner schema.Tuner) Option {
	return func(m *Manager) {
		m.tuners = append(m.tuners, tuner)
	}
}

// WithValidators registers validators that run after coercion on create and
// update.
func WithValidators(validators ...types.Validator) Option {
	return func(m *Manager) {
		m.validators = append(m.validators, validators...)
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New returns a Manager over store. The store also serves as the schema
// loader.
func New(store types.Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		logger: slog.Default(),
		newKey: func() (string, error) {
			id, err := uuid.NewV7()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	ropts := []schema.ResolverOption{
		schema.WithOverrides(m.overrides),
		schema.WithLogger(m.logger),
	}
	for _, tuner := range m.tuners {
		ropts = append(ropts, schema.WithTuner(tuner))
	}
	m.resolver = schema.NewResolver(store, ropts...)
	return m
}

// Resolver returns the schema resolver, for cache invalidation.
func (m *Manager) Resolver() *schema.Resolver {
	return m.resolver
}

// Close releases the store if it holds resources.
func (m *Manager) Close() error {
	if c, ok := m.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Schema returns the resolved schema of modelID.
func (m *Manager) Schema(ctx context.Context, modelID string) (*types.MetaSchema, error) {
	return m.resolver.Resolve(ctx, modelID)
}

func (m *Manager) container(ctx context.Context, modelID, containerID string) (*types.MetaEntity, error) {
	s, err := m.resolver.Resolve(ctx, modelID)
	if err != nil {
		return nil, err
	}
	e := s.Container(containerID)
	if e == nil {
		return nil, &types.ContainerNotFoundError{ModelID: modelID, Container: containerID}
	}
	return e, nil
}

// ListEntities implements types.Manager.
func (m *Manager) ListEntities(ctx context.Context, modelID, containerID string, opts types.ListOptions) (*types.ResultSet, error) {
	e, err := m.container(ctx, modelID, containerID)
	if err != nil {
		return nil, err
	}

	var fieldErrs []types.FieldError
	filters, errs := checkFilters(e, opts.Filters)
	fieldErrs = append(fieldErrs, errs...)

	sorters := opts.Sorters
	if len(sorters) == 0 {
		sorters = defaultSorters(e)
	}
	for _, s := range sorters {
		if e.Attr(s.Attr) == nil {
			fieldErrs = append(fieldErrs, unknownAttr(s.Attr))
		}
	}

	q := types.Query{Filters: filters, Sorters: sorters, Attrs: columnsOf(e, opts.Lookup)}
	if opts.Offset != nil {
		if *opts.Offset < 0 {
			fieldErrs = append(fieldErrs, types.FieldError{Code: types.CodeInvalidValue, Field: "offset", Message: "must not be negative"})
		}
		q.Offset = *opts.Offset
	}
	if opts.Limit != nil {
		if *opts.Limit < 0 {
			fieldErrs = append(fieldErrs, types.FieldError{Code: types.CodeInvalidValue, Field: "limit", Message: "must not be negative"})
		}
		q.Limit = *opts.Limit
	}
	if len(fieldErrs) > 0 {
		return nil, types.NewValidationError(e.ID, fieldErrs...)
	}
	if opts.Limit != nil && *opts.Limit == 0 {
		return &types.ResultSet{Columns: columns(q.Attrs), Rows: []types.Record{}}, nil
	}

	rows, err := m.store.List(ctx, e, q)
	if err != nil {
		return nil, m.storeError("list", e, "", err)
	}
	rs := &types.ResultSet{Columns: columns(q.Attrs), Rows: make([]types.Record, len(rows))}
	for i, r := range rows {
		rs.Rows[i] = query.Project(r, q.Attrs)
	}
	return rs, nil
}

// CountEntities implements types.Manager. The lookup flag narrows nothing
// a count can observe and is accepted for symmetry with ListEntities.
func (m *Manager) CountEntities(ctx context.Context, modelID, containerID string, filters []types.Filter, lookup bool) (int64, error) {
	e, err := m.container(ctx, modelID, containerID)
	if err != nil {
		return 0, err
	}
	checked, errs := checkFilters(e, filters)
	if len(errs) > 0 {
		return 0, types.NewValidationError(e.ID, errs...)
	}
	n, err := m.store.Count(ctx, e, checked)
	if err != nil {
		return 0, m.storeError("count", e, "", err)
	}
	return n, nil
}

// GetEntity implements types.Manager.
func (m *Manager) GetEntity(ctx context.Context, modelID, containerID, key string) (types.Record, error) {
	e, err := m.container(ctx, modelID, containerID)
	if err != nil {
		return nil, err
	}
	k, err := query.ParseKey(e, key)
	if err != nil {
		m.logger.Debug("malformed key", "container", e.ID, "key", key, "error", err)
		return nil, &types.EntityNotFoundError{Container: e.ID, Key: key}
	}
	rec, err := m.store.Get(ctx, e, k)
	if err != nil {
		return nil, m.storeError("get", e, key, err)
	}
	return query.Project(rec, e.SortedAttrs()), nil
}

// CreateEntity implements types.Manager.
func (m *Manager) CreateEntity(ctx context.Context, modelID, containerID string, props map[string]any) (types.Record, error) {
	e, err := m.container(ctx, modelID, containerID)
	if err != nil {
		return nil, err
	}
	rec, fieldErrs := m.checkCreate(e, props)
	fieldErrs = append(fieldErrs, m.validate(ctx, e, nil, rec)...)
	if len(fieldErrs) > 0 {
		return nil, types.NewValidationError(e.ID, fieldErrs...)
	}

	created, err := m.store.Create(ctx, e, rec)
	if err != nil {
		return nil, m.storeError("create", e, "", err)
	}
	if k, ok := query.KeyOf(e, created); ok {
		m.logger.Debug("entity created", "container", e.ID, "key", k.String())
	}
	return query.Project(created, e.SortedAttrs()), nil
}

// UpdateEntity implements types.Manager. Only the supplied properties
// change.
func (m *Manager) UpdateEntity(ctx context.Context, modelID, containerID, key string, props map[string]any) (types.Record, error) {
	e, err := m.container(ctx, modelID, containerID)
	if err != nil {
		return nil, err
	}
	k, err := query.ParseKey(e, key)
	if err != nil {
		return nil, &types.EntityNotFoundError{Container: e.ID, Key: key}
	}
	changes, fieldErrs := m.checkUpdate(e, k, props)
	fieldErrs = append(fieldErrs, m.validate(ctx, e, &k, changes)...)
	if len(fieldErrs) > 0 {
		return nil, types.NewValidationError(e.ID, fieldErrs...)
	}

	var rec types.Record
	if len(changes) == 0 {
		rec, err = m.store.Get(ctx, e, k)
	} else {
		rec, err = m.store.Update(ctx, e, k, changes)
	}
	if err != nil {
		return nil, m.storeError("update", e, key, err)
	}
	m.logger.Debug("entity updated", "container", e.ID, "key", key, "fields", len(changes))
	return query.Project(rec, e.SortedAttrs()), nil
}

// DeleteEntity implements types.Manager.
func (m *Manager) DeleteEntity(ctx context.Context, modelID, containerID, key string) error {
	e, err := m.container(ctx, modelID, containerID)
	if err != nil {
		return err
	}
	k, err := query.ParseKey(e, key)
	if err != nil {
		return &types.EntityNotFoundError{Container: e.ID, Key: key}
	}
	if err := m.store.Delete(ctx, e, k); err != nil {
		return m.storeError("delete", e, key, err)
	}
	m.logger.Debug("entity deleted", "container", e.ID, "key", key)
	return nil
}

// DefaultSorters implements types.Manager.
func (m *Manager) DefaultSorters(ctx context.Context, modelID, containerID string) ([]types.Sorter, error) {
	e, err := m.container(ctx, modelID, containerID)
	if err != nil {
		return nil, err
	}
	return defaultSorters(e), nil
}

// defaultSorters derives sorters from the attributes' Sorting hints: the
// sign gives the direction and the absolute value the precedence.
func defaultSorters(e *types.MetaEntity) []types.Sorter {
	var hinted []*types.MetaEntityAttr
	for _, a := range e.Attributes {
		if a.Sorting != 0 {
			hinted = append(hinted, a)
		}
	}
	sort.SliceStable(hinted, func(i, j int) bool {
		return abs(hinted[i].Sorting) < abs(hinted[j].Sorting)
	})
	sorters := make([]types.Sorter, len(hinted))
	for i, a := range hinted {
		sorters[i] = types.Sorter{Attr: a.PropName, Desc: a.Sorting < 0}
	}
	return sorters
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// columnsOf returns the attributes a listing populates, in display order.
func columnsOf(e *types.MetaEntity, lookup bool) []*types.MetaEntityAttr {
	attrs := e.SortedAttrs()
	if !lookup {
		return attrs
	}
	out := attrs[:0]
	for _, a := range attrs {
		if a.IsPrimaryKey || a.ShowInLookup {
			out = append(out, a)
		}
	}
	return out
}

func columns(attrs []*types.MetaEntityAttr) []types.Column {
	cols := make([]types.Column, len(attrs))
	for i, a := range attrs {
		cols[i] = types.Column{ID: a.PropName, Label: a.Caption, DataType: a.DataType}
	}
	return cols
}

// storeError maps a store failure onto the error taxonomy.
func (m *Manager) storeError(op string, e *types.MetaEntity, key string, err error) error {
	if errors.Is(err, types.ErrNotFound) {
		return &types.EntityNotFoundError{Container: e.ID, Key: key}
	}
	if ve, ok := types.AsValidationError(err); ok {
		if ve.Container != "" {
			return ve
		}
		cp := *ve
		cp.Container = e.ID
		cp.Errors = append([]types.FieldError(nil), ve.Errors...)
		return &cp
	}
	m.logger.Warn("store operation failed", "op", op, "container", e.ID, "error", err)
	return &types.ManagerError{Op: op, Container: e.ID, Err: err}
}
