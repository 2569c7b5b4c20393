package types

import "context"

// Manager is the generic access contract. Every operation resolves the
// schema of modelID and fails with ContainerNotFoundError when containerID
// is not a container of that schema.
type Manager interface {
	// Schema returns the resolved schema for modelID.
	Schema(ctx context.Context, modelID string) (*MetaSchema, error)

	// ListEntities returns the entities matching all filters, ordered by the
	// given sorters (or DefaultSorters when none are given) and cut to the
	// offset/limit window.
	ListEntities(ctx context.Context, modelID, containerID string, opts ListOptions) (*ResultSet, error)

	// CountEntities counts matching entities, ignoring any window.
	CountEntities(ctx context.Context, modelID, containerID string, filters []Filter, lookup bool) (int64, error)

	// GetEntity returns the entity with the given key string.
	// Returns EntityNotFoundError if no entity has that key.
	GetEntity(ctx context.Context, modelID, containerID, key string) (Record, error)

	// CreateEntity creates an entity from a flat property bag keyed by
	// attribute property name. Returns ValidationError on violations.
	CreateEntity(ctx context.Context, modelID, containerID string, props map[string]any) (Record, error)

	// UpdateEntity modifies only the supplied properties of an entity.
	// Returns EntityNotFoundError if the key is absent.
	UpdateEntity(ctx context.Context, modelID, containerID, key string, props map[string]any) (Record, error)

	// DeleteEntity removes an entity.
	// Returns EntityNotFoundError if the key is absent.
	DeleteEntity(ctx context.Context, modelID, containerID, key string) error

	// DefaultSorters returns the container's default ordering.
	DefaultSorters(ctx context.Context, modelID, containerID string) ([]Sorter, error)
}

// SchemaLoader builds the raw, unmerged schema of a model. Implementations
// may inspect a database catalog, read declaration files or return a
// static value; they must return a fresh schema on every call.
type SchemaLoader interface {
	LoadSchema(ctx context.Context, modelID string) (*MetaSchema, error)
}

// SchemaLoaderFunc adapts a function to SchemaLoader.
type SchemaLoaderFunc func(ctx context.Context, modelID string) (*MetaSchema, error)

// LoadSchema calls f.
func (f SchemaLoaderFunc) LoadSchema(ctx context.Context, modelID string) (*MetaSchema, error) {
	return f(ctx, modelID)
}

// Store is the store-specific half of the contract. A Store receives an
// already-resolved container and already-validated input; it returns
// ErrNotFound for unknown keys and a *ValidationError for constraint
// violations it detects.
type Store interface {
	SchemaLoader

	List(ctx context.Context, e *MetaEntity, q Query) ([]Record, error)
	Count(ctx context.Context, e *MetaEntity, filters []Filter) (int64, error)
	Get(ctx context.Context, e *MetaEntity, key Key) (Record, error)
	Create(ctx context.Context, e *MetaEntity, rec Record) (Record, error)
	Update(ctx context.Context, e *MetaEntity, key Key, changes Record) (Record, error)
	Delete(ctx context.Context, e *MetaEntity, key Key) error
}

// Validator inspects a coerced property bag before it reaches the store.
// Returned field errors are reported together with the Manager's own.
// key is nil on create.
type Validator interface {
	Validate(ctx context.Context, e *MetaEntity, key *Key, props Record) []FieldError
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, e *MetaEntity, key *Key, props Record) []FieldError

// Validate calls f.
func (f ValidatorFunc) Validate(ctx context.Context, e *MetaEntity, key *Key, props Record) []FieldError {
	return f(ctx, e, key, props)
}
