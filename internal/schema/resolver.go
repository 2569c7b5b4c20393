package schema

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/mesh-intelligence/metashelf/pkg/types"
)

// Resolver owns the per-model schema cache. Resolve builds a schema on the
// first request for a model id, merges the configured overrides into it and
// publishes it; every later request for that id returns the same instance.
//
// Concurrent misses for one id are coalesced, so the loader normally runs
// once per id. Publication is compare-and-publish: if another build for the
// same id was published first, the late build is discarded. Distinct ids
// never wait on each other.
type Resolver struct {
	loader    types.SchemaLoader
	tuners    []Tuner
	overrides []types.EntityOverride
	logger    *slog.Logger

	schemas sync.Map // model id -> *types.MetaSchema
	group   singleflight.Group
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithOverrides sets the overrides merged into every loaded schema. The
// slice is copied.
func WithOverrides(overrides []types.EntityOverride) ResolverOption {
	return func(r *Resolver) {
		r.overrides = types.CloneOverrides(overrides)
	}
}

// Tuner adjusts a freshly loaded schema in place before overrides are
// merged into it.
type Tuner func(*types.MetaSchema)

// WithTuner adds a tuner. Tuners run in the order they were added.
func WithTuner(tuner Tuner) ResolverOption {
	return func(r *Resolver) {
		if tuner != nil {
			r.tuners = append(r.tuners, tuner)
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver creates a Resolver that builds schemas with loader.
func NewResolver(loader types.SchemaLoader, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		loader: loader,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the published schema for modelID, building it on a miss.
// Loader failures are returned as *types.SchemaLoadError and not cached.
// A caller whose ctx ends stops waiting; the shared build runs on without
// that caller's cancellation, so callers coalesced with it are unaffected.
func (r *Resolver) Resolve(ctx context.Context, modelID string) (*types.MetaSchema, error) {
	if s, ok := r.cached(modelID); ok {
		return s, nil
	}

	buildCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(modelID, func() (any, error) {
		if s, ok := r.cached(modelID); ok {
			return s, nil
		}
		built, err := r.build(buildCtx, modelID)
		if err != nil {
			return nil, err
		}
		return r.publish(modelID, built), nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*types.MetaSchema), nil
	}
}

// Invalidate drops the cached schema for modelID. Callers holding the old
// schema keep a consistent, unchanged value; the next Resolve rebuilds.
func (r *Resolver) Invalidate(modelID string) {
	if _, loaded := r.schemas.LoadAndDelete(modelID); loaded {
		r.logger.Info("schema invalidated", "model", modelID)
	}
}

// Warm resolves several model ids concurrently and returns the first error.
func (r *Resolver) Warm(ctx context.Context, modelIDs ...string) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, id := range modelIDs {
		id := id
		g.Go(func() error {
			_, err := r.Resolve(ctx, id)
			return err
		})
	}
	return g.Wait()
}

// Cached reports whether a schema for modelID is currently published.
func (r *Resolver) Cached(modelID string) bool {
	_, ok := r.cached(modelID)
	return ok
}

func (r *Resolver) cached(modelID string) (*types.MetaSchema, bool) {
	v, ok := r.schemas.Load(modelID)
	if !ok {
		return nil, false
	}
	return v.(*types.MetaSchema), true
}

// build loads, tunes and merges a schema without touching the cache.
func (r *Resolver) build(ctx context.Context, modelID string) (*types.MetaSchema, error) {
	raw, err := r.loader.LoadSchema(ctx, modelID)
	if err != nil {
		return nil, &types.SchemaLoadError{ModelID: modelID, Err: err}
	}
	if raw == nil {
		return nil, &types.SchemaLoadError{ModelID: modelID, Err: errors.New("loader returned no schema")}
	}
	if len(r.tuners) > 0 {
		raw = raw.Clone()
		for _, tune := range r.tuners {
			tune(raw)
		}
	}
	if err := raw.Validate(); err != nil {
		return nil, &types.SchemaLoadError{ModelID: modelID, Err: err}
	}

	merged := mergeWith(raw, r.overrides, r.logger)
	merged.ID = modelID
	r.logger.Debug("schema built", "model", modelID, "containers", len(merged.Containers()))
	return merged, nil
}

// publish stores s unless another schema for modelID is already published,
// and returns whichever schema won.
func (r *Resolver) publish(modelID string, s *types.MetaSchema) *types.MetaSchema {
	actual, loaded := r.schemas.LoadOrStore(modelID, s)
	if loaded {
		r.logger.Debug("discarding late schema build", "model", modelID)
	}
	return actual.(*types.MetaSchema)
}
