package schema

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/metashelf/pkg/types"
)

// countingLoader builds shopSchema and counts invocations per model id.
type countingLoader struct {
	mu    sync.Mutex
	calls map[string]int
	gate  chan struct{} // when non-nil, LoadSchema waits on it
	err   error
}

func newCountingLoader() *countingLoader {
	return &countingLoader{calls: make(map[string]int)}
}

func (l *countingLoader) LoadSchema(ctx context.Context, modelID string) (*types.MetaSchema, error) {
	l.mu.Lock()
	l.calls[modelID]++
	gate, err := l.gate, l.err
	l.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	s := shopSchema()
	s.ID = "ignored"
	return s, nil
}

func (l *countingLoader) count(modelID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[modelID]
}

func TestResolver_ConcurrentResolveReturnsSameInstance(t *testing.T) {
	loader := newCountingLoader()
	loader.gate = make(chan struct{})
	r := NewResolver(loader)

	const n = 64
	results := make([]*types.MetaSchema, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := r.Resolve(context.Background(), "shop")
			assert.NoError(t, err)
			results[i] = s
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(loader.gate)
	wg.Wait()

	require.NotNil(t, results[0])
	for i := 1; i < n; i++ {
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, "shop", results[0].ID, "published schema takes the requested id")
	assert.Equal(t, 1, loader.count("shop"))
}

func TestResolver_CanceledCallerDoesNotFailOthers(t *testing.T) {
	loader := newCountingLoader()
	loader.gate = make(chan struct{})
	r := NewResolver(loader)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctx, "shop")
		first <- err
	}()
	require.Eventually(t, func() bool { return loader.count("shop") == 1 }, time.Second, time.Millisecond)

	second := make(chan *types.MetaSchema, 1)
	go func() {
		s, err := r.Resolve(context.Background(), "shop")
		assert.NoError(t, err)
		second <- s
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)
	assert.False(t, r.Cached("shop"), "the build is still waiting on the loader")

	close(loader.gate)
	s := <-second
	require.NotNil(t, s)
	assert.Equal(t, "shop", s.ID)
	assert.Equal(t, 1, loader.count("shop"))
	assert.True(t, r.Cached("shop"))
}

func TestResolver_ResolveIsIdempotent(t *testing.T) {
	loader := newCountingLoader()
	r := NewResolver(loader)

	first, err := r.Resolve(context.Background(), "shop")
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), "shop")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, loader.count("shop"))
	assert.True(t, r.Cached("shop"))
}

func TestResolver_LoaderFailureIsNotCached(t *testing.T) {
	loader := newCountingLoader()
	loader.err = errors.New("catalog unavailable")
	r := NewResolver(loader)

	_, err := r.Resolve(context.Background(), "shop")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrSchemaLoad)
	assert.ErrorIs(t, err, loader.err)
	var sle *types.SchemaLoadError
	require.ErrorAs(t, err, &sle)
	assert.Equal(t, "shop", sle.ModelID)
	assert.False(t, r.Cached("shop"))

	loader.mu.Lock()
	loader.err = nil
	loader.mu.Unlock()

	s, err := r.Resolve(context.Background(), "shop")
	require.NoError(t, err)
	assert.NotNil(t, s)
	assert.Equal(t, 2, loader.count("shop"))
}

func TestResolver_RejectsNilAndInvalidSchemas(t *testing.T) {
	nilLoader := types.SchemaLoaderFunc(func(ctx context.Context, id string) (*types.MetaSchema, error) {
		return nil, nil
	})
	_, err := NewResolver(nilLoader).Resolve(context.Background(), "shop")
	assert.ErrorIs(t, err, types.ErrSchemaLoad)

	dupLoader := types.SchemaLoaderFunc(func(ctx context.Context, id string) (*types.MetaSchema, error) {
		s := shopSchema()
		p := s.Container("products")
		p.Attributes = append(p.Attributes, types.NewAttr("name", "Name", types.DataTypeString))
		return s, nil
	})
	r := NewResolver(dupLoader)
	_, err = r.Resolve(context.Background(), "shop")
	assert.ErrorIs(t, err, types.ErrSchemaLoad)
	assert.False(t, r.Cached("shop"))
}

func TestResolver_AppliesOverridesAndCopiesThem(t *testing.T) {
	overrides := []types.EntityOverride{
		{TypeName: "Product", Attributes: []types.AttributeOverride{
			{PropName: "price", Enabled: types.Bool(false)},
		}},
	}
	r := NewResolver(newCountingLoader(), WithOverrides(overrides))

	// Mutating the caller's slice after construction has no effect.
	overrides[0].TypeName = "Order"
	overrides[0].Attributes[0].PropName = "placed_at"

	s, err := r.Resolve(context.Background(), "shop")
	require.NoError(t, err)
	assert.Nil(t, s.Container("products").Attr("price"))
	assert.NotNil(t, s.Container("orders").Attr("placed_at"))
}

func TestResolver_TunersRunBeforeOverrides(t *testing.T) {
	shared := shopSchema()
	loader := types.SchemaLoaderFunc(func(ctx context.Context, id string) (*types.MetaSchema, error) {
		return shared, nil
	})
	var order []string
	r := NewResolver(loader,
		WithTuner(func(s *types.MetaSchema) {
			order = append(order, "first")
			s.Container("products").Attr("name").Caption = "Title"
			s.Container("products").Attr("price").Description = "tuned"
		}),
		WithTuner(func(s *types.MetaSchema) { order = append(order, "second") }),
		WithOverrides([]types.EntityOverride{{TypeName: "Product", Attributes: []types.AttributeOverride{
			{PropName: "name", DisplayName: types.String("Product name")},
		}}}),
	)

	s, err := r.Resolve(context.Background(), "shop")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, "Product name", s.Container("products").Attr("name").Caption, "overrides win over tuners")
	assert.Equal(t, "tuned", s.Container("products").Attr("price").Description)
	assert.Empty(t, shared.Container("products").Attr("price").Description, "the loader's schema is not modified")
}

func TestResolver_InvalidateRebuilds(t *testing.T) {
	loader := newCountingLoader()
	r := NewResolver(loader)

	first, err := r.Resolve(context.Background(), "shop")
	require.NoError(t, err)

	r.Invalidate("shop")
	assert.False(t, r.Cached("shop"))

	second, err := r.Resolve(context.Background(), "shop")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, first, second)
	assert.Equal(t, 2, loader.count("shop"))

	// Invalidating an unknown id is harmless.
	r.Invalidate("nothing")
}

func TestResolver_DistinctModelsDoNotBlockEachOther(t *testing.T) {
	slowGate := make(chan struct{})
	loader := types.SchemaLoaderFunc(func(ctx context.Context, id string) (*types.MetaSchema, error) {
		if id == "slow" {
			<-slowGate
		}
		return shopSchema(), nil
	})
	r := NewResolver(loader)

	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		_, _ = r.Resolve(context.Background(), "slow")
	}()

	done := make(chan error, 1)
	go func() {
		_, err := r.Resolve(context.Background(), "fast")
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("resolving one model waited on another")
	}
	close(slowGate)
	<-slowDone
}

func TestResolver_PublishKeepsFirstSchema(t *testing.T) {
	r := NewResolver(newCountingLoader())
	a := shopSchema()
	b := shopSchema()

	assert.Same(t, a, r.publish("shop", a))
	assert.Same(t, a, r.publish("shop", b), "late build must be discarded")
}

func TestResolver_Warm(t *testing.T) {
	var calls atomic.Int32
	loader := types.SchemaLoaderFunc(func(ctx context.Context, id string) (*types.MetaSchema, error) {
		calls.Add(1)
		return shopSchema(), nil
	})
	r := NewResolver(loader)

	require.NoError(t, r.Warm(context.Background(), "a", "b", "c"))
	assert.True(t, r.Cached("a"))
	assert.True(t, r.Cached("b"))
	assert.True(t, r.Cached("c"))
	assert.Equal(t, int32(3), calls.Load())

	failing := NewResolver(types.SchemaLoaderFunc(func(ctx context.Context, id string) (*types.MetaSchema, error) {
		if id == "bad" {
			return nil, errors.New("boom")
		}
		return shopSchema(), nil
	}))
	err := failing.Warm(context.Background(), "good", "bad")
	assert.ErrorIs(t, err, types.ErrSchemaLoad)
}
