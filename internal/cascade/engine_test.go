package cascade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubResolver returns a fixed neighbor list per entity.
type stubResolver struct {
	neighbors map[string][]Entity
}

func (r *stubResolver) RelatedEntities(ctx context.Context, entityType, entityID string, limit int) ([]Entity, error) {
	out := r.neighbors[entityType+"/"+entityID]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// denseResolver links every entity to n generated neighbors.
type denseResolver struct{ n int }

func (r *denseResolver) RelatedEntities(ctx context.Context, entityType, entityID string, limit int) ([]Entity, error) {
	count := r.n
	if count > limit {
		count = limit
	}
	out := make([]Entity, count)
	for i := range out {
		out[i] = Entity{Type: "business", ID: fmt.Sprintf("%s_n%d", entityID, i)}
	}
	return out, nil
}

type recordingApplier struct {
	mu       sync.Mutex
	batches  [][]*Event
	failures int
}

func (a *recordingApplier) ApplyBatch(ctx context.Context, events []*Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failures > 0 {
		a.failures--
		return errors.New("transient apply failure")
	}
	a.batches = append(a.batches, events)
	return nil
}

func testEngine(t *testing.T, resolver TargetResolver, opts ...Option) (*Engine, *recordingApplier, *MemoryStore) {
	t.Helper()
	applier := &recordingApplier{}
	store := NewMemoryStore()
	return New(resolver, applier, store, slog.Default(), opts...), applier, store
}

func TestPropagateRespectsDepthAndFanoutCaps(t *testing.T) {
	// every node has 20 neighbors; caps are depth 2, fanout 5
	engine, applier, _ := testEngine(t, &denseResolver{n: 20})

	res, err := engine.Propagate(context.Background(), Origin{
		ID:         "act_1",
		EntityType: "territory",
		EntityID:   "docks",
		EffectType: "heat_delta",
		Magnitude:  20,
	})
	require.NoError(t, err)
	assert.True(t, res.Truncated)

	// origin + 5 at depth 1 + 25 at depth 2
	assert.Len(t, res.Events, 31)
	var depth1, depth2 int
	for _, ev := range res.Events {
		switch ev.Depth {
		case 1:
			depth1++
		case 2:
			depth2++
		}
		assert.LessOrEqual(t, ev.Depth, 2)
	}
	assert.Equal(t, 5, depth1)
	assert.Equal(t, 25, depth2)
	require.Len(t, applier.batches, 1)
	assert.Len(t, applier.batches[0], 31)
}

func TestPropagateDeduplicatesRepeatedTargets(t *testing.T) {
	// diamond: crew links to two businesses which both link back to the
	// same territory
	resolver := &stubResolver{neighbors: map[string][]Entity{
		"crew/corleone": {
			{Type: "business", ID: "laundry"},
			{Type: "business", ID: "casino"},
		},
		"business/laundry": {{Type: "territory", ID: "docks"}},
		"business/casino":  {{Type: "territory", ID: "docks"}},
	}}
	engine, _, _ := testEngine(t, resolver)

	res, err := engine.Propagate(context.Background(), Origin{
		ID:         "act_2",
		EntityType: "crew",
		EntityID:   "corleone",
		EffectType: "heat_delta",
		Magnitude:  10,
	})
	require.NoError(t, err)

	keys := make(map[string]int)
	for _, ev := range res.Events {
		keys[ev.EntityType+"/"+ev.EntityID+"/"+ev.EffectType]++
	}
	for key, n := range keys {
		assert.Equal(t, 1, n, "entity %s affected %d times", key, n)
	}
	// origin + 2 businesses + docks once
	assert.Len(t, res.Events, 4)
	assert.False(t, res.Truncated)
}

func TestPropagateAttenuatesMagnitude(t *testing.T) {
	resolver := &stubResolver{neighbors: map[string][]Entity{
		"crew/corleone":    {{Type: "business", ID: "laundry"}},
		"business/laundry": {{Type: "territory", ID: "docks"}},
	}}
	engine, _, _ := testEngine(t, resolver)

	res, err := engine.Propagate(context.Background(), Origin{
		ID:         "act_3",
		EntityType: "crew",
		EntityID:   "corleone",
		EffectType: "suspicion_delta",
		Magnitude:  12,
	})
	require.NoError(t, err)
	require.Len(t, res.Events, 3)
	assert.Equal(t, 12.0, res.Events[0].Magnitude)
	assert.Equal(t, 6.0, res.Events[1].Magnitude)
	assert.Equal(t, 3.0, res.Events[2].Magnitude)
}

func TestPropagateStopsWhenMagnitudeNegligible(t *testing.T) {
	engine, _, _ := testEngine(t, &denseResolver{n: 3})

	// 0.6 attenuates to 0.3, below the propagation threshold
	res, err := engine.Propagate(context.Background(), Origin{
		ID:         "act_4",
		EntityType: "player",
		EntityID:   "vito",
		EffectType: "heat_delta",
		Magnitude:  0.6,
	})
	require.NoError(t, err)
	assert.Len(t, res.Events, 1)
}

func TestPropagateClampsMagnitude(t *testing.T) {
	engine, _, _ := testEngine(t, &stubResolver{neighbors: map[string][]Entity{}})

	res, err := engine.Propagate(context.Background(), Origin{
		ID:         "act_5",
		EntityType: "player",
		EntityID:   "vito",
		EffectType: "heat_delta",
		Magnitude:  500,
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxMagnitude, res.Events[0].Magnitude)
}

func TestPropagateRetriesBatchAsUnit(t *testing.T) {
	resolver := &stubResolver{neighbors: map[string][]Entity{
		"crew/corleone": {{Type: "business", ID: "laundry"}},
	}}
	applier := &recordingApplier{failures: 2}
	store := NewMemoryStore()
	engine := New(resolver, applier, store, slog.Default())

	res, err := engine.Propagate(context.Background(), Origin{
		ID:         "act_6",
		EntityType: "crew",
		EntityID:   "corleone",
		EffectType: "heat_delta",
		Magnitude:  10,
	})
	require.NoError(t, err)
	require.Len(t, applier.batches, 1)
	assert.Equal(t, len(res.Events), len(applier.batches[0]))
}

func TestPropagateFailsAfterExhaustedRetries(t *testing.T) {
	applier := &recordingApplier{failures: 10}
	engine := New(&stubResolver{}, applier, NewMemoryStore(), slog.Default())

	_, err := engine.Propagate(context.Background(), Origin{
		ID:         "act_7",
		EntityType: "player",
		EntityID:   "vito",
		EffectType: "heat_delta",
		Magnitude:  10,
	})
	assert.Error(t, err)
}

func TestHistoryReturnsRecordedCascade(t *testing.T) {
	resolver := &stubResolver{neighbors: map[string][]Entity{
		"crew/corleone": {{Type: "business", ID: "laundry"}},
	}}
	engine, _, _ := testEngine(t, resolver)
	ctx := context.Background()

	res, err := engine.Propagate(ctx, Origin{
		ID:         "act_8",
		EntityType: "crew",
		EntityID:   "corleone",
		EffectType: "heat_delta",
		Magnitude:  10,
	})
	require.NoError(t, err)

	got, err := engine.History(ctx, "act_8")
	require.NoError(t, err)
	assert.Len(t, got, len(res.Events))
}
