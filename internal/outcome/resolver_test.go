package outcome

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/omerta/internal/risk"
)

func testResolver(t *testing.T, opts ...Option) (*Resolver, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewResolver(store, slog.Default(), opts...), store
}

func TestResolveAppliesModifiersInDeclaredOrder(t *testing.T) {
	r, _ := testResolver(t, WithRNG(NewFixedRNG(99)))

	// (40 + 20) * 0.5 = 30, not (40 * 0.5) + 20 = 40. Multiplicative always
	// applies after all additive modifiers regardless of slice order.
	req := Request{
		ActorID:         "player_1",
		ActionType:      "heist",
		BaseSuccessRate: 40,
		Modifiers: []Modifier{
			{Name: "night_job", Kind: ModifierMultiplicative, Value: 0.5},
			{Name: "inside_man", Kind: ModifierAdditive, Value: 20},
		},
	}
	profile := &risk.Profile{Suspicion: 0}
	prob, penalty, err := r.Probability(req, profile)
	require.NoError(t, err)
	assert.InDelta(t, 30.0, prob, 0.001)
	assert.Zero(t, penalty)
}

func TestResolveRiskPenaltyAndRollThreshold(t *testing.T) {
	// base 50, suspicion 80, default coefficient 0.3: final probability 26.
	profile := &risk.Profile{Suspicion: 80}
	req := Request{ActorID: "player_1", ActionType: "smuggle", BaseSuccessRate: 50}

	r, _ := testResolver(t, WithRNG(NewFixedRNG(20)))
	attempt, err := r.Resolve(context.Background(), req, profile)
	require.NoError(t, err)
	assert.InDelta(t, 26.0, attempt.ResolvedProbability, 0.001)
	assert.InDelta(t, 24.0, attempt.RiskPenalty, 0.001)
	assert.Equal(t, OutcomeSuccess, attempt.Outcome)

	r2, _ := testResolver(t, WithRNG(NewFixedRNG(26)))
	attempt2, err := r2.Resolve(context.Background(), req, profile)
	require.NoError(t, err)
	// roll equal to the probability fails; success requires roll < probability
	assert.Equal(t, OutcomeFailure, attempt2.Outcome)
}

func TestResolveClampsToBand(t *testing.T) {
	r, _ := testResolver(t, WithRNG(NewFixedRNG(50)))

	profile := &risk.Profile{Suspicion: 100}
	low, _, err := r.Probability(Request{ActionType: "hit", BaseSuccessRate: 10}, profile)
	require.NoError(t, err)
	assert.Equal(t, 5.0, low)

	high, _, err := r.Probability(Request{
		ActionType:      "pickpocket",
		BaseSuccessRate: 90,
		Modifiers:       []Modifier{{Name: "crowd", Kind: ModifierAdditive, Value: 50}},
	}, &risk.Profile{})
	require.NoError(t, err)
	assert.Equal(t, 95.0, high)
}

func TestResolveCustomPenaltyTable(t *testing.T) {
	r, _ := testResolver(t,
		WithRNG(NewFixedRNG(50)),
		WithPenaltyTable(PenaltyTable{"bribe": 0.1}),
	)
	profile := &risk.Profile{Suspicion: 100}

	prob, penalty, err := r.Probability(Request{ActionType: "bribe", BaseSuccessRate: 60}, profile)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, prob, 0.001)
	assert.InDelta(t, 10.0, penalty, 0.001)

	// unknown action types fall back to the default coefficient
	_, fallback, err := r.Probability(Request{ActionType: "arson", BaseSuccessRate: 60}, profile)
	require.NoError(t, err)
	assert.InDelta(t, 30.0, fallback, 0.001)
}

func TestResolveRejectsOutOfRangeBaseRate(t *testing.T) {
	r, _ := testResolver(t)
	_, err := r.Resolve(context.Background(), Request{ActionType: "heist", BaseSuccessRate: 120}, nil)
	assert.ErrorIs(t, err, ErrInvalidRate)
	_, err = r.Resolve(context.Background(), Request{ActionType: "heist", BaseSuccessRate: -1}, nil)
	assert.ErrorIs(t, err, ErrInvalidRate)
}

func TestResolveDeterministicForSameSeed(t *testing.T) {
	req := Request{ActorID: "player_7", ActionType: "heist", BaseSuccessRate: 55}
	profile := &risk.Profile{Suspicion: 40}

	run := func() []Outcome {
		r, _ := testResolver(t, WithRNG(NewSeededRNG(42)))
		var out []Outcome
		for i := 0; i < 20; i++ {
			a, err := r.Resolve(context.Background(), req, profile)
			require.NoError(t, err)
			out = append(out, a.Outcome)
		}
		return out
	}
	assert.Equal(t, run(), run())
}

func TestResolveRecordsImmutableAttempt(t *testing.T) {
	r, store := testResolver(t, WithRNG(NewFixedRNG(10)))
	a, err := r.Resolve(context.Background(), Request{
		ActorID:         "player_2",
		ActionType:      "heist",
		TargetID:        "bank_3",
		BaseSuccessRate: 70,
	}, &risk.Profile{Suspicion: 10})
	require.NoError(t, err)

	require.NoError(t, r.AttachNarrative(context.Background(), a.ID, "the vault door gave way"))

	got, err := store.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "the vault door gave way", got.Narrative)
	assert.Equal(t, a.ResolvedProbability, got.ResolvedProbability)
	assert.Equal(t, a.RollValue, got.RollValue)
	assert.Equal(t, a.Outcome, got.Outcome)
	assert.True(t, got.Succeeded())
}

func TestAttachNarrativeUnknownAttempt(t *testing.T) {
	r, _ := testResolver(t)
	err := r.AttachNarrative(context.Background(), "act_missing", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHistoryOrdersNewestFirst(t *testing.T) {
	r, _ := testResolver(t, WithRNG(NewFixedRNG(50)))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := r.Resolve(ctx, Request{ActorID: "player_9", ActionType: "heist", BaseSuccessRate: 50}, nil)
		require.NoError(t, err)
	}
	got, err := r.History(ctx, "player_9", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].CreatedAt.After(got[i-1].CreatedAt))
	}
}
