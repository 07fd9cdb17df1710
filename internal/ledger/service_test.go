package ledger

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testService(t *testing.T) *Service {
	t.Helper()
	return NewService(NewMemoryStore(), slog.Default())
}

func TestCommitAppliesDeltas(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	entry, replayed, err := svc.Commit(ctx, CommitRequest{
		IdempotencyKey: "act_1:reward",
		OwnerID:        "player_1",
		OriginID:       "act_1",
		MoneyDelta:     5000,
		StatDeltas:     map[string]float64{"reputation": 3, "heist_xp": 12},
		Reason:         "heist payout",
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.NotEmpty(t, entry.ID)

	bal, err := svc.Balance(ctx, "player_1")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), bal.Money)
	assert.Equal(t, 3.0, bal.Stats["reputation"])
	assert.Equal(t, 12.0, bal.Stats["heist_xp"])
}

func TestCommitSameKeyAppliesOnce(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()
	req := CommitRequest{
		IdempotencyKey: "act_2:reward",
		OwnerID:        "player_1",
		MoneyDelta:     1000,
	}

	first, replayed, err := svc.Commit(ctx, req)
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := svc.Commit(ctx, req)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, second.ID)

	bal, err := svc.Balance(ctx, "player_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), bal.Money)
}

func TestCommitRequiresKey(t *testing.T) {
	svc := testService(t)
	_, _, err := svc.Commit(context.Background(), CommitRequest{OwnerID: "player_1", MoneyDelta: 100})
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestConcurrentCommitsSameKeyApplyOnce(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.Commit(ctx, CommitRequest{
				IdempotencyKey: "act_3:reward",
				OwnerID:        "player_2",
				MoneyDelta:     750,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	bal, err := svc.Balance(ctx, "player_2")
	require.NoError(t, err)
	assert.Equal(t, int64(750), bal.Money)
}

func TestRollbackCompensatesOnce(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	_, _, err := svc.Commit(ctx, CommitRequest{
		IdempotencyKey: "act_4:reward",
		OwnerID:        "player_3",
		MoneyDelta:     2000,
		StatDeltas:     map[string]float64{"reputation": 5},
	})
	require.NoError(t, err)

	rb, err := svc.Rollback(ctx, "act_4:reward", "mission voided")
	require.NoError(t, err)
	assert.Equal(t, "act_4:reward"+RollbackSuffix, rb.IdempotencyKey)
	assert.Equal(t, int64(-2000), rb.MoneyDelta)
	assert.Equal(t, -5.0, rb.StatDeltas["reputation"])

	// rolling back twice does not double-compensate
	_, err = svc.Rollback(ctx, "act_4:reward", "mission voided")
	require.NoError(t, err)

	bal, err := svc.Balance(ctx, "player_3")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal.Money)
	assert.Equal(t, 0.0, bal.Stats["reputation"])
}

func TestRollbackUnknownKey(t *testing.T) {
	svc := testService(t)
	_, err := svc.Rollback(context.Background(), "missing:reward", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBalanceStartsEmpty(t *testing.T) {
	svc := testService(t)
	bal, err := svc.Balance(context.Background(), "player_new")
	require.NoError(t, err)
	assert.Zero(t, bal.Money)
	assert.Empty(t, bal.Stats)
}

func TestHistoryNewestFirst(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()
	keys := []string{"a:reward", "b:reward", "c:reward"}
	for _, key := range keys {
		_, _, err := svc.Commit(ctx, CommitRequest{IdempotencyKey: key, OwnerID: "player_4", MoneyDelta: 1})
		require.NoError(t, err)
	}
	entries, err := svc.History(ctx, "player_4", 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i := 1; i < len(entries); i++ {
		assert.False(t, entries[i].CreatedAt.After(entries[i-1].CreatedAt))
	}
}
