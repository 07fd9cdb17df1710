//go:build integration

package ledger

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/omerta/internal/testutil"
)

func TestPostgresCommitIdempotency(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	svc := NewService(NewPostgresStore(db), slog.Default())
	ctx := context.Background()

	req := CommitRequest{
		IdempotencyKey: "act_pg_1:reward",
		OwnerID:        "player_pg",
		MoneyDelta:     4000,
		StatDeltas:     map[string]float64{"reputation": 2},
	}
	_, replayed, err := svc.Commit(ctx, req)
	require.NoError(t, err)
	assert.False(t, replayed)

	_, replayed, err = svc.Commit(ctx, req)
	require.NoError(t, err)
	assert.True(t, replayed)

	bal, err := svc.Balance(ctx, "player_pg")
	require.NoError(t, err)
	assert.Equal(t, int64(4000), bal.Money)
	assert.Equal(t, 2.0, bal.Stats["reputation"])
}

func TestPostgresConcurrentCommitsSameKey(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	svc := NewService(NewPostgresStore(db), slog.Default())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.Commit(ctx, CommitRequest{
				IdempotencyKey: "act_pg_2:reward",
				OwnerID:        "player_pg2",
				MoneyDelta:     900,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	bal, err := svc.Balance(ctx, "player_pg2")
	require.NoError(t, err)
	assert.Equal(t, int64(900), bal.Money)
}

func TestPostgresRollback(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	svc := NewService(NewPostgresStore(db), slog.Default())
	ctx := context.Background()

	_, _, err := svc.Commit(ctx, CommitRequest{
		IdempotencyKey: "act_pg_3:reward",
		OwnerID:        "player_pg3",
		MoneyDelta:     1500,
	})
	require.NoError(t, err)

	_, err = svc.Rollback(ctx, "act_pg_3:reward", "voided")
	require.NoError(t, err)
	_, err = svc.Rollback(ctx, "act_pg_3:reward", "voided")
	require.NoError(t, err)

	bal, err := svc.Balance(ctx, "player_pg3")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal.Money)
}
