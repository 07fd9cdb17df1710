package world

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	return NewService(NewMemoryStore(), slog.Default(), opts...)
}

func seedWorld(t *testing.T, svc *Service) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, svc.SeedTerritory(ctx, &Territory{
		ID: "docks", Name: "The Docks",
		ControllingFaction: "corleone",
		Neighbors:          []string{"harbor", "warehouse_row"},
	}))
	require.NoError(t, svc.SeedTerritory(ctx, &Territory{ID: "harbor", Name: "Harbor"}))
	require.NoError(t, svc.SeedFaction(ctx, &Faction{
		ID: "corleone", Name: "Corleone Family", HomeTerritory: "docks",
	}))
}

func TestTransferControl(t *testing.T) {
	svc := testService(t)
	seedWorld(t, svc)
	ctx := context.Background()

	got, err := svc.TransferControl(ctx, "docks", "tattaglia")
	require.NoError(t, err)
	assert.Equal(t, "tattaglia", got.ControllingFaction)
	assert.Equal(t, int64(2), got.Version)
}

func TestAdjustReputation(t *testing.T) {
	svc := testService(t)
	seedWorld(t, svc)
	ctx := context.Background()

	f, err := svc.AdjustReputation(ctx, "corleone", 7.5)
	require.NoError(t, err)
	assert.Equal(t, 7.5, f.Reputation)
	f, err = svc.AdjustReputation(ctx, "corleone", -2.5)
	require.NoError(t, err)
	assert.Equal(t, 5.0, f.Reputation)
}

func TestCreateAuctionValidation(t *testing.T) {
	svc := testService(t)
	_, err := svc.CreateAuction(context.Background(), CreateAuctionRequest{
		ItemID:   "tommy_gun",
		SellerID: "player_1",
		ClosesAt: time.Now().Add(-time.Hour),
	})
	assert.Error(t, err)
}

func TestPlaceBidRaisesHighBid(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()
	a, err := svc.CreateAuction(ctx, CreateAuctionRequest{
		ItemID:       "tommy_gun",
		SellerID:     "player_1",
		StartingBid:  100,
		MinIncrement: 10,
		ClosesAt:     time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	got, err := svc.PlaceBid(ctx, a.ID, "player_2", 120)
	require.NoError(t, err)
	assert.Equal(t, int64(120), got.HighBid)
	assert.Equal(t, "player_2", got.HighBidderID)
	assert.Equal(t, int64(1), got.BidCount)

	_, err = svc.PlaceBid(ctx, a.ID, "player_3", 125)
	assert.ErrorIs(t, err, ErrBidTooLow)
}

func TestPlaceBidOnClosedAuction(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()
	a, err := svc.CreateAuction(ctx, CreateAuctionRequest{
		ItemID:      "speakeasy_deed",
		SellerID:    "player_1",
		StartingBid: 500,
		ClosesAt:    time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = svc.CloseAuction(ctx, a.ID)
	require.NoError(t, err)

	_, err = svc.PlaceBid(ctx, a.ID, "player_2", 600)
	assert.ErrorIs(t, err, ErrAuctionClosed)
}

func TestConcurrentBidsSerializeThroughVersions(t *testing.T) {
	svc := testService(t, WithMaxRetries(100))
	ctx := context.Background()
	a, err := svc.CreateAuction(ctx, CreateAuctionRequest{
		ItemID:       "territory_deed",
		SellerID:     "player_1",
		StartingBid:  0,
		MinIncrement: 1,
		ClosesAt:     time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	// 20 bidders race with distinct amounts. Late-arriving low bids lose
	// cleanly, accepted bids strictly raise the price, and the top amount
	// always wins because no rival bid can outgrow it.
	const bidders = 20
	var wg sync.WaitGroup
	var accepted sync.Map
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			amount := int64(1000 + n)
			_, err := svc.PlaceBid(ctx, a.ID, "bidder", amount)
			if err == nil {
				accepted.Store(amount, true)
			} else {
				assert.ErrorIs(t, err, ErrBidTooLow)
			}
		}(i)
	}
	wg.Wait()

	final, err := svc.Auction(ctx, a.ID)
	require.NoError(t, err)

	var acceptedCount int64
	accepted.Range(func(_, _ any) bool { acceptedCount++; return true })
	assert.Equal(t, acceptedCount, final.BidCount, "bid count matches accepted bids")
	assert.Equal(t, int64(1019), final.HighBid, "highest raced bid wins")
	// version advanced once per accepted bid
	assert.Equal(t, acceptedCount+1, final.Version)
}

func TestCloseAuctionIdempotent(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()
	a, err := svc.CreateAuction(ctx, CreateAuctionRequest{
		ItemID:   "still_equipment",
		SellerID: "player_1",
		ClosesAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	first, err := svc.CloseAuction(ctx, a.ID)
	require.NoError(t, err)
	second, err := svc.CloseAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, AuctionClosed, first.Status)
	assert.Equal(t, first.Version, second.Version)
}

func TestRelatedEntitiesTerritory(t *testing.T) {
	svc := testService(t)
	seedWorld(t, svc)

	got, err := svc.RelatedEntities(context.Background(), "territory", "docks", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "faction", got[0].Type)
	assert.Equal(t, "corleone", got[0].ID)
}

func TestRelatedEntitiesFanoutLimit(t *testing.T) {
	svc := testService(t)
	seedWorld(t, svc)

	got, err := svc.RelatedEntities(context.Background(), "territory", "docks", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRelatedEntitiesUnknownEntity(t *testing.T) {
	svc := testService(t)
	got, err := svc.RelatedEntities(context.Background(), "territory", "nowhere", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
