package db_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradehawk/internal/db"
	"github.com/ajitpratap0/tradehawk/internal/db/testhelpers"
)

func setupStores(t *testing.T) *testhelpers.PostgresContainer {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	tc := testhelpers.SetupTestDatabase(t)
	require.NoError(t, tc.ApplyMigrations("../../migrations"))
	// Migrations seed the default agents; clear them so names are free.
	require.NoError(t, tc.TruncateAll())
	return tc
}

func TestAgentCRUD(t *testing.T) {
	tc := setupStores(t)
	ctx := context.Background()
	store := db.NewAgentStore(tc.DB)

	agent := &db.Agent{
		Name:   "crypto_hunter",
		Kind:   db.AgentKindCryptoHunter,
		Config: json.RawMessage(`{"allocated_amount": 5000}`),
	}
	require.NoError(t, store.Create(ctx, agent))
	assert.NotEqual(t, uuid.Nil, agent.ID)
	assert.Equal(t, db.AgentStatusIdle, agent.Status)

	t.Run("GetByName", func(t *testing.T) {
		got, err := store.GetByName(ctx, "crypto_hunter")
		require.NoError(t, err)
		assert.Equal(t, agent.ID, got.ID)
		assert.Equal(t, db.AgentKindCryptoHunter, got.Kind)
	})

	t.Run("UpdateStatus", func(t *testing.T) {
		require.NoError(t, store.UpdateStatus(ctx, agent.ID, db.AgentStatusRunning))
		got, err := store.Get(ctx, agent.ID)
		require.NoError(t, err)
		assert.Equal(t, db.AgentStatusRunning, got.Status)
	})

	t.Run("UpdateConfig", func(t *testing.T) {
		require.NoError(t, store.UpdateConfig(ctx, agent.ID,
			json.RawMessage(`{"allocated_amount": 7500}`)))
		got, err := store.Get(ctx, agent.ID)
		require.NoError(t, err)

		var cfg map[string]float64
		require.NoError(t, json.Unmarshal(got.Config, &cfg))
		assert.Equal(t, 7500.0, cfg["allocated_amount"])
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := store.Get(ctx, uuid.New())
		assert.ErrorContains(t, err, "not found")
	})
}

func TestPositionLifecycle(t *testing.T) {
	tc := setupStores(t)
	ctx := context.Background()

	agents := db.NewAgentStore(tc.DB)
	agent := &db.Agent{Name: "crypto_hunter", Kind: db.AgentKindCryptoHunter}
	require.NoError(t, agents.Create(ctx, agent))

	store := db.NewPositionStore(tc.DB, db.TableCryptoPositions)

	stop := 92.0
	target := 120.0
	pos := &db.Position{
		AgentID:    agent.ID,
		Symbol:     "BTC-USD",
		Side:       "buy",
		Quantity:   0.5,
		EntryPrice: 100.0,
		StopLoss:   &stop,
		TakeProfit: &target,
	}
	require.NoError(t, store.Create(ctx, pos))
	assert.Equal(t, db.PositionStatusOpen, pos.Status)
	assert.Equal(t, 50.0, pos.AllocatedAmount)

	t.Run("UpdateMark", func(t *testing.T) {
		require.NoError(t, store.UpdateMark(ctx, pos.ID, 110.0, 5.0))
		got, err := store.Get(ctx, pos.ID)
		require.NoError(t, err)
		require.NotNil(t, got.CurrentPrice)
		assert.Equal(t, 110.0, *got.CurrentPrice)
		require.NotNil(t, got.UnrealizedPnL)
		assert.Equal(t, 5.0, *got.UnrealizedPnL)
	})

	t.Run("CloseOnStop", func(t *testing.T) {
		exitOrderID := "ord-1"
		_, err := store.Close(ctx, pos.ID, 92.0, -4.0, db.ExitReasonStopLoss, &exitOrderID)
		require.NoError(t, err)
		got, err := store.Get(ctx, pos.ID)
		require.NoError(t, err)
		assert.Equal(t, db.PositionStatusStoppedOut, got.Status)
		require.NotNil(t, got.RealizedPnL)
		assert.Equal(t, -4.0, *got.RealizedPnL)
		require.NotNil(t, got.ClosedAt)

		open, err := store.ListOpen(ctx, agent.ID)
		require.NoError(t, err)
		assert.Empty(t, open)
	})

	t.Run("DailyRealizedPnL", func(t *testing.T) {
		midnight := time.Now().UTC().Truncate(24 * time.Hour)
		pnl, err := store.DailyRealizedPnL(ctx, agent.ID, midnight)
		require.NoError(t, err)
		assert.Equal(t, -4.0, pnl)
	})
}

func TestWatchlistUpsertKeepsOneWatchingRow(t *testing.T) {
	tc := setupStores(t)
	ctx := context.Background()

	agents := db.NewAgentStore(tc.DB)
	agent := &db.Agent{Name: "gem_hunter", Kind: db.AgentKindGemHunter}
	require.NoError(t, agents.Create(ctx, agent))

	store := db.NewWatchlistStore(tc.DB, db.TableGemWatchlist)

	entry := &db.WatchlistEntry{
		AgentID:        agent.ID,
		Symbol:         "NVDA",
		CompositeScore: 72.5,
		TrendScore:     80,
		EntryTrigger:   db.EntryTriggerImmediate,
	}
	require.NoError(t, store.Upsert(ctx, entry))

	// A rescan with new scores must update the same row, not add one.
	rescored := &db.WatchlistEntry{
		AgentID:        agent.ID,
		Symbol:         "NVDA",
		CompositeScore: 81.0,
		TrendScore:     85,
		EntryTrigger:   db.EntryTriggerBreakout,
	}
	require.NoError(t, store.Upsert(ctx, rescored))

	watching, err := store.ListWatching(ctx, agent.ID)
	require.NoError(t, err)
	require.Len(t, watching, 1)
	assert.Equal(t, 81.0, watching[0].CompositeScore)
	assert.Equal(t, db.EntryTriggerBreakout, watching[0].EntryTrigger)

	t.Run("TrimToTop", func(t *testing.T) {
		for _, sym := range []string{"AMD", "MSFT", "GOOG"} {
			require.NoError(t, store.Upsert(ctx, &db.WatchlistEntry{
				AgentID:        agent.ID,
				Symbol:         sym,
				CompositeScore: 60,
				EntryTrigger:   db.EntryTriggerImmediate,
			}))
		}
		trimmed, err := store.TrimToTop(ctx, agent.ID, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(2), trimmed)

		watching, err := store.ListWatching(ctx, agent.ID)
		require.NoError(t, err)
		assert.Len(t, watching, 2)
		assert.Equal(t, "NVDA", watching[0].Symbol)
	})
}

func TestRecommendationLifecycle(t *testing.T) {
	tc := setupStores(t)
	ctx := context.Background()
	store := db.NewRecommendationStore(tc.DB)

	newRec := func(expiresAt time.Time) *db.Recommendation {
		credit := 0.60
		return &db.Recommendation{
			RegimeType:      db.RegimeNormalBull,
			QQQPrice:        485.50,
			Action:          db.ActionOpenPutSpread,
			Symbol:          "QQQ",
			Contracts:       2,
			EstimatedCredit: &credit,
			ExpiresAt:       expiresAt,
		}
	}

	t.Run("ApproveThenExecute", func(t *testing.T) {
		rec := newRec(time.Now().UTC().Add(4 * time.Hour))
		require.NoError(t, store.Create(ctx, rec))
		assert.Equal(t, db.RecommendationPending, rec.Status)

		approved, err := store.Approve(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, db.RecommendationApproved, approved.Status)
		assert.NotNil(t, approved.ApprovedAt)

		fill := 0.58
		require.NoError(t, store.MarkExecuted(ctx, rec.ID, "ib-42", &fill))
		got, err := store.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, db.RecommendationExecuted, got.Status)
		require.NotNil(t, got.ExecutionPrice)
		assert.Equal(t, 0.58, *got.ExecutionPrice)
	})

	t.Run("ApproveAfterExpiryMarksExpired", func(t *testing.T) {
		rec := newRec(time.Now().UTC().Add(-time.Minute))
		require.NoError(t, store.Create(ctx, rec))

		_, err := store.Approve(ctx, rec.ID)
		assert.ErrorIs(t, err, db.ErrRecommendationExpired)

		got, err := store.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, db.RecommendationExpired, got.Status)
	})

	t.Run("RejectedCannotBeApproved", func(t *testing.T) {
		rec := newRec(time.Now().UTC().Add(4 * time.Hour))
		require.NoError(t, store.Create(ctx, rec))

		_, err := store.Reject(ctx, rec.ID, "too much risk this week")
		require.NoError(t, err)

		_, err = store.Approve(ctx, rec.ID)
		assert.ErrorContains(t, err, "only pending")
	})

	t.Run("ExpireStale", func(t *testing.T) {
		rec := newRec(time.Now().UTC().Add(-time.Hour))
		require.NoError(t, store.Create(ctx, rec))

		count, err := store.ExpireStale(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, count, int64(1))
	})
}

func TestRegimeTransitionIsAtomic(t *testing.T) {
	tc := setupStores(t)
	ctx := context.Background()
	store := db.NewRegimeStore(tc.DB)

	current, err := store.GetCurrent(ctx)
	require.NoError(t, err)
	assert.Nil(t, current)

	qqq := 485.0
	first, err := store.SetRegime(ctx, db.RegimeNormalBull, &qqq, nil)
	require.NoError(t, err)
	assert.True(t, first.IsActive)

	strike := 480.0
	second, err := store.SetRegime(ctx, db.RegimeDefenseTrigger, &qqq, &strike)
	require.NoError(t, err)

	current, err = store.GetCurrent(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, second.ID, current.ID)
	assert.Equal(t, db.RegimeDefenseTrigger, current.RegimeType)

	history, err := store.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.False(t, history[1].IsActive)
	assert.NotNil(t, history[1].EndedAt)
}

func TestActivityLog(t *testing.T) {
	tc := setupStores(t)
	ctx := context.Background()
	store := db.NewActivityStore(tc.DB)

	agents := db.NewAgentStore(tc.DB)
	agent := &db.Agent{Name: "crypto_hunter", Kind: db.AgentKindCryptoHunter}
	require.NoError(t, agents.Create(ctx, agent))

	for _, typ := range []string{db.ActivityCycleBegin, db.ActivityTradeSignal, db.ActivityCycleEnd} {
		require.NoError(t, store.Record(ctx, &db.Activity{
			AgentID: &agent.ID,
			Type:    typ,
			Message: "Agent cycle started",
		}))
	}

	t.Run("RecentFilterByType", func(t *testing.T) {
		got, err := store.Recent(ctx, db.ActivityFilter{
			AgentID: &agent.ID,
			Types:   []string{db.ActivityTradeSignal},
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, db.ActivityTradeSignal, got[0].Type)
	})

	t.Run("Today", func(t *testing.T) {
		got, err := store.Today(ctx)
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("ClearOld", func(t *testing.T) {
		count, err := store.ClearOld(ctx, time.Now().UTC().Add(-7*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})
}

func TestOptionsStats(t *testing.T) {
	tc := setupStores(t)
	ctx := context.Background()
	store := db.NewTradeStore(tc.DB)

	premium := 120.0
	risk := 2380.0
	short := 480.0
	long := 455.0
	exp := "20250905"
	open := &db.OptionsTrade{
		TradeType:       "put_spread",
		Symbol:          "QQQ",
		ShortStrike:     &short,
		LongStrike:      &long,
		Expiration:      &exp,
		Contracts:       1,
		PremiumReceived: &premium,
		MaxRisk:         &risk,
	}
	require.NoError(t, store.CreateOptionsTrade(ctx, open))

	winner := &db.OptionsTrade{
		TradeType:       "put_spread",
		Symbol:          "QQQ",
		Contracts:       1,
		PremiumReceived: &premium,
	}
	require.NoError(t, store.CreateOptionsTrade(ctx, winner))
	require.NoError(t, store.CloseOptionsTrade(ctx, winner.ID, 120.0))

	loser := &db.OptionsTrade{
		TradeType: "put_spread",
		Symbol:    "QQQ",
		Contracts: 1,
	}
	require.NoError(t, store.CreateOptionsTrade(ctx, loser))
	require.NoError(t, store.CloseOptionsTrade(ctx, loser.ID, -2380.0))

	stats, err := store.OptionsStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalTrades)
	assert.Equal(t, 1, stats.OpenTrades)
	assert.Equal(t, 2, stats.ClosedTrades)
	assert.Equal(t, -2260.0, stats.TotalPnL)
	assert.Equal(t, 50.0, stats.WinRate)
}
