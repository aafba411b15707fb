package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradehawk/internal/broker"
	"github.com/ajitpratap0/tradehawk/internal/db"
	"github.com/ajitpratap0/tradehawk/internal/markethours"
)

// testSpread is a 537/512 weekly put spread collecting 0.62.
func testSpread() *broker.PutSpread {
	return &broker.PutSpread{
		Short:      broker.OptionLeg{ConID: 201, Symbol: "QQQ", Strike: 537, Expiration: "20250829", Right: broker.RightPut, Bid: 0.64, Ask: 0.68, Delta: -0.11},
		Long:       broker.OptionLeg{ConID: 202, Symbol: "QQQ", Strike: 512, Expiration: "20250829", Right: broker.RightPut, Bid: 0.02, Ask: 0.06, Delta: -0.03},
		Credit:     0.62,
		Width:      25,
		MaxRisk:    2438, // (25 - 0.62) x 100
		Expiration: "20250829",
	}
}

func (oh *orchHarness) seedRecommendation(t *testing.T, action string, expiresAt time.Time) *db.Recommendation {
	t.Helper()
	exp := "20250829"
	rec := &db.Recommendation{
		RegimeType:      db.RegimeNormalBull,
		QQQPrice:        562.43,
		VIX:             f64(17),
		Action:          action,
		Symbol:          "QQQ",
		ShortStrike:     f64(537),
		LongStrike:      f64(512),
		Expiration:      &exp,
		Contracts:       2,
		EstimatedCredit: f64(0.60),
		MaxRisk:         f64(4880),
		MaxProfit:       f64(120),
		ExpiresAt:       expiresAt,
	}
	require.NoError(t, oh.recs.Create(context.Background(), rec))
	return rec
}

func TestAnalyzeCreatesRecommendation(t *testing.T) {
	oh := setupOrchHarness(t)
	ctx := context.Background()

	gw := &fakeGateway{connected: true, price: 562.43, netLiq: 100_000, spread: testSpread()}
	o, sink := oh.newOrchestrator(t, gw, fakeClock{markethours.SessionRegular}, nil)

	result, err := o.Analyze(ctx)
	require.NoError(t, err)
	assert.Equal(t, "analyze_only", result.Mode)
	assert.Equal(t, "normal_bull", result.Regime)
	assert.Equal(t, 1, result.Count)
	require.Len(t, result.Recommendations, 1)

	rec := result.Recommendations[0]
	assert.Equal(t, db.ActionOpenPutSpread, rec.Action)
	assert.Equal(t, "QQQ", rec.Symbol)
	assert.InDelta(t, 537, *rec.ShortStrike, 1e-9)
	assert.InDelta(t, 512, *rec.LongStrike, 1e-9)
	assert.Equal(t, 10, rec.Contracts) // 25% of 100k over $2438 a contract
	assert.InDelta(t, 0.62, *rec.EstimatedCredit, 1e-9)
	assert.InDelta(t, 24380, *rec.MaxRisk, 1e-9)
	assert.InDelta(t, 620, *rec.MaxProfit, 1e-9)
	require.NotNil(t, rec.Reasoning)
	assert.Contains(t, *rec.Reasoning, "Short strike: $537")
	require.NotNil(t, rec.RiskAssessment)
	assert.Contains(t, *rec.RiskAssessment, "Contracts: 10")

	// Persisted as pending with the four-hour approval window.
	stored, err := oh.recs.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, db.RecommendationPending, stored.Status)
	assert.WithinDuration(t, time.Now().UTC().Add(4*time.Hour), stored.ExpiresAt, time.Minute)

	// Analysis never persists a regime.
	regime, err := oh.regimes.GetCurrent(ctx)
	require.NoError(t, err)
	assert.Nil(t, regime)

	assert.True(t, sink.has("trade_signal:put_spread_recommended:QQQ"))
}

func TestAnalyzeNoCandidate(t *testing.T) {
	oh := setupOrchHarness(t)
	ctx := context.Background()

	gw := &fakeGateway{connected: true, price: 562.43, netLiq: 100_000}
	o, _ := oh.newOrchestrator(t, gw, fakeClock{markethours.SessionRegular}, nil)

	result, err := o.Analyze(ctx)
	require.NoError(t, err)
	assert.Equal(t, "normal_bull", result.Regime)
	assert.Equal(t, 0, result.Count)
	assert.Empty(t, result.Recommendations)

	pending, err := o.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestAnalyzeMarketClosed(t *testing.T) {
	oh := setupOrchHarness(t)

	gw := &fakeGateway{connected: true, price: 562.43, spread: testSpread()}
	o, _ := oh.newOrchestrator(t, gw, fakeClock{markethours.SessionAfterHours}, nil)

	result, err := o.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Options trading not available (session: after_hours)", result.Error)
	assert.Equal(t, 0, result.Count)
	assert.Empty(t, result.Regime)
}

func TestRecommendationLifecycle(t *testing.T) {
	oh := setupOrchHarness(t)
	ctx := context.Background()

	spread := testSpread()
	spread.Credit = 0.60
	spread.MaxRisk = 2440
	gw := &fakeGateway{connected: true, price: 562.43, netLiq: 100_000, spread: spread, orderID: "ib-88211"}
	o, _ := oh.newOrchestrator(t, gw, fakeClock{markethours.SessionRegular}, nil)

	analysis, err := o.Analyze(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, analysis.Count)
	rec := analysis.Recommendations[0]

	pending, err := o.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, rec.ID, pending[0].ID)

	approved, err := o.Approve(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, db.RecommendationApproved, approved.Status)
	assert.NotNil(t, approved.ApprovedAt)

	// Approving twice is refused.
	_, err = o.Approve(ctx, rec.ID)
	assert.ErrorContains(t, err, "only pending can be approved")

	outcome, err := o.Execute(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, "ib-88211", outcome.OrderID)
	require.NotNil(t, outcome.ExecutionPrice)
	assert.InDelta(t, 0.60, *outcome.ExecutionPrice, 1e-9)
	assert.Equal(t, db.ActionOpenPutSpread, outcome.Action)

	// The venue got one combo at the recommended credit.
	placed := gw.placedOrders()
	require.Len(t, placed, 1)
	assert.Equal(t, broker.RightPut, placed[0].Right)
	assert.Equal(t, 10, placed[0].Quantity)
	assert.InDelta(t, 0.60, placed[0].LimitPrice, 1e-9)
	assert.Equal(t, 101, placed[0].Short.ConID)
	assert.Equal(t, 102, placed[0].Long.ConID)

	stored, err := oh.recs.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, db.RecommendationExecuted, stored.Status)
	require.NotNil(t, stored.OrderID)
	assert.Equal(t, "ib-88211", *stored.OrderID)
	require.NotNil(t, stored.ExecutionPrice)
	assert.InDelta(t, 0.60, *stored.ExecutionPrice, 1e-9)

	// The fill landed on the options blotter as an open put spread.
	open, err := oh.trades.ListOpenOptionsTrades(ctx, "put_spread")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.InDelta(t, 537, *open[0].ShortStrike, 1e-9)
	assert.Equal(t, 10, open[0].Contracts)
	require.NotNil(t, open[0].OrderID)
	assert.Equal(t, "ib-88211", *open[0].OrderID)

	// Executing twice is refused now the status moved on.
	second, err := o.Execute(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, second.Success)
	assert.Contains(t, second.Error, "must be approved first")
}

func TestApproveExpired(t *testing.T) {
	oh := setupOrchHarness(t)
	ctx := context.Background()

	rec := oh.seedRecommendation(t, db.ActionOpenPutSpread, time.Now().UTC().Add(-time.Minute))

	gw := &fakeGateway{connected: true}
	o, _ := oh.newOrchestrator(t, gw, fakeClock{markethours.SessionRegular}, nil)

	_, err := o.Approve(ctx, rec.ID)
	assert.ErrorIs(t, err, db.ErrRecommendationExpired)

	stored, err := oh.recs.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, db.RecommendationExpired, stored.Status)
}

func TestRejectRecommendation(t *testing.T) {
	oh := setupOrchHarness(t)
	ctx := context.Background()

	rec := oh.seedRecommendation(t, db.ActionOpenPutSpread, time.Now().UTC().Add(4*time.Hour))

	gw := &fakeGateway{connected: true}
	o, _ := oh.newOrchestrator(t, gw, fakeClock{markethours.SessionRegular}, nil)

	rejected, err := o.Reject(ctx, rec.ID, "credit too thin")
	require.NoError(t, err)
	assert.Equal(t, db.RecommendationRejected, rejected.Status)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "credit too thin", *rejected.RejectionReason)
}

func TestPendingSweepsStale(t *testing.T) {
	oh := setupOrchHarness(t)
	ctx := context.Background()

	stale := oh.seedRecommendation(t, db.ActionOpenPutSpread, time.Now().UTC().Add(-time.Hour))
	fresh := oh.seedRecommendation(t, db.ActionOpenPutSpread, time.Now().UTC().Add(4*time.Hour))

	gw := &fakeGateway{connected: true}
	o, _ := oh.newOrchestrator(t, gw, fakeClock{markethours.SessionRegular}, nil)

	pending, err := o.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, fresh.ID, pending[0].ID)

	expired, err := oh.recs.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, db.RecommendationExpired, expired.Status)
}

func TestExecuteMarketClosed(t *testing.T) {
	oh := setupOrchHarness(t)
	ctx := context.Background()

	rec := oh.seedRecommendation(t, db.ActionOpenPutSpread, time.Now().UTC().Add(4*time.Hour))
	_, err := oh.recs.Approve(ctx, rec.ID)
	require.NoError(t, err)

	gw := &fakeGateway{connected: true, orderID: "ib-1"}
	o, _ := oh.newOrchestrator(t, gw, fakeClock{markethours.SessionClosed}, nil)

	outcome, err := o.Execute(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, "Options trading not available (session: closed)", outcome.Error)
	assert.Empty(t, gw.placedOrders())

	// The approval survives for a retry during the next session.
	stored, err := oh.recs.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, db.RecommendationApproved, stored.Status)
}

func TestExecuteDryRun(t *testing.T) {
	oh := setupOrchHarness(t)
	ctx := context.Background()

	rec := oh.seedRecommendation(t, db.ActionOpenPutSpread, time.Now().UTC().Add(4*time.Hour))
	_, err := oh.recs.Approve(ctx, rec.ID)
	require.NoError(t, err)

	gw := &fakeGateway{connected: true}
	o, _ := oh.newOrchestrator(t, gw, fakeClock{markethours.SessionRegular}, func(c *Config) { c.DryRun = true })

	outcome, err := o.Execute(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.True(t, strings.HasPrefix(outcome.OrderID, "dryrun-"), outcome.OrderID)
	require.NotNil(t, outcome.ExecutionPrice)
	assert.InDelta(t, 0.60, *outcome.ExecutionPrice, 1e-9)
	assert.Empty(t, gw.placedOrders())
}

func TestExecuteSimulatedActions(t *testing.T) {
	oh := setupOrchHarness(t)
	ctx := context.Background()
	inFourHours := time.Now().UTC().Add(4 * time.Hour)

	gw := &fakeGateway{connected: true}
	o, _ := oh.newOrchestrator(t, gw, fakeClock{markethours.SessionRegular}, nil)

	approve := func(rec *db.Recommendation) {
		t.Helper()
		_, err := oh.recs.Approve(ctx, rec.ID)
		require.NoError(t, err)
	}

	closeRec := oh.seedRecommendation(t, db.ActionClosePutSpread, inFourHours)
	approve(closeRec)
	outcome, err := o.Execute(ctx, closeRec.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, "simulated_close", outcome.OrderID)
	assert.Nil(t, outcome.ExecutionPrice)

	stored, err := oh.recs.Get(ctx, closeRec.ID)
	require.NoError(t, err)
	assert.Equal(t, db.RecommendationExecuted, stored.Status)
	assert.Nil(t, stored.ExecutionPrice)

	// Closes add no blotter rows; a long call does.
	open, err := oh.trades.ListOpenOptionsTrades(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, open)

	callRec := oh.seedRecommendation(t, db.ActionOpenLongCall, inFourHours)
	approve(callRec)
	outcome, err = o.Execute(ctx, callRec.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, "simulated_long_call", outcome.OrderID)

	open, err = oh.trades.ListOpenOptionsTrades(ctx, "long_call")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Empty(t, gw.placedOrders())
}

func TestExecuteVenueRejection(t *testing.T) {
	oh := setupOrchHarness(t)
	ctx := context.Background()

	rec := oh.seedRecommendation(t, db.ActionOpenPutSpread, time.Now().UTC().Add(4*time.Hour))
	_, err := oh.recs.Approve(ctx, rec.ID)
	require.NoError(t, err)

	gw := &fakeGateway{connected: true, placeErr: errors.New("insufficient margin")}
	o, _ := oh.newOrchestrator(t, gw, fakeClock{markethours.SessionRegular}, nil)

	outcome, err := o.Execute(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "insufficient margin")

	// A venue rejection leaves the approval intact for a retry.
	stored, err := oh.recs.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, db.RecommendationApproved, stored.Status)
}

func TestExecuteUnknownRecommendation(t *testing.T) {
	oh := setupOrchHarness(t)

	gw := &fakeGateway{connected: true}
	o, _ := oh.newOrchestrator(t, gw, fakeClock{markethours.SessionRegular}, nil)

	_, err := o.Execute(context.Background(), uuid.New())
	assert.ErrorContains(t, err, "recommendation not found")
}
