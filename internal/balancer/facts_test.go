package balancer

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"pricebalancer/internal/db"
	"pricebalancer/internal/orders"
)

func snapshotJSON(t *testing.T) datatypes.JSON {
	t.Helper()
	snap, err := testConfig(testProfile()).Snapshot()
	require.NoError(t, err)
	return snap
}

func factPolicy(t *testing.T) *db.PolicyLog {
	t.Helper()
	start := time.Date(2026, 8, 27, 6, 0, 0, 0, time.UTC)
	rules, err := json.Marshal([]db.BandRule{{BandID: "b1", Porog: 0.15}, {BandID: "b2", Porog: 0.20}})
	require.NoError(t, err)
	minPorog, err := json.Marshal(map[string]float64{"b1": 0.15, "b2": 0.15})
	require.NoError(t, err)
	return &db.PolicyLog{
		ID:             42,
		Mode:           "TEST",
		City:           "Kyiv",
		Supplier:       "D1",
		SegmentID:      "TT_DAY",
		SegmentStart:   start,
		SegmentEnd:     start.Add(16 * time.Hour),
		Rules:          rules,
		MinPorogByBand: minPorog,
		ConfigSnapshot: snapshotJSON(t),
	}
}

func TestBuildOrderFactComputesMargins(t *testing.T) {
	policy := factPolicy(t)
	order := orders.RawOrder{
		ID:            json.Number("1001"),
		TabletkiOrder: "T-1",
		StatusID:      2,
		City:          "Kyiv",
		Supplier:      "DSN",
		OrderTime:     "2026-08-27 10:30:00",
		Products: []orders.OrderLine{
			{Price: 50, Amount: 2, CostPrice: floatPtr(30)},
		},
	}

	fact, err := BuildOrderFact(policy, order)
	require.NoError(t, err)

	assert.Equal(t, uint(42), fact.PolicyLogID)
	assert.Equal(t, "1001", fact.OrderID)
	assert.Equal(t, "b1", fact.BandID)
	assert.Equal(t, 100.0, fact.SaleSum)
	assert.Equal(t, 60.0, fact.CostSum)
	assert.Equal(t, 40.0, fact.Profit)
	assert.Equal(t, 0.15, fact.PorogUsed)
	assert.Equal(t, 0.15, fact.MinPorog)
	assert.Equal(t, 9.0, fact.MinProfit)   // 60 * 0.15
	assert.Equal(t, 31.0, fact.ExcessProfit) // 40 - 9

	require.NotNil(t, fact.CreatedAtSource)
	assert.Equal(t, 10, fact.CreatedAtSource.In(Location()).Hour())
}

func TestBuildOrderFactCatchAllBand(t *testing.T) {
	policy := factPolicy(t)
	order := orders.RawOrder{
		ID: json.Number("1002"),
		Products: []orders.OrderLine{
			{Price: 600, Amount: 1, CostPrice: floatPtr(400)},
		},
	}

	fact, err := BuildOrderFact(policy, order)
	require.NoError(t, err)
	assert.Equal(t, "b2", fact.BandID)
	assert.Equal(t, 0.20, fact.PorogUsed)
}

func TestBuildOrderFactOptFallbackWhenCostMissing(t *testing.T) {
	policy := factPolicy(t)
	order := orders.RawOrder{
		ID:  json.Number("1003"),
		Opt: 70,
		Products: []orders.OrderLine{
			{Price: 50, Amount: 2, CostPrice: floatPtr(30)},
			{Price: 20, Amount: 1}, // no cost price
		},
	}

	fact, err := BuildOrderFact(policy, order)
	require.NoError(t, err)
	assert.Equal(t, 120.0, fact.SaleSum)
	// Any missing line cost switches the whole order to the wholesale total.
	assert.Equal(t, 70.0, fact.CostSum)
	assert.Equal(t, 50.0, fact.Profit)
}

func TestBuildOrderFactZeroPorogUsesMinimum(t *testing.T) {
	policy := factPolicy(t)
	rules, err := json.Marshal([]db.BandRule{{BandID: "b2", Porog: 0.20}}) // no b1 rule
	require.NoError(t, err)
	policy.Rules = rules

	order := orders.RawOrder{
		ID:       json.Number("1004"),
		Products: []orders.OrderLine{{Price: 100, Amount: 1, CostPrice: floatPtr(60)}},
	}

	fact, err := BuildOrderFact(policy, order)
	require.NoError(t, err)
	assert.Equal(t, "b1", fact.BandID)
	assert.Equal(t, 0.15, fact.PorogUsed)
}

func TestBuildOrderFactRejectsBrokenSnapshot(t *testing.T) {
	policy := factPolicy(t)
	policy.ConfigSnapshot = nil

	_, err := BuildOrderFact(policy, orders.RawOrder{ID: json.Number("1")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPricingConfig))
}
