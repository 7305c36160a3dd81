package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDayOrdersConvergesToRecomputedTotal(t *testing.T) {
	gdb := testDB(t)
	d := day(2026, 8, 27)

	id := uint(7)
	require.NoError(t, SetDayOrders(gdb, "LIVE", "D1", d, 3, &id))

	// Two overlapping invocations each recomputed the same total from the
	// fact rows; the second write must not add on top of the first.
	require.NoError(t, SetDayOrders(gdb, "LIVE", "D1", d, 3, nil))

	st, err := GetLiveState(gdb, "LIVE", "D1", d)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, int64(3), st.DayOrdersCount)
	// nil policy id must not erase the remembered one
	require.NotNil(t, st.LastPolicyLogID)
	assert.Equal(t, uint(7), *st.LastPolicyLogID)

	// A larger total moves the counter forward; a stale smaller one does not
	// pull it back.
	require.NoError(t, SetDayOrders(gdb, "LIVE", "D1", d, 8, nil))
	require.NoError(t, SetDayOrders(gdb, "LIVE", "D1", d, 5, nil))

	st, err = GetLiveState(gdb, "LIVE", "D1", d)
	require.NoError(t, err)
	assert.Equal(t, int64(8), st.DayOrdersCount)

	// Other days and suppliers stay independent.
	missing, err := GetLiveState(gdb, "LIVE", "D1", d.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSetDayOrdersOverlappingRunKeysDoNotDouble(t *testing.T) {
	gdb := testDB(t)
	d := day(2026, 8, 27)

	// Two invocations with distinct run keys both claim the day, then both
	// write the same recomputed total of 2.
	claimed, err := TryMarkRunKey(gdb, "LIVE", "D1", d, "scheduled")
	require.NoError(t, err)
	require.True(t, claimed)
	claimed, err = TryMarkRunKey(gdb, "LIVE", "D1", d, "manual")
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, SetDayOrders(gdb, "LIVE", "D1", d, 2, nil))
	require.NoError(t, SetDayOrders(gdb, "LIVE", "D1", d, 2, nil))

	st, err := GetLiveState(gdb, "LIVE", "D1", d)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, int64(2), st.DayOrdersCount)
}

func TestRecordEscalationIsMonotonic(t *testing.T) {
	gdb := testDB(t)
	d := day(2026, 8, 27)

	require.NoError(t, RecordEscalation(gdb, "LIVE", "D1", d, 3, 11))
	// A delayed replay of an older escalation cannot lower the counter.
	require.NoError(t, RecordEscalation(gdb, "LIVE", "D1", d, 2, 12))

	st, err := GetLiveState(gdb, "LIVE", "D1", d)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 3, st.LiveIter)

	require.NoError(t, RecordEscalation(gdb, "LIVE", "D1", d, 4, 13))
	st, err = GetLiveState(gdb, "LIVE", "D1", d)
	require.NoError(t, err)
	assert.Equal(t, 4, st.LiveIter)
}

func TestObserveDayMetricKeepsBaselineAndBest(t *testing.T) {
	gdb := testDB(t)
	d := day(2026, 8, 27)

	rules1 := mustJSON(t, []BandRule{{BandID: "b1", Porog: 0.15}})
	rules2 := mustJSON(t, []BandRule{{BandID: "b1", Porog: 0.17}})
	rules3 := mustJSON(t, []BandRule{{BandID: "b1", Porog: 0.19}})

	require.NoError(t, ObserveDayMetric(gdb, "LIVE", "D1", d, 100, 0, rules1))
	require.NoError(t, ObserveDayMetric(gdb, "LIVE", "D1", d, 150, 1, rules2))
	require.NoError(t, ObserveDayMetric(gdb, "LIVE", "D1", d, 120, 2, rules3))

	st, err := GetLiveState(gdb, "LIVE", "D1", d)
	require.NoError(t, err)
	require.NotNil(t, st)

	require.NotNil(t, st.BaselineMetric)
	assert.Equal(t, 100.0, *st.BaselineMetric)
	require.NotNil(t, st.BestMetric)
	assert.Equal(t, 150.0, *st.BestMetric)
	require.NotNil(t, st.BestIter)
	assert.Equal(t, 1, *st.BestIter)
	assert.JSONEq(t, string(rules2), string(st.BestRules))
}

func TestTryMarkRunKeyClaimsOnce(t *testing.T) {
	gdb := testDB(t)
	d := day(2026, 8, 27)

	claimed, err := TryMarkRunKey(gdb, "LIVE", "D1", d, "run-a")
	require.NoError(t, err)
	assert.True(t, claimed)

	// The same key replayed is rejected.
	claimed, err = TryMarkRunKey(gdb, "LIVE", "D1", d, "run-a")
	require.NoError(t, err)
	assert.False(t, claimed)

	// A new key wins again.
	claimed, err = TryMarkRunKey(gdb, "LIVE", "D1", d, "run-b")
	require.NoError(t, err)
	assert.True(t, claimed)

	// And the old key stays burned only as long as it is the latest; after
	// run-b the claim moves forward.
	claimed, err = TryMarkRunKey(gdb, "LIVE", "D1", d, "run-a")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestFreezeLiveStateKeepsFirstStopReason(t *testing.T) {
	gdb := testDB(t)
	d := day(2026, 8, 27)

	require.NoError(t, FreezeLiveState(gdb, "LIVE", "D1", d, "stop_max_iterations"))
	require.NoError(t, FreezeLiveState(gdb, "LIVE", "D1", d, "something_else"))

	st, err := GetLiveState(gdb, "LIVE", "D1", d)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.True(t, st.IsFrozen)
	require.NotNil(t, st.StopReason)
	assert.Equal(t, "stop_max_iterations", *st.StopReason)
}

func TestMarkLimitReachedLatches(t *testing.T) {
	gdb := testDB(t)
	d := day(2026, 8, 27)

	require.NoError(t, SetDayOrders(gdb, "LIVE", "D1", d, 10, nil))
	require.NoError(t, MarkLimitReached(gdb, "LIVE", "D1", d))

	st, err := GetLiveState(gdb, "LIVE", "D1", d)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.True(t, st.IsLimitReached)
	assert.Equal(t, int64(10), st.DayOrdersCount)
}
