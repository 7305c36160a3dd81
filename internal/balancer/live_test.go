package balancer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricebalancer/internal/config"
	"pricebalancer/internal/db"
)

func liveControls() config.LiveControls {
	return config.LiveControls{
		DailyOrderLimit: intPtr(5),
		Step:            0.02,
		MaxIterations:   3,
		MinPorogFloor:   0.0,
		MaxPorogCap:     0.40,
		Enabled:         true,
	}
}

func baseLiveRules() []db.BandRule {
	return []db.BandRule{
		{BandID: "b1", Porog: 0.20},
		{BandID: "b2", Porog: 0.39},
	}
}

func liveAction(details map[string]interface{}) string {
	live, _ := details["live"].(map[string]interface{})
	action, _ := live["action"].(string)
	return action
}

func TestApplyLiveControlsDisabledPassesThrough(t *testing.T) {
	controls := liveControls()
	controls.Enabled = false

	rules, reason, details := ApplyLiveControls(controls, nil, baseLiveRules(), ReasonBest30d, nil)
	assert.Equal(t, baseLiveRules(), rules)
	assert.Equal(t, ReasonBest30d, reason)
	assert.Equal(t, LiveActionDisabled, liveAction(details))
}

func TestApplyLiveControlsWarmupHoldsBaseRules(t *testing.T) {
	// No state at all.
	rules, reason, details := ApplyLiveControls(liveControls(), nil, baseLiveRules(), ReasonBest30d, nil)
	assert.Equal(t, baseLiveRules(), rules)
	assert.Equal(t, ReasonBest30d, reason)
	assert.Equal(t, LiveActionWarmup, liveAction(details))
	assert.Equal(t, 0, LiveIterFromDetails(details))

	// State exists but has seen nothing yet.
	empty := &db.LiveState{}
	rules, _, details = ApplyLiveControls(liveControls(), empty, baseLiveRules(), ReasonBest30d, nil)
	assert.Equal(t, baseLiveRules(), rules)
	assert.Equal(t, LiveActionWarmup, liveAction(details))
}

func TestApplyLiveControlsEscalatesOnDailyLimit(t *testing.T) {
	state := &db.LiveState{LiveIter: 1, DayOrdersCount: 5}

	rules, reason, details := ApplyLiveControls(liveControls(), state, baseLiveRules(), ReasonBest30d, nil)
	require.Len(t, rules, 2)
	assert.InDelta(t, 0.22, rules[0].Porog, 1e-9)
	// The cap bounds the escalation.
	assert.InDelta(t, 0.40, rules[1].Porog, 1e-9)
	assert.Equal(t, ReasonLiveDailyLimit, reason)
	assert.Equal(t, LiveActionEscalate, liveAction(details))
	assert.Equal(t, 2, LiveIterFromDetails(details))
}

func TestApplyLiveControlsBelowLimitKeepsBase(t *testing.T) {
	state := &db.LiveState{LiveIter: 1, DayOrdersCount: 3}

	rules, reason, details := ApplyLiveControls(liveControls(), state, baseLiveRules(), ReasonBest30d, nil)
	assert.Equal(t, baseLiveRules(), rules)
	assert.Equal(t, ReasonBest30d, reason)
	assert.Equal(t, LiveActionKeepBaseRules, liveAction(details))
	assert.Equal(t, 1, LiveIterFromDetails(details))
}

func TestApplyLiveControlsStopsAtMaxIterations(t *testing.T) {
	state := &db.LiveState{LiveIter: 3, DayOrdersCount: 50}

	rules, reason, details := ApplyLiveControls(liveControls(), state, baseLiveRules(), ReasonBest30d, nil)
	assert.Equal(t, baseLiveRules(), rules)
	assert.Equal(t, ReasonBest30d, reason)
	assert.Equal(t, LiveActionStopMaxIter, liveAction(details))
	assert.Equal(t, 3, LiveIterFromDetails(details))
}

func TestApplyLiveControlsIsPure(t *testing.T) {
	state := &db.LiveState{LiveIter: 1, DayOrdersCount: 5}
	base := baseLiveRules()
	details := map[string]interface{}{"source": "seed"}

	first, _, _ := ApplyLiveControls(liveControls(), state, base, ReasonBest30d, details)
	second, _, _ := ApplyLiveControls(liveControls(), state, base, ReasonBest30d, details)

	assert.Equal(t, first, second)
	// Inputs are untouched: base rules and caller details survive.
	assert.Equal(t, baseLiveRules(), base)
	assert.Equal(t, map[string]interface{}{"source": "seed"}, details)
	assert.Equal(t, 1, state.LiveIter)
}
