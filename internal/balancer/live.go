package balancer

import (
	"pricebalancer/internal/config"
	"pricebalancer/internal/db"
)

// LIVE controller actions recorded in reason_details.live.action.
const (
	LiveActionDisabled      = "disabled"
	LiveActionStopMaxIter   = "stop_max_iterations"
	LiveActionWarmup        = "warmup_no_data"
	LiveActionEscalate      = "increase_due_to_daily_limit"
	LiveActionKeepBaseRules = "keep_base_rules"
)

// ApplyLiveControls passes candidate LIVE rules through the daily-limit
// controller. It is pure with respect to its inputs: it reads the state
// snapshot and never writes it, so dry-run calls are side-effect free and
// repeated calls over unchanged state produce identical output. All state
// mutation happens in the pipeline's apply step.
func ApplyLiveControls(controls config.LiveControls, state *db.LiveState,
	baseRules []db.BandRule, baseReason string, baseDetails map[string]interface{}) ([]db.BandRule, string, map[string]interface{}) {

	details := copyDetails(baseDetails)

	if !controls.Enabled {
		details["live"] = map[string]interface{}{
			"enabled": false,
			"action":  LiveActionDisabled,
		}
		return baseRules, baseReason, details
	}

	var currentIter int
	var dayOrders int64
	if state != nil {
		currentIter = state.LiveIter
		dayOrders = state.DayOrdersCount
	}

	live := map[string]interface{}{
		"enabled":   true,
		"prev_iter": currentIter,
	}
	details["live"] = live

	if currentIter >= controls.MaxIterations {
		live["action"] = LiveActionStopMaxIter
		live["max_iterations"] = controls.MaxIterations
		details["live_iter"] = currentIter
		return baseRules, baseReason, details
	}

	// Warm-up guard: with no recorded orders and no iterations there is no
	// evidence to act on, so the controller holds the base rules rather than
	// escalating against absent data.
	if state == nil || (dayOrders == 0 && currentIter == 0) {
		live["action"] = LiveActionWarmup
		details["live_iter"] = currentIter
		return baseRules, baseReason, details
	}

	live["day_total_orders_so_far"] = dayOrders

	if controls.DailyOrderLimit != nil && dayOrders >= int64(*controls.DailyOrderLimit) {
		escalated := make([]db.BandRule, 0, len(baseRules))
		for _, r := range baseRules {
			escalated = append(escalated, db.BandRule{
				BandID: r.BandID,
				Porog:  round6(clamp(r.Porog+controls.Step, controls.MinPorogFloor, controls.MaxPorogCap)),
			})
		}
		live["action"] = LiveActionEscalate
		live["daily_order_limit"] = *controls.DailyOrderLimit
		live["step"] = controls.Step
		live["floor"] = controls.MinPorogFloor
		live["cap"] = controls.MaxPorogCap
		details["live_iter"] = currentIter + 1
		return escalated, ReasonLiveDailyLimit, details
	}

	live["action"] = LiveActionKeepBaseRules
	details["live_iter"] = currentIter
	return baseRules, baseReason, details
}

// LiveIterFromDetails extracts the iteration counter a policy recorded.
func LiveIterFromDetails(details map[string]interface{}) int {
	if details == nil {
		return 0
	}
	switch v := details["live_iter"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func copyDetails(src map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(src)+2)
	for k, v := range src {
		out[k] = v
	}
	return out
}
