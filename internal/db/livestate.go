package db

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// The live-state table is mutated exclusively through the insert-or-update
// statements below. Merge arithmetic happens server-side (referencing the
// existing row and the excluded pseudo-row), so overlapping pipeline
// invocations converge to the same state regardless of ordering. Application
// code never reads, modifies and writes back.

var liveStateKey = []clause.Column{
	{Name: "mode"}, {Name: "supplier"}, {Name: "day_date"},
}

// GetLiveState returns the state row for (mode, supplier, day), or nil when
// the controller has not warmed up yet.
func GetLiveState(gdb *gorm.DB, mode, supplier string, day time.Time) (*LiveState, error) {
	var st LiveState
	err := gdb.Where("mode = ? AND supplier = ? AND day_date = ?", mode, supplier, day).First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db.GetLiveState: %w", err)
	}
	return &st, nil
}

// SetDayOrders folds the recomputed day order total into day_orders_count,
// keeping the maximum of the stored and incoming values. The total is always
// recomputed from first-write-wins facts, so it only grows; the max merge
// makes overlapping invocations converge to the true count instead of each
// adding its own view of it.
func SetDayOrders(gdb *gorm.DB, mode, supplier string, day time.Time, total int64, lastPolicyLogID *uint) error {
	row := LiveState{
		Mode:            mode,
		Supplier:        supplier,
		DayDate:         day,
		DayOrdersCount:  total,
		LastPolicyLogID: lastPolicyLogID,
		UpdatedAt:       time.Now().UTC(),
	}
	err := gdb.Clauses(clause.OnConflict{
		Columns: liveStateKey,
		DoUpdates: clause.Assignments(map[string]interface{}{
			"day_orders_count": gorm.Expr(
				"CASE WHEN excluded.day_orders_count > balancer_live_state.day_orders_count THEN excluded.day_orders_count ELSE balancer_live_state.day_orders_count END"),
			"last_policy_log_id": gorm.Expr("COALESCE(excluded.last_policy_log_id, balancer_live_state.last_policy_log_id)"),
			"updated_at":         gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("db.SetDayOrders: %w", err)
	}
	return nil
}

// MarkLimitReached latches is_limit_reached for the day.
func MarkLimitReached(gdb *gorm.DB, mode, supplier string, day time.Time) error {
	row := LiveState{
		Mode:           mode,
		Supplier:       supplier,
		DayDate:        day,
		IsLimitReached: true,
		UpdatedAt:      time.Now().UTC(),
	}
	err := gdb.Clauses(clause.OnConflict{
		Columns: liveStateKey,
		DoUpdates: clause.Assignments(map[string]interface{}{
			"is_limit_reached": true,
			"updated_at":       gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("db.MarkLimitReached: %w", err)
	}
	return nil
}

// RecordEscalation bumps live_iter to iter (monotonic: an older replay can
// never lower it) and remembers the policy row that carried the escalation.
func RecordEscalation(gdb *gorm.DB, mode, supplier string, day time.Time, iter int, policyLogID uint) error {
	row := LiveState{
		Mode:            mode,
		Supplier:        supplier,
		DayDate:         day,
		LiveIter:        iter,
		LastPolicyLogID: &policyLogID,
		UpdatedAt:       time.Now().UTC(),
	}
	err := gdb.Clauses(clause.OnConflict{
		Columns: liveStateKey,
		DoUpdates: clause.Assignments(map[string]interface{}{
			"live_iter": gorm.Expr(
				"CASE WHEN balancer_live_state.live_iter >= excluded.live_iter THEN balancer_live_state.live_iter ELSE excluded.live_iter END"),
			"last_policy_log_id": gorm.Expr("excluded.last_policy_log_id"),
			"updated_at":         gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("db.RecordEscalation: %w", err)
	}
	return nil
}

// ObserveDayMetric folds a day-level outcome metric into the state: the first
// observation becomes the baseline, and best_metric/best_iter/best_rules
// track the maximum seen so far. All comparisons run server-side.
func ObserveDayMetric(gdb *gorm.DB, mode, supplier string, day time.Time, metric float64, iter int, rules datatypes.JSON) error {
	row := LiveState{
		Mode:           mode,
		Supplier:       supplier,
		DayDate:        day,
		BaselineMetric: &metric,
		BestMetric:     &metric,
		BestIter:       &iter,
		BestRules:      rules,
		UpdatedAt:      time.Now().UTC(),
	}
	betterThan := "(balancer_live_state.best_metric IS NULL OR excluded.best_metric > balancer_live_state.best_metric)"
	err := gdb.Clauses(clause.OnConflict{
		Columns: liveStateKey,
		DoUpdates: clause.Assignments(map[string]interface{}{
			"baseline_metric": gorm.Expr("COALESCE(balancer_live_state.baseline_metric, excluded.baseline_metric)"),
			"best_metric": gorm.Expr(
				"CASE WHEN " + betterThan + " THEN excluded.best_metric ELSE balancer_live_state.best_metric END"),
			"best_iter": gorm.Expr(
				"CASE WHEN " + betterThan + " THEN excluded.best_iter ELSE balancer_live_state.best_iter END"),
			"best_rules": gorm.Expr(
				"CASE WHEN " + betterThan + " THEN excluded.best_rules ELSE balancer_live_state.best_rules END"),
			"updated_at": gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("db.ObserveDayMetric: %w", err)
	}
	return nil
}

// FreezeLiveState records why the controller stopped for the day.
func FreezeLiveState(gdb *gorm.DB, mode, supplier string, day time.Time, stopReason string) error {
	row := LiveState{
		Mode:       mode,
		Supplier:   supplier,
		DayDate:    day,
		IsFrozen:   true,
		StopReason: &stopReason,
		UpdatedAt:  time.Now().UTC(),
	}
	err := gdb.Clauses(clause.OnConflict{
		Columns: liveStateKey,
		DoUpdates: clause.Assignments(map[string]interface{}{
			"is_frozen":   true,
			"stop_reason": gorm.Expr("COALESCE(balancer_live_state.stop_reason, excluded.stop_reason)"),
			"updated_at":  gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("db.FreezeLiveState: %w", err)
	}
	return nil
}

// TryMarkRunKey atomically claims runKey for (mode, supplier, day). It
// returns true when this invocation won the claim and false when another
// invocation already processed the same run key. Callers use the false case
// to skip the day-metric bookkeeping of overlapping scheduler fires.
func TryMarkRunKey(gdb *gorm.DB, mode, supplier string, day time.Time, runKey string) (bool, error) {
	row := LiveState{
		Mode:       mode,
		Supplier:   supplier,
		DayDate:    day,
		LastRunKey: &runKey,
		UpdatedAt:  time.Now().UTC(),
	}
	res := gdb.Clauses(clause.OnConflict{
		Columns: liveStateKey,
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_run_key": gorm.Expr("excluded.last_run_key"),
			"updated_at":   gorm.Expr("excluded.updated_at"),
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			gorm.Expr("balancer_live_state.last_run_key IS NULL OR balancer_live_state.last_run_key <> excluded.last_run_key"),
		}},
	}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("db.TryMarkRunKey: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}
