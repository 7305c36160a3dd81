package db

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// UpsertSegmentStat writes or refreshes the aggregate row for one
// (policy, band). Aggregation owns every field it sets here; the day-metrics
// fields (day_total_orders, segment_share) are written separately once the
// day's siblings are known.
func UpsertSegmentStat(gdb *gorm.DB, stat *SegmentStat) error {
	updates := map[string]interface{}{
		"profile_name":            stat.ProfileName,
		"mode":                    stat.Mode,
		"city":                    stat.City,
		"supplier":                stat.Supplier,
		"segment_id":              stat.SegmentID,
		"segment_start":           stat.SegmentStart,
		"segment_end":             stat.SegmentEnd,
		"band_min_price":          stat.BandMinPrice,
		"band_max_price":          stat.BandMaxPrice,
		"porog_used":              stat.PorogUsed,
		"min_porog":               stat.MinPorog,
		"orders_count":            stat.OrdersCount,
		"sale_sum":                stat.SaleSum,
		"cost_sum":                stat.CostSum,
		"profit_sum":              stat.ProfitSum,
		"min_profit_sum":          stat.MinProfitSum,
		"excess_profit_sum":       stat.ExcessProfitSum,
		"excess_profit_per_order": stat.ExcessProfitPerOrder,
		"day_date":                stat.DayDate,
		"orders_sample_ok":        stat.OrdersSampleOK,
	}

	var existing SegmentStat
	err := gdb.Where("policy_log_id = ? AND band_id = ?", stat.PolicyLogID, stat.BandID).First(&existing).Error
	switch {
	case err == nil:
		if err := gdb.Model(&existing).Updates(updates).Error; err != nil {
			return fmt.Errorf("db.UpsertSegmentStat: refresh: %w", err)
		}
		stat.ID = existing.ID
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return fmt.Errorf("db.UpsertSegmentStat: lookup: %w", err)
	}

	if err := gdb.Create(stat).Error; err != nil {
		// Insert race on (policy_log_id, band_id): the row exists now, refresh it.
		var raced SegmentStat
		if lookupErr := gdb.Where("policy_log_id = ? AND band_id = ?", stat.PolicyLogID, stat.BandID).
			First(&raced).Error; lookupErr == nil {
			if err := gdb.Model(&raced).Updates(updates).Error; err != nil {
				return fmt.Errorf("db.UpsertSegmentStat: refresh after race: %w", err)
			}
			stat.ID = raced.ID
			return nil
		}
		return fmt.Errorf("db.UpsertSegmentStat: insert: %w", err)
	}
	return nil
}

// StatsForPolicy returns all band rows of one policy.
func StatsForPolicy(gdb *gorm.DB, policyLogID uint) ([]SegmentStat, error) {
	var rows []SegmentStat
	if err := gdb.Where("policy_log_id = ?", policyLogID).Order("band_id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("db.StatsForPolicy: %w", err)
	}
	return rows, nil
}

// StatsForDayScope returns every stats row of one civil day for a
// (mode, city, supplier) unit, across all its segments.
func StatsForDayScope(gdb *gorm.DB, mode, city, supplier string, day time.Time) ([]SegmentStat, error) {
	var rows []SegmentStat
	if err := gdb.
		Where("mode = ? AND city = ? AND supplier = ? AND day_date = ?", mode, city, supplier, day).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("db.StatsForDayScope: %w", err)
	}
	return rows, nil
}

// DayTotalOrders reports how many orders the (mode, city, supplier) unit has
// accumulated on the given day. Prefers the day_total_orders written by the
// day-metrics step; falls back to summing orders_count when metrics have not
// run yet.
func DayTotalOrders(gdb *gorm.DB, mode, city, supplier string, day time.Time) (int64, error) {
	rows, err := StatsForDayScope(gdb, mode, city, supplier, day)
	if err != nil {
		return 0, err
	}

	var best int64
	var haveTotal bool
	for _, r := range rows {
		if r.DayTotalOrders != nil {
			haveTotal = true
			if *r.DayTotalOrders > best {
				best = *r.DayTotalOrders
			}
		}
	}
	if haveTotal {
		return best, nil
	}

	var sum int64
	for _, r := range rows {
		sum += r.OrdersCount
	}
	return sum, nil
}

// UpdateDayMetrics writes day_total_orders and segment_share back onto every
// band row of one (policy, segment). Returns the number of rows touched.
func UpdateDayMetrics(gdb *gorm.DB, policyLogID uint, segmentID string, dayTotal int64, share *float64) (int64, error) {
	res := gdb.Model(&SegmentStat{}).
		Where("policy_log_id = ? AND segment_id = ?", policyLogID, segmentID).
		Updates(map[string]interface{}{
			"day_total_orders": dayTotal,
			"segment_share":    share,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("db.UpdateDayMetrics: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// BestRow is one band's winning historical threshold.
type BestRow struct {
	BandID          string
	Porog           float64
	ExcessProfitSum float64
	DayDate         time.Time
	Mode            string
	PolicyLogID     uint
}

// BestQuery scopes a best-threshold lookup. The lookback window is
// [Day-LookbackDays, Day), so passing day+1 makes same-day stats visible.
type BestQuery struct {
	Mode         string
	SegmentID    string
	Day          time.Time
	LookbackDays int

	// City/Supplier scope the lookup to one unit. Leave empty (with Global
	// true) for the mode-wide candidate set.
	City     string
	Supplier string
	Global   bool
}

// BestPorogByBand selects, per band, the historical stats row with the
// maximum excess_profit_sum among rows whose sample was large enough.
// Equal sums resolve to the most recent day_date, then the newer row.
func BestPorogByBand(gdb *gorm.DB, q BestQuery) (map[string]BestRow, error) {
	if q.LookbackDays <= 0 {
		q.LookbackDays = 30
	}
	from := q.Day.AddDate(0, 0, -q.LookbackDays)

	query := gdb.
		Where("mode = ? AND segment_id = ? AND orders_sample_ok = ?", q.Mode, q.SegmentID, true).
		Where("day_date >= ? AND day_date < ?", from, q.Day)
	if !q.Global {
		query = query.Where("city = ? AND supplier = ?", q.City, q.Supplier)
	}

	var rows []SegmentStat
	if err := query.Order("day_date DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("db.BestPorogByBand: %w", err)
	}

	best := map[string]BestRow{}
	for _, r := range rows {
		cur, ok := best[r.BandID]
		// Rows arrive newest first, so a strict > keeps the most recent
		// winner on equal excess_profit_sum.
		if !ok || r.ExcessProfitSum > cur.ExcessProfitSum {
			best[r.BandID] = BestRow{
				BandID:          r.BandID,
				Porog:           r.PorogUsed,
				ExcessProfitSum: r.ExcessProfitSum,
				DayDate:         r.DayDate,
				Mode:            r.Mode,
				PolicyLogID:     r.PolicyLogID,
			}
		}
	}
	return best, nil
}

// CombineGlobalBest merges the TEST-global and LIVE-global candidate maps,
// taking per band whichever has the higher excess_profit_sum. LIVE wins an
// exact tie.
func CombineGlobalBest(testBest, liveBest map[string]BestRow) map[string]BestRow {
	out := map[string]BestRow{}
	for band, row := range testBest {
		out[band] = row
	}
	for band, row := range liveBest {
		if cur, ok := out[band]; !ok || row.ExcessProfitSum >= cur.ExcessProfitSum {
			out[band] = row
		}
	}
	return out
}
