package db

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// RetentionReport counts what one cleanup pass removed.
type RetentionReport struct {
	OrderFacts   int64
	SegmentStats int64
	PolicyLogs   int64
	TestStates   int64
	LiveStates   int64
}

// RunRetentionOnce performs a single pass of retention cleanup, deleting
// policy logs, order facts and segment stats whose segment_end predates the
// cutoff, plus graph/live state older than the cutoff day. Dependent rows
// carry the same segment_end as their policy, so the three deletes stay
// consistent without foreign keys.
func RunRetentionOnce(gdb *gorm.DB, cutoff time.Time) (RetentionReport, error) {
	var rep RetentionReport
	cutoff = cutoff.UTC()
	cutoffDay := DayOf(cutoff)

	res := gdb.Where("segment_end < ?", cutoff).Delete(&OrderFact{})
	if res.Error != nil {
		return rep, fmt.Errorf("db.RunRetentionOnce: order facts: %w", res.Error)
	}
	rep.OrderFacts = res.RowsAffected

	res = gdb.Where("segment_end < ?", cutoff).Delete(&SegmentStat{})
	if res.Error != nil {
		return rep, fmt.Errorf("db.RunRetentionOnce: segment stats: %w", res.Error)
	}
	rep.SegmentStats = res.RowsAffected

	res = gdb.Where("segment_end < ?", cutoff).Delete(&PolicyLog{})
	if res.Error != nil {
		return rep, fmt.Errorf("db.RunRetentionOnce: policy logs: %w", res.Error)
	}
	rep.PolicyLogs = res.RowsAffected

	res = gdb.Where("day_date < ?", cutoffDay).Delete(&TestState{})
	if res.Error != nil {
		return rep, fmt.Errorf("db.RunRetentionOnce: test states: %w", res.Error)
	}
	rep.TestStates = res.RowsAffected

	res = gdb.Where("day_date < ?", cutoffDay).Delete(&LiveState{})
	if res.Error != nil {
		return rep, fmt.Errorf("db.RunRetentionOnce: live states: %w", res.Error)
	}
	rep.LiveStates = res.RowsAffected

	return rep, nil
}

// Total is the number of rows removed across all tables.
func (r RetentionReport) Total() int64 {
	return r.OrderFacts + r.SegmentStats + r.PolicyLogs + r.TestStates + r.LiveStates
}
