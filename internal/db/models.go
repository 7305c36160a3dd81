package db

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// BandRule is one entry of a policy's band -> threshold map, stored as JSON
// on the policy log row.
type BandRule struct {
	BandID string  `json:"band_id"`
	Porog  float64 `json:"porog"`
}

// PolicyLog is the unit of idempotent policy application. Identity is the
// content hash over the decisive fields (mode, config version, scope, segment
// window, rules, per-band minimums); reason, reason_details and the config
// snapshot are bookkeeping and may be refreshed on re-apply without creating
// a new row.
type PolicyLog struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Hash string `gorm:"uniqueIndex;size:64;not null"`

	Mode          string `gorm:"size:8;index:idx_policy_scope,priority:1;not null"`
	ConfigVersion int    `gorm:"not null"`
	City          string `gorm:"size:64;index:idx_policy_scope,priority:2;not null"`
	Supplier      string `gorm:"size:64;index:idx_policy_scope,priority:3;not null"`

	SegmentID    string    `gorm:"size:32;not null"`
	SegmentStart time.Time `gorm:"index;not null"`
	SegmentEnd   time.Time `gorm:"index;not null"`

	Rules          datatypes.JSON    `gorm:"type:json"` // []BandRule
	MinPorogByBand datatypes.JSON    `gorm:"type:json"` // map[band_id]min_porog
	Reason         string            `gorm:"size:64"`
	ReasonDetails  datatypes.JSONMap `gorm:"type:json"`

	// ConfigSnapshot freezes the whole balancer config at apply time. Order
	// facts are always priced against this snapshot, never the live config.
	ConfigSnapshot datatypes.JSON `gorm:"type:json"`

	IsApplied bool `gorm:"default:false"`
}

func (PolicyLog) TableName() string { return "balancer_policy_log" }

// DecodedRules unmarshals the stored band rules.
func (p *PolicyLog) DecodedRules() ([]BandRule, error) {
	var rules []BandRule
	if len(p.Rules) == 0 {
		return rules, nil
	}
	return rules, json.Unmarshal(p.Rules, &rules)
}

// DecodedMinPorog unmarshals the stored per-band minimum thresholds.
func (p *PolicyLog) DecodedMinPorog() (map[string]float64, error) {
	out := map[string]float64{}
	if len(p.MinPorogByBand) == 0 {
		return out, nil
	}
	return out, json.Unmarshal(p.MinPorogByBand, &out)
}

// DayDate is the calendar day the policy's segment belongs to (start day,
// so a midnight-crossing evening segment counts toward the day it opened).
func (p *PolicyLog) DayDate() time.Time {
	return DayOf(p.SegmentStart)
}

// OrderFact is an immutable per-order financial snapshot taken under one
// policy. Keyed by (policy_log_id, order_id); the first write wins and the
// row is never recomputed.
type OrderFact struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time

	PolicyLogID uint   `gorm:"uniqueIndex:idx_fact_unique,priority:1;not null"`
	OrderID     string `gorm:"uniqueIndex:idx_fact_unique,priority:2;size:64;not null"`

	ProfileName string `gorm:"size:128"`
	Mode        string `gorm:"size:8;not null"`
	City        string `gorm:"size:64;not null"`
	Supplier    string `gorm:"size:64;not null"`

	SegmentID    string    `gorm:"size:32;not null"`
	SegmentStart time.Time `gorm:"not null"`
	SegmentEnd   time.Time `gorm:"index;not null"`

	OrderNumber     string `gorm:"size:64"`
	StatusID        int
	CreatedAtSource *time.Time

	BandID       string `gorm:"size:32;not null"`
	BandMinPrice float64
	BandMaxPrice *float64

	SaleSum      float64 `gorm:"not null"`
	CostSum      float64 `gorm:"not null"`
	Profit       float64 `gorm:"not null"`
	PorogUsed    float64 `gorm:"not null"`
	MinPorog     float64 `gorm:"not null"`
	MinProfit    float64 `gorm:"not null"`
	ExcessProfit float64 `gorm:"not null"`

	Raw datatypes.JSON `gorm:"type:json"`
}

func (OrderFact) TableName() string { return "balancer_order_facts" }

// SegmentStat aggregates the order facts of one (policy, band). Created by
// the aggregation step; day_total_orders and segment_share are filled in by
// the day-metrics step once the day's sibling segments are known.
type SegmentStat struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	PolicyLogID uint   `gorm:"uniqueIndex:idx_stat_unique,priority:1;not null"`
	BandID      string `gorm:"uniqueIndex:idx_stat_unique,priority:2;size:32;not null"`

	ProfileName string `gorm:"size:128"`
	Mode        string `gorm:"size:8;index:idx_stat_scope,priority:1;not null"`
	City        string `gorm:"size:64;index:idx_stat_scope,priority:2;not null"`
	Supplier    string `gorm:"size:64;index:idx_stat_scope,priority:3;not null"`

	SegmentID    string    `gorm:"size:32;index;not null"`
	SegmentStart time.Time `gorm:"not null"`
	SegmentEnd   time.Time `gorm:"index;not null"`

	BandMinPrice float64
	BandMaxPrice *float64
	PorogUsed    float64 `gorm:"not null"`
	MinPorog     float64 `gorm:"not null"`

	OrdersCount          int64   `gorm:"not null"`
	SaleSum              float64 `gorm:"not null"`
	CostSum              float64 `gorm:"not null"`
	ProfitSum            float64 `gorm:"not null"`
	MinProfitSum         float64 `gorm:"not null"`
	ExcessProfitSum      float64 `gorm:"not null"`
	ExcessProfitPerOrder *float64

	// DayDate is the calendar day of the segment start (UTC midnight of the
	// civil day), used by the lookback window of the best-threshold selector.
	DayDate time.Time `gorm:"index;not null"`

	DayTotalOrders *int64
	SegmentShare   *float64 // this segment's share of the day's orders, 6 decimals

	// OrdersSampleOK is true iff orders_count reached the profile's
	// min_orders_per_segment; only such rows feed best-threshold selection.
	OrdersSampleOK bool `gorm:"not null;default:false"`

	Note *string
}

func (SegmentStat) TableName() string { return "balancer_segment_stats" }

// LiveState is the per (mode, supplier, day) mutable state of the adaptive
// LIVE controller. All mutations are atomic insert-or-update statements with
// server-side merge expressions; application code never read-modifies-writes.
type LiveState struct {
	ID uint `gorm:"primaryKey"`

	UpdatedAt time.Time

	Mode     string    `gorm:"uniqueIndex:idx_live_state_unique,priority:1;size:8;not null"`
	Supplier string    `gorm:"uniqueIndex:idx_live_state_unique,priority:2;size:64;not null"`
	DayDate  time.Time `gorm:"uniqueIndex:idx_live_state_unique,priority:3;not null"`

	LiveIter        int   `gorm:"not null;default:0"`
	DayOrdersCount  int64 `gorm:"not null;default:0"`
	IsLimitReached  bool  `gorm:"not null;default:false"`
	LastPolicyLogID *uint

	BaselineMetric *float64
	BestMetric     *float64
	BestIter       *int
	BestRules      datatypes.JSON `gorm:"type:json"`
	StopReason     *string        `gorm:"size:64"`
	IsFrozen       bool           `gorm:"not null;default:false"`

	// LastRunKey is the idempotency marker claimed by TryMarkRunKey; it
	// skips the day-metric bookkeeping when overlapping scheduler fires
	// replay the same boundary.
	LastRunKey *string `gorm:"size:64"`
}

func (LiveState) TableName() string { return "balancer_live_state" }

// TestState is one band's position on the TEST sawtooth graph. Keyed by the
// shared supplier state key so that multi-supplier profiles progress a single
// graph; the graph persists across days, DayDate only records the last
// transition that moved it.
type TestState struct {
	ID uint `gorm:"primaryKey"`

	UpdatedAt time.Time

	ProfileName string `gorm:"uniqueIndex:idx_test_state_unique,priority:1;size:128;not null"`
	City        string `gorm:"uniqueIndex:idx_test_state_unique,priority:2;size:64;not null"`
	Supplier    string `gorm:"uniqueIndex:idx_test_state_unique,priority:3;size:128;not null"`
	SegmentID   string `gorm:"uniqueIndex:idx_test_state_unique,priority:4;size:32;not null"`
	BandID      string `gorm:"uniqueIndex:idx_test_state_unique,priority:5;size:32;not null"`

	DayDate time.Time `gorm:"index;not null"`

	CurrentPorog float64 `gorm:"not null"`
	Step         float64 `gorm:"not null"`
	MinPorog     float64 `gorm:"not null"`
	MaxPorog     float64 `gorm:"not null"`
	Direction    int     `gorm:"not null;default:1"`
}

func (TestState) TableName() string { return "balancer_test_state" }
