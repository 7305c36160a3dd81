package db

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// TestStateKey identifies one band's sawtooth position. Supplier holds the
// shared state key, not an individual supplier code, so that multi-supplier
// profiles progress a single graph. DayDate is not part of the identity; it
// stamps the day of the transition that created or last moved the state.
type TestStateKey struct {
	ProfileName string
	City        string
	Supplier    string
	SegmentID   string
	BandID      string
	DayDate     time.Time
}

// GetOrCreateTestState returns the band's graph state, creating the initial
// row (threshold at the band minimum, walking upward) when none exists. A
// lost insert race re-reads the winner's row.
func GetOrCreateTestState(gdb *gorm.DB, key TestStateKey, lo, hi, step float64) (*TestState, error) {
	lookup := func() (*TestState, error) {
		var st TestState
		err := gdb.Where(
			"profile_name = ? AND city = ? AND supplier = ? AND segment_id = ? AND band_id = ?",
			key.ProfileName, key.City, key.Supplier, key.SegmentID, key.BandID,
		).First(&st).Error
		if err != nil {
			return nil, err
		}
		return &st, nil
	}

	st, err := lookup()
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("db.GetOrCreateTestState: lookup: %w", err)
	}

	fresh := TestState{
		ProfileName:  key.ProfileName,
		City:         key.City,
		Supplier:     key.Supplier,
		SegmentID:    key.SegmentID,
		BandID:       key.BandID,
		DayDate:      key.DayDate,
		CurrentPorog: lo,
		Step:         step,
		MinPorog:     lo,
		MaxPorog:     hi,
		Direction:    1,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := gdb.Create(&fresh).Error; err != nil {
		if st, lookupErr := lookup(); lookupErr == nil {
			return st, nil
		}
		return nil, fmt.Errorf("db.GetOrCreateTestState: insert: %w", err)
	}
	return &fresh, nil
}

// AdvanceTestState moves the band to its next graph position and stamps the
// day the transition happened on.
func AdvanceTestState(gdb *gorm.DB, st *TestState, nextPorog float64, nextDirection int, lo, hi, step float64, day time.Time) error {
	err := gdb.Model(st).Updates(map[string]interface{}{
		"current_porog": nextPorog,
		"direction":     nextDirection,
		"min_porog":     lo,
		"max_porog":     hi,
		"step":          step,
		"day_date":      day,
		"updated_at":    time.Now().UTC(),
	}).Error
	if err != nil {
		return fmt.Errorf("db.AdvanceTestState: %w", err)
	}
	return nil
}
