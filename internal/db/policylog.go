package db

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
)

// hashPayload is the decisive subset of a policy that defines its identity.
// Reason, reason_details and the config snapshot are deliberately excluded:
// re-running the same segment with refined bookkeeping must not create a
// duplicate row.
type hashPayload struct {
	Mode           string             `json:"mode"`
	ConfigVersion  int                `json:"config_version"`
	City           string             `json:"city"`
	Supplier       string             `json:"supplier"`
	SegmentID      string             `json:"segment_id"`
	SegmentStart   string             `json:"segment_start"`
	SegmentEnd     string             `json:"segment_end"`
	Rules          []BandRule         `json:"rules"`
	MinPorogByBand map[string]float64 `json:"min_porog_by_band"`
}

// ComputePolicyHash returns the stable content digest identifying one policy
// application. Rules are normalized to band order; map keys are sorted by the
// JSON encoder, so equal inputs always hash equal.
func ComputePolicyHash(mode string, configVersion int, city, supplier, segmentID string,
	segmentStart, segmentEnd time.Time, rules []BandRule, minPorog map[string]float64) string {

	sorted := append([]BandRule(nil), rules...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].BandID < sorted[j].BandID })

	payload := hashPayload{
		Mode:           mode,
		ConfigVersion:  configVersion,
		City:           city,
		Supplier:       supplier,
		SegmentID:      segmentID,
		SegmentStart:   segmentStart.UTC().Format(time.RFC3339),
		SegmentEnd:     segmentEnd.UTC().Format(time.RFC3339),
		Rules:          sorted,
		MinPorogByBand: minPorog,
	}
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// UpsertPolicyLog applies a policy record idempotently. If a row with the
// same hash exists, its mutable fields (rules, reason, reason details,
// snapshot, applied flag) are refreshed in place and created=false is
// returned. Concurrent identical applies are resolved by the unique index on
// hash: the loser of the race re-reads and refreshes.
func UpsertPolicyLog(gdb *gorm.DB, rec *PolicyLog) (created bool, err error) {
	if rec.Hash == "" {
		return false, errors.New("db.UpsertPolicyLog: hash is required")
	}

	var existing PolicyLog
	err = gdb.Where("hash = ?", rec.Hash).First(&existing).Error
	switch {
	case err == nil:
		if err := refreshPolicyLog(gdb, &existing, rec); err != nil {
			return false, err
		}
		*rec = existing
		return false, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		// fall through to insert
	default:
		return false, fmt.Errorf("db.UpsertPolicyLog: lookup: %w", err)
	}

	if err := gdb.Create(rec).Error; err != nil {
		// Lost an insert race on the hash unique index: re-read and refresh.
		var raced PolicyLog
		if lookupErr := gdb.Where("hash = ?", rec.Hash).First(&raced).Error; lookupErr == nil {
			if err := refreshPolicyLog(gdb, &raced, rec); err != nil {
				return false, err
			}
			*rec = raced
			return false, nil
		}
		return false, fmt.Errorf("db.UpsertPolicyLog: insert: %w", err)
	}
	return true, nil
}

func refreshPolicyLog(gdb *gorm.DB, existing, rec *PolicyLog) error {
	updates := map[string]interface{}{
		"rules":             rec.Rules,
		"min_porog_by_band": rec.MinPorogByBand,
		"reason":            rec.Reason,
		"reason_details":    rec.ReasonDetails,
		"config_snapshot":   rec.ConfigSnapshot,
		"is_applied":        rec.IsApplied,
	}
	if err := gdb.Model(existing).Updates(updates).Error; err != nil {
		return fmt.Errorf("db.UpsertPolicyLog: refresh: %w", err)
	}
	existing.Rules = rec.Rules
	existing.MinPorogByBand = rec.MinPorogByBand
	existing.Reason = rec.Reason
	existing.ReasonDetails = rec.ReasonDetails
	existing.ConfigSnapshot = rec.ConfigSnapshot
	existing.IsApplied = rec.IsApplied
	return nil
}

// PolicyForWindow returns the newest applied policy covering exactly the
// given segment window for one unit, or nil. Used to recognize a segment
// that has already been applied, whatever its rules now say.
func PolicyForWindow(gdb *gorm.DB, mode, city, supplier, segmentID string, start, end time.Time) (*PolicyLog, error) {
	var rec PolicyLog
	err := gdb.
		Where("mode = ? AND city = ? AND supplier = ? AND segment_id = ? AND is_applied = ?",
			mode, city, supplier, segmentID, true).
		Where("segment_start = ? AND segment_end = ?", start.UTC(), end.UTC()).
		Order("id DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db.PolicyForWindow: %w", err)
	}
	return &rec, nil
}

// ActivePolicy returns the single applied policy whose segment window
// contains asOf, or nil when none does. The newest row wins if re-applies
// left siblings behind.
func ActivePolicy(gdb *gorm.DB, mode, supplier, city string, asOf time.Time) (*PolicyLog, error) {
	var rec PolicyLog
	err := gdb.
		Where("mode = ? AND supplier = ? AND city = ? AND is_applied = ?", mode, supplier, city, true).
		Where("segment_start <= ? AND segment_end > ?", asOf, asOf).
		Order("id DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db.ActivePolicy: %w", err)
	}
	return &rec, nil
}

// LastAppliedPolicies returns the most recent applied policy per
// (city, supplier) for the given mode.
func LastAppliedPolicies(gdb *gorm.DB, mode string) ([]PolicyLog, error) {
	var rows []PolicyLog
	if err := gdb.
		Where("mode = ? AND is_applied = ?", mode, true).
		Order("id DESC").
		Limit(500).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("db.LastAppliedPolicies: %w", err)
	}

	seen := map[string]bool{}
	var out []PolicyLog
	for _, r := range rows {
		key := r.City + "\x00" + r.Supplier
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out, nil
}

// PoliciesEndingAt returns the applied policies whose segment window closed
// exactly at end. Used by boundary-close invocations to scope collection to
// the sealed segment.
func PoliciesEndingAt(gdb *gorm.DB, mode string, end time.Time) ([]PolicyLog, error) {
	var rows []PolicyLog
	if err := gdb.
		Where("mode = ? AND is_applied = ? AND segment_end = ?", mode, true, end.UTC()).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("db.PoliciesEndingAt: %w", err)
	}
	return rows, nil
}

// RecentPolicies lists the newest policy rows for the API, optionally
// filtered by mode.
func RecentPolicies(gdb *gorm.DB, mode string, limit int) ([]PolicyLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := gdb.Order("id DESC").Limit(limit)
	if mode != "" {
		q = q.Where("mode = ?", mode)
	}
	var rows []PolicyLog
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("db.RecentPolicies: %w", err)
	}
	return rows, nil
}
