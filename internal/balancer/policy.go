package balancer

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gorm.io/gorm"

	"pricebalancer/internal/config"
	"pricebalancer/internal/db"
)

// Top-level policy reasons.
const (
	ReasonSchedule         = "schedule"
	ReasonBest30d          = "best_30d"
	ReasonFallbackMinPorog = "fallback_min_porog"
	ReasonLiveDailyLimit   = "live_daily_limit"
)

// Per-band provenance values recorded in reason_details.band_sources.
const (
	BandSourceBestLive = "best_30d_live"
	BandSourceSeedTest = "seed_best_30d_test"
	BandSourceFallback = "fallback_min_porog"
)

// PolicyPayload is the engine's output for one (city, supplier, segment):
// the band -> threshold rules plus the justification that ends up on the
// policy log row.
type PolicyPayload struct {
	Rules          []db.BandRule
	MinPorogByBand map[string]float64
	Reason         string
	ReasonDetails  map[string]interface{}
}

// BuildTestPolicy evaluates the TEST sawtooth graph for every band and
// returns the thresholds currently on the graph. It never mutates graph
// state, so dry runs and re-invocations are side-effect free; the pipeline
// calls AdvanceTestGraph separately once it knows a genuinely new segment
// record was created.
func BuildTestPolicy(gdb *gorm.DB, profile *config.Profile, city, supplier, segmentID string, day time.Time) (*PolicyPayload, error) {
	if profile.TestSchedule == nil {
		return nil, fmt.Errorf("balancer.BuildTestPolicy: profile %s has no test_schedule", profile.Name)
	}

	stateKey := profile.StateKey(supplier)
	step := profile.TestSchedule.Step

	rules := make([]db.BandRule, 0, len(profile.PriceBands))
	for _, bandID := range sortedBandIDs(profile.MinPorogByBand) {
		lo := profile.MinPorogByBand[bandID]
		hi := profile.MaxPorogForBand(bandID)

		st, err := db.GetOrCreateTestState(gdb, db.TestStateKey{
			ProfileName: profile.Name,
			City:        city,
			Supplier:    stateKey,
			SegmentID:   segmentID,
			BandID:      bandID,
			DayDate:     day,
		}, lo, hi, step)
		if err != nil {
			return nil, err
		}

		porog := clamp(st.CurrentPorog, lo, hi)
		rules = append(rules, db.BandRule{BandID: bandID, Porog: round6(porog)})
	}

	return &PolicyPayload{
		Rules:          rules,
		MinPorogByBand: copyFloatMap(profile.MinPorogByBand),
		Reason:         ReasonSchedule,
		ReasonDetails: map[string]interface{}{
			"schedule":           "test_schedule",
			"step":               step,
			"day_date":           day.Format("2006-01-02"),
			"supplier_state_key": stateKey,
			"leader_supplier":    profile.LeaderSupplier(),
			"advance_state":      false,
		},
	}, nil
}

// AdvanceTestGraph moves every band of the shared TEST graph one step along
// its sawtooth (min -> max -> min). Called exactly once per real segment
// transition: only after a policy log row was newly created, and only by the
// scope's leader supplier.
func AdvanceTestGraph(gdb *gorm.DB, profile *config.Profile, city, supplier, segmentID string, day time.Time) error {
	if profile.TestSchedule == nil {
		return fmt.Errorf("balancer.AdvanceTestGraph: profile %s has no test_schedule", profile.Name)
	}

	stateKey := profile.StateKey(supplier)
	step := profile.TestSchedule.Step

	for _, bandID := range sortedBandIDs(profile.MinPorogByBand) {
		lo := profile.MinPorogByBand[bandID]
		hi := profile.MaxPorogForBand(bandID)

		st, err := db.GetOrCreateTestState(gdb, db.TestStateKey{
			ProfileName: profile.Name,
			City:        city,
			Supplier:    stateKey,
			SegmentID:   segmentID,
			BandID:      bandID,
			DayDate:     day,
		}, lo, hi, step)
		if err != nil {
			return err
		}

		current := clamp(st.CurrentPorog, lo, hi)
		next, dir := nextPorog(current, step, lo, hi, st.Direction)
		if err := db.AdvanceTestState(gdb, st, round6(next), dir, lo, hi, step, day); err != nil {
			return err
		}
	}
	return nil
}

// nextPorog walks the sawtooth: step in the current direction, reversing at
// either edge. The candidate is rounded before the edge comparisons so that
// float error in the subtraction (0.15 - 0.05 = 0.0999...) cannot trigger
// the reversal a step early and skip the band minimum.
func nextPorog(current, step, lo, hi float64, direction int) (float64, int) {
	next := round6(current + float64(direction)*step)
	if next > hi {
		return clamp(round6(hi-step), lo, hi), -1
	}
	if next < lo {
		return clamp(round6(lo+step), lo, hi), 1
	}
	return next, direction
}

// BuildLivePolicy selects per band the historical best threshold: LIVE
// best_30d first, TEST best_30d as a seed when LIVE has no sample, and the
// profile minimum as the last resort. The lookup runs "as of" day+1 so that
// stats computed earlier the same day are already visible. The top-level
// reason is derived from the per-band provenance map: fallback only when
// every band fell back.
func BuildLivePolicy(gdb *gorm.DB, profile *config.Profile, city, supplier, segmentID string, day time.Time) (*PolicyPayload, error) {
	stateKey := profile.StateKey(supplier)
	asOf := day.AddDate(0, 0, 1)

	liveBest, err := db.BestPorogByBand(gdb, db.BestQuery{
		Mode: config.ModeLive, City: city, Supplier: stateKey,
		SegmentID: segmentID, Day: asOf, LookbackDays: 30,
	})
	if err != nil {
		return nil, err
	}
	testSeed, err := db.BestPorogByBand(gdb, db.BestQuery{
		Mode: config.ModeTest, City: city, Supplier: stateKey,
		SegmentID: segmentID, Day: asOf, LookbackDays: 30,
	})
	if err != nil {
		return nil, err
	}

	rules := make([]db.BandRule, 0, len(profile.PriceBands))
	bandSources := map[string]string{}

	for _, bandID := range sortedBandIDs(profile.MinPorogByBand) {
		minPorog := profile.MinPorogByBand[bandID]

		var porog float64
		switch {
		case hasBand(liveBest, bandID):
			porog = liveBest[bandID].Porog
			bandSources[bandID] = BandSourceBestLive
		case hasBand(testSeed, bandID):
			porog = testSeed[bandID].Porog
			bandSources[bandID] = BandSourceSeedTest
		default:
			porog = minPorog
			bandSources[bandID] = BandSourceFallback
		}

		porog = clamp(porog, minPorog, profile.MaxPorogForBand(bandID))
		rules = append(rules, db.BandRule{BandID: bandID, Porog: round6(porog)})
	}

	return &PolicyPayload{
		Rules:          rules,
		MinPorogByBand: copyFloatMap(profile.MinPorogByBand),
		Reason:         NormalizeReason(bandSources),
		ReasonDetails: map[string]interface{}{
			"source":             "segment_stats_live_then_test_seed",
			"day_date":           day.Format("2006-01-02"),
			"band_sources":       bandSources,
			"supplier_state_key": stateKey,
		},
	}, nil
}

// NormalizeReason derives the top-level reason from per-band provenance: if
// every band used the minimum-threshold fallback, the policy as a whole is a
// fallback; any historical hit makes it best_30d. Keeping this derivation in
// one place keeps reason and reason_details.band_sources consistent.
func NormalizeReason(bandSources map[string]string) string {
	if len(bandSources) == 0 {
		return ReasonFallbackMinPorog
	}
	for _, src := range bandSources {
		if src != BandSourceFallback {
			return ReasonBest30d
		}
	}
	return ReasonFallbackMinPorog
}

// BestGlobal returns the mode-wide best thresholds for a segment, combining
// TEST-global and LIVE-global candidates per band (higher excess profit
// wins; LIVE wins a tie). Read-only; used for before/after diagnostics.
func BestGlobal(gdb *gorm.DB, segmentID string, day time.Time) (map[string]db.BestRow, error) {
	testBest, err := db.BestPorogByBand(gdb, db.BestQuery{
		Mode: config.ModeTest, SegmentID: segmentID, Day: day, LookbackDays: 30, Global: true,
	})
	if err != nil {
		return nil, err
	}
	liveBest, err := db.BestPorogByBand(gdb, db.BestQuery{
		Mode: config.ModeLive, SegmentID: segmentID, Day: day, LookbackDays: 30, Global: true,
	})
	if err != nil {
		return nil, err
	}
	return db.CombineGlobalBest(testBest, liveBest), nil
}

func hasBand(m map[string]db.BestRow, bandID string) bool {
	_, ok := m[bandID]
	return ok
}

func sortedBandIDs(m map[string]float64) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func copyFloatMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
