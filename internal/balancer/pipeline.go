package balancer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"pricebalancer/internal/config"
	"pricebalancer/internal/db"
	"pricebalancer/internal/notify"
	"pricebalancer/internal/orders"
)

// Run triggers, recorded on metrics and in run reports.
const (
	TriggerSchedule = "schedule"
	TriggerBoundary = "boundary"
	TriggerManual   = "manual"
)

// Pipeline wires the stores, the order source and the notifier into the
// periodic balancing cycle: cleanup, policy application, order collection,
// aggregation, day metrics and LIVE state bookkeeping.
//
// A single invocation is expected to be re-runnable: every write it performs
// is idempotent (content-hashed policies, first-write-wins facts, upserted
// stats, max-merged live-state counters), so an overlapping or repeated run
// converges instead of double-counting.
type Pipeline struct {
	DB       *gorm.DB
	Config   *config.BalancerConfig
	Orders   orders.Source
	Notifier notify.Notifier

	// RetentionDays bounds the history kept in the stores; 0 disables the
	// cleanup step.
	RetentionDays int

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// RunParams select what one invocation does.
type RunParams struct {
	// Mode is TEST or LIVE; a BOTH deployment runs the pipeline twice.
	Mode string

	Trigger string

	// RunKey is the idempotency key claimed against live state before the
	// day-metric bookkeeping runs. Boundary runs pass the boundary timestamp
	// so replays of the same boundary are no-ops; when empty a random key is
	// generated.
	RunKey string

	// ClosedSegmentEnd marks a boundary-close invocation: the policies whose
	// window ended exactly then are settled (collected, aggregated, day
	// metrics, live state) before the new segment is applied.
	ClosedSegmentEnd *time.Time
}

// AppliedPolicy is one policy application outcome within a run.
type AppliedPolicy struct {
	PolicyLogID uint   `json:"policy_log_id"`
	Hash        string `json:"hash"`
	City        string `json:"city"`
	Supplier    string `json:"supplier"`
	SegmentID   string `json:"segment_id"`
	Created     bool   `json:"created"`
	Reason      string `json:"reason"`
}

// RunReport summarizes one pipeline invocation for the API and the log.
type RunReport struct {
	Mode       string    `json:"mode"`
	Trigger    string    `json:"trigger"`
	RunKey     string    `json:"run_key"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Applied       []AppliedPolicy    `json:"applied"`
	FactsInserted int                `json:"facts_inserted"`
	StatsRows     int                `json:"stats_rows"`
	Retention     db.RetentionReport `json:"retention"`

	// Notes are per-unit diagnostics: skipped scopes, fetch failures,
	// best-threshold movements. A note never fails the run.
	Notes []string `json:"notes,omitempty"`
}

func (r *RunReport) notef(format string, args ...interface{}) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

// Run executes one full balancing cycle for params.Mode. Unit-level problems
// (a profile without an active segment, an unreachable order source, a
// malformed snapshot) are reported and skipped; only store-level failures in
// the apply step abort the batch.
func (p *Pipeline) Run(ctx context.Context, params RunParams) (*RunReport, error) {
	if params.Mode != config.ModeTest && params.Mode != config.ModeLive {
		return nil, fmt.Errorf("balancer.Run: mode must be TEST or LIVE, got %q", params.Mode)
	}
	if params.Trigger == "" {
		params.Trigger = TriggerManual
	}
	if params.RunKey == "" {
		params.RunKey = uuid.NewString()
	}

	now := p.now()
	report := &RunReport{
		Mode:      params.Mode,
		Trigger:   params.Trigger,
		RunKey:    params.RunKey,
		StartedAt: now,
	}
	countRun(params.Mode, params.Trigger)

	cache := &orderCache{src: p.Orders, data: map[string][]orders.RawOrder{}}

	if p.RetentionDays > 0 {
		cutoff := now.UTC().AddDate(0, 0, -p.RetentionDays)
		rep, err := db.RunRetentionOnce(p.DB, cutoff)
		if err != nil {
			// Cleanup is best-effort: a failed pass leaves stale rows behind,
			// nothing else.
			report.notef("retention: %v", err)
		} else {
			report.Retention = rep
			countRetention(rep.Total())
		}
	}

	before := map[string]map[string]db.BestRow{}

	// A boundary-close run settles the sealed segment first, so that the LIVE
	// apply below already sees its stats in the best-threshold lookback.
	if params.ClosedSegmentEnd != nil {
		closed, err := db.PoliciesEndingAt(p.DB, params.Mode, *params.ClosedSegmentEnd)
		if err != nil {
			return nil, err
		}
		if len(closed) == 0 {
			report.notef("boundary %s: no policies closed", params.ClosedSegmentEnd.UTC().Format(time.RFC3339))
		}
		p.snapshotBestGlobal(closed, now, before)
		p.settlePolicies(ctx, closed, now, params.RunKey, cache, report)
	}

	applied, err := p.applyPolicies(ctx, params.Mode, now, report)
	if err != nil {
		return report, err
	}

	p.settlePolicies(ctx, applied, now, params.RunKey, cache, report)

	p.noteBestGlobalMoves(applied, now, before, report)

	report.FinishedAt = p.now()
	log.Printf("balancer: run %s mode=%s trigger=%s applied=%d facts=%d stats=%d notes=%d",
		report.RunKey, report.Mode, report.Trigger, len(report.Applied),
		report.FactsInserted, report.StatsRows, len(report.Notes))
	return report, nil
}

// applyPolicies resolves the active segment of every profile in the mode and
// upserts one policy row per (city, supplier). TEST-graph advancement and LIVE
// escalation bookkeeping happen here, and only on rows that were genuinely
// created.
func (p *Pipeline) applyPolicies(ctx context.Context, mode string, now time.Time, report *RunReport) ([]db.PolicyLog, error) {
	snapshot, err := p.Config.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("balancer.Run: snapshot config: %w", err)
	}

	profiles := p.Config.ProfilesForMode(mode)
	if len(profiles) == 0 {
		report.notef("apply: no %s profiles configured", mode)
	}

	var applied []db.PolicyLog
	for i := range profiles {
		profile := &profiles[i]

		seg, err := ResolveSegment(profile, now)
		if err != nil {
			p.notifyf(ctx, "profile %s: %v", profile.Name, err)
			report.notef("apply %s: %v", profile.Name, err)
			continue
		}
		day := db.DayOf(seg.Start)

		for _, city := range profile.Scope.Cities {
			for _, supplier := range profile.Scope.Suppliers {
				rec, created, err := p.applyUnit(profile, mode, city, supplier, seg, day, snapshot)
				if err != nil {
					p.notifyf(ctx, "apply %s %s/%s: %v", profile.Name, city, supplier, err)
					report.notef("apply %s %s/%s: %v", profile.Name, city, supplier, err)
					continue
				}
				countApplied(mode, created)
				applied = append(applied, *rec)
				report.Applied = append(report.Applied, AppliedPolicy{
					PolicyLogID: rec.ID,
					Hash:        rec.Hash,
					City:        city,
					Supplier:    supplier,
					SegmentID:   seg.SegmentID,
					Created:     created,
					Reason:      rec.Reason,
				})
			}
		}
	}
	return applied, nil
}

func (p *Pipeline) applyUnit(profile *config.Profile, mode, city, supplier string,
	seg SegmentWindow, day time.Time, snapshot []byte) (*db.PolicyLog, bool, error) {

	stateKey := profile.StateKey(supplier)
	segStart := seg.Start.UTC()
	segEnd := seg.End.UTC()

	var payload *PolicyPayload
	var controls config.LiveControls
	var err error

	switch mode {
	case config.ModeTest:
		// A segment window is applied once: the graph has already advanced
		// past the recorded threshold, so rebuilding mid-segment would mint a
		// spurious second policy. Re-runs reuse the existing row. LIVE has no
		// such guard because its re-derivation is stable unless the
		// controller escalates, and an escalation row is exactly the point.
		existing, err := db.PolicyForWindow(p.DB, mode, city, supplier, seg.SegmentID, segStart, segEnd)
		if err != nil {
			return nil, false, err
		}
		if existing != nil && existing.ConfigVersion == p.Config.Version {
			return existing, false, nil
		}

		payload, err = BuildTestPolicy(p.DB, profile, city, supplier, seg.SegmentID, day)
		if err != nil {
			return nil, false, err
		}
	case config.ModeLive:
		base, err := BuildLivePolicy(p.DB, profile, city, supplier, seg.SegmentID, day)
		if err != nil {
			return nil, false, err
		}
		controls = profile.LiveControls()
		state, err := db.GetLiveState(p.DB, mode, stateKey, day)
		if err != nil {
			return nil, false, err
		}
		rules, reason, details := ApplyLiveControls(controls, state, base.Rules, base.Reason, base.ReasonDetails)
		payload = &PolicyPayload{
			Rules:          rules,
			MinPorogByBand: base.MinPorogByBand,
			Reason:         reason,
			ReasonDetails:  details,
		}
	}

	rulesJSON, err := json.Marshal(payload.Rules)
	if err != nil {
		return nil, false, err
	}
	minPorogJSON, err := json.Marshal(payload.MinPorogByBand)
	if err != nil {
		return nil, false, err
	}

	rec := &db.PolicyLog{
		Hash: db.ComputePolicyHash(mode, p.Config.Version, city, supplier,
			seg.SegmentID, segStart, segEnd, payload.Rules, payload.MinPorogByBand),
		Mode:           mode,
		ConfigVersion:  p.Config.Version,
		City:           city,
		Supplier:       supplier,
		SegmentID:      seg.SegmentID,
		SegmentStart:   segStart,
		SegmentEnd:     segEnd,
		Rules:          rulesJSON,
		MinPorogByBand: minPorogJSON,
		Reason:         payload.Reason,
		ReasonDetails:  datatypes.JSONMap(payload.ReasonDetails),
		ConfigSnapshot: snapshot,
		IsApplied:      true,
	}

	created, err := db.UpsertPolicyLog(p.DB, rec)
	if err != nil {
		return nil, false, err
	}
	if !created {
		return rec, false, nil
	}

	switch mode {
	case config.ModeTest:
		// The shared sawtooth advances exactly once per real segment
		// transition: only on a freshly created row, and only for the scope's
		// leader supplier.
		if supplier == profile.LeaderSupplier() {
			if err := AdvanceTestGraph(p.DB, profile, city, supplier, seg.SegmentID, day); err != nil {
				return nil, false, err
			}
			rec.ReasonDetails["advance_state"] = true
			if err := p.DB.Model(rec).Update("reason_details", rec.ReasonDetails).Error; err != nil {
				return nil, false, err
			}
		}
	case config.ModeLive:
		liveIter := LiveIterFromDetails(payload.ReasonDetails)
		if payload.Reason == ReasonLiveDailyLimit {
			if err := db.RecordEscalation(p.DB, mode, stateKey, day, liveIter, rec.ID); err != nil {
				return nil, false, err
			}
			countEscalation(stateKey)
		}
		if controls.Enabled && liveIter >= controls.MaxIterations {
			if err := db.FreezeLiveState(p.DB, mode, stateKey, day, LiveActionStopMaxIter); err != nil {
				return nil, false, err
			}
		}
	}
	return rec, true, nil
}

// settlePolicies runs collection, aggregation, day metrics and live-state
// bookkeeping over a batch of policies. Safe to call repeatedly for the same
// batch; the stores absorb replays.
func (p *Pipeline) settlePolicies(ctx context.Context, policies []db.PolicyLog,
	now time.Time, runKey string, cache *orderCache, report *RunReport) {

	if len(policies) == 0 {
		return
	}
	p.collectFacts(ctx, policies, now, cache, report)
	p.aggregateStats(ctx, policies, report)
	p.updateDayMetrics(policies, report)
	p.updateLiveState(policies, runKey, report)
}

// collectFacts pulls raw orders for each policy's elapsed window, filters them
// to the policy scope and materializes immutable per-order facts.
func (p *Pipeline) collectFacts(ctx context.Context, policies []db.PolicyLog,
	now time.Time, cache *orderCache, report *RunReport) {

	if p.Orders == nil {
		report.notef("collect: no order source configured")
		return
	}

	for i := range policies {
		policy := &policies[i]

		// The order-source filter is alias-aware, so the live config resolves
		// the profile here; pricing below still uses the frozen snapshot.
		profile, ok := config.MatchProfile(p.Config, policy.City, policy.Supplier)
		if !ok {
			report.notef("collect policy %d: no profile for %s/%s", policy.ID, policy.City, policy.Supplier)
			continue
		}

		windowEnd := policy.SegmentEnd
		if now.UTC().Before(windowEnd) {
			windowEnd = now.UTC()
		}
		if !windowEnd.After(policy.SegmentStart) {
			continue
		}

		raw, err := cache.fetch(ctx, policy.SegmentStart, windowEnd)
		if err != nil {
			report.notef("collect policy %d: fetch orders: %v", policy.ID, err)
			continue
		}

		scoped := orders.FilterOrders(raw, policy.City, profile.SupplierAliases(policy.Supplier))

		inserted := 0
		for _, order := range scoped {
			fact, err := BuildOrderFact(policy, order)
			if err != nil {
				if errors.Is(err, ErrPricingConfig) {
					// The snapshot cannot price this scope at all; every
					// order of the policy would fail the same way.
					p.notifyf(ctx, "collect policy %d: %v", policy.ID, err)
					report.notef("collect policy %d: %v", policy.ID, err)
					break
				}
				report.notef("collect policy %d order %s: %v", policy.ID, order.OrderID(), err)
				continue
			}
			isNew, err := db.InsertOrderFact(p.DB, fact)
			if err != nil {
				report.notef("collect policy %d order %s: %v", policy.ID, order.OrderID(), err)
				continue
			}
			if isNew {
				inserted++
			}
		}
		report.FactsInserted += inserted
		countFacts(policy.Mode, inserted)
	}
}

// aggregateStats folds each policy's facts into per-band segment stats. Bands
// without facts get no row; the sample flag comes from the snapshot profile's
// threshold so that later config edits cannot reinterpret old samples.
func (p *Pipeline) aggregateStats(ctx context.Context, policies []db.PolicyLog, report *RunReport) {
	for i := range policies {
		policy := &policies[i]

		facts, err := db.FactsForPolicy(p.DB, policy.ID)
		if err != nil {
			report.notef("aggregate policy %d: %v", policy.ID, err)
			continue
		}
		if len(facts) == 0 {
			continue
		}

		minOrders := 0
		profileName := ""
		if snap, err := config.SnapshotFromJSON(policy.ConfigSnapshot); err == nil {
			if profile, ok := config.MatchProfile(snap, policy.City, policy.Supplier); ok {
				minOrders = profile.Thresholds.MinOrdersPerSegment
				profileName = profile.Name
			}
		} else {
			p.notifyf(ctx, "aggregate policy %d: %v", policy.ID, err)
			report.notef("aggregate policy %d: %v", policy.ID, err)
			continue
		}

		byBand := map[string]*db.SegmentStat{}
		for _, f := range facts {
			stat, ok := byBand[f.BandID]
			if !ok {
				stat = &db.SegmentStat{
					PolicyLogID:  policy.ID,
					BandID:       f.BandID,
					ProfileName:  profileName,
					Mode:         policy.Mode,
					City:         policy.City,
					Supplier:     policy.Supplier,
					SegmentID:    policy.SegmentID,
					SegmentStart: policy.SegmentStart,
					SegmentEnd:   policy.SegmentEnd,
					BandMinPrice: f.BandMinPrice,
					BandMaxPrice: f.BandMaxPrice,
					PorogUsed:    f.PorogUsed,
					MinPorog:     f.MinPorog,
					DayDate:      policy.DayDate(),
				}
				byBand[f.BandID] = stat
			}
			stat.OrdersCount++
			stat.SaleSum = round2(stat.SaleSum + f.SaleSum)
			stat.CostSum = round2(stat.CostSum + f.CostSum)
			stat.ProfitSum = round2(stat.ProfitSum + f.Profit)
			stat.MinProfitSum = round2(stat.MinProfitSum + f.MinProfit)
			stat.ExcessProfitSum = round2(stat.ExcessProfitSum + f.ExcessProfit)
		}

		for _, bandID := range sortedStatBands(byBand) {
			stat := byBand[bandID]
			if stat.OrdersCount > 0 {
				per := round4(stat.ExcessProfitSum / float64(stat.OrdersCount))
				stat.ExcessProfitPerOrder = &per
			}
			stat.OrdersSampleOK = stat.OrdersCount >= int64(minOrders)
			if err := db.UpsertSegmentStat(p.DB, stat); err != nil {
				report.notef("aggregate policy %d band %s: %v", policy.ID, bandID, err)
				continue
			}
			report.StatsRows++
		}
	}
}

// updateDayMetrics recomputes, per (mode, city, supplier, day), the day's
// total order count and each segment's share of it, and writes both back onto
// the stats rows.
func (p *Pipeline) updateDayMetrics(policies []db.PolicyLog, report *RunReport) {
	seen := map[string]bool{}
	for i := range policies {
		policy := &policies[i]
		day := policy.DayDate()
		scopeKey := policy.Mode + "\x00" + policy.City + "\x00" + policy.Supplier + "\x00" + day.Format("2006-01-02")
		if seen[scopeKey] {
			continue
		}
		seen[scopeKey] = true

		rows, err := db.StatsForDayScope(p.DB, policy.Mode, policy.City, policy.Supplier, day)
		if err != nil {
			report.notef("day metrics %s/%s: %v", policy.City, policy.Supplier, err)
			continue
		}
		if len(rows) == 0 {
			continue
		}

		current := newestSegmentRows(rows)

		var dayTotal int64
		segOrders := map[segmentKey]int64{}
		segPolicy := map[segmentKey]uint{}
		for _, r := range current {
			k := segmentKey{r.SegmentID, r.SegmentStart.Unix()}
			dayTotal += r.OrdersCount
			segOrders[k] += r.OrdersCount
			segPolicy[k] = r.PolicyLogID
		}

		for k, count := range segOrders {
			var share *float64
			if dayTotal > 0 {
				v := round6(float64(count) / float64(dayTotal))
				share = &v
			}
			if _, err := db.UpdateDayMetrics(p.DB, segPolicy[k], k.segmentID, dayTotal, share); err != nil {
				report.notef("day metrics policy %d: %v", segPolicy[k], err)
			}
		}
	}
}

// updateLiveState folds the recomputed day totals into the LIVE controller
// state. The run key is claimed first: a replay of the same key (an
// overlapping fire of the same boundary) skips the whole group. The counter
// merge itself is convergent, so even distinct overlapping keys cannot
// overcount.
func (p *Pipeline) updateLiveState(policies []db.PolicyLog, runKey string, report *RunReport) {
	type liveScope struct {
		stateKey string
		dayKey   string
	}
	done := map[liveScope]bool{}

	for i := range policies {
		policy := &policies[i]
		if policy.Mode != config.ModeLive {
			continue
		}

		profile, ok := config.MatchProfile(p.Config, policy.City, policy.Supplier)
		if !ok {
			report.notef("live state policy %d: no profile for %s/%s", policy.ID, policy.City, policy.Supplier)
			continue
		}
		stateKey := profile.StateKey(policy.Supplier)
		day := policy.DayDate()

		scope := liveScope{stateKey, day.Format("2006-01-02")}
		if done[scope] {
			continue
		}
		done[scope] = true

		claimed, err := db.TryMarkRunKey(p.DB, policy.Mode, stateKey, day, runKey)
		if err != nil {
			report.notef("live state %s: %v", stateKey, err)
			continue
		}
		if !claimed {
			report.notef("live state %s: run key %s already processed", stateKey, runKey)
			continue
		}

		dayTotal, err := db.DayTotalOrders(p.DB, policy.Mode, policy.City, policy.Supplier, day)
		if err != nil {
			report.notef("live state %s: %v", stateKey, err)
			continue
		}

		// Facts are first-write-wins, so dayTotal is a stable recomputation
		// that only grows; the store merges it with a server-side max, so
		// overlapping invocations under distinct run keys converge instead of
		// double-counting.
		id := policy.ID
		if err := db.SetDayOrders(p.DB, policy.Mode, stateKey, day, dayTotal, &id); err != nil {
			report.notef("live state %s: %v", stateKey, err)
			continue
		}

		controls := profile.LiveControls()
		if controls.DailyOrderLimit != nil && dayTotal >= int64(*controls.DailyOrderLimit) {
			if err := db.MarkLimitReached(p.DB, policy.Mode, stateKey, day); err != nil {
				report.notef("live state %s: %v", stateKey, err)
			}
		}

		rows, err := db.StatsForDayScope(p.DB, policy.Mode, policy.City, policy.Supplier, day)
		if err != nil {
			report.notef("live state %s: %v", stateKey, err)
			continue
		}
		var metric float64
		for _, r := range newestSegmentRows(rows) {
			metric += r.ExcessProfitSum
		}
		if len(rows) > 0 {
			iter := LiveIterFromDetails(policy.ReasonDetails)
			if err := db.ObserveDayMetric(p.DB, policy.Mode, stateKey, day, round2(metric), iter, policy.Rules); err != nil {
				report.notef("live state %s: %v", stateKey, err)
			}
		}
	}
}

// snapshotBestGlobal records the mode-wide best thresholds per segment before
// settlement, keyed by segment id. Diagnostics only: every error is swallowed.
func (p *Pipeline) snapshotBestGlobal(policies []db.PolicyLog, now time.Time, into map[string]map[string]db.BestRow) {
	for i := range policies {
		segID := policies[i].SegmentID
		if _, ok := into[segID]; ok {
			continue
		}
		if best, err := BestGlobal(p.DB, segID, db.DayOf(now).AddDate(0, 0, 1)); err == nil {
			into[segID] = best
		}
	}
}

// noteBestGlobalMoves re-reads the best thresholds after settlement and notes
// any band whose winner moved during this run.
func (p *Pipeline) noteBestGlobalMoves(policies []db.PolicyLog, now time.Time,
	before map[string]map[string]db.BestRow, report *RunReport) {

	after := map[string]map[string]db.BestRow{}
	p.snapshotBestGlobal(policies, now, after)
	for segID := range before {
		if _, ok := after[segID]; !ok {
			if best, err := BestGlobal(p.DB, segID, db.DayOf(now).AddDate(0, 0, 1)); err == nil {
				after[segID] = best
			}
		}
	}

	for segID, post := range after {
		prev := before[segID]
		for _, bandID := range sortedBestBands(post) {
			row := post[bandID]
			old, had := prev[bandID]
			switch {
			case !had:
				report.notef("best_global %s %s: %.4f (%s)", segID, bandID, row.Porog, row.Mode)
			case old.Porog != row.Porog || old.Mode != row.Mode:
				report.notef("best_global %s %s: %.4f (%s) -> %.4f (%s)",
					segID, bandID, old.Porog, old.Mode, row.Porog, row.Mode)
			}
		}
	}
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Pipeline) notifyf(ctx context.Context, format string, args ...interface{}) {
	if p.Notifier == nil {
		return
	}
	p.Notifier.Notify(ctx, fmt.Sprintf(format, args...))
}

// orderCache deduplicates order-source fetches within one run: policies that
// share a window (every supplier of a city, for instance) hit the CRM once.
type orderCache struct {
	src  orders.Source
	data map[string][]orders.RawOrder
}

func (c *orderCache) fetch(ctx context.Context, start, end time.Time) ([]orders.RawOrder, error) {
	key := start.UTC().Format(time.RFC3339) + "|" + end.UTC().Format(time.RFC3339)
	if cached, ok := c.data[key]; ok {
		return cached, nil
	}
	fetched, err := c.src.FetchOrders(ctx, start, end)
	if err != nil {
		return nil, err
	}
	c.data[key] = fetched
	return fetched, nil
}

type segmentKey struct {
	segmentID string
	start     int64
}

// newestSegmentRows drops stats rows superseded by a mid-segment re-apply: a
// LIVE escalation leaves several policies over the same window, each with
// facts for the same orders, and only the newest policy's rows may count or
// day totals would see those orders twice.
func newestSegmentRows(rows []db.SegmentStat) []db.SegmentStat {
	newest := map[segmentKey]uint{}
	for _, r := range rows {
		k := segmentKey{r.SegmentID, r.SegmentStart.Unix()}
		if r.PolicyLogID > newest[k] {
			newest[k] = r.PolicyLogID
		}
	}
	out := make([]db.SegmentStat, 0, len(rows))
	for _, r := range rows {
		if r.PolicyLogID == newest[segmentKey{r.SegmentID, r.SegmentStart.Unix()}] {
			out = append(out, r)
		}
	}
	return out
}

func sortedStatBands(m map[string]*db.SegmentStat) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedBestBands(m map[string]db.BestRow) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
