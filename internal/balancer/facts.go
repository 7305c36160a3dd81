package balancer

import (
	"encoding/json"
	"errors"
	"fmt"

	"pricebalancer/internal/config"
	"pricebalancer/internal/db"
	"pricebalancer/internal/orders"
)

// ErrPricingConfig means a policy's frozen config snapshot cannot price
// orders (no matching profile, or a profile without price bands). The record
// is malformed; the error is surfaced, not retried.
var ErrPricingConfig = errors.New("pricing config error")

// BuildOrderFact converts one raw order plus the policy that was active when
// it was priced into an immutable financial fact row. The pricing profile is
// resolved from the policy's frozen config snapshot, never the live config,
// so later configuration changes cannot rewrite history.
func BuildOrderFact(policy *db.PolicyLog, order orders.RawOrder) (*db.OrderFact, error) {
	snap, err := config.SnapshotFromJSON(policy.ConfigSnapshot)
	if err != nil {
		return nil, fmt.Errorf("%w: policy %d: %v", ErrPricingConfig, policy.ID, err)
	}

	profile, ok := config.MatchProfile(snap, policy.City, policy.Supplier)
	if !ok || len(profile.PriceBands) == 0 {
		return nil, fmt.Errorf("%w: policy %d (%s/%s/%s): snapshot has no price bands",
			ErrPricingConfig, policy.ID, policy.Mode, policy.City, policy.Supplier)
	}

	saleSum, costSum := orderSums(order)
	profit := saleSum - costSum

	band := resolveBand(saleSum, profile.PriceBands)

	minPorogByBand, err := policy.DecodedMinPorog()
	if err != nil {
		return nil, fmt.Errorf("%w: policy %d: bad min_porog_by_band: %v", ErrPricingConfig, policy.ID, err)
	}
	minPorog, ok := minPorogByBand[band.BandID]
	if !ok {
		minPorog = profile.MinPorogByBand[band.BandID]
	}

	rules, err := policy.DecodedRules()
	if err != nil {
		return nil, fmt.Errorf("%w: policy %d: bad rules: %v", ErrPricingConfig, policy.ID, err)
	}
	porogUsed := porogForBand(rules, band.BandID)
	if porogUsed == 0 {
		// A zero threshold in the rules means the band was never priced;
		// the profile minimum is the safe substitute.
		porogUsed = minPorog
	}

	minProfit := round2(costSum * minPorog)
	excessProfit := round2(profit - minProfit)

	raw, _ := json.Marshal(order)

	return &db.OrderFact{
		PolicyLogID:     policy.ID,
		OrderID:         order.OrderID(),
		ProfileName:     profile.Name,
		Mode:            policy.Mode,
		City:            policy.City,
		Supplier:        policy.Supplier,
		SegmentID:       policy.SegmentID,
		SegmentStart:    policy.SegmentStart,
		SegmentEnd:      policy.SegmentEnd,
		OrderNumber:     order.TabletkiOrder,
		StatusID:        order.StatusID,
		CreatedAtSource: order.Time(segmentLocation),
		BandID:          band.BandID,
		BandMinPrice:    band.Min,
		BandMaxPrice:    band.Max,
		SaleSum:         round2(saleSum),
		CostSum:         round2(costSum),
		Profit:          round2(profit),
		PorogUsed:       porogUsed,
		MinPorog:        minPorog,
		MinProfit:       minProfit,
		ExcessProfit:    excessProfit,
		Raw:             raw,
	}, nil
}

// orderSums computes sale and cost totals over the order lines. When any
// line lacks a cost price the order-level wholesale cost replaces the
// line-level sum entirely.
func orderSums(order orders.RawOrder) (saleSum, costSum float64) {
	missingCost := false
	for _, line := range order.Products {
		saleSum += line.Price * line.Amount
		if line.CostPrice == nil {
			missingCost = true
		} else {
			costSum += *line.CostPrice * line.Amount
		}
	}
	if missingCost {
		costSum = order.Opt
	}
	return saleSum, costSum
}

// resolveBand matches a sale sum against the ordered [min, max) ranges. The
// last band is the catch-all for sums above every range.
func resolveBand(saleSum float64, bands []config.PriceBand) config.PriceBand {
	for _, b := range bands {
		if saleSum >= b.Min && (b.Max == nil || saleSum < *b.Max) {
			return b
		}
	}
	return bands[len(bands)-1]
}

func porogForBand(rules []db.BandRule, bandID string) float64 {
	for _, r := range rules {
		if r.BandID == bandID {
			return r.Porog
		}
	}
	return 0
}
