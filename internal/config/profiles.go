package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile modes. A profile is either on the scripted TEST schedule or on the
// historically-adaptive LIVE policy; the two never mix inside one profile.
const (
	ModeTest = "TEST"
	ModeLive = "LIVE"
)

// Time segment types restrict a segment to weekdays or weekends.
const (
	SegmentAll     = "ALL"
	SegmentWeekday = "WEEKDAY"
	SegmentWeekend = "WEEKEND"
)

// BalancerConfig is the full pricing-balancer configuration as loaded from
// the YAML file. It is read once per pipeline run and never mutated; a JSON
// snapshot of it is frozen into every applied policy so that later collection
// steps price orders against the config that was active at apply time.
type BalancerConfig struct {
	Version  int       `yaml:"version" json:"version"`
	Profiles []Profile `yaml:"profiles" json:"profiles"`
}

type balancerFile struct {
	Balancer BalancerConfig `yaml:"balancer"`
}

// Profile describes one pricing unit: which (city, supplier) pairs it covers,
// the price bands with their minimum margins, the mode, and the per-mode
// control parameters.
type Profile struct {
	Name string `yaml:"name" json:"name"`
	Mode string `yaml:"mode" json:"mode"`

	Scope Scope `yaml:"scope" json:"scope"`

	// SupplierNames maps internal supplier codes (as used in scope and in
	// policy logs) to the display names the order source reports, e.g.
	// "D2" -> "DSN". Used to build alias lists when filtering raw orders.
	SupplierNames map[string]string `yaml:"supplier_names" json:"supplier_names,omitempty"`

	PriceBands     []PriceBand        `yaml:"price_bands" json:"price_bands"`
	MinPorogByBand map[string]float64 `yaml:"min_porog_by_band" json:"min_porog_by_band"`

	Thresholds Thresholds `yaml:"thresholds" json:"thresholds"`

	TestSchedule *TestSchedule `yaml:"test_schedule" json:"test_schedule,omitempty"`
	Live         *LiveSettings `yaml:"live" json:"live,omitempty"`

	TimeSegments []TimeSegment `yaml:"time_segments" json:"time_segments"`
}

// Scope lists the cities and supplier codes a profile applies to.
type Scope struct {
	Cities    []string `yaml:"cities" json:"cities"`
	Suppliers []string `yaml:"suppliers" json:"suppliers"`
}

// PriceBand is a contiguous [Min, Max) sale-price range. A nil Max means the
// band is open-ended; the last band also acts as the catch-all for sale sums
// that match no range.
type PriceBand struct {
	BandID string   `yaml:"band_id" json:"band_id"`
	Min    float64  `yaml:"min" json:"min"`
	Max    *float64 `yaml:"max" json:"max,omitempty"`
}

// Thresholds holds sample-size requirements for statistics.
type Thresholds struct {
	// MinOrdersPerSegment is the minimum number of orders a segment band
	// needs before its stats row is marked orders_sample_ok and becomes a
	// candidate for best-threshold selection.
	MinOrdersPerSegment int `yaml:"min_orders_per_segment" json:"min_orders_per_segment"`
}

// TestSchedule drives the sawtooth TEST progression: each band's threshold
// walks min -> max -> min in Step increments, one step per real segment
// transition.
type TestSchedule struct {
	Step           float64            `yaml:"step" json:"step"`
	MaxPorogByBand map[string]float64 `yaml:"max_porog_by_band" json:"max_porog_by_band"`
}

// LiveSettings are the LIVE controller knobs as written in YAML. Optional
// fields default in LiveControls().
type LiveSettings struct {
	DailyOrderLimit *int     `yaml:"daily_order_limit" json:"daily_order_limit,omitempty"`
	Step            *float64 `yaml:"step" json:"step,omitempty"`
	MaxIterations   *int     `yaml:"max_iterations" json:"max_iterations,omitempty"`
	MinPorogFloor   *float64 `yaml:"min_porog_floor" json:"min_porog_floor,omitempty"`
	MaxPorogCap     *float64 `yaml:"max_porog_cap" json:"max_porog_cap,omitempty"`
	Enabled         *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// LiveControls is the fully-defaulted form of LiveSettings consumed by the
// LIVE controller.
type LiveControls struct {
	DailyOrderLimit *int
	Step            float64
	MaxIterations   int
	MinPorogFloor   float64
	MaxPorogCap     float64
	Enabled         bool
}

// TimeSegment is one named recurring window in the profile schedule,
// expressed as local wall-clock "HH:MM" bounds. End <= Start means the
// window crosses midnight.
type TimeSegment struct {
	SegmentID string `yaml:"segment_id" json:"segment_id"`
	Type      string `yaml:"type" json:"type"`
	Start     string `yaml:"start" json:"start"`
	End       string `yaml:"end" json:"end"`
}

// LoadBalancer reads and validates the balancer profile file.
func LoadBalancer(path string) (*BalancerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.LoadBalancer: read %q: %w", path, err)
	}

	var file balancerFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config.LoadBalancer: parse YAML: %w", err)
	}

	cfg := file.Balancer
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.LoadBalancer: %w", err)
	}
	return &cfg, nil
}

// Validate checks every profile up front so that malformed configuration is
// rejected at load time rather than mid-pipeline.
func (c *BalancerConfig) Validate() error {
	if len(c.Profiles) == 0 {
		return fmt.Errorf("no profiles defined")
	}
	for i := range c.Profiles {
		if err := c.Profiles[i].validate(); err != nil {
			name := c.Profiles[i].Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			return fmt.Errorf("profile %s: %w", name, err)
		}
	}
	return nil
}

func (p *Profile) validate() error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.Mode != ModeTest && p.Mode != ModeLive {
		return fmt.Errorf("mode must be TEST or LIVE, got %q", p.Mode)
	}
	if len(p.Scope.Cities) == 0 || len(p.Scope.Suppliers) == 0 {
		return fmt.Errorf("scope.cities and scope.suppliers must be non-empty")
	}
	if len(p.PriceBands) == 0 {
		return fmt.Errorf("price_bands must be non-empty")
	}
	for i, b := range p.PriceBands {
		if b.BandID == "" {
			return fmt.Errorf("price_bands[%d]: band_id is required", i)
		}
		if b.Max != nil && *b.Max <= b.Min {
			return fmt.Errorf("band %s: max (%v) must be greater than min (%v)", b.BandID, *b.Max, b.Min)
		}
		if _, ok := p.MinPorogByBand[b.BandID]; !ok {
			return fmt.Errorf("min_porog_by_band is missing band %s", b.BandID)
		}
	}
	if p.Mode == ModeTest {
		if p.TestSchedule == nil || p.TestSchedule.Step <= 0 {
			return fmt.Errorf("test_schedule.step is required for TEST mode")
		}
		for _, b := range p.PriceBands {
			hi, ok := p.TestSchedule.MaxPorogByBand[b.BandID]
			if !ok {
				return fmt.Errorf("test_schedule.max_porog_by_band is missing band %s", b.BandID)
			}
			if hi < p.MinPorogByBand[b.BandID] {
				return fmt.Errorf("band %s: max_porog (%v) < min_porog (%v)", b.BandID, hi, p.MinPorogByBand[b.BandID])
			}
		}
	}
	if len(p.TimeSegments) == 0 {
		return fmt.Errorf("time_segments must be non-empty")
	}
	for i, seg := range p.TimeSegments {
		if seg.SegmentID == "" {
			return fmt.Errorf("time_segments[%d]: segment_id is required", i)
		}
		switch seg.Type {
		case "", SegmentAll, SegmentWeekday, SegmentWeekend:
		default:
			return fmt.Errorf("segment %s: unknown type %q", seg.SegmentID, seg.Type)
		}
		if _, _, err := ParseHHMM(seg.Start); err != nil {
			return fmt.Errorf("segment %s: bad start: %w", seg.SegmentID, err)
		}
		if _, _, err := ParseHHMM(seg.End); err != nil {
			return fmt.Errorf("segment %s: bad end: %w", seg.SegmentID, err)
		}
	}
	return nil
}

// ParseHHMM parses a "HH:MM" wall-clock string.
func ParseHHMM(v string) (hh, mm int, err error) {
	if _, err := fmt.Sscanf(v, "%d:%d", &hh, &mm); err != nil {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", v)
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, 0, fmt.Errorf("out-of-range time %q", v)
	}
	return hh, mm, nil
}

// ProfilesForMode returns the profiles with the given mode.
func (c *BalancerConfig) ProfilesForMode(mode string) []Profile {
	var out []Profile
	for _, p := range c.Profiles {
		if strings.EqualFold(p.Mode, mode) {
			out = append(out, p)
		}
	}
	return out
}

// Snapshot serializes the whole config to JSON for freezing into policy logs.
func (c *BalancerConfig) Snapshot() ([]byte, error) {
	return json.Marshal(c)
}

// SnapshotFromJSON restores a frozen config snapshot.
func SnapshotFromJSON(data []byte) (*BalancerConfig, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("config.SnapshotFromJSON: empty snapshot")
	}
	var cfg BalancerConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.SnapshotFromJSON: %w", err)
	}
	return &cfg, nil
}

// MatchProfile resolves the profile for a (city, supplier) pair from a config
// (usually a frozen snapshot that may hold both TEST and LIVE profiles).
// Resolution is an explicit ordered matcher:
//  1. exact scope match (city and supplier),
//  2. supplier-only match,
//  3. any profile that has price bands.
//
// The widening fallbacks guard against config drift between apply time and
// collection time; a confirmed mismatch is better than pricing nothing.
func MatchProfile(c *BalancerConfig, city, supplier string) (*Profile, bool) {
	for i := range c.Profiles {
		p := &c.Profiles[i]
		if containsString(p.Scope.Cities, city) && containsString(p.Scope.Suppliers, supplier) {
			return p, true
		}
	}
	for i := range c.Profiles {
		p := &c.Profiles[i]
		if containsString(p.Scope.Suppliers, supplier) {
			return p, true
		}
	}
	for i := range c.Profiles {
		if len(c.Profiles[i].PriceBands) > 0 {
			return &c.Profiles[i], true
		}
	}
	return nil, false
}

// StateKey returns the key under which TEST-graph state and best-threshold
// statistics are shared. A multi-supplier profile shares one state row (joined
// sorted codes); a single-supplier profile keys by that supplier.
func (p *Profile) StateKey(supplier string) string {
	if len(p.Scope.Suppliers) <= 1 {
		return supplier
	}
	codes := append([]string(nil), p.Scope.Suppliers...)
	sort.Strings(codes)
	return strings.Join(codes, "|")
}

// LeaderSupplier is the lexicographically smallest supplier code in scope.
// For multi-supplier profiles only the leader advances shared TEST state.
func (p *Profile) LeaderSupplier() string {
	if len(p.Scope.Suppliers) == 0 {
		return ""
	}
	leader := p.Scope.Suppliers[0]
	for _, s := range p.Scope.Suppliers[1:] {
		if s < leader {
			leader = s
		}
	}
	return leader
}

// SupplierAliases returns the identifiers under which the order source may
// report this supplier: the internal code plus the configured display name.
func (p *Profile) SupplierAliases(code string) []string {
	aliases := []string{code}
	if name, ok := p.SupplierNames[code]; ok && name != "" && name != code {
		aliases = append(aliases, name)
	}
	return aliases
}

// BandIDs returns the profile's band ids in price order.
func (p *Profile) BandIDs() []string {
	ids := make([]string, 0, len(p.PriceBands))
	for _, b := range p.PriceBands {
		ids = append(ids, b.BandID)
	}
	return ids
}

// MaxPorogForBand returns the upper clamp for a band's threshold, from the
// test schedule when present, else 1.0.
func (p *Profile) MaxPorogForBand(bandID string) float64 {
	if p.TestSchedule != nil {
		if hi, ok := p.TestSchedule.MaxPorogByBand[bandID]; ok {
			return hi
		}
	}
	return 1.0
}

// LiveControls returns the LIVE controller parameters with defaults applied.
func (p *Profile) LiveControls() LiveControls {
	c := LiveControls{
		Step:          0.01,
		MaxIterations: 10,
		MinPorogFloor: 0.0,
		MaxPorogCap:   0.50,
		Enabled:       true,
	}
	if p.Live == nil {
		return c
	}
	c.DailyOrderLimit = p.Live.DailyOrderLimit
	if p.Live.Step != nil && *p.Live.Step > 0 {
		c.Step = *p.Live.Step
	}
	if p.Live.MaxIterations != nil && *p.Live.MaxIterations > 0 {
		c.MaxIterations = *p.Live.MaxIterations
	}
	if p.Live.MinPorogFloor != nil {
		c.MinPorogFloor = *p.Live.MinPorogFloor
	}
	if p.Live.MaxPorogCap != nil && *p.Live.MaxPorogCap > 0 {
		c.MaxPorogCap = *p.Live.MaxPorogCap
	}
	if p.Live.Enabled != nil {
		c.Enabled = *p.Live.Enabled
	}
	return c
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
