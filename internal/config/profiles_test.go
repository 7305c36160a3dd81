package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
balancer:
  version: 3
  profiles:
    - name: kyiv-d1
      mode: TEST
      scope:
        cities: [Kyiv]
        suppliers: [D1]
      supplier_names:
        D1: DSN
      price_bands:
        - band_id: b1
          min: 0
          max: 500
        - band_id: b2
          min: 500
      min_porog_by_band:
        b1: 0.10
        b2: 0.15
      thresholds:
        min_orders_per_segment: 3
      test_schedule:
        step: 0.05
        max_porog_by_band:
          b1: 0.30
          b2: 0.35
      time_segments:
        - segment_id: TT_DAY
          start: "06:00"
          end: "22:00"
        - segment_id: TT_NIGHT
          start: "22:00"
          end: "06:00"
    - name: lviv-live
      mode: LIVE
      scope:
        cities: [Lviv]
        suppliers: [D2, D3]
      price_bands:
        - band_id: b1
          min: 0
      min_porog_by_band:
        b1: 0.12
      live:
        daily_order_limit: 40
        max_iterations: 5
      time_segments:
        - segment_id: ALLDAY
          start: "00:00"
          end: "00:00"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "balancer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadBalancerParsesProfiles(t *testing.T) {
	cfg, err := LoadBalancer(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Version)
	require.Len(t, cfg.Profiles, 2)

	p := cfg.Profiles[0]
	assert.Equal(t, ModeTest, p.Mode)
	assert.Equal(t, "DSN", p.SupplierNames["D1"])
	require.Len(t, p.PriceBands, 2)
	require.NotNil(t, p.PriceBands[0].Max)
	assert.Equal(t, 500.0, *p.PriceBands[0].Max)
	assert.Nil(t, p.PriceBands[1].Max)
	assert.Equal(t, 3, p.Thresholds.MinOrdersPerSegment)

	testOnly := cfg.ProfilesForMode(ModeTest)
	require.Len(t, testOnly, 1)
	assert.Equal(t, "kyiv-d1", testOnly[0].Name)
}

func TestLoadBalancerRejectsBadProfiles(t *testing.T) {
	cases := map[string]string{
		"missing step": `
balancer:
  profiles:
    - name: broken
      mode: TEST
      scope: {cities: [Kyiv], suppliers: [D1]}
      price_bands: [{band_id: b1, min: 0}]
      min_porog_by_band: {b1: 0.1}
      time_segments: [{segment_id: S, start: "00:00", end: "00:00"}]
`,
		"unknown mode": `
balancer:
  profiles:
    - name: broken
      mode: STAGING
      scope: {cities: [Kyiv], suppliers: [D1]}
      price_bands: [{band_id: b1, min: 0}]
      min_porog_by_band: {b1: 0.1}
      time_segments: [{segment_id: S, start: "00:00", end: "00:00"}]
`,
		"band without minimum": `
balancer:
  profiles:
    - name: broken
      mode: LIVE
      scope: {cities: [Kyiv], suppliers: [D1]}
      price_bands: [{band_id: b1, min: 0}, {band_id: b2, min: 100}]
      min_porog_by_band: {b1: 0.1}
      time_segments: [{segment_id: S, start: "00:00", end: "00:00"}]
`,
		"bad segment time": `
balancer:
  profiles:
    - name: broken
      mode: LIVE
      scope: {cities: [Kyiv], suppliers: [D1]}
      price_bands: [{band_id: b1, min: 0}]
      min_porog_by_band: {b1: 0.1}
      time_segments: [{segment_id: S, start: "25:00", end: "06:00"}]
`,
		"no profiles": `
balancer:
  profiles: []
`,
	}

	for name, yaml := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadBalancer(writeConfig(t, yaml))
			require.Error(t, err)
		})
	}
}

func TestMatchProfileOrderedFallbacks(t *testing.T) {
	cfg, err := LoadBalancer(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	exact, ok := MatchProfile(cfg, "Kyiv", "D1")
	require.True(t, ok)
	assert.Equal(t, "kyiv-d1", exact.Name)

	// Unknown city, known supplier: supplier-only match.
	bySupplier, ok := MatchProfile(cfg, "Odesa", "D2")
	require.True(t, ok)
	assert.Equal(t, "lviv-live", bySupplier.Name)

	// Nothing matches: first profile with bands, better than pricing nothing.
	fallback, ok := MatchProfile(cfg, "Odesa", "D9")
	require.True(t, ok)
	assert.Equal(t, "kyiv-d1", fallback.Name)
}

func TestStateKeyAndLeader(t *testing.T) {
	cfg, err := LoadBalancer(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	single := cfg.Profiles[0]
	assert.Equal(t, "D1", single.StateKey("D1"))
	assert.Equal(t, "D1", single.LeaderSupplier())

	multi := cfg.Profiles[1]
	assert.Equal(t, "D2|D3", multi.StateKey("D3"))
	assert.Equal(t, "D2|D3", multi.StateKey("D2"))
	assert.Equal(t, "D2", multi.LeaderSupplier())
}

func TestSupplierAliases(t *testing.T) {
	cfg, err := LoadBalancer(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"D1", "DSN"}, cfg.Profiles[0].SupplierAliases("D1"))
	assert.Equal(t, []string{"D2"}, cfg.Profiles[1].SupplierAliases("D2"))
}

func TestLiveControlsDefaults(t *testing.T) {
	cfg, err := LoadBalancer(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	c := cfg.Profiles[1].LiveControls()
	require.NotNil(t, c.DailyOrderLimit)
	assert.Equal(t, 40, *c.DailyOrderLimit)
	assert.Equal(t, 5, c.MaxIterations)
	assert.Equal(t, 0.01, c.Step)     // default
	assert.Equal(t, 0.50, c.MaxPorogCap) // default
	assert.True(t, c.Enabled)

	bare := Profile{}
	d := bare.LiveControls()
	assert.Nil(t, d.DailyOrderLimit)
	assert.Equal(t, 10, d.MaxIterations)
}

func TestMaxPorogForBand(t *testing.T) {
	cfg, err := LoadBalancer(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	p := cfg.Profiles[0]
	assert.Equal(t, 0.30, p.MaxPorogForBand("b1"))
	assert.Equal(t, 1.0, p.MaxPorogForBand("unknown"))

	live := cfg.Profiles[1]
	assert.Equal(t, 1.0, live.MaxPorogForBand("b1"))
}

func TestSnapshotRoundTrip(t *testing.T) {
	cfg, err := LoadBalancer(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	data, err := cfg.Snapshot()
	require.NoError(t, err)

	restored, err := SnapshotFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, cfg.Version, restored.Version)
	require.Len(t, restored.Profiles, 2)
	assert.Equal(t, cfg.Profiles[0].MinPorogByBand, restored.Profiles[0].MinPorogByBand)

	_, err = SnapshotFromJSON(nil)
	require.Error(t, err)
}
