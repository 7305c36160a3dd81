package balancer

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pricebalancer/internal/config"
	"pricebalancer/internal/db"
)

var testDBSeq atomic.Int64

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:balancertest%d?mode=memory&cache=shared", testDBSeq.Add(1))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	return gdb
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

// testProfile is a two-band day/night TEST profile over one city and one
// supplier, the smallest shape the pipeline meaningfully exercises.
func testProfile() config.Profile {
	return config.Profile{
		Name: "kyiv-d1",
		Mode: config.ModeTest,
		Scope: config.Scope{
			Cities:    []string{"Kyiv"},
			Suppliers: []string{"D1"},
		},
		SupplierNames: map[string]string{"D1": "DSN"},
		PriceBands: []config.PriceBand{
			{BandID: "b1", Min: 0, Max: floatPtr(500)},
			{BandID: "b2", Min: 500},
		},
		MinPorogByBand: map[string]float64{"b1": 0.10, "b2": 0.15},
		Thresholds:     config.Thresholds{MinOrdersPerSegment: 2},
		TestSchedule: &config.TestSchedule{
			Step:           0.05,
			MaxPorogByBand: map[string]float64{"b1": 0.30, "b2": 0.35},
		},
		TimeSegments: []config.TimeSegment{
			{SegmentID: "TT_DAY", Start: "06:00", End: "22:00"},
			{SegmentID: "TT_NIGHT", Start: "22:00", End: "06:00"},
		},
	}
}

func liveProfile() config.Profile {
	p := testProfile()
	p.Name = "kyiv-d1-live"
	p.Mode = config.ModeLive
	p.TestSchedule = nil
	p.Live = &config.LiveSettings{
		DailyOrderLimit: intPtr(5),
		Step:            floatPtr(0.02),
		MaxIterations:   intPtr(3),
		MaxPorogCap:     floatPtr(0.40),
	}
	return p
}

func testConfig(profiles ...config.Profile) *config.BalancerConfig {
	return &config.BalancerConfig{Version: 1, Profiles: profiles}
}
