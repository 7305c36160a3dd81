package balancer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricebalancer/internal/config"
)

func kyivTime(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, Location())
}

func TestResolveSegmentDaytime(t *testing.T) {
	p := testProfile()

	seg, err := ResolveSegment(&p, kyivTime(2026, 8, 27, 10, 0))
	require.NoError(t, err)
	assert.Equal(t, "TT_DAY", seg.SegmentID)
	assert.True(t, seg.Start.Equal(kyivTime(2026, 8, 27, 6, 0)))
	assert.True(t, seg.End.Equal(kyivTime(2026, 8, 27, 22, 0)))
}

func TestResolveSegmentMidnightCrossing(t *testing.T) {
	p := testProfile()

	// 23:00 is after the night window opened: it runs into tomorrow.
	evening, err := ResolveSegment(&p, kyivTime(2026, 8, 27, 23, 0))
	require.NoError(t, err)
	assert.Equal(t, "TT_NIGHT", evening.SegmentID)
	assert.True(t, evening.Start.Equal(kyivTime(2026, 8, 27, 22, 0)))
	assert.True(t, evening.End.Equal(kyivTime(2026, 8, 28, 6, 0)))

	// 05:00 belongs to the same window, which opened yesterday.
	morning, err := ResolveSegment(&p, kyivTime(2026, 8, 28, 5, 0))
	require.NoError(t, err)
	assert.Equal(t, "TT_NIGHT", morning.SegmentID)
	assert.True(t, morning.Start.Equal(evening.Start))
	assert.True(t, morning.End.Equal(evening.End))
}

func TestResolveSegmentBoundaryInstant(t *testing.T) {
	p := testProfile()

	// The window is closed-open: 22:00 sharp is the night segment.
	seg, err := ResolveSegment(&p, kyivTime(2026, 8, 27, 22, 0))
	require.NoError(t, err)
	assert.Equal(t, "TT_NIGHT", seg.SegmentID)
}

func TestResolveSegmentWeekdayWeekendFilter(t *testing.T) {
	p := testProfile()
	p.TimeSegments = []config.TimeSegment{
		{SegmentID: "WD", Type: config.SegmentWeekday, Start: "06:00", End: "22:00"},
		{SegmentID: "WE", Type: config.SegmentWeekend, Start: "06:00", End: "22:00"},
	}

	// 2026-08-27 is a Thursday, 2026-08-29 a Saturday.
	seg, err := ResolveSegment(&p, kyivTime(2026, 8, 27, 10, 0))
	require.NoError(t, err)
	assert.Equal(t, "WD", seg.SegmentID)

	seg, err = ResolveSegment(&p, kyivTime(2026, 8, 29, 10, 0))
	require.NoError(t, err)
	assert.Equal(t, "WE", seg.SegmentID)
}

func TestResolveSegmentNoCoverage(t *testing.T) {
	p := testProfile()
	p.TimeSegments = []config.TimeSegment{
		{SegmentID: "TT_DAY", Start: "06:00", End: "22:00"},
	}

	_, err := ResolveSegment(&p, kyivTime(2026, 8, 27, 23, 30))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoActiveSegment))
}

func TestSegmentBoundaries(t *testing.T) {
	cfg := testConfig(testProfile())
	from := kyivTime(2026, 8, 27, 10, 0)

	bounds := SegmentBoundaries(cfg, from, 24*time.Hour)
	require.Len(t, bounds, 2)
	assert.True(t, bounds[0].Equal(kyivTime(2026, 8, 27, 22, 0)))
	assert.True(t, bounds[1].Equal(kyivTime(2026, 8, 28, 6, 0)))
}

func TestSegmentBoundariesDeduplicatesAcrossProfiles(t *testing.T) {
	second := testProfile()
	second.Name = "kyiv-d2"
	second.Scope.Suppliers = []string{"D2"}
	cfg := testConfig(testProfile(), second)

	from := kyivTime(2026, 8, 27, 10, 0)
	bounds := SegmentBoundaries(cfg, from, 12*time.Hour)
	require.Len(t, bounds, 1)
	assert.True(t, bounds[0].Equal(kyivTime(2026, 8, 27, 22, 0)))
}
