package balancer

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"pricebalancer/internal/config"
)

// ErrNoActiveSegment means the profile schedule has no window containing the
// given instant. This is a configuration error: the schedule should tile the
// day, so the affected unit is skipped and reported rather than retried.
var ErrNoActiveSegment = errors.New("no active segment")

// Timezone is the civil timezone all segment schedules are expressed in.
const Timezone = "Europe/Kyiv"

var segmentLocation = mustLoadLocation(Timezone)

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("balancer: load timezone %s: %v", name, err))
	}
	return loc
}

// Location returns the balancer's civil timezone.
func Location() *time.Location { return segmentLocation }

// SegmentWindow is a concrete, possibly midnight-crossing time interval
// [Start, End) derived from the profile schedule and "now". It is never
// persisted; policy logs carry the resolved bounds instead.
type SegmentWindow struct {
	SegmentID string
	Start     time.Time
	End       time.Time
}

// Contains reports whether t falls inside the closed-open window.
func (w SegmentWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// ResolveSegment maps now to the profile's active segment window. Candidate
// segments are filtered by weekday/weekend type; a window whose end is not
// after its start crosses midnight and is shifted forward or back a day
// depending on which side of the start now falls.
func ResolveSegment(profile *config.Profile, now time.Time) (SegmentWindow, error) {
	now = now.In(segmentLocation)
	weekday := now.Weekday()
	isWeekend := weekday == time.Saturday || weekday == time.Sunday

	for _, seg := range profile.TimeSegments {
		switch seg.Type {
		case config.SegmentWeekday:
			if isWeekend {
				continue
			}
		case config.SegmentWeekend:
			if !isWeekend {
				continue
			}
		}

		startH, startM, err := config.ParseHHMM(seg.Start)
		if err != nil {
			return SegmentWindow{}, fmt.Errorf("balancer.ResolveSegment: segment %s: %w", seg.SegmentID, err)
		}
		endH, endM, err := config.ParseHHMM(seg.End)
		if err != nil {
			return SegmentWindow{}, fmt.Errorf("balancer.ResolveSegment: segment %s: %w", seg.SegmentID, err)
		}

		y, m, d := now.Date()
		start := time.Date(y, m, d, startH, startM, 0, 0, segmentLocation)
		end := time.Date(y, m, d, endH, endM, 0, 0, segmentLocation)

		if !end.After(start) {
			// The window crosses midnight: either it opened today and runs
			// into tomorrow, or it opened yesterday and closes today.
			if !now.Before(start) {
				end = end.AddDate(0, 0, 1)
			} else {
				start = start.AddDate(0, 0, -1)
			}
		}

		if !now.Before(start) && now.Before(end) {
			return SegmentWindow{SegmentID: seg.SegmentID, Start: start, End: end}, nil
		}
	}

	return SegmentWindow{}, fmt.Errorf("%w: profile %s at %s", ErrNoActiveSegment, profile.Name, now.Format(time.RFC3339))
}

// SegmentBoundaries returns the distinct segment window ends across every
// profile in the config, within (from, from+horizon]. The boundary scheduler
// fires a boundary-close run shortly after each of these instants. Boundaries
// are enumerated from wall-clock end times; a boundary on a day where no
// window actually closes resolves to an empty collection scope, which is
// harmless.
func SegmentBoundaries(cfg *config.BalancerConfig, from time.Time, horizon time.Duration) []time.Time {
	local := from.In(segmentLocation)
	until := from.Add(horizon)

	seen := map[int64]bool{}
	var out []time.Time

	for dayOffset := 0; ; dayOffset++ {
		day := local.AddDate(0, 0, dayOffset)
		if day.Add(-24 * time.Hour).After(until) {
			break
		}
		y, m, d := day.Date()
		for i := range cfg.Profiles {
			for _, seg := range cfg.Profiles[i].TimeSegments {
				endH, endM, err := config.ParseHHMM(seg.End)
				if err != nil {
					continue
				}
				end := time.Date(y, m, d, endH, endM, 0, 0, segmentLocation)
				if !end.After(from) || end.After(until) || seen[end.Unix()] {
					continue
				}
				seen[end.Unix()] = true
				out = append(out, end)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
