package balancer

import (
	"context"
	"log"
	"time"
)

const (
	defaultRunInterval = 5 * time.Minute
	defaultFireWindow  = 180 * time.Second
)

// Scheduler drives the pipeline: regular runs at a fixed interval keep the
// current segment's policy fresh and its facts flowing, and a boundary-close
// run fires shortly after each segment window ends so the sealed segment is
// settled before the next policy is selected.
type Scheduler struct {
	Pipeline *Pipeline

	// Modes to run each cycle; a BOTH deployment lists TEST before LIVE so
	// that fresh TEST stats can seed the LIVE selection of the same boundary.
	Modes []string

	// Interval between regular runs.
	Interval time.Duration

	// FireWindow is how long after a boundary the close run may still fire.
	// A boundary missed by more than this (process down, clock jump) is
	// caught up by the next regular run instead.
	FireWindow time.Duration
}

// Start launches the scheduling loop in the background. It stops when ctx is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = defaultRunInterval
	}
	window := s.FireWindow
	if window <= 0 {
		window = defaultFireWindow
	}

	poll := window / 3
	if poll > 30*time.Second {
		poll = 30 * time.Second
	}
	if poll < time.Second {
		poll = time.Second
	}

	log.Printf("balancer: scheduler started modes=%v interval=%s fire_window=%s", s.Modes, interval, window)

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	fired := map[int64]bool{}
	var lastRegular time.Time

	for {
		select {
		case <-ctx.Done():
			log.Printf("balancer: scheduler stopped: %v", ctx.Err())
			return
		case <-ticker.C:
		}

		now := s.Pipeline.now()

		for _, boundary := range SegmentBoundaries(s.Pipeline.Config, now.Add(-window), window) {
			if boundary.After(now) || fired[boundary.Unix()] {
				continue
			}
			fired[boundary.Unix()] = true
			s.fireBoundary(ctx, boundary)
		}

		// Prune markers that fell out of the fire window.
		for ts := range fired {
			if now.Unix()-ts > int64(2*window/time.Second) {
				delete(fired, ts)
			}
		}

		if now.Sub(lastRegular) >= interval {
			lastRegular = now
			s.fireRegular(ctx)
		}
	}
}

// fireBoundary runs a boundary-close cycle per mode. The run key is derived
// from the boundary instant, so a replayed fire (restart inside the window,
// overlapping instances) claims the same key and skips the live-state
// bookkeeping.
func (s *Scheduler) fireBoundary(ctx context.Context, boundary time.Time) {
	closed := boundary.UTC()
	for _, mode := range s.Modes {
		report, err := s.Pipeline.Run(ctx, RunParams{
			Mode:             mode,
			Trigger:          TriggerBoundary,
			RunKey:           mode + "|" + closed.Format(time.RFC3339),
			ClosedSegmentEnd: &closed,
		})
		if err != nil {
			log.Printf("balancer: boundary run mode=%s at %s failed: %v", mode, closed.Format(time.RFC3339), err)
			continue
		}
		for _, note := range report.Notes {
			log.Printf("balancer: boundary run mode=%s: %s", mode, note)
		}
	}
}

func (s *Scheduler) fireRegular(ctx context.Context) {
	for _, mode := range s.Modes {
		report, err := s.Pipeline.Run(ctx, RunParams{
			Mode:    mode,
			Trigger: TriggerSchedule,
		})
		if err != nil {
			log.Printf("balancer: scheduled run mode=%s failed: %v", mode, err)
			continue
		}
		if len(report.Notes) > 0 {
			log.Printf("balancer: scheduled run mode=%s finished with %d notes", mode, len(report.Notes))
		}
	}
}
