package handlers

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	"pricebalancer/internal/balancer"
	"pricebalancer/internal/config"
	dbpkg "pricebalancer/internal/db"
)

// ActivePolicyHandler resolves the policy in effect for a
// (mode, supplier, city) unit at a given instant.
//
//	GET /v1/policy/active?mode=LIVE&supplier=D1&city=Kyiv&as_of=2026-08-27T10:00:00Z
func ActivePolicyHandler(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		mode := strings.ToUpper(string(ctx.QueryArgs().Peek("mode")))
		supplier := string(ctx.QueryArgs().Peek("supplier"))
		city := string(ctx.QueryArgs().Peek("city"))
		if mode == "" || supplier == "" || city == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "mode, supplier and city are required")
			return
		}

		asOf := time.Now().UTC()
		if raw := string(ctx.QueryArgs().Peek("as_of")); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				errResponse(ctx, fasthttp.StatusBadRequest, "as_of must be RFC3339")
				return
			}
			asOf = parsed.UTC()
		}

		rec, err := dbpkg.ActivePolicy(db, mode, supplier, city, asOf)
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "database error")
			return
		}
		if rec == nil {
			errResponse(ctx, fasthttp.StatusNotFound, "no active policy")
			return
		}
		jsonResponse(ctx, rec)
	}
}

// PoliciesHandler lists recent policy log rows, newest first.
//
//	GET /v1/policies?mode=TEST&limit=20
func PoliciesHandler(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		mode := strings.ToUpper(string(ctx.QueryArgs().Peek("mode")))
		limit, _ := strconv.Atoi(string(ctx.QueryArgs().Peek("limit")))

		rows, err := dbpkg.RecentPolicies(db, mode, limit)
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "database error")
			return
		}
		jsonResponse(ctx, map[string]any{"policies": rows})
	}
}

// PolicyStatsHandler returns the aggregated band stats of one policy.
//
//	GET /v1/policies/{id}/stats
func PolicyStatsHandler(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id, err := strconv.ParseUint(ctx.UserValue("id").(string), 10, 64)
		if err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "bad policy id")
			return
		}
		rows, err := dbpkg.StatsForPolicy(db, uint(id))
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "database error")
			return
		}
		jsonResponse(ctx, map[string]any{"stats": rows})
	}
}

// LiveStateHandler exposes the LIVE controller state of one supplier day.
//
//	GET /v1/live-state?mode=LIVE&supplier=D1&day=2026-08-27
func LiveStateHandler(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		mode := strings.ToUpper(string(ctx.QueryArgs().Peek("mode")))
		supplier := string(ctx.QueryArgs().Peek("supplier"))
		if mode == "" || supplier == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "mode and supplier are required")
			return
		}

		day := dbpkg.DayOf(time.Now())
		if raw := string(ctx.QueryArgs().Peek("day")); raw != "" {
			parsed, err := time.Parse("2006-01-02", raw)
			if err != nil {
				errResponse(ctx, fasthttp.StatusBadRequest, "day must be YYYY-MM-DD")
				return
			}
			day = parsed.UTC()
		}

		state, err := dbpkg.GetLiveState(db, mode, supplier, day)
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "database error")
			return
		}
		if state == nil {
			errResponse(ctx, fasthttp.StatusNotFound, "no live state")
			return
		}
		jsonResponse(ctx, state)
	}
}

type runRequest struct {
	Mode             string     `json:"mode"`
	RunKey           string     `json:"run_key"`
	ClosedSegmentEnd *time.Time `json:"closed_segment_end"`
}

// RunHandler triggers one pipeline invocation. Used operationally to replay a
// boundary or to force a cycle without waiting for the scheduler; replays are
// safe because every pipeline write is idempotent.
//
//	POST /v1/run {"mode":"LIVE","closed_segment_end":"2026-08-27T06:00:00Z"}
func RunHandler(pipe *balancer.Pipeline) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req runRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "bad request body")
			return
		}
		req.Mode = strings.ToUpper(req.Mode)
		if req.Mode != config.ModeTest && req.Mode != config.ModeLive {
			errResponse(ctx, fasthttp.StatusBadRequest, "mode must be TEST or LIVE")
			return
		}

		report, err := pipe.Run(ctx, balancer.RunParams{
			Mode:             req.Mode,
			Trigger:          balancer.TriggerManual,
			RunKey:           req.RunKey,
			ClosedSegmentEnd: req.ClosedSegmentEnd,
		})
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, err.Error())
			return
		}
		jsonResponse(ctx, report)
	}
}
