package main

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/fasthttp/router"
	"github.com/joho/godotenv"
	"github.com/valyala/fasthttp"

	"pricebalancer/internal/balancer"
	"pricebalancer/internal/config"
	"pricebalancer/internal/db"
	"pricebalancer/internal/http/handlers"
	appmw "pricebalancer/internal/http/middleware"
	"pricebalancer/internal/notify"
	"pricebalancer/internal/orders"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	balancerCfg, err := config.LoadBalancer(cfg.BalancerConfigPath)
	if err != nil {
		log.Fatalf("failed to load balancer config: %v", err)
	}

	db.SetLocation(balancer.Location())
	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	var source orders.Source
	if cfg.OrderSourceURL != "" {
		source = orders.NewClient(cfg.OrderSourceURL, cfg.OrderSourceKey, balancer.Location())
	} else {
		log.Printf("warning: APP_SALESDRIVE_URL is not set, order collection disabled")
	}

	pipe := &balancer.Pipeline{
		DB:            gdb,
		Config:        balancerCfg,
		Orders:        source,
		Notifier:      notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID),
		RetentionDays: cfg.RetentionDays,
	}

	balancer.InitMetrics()

	sched := &balancer.Scheduler{
		Pipeline:   pipe,
		Modes:      runModes(cfg.RunMode),
		FireWindow: time.Duration(cfg.FireWindowSec) * time.Second,
	}
	sched.Start(context.Background())

	r := router.New()

	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	})
	r.GET("/metrics", handlers.PrometheusHandler())

	auth := appmw.APIKeyAuth(cfg.APIKey)
	r.GET("/v1/policy/active", auth(handlers.ActivePolicyHandler(gdb)))
	r.GET("/v1/policies", auth(handlers.PoliciesHandler(gdb)))
	r.GET("/v1/policies/{id}/stats", auth(handlers.PolicyStatsHandler(gdb)))
	r.GET("/v1/live-state", auth(handlers.LiveStateHandler(gdb)))
	r.POST("/v1/run", auth(handlers.RunHandler(pipe)))

	handler := handlers.RequestLogger(r.Handler)

	log.Printf("pricebalancer listening on %s (modes=%v)", cfg.ListenAddr, sched.Modes)
	if err := fasthttp.ListenAndServe(cfg.ListenAddr, handler); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// runModes expands APP_RUN_MODE into the per-cycle mode list. BOTH runs TEST
// before LIVE so fresh TEST stats can seed the LIVE selection of the same
// boundary.
func runModes(mode string) []string {
	switch strings.ToUpper(strings.TrimSpace(mode)) {
	case config.ModeTest:
		return []string{config.ModeTest}
	case config.ModeLive:
		return []string{config.ModeLive}
	default:
		return []string{config.ModeTest, config.ModeLive}
	}
}
