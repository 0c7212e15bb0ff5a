package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dialer-platform/internal/attempt"
	"dialer-platform/internal/audit"
	"dialer-platform/internal/auth"
	"dialer-platform/internal/campaign"
	"dialer-platform/internal/config"
	"dialer-platform/internal/credit"
	"dialer-platform/internal/events"
	"dialer-platform/internal/funnel"
	"dialer-platform/internal/httpapi"
	"dialer-platform/internal/pricing"
	"dialer-platform/internal/runner"
	"dialer-platform/internal/telephony"
	"dialer-platform/pkg/logger"
	"dialer-platform/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Services, leaves first.
	credits := credit.NewService(credit.NewSQLStore(db))
	rates, err := pricing.NewService(pricing.DefaultRate)
	if err != nil {
		log.Error("pricing init failed", "err", err)
		os.Exit(1)
	}
	bus := events.NewBus(rdb)
	campaignRepo := campaign.NewSQLRepo(db)
	campaigns := campaign.NewService(campaignRepo, credits, rates, bus)
	attempts := attempt.NewSQLRepo(db)
	metrics := funnel.NewService(attempts)
	auditLog := audit.NewService(audit.NewSQLRepo(db))

	var provider telephony.Provider
	if cfg.Voice.APIKey != "" {
		provider = telephony.NewVoiceAIProvider(cfg.Voice.BaseURL, cfg.Voice.APIKey)
	} else {
		log.Warn("no voice platform key configured, using mock provider")
		provider = telephony.NewMockProvider()
	}

	loop := runner.New(cfg.Runner, campaigns, campaignRepo, attempts, credits, rates, provider, rdb)
	loopCtx := logger.With(rootCtx, log)
	loop.Start(loopCtx)
	defer loop.Stop()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	h := httpapi.Handlers{
		Auth:      authManager,
		Campaigns: campaigns,
		Credits:   credits,
		Metrics:   metrics,
		Audit:     auditLog,
	}
	webhook := telephony.WebhookHandler{Secret: cfg.Voice.WebhookSecret, Concluder: loop}
	registerRoutes(r, h, webhook, auth.RequireAccessToken(authManager), db, rdb)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
