package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"wattson/config"
	"wattson/internal/dashboard"
	"wattson/internal/diagnostics"
	"wattson/internal/fetcher"
	"wattson/internal/ledger"
	"wattson/internal/processor"
	"wattson/internal/scheduler"
	"wattson/internal/store"
	"wattson/internal/tariffeed"
	"wattson/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Wattson.Name,
		"version": cfg.Wattson.Version,
	}).Info("starting wattson")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.New(cfg.Store.Dir)
	if err := st.Init(); err != nil {
		log.WithError(err).Error("failed to initialize ledger store")
		os.Exit(1)
	}

	proc := processor.New(st, cfg.Store.GuardTimeout, cfg.Tariff.OffPeakEndHour, cfg.Tariff.OffPeakResumeHour)
	diag := diagnostics.NewRecorder(st, cfg.Store.GuardTimeout)
	fetch := fetcher.NewHTTPFetcher(
		cfg.Metering.BaseURL,
		cfg.Metering.UsagePoint,
		cfg.Metering.Measure,
		cfg.Metering.Timeout,
		cfg.Metering.RequestsPerMinute,
	)
	led := ledger.New(cfg, st, proc, fetch, diag)

	// Heal gaps left by downtime before any scheduled work runs.
	if err := led.Backfill(ctx); err != nil {
		log.WithError(err).Warn("startup continuity check incomplete")
	}

	sched := scheduler.New(cfg, st, led)
	if err := sched.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start scheduler")
		os.Exit(1)
	}

	var feed *tariffeed.Subscriber
	if cfg.Feed.Enabled {
		feed = tariffeed.NewSubscriber(cfg, led)
		if err := feed.Start(ctx); err != nil {
			log.WithError(err).Warn("tariff subscriber failed to start")
			feed = nil
		}
	} else {
		log.WithComponent("main").Info("tariff feed disabled; using configured tariff")
	}

	dash := dashboard.NewServer(cfg, led, diag)
	dashErr := make(chan error, 1)
	if dash != nil {
		go func() {
			dashErr <- dash.Run(ctx)
		}()
	} else {
		log.WithComponent("main").Info("dashboard disabled")
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case err := <-dashErr:
		if err != nil {
			log.WithError(err).Error("dashboard failed")
		}
	}

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping scheduler")
	sched.Stop()

	if feed != nil {
		log.Info("stopping tariff subscriber")
		feed.Stop()
	}

	if dash != nil {
		select {
		case <-dashErr:
		case <-time.After(10 * time.Second):
			log.Warn("dashboard shutdown timeout exceeded")
		}
	}

	log.Info("wattson stopped")
}
