package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	appconfig "clobrelay/config"
	"clobrelay/feed"
	"clobrelay/logger"
	"clobrelay/models"
	"clobrelay/processor"
	"clobrelay/store"
	"clobrelay/subscription"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", appconfig.DefaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Missing feed credentials fail here, before any network activity.
	cfg, err := appconfig.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Clobrelay.Name,
		"version":     cfg.Clobrelay.Version,
		"environment": appconfig.AppEnvironment(),
	}).Info("starting clobrelay")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace, cfg.Metrics.CloudWatch.Dashboard)
	}

	cache, err := store.New(cfg.Store)
	if err != nil {
		log.WithError(err).Error("failed to create store client")
		os.Exit(1)
	}
	defer cache.Close()

	rawFrames := make(chan models.RawFrame, cfg.Channels.RawBuffer)
	active := subscription.NewSet()

	manager := feed.NewManager(cfg, active, rawFrames)
	translator := processor.NewTranslator(cfg, rawFrames, cache, active)
	reconciler := subscription.NewReconciler(cfg, cache, manager, active)

	if err := translator.Start(ctx); err != nil {
		log.WithError(err).Error("translator failed to start")
		os.Exit(1)
	}
	if err := manager.Start(ctx); err != nil {
		log.WithError(err).Error("connection manager failed to start")
		os.Exit(1)
	}
	if err := reconciler.Start(ctx); err != nil {
		log.WithError(err).Error("reconciler failed to start")
		os.Exit(1)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	fatal := false
	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case err := <-manager.Err():
		log.WithError(err).Error("feed connection abandoned")
		fatal = true
	}

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping connection manager")
	manager.Stop()

	log.Info("stopping reconciler")
	reconciler.Stop()

	log.Info("stopping translator")
	translator.Stop()

	log.Info("clobrelay stopped")

	if fatal {
		os.Exit(1)
	}
}
