package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"firewatch/internal/alerts"
	"firewatch/internal/api"
	"firewatch/internal/camera"
	"firewatch/internal/classify"
	"firewatch/internal/config"
	"firewatch/internal/imaging"
	"firewatch/internal/logging"
	"firewatch/internal/notify"
	"firewatch/internal/pipeline"
	"firewatch/internal/storage"
	"firewatch/internal/upload"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "firewatch:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file (YAML or JSON); omit to configure from environment")
	replayDir := flag.String("replay", "", "process frames from this directory instead of live cameras, then exit")
	heartbeatFile := flag.String("heartbeat", "", "touch this file after each completed cycle")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *replayDir != "" {
		cfg.Replay.Dir = *replayDir
	}
	if *heartbeatFile != "" {
		cfg.Heartbeat.File = *heartbeatFile
	}

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting firewatch",
		"version", version,
		"storage", cfg.Storage.Driver,
		"classifier", cfg.Classifier.Endpoint,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	session, err := imaging.NewSession()
	if err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	defer session.Close()

	var uploader pipeline.ObjectUploader = upload.Disabled{}
	if cfg.Upload.Enabled {
		u, err := upload.New(cfg.Upload)
		if err != nil {
			return fmt.Errorf("connect object store: %w", err)
		}
		uploader = u
	}

	var mailer *notify.Mailer
	if cfg.Notify.Email.Enabled {
		mailer = notify.NewMailer(cfg.Notify.Email)
	}
	var publisher *notify.Publisher
	if cfg.Notify.Kafka.Enabled {
		publisher = notify.NewPublisher(cfg.Notify.Kafka)
		defer publisher.Close()
	}
	notifier := notify.NewNotifier(mailer, publisher, logging.Component(logger, "notify"))

	recent := alerts.NewStore(cfg.Alerts.StoreLimit)

	pipe, err := pipeline.New(cfg, pipeline.Deps{
		Store:      store,
		Fetcher:    camera.NewFetcher(cfg.Fetch, logging.Component(logger, "camera")),
		Classifier: classify.NewClient(cfg.Classifier),
		Uploader:   uploader,
		Notifier:   notifier,
		Session:    session,
		Recent:     recent,
		Logger:     logging.Component(logger, "pipeline"),
	})
	if err != nil {
		return err
	}

	api.Start(ctx, cfg, store, recent, pipe.Queue(), logging.Component(logger, "api"), version)

	if err := pipe.Run(ctx); err != nil {
		return err
	}
	logger.Info("firewatch stopped")
	return nil
}
