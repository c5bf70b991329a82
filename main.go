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

	"formulaflow/config"
	"formulaflow/internal/api"
	"formulaflow/internal/auth"
	"formulaflow/internal/channel"
	"formulaflow/internal/metrics"
	"formulaflow/internal/store"
	"formulaflow/logger"
	"formulaflow/processor"
	"formulaflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	flag.Parse()

	path := config.ResolveConfigPath(*configPath)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"path": path}).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	env := config.AppEnvironment()
	log.WithFields(logger.Fields{
		"service":       cfg.Service.Name,
		"version":       cfg.Service.Version,
		"specification": cfg.Service.Specification,
		"environment":   env,
		"config":        path,
	}).Info("starting formulaflow")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Configure(cfg.Metrics)
	metrics.Init()
	if cfg.Metrics.CloudWatch.Enabled {
		metrics.InitCloudWatch(ctx, cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace, cfg.Metrics.CloudWatch.Dashboard)
	}

	if strings.ToLower(os.Getenv("LOG_LEVEL")) == "report" || strings.ToLower(cfg.Logging.Level) == "report" {
		metrics.StartReport(ctx, log, 30*time.Second)
	}

	repo := store.NewMemory()

	proc, err := processor.NewProcessor(cfg, repo)
	if err != nil {
		log.WithError(err).Error("failed to create processor")
		os.Exit(1)
	}

	var (
		export       *channel.Export
		seriesWriter *writer.SeriesWriter
	)
	if cfg.Writer.Enabled {
		export = channel.NewExport(cfg.Writer.BufferSize)
		export.StartMetricsReporting(ctx, cfg.Writer.FlushInterval)

		seriesWriter, err = writer.NewSeriesWriter(cfg, export.Reader())
		if err != nil {
			log.WithError(err).Error("failed to create series writer")
			os.Exit(1)
		}
		proc.SetExport(export.Writer())
		if err := seriesWriter.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start series writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("series export disabled; skipping writer")
	}

	issuer := auth.NewIssuer(cfg.Auth.TokenTTL, cfg.Auth.Scope, cfg.Auth.Strict || config.IsProductionLike(env))
	server := api.NewServer(cfg, log, repo, proc, issuer)

	if err := server.Run(ctx); err != nil {
		log.WithError(err).Error("HTTP API failed")
		stop()
	}

	log.Info("starting graceful shutdown")
	if seriesWriter != nil {
		// A timed-out shutdown can leave handlers running; detach them first.
		proc.SetExport(nil)
		export.Close()
		log.Info("stopping series writer")
		seriesWriter.Stop()
	}

	log.Info("formulaflow stopped")
}
