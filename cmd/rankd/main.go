// Package main is the entry point for the standalone ranking recompute
// worker. It runs the same recompute pipeline as the API server's
// embedded job, for deployments that separate serving from computation.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/promptarena/promptarena/internal/config"
	"github.com/promptarena/promptarena/internal/db"
	"github.com/promptarena/promptarena/internal/jobs"
	"github.com/promptarena/promptarena/internal/middleware"
	"github.com/promptarena/promptarena/internal/prompt"
	"github.com/promptarena/promptarena/internal/ranking"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	once := flag.Bool("once", false, "run a single recompute cycle and exit")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("PromptArena Ranking Worker")
		fmt.Println()
		fmt.Println("Usage: rankd [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)

	env := "development"
	if cfg != nil {
		env = cfg.Env
	}
	logger := middleware.NewLogger(env)
	slog.SetDefault(logger)

	if len(errs) > 0 {
		for _, err := range errs {
			logger.Error("configuration error", "error", err)
		}
		os.Exit(1)
	}
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelConnect()

	conn, err := db.Open(connectCtx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	var calibration *ranking.Calibration
	if cfg.CalibrationPath != "" {
		calibration, err = ranking.LoadCalibration(cfg.CalibrationPath)
		if err != nil {
			logger.Error("failed to load ranking calibration", "path", cfg.CalibrationPath, "error", err)
			os.Exit(1)
		}
		logger.Info("ranking calibration loaded", "path", cfg.CalibrationPath)
	}

	promptRepo := prompt.NewPostgresRepository(conn, logger)
	store := ranking.NewPostgresStore(conn, logger)

	job := ranking.NewRecomputeJob(ranking.RecomputeJobConfig{
		Interval:    time.Duration(cfg.RecomputeIntervalSec) * time.Second,
		Timeout:     time.Duration(cfg.RecomputeTimeoutSec) * time.Second,
		Logger:      logger,
		Metrics:     ranking.NewMetrics(),
		JobMetrics:  jobs.NewMetrics(),
		Calibration: calibration,
	}, promptRepo, store)

	if *once {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.RecomputeTimeoutSec)*time.Second)
		defer cancel()
		if err := job.RecomputeNow(ctx); err != nil {
			logger.Error("recompute failed", "error", err)
			os.Exit(1)
		}
		logger.Info("recompute complete")
		return
	}

	if err := job.Start(context.Background()); err != nil {
		logger.Error("failed to start recompute job", "error", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker...")
	job.Stop()
	logger.Info("worker stopped")
}
