package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/opanasenko/meteotrack/internal/config"
	"github.com/opanasenko/meteotrack/internal/database"
	"github.com/opanasenko/meteotrack/internal/server"
	"github.com/opanasenko/meteotrack/internal/services"
	"github.com/opanasenko/meteotrack/internal/version"
	"github.com/opanasenko/meteotrack/pkg/metrics"
)

func main() {
	// Command-line flags
	versionFlag := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	// Handle version flag
	if *versionFlag {
		info := version.GetInfo()
		fmt.Println(info.String())
		os.Exit(0)
	}

	log.Printf("Starting MeteoTrack v%s", version.Version)

	// Load configuration; invalid alerting parameters are fatal here, the
	// scheduler never starts with a bad threshold or interval.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := newLogger(&cfg.Logging)

	// Create application context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.Connect(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	redisClient, err := database.ConnectRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	m := metrics.New()
	svc := services.New(db, redisClient, cfg, &logger, m)

	if err := svc.StartScheduler(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	srv := server.New(svc, &cfg.Server, &logger)
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down MeteoTrack...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during HTTP shutdown: %v", err)
	}

	// Stop drains the in-flight cycle before the collection context goes away.
	svc.Stop()

	log.Println("MeteoTrack stopped gracefully")
}

func newLogger(cfg *config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
	} else {
		logger = zerolog.New(os.Stderr).Level(level)
	}
	return logger.With().Timestamp().Logger()
}
