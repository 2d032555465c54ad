package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/tokenlens/tokenlens/internal/cssstore"
	"github.com/tokenlens/tokenlens/internal/fault"
)

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	cfg, source, err := loadConfig(*configPath, *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tokenlens: %v\n", err)
		os.Exit(fault.ExitBadArgument)
	}

	log.Info().
		Str("version", Version).
		Str("config", source).
		Msg("tokenlens starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := buildApp(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Startup failed")
		os.Exit(fault.ExitOperational)
	}
	app.start()

	// Background GC for unreferenced CSS bodies.
	go app.css.RunSweeper(ctx, cfg.CSSStore.SweepInterval, func(res *cssstore.SweepResult) {
		app.metrics.RecordSweep(res.Deleted)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      app.api.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP shutdown error")
		}
		cancel()
	}()

	log.Info().
		Str("addr", srv.Addr).
		Int("scan_slots", cfg.Scan.MaxConcurrent).
		Msg("Listening")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("Server error")
		app.close()
		os.Exit(fault.ExitOperational)
	}

	// Drain running scans before closing the database.
	app.close()
	log.Info().Msg("tokenlens stopped")
}
