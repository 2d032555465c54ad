package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tokenlens/tokenlens/internal/config"
	"github.com/tokenlens/tokenlens/internal/cssstore"
	"github.com/tokenlens/tokenlens/internal/fault"
	"github.com/tokenlens/tokenlens/internal/stats"
	"github.com/tokenlens/tokenlens/internal/storage"
	"github.com/tokenlens/tokenlens/internal/store"
)

// opsSetup parses the shared flags and opens the database.
func opsSetup(name string, args []string) (*storage.DB, *config.Config, context.Context, context.CancelFunc) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	cfg, _, err := loadConfig(*configPath, *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tokenlens: %v\n", err)
		os.Exit(fault.ExitBadArgument)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		cancel()
		fmt.Fprintf(os.Stderr, "tokenlens: %v\n", err)
		os.Exit(fault.ExitOperational)
	}
	return db, cfg, ctx, cancel
}

func runHealth(args []string) {
	db, _, ctx, cancel := opsSetup("health", args)
	defer cancel()
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "unhealthy: %v\n", err)
		os.Exit(fault.ExitOperational)
	}
	fmt.Println("ok")
}

// runOptimize runs database maintenance and a full stats recompute.
func runOptimize(args []string) {
	db, _, ctx, cancel := opsSetup("optimize", args)
	defer cancel()
	defer db.Close()

	if err := db.Optimize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "tokenlens: optimize failed: %v\n", err)
		os.Exit(fault.ExitOperational)
	}

	cache := store.NewMemoryStore(time.Minute)
	defer cache.Close()
	if err := stats.New(db, cache).Recompute(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "tokenlens: stats recompute failed: %v\n", err)
		os.Exit(fault.ExitOperational)
	}
	fmt.Println("optimized")
}

// runSweep runs one CSS store garbage collection pass.
func runSweep(args []string) {
	db, cfg, ctx, cancel := opsSetup("sweep", args)
	defer cancel()
	defer db.Close()

	css, err := cssstore.New(db, cfg.CSSStore)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tokenlens: %v\n", err)
		os.Exit(fault.ExitOperational)
	}
	res, err := css.Sweep(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tokenlens: sweep failed: %v\n", err)
		os.Exit(fault.ExitOperational)
	}
	fmt.Printf("swept %d rows, deleted %d in %s\n", res.Scanned, res.Deleted, res.Duration)
}
