// Package main is the tokenlens entry point.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/tokenlens/tokenlens/internal/config"
	"github.com/tokenlens/tokenlens/internal/monitoring"
)

// Version is stamped by the release build.
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "serve", "start":
		runServe(os.Args[2:])
	case "scan":
		runScan(os.Args[2:])
	case "health":
		runHealth(os.Args[2:])
	case "optimize":
		runOptimize(os.Args[2:])
	case "sweep":
		runSweep(os.Args[2:])
	case "version", "-v", "--version":
		fmt.Printf("tokenlens %s\n", Version)
	case "help", "-h", "--help":
		printHelp()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printHelp()
		os.Exit(2)
	}
}

// loadEnvFiles loads .env from standard locations: the user config
// directory first, then the working directory (which can override).
func loadEnvFiles() {
	if homeDir, err := os.UserHomeDir(); err == nil {
		configEnv := filepath.Join(homeDir, ".config", "tokenlens", ".env")
		if _, err := os.Stat(configEnv); err == nil {
			_ = godotenv.Load(configEnv)
		}
	}
	_ = godotenv.Load()
}

// resolveConfig resolves configuration bytes: user flag, then
// filesystem locations, then the embedded default.
func resolveConfig(userConfig string) ([]byte, string, error) {
	if userConfig != "" {
		data, err := os.ReadFile(userConfig)
		if err != nil {
			return nil, "", fmt.Errorf("config file not found: %s", userConfig)
		}
		return data, userConfig, nil
	}

	searchPaths := []string{}
	if homeDir, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(homeDir, ".config", "tokenlens", "config.yaml"))
	}
	searchPaths = append(searchPaths, "configs/config.yaml", "configs/default.yaml")

	for _, path := range searchPaths {
		if data, err := os.ReadFile(path); err == nil {
			return data, path, nil
		}
	}

	if data, err := getEmbeddedConfig("default"); err == nil {
		return data, "(embedded) default.yaml", nil
	}
	return nil, "", fmt.Errorf("no config file found; specify --config path")
}

// loadConfig combines env loading, config resolution, and logger setup.
func loadConfig(path string, debug bool) (*config.Config, string, error) {
	loadEnvFiles()

	data, source, err := resolveConfig(path)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.LoadFromBytes(data)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", source, err)
	}

	level := cfg.Monitoring.LogLevel
	if debug {
		level = "debug"
	}
	monitoring.Global(monitoring.LoggerConfig{
		Level:  level,
		Format: cfg.Monitoring.LogFormat,
		Output: cfg.Monitoring.LogOutput,
	})
	return cfg, source, nil
}

func printHelp() {
	fmt.Println("tokenlens - design token extraction service")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  tokenlens <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve        Start the scan and query HTTP server")
	fmt.Println("  scan URL     Run one scan from the command line")
	fmt.Println("  health       Check database connectivity")
	fmt.Println("  optimize     Run database maintenance and a stats recompute")
	fmt.Println("  sweep        Run one CSS store garbage collection pass")
	fmt.Println("  version      Print version information")
	fmt.Println("  help         Show this help message")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config FILE   Config file (default: ~/.config/tokenlens/config.yaml)")
	fmt.Println("  --debug         Enable debug logging")
	fmt.Println()
	fmt.Println("Scan options:")
	fmt.Println("  tokenlens scan URL [--quality fast|standard|premium] [--json]")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  DATABASE_URL, FETCH_USER_AGENT, CSS_TTL_DAYS, MAX_CONCURRENT_SCANS,")
	fmt.Println("  REVALIDATE_AFTER_MS, HARD_EXPIRY_MS (see configs/default.yaml)")
}
