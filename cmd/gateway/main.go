// Package main is the entry point for the LLM gateway server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/compresr/llm-gateway/internal/config"
	"github.com/compresr/llm-gateway/internal/gateway"
	"github.com/compresr/llm-gateway/internal/models"
	"github.com/compresr/llm-gateway/internal/providers"
	"github.com/compresr/llm-gateway/internal/ratelimit"
	"github.com/compresr/llm-gateway/internal/telemetry"
)

const (
	gatewayGreen = "\033[38;2;23;128;68m"
	bold         = "\033[1m"
	reset        = "\033[0m"
)

const banner = `
 ██╗     ██╗     ███╗   ███╗     ██████╗  █████╗ ████████╗███████╗██╗    ██╗ █████╗ ██╗   ██╗
 ██║     ██║     ████╗ ████║    ██╔════╝ ██╔══██╗╚══██╔══╝██╔════╝██║    ██║██╔══██╗╚██╗ ██╔╝
 ██║     ██║     ██╔████╔██║    ██║  ███╗███████║   ██║   █████╗  ██║ █╗ ██║███████║ ╚████╔╝
 ██║     ██║     ██║╚██╔╝██║    ██║   ██║██╔══██║   ██║   ██╔══╝  ██║███╗██║██╔══██║  ╚██╔╝
 ███████╗███████╗██║ ╚═╝ ██║    ╚██████╔╝██║  ██║   ██║   ███████╗╚███╔███╔╝██║  ██║   ██║
 ╚══════╝╚══════╝╚═╝     ╚═╝     ╚═════╝ ╚═╝  ╚═╝   ╚═╝   ╚══════╝ ╚══╝╚══╝ ╚═╝  ╚═╝   ╚═╝
`

func printBanner() {
	fmt.Print(gatewayGreen + bold + banner + reset + "\n")
}

// loadEnvFiles loads .env from standard locations, local .env taking
// priority over the user-level one.
func loadEnvFiles() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		_ = godotenv.Load()
		return
	}

	userEnv := filepath.Join(homeDir, ".config", "llm-gateway", ".env")
	if _, err := os.Stat(userEnv); err == nil {
		_ = godotenv.Load(userEnv)
	}

	_ = godotenv.Load()
}

// setupLogging configures zerolog's global logger, mirroring the teacher's
// console-writer setup.
func setupLogging(debug bool) {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	noBanner := flag.Bool("no-banner", false, "suppress startup banner")
	flag.Parse()

	loadEnvFiles()

	if !*noBanner {
		printBanner()
	}

	setupLogging(*debug)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Info().Str("config", *configPath).Int("providers", len(cfg.Providers)).Msg("llm gateway starting")

	registry, err := providers.BuildRegistry(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build provider registry")
	}

	discovery := models.NewDiscovery(registry.ModelListers(), cfg)

	ctx, cancelDiscovery := context.WithTimeout(context.Background(), 30*time.Second)
	initialCatalog, err := discovery.FetchModels(ctx)
	cancelDiscovery()
	if err != nil {
		log.Error().Err(err).Msg("initial model discovery failed")
		panic("Server failed to start: Failed to initialize LLM router: Failed to initialize LLM server: Internal server error")
	}

	catalog := models.NewCatalog()
	catalog.Store(initialCatalog)

	rateLimitStore, err := buildRateLimitStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build rate limit store")
	}

	tel, err := telemetry.New()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}

	gw, err := gateway.New(cfg, registry, catalog, rateLimitStore, tel)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build gateway")
	}

	refreshCtx, stopRefresh := context.WithCancel(context.Background())
	discovery.SpawnUpdater(refreshCtx, catalog)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutdown signal received")
		stopRefresh()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := gw.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("gateway shutdown error")
		}
	}()

	if err := gw.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("gateway error")
	}

	log.Info().Msg("llm gateway stopped")
}

// buildRateLimitStore selects the configured Store backend for per-client
// request limiting (spec §4.6); token-based limiting is handled separately
// and lazily by gateway.New.
func buildRateLimitStore(cfg *config.Config) (ratelimit.Store, error) {
	switch cfg.RateLimit.Store {
	case config.StoreRedis:
		return ratelimit.NewRedisStore(cfg.RateLimit.Redis, cfg.RateLimit.RequestsPerMinute)
	default:
		return ratelimit.NewMemoryStore(cfg.RateLimit.RequestsPerMinute), nil
	}
}
