// Command facilitator runs the hosted x402 facilitator service for Stellar
// networks: payment verification, settlement with replay protection, the
// supported-kinds listing, and the discovery catalog.
//
// Configuration comes from the environment; a local .env file is honored.
//
//	PORT                HTTP listen port (default 8080)
//	NETWORK             comma-separated network ids (default stellar-testnet)
//	HORIZON_URL         Horizon override, single-network deployments only
//	SOROBAN_RPC_URL     Soroban RPC override, single-network deployments only
//	REDIS_URL           Redis URL for shared replay and discovery state
//	FEE_SPONSOR_SECRET  S... seed enabling fee-bump sponsorship of settlements
//	ENVIRONMENT         "production" refuses to start without REDIS_URL
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	x402 "github.com/mertkaradayi/stellar-x402"
	"github.com/mertkaradayi/stellar-x402/extensions/bazaar"
	"github.com/mertkaradayi/stellar-x402/extensions/idempotency"
	stellar "github.com/mertkaradayi/stellar-x402/mechanisms/stellar"
	signers "github.com/mertkaradayi/stellar-x402/signers/stellar"
)

const (
	// replayTTL bounds redis replay records. Records must outlive any
	// plausible transaction validity window.
	replayTTL = time.Hour

	// payloadCacheTTL bounds the service-edge settle deduplication cache.
	payloadCacheTTL = 10 * time.Minute

	shutdownTimeout = 10 * time.Second
)

type serviceConfig struct {
	port        string
	networks    []string
	horizonURL  string
	sorobanURL  string
	redisURL    string
	sponsorSeed string
	production  bool
}

func loadServiceConfig() (*serviceConfig, error) {
	cfg := &serviceConfig{
		port:        envOr("PORT", "8080"),
		horizonURL:  os.Getenv("HORIZON_URL"),
		sorobanURL:  os.Getenv("SOROBAN_RPC_URL"),
		redisURL:    os.Getenv("REDIS_URL"),
		sponsorSeed: os.Getenv("FEE_SPONSOR_SECRET"),
		production:  strings.EqualFold(os.Getenv("ENVIRONMENT"), "production"),
	}

	for _, id := range strings.Split(envOr("NETWORK", stellar.NetworkTestnet), ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if !stellar.IsValidNetwork(id) {
			return nil, fmt.Errorf("unsupported network %q (supported: %s)",
				id, strings.Join(stellar.SupportedNetworks(), ", "))
		}
		cfg.networks = append(cfg.networks, id)
	}
	if len(cfg.networks) == 0 {
		return nil, errors.New("NETWORK must name at least one network")
	}

	if (cfg.horizonURL != "" || cfg.sorobanURL != "") && len(cfg.networks) != 1 {
		return nil, errors.New("HORIZON_URL and SOROBAN_RPC_URL overrides need a single NETWORK")
	}
	if cfg.production && cfg.redisURL == "" {
		return nil, errors.New("ENVIRONMENT=production requires REDIS_URL: in-memory replay state does not survive restarts")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	if err := run(); err != nil {
		slog.Error("facilitator exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := loadServiceConfig()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if cfg.production {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var catalog bazaar.Catalog
	var wrapOpts []idempotency.Option
	mechOpts := []stellar.FacilitatorOption{stellar.WithLogger(logger)}

	if cfg.redisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.redisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis unreachable: %w", err)
		}

		mechOpts = append(mechOpts,
			stellar.WithReplayStore(idempotency.NewRedisStore(redisClient, "x402:settlements", replayTTL)))
		wrapOpts = append(wrapOpts,
			idempotency.WithStore(idempotency.NewRedisStore(redisClient, "x402:payloads", payloadCacheTTL)))
		catalog = bazaar.NewRedisCatalog(redisClient, "")
		logger.Info("using redis state", "addr", redisOpts.Addr)
	} else {
		catalog = bazaar.NewMemoryCatalog()
		logger.Warn("REDIS_URL not set, replay protection and discovery state are in-memory only")
	}

	if cfg.horizonURL != "" || cfg.sorobanURL != "" {
		base, err := stellar.GetNetworkConfig(cfg.networks[0])
		if err != nil {
			return err
		}
		if cfg.horizonURL != "" {
			base.HorizonURL = cfg.horizonURL
		}
		if cfg.sorobanURL != "" {
			base.SorobanRPCURL = cfg.sorobanURL
		}
		mechOpts = append(mechOpts, stellar.WithNetworkConfig(base))
	}

	if cfg.sponsorSeed != "" {
		sponsor, err := signers.NewFeeSponsor(cfg.sponsorSeed)
		if err != nil {
			return fmt.Errorf("FEE_SPONSOR_SECRET: %w", err)
		}
		mechOpts = append(mechOpts, stellar.WithFeeSponsor(sponsor))
		logger.Info("fee sponsorship enabled", "sponsor", sponsor.PublicKey())
	}

	registry := x402.NewX402Facilitator()
	if err := stellar.RegisterFacilitator(registry, cfg.networks, mechOpts...); err != nil {
		return fmt.Errorf("register stellar facilitator: %w", err)
	}
	facilitator := idempotency.Wrap(registry, wrapOpts...)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	newServiceMetrics(promRegistry).instrument(facilitator)

	srv := newServer(facilitator, catalog, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.port,
		Handler:           srv.router(promRegistry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("facilitator listening",
			"port", cfg.port,
			"networks", strings.Join(cfg.networks, ","),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logger.Info("shutting down")
	return httpServer.Shutdown(shutdownCtx)
}
