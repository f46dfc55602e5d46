package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/elys-network/savers/internal/config"
	"github.com/elys-network/savers/internal/keeper"
	"github.com/elys-network/savers/internal/logger"
	"github.com/elys-network/savers/internal/metrics"
	"github.com/elys-network/savers/internal/simnet"
	"github.com/elys-network/savers/internal/state"
	"github.com/elys-network/savers/internal/web"
)

// healthService is the gRPC health service name reported for the vault.
const healthService = "savers.Vault"

// cycleHealth forwards keeper cycles to the metrics and flips the gRPC health
// status with each cycle's outcome.
type cycleHealth struct {
	*metrics.Metrics
	health *health.Server
}

func (c cycleHealth) ObserveCycle(err error) {
	c.Metrics.ObserveCycle(err)
	status := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	c.health.SetServingStatus(healthService, status)
}

// main is the entry point for the savings vault service.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if config.LogFile != "" {
		logFile, err := logger.OpenLogFile(config.LogFile)
		if err != nil {
			log.Fatal().Err(err).Str("path", config.LogFile).Msg("Failed to open log file")
		}
		defer logFile.Close()
		logger.Initialize(config.LogLevel, logFile)
	} else {
		logger.Initialize(config.LogLevel)
	}
	log.Info().Msg("Savers vault service starting...")

	// Persistence is optional; without DB_USER and DB_NAME history stays in logs and metrics only.
	dbCfg, dbEnabled, err := config.LoadDBConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid database configuration")
	}
	if dbEnabled {
		if err := state.InitDB(dbCfg); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database")
		}
		defer state.CloseDB()
		if err := state.EnsureSchema(); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure database schema")
		}
	} else {
		log.Warn().Msg("Database not configured. Operations and snapshots will not be persisted.")
	}

	// --- 2. Network and Vault Deployment ---
	network, err := simnet.Deploy(simnet.Config{
		Deployer:      config.DeployerAddress,
		VaultAddress:  config.VaultAddress,
		AssetAddress:  config.AssetAddress,
		AssetSymbol:   config.AssetSymbol,
		AssetDecimals: config.AssetDecimals,
		InitialSupply: config.InitialAssetSupply,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to deploy vault")
	}

	m := metrics.Default(int(config.AssetDecimals))
	network.Vault.AddObserver(m)
	network.Vault.Shares().Subscribe(m)
	if state.DB != nil {
		network.Vault.AddObserver(&state.ReceiptStore{})
		network.Vault.Shares().Subscribe(&state.EventStore{})
	}

	healthServer := health.NewServer()
	healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)

	k, err := keeper.New(keeper.Config{
		Vault:      network.Vault,
		Accruer:    network,
		AccrualBps: config.AccrualBps,
		Recorder:   cycleHealth{Metrics: m, health: healthServer},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create keeper")
	}
	network.Vault.AddObserver(k)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- 3. Start Servers ---
	webServer, err := web.NewWebServer(web.Config{
		Port:          config.WebPort,
		Vault:         network.Vault,
		Faucet:        network,
		AccountWrites: config.AccountWrites,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create web server")
	}
	serverErr := make(chan error, 2)
	go func() {
		log.Info().Int("port", config.WebPort).Str("url", fmt.Sprintf("http://localhost:%d", config.WebPort)).Msg("Starting vault HTTP API")
		if err := webServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("web server: %w", err)
		}
	}()

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", config.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Int("port", config.GRPCPort).Msg("Failed to listen for gRPC")
	}
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	go func() {
		log.Info().Int("port", config.GRPCPort).Msg("Starting gRPC health service")
		if err := grpcServer.Serve(listener); err != nil {
			serverErr <- fmt.Errorf("gRPC server: %w", err)
		}
	}()

	// --- 4. Start Keeper Loop ---
	keeperDone := make(chan struct{})
	go func() {
		defer close(keeperDone)
		k.RunLoop(rootCtx, config.LoopInterval)
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-serverErr:
		log.Error().Err(err).Msg("Server failed, shutting down")
		stop()
	}

	// --- 5. Graceful Shutdown ---
	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Web server shutdown failed")
	}
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		log.Warn().Msg("Forcing gRPC shutdown")
		grpcServer.Stop()
	}
	<-keeperDone
	log.Info().Msg("Savers vault service stopped")
}
