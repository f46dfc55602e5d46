package config

import (
	"errors"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/elys-network/savers/internal/state"
)

// Endpoint configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// WebPort is the port of the HTTP API and the /metrics endpoint.
	WebPort int
	// GRPCPort is the port of the gRPC health service.
	GRPCPort int
	// AccountWrites exposes POST /api/deposit and /api/withdraw. Requests name
	// the account they act for and are not authenticated.
	AccountWrites bool
)

// loadEndpointConfig loads endpoint configuration from environment variables.
// This function is called by LoadConfig() in General.go.
func loadEndpointConfig() error {
	log.Info().Msg("Loading endpoint configuration from environment variables...")

	var err error

	if WebPort, err = getEnvAsPort("WEB_PORT", DefaultWebPort); err != nil {
		return err
	}
	if GRPCPort, err = getEnvAsPort("GRPC_PORT", DefaultGRPCPort); err != nil {
		return err
	}
	if WebPort == GRPCPort {
		return errors.New("WEB_PORT and GRPC_PORT must differ")
	}
	if AccountWrites, err = getEnvAsBool("ENABLE_ACCOUNT_WRITES", false); err != nil {
		return err
	}

	log.Debug().
		Int("WebPort", WebPort).
		Int("GRPCPort", GRPCPort).
		Bool("AccountWrites", AccountWrites).
		Msg("Endpoint configuration loaded successfully.")

	return nil
}

// LoadDBConfig reads the DB_* variables. ok is false when DB_USER or DB_NAME
// is unset, in which case the service runs without persistence.
func LoadDBConfig() (cfg state.DBConfig, ok bool, err error) {
	cfg = state.DBConfig{
		Host:     getEnvOrDefault("DB_HOST", "localhost"),
		User:     getEnvOrDefault("DB_USER", ""),
		Password: getEnvOrDefault("DB_PASSWORD", ""),
		DBName:   getEnvOrDefault("DB_NAME", ""),
		SSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),
	}
	if cfg.Port, err = getEnvAsPort("DB_PORT", 5432); err != nil {
		return cfg, false, err
	}
	return cfg, cfg.User != "" && cfg.DBName != "", nil
}

func getEnvAsPort(key string, def int) (int, error) {
	valueStr := getEnvOrDefault(key, "")
	if valueStr == "" {
		return def, nil
	}
	port, err := strconv.Atoi(valueStr)
	if err != nil || port <= 0 || port > 65535 {
		return 0, errors.New("environment variable " + key + " must be a valid port, got: " + valueStr)
	}
	return port, nil
}

func getEnvAsBool(key string, def bool) (bool, error) {
	raw := getEnvOrDefault(key, "")
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.New("environment variable " + key + " must be a boolean, got: " + raw)
	}
	return v, nil
}
