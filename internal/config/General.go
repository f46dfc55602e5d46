package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/elys-network/savers/internal/utils"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// VaultAddress is the account of the vault this instance runs.
	VaultAddress common.Address
	// AssetAddress is the base asset token the vault accepts.
	AssetAddress common.Address
	// DeployerAddress deploys the vault and holds its admin role.
	DeployerAddress common.Address

	// AssetSymbol is the base asset's ticker, e.g. "DAI". The share token is
	// named after it.
	AssetSymbol string
	// AssetDecimals is the base asset's precision.
	AssetDecimals uint8
	// InitialAssetSupply is minted to the deployer when the simulated network
	// starts, in base units.
	InitialAssetSupply sdkmath.Int

	// AccrualBps is the interest the keeper credits to the pool every cycle.
	AccrualBps uint64
	// LoopInterval is the time between keeper cycles.
	LoopInterval time.Duration

	// LogLevel is the zerolog level name.
	LogLevel string
	// LogFile optionally mirrors log output as JSON lines. Empty disables it.
	LogFile string
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// Vault and asset variables are required, ports and log level fall back to defaults.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	if VaultAddress, err = getEnvAsAddress("VAULT_ADDRESS"); err != nil {
		return err
	}
	if AssetAddress, err = getEnvAsAddress("ASSET_ADDRESS"); err != nil {
		return err
	}
	if DeployerAddress, err = getEnvAsAddress("DEPLOYER_ADDRESS"); err != nil {
		return err
	}
	if VaultAddress == AssetAddress || VaultAddress == DeployerAddress {
		return errors.New("VAULT_ADDRESS must differ from ASSET_ADDRESS and DEPLOYER_ADDRESS")
	}

	if AssetSymbol, err = getEnv("ASSET_SYMBOL"); err != nil {
		return err
	}
	if AssetSymbol == "" {
		return errors.New("environment variable ASSET_SYMBOL cannot be empty")
	}

	decimals, err := getEnvAsUint64("ASSET_DECIMALS")
	if err != nil {
		return err
	}
	if decimals > utils.MaxPrecision {
		return fmt.Errorf("environment variable ASSET_DECIMALS must be at most %d, got: %d", utils.MaxPrecision, decimals)
	}
	AssetDecimals = uint8(decimals)

	supply, err := getEnv("INITIAL_ASSET_SUPPLY")
	if err != nil {
		return err
	}
	if InitialAssetSupply, err = utils.ParseDecimalAmount(supply, int(AssetDecimals)); err != nil {
		return fmt.Errorf("environment variable INITIAL_ASSET_SUPPLY is invalid: %w", err)
	}

	if AccrualBps, err = getEnvAsUint64("ACCRUAL_BPS"); err != nil {
		return err
	}
	if AccrualBps > MaxAccrualBps {
		return fmt.Errorf("environment variable ACCRUAL_BPS must be at most %d, got: %d", MaxAccrualBps, AccrualBps)
	}

	if LoopInterval, err = getEnvAsDuration("LOOP_INTERVAL"); err != nil {
		return err
	}
	if LoopInterval < MinLoopInterval {
		return fmt.Errorf("environment variable LOOP_INTERVAL must be at least %s, got: %s", MinLoopInterval, LoopInterval)
	}

	LogLevel = getEnvOrDefault("LOG_LEVEL", DefaultLogLevel)
	LogFile = os.Getenv("LOG_FILE")

	// Load endpoint configuration
	if err := loadEndpointConfig(); err != nil {
		return err
	}

	log.Debug().
		Str("VaultAddress", VaultAddress.Hex()).
		Str("AssetAddress", AssetAddress.Hex()).
		Str("AssetSymbol", AssetSymbol).
		Uint64("AccrualBps", AccrualBps).
		Dur("LoopInterval", LoopInterval).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvOrDefault retrieves a string environment variable, falling back to def when unset or empty.
func getEnvOrDefault(key, def string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return def
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsDuration retrieves an environment variable as a time.Duration such as "30s".
func getEnvAsDuration(key string) (time.Duration, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid duration, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsAddress retrieves an environment variable as a non-zero hex account address.
func getEnvAsAddress(key string) (common.Address, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return common.Address{}, err
	}
	addr, err := utils.ParseAddress(valueStr)
	if err != nil {
		return common.Address{}, errors.New("environment variable " + key + " must be a hex address, got: " + valueStr)
	}
	if addr == (common.Address{}) {
		return common.Address{}, errors.New("environment variable " + key + " cannot be the zero address")
	}
	return addr, nil
}
