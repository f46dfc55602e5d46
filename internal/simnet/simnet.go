/*

This file deploys a complete in-process savings network: the base asset, a
lending pool with a reserve for it, the pool's addresses provider, the yield
source adapter and the vault on top.

*/

package simnet

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"github.com/elys-network/savers/internal/aave"
	"github.com/elys-network/savers/internal/ledger"
	"github.com/elys-network/savers/internal/logger"
	"github.com/elys-network/savers/internal/vault"
	"github.com/elys-network/savers/internal/yieldsource"
)

// Contract addresses are derived from the deployer the way CREATE assigns
// them, in deployment order.
const (
	poolNonce = iota
	aTokenNonce
)

// Config holds the deployment parameters.
type Config struct {
	Deployer      common.Address
	VaultAddress  common.Address
	AssetAddress  common.Address
	AssetSymbol   string
	AssetDecimals uint8
	// InitialSupply is minted to the deployer.
	InitialSupply sdkmath.Int
}

// Network is a deployed simulation.
type Network struct {
	Asset    *ledger.Ledger
	Pool     *aave.Pool
	AToken   *aave.AToken
	Provider *aave.Provider
	Source   *yieldsource.AaveSource
	Vault    *vault.Vault

	deployer     common.Address
	assetAddress common.Address
	logger       zerolog.Logger
}

// Deploy validates cfg and wires every contract of the network.
func Deploy(cfg Config) (*Network, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("simnet configuration validation failed: %w", err)
	}
	log := logger.GetForComponent("simnet")

	asset, err := ledger.New(ledger.Config{
		Name:     cfg.AssetSymbol,
		Symbol:   cfg.AssetSymbol,
		Decimals: cfg.AssetDecimals,
		Address:  cfg.AssetAddress,
		Admin:    cfg.Deployer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to deploy asset %s: %w", cfg.AssetSymbol, err)
	}
	if cfg.InitialSupply.IsPositive() {
		if err := asset.Mint(cfg.Deployer, cfg.Deployer, cfg.InitialSupply); err != nil {
			return nil, fmt.Errorf("failed to mint initial supply: %w", err)
		}
	}

	pool := aave.NewPool(crypto.CreateAddress(cfg.Deployer, poolNonce))
	aToken, err := pool.InitReserve(cfg.AssetAddress, asset, crypto.CreateAddress(cfg.Deployer, aTokenNonce))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s reserve: %w", cfg.AssetSymbol, err)
	}
	provider := aave.NewProvider(cfg.Deployer, pool)

	source, err := yieldsource.NewAaveSource(yieldsource.AaveConfig{
		Vault:        cfg.VaultAddress,
		AssetAddress: cfg.AssetAddress,
		Asset:        asset,
		ATokens:      aToken,
		Provider:     provider,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create yield source: %w", err)
	}

	v, err := vault.New(vault.Config{
		Address:       cfg.VaultAddress,
		Deployer:      cfg.Deployer,
		AssetAddress:  cfg.AssetAddress,
		Asset:         asset,
		AssetSymbol:   cfg.AssetSymbol,
		AssetDecimals: cfg.AssetDecimals,
		YieldSource:   source,
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("asset", cfg.AssetAddress.Hex()).
		Str("pool", pool.Address().Hex()).
		Str("aToken", aToken.Address().Hex()).
		Str("vault", v.Address().Hex()).
		Str("shares", v.Shares().Address().Hex()).
		Msg("Simulated network deployed")

	return &Network{
		Asset:        asset,
		Pool:         pool,
		AToken:       aToken,
		Provider:     provider,
		Source:       source,
		Vault:        v,
		deployer:     cfg.Deployer,
		assetAddress: cfg.AssetAddress,
		logger:       log,
	}, nil
}

func validateConfig(cfg Config) error {
	if cfg.Deployer == (common.Address{}) {
		return errors.New("deployer address cannot be zero")
	}
	if cfg.VaultAddress == (common.Address{}) {
		return errors.New("vault address cannot be zero")
	}
	if cfg.AssetAddress == (common.Address{}) {
		return errors.New("asset address cannot be zero")
	}
	if cfg.AssetSymbol == "" {
		return errors.New("asset symbol cannot be empty")
	}
	if cfg.InitialSupply.IsNil() || cfg.InitialSupply.IsNegative() {
		return errors.New("initial supply must be zero or positive")
	}
	return nil
}

// Accrue grows every pool deposit by bps basis points and mints the matching
// underlying to the pool so the interest can be withdrawn. It runs under the
// vault lock, so it is ordered against deposits and withdrawals.
func (n *Network) Accrue(ctx context.Context, bps uint64) (sdkmath.Int, error) {
	if err := ctx.Err(); err != nil {
		return sdkmath.ZeroInt(), err
	}
	interest := sdkmath.ZeroInt()
	err := n.Vault.Exclusive(ctx, func(context.Context) error {
		accrued, err := n.Pool.AccrueInterest(n.assetAddress, bps)
		if err != nil {
			return err
		}
		if accrued.IsPositive() {
			if err := n.Asset.Mint(n.deployer, n.Pool.Address(), accrued); err != nil {
				return fmt.Errorf("failed to fund accrued interest: %w", err)
			}
		}
		interest = accrued
		return nil
	})
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return interest, nil
}

// Fund pays amount of the asset from the deployer's supply to account and
// raises account's allowance to the vault by the same amount.
func (n *Network) Fund(ctx context.Context, account common.Address, amount sdkmath.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := n.Asset.Transfer(n.deployer, account, amount); err != nil {
		return err
	}
	vaultAddress := n.Vault.Address()
	allowance := n.Asset.Allowance(account, vaultAddress)
	if allowance.Equal(ledger.MaxUint256) {
		return nil
	}
	raised := new(big.Int).Add(allowance.BigInt(), amount.BigInt())
	newAllowance := ledger.MaxUint256
	if raised.Cmp(ledger.MaxUint256.BigInt()) < 0 {
		newAllowance = sdkmath.NewIntFromBigInt(raised)
	}
	if err := n.Asset.Approve(account, vaultAddress, newAllowance); err != nil {
		return err
	}
	n.logger.Debug().
		Str("account", account.Hex()).
		Str("amount", amount.String()).
		Msg("Account funded")
	return nil
}
