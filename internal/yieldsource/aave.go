package yieldsource

import (
	"context"
	"errors"
	"fmt"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/elys-network/savers/internal/aave"
	"github.com/elys-network/savers/internal/logger"
)

// Asset is the base-asset surface the adapter needs to hand funds to the pool.
type Asset interface {
	Approve(owner, spender common.Address, amount math.Int) error
	BalanceOf(account common.Address) math.Int
}

// BalanceReader reports interest-bearing pool balances, e.g. an aToken.
type BalanceReader interface {
	BalanceOf(account common.Address) math.Int
}

// AaveConfig wires an AaveSource.
type AaveConfig struct {
	// Vault is the account that owns the pool position.
	Vault        common.Address
	AssetAddress common.Address
	Asset        Asset
	ATokens      BalanceReader
	Provider     aave.AddressesProvider
}

// AaveSource deposits the vault's funds into an Aave-style lending pool. The
// pool is resolved through the addresses provider on every call.
type AaveSource struct {
	vault        common.Address
	assetAddress common.Address
	asset        Asset
	aTokens      BalanceReader
	provider     aave.AddressesProvider
	logger       zerolog.Logger
}

var _ YieldSource = (*AaveSource)(nil)

// NewAaveSource validates cfg and returns the adapter.
func NewAaveSource(cfg AaveConfig) (*AaveSource, error) {
	if cfg.Vault == (common.Address{}) {
		return nil, errors.New("vault address cannot be zero")
	}
	if cfg.AssetAddress == (common.Address{}) {
		return nil, errors.New("asset address cannot be zero")
	}
	if cfg.Asset == nil {
		return nil, errors.New("asset cannot be nil")
	}
	if cfg.ATokens == nil {
		return nil, errors.New("aToken reader cannot be nil")
	}
	if cfg.Provider == nil {
		return nil, errors.New("lending pool addresses provider cannot be nil")
	}
	return &AaveSource{
		vault:        cfg.Vault,
		assetAddress: cfg.AssetAddress,
		asset:        cfg.Asset,
		aTokens:      cfg.ATokens,
		provider:     cfg.Provider,
		logger: logger.GetForComponent("yield_source").With().
			Str("vault", cfg.Vault.Hex()).Logger(),
	}, nil
}

func (s *AaveSource) DepositToPool(ctx context.Context, amount math.Int) error {
	pool, err := s.provider.GetLendingPool()
	if err != nil {
		return errors.Join(ErrPoolDepositFailed, err)
	}
	if err := s.asset.Approve(s.vault, pool.Address(), amount); err != nil {
		return errors.Join(ErrPoolDepositFailed, fmt.Errorf("approve lending pool: %w", err))
	}
	if err := pool.Deposit(ctx, s.vault, s.assetAddress, amount, s.vault); err != nil {
		// leave no dangling allowance behind a failed deposit
		if resetErr := s.asset.Approve(s.vault, pool.Address(), math.ZeroInt()); resetErr != nil {
			s.logger.Error().Err(resetErr).Msg("Failed to reset lending pool allowance")
		}
		return errors.Join(ErrPoolDepositFailed, err)
	}
	s.logger.Debug().
		Str("pool", pool.Address().Hex()).
		Str("amount", amount.String()).
		Msg("Deposited into lending pool")
	return nil
}

func (s *AaveSource) WithdrawFromPool(ctx context.Context, amount math.Int) error {
	pool, err := s.provider.GetLendingPool()
	if err != nil {
		return errors.Join(ErrPoolWithdrawFailed, err)
	}
	out, err := pool.Withdraw(ctx, s.vault, s.assetAddress, amount, s.vault)
	if err != nil {
		return errors.Join(ErrPoolWithdrawFailed, err)
	}
	if !out.Equal(amount) {
		return errors.Join(ErrPoolWithdrawFailed, fmt.Errorf("pool returned %s, requested %s", out, amount))
	}
	s.logger.Debug().
		Str("pool", pool.Address().Hex()).
		Str("amount", amount.String()).
		Msg("Withdrew from lending pool")
	return nil
}

func (s *AaveSource) PooledBalance(ctx context.Context) (math.Int, error) {
	if err := ctx.Err(); err != nil {
		return math.ZeroInt(), errors.Join(ErrPoolBalanceFailed, err)
	}
	balance := s.aTokens.BalanceOf(s.vault)
	if balance.IsNil() || balance.IsNegative() {
		return math.ZeroInt(), errors.Join(ErrPoolBalanceFailed, fmt.Errorf("invalid pooled balance %v", balance))
	}
	return balance, nil
}
