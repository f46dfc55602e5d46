/*

This file contains the savings vault. Depositors hand over the base asset and
receive shares of the vault's pooled position. The position is forwarded to a
yield source and grows with accrued interest, so each share's claim grows with
it.

*/

package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"github.com/elys-network/savers/internal/access"
	"github.com/elys-network/savers/internal/ledger"
	"github.com/elys-network/savers/internal/logger"
	"github.com/elys-network/savers/internal/types"
	"github.com/elys-network/savers/internal/yieldsource"
)

var (
	ErrInvalidAmount                  = errors.New("amount must be greater than zero")
	ErrInsufficientAllowanceOrBalance = errors.New("insufficient allowance or balance")
	ErrZeroShares                     = errors.New("deposit would mint zero shares")
	ErrZeroAssets                     = errors.New("withdraw would release zero underlying")
	ErrPoolDepleted                   = errors.New("pooled balance is zero while shares are outstanding")
	ErrReentrantCall                  = errors.New("reentrant call")
	ErrPayoutFailed                   = errors.New("underlying payout failed")
	ErrRefundFailed                   = errors.New("refund of pulled underlying failed")

	// Sentinels from the packages the vault composes, re-exported so callers
	// can match every failure against this package.
	ErrUnauthorized        = access.ErrUnauthorized
	ErrInsufficientBalance = ledger.ErrInsufficientBalance
	ErrOverflow            = ledger.ErrOverflow
	ErrPoolDepositFailed   = yieldsource.ErrPoolDepositFailed
	ErrPoolWithdrawFailed  = yieldsource.ErrPoolWithdrawFailed
)

var vaultLogger = logger.GetForComponent("vault")

// Asset is the base-asset token surface the vault needs.
type Asset interface {
	BalanceOf(account common.Address) sdkmath.Int
	Transfer(from, to common.Address, amount sdkmath.Int) error
	TransferFrom(spender, from, to common.Address, amount sdkmath.Int) error
}

// allowanceAsset is implemented by assets whose allowances the vault can
// reinstate when a deposit is undone.
type allowanceAsset interface {
	Allowance(owner, spender common.Address) sdkmath.Int
	Approve(owner, spender common.Address, amount sdkmath.Int) error
}

// Observer receives a receipt after every deposit or withdraw attempt,
// successful or not. Observers run on the calling goroutine after the vault
// lock is released.
type Observer interface {
	ObserveOperation(receipt types.OperationReceipt)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(receipt types.OperationReceipt)

func (f ObserverFunc) ObserveOperation(receipt types.OperationReceipt) { f(receipt) }

// Config holds everything needed to deploy a vault.
type Config struct {
	// Address is the vault's own account. It holds pulled underlying between
	// steps and owns the pool position.
	Address common.Address
	// Deployer receives the vault's default admin role.
	Deployer common.Address

	AssetAddress  common.Address
	Asset         Asset
	AssetSymbol   string
	AssetDecimals uint8

	// Shares is an existing share ledger. The vault must hold its minter
	// role. When nil the vault deploys its own ledger at SharesAddress, or at
	// an address derived from the vault's when SharesAddress is zero.
	Shares        *ledger.Ledger
	SharesAddress common.Address

	YieldSource yieldsource.YieldSource
}

// Vault pools deposits into a yield source and accounts for them in shares.
type Vault struct {
	address      common.Address
	assetAddress common.Address
	asset        Asset
	shares       *ledger.Ledger
	roles        *access.Roles

	// mu serializes deposits and withdrawals. Lock order is vault, then the
	// share ledger.
	mu     sync.Mutex
	srcMu  sync.RWMutex
	source yieldsource.YieldSource

	obsMu     sync.RWMutex
	observers []Observer

	clock  func() time.Time
	logger zerolog.Logger
}

// New validates cfg and deploys the vault.
func New(cfg Config) (*Vault, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("vault configuration validation failed: %w", err)
	}

	shares := cfg.Shares
	if shares == nil {
		sharesAddress := cfg.SharesAddress
		if sharesAddress == (common.Address{}) {
			sharesAddress = crypto.CreateAddress(cfg.Address, 1)
		}
		var err error
		shares, err = ledger.New(ledger.Config{
			Name:     "Savers " + cfg.AssetSymbol,
			Symbol:   "s" + cfg.AssetSymbol,
			Decimals: cfg.AssetDecimals,
			Address:  sharesAddress,
			Admin:    cfg.Address,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to deploy share ledger: %w", err)
		}
	} else if !shares.HasRole(access.MinterRole, cfg.Address) {
		return nil, access.MissingRoleError(access.MinterRole, cfg.Address)
	}

	v := &Vault{
		address:      cfg.Address,
		assetAddress: cfg.AssetAddress,
		asset:        cfg.Asset,
		shares:       shares,
		roles:        access.New(cfg.Deployer),
		source:       cfg.YieldSource,
		clock:        time.Now,
		logger:       vaultLogger.With().Str("vault", cfg.Address.Hex()).Logger(),
	}

	v.logger.Info().
		Str("asset", cfg.AssetAddress.Hex()).
		Str("shares", shares.Address().Hex()).
		Str("sharesSymbol", shares.Symbol()).
		Str("deployer", cfg.Deployer.Hex()).
		Msg("Vault deployed")
	return v, nil
}

func validateConfig(cfg Config) error {
	if cfg.Address == (common.Address{}) {
		return errors.New("vault address cannot be zero")
	}
	if cfg.Deployer == (common.Address{}) {
		return errors.New("deployer address cannot be zero")
	}
	if cfg.AssetAddress == (common.Address{}) {
		return errors.New("asset address cannot be zero")
	}
	if cfg.Asset == nil {
		return errors.New("asset cannot be nil")
	}
	if cfg.YieldSource == nil {
		return errors.New("yield source cannot be nil")
	}
	if cfg.Shares == nil && cfg.AssetSymbol == "" {
		return errors.New("asset symbol is required to deploy the share ledger")
	}
	if cfg.Shares != nil && cfg.Shares.Address() == cfg.AssetAddress {
		return errors.New("share ledger cannot be the base asset")
	}
	return nil
}

func (v *Vault) Address() common.Address      { return v.address }
func (v *Vault) AssetAddress() common.Address { return v.assetAddress }

// Shares returns the vault's share ledger.
func (v *Vault) Shares() *ledger.Ledger { return v.shares }

// YieldSource returns the adapter currently in use.
func (v *Vault) YieldSource() yieldsource.YieldSource {
	v.srcMu.RLock()
	defer v.srcMu.RUnlock()
	return v.source
}

// SetYieldSource replaces the pool adapter. The existing pool position is not
// migrated.
func (v *Vault) SetYieldSource(caller common.Address, source yieldsource.YieldSource) error {
	if err := v.roles.CheckRole(access.DefaultAdminRole, caller); err != nil {
		return err
	}
	if source == nil {
		return errors.New("yield source cannot be nil")
	}
	// wait for in-flight operations so none of them straddles two adapters
	v.mu.Lock()
	defer v.mu.Unlock()
	v.srcMu.Lock()
	v.source = source
	v.srcMu.Unlock()
	v.logger.Warn().Str("caller", caller.Hex()).Msg("Yield source replaced")
	return nil
}

// HasRole reports whether account holds role on the vault itself.
func (v *Vault) HasRole(role access.Role, account common.Address) bool {
	return v.roles.HasRole(role, account)
}

// GrantRole grants role on the vault itself.
func (v *Vault) GrantRole(caller common.Address, role access.Role, account common.Address) error {
	return v.roles.GrantRole(caller, role, account)
}

// AddObserver registers an operation observer.
func (v *Vault) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	v.obsMu.Lock()
	defer v.obsMu.Unlock()
	v.observers = append(v.observers, obs)
}

func (v *Vault) notify(receipt types.OperationReceipt) {
	v.obsMu.RLock()
	observers := append([]Observer(nil), v.observers...)
	v.obsMu.RUnlock()
	for _, obs := range observers {
		obs.ObserveOperation(receipt)
	}
}

type inFlightKey struct{ vault *Vault }

// enter takes the vault lock and marks ctx as running inside this vault. A
// context that already carries the mark belongs to an operation that is
// calling back into the vault, which would deadlock on mu.
func (v *Vault) enter(ctx context.Context) (context.Context, func(), error) {
	if err := v.checkReentrancy(ctx); err != nil {
		return nil, nil, err
	}
	v.mu.Lock()
	return context.WithValue(ctx, inFlightKey{v}, true), v.mu.Unlock, nil
}

// Exclusive runs fn while holding the vault lock, so fn never lands between
// the pooled balance read and the pool call of a deposit or withdrawal. fn
// receives a context marked as inside the vault; calling Deposit or Withdraw
// with it fails with ErrReentrantCall.
func (v *Vault) Exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, release, err := v.enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

func (v *Vault) checkReentrancy(ctx context.Context) error {
	if ctx.Value(inFlightKey{v}) != nil {
		return ErrReentrantCall
	}
	return nil
}

// FailureReason maps an operation error onto its metrics label.
func FailureReason(err error) types.FailureReason {
	switch {
	case err == nil:
		return types.FailureNone
	case errors.Is(err, ErrReentrantCall):
		return types.FailureReentrant
	case errors.Is(err, ErrUnauthorized):
		return types.FailureUnauthorized
	case errors.Is(err, ErrInsufficientAllowanceOrBalance):
		return types.FailureAllowanceOrBalance
	case errors.Is(err, ErrPoolDepositFailed):
		return types.FailurePoolDeposit
	case errors.Is(err, ErrPoolWithdrawFailed):
		return types.FailurePoolWithdraw
	case errors.Is(err, ErrInsufficientBalance):
		return types.FailureInsufficientBalance
	case errors.Is(err, ErrOverflow):
		return types.FailureOverflow
	case errors.Is(err, ErrPoolDepleted):
		return types.FailurePoolDepleted
	case errors.Is(err, ErrZeroShares), errors.Is(err, ErrZeroAssets):
		return types.FailureZeroResult
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidAmount):
		return types.FailureInvalidAmount
	default:
		return types.FailureOther
	}
}
