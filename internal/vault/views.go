package vault

import (
	"context"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/savers/internal/ledger"
)

// Summary is a consistent view of the vault's accounting.
type Summary struct {
	Vault         string            `json:"vault"`
	Asset         string            `json:"asset"`
	ShareToken    string            `json:"share_token"`
	ShareName     string            `json:"share_name"`
	ShareSymbol   string            `json:"share_symbol"`
	Decimals      uint8             `json:"decimals"`
	TotalSupply   sdkmath.Int       `json:"total_supply"`
	PooledBalance sdkmath.Int       `json:"pooled_balance"`
	ExchangeRate  sdkmath.LegacyDec `json:"exchange_rate"`
}

// AccountPosition is one holder's stake in the vault.
type AccountPosition struct {
	Account    string      `json:"account"`
	Shares     sdkmath.Int `json:"shares"`
	Underlying sdkmath.Int `json:"underlying"`
}

// snapshot reads supply and the pooled balance under the share ledger's read
// lock, so no operation can land between the two reads.
func (v *Vault) snapshot(ctx context.Context, fn func(tx *ledger.Tx, pooled, supply sdkmath.Int) error) error {
	if err := v.checkReentrancy(ctx); err != nil {
		return err
	}
	source := v.YieldSource()
	return v.shares.View(func(tx *ledger.Tx) error {
		pooled, err := source.PooledBalance(ctx)
		if err != nil {
			return err
		}
		return fn(tx, pooled, tx.TotalSupply())
	})
}

// TotalAssets returns the vault's current claim on the pool.
func (v *Vault) TotalAssets(ctx context.Context) (sdkmath.Int, error) {
	pooled := sdkmath.ZeroInt()
	err := v.snapshot(ctx, func(_ *ledger.Tx, p, _ sdkmath.Int) error {
		pooled = p
		return nil
	})
	return pooled, err
}

func (v *Vault) TotalSupply() sdkmath.Int { return v.shares.TotalSupply() }

func (v *Vault) SharesOf(account common.Address) sdkmath.Int { return v.shares.BalanceOf(account) }

// ExchangeRate returns underlying per share.
func (v *Vault) ExchangeRate(ctx context.Context) (sdkmath.LegacyDec, error) {
	rate := sdkmath.LegacyOneDec()
	err := v.snapshot(ctx, func(_ *ledger.Tx, pooled, supply sdkmath.Int) error {
		var err error
		rate, err = ComputeExchangeRate(pooled, supply)
		return err
	})
	return rate, err
}

// PreviewDeposit returns the shares a deposit of amount would mint now.
func (v *Vault) PreviewDeposit(ctx context.Context, amount sdkmath.Int) (sdkmath.Int, error) {
	shares := sdkmath.ZeroInt()
	err := v.snapshot(ctx, func(_ *ledger.Tx, pooled, supply sdkmath.Int) error {
		var err error
		shares, err = ConvertToShares(amount, pooled, supply)
		return err
	})
	return shares, err
}

// PreviewWithdraw returns the underlying a withdrawal of shares would release
// now.
func (v *Vault) PreviewWithdraw(ctx context.Context, shares sdkmath.Int) (sdkmath.Int, error) {
	owed := sdkmath.ZeroInt()
	err := v.snapshot(ctx, func(_ *ledger.Tx, pooled, supply sdkmath.Int) error {
		var err error
		owed, err = ConvertToAssets(shares, pooled, supply)
		return err
	})
	return owed, err
}

// BalanceOfUnderlying returns account's current claim on the pooled balance,
// floored.
func (v *Vault) BalanceOfUnderlying(ctx context.Context, account common.Address) (AccountPosition, error) {
	position := AccountPosition{Account: account.Hex(), Shares: sdkmath.ZeroInt(), Underlying: sdkmath.ZeroInt()}
	err := v.snapshot(ctx, func(tx *ledger.Tx, pooled, supply sdkmath.Int) error {
		held := tx.BalanceOf(account)
		position.Shares = held
		if held.IsZero() {
			return nil
		}
		owed, err := ConvertToAssets(held, pooled, supply)
		if err != nil {
			return err
		}
		position.Underlying = owed
		return nil
	})
	return position, err
}

// Summary reports supply, pooled balance and the exchange rate from a single
// consistent read.
func (v *Vault) Summary(ctx context.Context) (Summary, error) {
	summary := Summary{
		Vault:       v.address.Hex(),
		Asset:       v.assetAddress.Hex(),
		ShareToken:  v.shares.Address().Hex(),
		ShareName:   v.shares.Name(),
		ShareSymbol: v.shares.Symbol(),
		Decimals:    v.shares.Decimals(),
	}
	err := v.snapshot(ctx, func(_ *ledger.Tx, pooled, supply sdkmath.Int) error {
		rate, err := ComputeExchangeRate(pooled, supply)
		if err != nil {
			return err
		}
		summary.TotalSupply, summary.PooledBalance, summary.ExchangeRate = supply, pooled, rate
		return nil
	})
	return summary, err
}
