package vault

import (
	"context"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// VaultManager defines the interface for interacting with a savings vault.
// The web API and the keeper depend on this interface rather than on *Vault
// so they can be exercised against fakes.
type VaultManager interface {
	// Deposit pulls amount of underlying from caller and mints shares.
	Deposit(ctx context.Context, caller common.Address, amount sdkmath.Int) (sdkmath.Int, error)

	// Withdraw burns shares from caller and pays out the underlying they claim.
	Withdraw(ctx context.Context, caller common.Address, shares sdkmath.Int) (sdkmath.Int, error)

	// Summary returns supply, pooled balance and exchange rate.
	Summary(ctx context.Context) (Summary, error)

	// BalanceOfUnderlying returns one holder's shares and their current claim.
	BalanceOfUnderlying(ctx context.Context, account common.Address) (AccountPosition, error)

	// PreviewDeposit returns the shares a deposit would mint right now.
	PreviewDeposit(ctx context.Context, amount sdkmath.Int) (sdkmath.Int, error)

	// PreviewWithdraw returns the underlying a withdrawal would release right now.
	PreviewWithdraw(ctx context.Context, shares sdkmath.Int) (sdkmath.Int, error)
}

var _ VaultManager = (*Vault)(nil)
