package yieldsource

import (
	"context"
	"errors"

	"cosmossdk.io/math"
)

var (
	ErrPoolDepositFailed  = errors.New("pool deposit failed")
	ErrPoolWithdrawFailed = errors.New("pool withdraw failed")
	ErrPoolBalanceFailed  = errors.New("pool balance query failed")
)

// YieldSource is the vault's view of the external money market.
type YieldSource interface {
	// DepositToPool moves amount of underlying from the vault into the pool.
	DepositToPool(ctx context.Context, amount math.Int) error

	// WithdrawFromPool moves exactly amount of underlying from the pool back to
	// the vault.
	WithdrawFromPool(ctx context.Context, amount math.Int) error

	// PooledBalance returns the vault's current claim on the pool, interest
	// included. The value grows between calls and must never be cached.
	PooledBalance(ctx context.Context) (math.Int, error)
}
