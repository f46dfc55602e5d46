/*

This file contains an in-process money market modelled on the Aave v2 lending
pool: deposits mint interest-bearing aTokens whose balances grow with the
reserve's liquidity index.

*/

package aave

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/elys-network/savers/internal/logger"
)

var (
	ErrReserveNotFound    = errors.New("reserve not found")
	ErrReserveExists      = errors.New("reserve already initialized")
	ErrReservePaused      = errors.New("reserve is paused")
	ErrInvalidAmount      = errors.New("amount must be greater than 0")
	ErrNotEnoughBalance   = errors.New("user cannot withdraw more than the available balance")
	ErrNotEnoughLiquidity = errors.New("pool does not hold enough liquidity")
	ErrUnderlyingTransfer = errors.New("underlying transfer failed")
	ErrContextDone        = errors.New("context done")
)

var (
	maxUint256            = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	withdrawEntireBalance = math.NewIntFromBigInt(maxUint256)
	poolLogger            = logger.GetForComponent("lending_pool")
)

var _ LendingPool = (*Pool)(nil)

// Token is the underlying asset as seen by the pool.
type Token interface {
	BalanceOf(account common.Address) math.Int
	Transfer(from, to common.Address, amount math.Int) error
	TransferFrom(spender, from, to common.Address, amount math.Int) error
}

// Pool is an in-process lending pool holding one reserve per asset.
type Pool struct {
	address common.Address
	logger  zerolog.Logger

	mu       sync.Mutex
	reserves map[common.Address]*reserve
}

type reserve struct {
	asset  common.Address
	token  Token
	aToken *AToken
	paused bool
}

// NewPool creates an empty pool living at address.
func NewPool(address common.Address) *Pool {
	return &Pool{
		address:  address,
		logger:   poolLogger.With().Str("pool", address.Hex()).Logger(),
		reserves: make(map[common.Address]*reserve),
	}
}

func (p *Pool) Address() common.Address { return p.address }

// InitReserve lists asset and returns the aToken tracking deposits of it.
func (p *Pool) InitReserve(asset common.Address, token Token, aTokenAddress common.Address) (*AToken, error) {
	if token == nil {
		return nil, errors.New("reserve token cannot be nil")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.reserves[asset]; ok {
		return nil, errors.Join(ErrReserveExists, fmt.Errorf("asset %s", asset.Hex()))
	}
	aToken := newAToken(aTokenAddress)
	p.reserves[asset] = &reserve{asset: asset, token: token, aToken: aToken}
	p.logger.Info().Str("asset", asset.Hex()).Str("aToken", aTokenAddress.Hex()).Msg("Reserve initialized")
	return aToken, nil
}

// AToken returns the aToken of an initialized reserve.
func (p *Pool) AToken(asset common.Address) (*AToken, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.reserves[asset]
	if !ok {
		return nil, errors.Join(ErrReserveNotFound, fmt.Errorf("asset %s", asset.Hex()))
	}
	return r.aToken, nil
}

// SetReservePaused blocks or unblocks deposits and withdrawals of asset.
func (p *Pool) SetReservePaused(asset common.Address, paused bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.reserves[asset]
	if !ok {
		return errors.Join(ErrReserveNotFound, fmt.Errorf("asset %s", asset.Hex()))
	}
	r.paused = paused
	return nil
}

// Deposit pulls amount of asset from caller and credits aTokens to onBehalfOf.
// caller must have approved the pool for amount.
func (p *Pool) Deposit(ctx context.Context, caller, asset common.Address, amount math.Int, onBehalfOf common.Address) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrContextDone, err)
	}
	if amount.IsNil() || !amount.IsPositive() {
		return ErrInvalidAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	r, err := p.activeReserve(asset)
	if err != nil {
		return err
	}

	if err := r.token.TransferFrom(p.address, caller, p.address, amount); err != nil {
		return errors.Join(ErrUnderlyingTransfer, err)
	}
	scaled := r.aToken.mint(onBehalfOf, amount.BigInt())

	p.logger.Debug().
		Str("asset", asset.Hex()).
		Str("onBehalfOf", onBehalfOf.Hex()).
		Str("amount", amount.String()).
		Str("scaled", scaled.String()).
		Msg("Deposit")
	return nil
}

// Withdraw burns caller's aTokens and sends amount of asset to to. Passing the
// maximum uint256 value withdraws the entire balance.
func (p *Pool) Withdraw(ctx context.Context, caller, asset common.Address, amount math.Int, to common.Address) (math.Int, error) {
	if err := ctx.Err(); err != nil {
		return math.ZeroInt(), errors.Join(ErrContextDone, err)
	}
	if amount.IsNil() || !amount.IsPositive() {
		return math.ZeroInt(), ErrInvalidAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	r, err := p.activeReserve(asset)
	if err != nil {
		return math.ZeroInt(), err
	}

	balance := r.aToken.balanceOf(caller)
	toWithdraw := amount.BigInt()
	if amount.Equal(withdrawEntireBalance) {
		toWithdraw = balance
	}
	if toWithdraw.Cmp(balance) > 0 {
		return math.ZeroInt(), errors.Join(ErrNotEnoughBalance,
			fmt.Errorf("requested %s, balance %s", toWithdraw, balance))
	}
	liquidity := r.token.BalanceOf(p.address).BigInt()
	if toWithdraw.Cmp(liquidity) > 0 {
		return math.ZeroInt(), errors.Join(ErrNotEnoughLiquidity,
			fmt.Errorf("requested %s, available %s", toWithdraw, liquidity))
	}

	burned := r.aToken.burn(caller, toWithdraw)
	out := toInt(toWithdraw)
	if err := r.token.Transfer(p.address, to, out); err != nil {
		r.aToken.restore(caller, burned)
		return math.ZeroInt(), errors.Join(ErrUnderlyingTransfer, err)
	}

	p.logger.Debug().
		Str("asset", asset.Hex()).
		Str("to", to.Hex()).
		Str("amount", out.String()).
		Msg("Withdraw")
	return out, nil
}

// AccrueInterest grows every deposit of asset by bps basis points and returns
// the resulting increase of the aToken supply. The pool does not mint backing
// liquidity; callers fund it through the underlying token.
func (p *Pool) AccrueInterest(asset common.Address, bps uint64) (math.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.reserves[asset]
	if !ok {
		return math.ZeroInt(), errors.Join(ErrReserveNotFound, fmt.Errorf("asset %s", asset.Hex()))
	}
	before := r.aToken.totalSupply()
	index := r.aToken.accrue(bps)
	after := r.aToken.totalSupply()
	interest := new(big.Int).Sub(after, before)

	p.logger.Info().
		Str("asset", asset.Hex()).
		Uint64("bps", bps).
		Str("liquidityIndex", index.String()).
		Str("interest", interest.String()).
		Msg("Interest accrued")
	return toInt(interest), nil
}

func (p *Pool) activeReserve(asset common.Address) (*reserve, error) {
	r, ok := p.reserves[asset]
	if !ok {
		return nil, errors.Join(ErrReserveNotFound, fmt.Errorf("asset %s", asset.Hex()))
	}
	if r.paused {
		return nil, ErrReservePaused
	}
	return r, nil
}
