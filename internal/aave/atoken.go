package aave

import (
	"math/big"
	"sync"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// AToken tracks scaled deposits of one reserve. A holder's balance is its
// scaled balance multiplied by the reserve's liquidity index, so interest
// accrues to every holder without touching individual balances.
//
// Rounding always favours the reserve: balances and mints round down, burns
// round up. The sum of all balances therefore never exceeds TotalSupply, and
// TotalSupply never grows by more than the liquidity paid in.
type AToken struct {
	address common.Address

	mu          sync.RWMutex
	index       *big.Int
	scaled      map[common.Address]*big.Int
	totalScaled *big.Int
}

func newAToken(address common.Address) *AToken {
	return &AToken{
		address:     address,
		index:       new(big.Int).Set(ray),
		scaled:      make(map[common.Address]*big.Int),
		totalScaled: big.NewInt(0),
	}
}

func (a *AToken) Address() common.Address { return a.address }

// BalanceOf returns account's balance in underlying units, interest included.
func (a *AToken) BalanceOf(account common.Address) math.Int {
	return toInt(a.balanceOf(account))
}

// ScaledBalanceOf returns account's balance before the index is applied.
func (a *AToken) ScaledBalanceOf(account common.Address) math.Int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if s, ok := a.scaled[account]; ok {
		return toInt(s)
	}
	return math.ZeroInt()
}

// TotalSupply returns the total aToken supply in underlying units.
func (a *AToken) TotalSupply() math.Int {
	return toInt(a.totalSupply())
}

// LiquidityIndex returns the current ray-denominated liquidity index.
func (a *AToken) LiquidityIndex() math.Int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return toInt(a.index)
}

func (a *AToken) balanceOf(account common.Address) *big.Int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return rayMulFloor(a.scaled[account], a.index)
}

func (a *AToken) totalSupply() *big.Int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return rayMulFloor(a.totalScaled, a.index)
}

func (a *AToken) mint(account common.Address, amount *big.Int) *big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	scaled := rayDivFloor(amount, a.index)
	a.credit(account, scaled)
	return scaled
}

// burn removes the scaled equivalent of amount, rounded up and capped at the
// holder's scaled balance, and returns the scaled amount removed. Burning the
// whole balance clears the holder's scaled dust too.
func (a *AToken) burn(account common.Address, amount *big.Int) *big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	scaled := rayDivCeil(amount, a.index)
	held := a.scaled[account]
	if held == nil {
		held = big.NewInt(0)
	}
	if scaled.Cmp(held) > 0 || rayMulFloor(held, a.index).Cmp(amount) == 0 {
		scaled = new(big.Int).Set(held)
	}
	remaining := new(big.Int).Sub(held, scaled)
	if remaining.Sign() == 0 {
		delete(a.scaled, account)
	} else {
		a.scaled[account] = remaining
	}
	a.totalScaled = new(big.Int).Sub(a.totalScaled, scaled)
	return scaled
}

func (a *AToken) restore(account common.Address, scaled *big.Int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.credit(account, scaled)
}

func (a *AToken) credit(account common.Address, scaled *big.Int) {
	held := a.scaled[account]
	if held == nil {
		held = big.NewInt(0)
	}
	a.scaled[account] = new(big.Int).Add(held, scaled)
	a.totalScaled = new(big.Int).Add(a.totalScaled, scaled)
}

func (a *AToken) accrue(bps uint64) *big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.index = rayMul(a.index, growthFactor(bps))
	return new(big.Int).Set(a.index)
}
