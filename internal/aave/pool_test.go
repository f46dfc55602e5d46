package aave

import (
	"context"
	"math/big"
	"math/rand"
	"testing"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/savers/internal/access"
	"github.com/elys-network/savers/internal/ledger"
)

var (
	admin    = common.HexToAddress("0xad00000000000000000000000000000000000001")
	user     = common.HexToAddress("0xa000000000000000000000000000000000000002")
	daiAddr  = common.HexToAddress("0xda10000000000000000000000000000000000003")
	poolAddr = common.HexToAddress("0x9001000000000000000000000000000000000004")
	aDAIAddr = common.HexToAddress("0xada1000000000000000000000000000000000005")
)

type fixture struct {
	dai   *ledger.Ledger
	pool  *Pool
	aDAI  *AToken
	ctx   context.Context
	admin common.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dai, err := ledger.New(ledger.Config{Name: "Dai Stablecoin", Symbol: "DAI", Decimals: 18, Address: daiAddr, Admin: admin})
	require.NoError(t, err)
	require.NoError(t, dai.Mint(admin, user, math.NewInt(1_000_000)))

	pool := NewPool(poolAddr)
	aDAI, err := pool.InitReserve(daiAddr, dai, aDAIAddr)
	require.NoError(t, err)
	require.NoError(t, dai.Approve(user, poolAddr, ledger.MaxUint256))

	return &fixture{dai: dai, pool: pool, aDAI: aDAI, ctx: context.Background(), admin: admin}
}

func TestDepositMintsATokens(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.pool.Deposit(f.ctx, user, daiAddr, math.NewInt(1000), user))
	require.True(t, f.aDAI.BalanceOf(user).Equal(math.NewInt(1000)))
	require.True(t, f.dai.BalanceOf(poolAddr).Equal(math.NewInt(1000)))
	require.True(t, f.dai.BalanceOf(user).Equal(math.NewInt(999_000)))
}

func TestDepositFailsWithoutFunds(t *testing.T) {
	f := newFixture(t)

	err := f.pool.Deposit(f.ctx, user, daiAddr, math.NewInt(2_000_000), user)
	require.ErrorIs(t, err, ErrUnderlyingTransfer)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	require.True(t, f.aDAI.BalanceOf(user).IsZero())
}

func TestInterestAccruesToHolders(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pool.Deposit(f.ctx, user, daiAddr, math.NewInt(10_000), user))

	interest, err := f.pool.AccrueInterest(daiAddr, 100)
	require.NoError(t, err)
	require.True(t, interest.Equal(math.NewInt(100)))
	require.True(t, f.aDAI.BalanceOf(user).Equal(math.NewInt(10_100)))
	require.True(t, f.aDAI.ScaledBalanceOf(user).Equal(math.NewInt(10_000)))
}

func TestWithdrawNeedsBackingLiquidity(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pool.Deposit(f.ctx, user, daiAddr, math.NewInt(10_000), user))
	_, err := f.pool.AccrueInterest(daiAddr, 100)
	require.NoError(t, err)

	_, err = f.pool.Withdraw(f.ctx, user, daiAddr, math.NewInt(10_100), user)
	require.ErrorIs(t, err, ErrNotEnoughLiquidity)

	// fund the interest like the yield would arrive from borrowers
	require.NoError(t, f.dai.Mint(admin, poolAddr, math.NewInt(100)))
	out, err := f.pool.Withdraw(f.ctx, user, daiAddr, math.NewInt(10_100), user)
	require.NoError(t, err)
	require.True(t, out.Equal(math.NewInt(10_100)))
	require.True(t, f.aDAI.BalanceOf(user).IsZero())
	require.True(t, f.dai.BalanceOf(user).Equal(math.NewInt(1_000_100)))
}

func TestWithdrawMoreThanBalanceFails(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pool.Deposit(f.ctx, user, daiAddr, math.NewInt(500), user))

	_, err := f.pool.Withdraw(f.ctx, user, daiAddr, math.NewInt(501), user)
	require.ErrorIs(t, err, ErrNotEnoughBalance)
	require.True(t, f.aDAI.BalanceOf(user).Equal(math.NewInt(500)))
}

func TestWithdrawEntireBalance(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pool.Deposit(f.ctx, user, daiAddr, math.NewInt(500), user))

	out, err := f.pool.Withdraw(f.ctx, user, daiAddr, ledger.MaxUint256, user)
	require.NoError(t, err)
	require.True(t, out.Equal(math.NewInt(500)))
	require.True(t, f.aDAI.TotalSupply().IsZero())
}

func TestPausedReserveRejectsCalls(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pool.SetReservePaused(daiAddr, true))

	require.ErrorIs(t, f.pool.Deposit(f.ctx, user, daiAddr, math.NewInt(1), user), ErrReservePaused)
	_, err := f.pool.Withdraw(f.ctx, user, daiAddr, math.NewInt(1), user)
	require.ErrorIs(t, err, ErrReservePaused)
}

func TestUnknownReserve(t *testing.T) {
	f := newFixture(t)
	other := common.HexToAddress("0x0000000000000000000000000000000000000bad")

	require.ErrorIs(t, f.pool.Deposit(f.ctx, user, other, math.NewInt(1), user), ErrReserveNotFound)
	_, err := f.pool.InitReserve(daiAddr, f.dai, aDAIAddr)
	require.ErrorIs(t, err, ErrReserveExists)
}

func TestCancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, f.pool.Deposit(ctx, user, daiAddr, math.NewInt(1), user), ErrContextDone)
}

func TestProviderUpgrade(t *testing.T) {
	first := NewPool(poolAddr)
	second := NewPool(common.HexToAddress("0x9002000000000000000000000000000000000006"))
	provider := NewProvider(admin, first)

	got, err := provider.GetLendingPool()
	require.NoError(t, err)
	require.Equal(t, poolAddr, got.Address())

	require.ErrorIs(t, provider.SetLendingPool(user, second), access.ErrUnauthorized)
	require.NoError(t, provider.SetLendingPool(admin, second))

	got, err = provider.GetLendingPool()
	require.NoError(t, err)
	require.Equal(t, second.Address(), got.Address())

	require.NoError(t, provider.SetLendingPool(admin, nil))
	_, err = provider.GetLendingPool()
	require.ErrorIs(t, err, ErrPoolNotSet)
}

func TestGrowthFactor(t *testing.T) {
	require.Equal(t, "1010000000000000000000000000", growthFactor(100).String())
	require.Equal(t, "2000000000000000000000000000", growthFactor(10_000).String())
	require.Equal(t, ray.String(), growthFactor(0).String())
}

func TestRayRounding(t *testing.T) {
	index := growthFactor(333) // 1.0333 ray
	require.Equal(t, "967", rayDivFloor(big.NewInt(1000), index).String())
	require.Equal(t, "968", rayDivCeil(big.NewInt(1000), index).String())
	require.Equal(t, "999", rayMulFloor(big.NewInt(967), index).String())
	require.Equal(t, "1000", rayDivCeil(big.NewInt(1000), ray).String())
}

func TestLiquidityCoversBalancesAfterAccruals(t *testing.T) {
	f := newFixture(t)
	holders := []common.Address{
		user,
		common.HexToAddress("0xa000000000000000000000000000000000000006"),
		common.HexToAddress("0xa000000000000000000000000000000000000007"),
	}
	for _, h := range holders[1:] {
		require.NoError(t, f.dai.Mint(admin, h, math.NewInt(1_000_000_000)))
		require.NoError(t, f.dai.Approve(h, poolAddr, ledger.MaxUint256))
	}
	require.NoError(t, f.dai.Mint(admin, user, math.NewInt(999_000_000)))

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		for _, h := range holders {
			amount := math.NewInt(rng.Int63n(1_000_000) + 1)
			require.NoError(t, f.pool.Deposit(f.ctx, h, daiAddr, amount, h))
		}
		interest, err := f.pool.AccrueInterest(daiAddr, uint64(rng.Intn(2000)+1))
		require.NoError(t, err)
		if interest.IsPositive() {
			require.NoError(t, f.dai.Mint(admin, poolAddr, interest))
		}

		sum := math.ZeroInt()
		for _, h := range holders {
			sum = sum.Add(f.aDAI.BalanceOf(h))
		}
		require.True(t, sum.LTE(f.aDAI.TotalSupply()), "round %d", round)
		require.True(t, f.aDAI.TotalSupply().LTE(f.dai.BalanceOf(poolAddr)), "round %d", round)
	}

	for _, h := range holders {
		balance := f.aDAI.BalanceOf(h)
		out, err := f.pool.Withdraw(f.ctx, h, daiAddr, balance, h)
		require.NoError(t, err)
		require.True(t, out.Equal(balance))
		require.True(t, f.aDAI.ScaledBalanceOf(h).IsZero())
	}
	require.True(t, f.aDAI.TotalSupply().IsZero())
}
