package vault

import (
	"errors"
	"fmt"
	"math/big"

	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/savers/internal/ledger"
)

// rateScale is the fixed-point scale of exchange rates (18 decimals, the
// LegacyDec precision).
var rateScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(sdkmath.LegacyPrecision), nil)

// ConvertToShares returns the shares minted for a deposit of amount against a
// vault holding pooled underlying with supply shares outstanding. The first
// deposit into an empty vault mints 1:1. The result is floored.
func ConvertToShares(amount, pooled, supply sdkmath.Int) (sdkmath.Int, error) {
	if err := validateAmount(amount); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if supply.IsZero() {
		return amount, nil
	}
	if pooled.IsZero() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s shares outstanding", ErrPoolDepleted, supply)
	}
	return mulDivFloor(amount, supply, pooled)
}

// ConvertToAssets returns the underlying owed for shares against a vault
// holding pooled underlying with supply shares outstanding. The result is
// floored. With no shares outstanding the conversion is 1:1.
func ConvertToAssets(shares, pooled, supply sdkmath.Int) (sdkmath.Int, error) {
	if err := validateAmount(shares); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if supply.IsZero() {
		return shares, nil
	}
	return mulDivFloor(shares, pooled, supply)
}

// ComputeExchangeRate returns pooled/supply with 18 decimals of precision,
// truncated. An empty vault reports a rate of one.
func ComputeExchangeRate(pooled, supply sdkmath.Int) (sdkmath.LegacyDec, error) {
	if supply.IsNil() || supply.IsZero() {
		return sdkmath.LegacyOneDec(), nil
	}
	scaled, err := mulDivFloor(pooled, sdkmath.NewIntFromBigInt(rateScale), supply)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	return sdkmath.LegacyNewDecFromBigIntWithPrec(scaled.BigInt(), sdkmath.LegacyPrecision), nil
}

// mulDivFloor computes floor(a*b/c) without intermediate overflow. The result
// must still fit in 256 bits.
func mulDivFloor(a, b, c sdkmath.Int) (sdkmath.Int, error) {
	if c.IsNil() || !c.IsPositive() {
		return sdkmath.ZeroInt(), errors.New("division by a non-positive amount")
	}
	product := new(big.Int).Mul(a.BigInt(), b.BigInt())
	quotient := product.Quo(product, c.BigInt())
	if quotient.Sign() < 0 {
		return sdkmath.ZeroInt(), errors.Join(ErrInvalidAmount, errors.New("negative conversion result"))
	}
	if quotient.Cmp(ledger.MaxUint256.BigInt()) > 0 {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s * %s / %s", ErrOverflow, a, b, c)
	}
	return sdkmath.NewIntFromBigInt(quotient), nil
}

func validateAmount(amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	return nil
}
