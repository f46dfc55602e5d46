/*
This file contains common utility functions for converting between token amounts,
their human-readable decimal form and account addresses.
*/

package utils

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
	ErrAmountTooLarge   = errors.New("amount exceeds 256 bits")
	ErrNotFinite        = errors.New("value is not finite")
	ErrConversionFailed = errors.New("conversion failed")
	ErrInvalidAddress   = errors.New("invalid address")
)

// MaxPrecision is the largest number of token decimals the conversions accept,
// bounded by the 18 decimal places of LegacyDec.
const MaxPrecision = sdkmath.LegacyPrecision

// SDKIntToFloat64 converts a base-unit amount to its float64 display value.
// The result is lossy and only meant for metrics and logs.
func SDKIntToFloat64(amount sdkmath.Int, precision int) (float64, error) {
	if precision < 0 || precision > MaxPrecision {
		return 0, fmt.Errorf("%w: %d (must be between 0 and %d)", ErrInvalidPrecision, precision, MaxPrecision)
	}
	if amount.IsNil() {
		return 0, ErrAmountNil
	}
	if amount.IsNegative() {
		return 0, ErrAmountNegative
	}

	result := sdkmath.LegacyNewDecFromBigIntWithPrec(amount.BigInt(), int64(precision))
	resultFloat, err := result.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}

	if math.IsNaN(resultFloat) || math.IsInf(resultFloat, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, resultFloat)
	}

	return resultFloat, nil
}

// ParseAmount parses a base-unit integer amount such as "1000000000000000000".
func ParseAmount(value string) (sdkmath.Int, error) {
	value = strings.TrimSpace(value)
	amount, ok := sdkmath.NewIntFromString(value)
	if !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %q is not an integer", ErrConversionFailed, value)
	}
	return checkAmount(amount)
}

// ParseDecimalAmount parses a human-readable amount such as "1.5" into base
// units of a token with the given precision. Digits beyond the precision are
// truncated.
func ParseDecimalAmount(value string, precision int) (sdkmath.Int, error) {
	if precision < 0 || precision > MaxPrecision {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %d (must be between 0 and %d)", ErrInvalidPrecision, precision, MaxPrecision)
	}
	dec, err := sdkmath.LegacyNewDecFromStr(strings.TrimSpace(value))
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: failed to create decimal from string: %w", ErrConversionFailed, err)
	}
	if dec.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}
	// dec.BigInt() holds the value scaled by 10^18
	units := new(big.Int).Mul(dec.BigInt(), new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(precision)), nil))
	units.Quo(units, new(big.Int).Exp(big.NewInt(10), big.NewInt(MaxPrecision), nil))
	if units.BitLen() > sdkmath.MaxBitLen {
		return sdkmath.ZeroInt(), ErrAmountTooLarge
	}
	return sdkmath.NewIntFromBigInt(units), nil
}

// ParseAddress parses a 0x-prefixed hex account address.
func ParseAddress(value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, value)
	}
	return common.HexToAddress(value), nil
}

func checkAmount(amount sdkmath.Int) (sdkmath.Int, error) {
	if amount.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}
	if amount.BigInt().BitLen() > sdkmath.MaxBitLen {
		return sdkmath.ZeroInt(), ErrAmountTooLarge
	}
	return amount, nil
}
