package aave

import (
	"math/big"

	"cosmossdk.io/math"
)

var (
	basisPoints = big.NewInt(10_000)
	ray         = mustBigInt("1000000000000000000000000000") // 1e27 precision
	halfRay     = new(big.Int).Rsh(ray, 1)
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// rayMul multiplies a by the ray-denominated b, rounding half up.
func rayMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, halfRay)
	product.Quo(product, ray)
	return product
}

// rayMulFloor multiplies a by the ray-denominated b, rounding down.
func rayMulFloor(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, ray)
}

// rayDivFloor divides a by the ray-denominated b, rounding down.
func rayDivFloor(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(a, ray)
	return numerator.Quo(numerator, b)
}

// rayDivCeil divides a by the ray-denominated b, rounding up.
func rayDivCeil(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(a, ray)
	numerator.Add(numerator, b)
	numerator.Sub(numerator, big.NewInt(1))
	return numerator.Quo(numerator, b)
}

// growthFactor returns 1 + bps/10000 expressed in ray.
func growthFactor(bps uint64) *big.Int {
	delta := new(big.Int).Mul(ray, new(big.Int).SetUint64(bps))
	delta.Quo(delta, basisPoints)
	return delta.Add(delta, ray)
}

func toInt(x *big.Int) math.Int {
	return math.NewIntFromBigInt(x)
}
