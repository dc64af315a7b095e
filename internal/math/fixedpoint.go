package math

import (
	"math/big"
	"sync"
)

// RateScale is the fixed-point scale for fee rates: parts per million.
// A tradingFeeRate of 100_000 means 10%.
const RateScale int64 = 1_000_000

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideInt128 performs numerator / denominator with rounding
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.DivMod(numerator, denom, remainder)

	result := quotient.Int64()

	if roundingMode == RoundHalfEven {
		// Banker's rounding: if remainder == denominator/2, round to even
		half := big.NewInt(denominator / 2)
		cmp := remainder.Cmp(half)

		if cmp > 0 {
			result++
		} else if cmp == 0 && denominator%2 == 0 {
			if result%2 != 0 {
				result++
			}
		}
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding (default)
	RoundDown
	RoundUp
)

// ComputeTradeCost calculates amount * pricePerUnit with an int128 intermediate.
// Returns false if the result does not fit in int64.
func ComputeTradeCost(amount, pricePerUnit int64) (int64, bool) {
	raw := MultiplyInt128(amount, pricePerUnit)
	defer putInt128(raw)

	if !raw.IsInt64() {
		return 0, false
	}
	return raw.Int64(), true
}

// ComputeFee calculates totalCost * feeRate / RateScale, rounded down.
// feeRate is in parts per million. Rounding down keeps the fee from ever
// exceeding the buyer's payment.
func ComputeFee(totalCost, feeRate int64) int64 {
	raw := MultiplyInt128(totalCost, feeRate)
	fee := DivideInt128(raw, RateScale, RoundDown)
	putInt128(raw)
	return fee
}

// SplitTradeProceeds returns (fee, netToSeller) for a purchase.
// fee + netToSeller == totalCost always holds.
func SplitTradeProceeds(totalCost, feeRate int64) (fee, netToSeller int64) {
	fee = ComputeFee(totalCost, feeRate)
	return fee, totalCost - fee
}
