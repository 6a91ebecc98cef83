package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"rwalend/native/lending/fixedpoint"
)

// MaxPrimeRateStepBps bounds a single prime rate update relative to the
// previous prime rate.
const MaxPrimeRateStepBps = 500

// Utilization returns totalDebt / (totalLiquidity + totalDebt) in Ray. An
// empty reserve reports full utilisation.
func Utilization(totalLiquidity, totalDebt *uint256.Int) (*uint256.Int, error) {
	liquidity, debt := orZero(totalLiquidity), orZero(totalDebt)
	if liquidity.IsZero() {
		return fixedpoint.RayOne(), nil
	}
	denominator, err := fixedpoint.Add(liquidity, debt)
	if err != nil {
		return nil, err
	}
	return fixedpoint.RayDiv(debt, denominator)
}

// BorrowRate maps utilisation onto the two-segment curve. Up to the optimal
// utilisation the rate moves linearly from base to prime; above it the rate
// moves linearly from prime to max at full utilisation.
func BorrowRate(params RateParameters, utilization *uint256.Int) (*uint256.Int, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	u := fixedpoint.Min(orZero(utilization), fixedpoint.Ray)
	optimalU := params.OptimalUtilization

	if !u.Gt(optimalU) {
		span := new(uint256.Int).Sub(params.PrimeRate, params.BaseRate)
		scaled, err := fixedpoint.RayMul(u, span)
		if err != nil {
			return nil, err
		}
		slope, err := fixedpoint.RayDiv(scaled, optimalU)
		if err != nil {
			return nil, err
		}
		return fixedpoint.Add(params.BaseRate, slope)
	}

	excess := new(uint256.Int).Sub(u, optimalU)
	span := new(uint256.Int).Sub(params.MaxRate, params.PrimeRate)
	scaled, err := fixedpoint.RayMul(excess, span)
	if err != nil {
		return nil, err
	}
	remaining := new(uint256.Int).Sub(fixedpoint.Ray, optimalU)
	slope, err := fixedpoint.RayDiv(scaled, remaining)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Add(params.PrimeRate, slope)
}

// LiquidityRate is the supplier rate: utilisation times the borrow rate, net
// of the protocol fee. It is zero while nothing is borrowed.
func LiquidityRate(utilization, borrowRate, protocolFeeRate, totalDebt *uint256.Int) (*uint256.Int, error) {
	if orZero(totalDebt).IsZero() {
		return fixedpoint.Zero(), nil
	}
	gross, err := fixedpoint.RayMul(orZero(utilization), orZero(borrowRate))
	if err != nil {
		return nil, err
	}
	fee, err := fixedpoint.RayMul(gross, orZero(protocolFeeRate))
	if err != nil {
		return nil, err
	}
	return fixedpoint.Sub(gross, fee)
}

// DefaultRateParameters derives a curve from a prime rate: base at 25%,
// optimal at 50% and max at 400% of prime, with an 80% optimal utilisation
// and no protocol fee.
func DefaultRateParameters(primeRate *uint256.Int) (RateParameters, error) {
	base, err := fixedpoint.PercentMul(primeRate, 2_500)
	if err != nil {
		return RateParameters{}, err
	}
	optimal, err := fixedpoint.PercentMul(primeRate, 5_000)
	if err != nil {
		return RateParameters{}, err
	}
	maxRate, err := fixedpoint.PercentMul(primeRate, 40_000)
	if err != nil {
		return RateParameters{}, err
	}
	optimalU, err := fixedpoint.PercentMul(fixedpoint.Ray, 8_000)
	if err != nil {
		return RateParameters{}, err
	}
	params := RateParameters{
		PrimeRate:          new(uint256.Int).Set(primeRate),
		BaseRate:           base,
		OptimalRate:        optimal,
		MaxRate:            maxRate,
		OptimalUtilization: optimalU,
		ProtocolFeeRate:    fixedpoint.Zero(),
	}
	if err := params.Validate(); err != nil {
		return RateParameters{}, err
	}
	return params, nil
}

// CheckPrimeRateStep rejects a prime rate that moves more than
// MaxPrimeRateStepBps away from the previous one.
func CheckPrimeRateStep(previous, next *uint256.Int) error {
	if orZero(next).IsZero() {
		return newError("", ErrInvalidRateParameters, common.Address{}, next, "prime rate must be positive")
	}
	if orZero(previous).IsZero() {
		return nil
	}
	maxStep, err := fixedpoint.PercentMul(previous, MaxPrimeRateStepBps)
	if err != nil {
		return err
	}
	var diff *uint256.Int
	if next.Gt(previous) {
		diff = new(uint256.Int).Sub(next, previous)
	} else {
		diff = new(uint256.Int).Sub(previous, next)
	}
	if diff.Gt(maxStep) {
		return newError("", ErrInvalidRateParameters, common.Address{}, next, "prime rate change too large")
	}
	return nil
}
