package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"rwalend/native/lending/fixedpoint"
)

// SecondsPerYear is the annualisation base for all rates.
const SecondsPerYear = 31_536_000

var secondsPerYear = uint256.NewInt(SecondsPerYear)

// IndexUpdate describes one movement of the reserve indices.
type IndexUpdate struct {
	LiquidityIndex *uint256.Int
	UsageIndex     *uint256.Int
	LiquidityRate  *uint256.Int
	UsageRate      *uint256.Int
	Elapsed        int64
	Timestamp      int64
}

// BalanceDelta carries the liquidity and usage changes folded into the
// reserve by RefreshRates. Nil fields are treated as zero.
type BalanceDelta struct {
	LiquidityAdded *uint256.Int
	LiquidityTaken *uint256.Int
	UsageAdded     *uint256.Int
	UsageTaken     *uint256.Int
}

// linearInterest returns 1 + rate*elapsed/year in Ray.
func linearInterest(rate *uint256.Int, elapsed int64) (*uint256.Int, error) {
	accrued, err := fixedpoint.MulDiv(orZero(rate), uint256.NewInt(uint64(elapsed)), secondsPerYear)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Add(fixedpoint.Ray, accrued)
}

// compoundedInterest returns exp(rate*elapsed/year) in Ray using the
// truncated series of fixedpoint.RayExp.
func compoundedInterest(rate *uint256.Int, elapsed int64) (*uint256.Int, error) {
	yearFraction, err := fixedpoint.MulDiv(uint256.NewInt(uint64(elapsed)), fixedpoint.Ray, secondsPerYear)
	if err != nil {
		return nil, err
	}
	exponent, err := fixedpoint.RayMul(orZero(rate), yearFraction)
	if err != nil {
		return nil, err
	}
	return fixedpoint.RayExp(exponent)
}

// Accrue folds the interest earned since the last update into both indices
// and stamps the reserve with now. It returns nil when no time has passed.
// A clock that moves backwards is treated like zero elapsed time so the
// indices never decrease.
func Accrue(reserve *ReserveState, rates *RateState, now int64) (*IndexUpdate, error) {
	if reserve == nil || rates == nil {
		return nil, errNilState
	}
	elapsed := now - reserve.LastUpdateTimestamp
	if elapsed <= 0 {
		return nil, nil
	}
	if orZero(reserve.LiquidityIndex).IsZero() {
		return nil, newError("accrue", ErrStaleIndexZero, common.Address{}, nil, "liquidity index is zero")
	}
	if orZero(reserve.UsageIndex).IsZero() {
		return nil, newError("accrue", ErrStaleIndexZero, common.Address{}, nil, "usage index is zero")
	}

	linear, err := linearInterest(rates.CurrentLiquidityRate, elapsed)
	if err != nil {
		return nil, err
	}
	liquidityIndex, err := fixedpoint.RayMul(linear, reserve.LiquidityIndex)
	if err != nil {
		return nil, err
	}
	compounded, err := compoundedInterest(rates.CurrentUsageRate, elapsed)
	if err != nil {
		return nil, err
	}
	usageIndex, err := fixedpoint.RayMul(compounded, orZero(reserve.UsageIndex))
	if err != nil {
		return nil, err
	}

	reserve.LiquidityIndex = liquidityIndex
	reserve.UsageIndex = usageIndex
	reserve.LastUpdateTimestamp = now
	return &IndexUpdate{
		LiquidityIndex: cloneInt(liquidityIndex),
		UsageIndex:     cloneInt(usageIndex),
		LiquidityRate:  cloneInt(rates.CurrentLiquidityRate),
		UsageRate:      cloneInt(rates.CurrentUsageRate),
		Elapsed:        elapsed,
		Timestamp:      now,
	}, nil
}

// NormalizedIncome projects the liquidity index to now without mutating the
// reserve.
func NormalizedIncome(reserve *ReserveState, rates *RateState, now int64) (*uint256.Int, error) {
	if reserve == nil || rates == nil {
		return nil, errNilState
	}
	elapsed := now - reserve.LastUpdateTimestamp
	if elapsed <= 0 {
		return cloneInt(reserve.LiquidityIndex), nil
	}
	linear, err := linearInterest(rates.CurrentLiquidityRate, elapsed)
	if err != nil {
		return nil, err
	}
	return fixedpoint.RayMul(linear, orZero(reserve.LiquidityIndex))
}

// NormalizedDebt projects the usage index to now without mutating the
// reserve.
func NormalizedDebt(reserve *ReserveState, rates *RateState, now int64) (*uint256.Int, error) {
	if reserve == nil || rates == nil {
		return nil, errNilState
	}
	elapsed := now - reserve.LastUpdateTimestamp
	if elapsed <= 0 {
		return cloneInt(reserve.UsageIndex), nil
	}
	compounded, err := compoundedInterest(rates.CurrentUsageRate, elapsed)
	if err != nil {
		return nil, err
	}
	return fixedpoint.RayMul(compounded, orZero(reserve.UsageIndex))
}

// RefreshRates applies delta to the reserve totals, recomputes utilisation
// and both rates, then accrues so the indices reflect the new rates.
func RefreshRates(reserve *ReserveState, rates *RateState, delta BalanceDelta, now int64) (*IndexUpdate, error) {
	if reserve == nil || rates == nil {
		return nil, errNilState
	}
	liquidity, err := applyDelta(reserve.TotalLiquidity, delta.LiquidityAdded, delta.LiquidityTaken, "liquidity")
	if err != nil {
		return nil, err
	}
	usage, err := applyDelta(reserve.TotalUsage, delta.UsageAdded, delta.UsageTaken, "usage")
	if err != nil {
		return nil, err
	}

	utilization, err := Utilization(liquidity, usage)
	if err != nil {
		return nil, err
	}
	usageRate, err := BorrowRate(rates.RateParameters, utilization)
	if err != nil {
		return nil, err
	}
	liquidityRate, err := LiquidityRate(utilization, usageRate, rates.ProtocolFeeRate, usage)
	if err != nil {
		return nil, err
	}

	reserve.TotalLiquidity = liquidity
	reserve.TotalUsage = usage
	rates.CurrentUsageRate = usageRate
	rates.CurrentLiquidityRate = liquidityRate
	return Accrue(reserve, rates, now)
}

func applyDelta(total, added, taken *uint256.Int, field string) (*uint256.Int, error) {
	out, err := fixedpoint.Add(orZero(total), orZero(added))
	if err != nil {
		return nil, err
	}
	if orZero(taken).Gt(out) {
		return nil, newError("", ErrInsufficientLiquidity, common.Address{}, taken, "total "+field+" would underflow")
	}
	return out.Sub(out, orZero(taken)), nil
}
