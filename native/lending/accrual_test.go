package lending

import (
	"errors"
	"math"
	"testing"

	"github.com/holiman/uint256"

	"rwalend/native/lending/fixedpoint"
)

func newRateState(liquidityRate, usageRate *uint256.Int) *RateState {
	return &RateState{
		CurrentLiquidityRate: liquidityRate,
		CurrentUsageRate:     usageRate,
		RateParameters:       scenarioRates(),
	}
}

func TestAccrueNoopWithoutElapsedTime(t *testing.T) {
	reserve := NewReserveState(testStart)
	rates := newRateState(rayPercent(5, 1), rayPercent(10, 1))
	update, err := Accrue(reserve, rates, testStart)
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if update != nil {
		t.Fatalf("expected no update at zero elapsed time")
	}
	if !reserve.LiquidityIndex.Eq(fixedpoint.Ray) || !reserve.UsageIndex.Eq(fixedpoint.Ray) {
		t.Fatalf("indices must stay at one ray")
	}

	update, err = Accrue(reserve, rates, testStart-100)
	if err != nil {
		t.Fatalf("accrue with earlier clock: %v", err)
	}
	if update != nil || reserve.LastUpdateTimestamp != testStart {
		t.Fatalf("an earlier clock must not move the reserve")
	}
}

func TestAccrueStaleIndexZero(t *testing.T) {
	reserve := NewReserveState(testStart)
	reserve.LiquidityIndex = fixedpoint.Zero()
	rates := newRateState(rayPercent(5, 1), rayPercent(10, 1))
	if _, err := Accrue(reserve, rates, testStart+1); !errors.Is(err, ErrStaleIndexZero) {
		t.Fatalf("expected ErrStaleIndexZero, got %v", err)
	}
}

func TestAccrueStaleUsageIndexZero(t *testing.T) {
	reserve := NewReserveState(testStart)
	reserve.UsageIndex = fixedpoint.Zero()
	rates := newRateState(rayPercent(5, 1), rayPercent(10, 1))
	if _, err := Accrue(reserve, rates, testStart+1); !errors.Is(err, ErrStaleIndexZero) {
		t.Fatalf("expected ErrStaleIndexZero, got %v", err)
	}
	if reserve.LastUpdateTimestamp != testStart {
		t.Fatalf("failed accrual must not stamp the reserve")
	}
}

func TestAccrueIndicesMonotone(t *testing.T) {
	reserve := NewReserveState(testStart)
	rates := newRateState(rayPercent(3, 1), rayPercent(12, 1))
	now := testStart
	steps := []int64{1, 59, 3_600, 86_400, 7 * 86_400, 1, 30 * 86_400, SecondsPerYear}
	for _, step := range steps {
		prevLiquidity := new(uint256.Int).Set(reserve.LiquidityIndex)
		prevUsage := new(uint256.Int).Set(reserve.UsageIndex)
		now += step
		if _, err := Accrue(reserve, rates, now); err != nil {
			t.Fatalf("accrue after %d seconds: %v", step, err)
		}
		if reserve.LiquidityIndex.Lt(prevLiquidity) || reserve.UsageIndex.Lt(prevUsage) {
			t.Fatalf("index decreased after %d seconds", step)
		}
		if reserve.LastUpdateTimestamp != now {
			t.Fatalf("timestamp not stamped")
		}
	}
	if !reserve.UsageIndex.Gt(fixedpoint.Ray) || !reserve.LiquidityIndex.Gt(fixedpoint.Ray) {
		t.Fatalf("indices should have grown")
	}
}

func TestAccrueCompoundsBorrowersLinearForSuppliers(t *testing.T) {
	reserve := NewReserveState(testStart)
	rate := rayPercent(10, 1)
	rates := newRateState(rate, rate)
	update, err := Accrue(reserve, rates, testStart+SecondsPerYear)
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if update == nil || update.Elapsed != SecondsPerYear {
		t.Fatalf("expected a one year update, got %+v", update)
	}

	linear := new(uint256.Int).Add(fixedpoint.Ray, rate)
	if !reserve.LiquidityIndex.Eq(linear) {
		t.Fatalf("supplier index must grow linearly: got %s want %s", reserve.LiquidityIndex.Dec(), linear.Dec())
	}
	if !reserve.UsageIndex.Gt(linear) {
		t.Fatalf("borrower index must compound above linear growth: %s", reserve.UsageIndex.Dec())
	}
	got := rayToFloat(reserve.UsageIndex) - 1
	want := math.Expm1(0.1)
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("usage index growth %.12f, want about %.12f", got, want)
	}
}

func TestNormalizedProjectionsDoNotMutate(t *testing.T) {
	reserve := NewReserveState(testStart)
	rates := newRateState(rayPercent(4, 1), rayPercent(8, 1))
	income, err := NormalizedIncome(reserve, rates, testStart+86_400)
	if err != nil {
		t.Fatalf("normalized income: %v", err)
	}
	debt, err := NormalizedDebt(reserve, rates, testStart+86_400)
	if err != nil {
		t.Fatalf("normalized debt: %v", err)
	}
	if !income.Gt(fixedpoint.Ray) || !debt.Gt(fixedpoint.Ray) {
		t.Fatalf("projections must exceed one ray after a day")
	}
	if !reserve.LiquidityIndex.Eq(fixedpoint.Ray) || reserve.LastUpdateTimestamp != testStart {
		t.Fatalf("projection mutated the reserve")
	}

	if _, err := Accrue(reserve, rates, testStart+86_400); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if !reserve.LiquidityIndex.Eq(income) || !reserve.UsageIndex.Eq(debt) {
		t.Fatalf("projection disagrees with accrual")
	}
}

func TestRefreshRatesAppliesDeltas(t *testing.T) {
	reserve := NewReserveState(testStart)
	rates := newRateState(fixedpoint.Zero(), fixedpoint.Zero())
	_, err := RefreshRates(reserve, rates, BalanceDelta{
		LiquidityAdded: uint256.NewInt(1000),
		UsageAdded:     uint256.NewInt(500),
	}, testStart)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if reserve.TotalLiquidity.Uint64() != 1000 || reserve.TotalUsage.Uint64() != 500 {
		t.Fatalf("unexpected totals: %s / %s", reserve.TotalLiquidity.Dec(), reserve.TotalUsage.Dec())
	}
	if rates.CurrentUsageRate.IsZero() || rates.CurrentLiquidityRate.IsZero() {
		t.Fatalf("rates must be recomputed")
	}

	_, err = RefreshRates(reserve, rates, BalanceDelta{LiquidityTaken: uint256.NewInt(1001)}, testStart)
	if !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
	if reserve.TotalLiquidity.Uint64() != 1000 {
		t.Fatalf("failed refresh must not touch totals")
	}
}
