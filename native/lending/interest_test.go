package lending

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"rwalend/native/lending/fixedpoint"
)

func TestUtilizationBounds(t *testing.T) {
	u, err := Utilization(fixedpoint.Zero(), uint256.NewInt(500))
	if err != nil {
		t.Fatalf("utilization: %v", err)
	}
	if !u.Eq(fixedpoint.Ray) {
		t.Fatalf("empty reserve must be fully utilised, got %s", u.Dec())
	}
	u, err = Utilization(fixedpoint.Zero(), fixedpoint.Zero())
	if err != nil {
		t.Fatalf("utilization: %v", err)
	}
	if !u.Eq(fixedpoint.Ray) {
		t.Fatalf("zero liquidity must report 1 ray, got %s", u.Dec())
	}

	cases := [][2]uint64{{1, 0}, {1000, 500}, {1, 1 << 62}, {7, 3}, {1 << 60, 1}, {999_999, 999_999}}
	for _, tc := range cases {
		u, err := Utilization(uint256.NewInt(tc[0]), uint256.NewInt(tc[1]))
		if err != nil {
			t.Fatalf("utilization(%d, %d): %v", tc[0], tc[1], err)
		}
		if u.Gt(fixedpoint.Ray) {
			t.Fatalf("utilization(%d, %d) = %s exceeds 1 ray", tc[0], tc[1], u.Dec())
		}
	}
}

func TestUtilizationOneThird(t *testing.T) {
	u, err := Utilization(uint256.NewInt(1000), uint256.NewInt(500))
	if err != nil {
		t.Fatalf("utilization: %v", err)
	}
	if u.Dec() != "333333333333333333333333333" {
		t.Fatalf("unexpected utilization: %s", u.Dec())
	}
}

func TestBorrowRateContinuousAtKink(t *testing.T) {
	params := scenarioRates()
	atKink, err := BorrowRate(params, params.OptimalUtilization)
	if err != nil {
		t.Fatalf("borrow rate: %v", err)
	}
	if !atKink.Eq(params.PrimeRate) {
		t.Fatalf("rate at kink must equal prime, got %s", atKink.Dec())
	}

	eps := uint256.NewInt(1_000_000_000)
	tolerance := dec(t, "1000000000000000000") // 1e-9
	below, err := BorrowRate(params, new(uint256.Int).Sub(params.OptimalUtilization, eps))
	if err != nil {
		t.Fatalf("borrow rate below kink: %v", err)
	}
	above, err := BorrowRate(params, new(uint256.Int).Add(params.OptimalUtilization, eps))
	if err != nil {
		t.Fatalf("borrow rate above kink: %v", err)
	}
	if absDiff(below, params.PrimeRate).Gt(tolerance) || absDiff(above, params.PrimeRate).Gt(tolerance) {
		t.Fatalf("discontinuity at kink: below=%s above=%s", below.Dec(), above.Dec())
	}
	if below.Gt(above) {
		t.Fatalf("curve must be non-decreasing across the kink")
	}
}

func TestBorrowRateEndpoints(t *testing.T) {
	params := scenarioRates()
	zero, err := BorrowRate(params, fixedpoint.Zero())
	if err != nil {
		t.Fatalf("borrow rate: %v", err)
	}
	if !zero.Eq(params.BaseRate) {
		t.Fatalf("rate at 0%% must be base, got %s", zero.Dec())
	}
	full, err := BorrowRate(params, fixedpoint.Ray)
	if err != nil {
		t.Fatalf("borrow rate: %v", err)
	}
	if !full.Eq(params.MaxRate) {
		t.Fatalf("rate at 100%% must be max, got %s", full.Dec())
	}
}

// Interpolating from base to prime at one third utilisation with an 80%
// kink gives 2.5% + (1/3)(7.5%)/0.8 = 5.625%. The 3.54% sometimes quoted for
// this case interpolates towards the 5% optimal rate, which is not the curve.
func TestBorrowRateBelowOptimalScenario(t *testing.T) {
	params := scenarioRates()
	u, err := Utilization(uint256.NewInt(1000), uint256.NewInt(500))
	if err != nil {
		t.Fatalf("utilization: %v", err)
	}
	rate, err := BorrowRate(params, u)
	if err != nil {
		t.Fatalf("borrow rate: %v", err)
	}
	want := rayPercent(5625, 1000)
	tolerance := rayPercent(1, 100) // 0.01%
	if absDiff(rate, want).Gt(tolerance) {
		t.Fatalf("unexpected borrow rate %s, want about %s", rate.Dec(), want.Dec())
	}
	if !rate.Gt(params.BaseRate) || !rate.Lt(params.PrimeRate) {
		t.Fatalf("rate below the kink must lie between base and prime")
	}
}

func TestBorrowRateRejectsInvalidParameters(t *testing.T) {
	bad := scenarioRates()
	bad.BaseRate = new(uint256.Int).Set(bad.PrimeRate)
	if _, err := BorrowRate(bad, fixedpoint.Zero()); !errors.Is(err, ErrInvalidRateParameters) {
		t.Fatalf("expected ErrInvalidRateParameters for base >= prime, got %v", err)
	}

	bad = scenarioRates()
	bad.OptimalRate = new(uint256.Int).Set(bad.MaxRate)
	if _, err := BorrowRate(bad, fixedpoint.Zero()); !errors.Is(err, ErrInvalidRateParameters) {
		t.Fatalf("expected ErrInvalidRateParameters for optimal >= max, got %v", err)
	}

	bad = scenarioRates()
	bad.OptimalUtilization = fixedpoint.Zero()
	if _, err := BorrowRate(bad, fixedpoint.Zero()); !errors.Is(err, ErrInvalidRateParameters) {
		t.Fatalf("expected ErrInvalidRateParameters for zero optimal utilization, got %v", err)
	}

	bad = scenarioRates()
	bad.ProtocolFeeRate = new(uint256.Int).AddUint64(fixedpoint.Ray, 1)
	if _, err := BorrowRate(bad, fixedpoint.Zero()); !errors.Is(err, ErrInvalidRateParameters) {
		t.Fatalf("expected ErrInvalidRateParameters for fee above 1, got %v", err)
	}
}

func TestLiquidityRate(t *testing.T) {
	u := rayPercent(50, 1)
	borrow := rayPercent(10, 1)
	rate, err := LiquidityRate(u, borrow, rayPercent(10, 1), fixedpoint.Zero())
	if err != nil {
		t.Fatalf("liquidity rate: %v", err)
	}
	if !rate.IsZero() {
		t.Fatalf("no debt must mean no supplier rate, got %s", rate.Dec())
	}

	rate, err = LiquidityRate(u, borrow, rayPercent(10, 1), uint256.NewInt(1))
	if err != nil {
		t.Fatalf("liquidity rate: %v", err)
	}
	// 50% * 10% = 5% gross, less a 10% fee = 4.5%.
	if !rate.Eq(rayPercent(45, 10)) {
		t.Fatalf("unexpected liquidity rate %s", rate.Dec())
	}
}

func TestDefaultRateParameters(t *testing.T) {
	params, err := DefaultRateParameters(rayPercent(10, 1))
	if err != nil {
		t.Fatalf("default rates: %v", err)
	}
	if !params.BaseRate.Eq(rayPercent(25, 10)) || !params.OptimalRate.Eq(rayPercent(5, 1)) || !params.MaxRate.Eq(rayPercent(40, 1)) {
		t.Fatalf("unexpected derived rates: base=%s optimal=%s max=%s", params.BaseRate.Dec(), params.OptimalRate.Dec(), params.MaxRate.Dec())
	}
	if !params.OptimalUtilization.Eq(rayPercent(80, 1)) {
		t.Fatalf("unexpected optimal utilization %s", params.OptimalUtilization.Dec())
	}
}

func TestCheckPrimeRateStep(t *testing.T) {
	prev := rayPercent(10, 1)
	// 5% of 10% is 0.5%.
	if err := CheckPrimeRateStep(prev, rayPercent(105, 10)); err != nil {
		t.Fatalf("step at the limit must pass: %v", err)
	}
	if err := CheckPrimeRateStep(prev, rayPercent(95, 10)); err != nil {
		t.Fatalf("downward step at the limit must pass: %v", err)
	}
	if err := CheckPrimeRateStep(prev, rayPercent(106, 10)); !errors.Is(err, ErrInvalidRateParameters) {
		t.Fatalf("expected ErrInvalidRateParameters, got %v", err)
	}
	if err := CheckPrimeRateStep(prev, fixedpoint.Zero()); !errors.Is(err, ErrInvalidRateParameters) {
		t.Fatalf("expected zero prime rate to fail, got %v", err)
	}
	if err := CheckPrimeRateStep(fixedpoint.Zero(), rayPercent(50, 1)); err != nil {
		t.Fatalf("first prime rate is unbounded: %v", err)
	}
}
