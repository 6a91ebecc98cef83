package fixedpoint

import (
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
)

func mustDec(t *testing.T, s string) *uint256.Int {
	t.Helper()
	v, err := uint256.FromDecimal(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

func TestRayMulRoundsHalfUp(t *testing.T) {
	// 0.5 ray-units * 1 unit rounds up to 1.
	half := new(uint256.Int).Set(HalfRay)
	got, err := RayMul(half, uint256.NewInt(1))
	if err != nil {
		t.Fatalf("ray mul: %v", err)
	}
	if got.Uint64() != 1 {
		t.Fatalf("expected half-up rounding to 1, got %s", got.Dec())
	}

	below := new(uint256.Int).SubUint64(HalfRay, 1)
	got, err = RayMul(below, uint256.NewInt(1))
	if err != nil {
		t.Fatalf("ray mul: %v", err)
	}
	if !got.IsZero() {
		t.Fatalf("expected rounding down to 0, got %s", got.Dec())
	}
}

func TestRayMulOverflow(t *testing.T) {
	if _, err := RayMul(MaxUint256(), uint256.NewInt(2)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestRayDivByZero(t *testing.T) {
	if _, err := RayDiv(Ray, Zero()); !errors.Is(err, ErrDivideByZero) {
		t.Fatalf("expected ErrDivideByZero, got %v", err)
	}
	if _, err := WadDiv(Wad, Zero()); !errors.Is(err, ErrDivideByZero) {
		t.Fatalf("expected ErrDivideByZero, got %v", err)
	}
}

func TestRoundTripScalingWithinOneUnit(t *testing.T) {
	amounts := []string{"1", "7", "999999", "1000000000000000000", "123456789012345678901234567"}
	indices := []string{
		"1000000000000000000000000000",
		"1000000000000000000000000001",
		"1035400000000000000000000000",
		"1999999999999999999999999999",
		"2718281828459045235360287471",
	}
	for _, a := range amounts {
		for _, idx := range indices {
			amount := mustDec(t, a)
			index := mustDec(t, idx)
			scaled, err := RayDiv(amount, index)
			if err != nil {
				t.Fatalf("ray div: %v", err)
			}
			back, err := RayMul(scaled, index)
			if err != nil {
				t.Fatalf("ray mul: %v", err)
			}
			diff := new(big.Int).Sub(back.ToBig(), amount.ToBig())
			if diff.CmpAbs(big.NewInt(1)) > 0 {
				t.Fatalf("round trip of %s at index %s drifted by %s", a, idx, diff)
			}
		}
	}
}

func TestPercentMul(t *testing.T) {
	got, err := PercentMul(uint256.NewInt(1000), 8000)
	if err != nil {
		t.Fatalf("percent mul: %v", err)
	}
	if got.Uint64() != 800 {
		t.Fatalf("unexpected percent mul: %s", got.Dec())
	}
	// 3 * 5000 / 10000 = 1.5 rounds to 2.
	got, err = PercentMul(uint256.NewInt(3), 5000)
	if err != nil {
		t.Fatalf("percent mul: %v", err)
	}
	if got.Uint64() != 2 {
		t.Fatalf("expected half-up rounding, got %s", got.Dec())
	}
}

func TestPercentMulOverflowBound(t *testing.T) {
	limit := new(uint256.Int).Sub(MaxUint256(), uint256.NewInt(5000))
	limit.Div(limit, uint256.NewInt(10_000))
	if _, err := PercentMul(limit, 10_000); err != nil {
		t.Fatalf("value at the bound must succeed: %v", err)
	}
	over := new(uint256.Int).AddUint64(limit, 1)
	if _, err := PercentMul(over, 10_000); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow above the bound, got %v", err)
	}
}

func TestPercentDiv(t *testing.T) {
	got, err := PercentDiv(uint256.NewInt(800), 8000)
	if err != nil {
		t.Fatalf("percent div: %v", err)
	}
	if got.Uint64() != 1000 {
		t.Fatalf("unexpected percent div: %s", got.Dec())
	}
	if _, err := PercentDiv(uint256.NewInt(1), 0); !errors.Is(err, ErrDivideByZero) {
		t.Fatalf("expected ErrDivideByZero, got %v", err)
	}
	if _, err := PercentDiv(MaxUint256(), 1); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestWadRayConversion(t *testing.T) {
	ray, err := WadToRay(Wad)
	if err != nil {
		t.Fatalf("wad to ray: %v", err)
	}
	if !ray.Eq(Ray) {
		t.Fatalf("expected 1 ray, got %s", ray.Dec())
	}
	wad, err := RayToWad(Ray)
	if err != nil {
		t.Fatalf("ray to wad: %v", err)
	}
	if !wad.Eq(Wad) {
		t.Fatalf("expected 1 wad, got %s", wad.Dec())
	}
}

func TestRayExp(t *testing.T) {
	one, err := RayExp(Zero())
	if err != nil {
		t.Fatalf("ray exp: %v", err)
	}
	if !one.Eq(Ray) {
		t.Fatalf("e^0 must be exactly 1 ray, got %s", one.Dec())
	}

	// e^0.1 = 1.10517091807564762481...
	x := mustDec(t, "100000000000000000000000000")
	got, err := RayExp(x)
	if err != nil {
		t.Fatalf("ray exp: %v", err)
	}
	want := mustDec(t, "1105170918075647624811707826")
	diff := new(big.Int).Sub(want.ToBig(), got.ToBig())
	// Truncation after x^7/7! leaves an error around x^8/8! = 2.5e-13.
	tolerance := mustDec(t, "1000000000000000")
	if diff.Sign() < 0 || diff.Cmp(tolerance.ToBig()) > 0 {
		t.Fatalf("e^0.1 approximation off by %s", diff)
	}
}

func TestRayExpMonotone(t *testing.T) {
	prev := RayOne()
	step := mustDec(t, "10000000000000000000000000") // 0.01
	x := Zero()
	for i := 0; i < 100; i++ {
		x = new(uint256.Int).Add(x, step)
		got, err := RayExp(x)
		if err != nil {
			t.Fatalf("ray exp: %v", err)
		}
		if got.Lt(prev) {
			t.Fatalf("exp not monotone at step %d", i)
		}
		prev = got
	}
}

func TestToUint128(t *testing.T) {
	if _, err := ToUint128(Ray); err != nil {
		t.Fatalf("ray fits in 128 bits: %v", err)
	}
	wide := new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	if _, err := ToUint128(wide); !errors.Is(err, ErrValueTooLarge) {
		t.Fatalf("expected ErrValueTooLarge, got %v", err)
	}
}
