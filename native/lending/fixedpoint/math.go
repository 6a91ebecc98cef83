// Package fixedpoint implements the Ray (1e27) and Wad (1e18) scaled integer
// arithmetic used by the lending engine. Every operation is checked: results
// that do not fit in 256 bits are reported as ErrOverflow instead of wrapping,
// and all divisions round half up.
package fixedpoint

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow     = errors.New("fixedpoint: overflow")
	ErrDivideByZero = errors.New("fixedpoint: divide by zero")
	// ErrValueTooLarge reports a value that does not fit the compressed
	// 128-bit representation used for persisted indices.
	ErrValueTooLarge = errors.New("fixedpoint: value too large for compressed storage")
)

const (
	// BasisPoints is the percentage scale: 10_000 = 100%.
	BasisPoints    = 10_000
	halfBasisPoint = 5_000
)

var (
	Ray     = uint256.MustFromDecimal("1000000000000000000000000000")
	HalfRay = uint256.MustFromDecimal("500000000000000000000000000")
	Wad     = uint256.MustFromDecimal("1000000000000000000")
	HalfWad = uint256.MustFromDecimal("500000000000000000")

	// wadRayRatio is 1e9, the factor between Ray and Wad precision.
	wadRayRatio     = uint256.NewInt(1_000_000_000)
	halfWadRayRatio = uint256.NewInt(500_000_000)

	maxUint256 = new(uint256.Int).SetAllOne()
	bpScale    = uint256.NewInt(BasisPoints)
	halfBp     = uint256.NewInt(halfBasisPoint)
)

// MaxUint256 returns a fresh copy of the largest representable value. The
// lending engine uses it as the "infinite" health factor.
func MaxUint256() *uint256.Int { return new(uint256.Int).Set(maxUint256) }

// Zero returns a fresh zero value.
func Zero() *uint256.Int { return new(uint256.Int) }

// RayOne returns a fresh copy of 1 Ray.
func RayOne() *uint256.Int { return new(uint256.Int).Set(Ray) }

// WadOne returns a fresh copy of 1 Wad.
func WadOne() *uint256.Int { return new(uint256.Int).Set(Wad) }

// mulAddDiv computes (a*b + half) / d, failing when the intermediate product
// or sum exceeds 256 bits.
func mulAddDiv(a, b, half, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivideByZero
	}
	if a.IsZero() || b.IsZero() {
		return new(uint256.Int), nil
	}
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	if _, overflow = product.AddOverflow(product, half); overflow {
		return nil, ErrOverflow
	}
	return product.Div(product, d), nil
}

func halfOf(d *uint256.Int) *uint256.Int {
	return new(uint256.Int).Rsh(d, 1)
}

// RayMul multiplies two Ray values: round_half_up(a*b / 1e27).
func RayMul(a, b *uint256.Int) (*uint256.Int, error) {
	return mulAddDiv(a, b, HalfRay, Ray)
}

// RayDiv divides two Ray values: round_half_up(a*1e27 / b).
func RayDiv(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrDivideByZero
	}
	return mulAddDiv(a, Ray, halfOf(b), b)
}

// WadMul multiplies two Wad values: round_half_up(a*b / 1e18).
func WadMul(a, b *uint256.Int) (*uint256.Int, error) {
	return mulAddDiv(a, b, HalfWad, Wad)
}

// WadDiv divides two Wad values: round_half_up(a*1e18 / b).
func WadDiv(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrDivideByZero
	}
	return mulAddDiv(a, Wad, halfOf(b), b)
}

// RayToWad narrows a Ray value to Wad precision, rounding half up.
func RayToWad(a *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, halfWadRayRatio)
	if overflow {
		return nil, ErrOverflow
	}
	return sum.Div(sum, wadRayRatio), nil
}

// WadToRay widens a Wad value to Ray precision.
func WadToRay(a *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulOverflow(a, wadRayRatio)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// PercentMul returns round_half_up(value * bp / 10_000).
func PercentMul(value *uint256.Int, bp uint64) (*uint256.Int, error) {
	if value.IsZero() || bp == 0 {
		return new(uint256.Int), nil
	}
	bps := uint256.NewInt(bp)
	limit := new(uint256.Int).Sub(maxUint256, halfBp)
	limit.Div(limit, bps)
	if value.Gt(limit) {
		return nil, ErrOverflow
	}
	out := new(uint256.Int).Mul(value, bps)
	out.Add(out, halfBp)
	return out.Div(out, bpScale), nil
}

// PercentDiv returns round_half_up(value * 10_000 / bp).
func PercentDiv(value *uint256.Int, bp uint64) (*uint256.Int, error) {
	if bp == 0 {
		return nil, ErrDivideByZero
	}
	bps := uint256.NewInt(bp)
	return mulAddDiv(value, bpScale, halfOf(bps), bps)
}

// MulDiv returns floor(a*b / d) with overflow detection on the full product.
func MulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivideByZero
	}
	out, overflow := new(uint256.Int).MulDivOverflow(a, b, d)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// Add returns a+b or ErrOverflow.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// Sub returns a-b or ErrOverflow when b > a.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	out, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// Min returns a copy of the smaller operand.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int).Set(b)
}

// ToUint128 checks that v fits the 128-bit compressed representation used
// when indices are persisted.
func ToUint128(v *uint256.Int) (*uint256.Int, error) {
	if v.BitLen() > 128 {
		return nil, ErrValueTooLarge
	}
	return new(uint256.Int).Set(v), nil
}
