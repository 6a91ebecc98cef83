package fixedpoint

import "github.com/holiman/uint256"

// expTerms is the number of Taylor terms after the constant used by RayExp.
const expTerms = 7

// RayExp approximates e^x for a Ray-scaled exponent using the truncated series
// 1 + x + x²/2! + … + x⁷/7!. It is intended for the small per-period exponents
// produced by interest accrual (rate × elapsed / year). The result is an
// approximation that underestimates e^x, and the error grows with x; callers
// must not treat it as a general purpose exponential. The series is evaluated
// with RayMul at each step so the output is bit-for-bit reproducible.
func RayExp(x *uint256.Int) (*uint256.Int, error) {
	sum := RayOne()
	if x.IsZero() {
		return sum, nil
	}
	term := RayOne()
	for i := uint64(1); i <= expTerms; i++ {
		next, err := RayMul(term, x)
		if err != nil {
			return nil, err
		}
		term = next.Div(next, uint256.NewInt(i))
		if term.IsZero() {
			break
		}
		if _, overflow := sum.AddOverflow(sum, term); overflow {
			return nil, ErrOverflow
		}
	}
	return sum, nil
}
