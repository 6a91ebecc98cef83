package lending

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"rwalend/native/lending/fixedpoint"
)

// Validation errors.
var (
	ErrInvalidAmount         = errors.New("lending: invalid amount")
	ErrInvalidAddress        = errors.New("lending: invalid address")
	ErrInvalidRateParameters = errors.New("lending: invalid rate parameters")
	ErrZeroWeight            = errors.New("lending: zero weight")
	ErrZeroDuration          = errors.New("lending: zero duration")
	ErrUnauthorized          = errors.New("lending: caller not authorized")
)

// State errors.
var (
	ErrInsufficientLiquidity             = errors.New("lending: insufficient liquidity")
	ErrNotEnoughCollateralToBorrow       = errors.New("lending: not enough collateral to borrow")
	ErrWithdrawalWouldUnderCollateralize = errors.New("lending: withdrawal would leave position undercollateralized")
	ErrCannotActWhileLiquidating         = errors.New("lending: account is under liquidation")
	ErrAlreadyUnderLiquidation           = errors.New("lending: account already under liquidation")
	ErrNotUnderLiquidation               = errors.New("lending: account not under liquidation")
	ErrGracePeriodExpired                = errors.New("lending: liquidation grace period expired")
	ErrGracePeriodNotExpired             = errors.New("lending: liquidation grace period not expired")
	ErrHealthFactorSufficient            = errors.New("lending: health factor above liquidation threshold")
	ErrDebtNotRepaid                     = errors.New("lending: debt above dust threshold")
	ErrCollateralNotFound                = errors.New("lending: collateral not held for account")
)

// Arithmetic errors. The fixed-point sentinels are re-exported so callers can
// match them without importing the math package.
var (
	ErrOverflow                          = fixedpoint.ErrOverflow
	ErrDivideByZero                      = fixedpoint.ErrDivideByZero
	ErrValueTooLargeForCompressedStorage = fixedpoint.ErrValueTooLarge
	ErrStaleIndexZero                    = errors.New("lending: stale index zero")
)

// ErrStalePriceOrZero reports an oracle price that is zero or too old.
var ErrStalePriceOrZero = errors.New("lending: stale or zero price")

var errNilState = errors.New("lending: state not configured")

// Error carries the failing operation and the offending inputs alongside the
// error kind. errors.Is matches against Kind.
type Error struct {
	Op      string
	Kind    error
	Account common.Address
	Amount  *uint256.Int
	Detail  string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	kind := "lending: unknown error"
	if e.Kind != nil {
		kind = e.Kind.Error()
	}
	b.WriteString(kind)
	if e.Op != "" {
		b.WriteString(" [op=")
		b.WriteString(e.Op)
		b.WriteString("]")
	}
	if e.Account != (common.Address{}) {
		fmt.Fprintf(&b, " account=%s", e.Account.Hex())
	}
	if e.Amount != nil {
		fmt.Fprintf(&b, " amount=%s", e.Amount.Dec())
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Kind
}

func newError(op string, kind error, account common.Address, amount *uint256.Int, detail string) *Error {
	var amt *uint256.Int
	if amount != nil {
		amt = new(uint256.Int).Set(amount)
	}
	return &Error{Op: op, Kind: kind, Account: account, Amount: amt, Detail: detail}
}

// wrapOp attaches the operation name to err unless it already carries one.
func wrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	var lerr *Error
	if errors.As(err, &lerr) {
		if lerr.Op == "" {
			lerr.Op = op
		}
		return err
	}
	return &Error{Op: op, Kind: err}
}
