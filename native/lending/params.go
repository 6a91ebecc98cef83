package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"rwalend/native/lending/fixedpoint"
)

// RateParameters shape the kinked borrow curve. Every value is Ray scaled;
// the rates are annualised.
type RateParameters struct {
	PrimeRate          *uint256.Int
	BaseRate           *uint256.Int
	OptimalRate        *uint256.Int
	MaxRate            *uint256.Int
	OptimalUtilization *uint256.Int
	ProtocolFeeRate    *uint256.Int
}

// Clone returns a deep copy of the rate parameters.
func (p RateParameters) Clone() RateParameters {
	return RateParameters{
		PrimeRate:          cloneInt(p.PrimeRate),
		BaseRate:           cloneInt(p.BaseRate),
		OptimalRate:        cloneInt(p.OptimalRate),
		MaxRate:            cloneInt(p.MaxRate),
		OptimalUtilization: cloneInt(p.OptimalUtilization),
		ProtocolFeeRate:    cloneInt(p.ProtocolFeeRate),
	}
}

// Validate enforces base < prime < max, base < optimal < max, an optimal
// utilisation in (0, 1 Ray] and a protocol fee in [0, 1 Ray].
func (p RateParameters) Validate() error {
	base, prime, optimal, maxRate := orZero(p.BaseRate), orZero(p.PrimeRate), orZero(p.OptimalRate), orZero(p.MaxRate)
	if !base.Lt(prime) || !prime.Lt(maxRate) {
		return newError("", ErrInvalidRateParameters, common.Address{}, nil, "require base < prime < max")
	}
	if !base.Lt(optimal) || !optimal.Lt(maxRate) {
		return newError("", ErrInvalidRateParameters, common.Address{}, nil, "require base < optimal < max")
	}
	u := orZero(p.OptimalUtilization)
	if u.IsZero() || u.Gt(fixedpoint.Ray) {
		return newError("", ErrInvalidRateParameters, common.Address{}, nil, "optimal utilization must be in (0, 1]")
	}
	if orZero(p.ProtocolFeeRate).Gt(fixedpoint.Ray) {
		return newError("", ErrInvalidRateParameters, common.Address{}, nil, "protocol fee must be in [0, 1]")
	}
	return nil
}

// Params groups the risk and liquidation settings of a reserve.
type Params struct {
	// LiquidationThresholdBps is the share of collateral value that may back
	// debt, in basis points.
	LiquidationThresholdBps uint64
	// HealthFactorThreshold is the Wad scaled health factor below which a
	// liquidation may be initiated.
	HealthFactorThreshold *uint256.Int
	// GracePeriod is the number of seconds a borrower has to cure a position
	// after liquidation is initiated.
	GracePeriod int64
	// DustThreshold bounds the debt, in underlying units, that counts as
	// repaid when closing a liquidation. The debt must be strictly below it.
	DustThreshold *uint256.Int
	// BufferRatioBps is the share of total liquidity kept idle in the
	// reserve when a yield vault is attached.
	BufferRatioBps uint64
	// MaxPriceAge rejects oracle prices older than this many seconds. Zero
	// disables the age check.
	MaxPriceAge int64
	// LiquidationAuthority finalizes liquidations and receives seized
	// collateral.
	LiquidationAuthority common.Address
	// Admin may change rate parameters.
	Admin common.Address
}

const (
	DefaultLiquidationThresholdBps = 8_000
	DefaultGracePeriod             = 3 * 24 * 60 * 60
	DefaultBufferRatioBps          = 2_000
)

// DefaultDustThreshold is the residual debt tolerated when closing a
// liquidation.
var DefaultDustThreshold = uint256.NewInt(1_000_000)

// DefaultParams returns the reserve defaults for the given authority and
// admin.
func DefaultParams(authority, admin common.Address) Params {
	return Params{
		LiquidationThresholdBps: DefaultLiquidationThresholdBps,
		HealthFactorThreshold:   fixedpoint.WadOne(),
		GracePeriod:             DefaultGracePeriod,
		DustThreshold:           new(uint256.Int).Set(DefaultDustThreshold),
		BufferRatioBps:          DefaultBufferRatioBps,
		LiquidationAuthority:    authority,
		Admin:                   admin,
	}
}

// Clone returns a deep copy of the params.
func (p Params) Clone() Params {
	clone := p
	clone.HealthFactorThreshold = cloneInt(p.HealthFactorThreshold)
	clone.DustThreshold = cloneInt(p.DustThreshold)
	return clone
}

// Validate checks the params for internal consistency.
func (p Params) Validate() error {
	if p.LiquidationThresholdBps == 0 {
		return newError("", ErrZeroWeight, common.Address{}, nil, "liquidation threshold must be positive")
	}
	if p.LiquidationThresholdBps > fixedpoint.BasisPoints {
		return newError("", ErrInvalidAmount, common.Address{}, nil, "liquidation threshold exceeds 100%")
	}
	if p.BufferRatioBps > fixedpoint.BasisPoints {
		return newError("", ErrInvalidAmount, common.Address{}, nil, "buffer ratio exceeds 100%")
	}
	if p.GracePeriod <= 0 {
		return newError("", ErrZeroDuration, common.Address{}, nil, "grace period must be positive")
	}
	if p.MaxPriceAge < 0 {
		return newError("", ErrZeroDuration, common.Address{}, nil, "max price age must not be negative")
	}
	if orZero(p.HealthFactorThreshold).IsZero() {
		return newError("", ErrZeroWeight, common.Address{}, nil, "health factor threshold must be positive")
	}
	if p.LiquidationAuthority == (common.Address{}) {
		return newError("", ErrInvalidAddress, common.Address{}, nil, "liquidation authority not configured")
	}
	return nil
}

// ActionPauses exposes fine-grained switches for pausing individual lending
// flows.
type ActionPauses struct {
	Deposit   bool
	Withdraw  bool
	Borrow    bool
	Repay     bool
	Liquidate bool
}

// Action names accepted by IsPaused.
const (
	ActionDeposit   = "deposit"
	ActionWithdraw  = "withdraw"
	ActionBorrow    = "borrow"
	ActionRepay     = "repay"
	ActionLiquidate = "liquidate"
)

// IsPaused implements common.PauseView for action keys of the form
// "lending.<action>".
func (a ActionPauses) IsPaused(key string) bool {
	switch key {
	case moduleName + "." + ActionDeposit:
		return a.Deposit
	case moduleName + "." + ActionWithdraw:
		return a.Withdraw
	case moduleName + "." + ActionBorrow:
		return a.Borrow
	case moduleName + "." + ActionRepay:
		return a.Repay
	case moduleName + "." + ActionLiquidate:
		return a.Liquidate
	default:
		return false
	}
}
