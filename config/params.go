package config

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"rwalend/native/lending"
	"rwalend/native/lending/fixedpoint"
)

// Reserve bundles the runtime values derived from a Lending file.
type Reserve struct {
	Pool   common.Address
	Params lending.Params
	Rates  lending.RateParameters
	Pauses lending.ActionPauses
	Paused bool
}

func bpsToRay(bps uint64) (*uint256.Int, error) {
	return fixedpoint.PercentMul(fixedpoint.Ray, bps)
}

// RateParameters converts the configured curve to Ray. Base, optimal and
// max rates left at zero are derived from the prime rate.
func (l *Lending) RateParameters() (lending.RateParameters, error) {
	prime, err := bpsToRay(l.PrimeRateBps)
	if err != nil {
		return lending.RateParameters{}, err
	}
	rates, err := lending.DefaultRateParameters(prime)
	if err != nil {
		return lending.RateParameters{}, fmt.Errorf("config: rate curve: %w", err)
	}
	overrides := []struct {
		bps uint64
		dst **uint256.Int
	}{
		{l.BaseRateBps, &rates.BaseRate},
		{l.OptimalRateBps, &rates.OptimalRate},
		{l.MaxRateBps, &rates.MaxRate},
	}
	for _, o := range overrides {
		if o.bps == 0 {
			continue
		}
		if *o.dst, err = bpsToRay(o.bps); err != nil {
			return lending.RateParameters{}, err
		}
	}
	if rates.OptimalUtilization, err = bpsToRay(l.OptimalUtilizationBps); err != nil {
		return lending.RateParameters{}, err
	}
	if rates.ProtocolFeeRate, err = bpsToRay(l.ProtocolFeeBps); err != nil {
		return lending.RateParameters{}, err
	}
	if err := rates.Validate(); err != nil {
		return lending.RateParameters{}, fmt.Errorf("config: rate curve: %w", err)
	}
	return rates, nil
}

// Params converts the configured risk parameters.
func (l *Lending) Params() (lending.Params, error) {
	authority, err := parseAddress("LiquidationAuthority", l.LiquidationAuthority)
	if err != nil {
		return lending.Params{}, fmt.Errorf("config: %w: %v", lending.ErrInvalidAddress, err)
	}
	var admin common.Address
	if l.Admin != "" {
		if admin, err = parseAddress("Admin", l.Admin); err != nil {
			return lending.Params{}, fmt.Errorf("config: %w: %v", lending.ErrInvalidAddress, err)
		}
	}
	dust, err := uint256.FromDecimal(l.DustThreshold)
	if err != nil {
		return lending.Params{}, fmt.Errorf("config: %w: DustThreshold %q: %v", lending.ErrInvalidAmount, l.DustThreshold, err)
	}
	hf, err := fixedpoint.PercentMul(fixedpoint.Wad, l.HealthFactorThresholdBps)
	if err != nil {
		return lending.Params{}, err
	}
	params := lending.Params{
		LiquidationThresholdBps: l.LiquidationThresholdBps,
		HealthFactorThreshold:   hf,
		GracePeriod:             l.GracePeriodSecs,
		DustThreshold:           dust,
		BufferRatioBps:          l.BufferRatioBps,
		MaxPriceAge:             l.MaxPriceAgeSecs,
		LiquidationAuthority:    authority,
		Admin:                   admin,
	}
	if err := params.Validate(); err != nil {
		return lending.Params{}, fmt.Errorf("config: %w", err)
	}
	return params, nil
}

// ActionPauses returns the per-action switches.
func (l *Lending) ActionPauses() lending.ActionPauses {
	return lending.ActionPauses{
		Deposit:   l.Pauses.Deposit,
		Withdraw:  l.Pauses.Withdraw,
		Borrow:    l.Pauses.Borrow,
		Repay:     l.Pauses.Repay,
		Liquidate: l.Pauses.Liquidate,
	}
}

// Reserve validates the whole file and returns the runtime values.
func (l *Lending) Reserve() (Reserve, error) {
	pool, err := parseAddress("Pool", l.Pool)
	if err != nil {
		return Reserve{}, fmt.Errorf("config: %w: %v", lending.ErrInvalidAddress, err)
	}
	if pool == (common.Address{}) {
		return Reserve{}, fmt.Errorf("config: %w: Pool is the zero address", lending.ErrInvalidAddress)
	}
	params, err := l.Params()
	if err != nil {
		return Reserve{}, err
	}
	rates, err := l.RateParameters()
	if err != nil {
		return Reserve{}, err
	}
	return Reserve{
		Pool:   pool,
		Params: params,
		Rates:  rates,
		Pauses: l.ActionPauses(),
		Paused: l.Pauses.Lending,
	}, nil
}

// IsPaused implements common.PauseView for the module-wide switch.
func (p Pauses) IsPaused(module string) bool {
	return module == "lending" && p.Lending
}
