package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"rwalend/native/lending/fixedpoint"
)

// LiquidationPhase names the state of an account in the liquidation cycle.
type LiquidationPhase uint8

const (
	PhaseHealthy LiquidationPhase = iota
	PhaseUnderLiquidation
	// PhaseGraceExpired is an open liquidation whose grace period has run
	// out; only the authority can move it forward.
	PhaseGraceExpired
)

func (p LiquidationPhase) String() string {
	switch p {
	case PhaseUnderLiquidation:
		return "under_liquidation"
	case PhaseGraceExpired:
		return "grace_expired"
	default:
		return "healthy"
	}
}

func (tx *txn) graceDeadline(rec *LiquidationRecord) int64 {
	return rec.StartTime + tx.e.params.GracePeriod
}

func (tx *txn) phase(account common.Address) (LiquidationPhase, *LiquidationRecord, error) {
	rec, err := tx.st.liquidation(account)
	if err != nil {
		return PhaseHealthy, nil, err
	}
	if !rec.Active() {
		return PhaseHealthy, nil, nil
	}
	if tx.now > tx.graceDeadline(rec) {
		return PhaseGraceExpired, rec, nil
	}
	return PhaseUnderLiquidation, rec, nil
}

// initiateLiquidation opens the grace period for an account whose health
// factor fell below the threshold.
func (tx *txn) initiateLiquidation(account common.Address) (*uint256.Int, error) {
	if account == (common.Address{}) {
		return nil, newError("", ErrInvalidAddress, account, nil, "account is the zero address")
	}
	if tx.now <= 0 {
		return nil, newError("", ErrInvalidAmount, account, nil, "liquidation start time must be positive")
	}
	if err := tx.accrue(); err != nil {
		return nil, err
	}
	rec, err := tx.st.liquidation(account)
	if err != nil {
		return nil, err
	}
	if rec.Active() {
		return nil, newError("", ErrAlreadyUnderLiquidation, account, nil, "")
	}
	hf, err := tx.healthFactor(account)
	if err != nil {
		return nil, err
	}
	if !hf.Lt(tx.e.params.HealthFactorThreshold) {
		return nil, newError("", ErrHealthFactorSufficient, account, nil, "health factor "+hf.Dec())
	}
	tx.st.setLiquidation(account, &LiquidationRecord{UnderLiquidation: true, StartTime: tx.now})
	tx.emit(NewLiquidationInitiatedEvent(account, hf, tx.now))
	return hf, nil
}

// closeLiquidation ends a liquidation the borrower cured by repaying to below
// the dust threshold within the grace period.
func (tx *txn) closeLiquidation(account common.Address) error {
	if err := tx.accrue(); err != nil {
		return err
	}
	phase, _, err := tx.phase(account)
	if err != nil {
		return err
	}
	switch phase {
	case PhaseHealthy:
		return newError("", ErrNotUnderLiquidation, account, nil, "")
	case PhaseGraceExpired:
		return newError("", ErrGracePeriodExpired, account, nil, "")
	}
	debt, err := tx.debtOf(account)
	if err != nil {
		return err
	}
	if !debt.IsZero() && !debt.Lt(orZero(tx.e.params.DustThreshold)) {
		return newError("", ErrDebtNotRepaid, account, debt, "dust threshold "+tx.e.params.DustThreshold.Dec())
	}
	tx.st.setLiquidation(account, nil)
	tx.emit(NewLiquidationClosedEvent(account, debt))
	return nil
}

// finalizeLiquidation settles an expired liquidation: the authority pays the
// full debt into the reserve and receives every collateral token.
func (tx *txn) finalizeLiquidation(caller, account common.Address) (*uint256.Int, error) {
	authority := tx.e.params.LiquidationAuthority
	if authority == (common.Address{}) || caller != authority {
		return nil, newError("", ErrUnauthorized, caller, nil, "caller is not the liquidation authority")
	}
	if tx.e.custody == nil {
		return nil, newError("", ErrInvalidAddress, account, nil, "collateral custody not configured")
	}
	if err := tx.accrue(); err != nil {
		return nil, err
	}
	phase, _, err := tx.phase(account)
	if err != nil {
		return nil, err
	}
	switch phase {
	case PhaseHealthy:
		return nil, newError("", ErrNotUnderLiquidation, account, nil, "")
	case PhaseUnderLiquidation:
		return nil, newError("", ErrGracePeriodNotExpired, account, nil, "")
	}

	burned, err := tx.debts.BurnAll(account, tx.reserve.UsageIndex)
	if err != nil {
		return nil, err
	}
	debt := burned.UnderlyingReturned
	if tx.reserve.Buffer, err = fixedpoint.Add(orZero(tx.reserve.Buffer), debt); err != nil {
		return nil, err
	}

	pos, err := tx.st.position(account)
	if err != nil {
		return nil, err
	}
	seized := pos.Collateral.IDs()
	for _, id := range seized {
		if err := tx.transferCollateral(id, tx.e.pool, authority); err != nil {
			return nil, err
		}
	}
	tx.st.setPosition(account, &UserPosition{ScaledDebt: fixedpoint.Zero()})
	tx.st.setLiquidation(account, nil)

	if err := tx.refresh(nil, nil); err != nil {
		return nil, err
	}
	tx.rebalance()
	tx.emit(NewLiquidationFinalizedEvent(account, authority, debt, seized))
	return debt, nil
}
