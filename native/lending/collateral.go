package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"rwalend/native/lending/fixedpoint"
)

// price fetches a collateral price, rejecting zero and stale quotes.
func (tx *txn) price(account common.Address, id *uint256.Int) (*uint256.Int, error) {
	oracle := tx.e.oracle
	if oracle == nil {
		return nil, newError("", ErrStalePriceOrZero, account, nil, "price oracle not configured")
	}
	value, updatedAt, err := oracle.Price(id)
	if err != nil {
		return nil, newError("", ErrStalePriceOrZero, account, nil, "token "+id.Dec()+": "+err.Error())
	}
	if orZero(value).IsZero() {
		return nil, newError("", ErrStalePriceOrZero, account, nil, "token "+id.Dec()+" has no price")
	}
	if maxAge := tx.e.params.MaxPriceAge; maxAge > 0 && tx.now-updatedAt > maxAge {
		return nil, newError("", ErrStalePriceOrZero, account, nil, "token "+id.Dec()+" price is stale")
	}
	return value, nil
}

// collateralValue sums the prices of every token held for account.
func (tx *txn) collateralValue(account common.Address) (*uint256.Int, error) {
	pos, err := tx.st.position(account)
	if err != nil {
		return nil, err
	}
	total := fixedpoint.Zero()
	for _, id := range pos.Collateral.IDs() {
		value, err := tx.price(account, id)
		if err != nil {
			return nil, err
		}
		if total, err = fixedpoint.Add(total, value); err != nil {
			return nil, err
		}
	}
	return total, nil
}

// borrowingPower is the share of value that may back debt.
func (tx *txn) borrowingPower(value *uint256.Int) (*uint256.Int, error) {
	return fixedpoint.PercentMul(value, tx.e.params.LiquidationThresholdBps)
}

func (tx *txn) debtOf(account common.Address) (*uint256.Int, error) {
	return tx.debts.BalanceOf(account, tx.reserve.UsageIndex)
}

// healthFactor is power*1e18/debt in Wad, or MaxUint256 when the account
// owes less than one unit.
func (tx *txn) healthFactor(account common.Address) (*uint256.Int, error) {
	debt, err := tx.debtOf(account)
	if err != nil {
		return nil, err
	}
	if debt.IsZero() {
		return fixedpoint.MaxUint256(), nil
	}
	value, err := tx.collateralValue(account)
	if err != nil {
		return nil, err
	}
	power, err := tx.borrowingPower(value)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDiv(power, fixedpoint.Wad, debt)
}

// canBorrow reports whether the account's borrowing power covers its debt
// plus additional.
func (tx *txn) canBorrow(account common.Address, additional *uint256.Int) (bool, error) {
	value, err := tx.collateralValue(account)
	if err != nil {
		return false, err
	}
	power, err := tx.borrowingPower(value)
	if err != nil {
		return false, err
	}
	debt, err := tx.debtOf(account)
	if err != nil {
		return false, err
	}
	required, err := fixedpoint.Add(debt, orZero(additional))
	if err != nil {
		return false, err
	}
	return !power.Lt(required), nil
}

// canWithdrawCollateral reports whether the remaining collateral still covers
// the debt once id is removed.
func (tx *txn) canWithdrawCollateral(account common.Address, id *uint256.Int) (bool, error) {
	pos, err := tx.st.position(account)
	if err != nil {
		return false, err
	}
	if !pos.Collateral.Contains(id) {
		return false, newError("", ErrCollateralNotFound, account, nil, "token "+id.Dec())
	}
	debt, err := tx.debtOf(account)
	if err != nil {
		return false, err
	}
	if debt.IsZero() {
		return true, nil
	}
	value, err := tx.collateralValue(account)
	if err != nil {
		return false, err
	}
	tokenValue, err := tx.price(account, id)
	if err != nil {
		return false, err
	}
	remaining, err := fixedpoint.Sub(value, tokenValue)
	if err != nil {
		return false, err
	}
	power, err := tx.borrowingPower(remaining)
	if err != nil {
		return false, err
	}
	return !power.Lt(debt), nil
}

func (tx *txn) requireNotLiquidating(account common.Address, amount *uint256.Int) error {
	rec, err := tx.st.liquidation(account)
	if err != nil {
		return err
	}
	if rec.Active() {
		return newError("", ErrCannotActWhileLiquidating, account, amount, "")
	}
	return nil
}

// depositCollateral takes custody of id from caller and adds it to the
// caller's position.
func (tx *txn) depositCollateral(caller common.Address, id *uint256.Int) error {
	if caller == (common.Address{}) {
		return newError("", ErrInvalidAddress, caller, nil, "depositor is the zero address")
	}
	if id == nil {
		return newError("", ErrInvalidAmount, caller, nil, "collateral id required")
	}
	custody := tx.e.custody
	if custody == nil {
		return newError("", ErrInvalidAddress, caller, nil, "collateral custody not configured")
	}
	if err := tx.accrue(); err != nil {
		return err
	}
	pos, err := tx.st.position(caller)
	if err != nil {
		return err
	}
	if pos.Collateral.Contains(id) {
		return newError("", ErrInvalidAmount, caller, nil, "token "+id.Dec()+" already deposited")
	}
	owner, err := custody.OwnerOf(id)
	if err != nil {
		return err
	}
	if owner != caller {
		return newError("", ErrUnauthorized, caller, nil, "token "+id.Dec()+" not owned by caller")
	}
	if _, err := tx.price(caller, id); err != nil {
		return err
	}
	pos.Collateral.Add(id)
	tx.st.setPosition(caller, pos)
	if err := tx.transferCollateral(id, caller, tx.e.pool); err != nil {
		return err
	}
	tx.emit(NewCollateralEvent(EventTypeCollateralDeposited, caller, id))
	return nil
}

// withdrawCollateral releases id back to caller when the position stays
// healthy without it.
func (tx *txn) withdrawCollateral(caller common.Address, id *uint256.Int) error {
	if id == nil {
		return newError("", ErrInvalidAmount, caller, nil, "collateral id required")
	}
	if tx.e.custody == nil {
		return newError("", ErrInvalidAddress, caller, nil, "collateral custody not configured")
	}
	if err := tx.accrue(); err != nil {
		return err
	}
	if err := tx.requireNotLiquidating(caller, nil); err != nil {
		return err
	}
	ok, err := tx.canWithdrawCollateral(caller, id)
	if err != nil {
		return err
	}
	if !ok {
		return newError("", ErrWithdrawalWouldUnderCollateralize, caller, nil, "token "+id.Dec())
	}
	pos, err := tx.st.position(caller)
	if err != nil {
		return err
	}
	pos.Collateral.Remove(id)
	tx.st.setPosition(caller, pos)
	if err := tx.transferCollateral(id, tx.e.pool, caller); err != nil {
		return err
	}
	tx.emit(NewCollateralEvent(EventTypeCollateralWithdrawn, caller, id))
	return nil
}

// transferCollateral moves id through custody and registers the reverse
// transfer for rollback.
func (tx *txn) transferCollateral(id *uint256.Int, from, to common.Address) error {
	custody := tx.e.custody
	if err := custody.Transfer(id, from, to); err != nil {
		return err
	}
	token := new(uint256.Int).Set(id)
	tx.st.onRollback(func() error { return custody.Transfer(token, to, from) })
	return nil
}
