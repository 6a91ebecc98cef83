package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"rwalend/core/types"
	"rwalend/native/lending/fixedpoint"
)

// txn is the working context of one engine operation. It reads through the
// pending overlay and holds the reserve and rate state for the duration of
// the call.
type txn struct {
	e        *Engine
	now      int64
	st       *pendingState
	reserve  *ReserveState
	rates    *RateState
	receipts *ScaledLedger
	debts    *ScaledLedger
}

func (e *Engine) begin() (*txn, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	now := e.now()
	st := newPendingState(e.state)
	reserve, err := e.state.GetReserve()
	if err != nil {
		return nil, err
	}
	if reserve == nil {
		reserve = NewReserveState(now)
	}
	rates, err := e.state.GetRates()
	if err != nil {
		return nil, err
	}
	if rates == nil {
		rates = &RateState{
			CurrentLiquidityRate: fixedpoint.Zero(),
			CurrentUsageRate:     fixedpoint.Zero(),
			RateParameters:       e.rateParams.Clone(),
		}
	}
	return &txn{
		e:        e,
		now:      now,
		st:       st,
		reserve:  reserve,
		rates:    rates,
		receipts: &ScaledLedger{kind: ReceiptLedger, book: receiptBook{st: st}},
		debts:    &ScaledLedger{kind: DebtLedger, book: debtBook{st: st}},
	}, nil
}

// stage copies the working reserve and rates into the overlay so commit
// persists them.
func (tx *txn) stage() {
	tx.st.reserve = tx.reserve.Clone()
	tx.st.rates = tx.rates.Clone()
}

func (tx *txn) emit(evt *types.Event) {
	if evt == nil {
		return
	}
	tx.st.events.Emit(lendingEvent{evt: evt})
}

// accrue brings the indices up to now and re-derives both totals from the
// scaled supplies at the fresh indices.
func (tx *txn) accrue() error {
	update, err := Accrue(tx.reserve, tx.rates, tx.now)
	if err != nil {
		return err
	}
	if update == nil {
		return nil
	}
	if err := tx.syncTotals(); err != nil {
		return err
	}
	tx.emit(NewIndicesUpdatedEvent(update))
	return nil
}

func (tx *txn) syncTotals() error {
	liquidity, err := tx.receipts.TotalSupply(tx.reserve.LiquidityIndex)
	if err != nil {
		return err
	}
	usage, err := tx.debts.TotalSupply(tx.reserve.UsageIndex)
	if err != nil {
		return err
	}
	tx.reserve.TotalLiquidity = liquidity
	tx.reserve.TotalUsage = usage
	return nil
}

// refresh recomputes rates after a balance change. The debt side is always
// moved to the total derived from the debt ledger.
func (tx *txn) refresh(liquidityAdded, liquidityTaken *uint256.Int) error {
	usage, err := tx.debts.TotalSupply(tx.reserve.UsageIndex)
	if err != nil {
		return err
	}
	delta := BalanceDelta{LiquidityAdded: liquidityAdded, LiquidityTaken: liquidityTaken}
	if liquidityTaken != nil && liquidityTaken.Gt(orZero(tx.reserve.TotalLiquidity)) {
		supply, err := tx.receipts.ScaledSupply()
		if err != nil {
			return err
		}
		// Once the last receipt is burned, whatever total remains is
		// rounding residue. Any other overdraw fails in RefreshRates.
		if supply.IsZero() {
			delta.LiquidityTaken = orZero(tx.reserve.TotalLiquidity)
		}
	}
	current := orZero(tx.reserve.TotalUsage)
	if usage.Gt(current) {
		delta.UsageAdded = new(uint256.Int).Sub(usage, current)
	} else {
		delta.UsageTaken = new(uint256.Int).Sub(current, usage)
	}
	update, err := RefreshRates(tx.reserve, tx.rates, delta, tx.now)
	if err != nil {
		return err
	}
	if update != nil {
		tx.emit(NewIndicesUpdatedEvent(update))
	}
	return nil
}

// deposit mints receipts for amount and adds the underlying to the buffer.
func (tx *txn) deposit(caller common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if caller == (common.Address{}) {
		return nil, newError("", ErrInvalidAddress, caller, amount, "depositor is the zero address")
	}
	if orZero(amount).IsZero() {
		return nil, newError("", ErrInvalidAmount, caller, amount, "amount must be positive")
	}
	if err := tx.accrue(); err != nil {
		return nil, err
	}
	minted, err := tx.receipts.Mint(caller, caller, amount, tx.reserve.LiquidityIndex)
	if err != nil {
		return nil, err
	}
	if tx.reserve.Buffer, err = fixedpoint.Add(orZero(tx.reserve.Buffer), amount); err != nil {
		return nil, err
	}
	if err := tx.refresh(amount, nil); err != nil {
		return nil, err
	}
	tx.rebalance()
	tx.emit(NewBalanceEvent(EventTypeDeposited, caller, amount, minted.ScaledMinted))
	return minted.ScaledMinted, nil
}

// withdraw burns receipts worth amount and pays it out of the buffer,
// pulling from the vault when the buffer is short.
func (tx *txn) withdraw(caller common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if orZero(amount).IsZero() {
		return nil, newError("", ErrInvalidAmount, caller, amount, "amount must be positive")
	}
	if err := tx.accrue(); err != nil {
		return nil, err
	}
	// Either view of the balance may round one unit short of the other, so
	// the request fails only when it exceeds both: the scaled units held and
	// their underlying value.
	held, err := tx.receipts.ScaledBalanceOf(caller)
	if err != nil {
		return nil, err
	}
	needed, err := fixedpoint.RayDiv(amount, tx.reserve.LiquidityIndex)
	if err != nil {
		return nil, err
	}
	balance, err := tx.receipts.BalanceOf(caller, tx.reserve.LiquidityIndex)
	if err != nil {
		return nil, err
	}
	if needed.Gt(held) && balance.Lt(amount) {
		return nil, newError("", ErrInsufficientLiquidity, caller, amount, "receipt balance "+balance.Dec()+" below amount")
	}
	if err := tx.ensureCash(caller, amount); err != nil {
		return nil, err
	}
	burned, err := tx.receipts.Burn(caller, caller, amount, tx.reserve.LiquidityIndex)
	if err != nil {
		return nil, err
	}
	returned := burned.UnderlyingReturned
	if tx.reserve.Buffer, err = fixedpoint.Sub(orZero(tx.reserve.Buffer), returned); err != nil {
		return nil, err
	}
	if err := tx.refresh(nil, returned); err != nil {
		return nil, err
	}
	tx.rebalance()
	tx.emit(NewBalanceEvent(EventTypeWithdrawn, caller, returned, burned.ScaledBurned))
	return returned, nil
}

// borrow mints scaled debt for amount after the collateral check and pays
// the underlying out of the buffer.
func (tx *txn) borrow(caller common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if orZero(amount).IsZero() {
		return nil, newError("", ErrInvalidAmount, caller, amount, "amount must be positive")
	}
	if err := tx.accrue(); err != nil {
		return nil, err
	}
	if err := tx.requireNotLiquidating(caller, amount); err != nil {
		return nil, err
	}
	ok, err := tx.canBorrow(caller, amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newError("", ErrNotEnoughCollateralToBorrow, caller, amount, "")
	}
	if err := tx.ensureCash(caller, amount); err != nil {
		return nil, err
	}
	minted, err := tx.debts.Mint(caller, caller, amount, tx.reserve.UsageIndex)
	if err != nil {
		return nil, err
	}
	if tx.reserve.Buffer, err = fixedpoint.Sub(orZero(tx.reserve.Buffer), amount); err != nil {
		return nil, err
	}
	if err := tx.refresh(nil, nil); err != nil {
		return nil, err
	}
	tx.rebalance()
	tx.emit(NewBalanceEvent(EventTypeBorrowed, caller, amount, minted.ScaledMinted))
	return minted.ScaledMinted, nil
}

// repay burns debt of account paid by payer. The amount is capped at the
// outstanding debt and the capped value is returned.
func (tx *txn) repay(payer, account common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if account == (common.Address{}) {
		return nil, newError("", ErrInvalidAddress, account, amount, "repayment target is the zero address")
	}
	if orZero(amount).IsZero() {
		return nil, newError("", ErrInvalidAmount, account, amount, "amount must be positive")
	}
	if err := tx.accrue(); err != nil {
		return nil, err
	}
	debt, err := tx.debts.BalanceOf(account, tx.reserve.UsageIndex)
	if err != nil {
		return nil, err
	}
	if debt.IsZero() {
		return nil, newError("", ErrInvalidAmount, account, amount, "account has no debt")
	}
	burned, err := tx.debts.Burn(account, payer, fixedpoint.Min(amount, debt), tx.reserve.UsageIndex)
	if err != nil {
		return nil, err
	}
	paid := burned.UnderlyingReturned
	if tx.reserve.Buffer, err = fixedpoint.Add(orZero(tx.reserve.Buffer), paid); err != nil {
		return nil, err
	}
	if err := tx.refresh(nil, nil); err != nil {
		return nil, err
	}
	tx.rebalance()
	tx.emit(NewRepaidEvent(payer, account, paid, burned.ScaledBurned))
	return paid, nil
}

// ensureCash makes sure the buffer holds at least amount, withdrawing the
// shortfall from the vault. The vault withdrawal is undone if the operation
// later fails.
func (tx *txn) ensureCash(account common.Address, amount *uint256.Int) error {
	buffer := orZero(tx.reserve.Buffer)
	if !buffer.Lt(amount) {
		return nil
	}
	need := new(uint256.Int).Sub(amount, buffer)
	vault := tx.e.vault
	if vault == nil || orZero(tx.reserve.VaultDeposits).Lt(need) {
		return newError("", ErrInsufficientLiquidity, account, amount, "reserve cash "+tx.reserve.AvailableCash().Dec()+" below amount")
	}
	pool := tx.e.pool
	out, err := vault.Withdraw(need, pool, pool, need)
	if err != nil {
		return newError("", ErrInsufficientLiquidity, account, amount, "vault withdraw failed: "+err.Error())
	}
	if out.Lt(need) {
		return newError("", ErrInsufficientLiquidity, account, amount, "vault returned "+out.Dec()+" below "+need.Dec())
	}
	tx.st.onRollback(func() error { return vault.Deposit(out, pool) })
	tx.reserve.VaultDeposits = new(uint256.Int).Sub(tx.reserve.VaultDeposits, need)
	tx.reserve.Buffer = new(uint256.Int).Add(buffer, out)
	return nil
}

// rebalance moves the buffer toward BufferRatioBps of total liquidity. It is
// best effort: a failing vault leaves the buffer as it is.
func (tx *txn) rebalance() {
	vault := tx.e.vault
	if vault == nil {
		return
	}
	target, err := fixedpoint.PercentMul(orZero(tx.reserve.TotalLiquidity), tx.e.params.BufferRatioBps)
	if err != nil {
		return
	}
	pool := tx.e.pool
	buffer := orZero(tx.reserve.Buffer)
	switch {
	case buffer.Gt(target):
		excess := new(uint256.Int).Sub(buffer, target)
		if err := vault.Deposit(excess, pool); err != nil {
			tx.emit(NewVaultEvent(EventTypeVaultRebalanceSkipped, "deposit", excess, err.Error()))
			return
		}
		tx.st.onRollback(func() error {
			_, err := vault.Withdraw(excess, pool, pool, excess)
			return err
		})
		tx.reserve.Buffer = new(uint256.Int).Sub(buffer, excess)
		tx.reserve.VaultDeposits = new(uint256.Int).Add(orZero(tx.reserve.VaultDeposits), excess)
		tx.emit(NewVaultEvent(EventTypeVaultRebalanced, "deposit", excess, ""))
	case buffer.Lt(target) && !orZero(tx.reserve.VaultDeposits).IsZero():
		shortage := fixedpoint.Min(new(uint256.Int).Sub(target, buffer), tx.reserve.VaultDeposits)
		out, err := vault.Withdraw(shortage, pool, pool, shortage)
		if err != nil {
			tx.emit(NewVaultEvent(EventTypeVaultRebalanceSkipped, "withdraw", shortage, err.Error()))
			return
		}
		tx.st.onRollback(func() error { return vault.Deposit(out, pool) })
		tx.reserve.VaultDeposits = new(uint256.Int).Sub(tx.reserve.VaultDeposits, shortage)
		tx.reserve.Buffer = new(uint256.Int).Add(buffer, out)
		tx.emit(NewVaultEvent(EventTypeVaultRebalanced, "withdraw", shortage, ""))
	}
}
