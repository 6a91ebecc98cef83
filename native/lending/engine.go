package lending

import (
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"rwalend/core/events"
	nativecommon "rwalend/native/common"
)

const moduleName = "lending"

// Engine is the lending pool of a single reserve. Every mutating call runs
// under the engine's write lock against a buffered copy of the state; its
// writes and events are committed only when the whole call succeeds.
type Engine struct {
	mu sync.RWMutex

	state      State
	pool       common.Address
	params     Params
	rateParams RateParameters

	oracle  PriceOracle
	custody CollateralCustody
	vault   YieldVault

	pauses  nativecommon.PauseView
	actions ActionPauses
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine constructs an engine whose collateral and vault positions are
// held by pool. rates seeds the curve the first time the reserve is created.
func NewEngine(pool common.Address, params Params, rates RateParameters) *Engine {
	return &Engine{
		pool:       pool,
		params:     params.Clone(),
		rateParams: rates.Clone(),
		emitter:    events.NoopEmitter{},
		nowFn:      func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state
}

// SetOracle configures the collateral price source.
func (e *Engine) SetOracle(oracle PriceOracle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.oracle = oracle
}

// SetCustody configures the NFT registry used for collateral transfers.
func (e *Engine) SetCustody(custody CollateralCustody) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.custody = custody
}

// SetVault attaches a yield vault. Passing nil keeps all liquidity idle.
func (e *Engine) SetVault(vault YieldVault) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vault = vault
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauses = p
}

// SetActionPauses replaces the per-action pause switches.
func (e *Engine) SetActionPauses(p ActionPauses) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.actions = p
}

// ActionPauses returns the current per-action pause switches.
func (e *Engine) ActionPauses() ActionPauses {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.actions
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily
// intended for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Params returns a copy of the risk parameters.
func (e *Engine) Params() Params {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.params.Clone()
}

// Pool returns the address holding collateral on behalf of the reserve.
func (e *Engine) Pool() common.Address { return e.pool }

func (e *Engine) now() int64 {
	if e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) guard(action string) error {
	return nativecommon.GuardAction(nativecommon.PauseSet{e.pauses, e.actions}, moduleName, action)
}

// mutate runs fn as one atomic operation. On any failure the buffered
// writes and events are dropped and external side effects are undone.
func (e *Engine) mutate(op, action string, fn func(tx *txn) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if action != "" {
		if err := e.guard(action); err != nil {
			return wrapOp(op, err)
		}
	}
	tx, err := e.begin()
	if err != nil {
		return wrapOp(op, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.st.rollback(); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		return wrapOp(op, err)
	}
	tx.stage()
	if err := tx.st.commit(e.emitter); err != nil {
		return wrapOp(op, err)
	}
	return nil
}

// inspect runs fn against a throwaway view accrued to now. Nothing is
// committed.
func (e *Engine) inspect(op string, fn func(tx *txn) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	tx, err := e.begin()
	if err != nil {
		return wrapOp(op, err)
	}
	if err := tx.accrue(); err != nil {
		return wrapOp(op, err)
	}
	return wrapOp(op, fn(tx))
}

// Deposit supplies amount of underlying for caller and returns the scaled
// receipt amount minted.
func (e *Engine) Deposit(caller common.Address, amount *uint256.Int) (*uint256.Int, error) {
	var minted *uint256.Int
	err := e.mutate("deposit", ActionDeposit, func(tx *txn) (err error) {
		minted, err = tx.deposit(caller, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return minted, nil
}

// Withdraw redeems amount of underlying from caller's receipts and returns
// the underlying paid out.
func (e *Engine) Withdraw(caller common.Address, amount *uint256.Int) (*uint256.Int, error) {
	var returned *uint256.Int
	err := e.mutate("withdraw", ActionWithdraw, func(tx *txn) (err error) {
		returned, err = tx.withdraw(caller, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return returned, nil
}

// DepositCollateral moves NFT id from caller into the pool's custody.
func (e *Engine) DepositCollateral(caller common.Address, id *uint256.Int) error {
	return e.mutate("deposit_collateral", ActionDeposit, func(tx *txn) error {
		return tx.depositCollateral(caller, id)
	})
}

// WithdrawCollateral returns NFT id to caller if the position stays healthy.
func (e *Engine) WithdrawCollateral(caller common.Address, id *uint256.Int) error {
	return e.mutate("withdraw_collateral", ActionWithdraw, func(tx *txn) error {
		return tx.withdrawCollateral(caller, id)
	})
}

// Borrow draws amount of underlying against caller's collateral and returns
// the scaled debt minted.
func (e *Engine) Borrow(caller common.Address, amount *uint256.Int) (*uint256.Int, error) {
	var minted *uint256.Int
	err := e.mutate("borrow", ActionBorrow, func(tx *txn) (err error) {
		minted, err = tx.borrow(caller, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return minted, nil
}

// Repay pays down caller's own debt and returns the amount applied.
func (e *Engine) Repay(caller common.Address, amount *uint256.Int) (*uint256.Int, error) {
	return e.RepayOnBehalfOf(caller, caller, amount)
}

// RepayOnBehalfOf pays down account's debt with caller's funds and returns
// the amount applied, which never exceeds the outstanding debt.
func (e *Engine) RepayOnBehalfOf(caller, account common.Address, amount *uint256.Int) (*uint256.Int, error) {
	var paid *uint256.Int
	err := e.mutate("repay", ActionRepay, func(tx *txn) (err error) {
		paid, err = tx.repay(caller, account, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

// RefreshReserveState accrues the indices to now without a balance change.
func (e *Engine) RefreshReserveState() error {
	return e.mutate("refresh_reserve", "", func(tx *txn) error {
		return tx.accrue()
	})
}

// InitiateLiquidation starts the grace period for an unhealthy account and
// returns the health factor that triggered it.
func (e *Engine) InitiateLiquidation(account common.Address) (*uint256.Int, error) {
	var hf *uint256.Int
	err := e.mutate("initiate_liquidation", ActionLiquidate, func(tx *txn) (err error) {
		hf, err = tx.initiateLiquidation(account)
		return err
	})
	if err != nil {
		return nil, err
	}
	return hf, nil
}

// CloseLiquidation ends caller's liquidation once the debt is repaid down to
// dust within the grace period.
func (e *Engine) CloseLiquidation(caller common.Address) error {
	return e.mutate("close_liquidation", "", func(tx *txn) error {
		return tx.closeLiquidation(caller)
	})
}

// FinalizeLiquidation seizes account's collateral for the liquidation
// authority after the grace period. It returns the debt the authority paid.
func (e *Engine) FinalizeLiquidation(caller, account common.Address) (*uint256.Int, error) {
	var debt *uint256.Int
	err := e.mutate("finalize_liquidation", ActionLiquidate, func(tx *txn) (err error) {
		debt, err = tx.finalizeLiquidation(caller, account)
		return err
	})
	if err != nil {
		return nil, err
	}
	return debt, nil
}

// SetPrimeRate moves the prime rate by at most MaxPrimeRateStepBps of the
// previous value and re-derives the live rates.
func (e *Engine) SetPrimeRate(caller common.Address, rate *uint256.Int) error {
	return e.mutate("set_prime_rate", "", func(tx *txn) error {
		if err := tx.requireAdmin(caller); err != nil {
			return err
		}
		if err := tx.accrue(); err != nil {
			return err
		}
		if err := CheckPrimeRateStep(tx.rates.PrimeRate, rate); err != nil {
			return err
		}
		next := tx.rates.RateParameters.Clone()
		next.PrimeRate = new(uint256.Int).Set(rate)
		return tx.applyRateParameters(next, "primeRate", rate)
	})
}

// SetProtocolFeeRate changes the share of supplier interest retained by the
// protocol. rate is Ray scaled and at most one Ray.
func (e *Engine) SetProtocolFeeRate(caller common.Address, rate *uint256.Int) error {
	return e.mutate("set_protocol_fee", "", func(tx *txn) error {
		if err := tx.requireAdmin(caller); err != nil {
			return err
		}
		if err := tx.accrue(); err != nil {
			return err
		}
		next := tx.rates.RateParameters.Clone()
		next.ProtocolFeeRate = cloneInt(rate)
		return tx.applyRateParameters(next, "protocolFeeRate", rate)
	})
}

func (tx *txn) requireAdmin(caller common.Address) error {
	admin := tx.e.params.Admin
	if admin == (common.Address{}) || caller != admin {
		return newError("", ErrUnauthorized, caller, nil, "caller is not the admin")
	}
	return nil
}

func (tx *txn) applyRateParameters(next RateParameters, field string, value *uint256.Int) error {
	if err := next.Validate(); err != nil {
		return err
	}
	tx.rates.RateParameters = next
	if err := tx.refresh(nil, nil); err != nil {
		return err
	}
	tx.emit(NewRatesUpdatedEvent(field, value))
	return nil
}

// NormalizedIncome returns the liquidity index projected to now.
func (e *Engine) NormalizedIncome() (*uint256.Int, error) {
	var out *uint256.Int
	err := e.inspect("normalized_income", func(tx *txn) error {
		out = cloneInt(tx.reserve.LiquidityIndex)
		return nil
	})
	return out, err
}

// NormalizedDebt returns the usage index projected to now.
func (e *Engine) NormalizedDebt() (*uint256.Int, error) {
	var out *uint256.Int
	err := e.inspect("normalized_debt", func(tx *txn) error {
		out = cloneInt(tx.reserve.UsageIndex)
		return nil
	})
	return out, err
}

// HealthFactor returns account's Wad scaled health factor, or MaxUint256 when
// the account has no debt.
func (e *Engine) HealthFactor(account common.Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := e.inspect("health_factor", func(tx *txn) (err error) {
		out, err = tx.healthFactor(account)
		return err
	})
	return out, err
}

// CollateralValue returns the summed oracle value of account's collateral.
func (e *Engine) CollateralValue(account common.Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := e.inspect("collateral_value", func(tx *txn) (err error) {
		out, err = tx.collateralValue(account)
		return err
	})
	return out, err
}

// CanBorrow reports whether account could borrow additional more.
func (e *Engine) CanBorrow(account common.Address, additional *uint256.Int) (bool, error) {
	var ok bool
	err := e.inspect("can_borrow", func(tx *txn) (err error) {
		ok, err = tx.canBorrow(account, additional)
		return err
	})
	return ok, err
}

// CanWithdrawCollateral reports whether account could withdraw id.
func (e *Engine) CanWithdrawCollateral(account common.Address, id *uint256.Int) (bool, error) {
	var ok bool
	err := e.inspect("can_withdraw_collateral", func(tx *txn) (err error) {
		ok, err = tx.canWithdrawCollateral(account, id)
		return err
	})
	return ok, err
}

// Utilization returns the current utilisation in Ray.
func (e *Engine) Utilization() (*uint256.Int, error) {
	var out *uint256.Int
	err := e.inspect("utilization", func(tx *txn) (err error) {
		out, err = Utilization(tx.reserve.TotalLiquidity, tx.reserve.TotalUsage)
		return err
	})
	return out, err
}

// Reserve returns the reserve state accrued to now.
func (e *Engine) Reserve() (*ReserveState, error) {
	var out *ReserveState
	err := e.inspect("reserve", func(tx *txn) error {
		out = tx.reserve.Clone()
		return nil
	})
	return out, err
}

// Rates returns the live rates and curve parameters.
func (e *Engine) Rates() (*RateState, error) {
	var out *RateState
	err := e.inspect("rates", func(tx *txn) error {
		out = tx.rates.Clone()
		return nil
	})
	return out, err
}

// Position returns account's collateral and scaled debt.
func (e *Engine) Position(account common.Address) (*UserPosition, error) {
	var out *UserPosition
	err := e.inspect("position", func(tx *txn) (err error) {
		out, err = tx.st.position(account)
		return err
	})
	return out, err
}

// Liquidation returns account's liquidation phase and record. The record is
// nil for healthy accounts.
func (e *Engine) Liquidation(account common.Address) (LiquidationPhase, *LiquidationRecord, error) {
	var (
		phase LiquidationPhase
		rec   *LiquidationRecord
	)
	err := e.inspect("liquidation", func(tx *txn) (err error) {
		phase, rec, err = tx.phase(account)
		return err
	})
	return phase, rec, err
}

// DebtOf returns account's debt in underlying at the current usage index.
func (e *Engine) DebtOf(account common.Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := e.inspect("debt_of", func(tx *txn) (err error) {
		out, err = tx.debtOf(account)
		return err
	})
	return out, err
}

// ReceiptBalanceOf returns account's supplied balance in underlying at the
// current liquidity index.
func (e *Engine) ReceiptBalanceOf(account common.Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := e.inspect("receipt_balance_of", func(tx *txn) (err error) {
		out, err = tx.receipts.BalanceOf(account, tx.reserve.LiquidityIndex)
		return err
	})
	return out, err
}
