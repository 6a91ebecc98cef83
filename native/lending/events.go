package lending

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"rwalend/core/types"
)

const (
	EventTypeIndicesUpdated        = "lending.indices_updated"
	EventTypeDeposited             = "lending.deposited"
	EventTypeWithdrawn             = "lending.withdrawn"
	EventTypeBorrowed              = "lending.borrowed"
	EventTypeRepaid                = "lending.repaid"
	EventTypeCollateralDeposited   = "lending.collateral.deposited"
	EventTypeCollateralWithdrawn   = "lending.collateral.withdrawn"
	EventTypeLiquidationInitiated  = "lending.liquidation.initiated"
	EventTypeLiquidationClosed     = "lending.liquidation.closed"
	EventTypeLiquidationFinalized  = "lending.liquidation.finalized"
	EventTypeRatesUpdated          = "lending.rates.updated"
	EventTypeVaultRebalanced       = "lending.vault.rebalanced"
	EventTypeVaultRebalanceSkipped = "lending.vault.rebalance_skipped"
)

// lendingEvent adapts a canonical payload to the events.Event interface.
type lendingEvent struct {
	evt *types.Event
}

func (e lendingEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e lendingEvent) Event() *types.Event { return e.evt }

// NewIndicesUpdatedEvent reports a movement of the reserve indices.
func NewIndicesUpdatedEvent(u *IndexUpdate) *types.Event {
	attrs := map[string]string{}
	if u != nil {
		attrs["liquidityIndex"] = amountString(u.LiquidityIndex)
		attrs["usageIndex"] = amountString(u.UsageIndex)
		attrs["liquidityRate"] = amountString(u.LiquidityRate)
		attrs["usageRate"] = amountString(u.UsageRate)
		attrs["elapsed"] = strconv.FormatInt(u.Elapsed, 10)
		attrs["timestamp"] = strconv.FormatInt(u.Timestamp, 10)
	}
	return &types.Event{Type: EventTypeIndicesUpdated, Attributes: attrs}
}

// NewBalanceEvent reports a deposit, withdrawal, borrow or repayment.
func NewBalanceEvent(eventType string, account common.Address, amount, scaled *uint256.Int) *types.Event {
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"account": account.Hex(),
			"amount":  amountString(amount),
			"scaled":  amountString(scaled),
		},
	}
}

// NewRepaidEvent reports a repayment made by payer for account.
func NewRepaidEvent(payer, account common.Address, amount, scaled *uint256.Int) *types.Event {
	evt := NewBalanceEvent(EventTypeRepaid, account, amount, scaled)
	evt.Attributes["payer"] = payer.Hex()
	return evt
}

// NewCollateralEvent reports a collateral deposit or withdrawal.
func NewCollateralEvent(eventType string, account common.Address, id *uint256.Int) *types.Event {
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"account": account.Hex(),
			"tokenId": amountString(id),
		},
	}
}

// NewLiquidationInitiatedEvent reports the start of a grace period.
func NewLiquidationInitiatedEvent(account common.Address, healthFactor *uint256.Int, start int64) *types.Event {
	return &types.Event{
		Type: EventTypeLiquidationInitiated,
		Attributes: map[string]string{
			"account":      account.Hex(),
			"healthFactor": amountString(healthFactor),
			"startTime":    strconv.FormatInt(start, 10),
		},
	}
}

// NewLiquidationClosedEvent reports a liquidation cured by repayment.
func NewLiquidationClosedEvent(account common.Address, remainingDebt *uint256.Int) *types.Event {
	return &types.Event{
		Type: EventTypeLiquidationClosed,
		Attributes: map[string]string{
			"account":       account.Hex(),
			"remainingDebt": amountString(remainingDebt),
		},
	}
}

// NewLiquidationFinalizedEvent reports seized collateral and the debt the
// authority settled.
func NewLiquidationFinalizedEvent(account, authority common.Address, debt *uint256.Int, seized []*uint256.Int) *types.Event {
	return &types.Event{
		Type: EventTypeLiquidationFinalized,
		Attributes: map[string]string{
			"account":         account.Hex(),
			"authority":       authority.Hex(),
			"debt":            amountString(debt),
			"collateralCount": strconv.Itoa(len(seized)),
		},
	}
}

// NewRatesUpdatedEvent reports an admin change to the rate curve.
func NewRatesUpdatedEvent(field string, value *uint256.Int) *types.Event {
	return &types.Event{
		Type: EventTypeRatesUpdated,
		Attributes: map[string]string{
			"field": field,
			"value": amountString(value),
		},
	}
}

// NewVaultEvent reports a buffer rebalance against the yield vault.
func NewVaultEvent(eventType, direction string, amount *uint256.Int, reason string) *types.Event {
	attrs := map[string]string{
		"direction": direction,
		"amount":    amountString(amount),
	}
	if reason != "" {
		attrs["reason"] = reason
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
