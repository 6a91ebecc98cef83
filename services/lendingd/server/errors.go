package server

import (
	"errors"
	"net/http"

	"rwalend/core/state"
	nativecommon "rwalend/native/common"
	"rwalend/native/lending"
)

var errBadRequest = errors.New("bad request")

// statusFor maps an engine error kind to an HTTP status and a stable code
// clients can switch on.
func statusFor(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, errBadRequest),
		errors.Is(err, lending.ErrInvalidAmount),
		errors.Is(err, lending.ErrInvalidAddress),
		errors.Is(err, lending.ErrInvalidRateParameters),
		errors.Is(err, lending.ErrZeroWeight),
		errors.Is(err, lending.ErrZeroDuration):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, lending.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable, "paused"
	case errors.Is(err, lending.ErrStalePriceOrZero):
		return http.StatusServiceUnavailable, "price_unavailable"
	case errors.Is(err, lending.ErrCollateralNotFound),
		errors.Is(err, state.ErrCollateralUnknown):
		return http.StatusNotFound, "collateral_not_found"
	case errors.Is(err, lending.ErrCannotActWhileLiquidating),
		errors.Is(err, lending.ErrAlreadyUnderLiquidation),
		errors.Is(err, lending.ErrNotUnderLiquidation),
		errors.Is(err, lending.ErrGracePeriodExpired),
		errors.Is(err, lending.ErrGracePeriodNotExpired):
		return http.StatusConflict, "liquidation_state"
	case errors.Is(err, lending.ErrInsufficientLiquidity),
		errors.Is(err, lending.ErrNotEnoughCollateralToBorrow),
		errors.Is(err, lending.ErrWithdrawalWouldUnderCollateralize),
		errors.Is(err, lending.ErrHealthFactorSufficient),
		errors.Is(err, lending.ErrDebtNotRepaid):
		return http.StatusUnprocessableEntity, "precondition_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// kindOf returns the stable code used as the metric outcome label.
func kindOf(err error) string {
	if err == nil {
		return ""
	}
	_, code := statusFor(err)
	return code
}
