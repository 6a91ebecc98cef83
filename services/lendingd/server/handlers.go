package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"rwalend/native/lending"
	"rwalend/services/lendingd/auth"
	"rwalend/services/lendingd/journal"
)

type amountRequest struct {
	Amount string `json:"amount"`
}

type repayRequest struct {
	Amount     string `json:"amount"`
	OnBehalfOf string `json:"onBehalfOf,omitempty"`
}

type collateralRequest struct {
	TokenID string `json:"tokenId"`
}

type rateRequest struct {
	Rate string `json:"rate"`
}

type priceRequest struct {
	TokenID   string `json:"tokenId"`
	Price     string `json:"price"`
	UpdatedAt int64  `json:"updatedAt,omitempty"`
}

type mintRequest struct {
	TokenID string `json:"tokenId"`
	Owner   string `json:"owner"`
}

type pausesPayload struct {
	Deposit   bool `json:"deposit"`
	Withdraw  bool `json:"withdraw"`
	Borrow    bool `json:"borrow"`
	Repay     bool `json:"repay"`
	Liquidate bool `json:"liquidate"`
}

type reserveResponse struct {
	TotalLiquidity       string `json:"totalLiquidity"`
	TotalUsage           string `json:"totalUsage"`
	LiquidityIndex       string `json:"liquidityIndex"`
	UsageIndex           string `json:"usageIndex"`
	NormalizedIncome     string `json:"normalizedIncome"`
	NormalizedDebt       string `json:"normalizedDebt"`
	Utilization          string `json:"utilization"`
	Buffer               string `json:"buffer"`
	VaultDeposits        string `json:"vaultDeposits"`
	LastUpdateTimestamp  int64  `json:"lastUpdateTimestamp"`
	CurrentLiquidityRate string `json:"currentLiquidityRate"`
	CurrentUsageRate     string `json:"currentUsageRate"`
	PrimeRate            string `json:"primeRate"`
	BaseRate             string `json:"baseRate"`
	OptimalRate          string `json:"optimalRate"`
	MaxRate              string `json:"maxRate"`
	OptimalUtilization   string `json:"optimalUtilization"`
	ProtocolFeeRate      string `json:"protocolFeeRate"`
}

type accountResponse struct {
	Account              string   `json:"account"`
	Debt                 string   `json:"debt"`
	ScaledDebt           string   `json:"scaledDebt"`
	ReceiptBalance       string   `json:"receiptBalance"`
	Collateral           []string `json:"collateral"`
	CollateralValue      string   `json:"collateralValue,omitempty"`
	HealthFactor         string   `json:"healthFactor,omitempty"`
	LiquidationPhase     string   `json:"liquidationPhase"`
	LiquidationStartTime int64    `json:"liquidationStartTime,omitempty"`
}

type eventResponse struct {
	ID         string            `json:"id"`
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt time.Time         `json:"recordedAt"`
}

func parseAmount(field, raw string) (*uint256.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: %s required", errBadRequest, field)
	}
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	return v, nil
}

func parseAccount(field, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%w: %s must be a hex address", errBadRequest, field)
	}
	return common.HexToAddress(raw), nil
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// caller returns the authenticated account. Authenticate runs ahead of every
// /v1 handler so the claims are always present.
func caller(r *http.Request) common.Address {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		return common.Address{}
	}
	return claims.Account
}

// amountOp runs a caller scoped operation taking an amount and returning one.
func (s *Server) amountOp(op, resultField string, fn func(common.Address, *uint256.Int) (*uint256.Int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		var req amountRequest
		err := decodeJSON(r, &req)
		var amount, out *uint256.Int
		if err == nil {
			amount, err = parseAmount("amount", req.Amount)
		}
		if err == nil {
			out, err = fn(caller(r), amount)
		}
		s.observe(op, start, err)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{resultField: dec(out)})
	}
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	s.amountOp("deposit", "scaled", s.pool.Deposit)(w, r)
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	s.amountOp("withdraw", "amount", s.pool.Withdraw)(w, r)
}

func (s *Server) borrow(w http.ResponseWriter, r *http.Request) {
	s.amountOp("borrow", "scaled", s.pool.Borrow)(w, r)
}

func (s *Server) repay(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req repayRequest
	err := decodeJSON(r, &req)
	var amount, paid *uint256.Int
	if err == nil {
		amount, err = parseAmount("amount", req.Amount)
	}
	payer := caller(r)
	account := payer
	if err == nil && strings.TrimSpace(req.OnBehalfOf) != "" {
		account, err = parseAccount("onBehalfOf", req.OnBehalfOf)
	}
	if err == nil {
		paid, err = s.pool.RepayOnBehalfOf(payer, account, amount)
	}
	s.observe("repay", start, err)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": dec(paid)})
}

func (s *Server) collateralOp(op string, fn func(common.Address, *uint256.Int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		var req collateralRequest
		err := decodeJSON(r, &req)
		var id *uint256.Int
		if err == nil {
			id, err = parseAmount("tokenId", req.TokenID)
		}
		if err == nil {
			err = fn(caller(r), id)
		}
		s.observe(op, start, err)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) depositCollateral(w http.ResponseWriter, r *http.Request) {
	s.collateralOp("deposit_collateral", s.pool.DepositCollateral)(w, r)
}

func (s *Server) withdrawCollateral(w http.ResponseWriter, r *http.Request) {
	s.collateralOp("withdraw_collateral", s.pool.WithdrawCollateral)(w, r)
}

func (s *Server) refreshReserve(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	err := s.pool.RefreshReserveState()
	s.observe("refresh_reserve", start, err)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	s.getReserve(w, r)
}

func (s *Server) initiateLiquidation(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	account, err := parseAccount("account", chi.URLParam(r, "account"))
	var hf *uint256.Int
	if err == nil {
		hf, err = s.pool.InitiateLiquidation(account)
	}
	s.observe("initiate_liquidation", start, err)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"healthFactor": dec(hf)})
}

func (s *Server) closeLiquidation(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	err := s.pool.CloseLiquidation(caller(r))
	s.observe("close_liquidation", start, err)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) finalizeLiquidation(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	account, err := parseAccount("account", chi.URLParam(r, "account"))
	var paid *uint256.Int
	if err == nil {
		paid, err = s.pool.FinalizeLiquidation(caller(r), account)
	}
	s.observe("finalize_liquidation", start, err)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"debtPaid": dec(paid)})
}

func (s *Server) rateOp(op string, fn func(common.Address, *uint256.Int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		var req rateRequest
		err := decodeJSON(r, &req)
		var rate *uint256.Int
		if err == nil {
			rate, err = parseAmount("rate", req.Rate)
		}
		if err == nil {
			err = fn(caller(r), rate)
		}
		s.observe(op, start, err)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		s.getReserve(w, r)
	}
}

func (s *Server) setPrimeRate(w http.ResponseWriter, r *http.Request) {
	s.rateOp("set_prime_rate", s.pool.SetPrimeRate)(w, r)
}

func (s *Server) setProtocolFee(w http.ResponseWriter, r *http.Request) {
	s.rateOp("set_protocol_fee", s.pool.SetProtocolFeeRate)(w, r)
}

func (s *Server) getPauses(w http.ResponseWriter, r *http.Request) {
	p := s.pool.ActionPauses()
	writeJSON(w, http.StatusOK, pausesPayload{
		Deposit:   p.Deposit,
		Withdraw:  p.Withdraw,
		Borrow:    p.Borrow,
		Repay:     p.Repay,
		Liquidate: p.Liquidate,
	})
}

func (s *Server) setPauses(w http.ResponseWriter, r *http.Request) {
	var req pausesPayload
	if err := decodeJSON(r, &req); err != nil {
		writeEngineError(w, r, err)
		return
	}
	s.pool.SetActionPauses(lending.ActionPauses{
		Deposit:   req.Deposit,
		Withdraw:  req.Withdraw,
		Borrow:    req.Borrow,
		Repay:     req.Repay,
		Liquidate: req.Liquidate,
	})
	s.logger.Warn("action pauses updated",
		"account", caller(r).Hex(),
		"deposit", req.Deposit,
		"withdraw", req.Withdraw,
		"borrow", req.Borrow,
		"repay", req.Repay,
		"liquidate", req.Liquidate)
	s.getPauses(w, r)
}

func (s *Server) setPrice(w http.ResponseWriter, r *http.Request) {
	if s.prices == nil {
		writeError(w, r, http.StatusNotImplemented, "unsupported", "price feed not configured")
		return
	}
	var req priceRequest
	err := decodeJSON(r, &req)
	var id, price *uint256.Int
	if err == nil {
		id, err = parseAmount("tokenId", req.TokenID)
	}
	if err == nil {
		price, err = parseAmount("price", req.Price)
	}
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	updatedAt := req.UpdatedAt
	if updatedAt == 0 {
		updatedAt = s.now().Unix()
	}
	s.prices.SetPrice(id, price, updatedAt)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) mintCollateral(w http.ResponseWriter, r *http.Request) {
	if s.custody == nil {
		writeError(w, r, http.StatusNotImplemented, "unsupported", "custody registry not configured")
		return
	}
	var req mintRequest
	err := decodeJSON(r, &req)
	var id *uint256.Int
	var owner common.Address
	if err == nil {
		id, err = parseAmount("tokenId", req.TokenID)
	}
	if err == nil {
		owner, err = parseAccount("owner", req.Owner)
	}
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if err := s.custody.Mint(id, owner); err != nil {
		writeError(w, r, http.StatusConflict, "custody", err.Error())
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) getReserve(w http.ResponseWriter, r *http.Request) {
	reserve, err := s.pool.Reserve()
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	rates, err := s.pool.Rates()
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	income, err := s.pool.NormalizedIncome()
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	debt, err := s.pool.NormalizedDebt()
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	utilization, err := s.pool.Utilization()
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reserveResponse{
		TotalLiquidity:       dec(reserve.TotalLiquidity),
		TotalUsage:           dec(reserve.TotalUsage),
		LiquidityIndex:       dec(reserve.LiquidityIndex),
		UsageIndex:           dec(reserve.UsageIndex),
		NormalizedIncome:     dec(income),
		NormalizedDebt:       dec(debt),
		Utilization:          dec(utilization),
		Buffer:               dec(reserve.Buffer),
		VaultDeposits:        dec(reserve.VaultDeposits),
		LastUpdateTimestamp:  reserve.LastUpdateTimestamp,
		CurrentLiquidityRate: dec(rates.CurrentLiquidityRate),
		CurrentUsageRate:     dec(rates.CurrentUsageRate),
		PrimeRate:            dec(rates.PrimeRate),
		BaseRate:             dec(rates.BaseRate),
		OptimalRate:          dec(rates.OptimalRate),
		MaxRate:              dec(rates.MaxRate),
		OptimalUtilization:   dec(rates.OptimalUtilization),
		ProtocolFeeRate:      dec(rates.ProtocolFeeRate),
	})
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	account, err := parseAccount("account", chi.URLParam(r, "account"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	position, err := s.pool.Position(account)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	debt, err := s.pool.DebtOf(account)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	receipts, err := s.pool.ReceiptBalanceOf(account)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	phase, record, err := s.pool.Liquidation(account)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	resp := accountResponse{
		Account:          account.Hex(),
		Debt:             dec(debt),
		ScaledDebt:       "0",
		ReceiptBalance:   dec(receipts),
		Collateral:       []string{},
		LiquidationPhase: phase.String(),
	}
	if position != nil {
		resp.ScaledDebt = dec(position.ScaledDebt)
		for _, id := range position.Collateral.IDs() {
			resp.Collateral = append(resp.Collateral, id.Dec())
		}
	}
	if record != nil {
		resp.LiquidationStartTime = record.StartTime
	}
	// Valuation needs fresh prices; omit the fields when the oracle cannot
	// serve them rather than failing the whole read.
	if value, err := s.pool.CollateralValue(account); err == nil {
		resp.CollateralValue = dec(value)
	}
	if hf, err := s.pool.HealthFactor(account); err == nil {
		resp.HealthFactor = dec(hf)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, r, http.StatusNotImplemented, "unsupported", "event journal not configured")
		return
	}
	query := journal.Query{
		Type:    r.URL.Query().Get("type"),
		Account: r.URL.Query().Get("account"),
	}
	if raw := r.URL.Query().Get("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeEngineError(w, r, fmt.Errorf("%w: after: %v", errBadRequest, err))
			return
		}
		query.After = after
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeEngineError(w, r, fmt.Errorf("%w: limit: %v", errBadRequest, err))
			return
		}
		query.Limit = limit
	}
	entries, err := s.events.List(r.Context(), query)
	if err != nil {
		s.logger.Error("list events failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal", http.StatusText(http.StatusInternalServerError))
		return
	}
	out := make([]eventResponse, 0, len(entries))
	for _, entry := range entries {
		evt, err := entry.Decode()
		if err != nil {
			s.logger.Error("decode journal entry failed", "sequence", entry.Sequence, "error", err)
			continue
		}
		out = append(out, eventResponse{
			ID:         entry.ID.String(),
			Sequence:   entry.Sequence,
			Type:       evt.Type,
			Attributes: evt.Attributes,
			RecordedAt: entry.RecordedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
