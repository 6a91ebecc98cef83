package lending

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"rwalend/core/events"
	"rwalend/core/types"
	"rwalend/native/lending/fixedpoint"
)

const testStart = int64(1_700_000_000)

var (
	poolAddr      = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	authorityAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	adminAddr     = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	supplierAddr  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	borrowerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	strangerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000b3")
)

// rayPercent returns num/den percent in Ray, e.g. rayPercent(25, 10) = 2.5%.
func rayPercent(num, den uint64) *uint256.Int {
	out := new(uint256.Int).Mul(fixedpoint.Ray, uint256.NewInt(num))
	return out.Div(out, uint256.NewInt(den*100))
}

// wad returns n whole tokens in Wad units.
func wad(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), fixedpoint.Wad)
}

func dec(t *testing.T, s string) *uint256.Int {
	t.Helper()
	v, err := uint256.FromDecimal(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

// scenarioRates is the 10% prime curve: base 2.5%, optimal 5%, max 40% and
// an 80% optimal utilisation.
func scenarioRates() RateParameters {
	return RateParameters{
		PrimeRate:          rayPercent(10, 1),
		BaseRate:           rayPercent(25, 10),
		OptimalRate:        rayPercent(5, 1),
		MaxRate:            rayPercent(40, 1),
		OptimalUtilization: rayPercent(80, 1),
		ProtocolFeeRate:    fixedpoint.Zero(),
	}
}

type recordingEmitter struct {
	events []*types.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	if payload, ok := evt.(interface{ Event() *types.Event }); ok {
		r.events = append(r.events, payload.Event())
	}
}

func (r *recordingEmitter) eventTypes() []string {
	out := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Type)
	}
	return out
}

func (r *recordingEmitter) has(eventType string) bool {
	for _, evt := range r.events {
		if evt.Type == eventType {
			return true
		}
	}
	return false
}

type harness struct {
	engine  *Engine
	state   *MemoryState
	oracle  *StaticOracle
	custody *MemoryCustody
	emitter *recordingEmitter
	clock   int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		state:   NewMemoryState(),
		oracle:  NewStaticOracle(),
		custody: NewMemoryCustody(),
		emitter: &recordingEmitter{},
		clock:   testStart,
	}
	h.engine = NewEngine(poolAddr, DefaultParams(authorityAddr, adminAddr), scenarioRates())
	h.engine.SetState(h.state)
	h.engine.SetOracle(h.oracle)
	h.engine.SetCustody(h.custody)
	h.engine.SetEmitter(h.emitter)
	h.engine.SetNowFunc(func() int64 { return h.clock })
	return h
}

func (h *harness) advance(seconds int64) { h.clock += seconds }

// pledge mints NFT id to owner at price and deposits it as collateral.
func (h *harness) pledge(t *testing.T, owner common.Address, id uint64, price *uint256.Int) {
	t.Helper()
	token := uint256.NewInt(id)
	h.custody.Mint(token, owner)
	h.oracle.SetPrice(token, price, h.clock)
	if err := h.engine.DepositCollateral(owner, token); err != nil {
		t.Fatalf("deposit collateral %d: %v", id, err)
	}
}

func (h *harness) supply(t *testing.T, amount *uint256.Int) {
	t.Helper()
	if _, err := h.engine.Deposit(supplierAddr, amount); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func (h *harness) reserve(t *testing.T) *ReserveState {
	t.Helper()
	reserve, err := h.engine.Reserve()
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	return reserve
}

func rayToFloat(v *uint256.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v.ToBig()), new(big.Float).SetInt(fixedpoint.Ray.ToBig())).Float64()
	return f
}

func absDiff(a, b *uint256.Int) *uint256.Int {
	if a.Gt(b) {
		return new(uint256.Int).Sub(a, b)
	}
	return new(uint256.Int).Sub(b, a)
}
