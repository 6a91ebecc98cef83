package lending

import (
	"github.com/holiman/uint256"

	"rwalend/native/lending/fixedpoint"
)

// ReserveState captures the aggregate accounting for the single reserve asset
// managed by an engine. Indices are Ray scaled and never decrease.
type ReserveState struct {
	// TotalLiquidity is the underlying supplied by lenders, net of
	// withdrawals, including interest credited through the liquidity index.
	TotalLiquidity *uint256.Int
	// TotalUsage is the outstanding debt derived from the scaled debt supply
	// and the usage index.
	TotalUsage *uint256.Int
	// LiquidityIndex is the cumulative supplier growth factor.
	LiquidityIndex *uint256.Int
	// UsageIndex is the cumulative borrower growth factor.
	UsageIndex *uint256.Int
	// LastUpdateTimestamp is the unix time of the last index update.
	LastUpdateTimestamp int64
	// Buffer is idle underlying held directly by the reserve.
	Buffer *uint256.Int
	// VaultDeposits is underlying parked in the yield vault.
	VaultDeposits *uint256.Int
}

// NewReserveState returns a reserve with both indices at exactly one Ray.
func NewReserveState(now int64) *ReserveState {
	return &ReserveState{
		TotalLiquidity:      fixedpoint.Zero(),
		TotalUsage:          fixedpoint.Zero(),
		LiquidityIndex:      fixedpoint.RayOne(),
		UsageIndex:          fixedpoint.RayOne(),
		LastUpdateTimestamp: now,
		Buffer:              fixedpoint.Zero(),
		VaultDeposits:       fixedpoint.Zero(),
	}
}

// AvailableCash returns the underlying the reserve can hand out, either from
// its buffer or by pulling from the vault.
func (r *ReserveState) AvailableCash() *uint256.Int {
	if r == nil {
		return fixedpoint.Zero()
	}
	return new(uint256.Int).Add(orZero(r.Buffer), orZero(r.VaultDeposits))
}

// Clone returns a deep copy of the reserve state.
func (r *ReserveState) Clone() *ReserveState {
	if r == nil {
		return nil
	}
	return &ReserveState{
		TotalLiquidity:      cloneInt(r.TotalLiquidity),
		TotalUsage:          cloneInt(r.TotalUsage),
		LiquidityIndex:      cloneInt(r.LiquidityIndex),
		UsageIndex:          cloneInt(r.UsageIndex),
		LastUpdateTimestamp: r.LastUpdateTimestamp,
		Buffer:              cloneInt(r.Buffer),
		VaultDeposits:       cloneInt(r.VaultDeposits),
	}
}

// RateState pairs the live rates with the parameters of the rate curve. All
// values are annualised and Ray scaled.
type RateState struct {
	CurrentLiquidityRate *uint256.Int
	CurrentUsageRate     *uint256.Int
	RateParameters
}

// Clone returns a deep copy of the rate state.
func (r *RateState) Clone() *RateState {
	if r == nil {
		return nil
	}
	return &RateState{
		CurrentLiquidityRate: cloneInt(r.CurrentLiquidityRate),
		CurrentUsageRate:     cloneInt(r.CurrentUsageRate),
		RateParameters:       r.RateParameters.Clone(),
	}
}

// UserPosition is the borrower side of an account: scaled debt and the NFTs
// held as collateral.
type UserPosition struct {
	ScaledDebt *uint256.Int
	Collateral CollateralSet
}

// Clone returns a deep copy of the position.
func (p *UserPosition) Clone() *UserPosition {
	if p == nil {
		return nil
	}
	return &UserPosition{
		ScaledDebt: cloneInt(p.ScaledDebt),
		Collateral: p.Collateral.Clone(),
	}
}

// IsEmpty reports whether the position carries neither debt nor collateral.
func (p *UserPosition) IsEmpty() bool {
	if p == nil {
		return true
	}
	return orZero(p.ScaledDebt).IsZero() && p.Collateral.Len() == 0
}

// CollateralSet is an unordered set of collateral token ids. Removal swaps the
// last element into the vacated slot so every operation is O(1).
type CollateralSet struct {
	ids   []uint256.Int
	slots map[uint256.Int]int
}

// NewCollateralSet builds a set from ids, ignoring duplicates.
func NewCollateralSet(ids ...*uint256.Int) CollateralSet {
	var s CollateralSet
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Len returns the number of ids held.
func (s *CollateralSet) Len() int { return len(s.ids) }

// Contains reports whether id is held.
func (s *CollateralSet) Contains(id *uint256.Int) bool {
	if s.slots == nil || id == nil {
		return false
	}
	_, ok := s.slots[*id]
	return ok
}

// Add inserts id and reports whether it was newly added.
func (s *CollateralSet) Add(id *uint256.Int) bool {
	if id == nil || s.Contains(id) {
		return false
	}
	if s.slots == nil {
		s.slots = make(map[uint256.Int]int)
	}
	s.slots[*id] = len(s.ids)
	s.ids = append(s.ids, *id)
	return true
}

// Remove deletes id and reports whether it was present.
func (s *CollateralSet) Remove(id *uint256.Int) bool {
	if !s.Contains(id) {
		return false
	}
	slot := s.slots[*id]
	last := len(s.ids) - 1
	if slot != last {
		moved := s.ids[last]
		s.ids[slot] = moved
		s.slots[moved] = slot
	}
	s.ids = s.ids[:last]
	delete(s.slots, *id)
	return true
}

// IDs returns copies of the held ids in slot order.
func (s *CollateralSet) IDs() []*uint256.Int {
	out := make([]*uint256.Int, len(s.ids))
	for i := range s.ids {
		out[i] = new(uint256.Int).Set(&s.ids[i])
	}
	return out
}

// Clone returns a deep copy of the set preserving slot order.
func (s CollateralSet) Clone() CollateralSet {
	clone := CollateralSet{}
	if len(s.ids) == 0 {
		return clone
	}
	clone.ids = make([]uint256.Int, len(s.ids))
	copy(clone.ids, s.ids)
	clone.slots = make(map[uint256.Int]int, len(s.slots))
	for k, v := range s.slots {
		clone.slots[k] = v
	}
	return clone
}

// LiquidationRecord exists only while an account is under liquidation.
// UnderLiquidation is true iff StartTime is non-zero.
type LiquidationRecord struct {
	UnderLiquidation bool
	StartTime        int64
}

// Active reports whether the record describes an open liquidation.
func (r *LiquidationRecord) Active() bool {
	return r != nil && r.UnderLiquidation && r.StartTime != 0
}

// Clone returns a copy of the record.
func (r *LiquidationRecord) Clone() *LiquidationRecord {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

func cloneInt(v *uint256.Int) *uint256.Int {
	if v == nil {
		return fixedpoint.Zero()
	}
	return new(uint256.Int).Set(v)
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return fixedpoint.Zero()
	}
	return v
}
