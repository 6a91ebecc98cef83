package state

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"rwalend/native/lending"
	"rwalend/native/lending/fixedpoint"
	"rwalend/storage"
)

var (
	lendingReservePrefix     = []byte("lending/reserve/")
	lendingRatesPrefix       = []byte("lending/rates/")
	lendingSupplyPrefix      = []byte("lending/supply/")
	lendingAccountsPrefix    = []byte("lending/accounts/")
	lendingPositionPrefix    = []byte("lending/position/")
	lendingLiquidationPrefix = []byte("lending/liquidation/")
	lendingReceiptPrefix     = []byte("lending/receipt/")
)

// LendingStore persists one reserve's engine state in a key-value database.
// Records are RLP encoded; per-account keys are keccak hashed under a
// namespace so several reserves can share a database.
type LendingStore struct {
	db        storage.Database
	namespace []byte

	// mu serialises Atomic so concurrent batches cannot interleave.
	mu sync.Mutex
}

// NewLendingStore returns a store for the reserve identified by namespace.
func NewLendingStore(db storage.Database, namespace string) *LendingStore {
	return &LendingStore{db: db, namespace: []byte(namespace)}
}

var _ lending.AtomicState = (*LendingStore)(nil)

func (s *LendingStore) key(prefix []byte, suffix []byte) []byte {
	buf := make([]byte, 0, len(prefix)+len(s.namespace)+1+len(suffix))
	buf = append(buf, prefix...)
	buf = append(buf, s.namespace...)
	buf = append(buf, '/')
	buf = append(buf, suffix...)
	return buf
}

func (s *LendingStore) accountKey(prefix []byte, addr common.Address) []byte {
	return ethcrypto.Keccak256(s.key(prefix, addr.Bytes()))
}

func (s *LendingStore) supplyKey(kind lending.LedgerKind) []byte {
	return s.key(lendingSupplyPrefix, []byte(kind.String()))
}

// kv is the read/write surface shared by the store and its batch view.
type kv interface {
	get(key []byte) ([]byte, bool, error)
	put(key, value []byte) error
	del(key []byte) error
}

type dbKV struct{ db storage.Database }

func (d dbKV) get(key []byte) ([]byte, bool, error) {
	value, err := d.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (d dbKV) put(key, value []byte) error { return d.db.Put(key, value) }
func (d dbKV) del(key []byte) error        { return d.db.Delete(key) }

// batchKV stages writes in a storage batch and serves reads from the staged
// set before falling back to the database.
type batchKV struct {
	base   dbKV
	batch  storage.Batch
	staged map[string][]byte
}

func (b *batchKV) get(key []byte) ([]byte, bool, error) {
	if value, ok := b.staged[string(key)]; ok {
		return value, value != nil, nil
	}
	return b.base.get(key)
}

func (b *batchKV) put(key, value []byte) error {
	b.batch.Put(key, value)
	b.staged[string(key)] = append([]byte(nil), value...)
	return nil
}

func (b *batchKV) del(key []byte) error {
	b.batch.Delete(key)
	b.staged[string(key)] = nil
	return nil
}

// lendingView implements lending.State on top of a kv.
type lendingView struct {
	s  *LendingStore
	kv kv
}

func (s *LendingStore) view() *lendingView {
	return &lendingView{s: s, kv: dbKV{db: s.db}}
}

// Atomic runs fn against a batch view and writes the batch only if fn
// succeeds.
func (s *LendingStore) Atomic(fn func(tx lending.State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.db.NewBatch()
	view := &lendingView{s: s, kv: &batchKV{base: dbKV{db: s.db}, batch: batch, staged: make(map[string][]byte)}}
	if err := fn(view); err != nil {
		return err
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("lending store: write batch: %w", err)
	}
	return nil
}

func (s *LendingStore) GetReserve() (*lending.ReserveState, error) { return s.view().GetReserve() }
func (s *LendingStore) PutReserve(r *lending.ReserveState) error    { return s.view().PutReserve(r) }
func (s *LendingStore) GetRates() (*lending.RateState, error)       { return s.view().GetRates() }
func (s *LendingStore) PutRates(r *lending.RateState) error         { return s.view().PutRates(r) }

func (s *LendingStore) GetPosition(addr common.Address) (*lending.UserPosition, error) {
	return s.view().GetPosition(addr)
}

func (s *LendingStore) PutPosition(addr common.Address, pos *lending.UserPosition) error {
	return s.view().PutPosition(addr, pos)
}

func (s *LendingStore) GetLiquidation(addr common.Address) (*lending.LiquidationRecord, error) {
	return s.view().GetLiquidation(addr)
}

func (s *LendingStore) PutLiquidation(addr common.Address, rec *lending.LiquidationRecord) error {
	return s.view().PutLiquidation(addr, rec)
}

func (s *LendingStore) GetReceiptBalance(addr common.Address) (*uint256.Int, error) {
	return s.view().GetReceiptBalance(addr)
}

func (s *LendingStore) PutReceiptBalance(addr common.Address, scaled *uint256.Int) error {
	return s.view().PutReceiptBalance(addr, scaled)
}

func (s *LendingStore) GetScaledSupply(kind lending.LedgerKind) (*uint256.Int, error) {
	return s.view().GetScaledSupply(kind)
}

func (s *LendingStore) PutScaledSupply(kind lending.LedgerKind, scaled *uint256.Int) error {
	return s.view().PutScaledSupply(kind, scaled)
}

// PositionAccounts lists every account holding debt or collateral, sorted by
// address.
func (s *LendingStore) PositionAccounts() ([]common.Address, error) {
	return s.view().accounts()
}

type storedReserve struct {
	TotalLiquidity      *big.Int
	TotalUsage          *big.Int
	LiquidityIndex      *big.Int
	UsageIndex          *big.Int
	LastUpdateTimestamp uint64
	Buffer              *big.Int
	VaultDeposits       *big.Int
}

type storedRates struct {
	CurrentLiquidityRate *big.Int
	CurrentUsageRate     *big.Int
	PrimeRate            *big.Int
	BaseRate             *big.Int
	OptimalRate          *big.Int
	MaxRate              *big.Int
	OptimalUtilization   *big.Int
	ProtocolFeeRate      *big.Int
}

type storedPosition struct {
	ScaledDebt *big.Int
	Collateral []*big.Int
}

type storedLiquidation struct {
	StartTime uint64
}

// compressed narrows a Ray value to the 128-bit representation used for
// indices and rates on disk.
func compressed(field string, v *uint256.Int) (*big.Int, error) {
	if v == nil {
		return big.NewInt(0), nil
	}
	narrow, err := fixedpoint.ToUint128(v)
	if err != nil {
		return nil, fmt.Errorf("lending store: %s: %w", field, err)
	}
	return narrow.ToBig(), nil
}

func wide(v *uint256.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v.ToBig()
}

func fromBig(field string, v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	out, overflow := uint256.FromBig(v)
	if overflow || v.Sign() < 0 {
		return nil, fmt.Errorf("lending store: %s out of range", field)
	}
	return out, nil
}

func timestamp(field string, ts int64) (uint64, error) {
	if ts < 0 {
		return 0, fmt.Errorf("lending store: negative %s", field)
	}
	return uint64(ts), nil
}

func (v *lendingView) load(key []byte, out interface{}) (bool, error) {
	data, ok, err := v.kv.get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("lending store: decode: %w", err)
	}
	return true, nil
}

func (v *lendingView) store(key []byte, value interface{}) error {
	data, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("lending store: encode: %w", err)
	}
	return v.kv.put(key, data)
}

func (v *lendingView) GetReserve() (*lending.ReserveState, error) {
	var rec storedReserve
	ok, err := v.load(v.s.key(lendingReservePrefix, nil), &rec)
	if err != nil || !ok {
		return nil, err
	}
	out := &lending.ReserveState{LastUpdateTimestamp: int64(rec.LastUpdateTimestamp)}
	fields := []struct {
		name string
		src  *big.Int
		dst  **uint256.Int
	}{
		{"total liquidity", rec.TotalLiquidity, &out.TotalLiquidity},
		{"total usage", rec.TotalUsage, &out.TotalUsage},
		{"liquidity index", rec.LiquidityIndex, &out.LiquidityIndex},
		{"usage index", rec.UsageIndex, &out.UsageIndex},
		{"buffer", rec.Buffer, &out.Buffer},
		{"vault deposits", rec.VaultDeposits, &out.VaultDeposits},
	}
	for _, f := range fields {
		if *f.dst, err = fromBig(f.name, f.src); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (v *lendingView) PutReserve(reserve *lending.ReserveState) error {
	key := v.s.key(lendingReservePrefix, nil)
	if reserve == nil {
		return v.kv.del(key)
	}
	liquidityIndex, err := compressed("liquidity index", reserve.LiquidityIndex)
	if err != nil {
		return err
	}
	usageIndex, err := compressed("usage index", reserve.UsageIndex)
	if err != nil {
		return err
	}
	ts, err := timestamp("last update timestamp", reserve.LastUpdateTimestamp)
	if err != nil {
		return err
	}
	return v.store(key, &storedReserve{
		TotalLiquidity:      wide(reserve.TotalLiquidity),
		TotalUsage:          wide(reserve.TotalUsage),
		LiquidityIndex:      liquidityIndex,
		UsageIndex:          usageIndex,
		LastUpdateTimestamp: ts,
		Buffer:              wide(reserve.Buffer),
		VaultDeposits:       wide(reserve.VaultDeposits),
	})
}

func (v *lendingView) GetRates() (*lending.RateState, error) {
	var rec storedRates
	ok, err := v.load(v.s.key(lendingRatesPrefix, nil), &rec)
	if err != nil || !ok {
		return nil, err
	}
	out := &lending.RateState{}
	fields := []struct {
		name string
		src  *big.Int
		dst  **uint256.Int
	}{
		{"liquidity rate", rec.CurrentLiquidityRate, &out.CurrentLiquidityRate},
		{"usage rate", rec.CurrentUsageRate, &out.CurrentUsageRate},
		{"prime rate", rec.PrimeRate, &out.PrimeRate},
		{"base rate", rec.BaseRate, &out.BaseRate},
		{"optimal rate", rec.OptimalRate, &out.OptimalRate},
		{"max rate", rec.MaxRate, &out.MaxRate},
		{"optimal utilization", rec.OptimalUtilization, &out.OptimalUtilization},
		{"protocol fee rate", rec.ProtocolFeeRate, &out.ProtocolFeeRate},
	}
	for _, f := range fields {
		if *f.dst, err = fromBig(f.name, f.src); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (v *lendingView) PutRates(rates *lending.RateState) error {
	key := v.s.key(lendingRatesPrefix, nil)
	if rates == nil {
		return v.kv.del(key)
	}
	rec := &storedRates{}
	fields := []struct {
		name string
		src  *uint256.Int
		dst  **big.Int
	}{
		{"liquidity rate", rates.CurrentLiquidityRate, &rec.CurrentLiquidityRate},
		{"usage rate", rates.CurrentUsageRate, &rec.CurrentUsageRate},
		{"prime rate", rates.PrimeRate, &rec.PrimeRate},
		{"base rate", rates.BaseRate, &rec.BaseRate},
		{"optimal rate", rates.OptimalRate, &rec.OptimalRate},
		{"max rate", rates.MaxRate, &rec.MaxRate},
		{"optimal utilization", rates.OptimalUtilization, &rec.OptimalUtilization},
		{"protocol fee rate", rates.ProtocolFeeRate, &rec.ProtocolFeeRate},
	}
	for _, f := range fields {
		var err error
		if *f.dst, err = compressed(f.name, f.src); err != nil {
			return err
		}
	}
	return v.store(key, rec)
}

func (v *lendingView) GetPosition(addr common.Address) (*lending.UserPosition, error) {
	var rec storedPosition
	ok, err := v.load(v.s.accountKey(lendingPositionPrefix, addr), &rec)
	if err != nil || !ok {
		return nil, err
	}
	debt, err := fromBig("scaled debt", rec.ScaledDebt)
	if err != nil {
		return nil, err
	}
	ids := make([]*uint256.Int, 0, len(rec.Collateral))
	for _, raw := range rec.Collateral {
		id, err := fromBig("collateral id", raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return &lending.UserPosition{ScaledDebt: debt, Collateral: lending.NewCollateralSet(ids...)}, nil
}

func (v *lendingView) PutPosition(addr common.Address, pos *lending.UserPosition) error {
	key := v.s.accountKey(lendingPositionPrefix, addr)
	if pos.IsEmpty() {
		if err := v.kv.del(key); err != nil {
			return err
		}
		return v.untrack(addr)
	}
	ids := pos.Collateral.IDs()
	rec := &storedPosition{ScaledDebt: wide(pos.ScaledDebt), Collateral: make([]*big.Int, len(ids))}
	for i, id := range ids {
		rec.Collateral[i] = id.ToBig()
	}
	if err := v.store(key, rec); err != nil {
		return err
	}
	return v.track(addr)
}

func (v *lendingView) GetLiquidation(addr common.Address) (*lending.LiquidationRecord, error) {
	var rec storedLiquidation
	ok, err := v.load(v.s.accountKey(lendingLiquidationPrefix, addr), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &lending.LiquidationRecord{UnderLiquidation: true, StartTime: int64(rec.StartTime)}, nil
}

func (v *lendingView) PutLiquidation(addr common.Address, rec *lending.LiquidationRecord) error {
	key := v.s.accountKey(lendingLiquidationPrefix, addr)
	if !rec.Active() {
		return v.kv.del(key)
	}
	start, err := timestamp("liquidation start", rec.StartTime)
	if err != nil {
		return err
	}
	return v.store(key, &storedLiquidation{StartTime: start})
}

func (v *lendingView) loadAmount(key []byte, field string) (*uint256.Int, error) {
	var raw big.Int
	ok, err := v.load(key, &raw)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	return fromBig(field, &raw)
}

func (v *lendingView) GetReceiptBalance(addr common.Address) (*uint256.Int, error) {
	return v.loadAmount(v.s.accountKey(lendingReceiptPrefix, addr), "receipt balance")
}

func (v *lendingView) PutReceiptBalance(addr common.Address, scaled *uint256.Int) error {
	key := v.s.accountKey(lendingReceiptPrefix, addr)
	if scaled == nil || scaled.IsZero() {
		return v.kv.del(key)
	}
	return v.store(key, scaled.ToBig())
}

func (v *lendingView) GetScaledSupply(kind lending.LedgerKind) (*uint256.Int, error) {
	return v.loadAmount(v.s.supplyKey(kind), kind.String()+" supply")
}

func (v *lendingView) PutScaledSupply(kind lending.LedgerKind, scaled *uint256.Int) error {
	return v.store(v.s.supplyKey(kind), wide(scaled))
}

func (v *lendingView) accounts() ([]common.Address, error) {
	var raw []common.Address
	if _, err := v.load(v.s.key(lendingAccountsPrefix, nil), &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (v *lendingView) saveAccounts(list []common.Address) error {
	key := v.s.key(lendingAccountsPrefix, nil)
	if len(list) == 0 {
		return v.kv.del(key)
	}
	sort.Slice(list, func(i, j int) bool { return bytes.Compare(list[i][:], list[j][:]) < 0 })
	return v.store(key, list)
}

func (v *lendingView) track(addr common.Address) error {
	list, err := v.accounts()
	if err != nil {
		return err
	}
	for _, existing := range list {
		if existing == addr {
			return nil
		}
	}
	return v.saveAccounts(append(list, addr))
}

func (v *lendingView) untrack(addr common.Address) error {
	list, err := v.accounts()
	if err != nil {
		return err
	}
	out := list[:0]
	for _, existing := range list {
		if existing != addr {
			out = append(out, existing)
		}
	}
	if len(out) == len(list) {
		return nil
	}
	return v.saveAccounts(out)
}
