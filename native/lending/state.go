package lending

import (
	"bytes"
	"errors"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"rwalend/core/events"
)

// LedgerKind selects one of the two scaled ledgers of a reserve.
type LedgerKind uint8

const (
	// ReceiptLedger holds supplier balances scaled by the liquidity index.
	ReceiptLedger LedgerKind = iota + 1
	// DebtLedger holds borrower balances scaled by the usage index.
	DebtLedger
)

func (k LedgerKind) String() string {
	switch k {
	case ReceiptLedger:
		return "receipt"
	case DebtLedger:
		return "debt"
	default:
		return "unknown"
	}
}

// State is the persistence surface the engine runs against. Getters return
// nil when the record is absent. Putting a nil or empty record deletes it.
// Per-account scaled debt lives in UserPosition; receipt balances are kept
// separately because suppliers need not hold a position.
type State interface {
	GetReserve() (*ReserveState, error)
	PutReserve(reserve *ReserveState) error
	GetRates() (*RateState, error)
	PutRates(rates *RateState) error
	GetPosition(addr common.Address) (*UserPosition, error)
	PutPosition(addr common.Address, position *UserPosition) error
	GetLiquidation(addr common.Address) (*LiquidationRecord, error)
	PutLiquidation(addr common.Address, record *LiquidationRecord) error
	GetReceiptBalance(addr common.Address) (*uint256.Int, error)
	PutReceiptBalance(addr common.Address, scaled *uint256.Int) error
	GetScaledSupply(kind LedgerKind) (*uint256.Int, error)
	PutScaledSupply(kind LedgerKind, scaled *uint256.Int) error
}

// AtomicState is implemented by stores that can apply a group of writes as a
// single unit. The engine commits through Atomic when it is available.
type AtomicState interface {
	State
	Atomic(fn func(tx State) error) error
}

// MemoryState is an in-process State guarded by its own mutex. Values are
// cloned on the way in and out.
type MemoryState struct {
	mu           sync.RWMutex
	reserve      *ReserveState
	rates        *RateState
	positions    map[common.Address]*UserPosition
	liquidations map[common.Address]*LiquidationRecord
	receipts     map[common.Address]*uint256.Int
	supplies     map[LedgerKind]*uint256.Int
}

// NewMemoryState returns an empty in-memory store.
func NewMemoryState() *MemoryState {
	return &MemoryState{
		positions:    make(map[common.Address]*UserPosition),
		liquidations: make(map[common.Address]*LiquidationRecord),
		receipts:     make(map[common.Address]*uint256.Int),
		supplies:     make(map[LedgerKind]*uint256.Int),
	}
}

func (m *MemoryState) GetReserve() (*ReserveState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reserve.Clone(), nil
}

func (m *MemoryState) PutReserve(reserve *ReserveState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reserve = reserve.Clone()
	return nil
}

func (m *MemoryState) GetRates() (*RateState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rates.Clone(), nil
}

func (m *MemoryState) PutRates(rates *RateState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates = rates.Clone()
	return nil
}

func (m *MemoryState) GetPosition(addr common.Address) (*UserPosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.positions[addr].Clone(), nil
}

func (m *MemoryState) PutPosition(addr common.Address, position *UserPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if position.IsEmpty() {
		delete(m.positions, addr)
		return nil
	}
	m.positions[addr] = position.Clone()
	return nil
}

func (m *MemoryState) GetLiquidation(addr common.Address) (*LiquidationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.liquidations[addr].Clone(), nil
}

func (m *MemoryState) PutLiquidation(addr common.Address, record *LiquidationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !record.Active() {
		delete(m.liquidations, addr)
		return nil
	}
	m.liquidations[addr] = record.Clone()
	return nil
}

func (m *MemoryState) GetReceiptBalance(addr common.Address) (*uint256.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneInt(m.receipts[addr]), nil
}

func (m *MemoryState) PutReceiptBalance(addr common.Address, scaled *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if orZero(scaled).IsZero() {
		delete(m.receipts, addr)
		return nil
	}
	m.receipts[addr] = cloneInt(scaled)
	return nil
}

func (m *MemoryState) GetScaledSupply(kind LedgerKind) (*uint256.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneInt(m.supplies[kind]), nil
}

func (m *MemoryState) PutScaledSupply(kind LedgerKind, scaled *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.supplies[kind] = cloneInt(scaled)
	return nil
}

// Atomic applies fn to the store and restores the previous contents if fn
// fails.
func (m *MemoryState) Atomic(fn func(tx State) error) error {
	snapshot := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

func (m *MemoryState) snapshot() *MemoryState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := NewMemoryState()
	snap.reserve = m.reserve.Clone()
	snap.rates = m.rates.Clone()
	for addr, pos := range m.positions {
		snap.positions[addr] = pos.Clone()
	}
	for addr, rec := range m.liquidations {
		snap.liquidations[addr] = rec.Clone()
	}
	for addr, bal := range m.receipts {
		snap.receipts[addr] = cloneInt(bal)
	}
	for kind, supply := range m.supplies {
		snap.supplies[kind] = cloneInt(supply)
	}
	return snap
}

func (m *MemoryState) restore(snap *MemoryState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reserve = snap.reserve
	m.rates = snap.rates
	m.positions = snap.positions
	m.liquidations = snap.liquidations
	m.receipts = snap.receipts
	m.supplies = snap.supplies
}

// pendingState buffers every write and event of one operation on top of the
// committed state. Nothing reaches the base store or the emitter until commit.
type pendingState struct {
	base State

	reserve *ReserveState
	rates   *RateState

	positions    map[common.Address]*UserPosition
	liquidations map[common.Address]*LiquidationRecord
	receipts     map[common.Address]*uint256.Int
	supplies     map[LedgerKind]*uint256.Int

	events        *events.Buffer
	compensations []func() error
}

func newPendingState(base State) *pendingState {
	return &pendingState{
		base:         base,
		positions:    make(map[common.Address]*UserPosition),
		liquidations: make(map[common.Address]*LiquidationRecord),
		receipts:     make(map[common.Address]*uint256.Int),
		supplies:     make(map[LedgerKind]*uint256.Int),
		events:       events.NewBuffer(),
	}
}

func (p *pendingState) position(addr common.Address) (*UserPosition, error) {
	if pos, ok := p.positions[addr]; ok {
		return pos.Clone(), nil
	}
	pos, err := p.base.GetPosition(addr)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return &UserPosition{ScaledDebt: new(uint256.Int)}, nil
	}
	return pos.Clone(), nil
}

func (p *pendingState) setPosition(addr common.Address, pos *UserPosition) {
	p.positions[addr] = pos.Clone()
}

func (p *pendingState) liquidation(addr common.Address) (*LiquidationRecord, error) {
	if rec, ok := p.liquidations[addr]; ok {
		return rec.Clone(), nil
	}
	rec, err := p.base.GetLiquidation(addr)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

func (p *pendingState) setLiquidation(addr common.Address, rec *LiquidationRecord) {
	p.liquidations[addr] = rec.Clone()
}

func (p *pendingState) receiptBalance(addr common.Address) (*uint256.Int, error) {
	if bal, ok := p.receipts[addr]; ok {
		return cloneInt(bal), nil
	}
	bal, err := p.base.GetReceiptBalance(addr)
	if err != nil {
		return nil, err
	}
	return cloneInt(bal), nil
}

func (p *pendingState) setReceiptBalance(addr common.Address, scaled *uint256.Int) {
	p.receipts[addr] = cloneInt(scaled)
}

func (p *pendingState) scaledSupply(kind LedgerKind) (*uint256.Int, error) {
	if supply, ok := p.supplies[kind]; ok {
		return cloneInt(supply), nil
	}
	supply, err := p.base.GetScaledSupply(kind)
	if err != nil {
		return nil, err
	}
	return cloneInt(supply), nil
}

func (p *pendingState) setScaledSupply(kind LedgerKind, scaled *uint256.Int) {
	p.supplies[kind] = cloneInt(scaled)
}

// onRollback registers an undo step for an external side effect that has
// already happened, such as a vault transfer.
func (p *pendingState) onRollback(fn func() error) {
	p.compensations = append(p.compensations, fn)
}

// rollback undoes external side effects in reverse order and drops all
// buffered writes and events.
func (p *pendingState) rollback() error {
	var errs []error
	for i := len(p.compensations) - 1; i >= 0; i-- {
		if err := p.compensations[i](); err != nil {
			errs = append(errs, err)
		}
	}
	p.compensations = nil
	p.events.Reset()
	return errors.Join(errs...)
}

// commit writes every buffered record to the base store, atomically when the
// store supports it, and then releases the buffered events to emitter.
func (p *pendingState) commit(emitter events.Emitter) error {
	write := func(dst State) error { return p.flush(dst) }
	var err error
	if atomic, ok := p.base.(AtomicState); ok {
		err = atomic.Atomic(write)
	} else {
		err = write(p.base)
	}
	if err != nil {
		if rbErr := p.rollback(); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	p.compensations = nil
	p.events.FlushTo(emitter)
	return nil
}

func (p *pendingState) flush(dst State) error {
	if p.reserve != nil {
		if err := dst.PutReserve(p.reserve); err != nil {
			return err
		}
	}
	if p.rates != nil {
		if err := dst.PutRates(p.rates); err != nil {
			return err
		}
	}
	for _, addr := range sortedAddresses(p.positions) {
		if err := dst.PutPosition(addr, p.positions[addr]); err != nil {
			return err
		}
	}
	for _, addr := range sortedAddresses(p.liquidations) {
		if err := dst.PutLiquidation(addr, p.liquidations[addr]); err != nil {
			return err
		}
	}
	for _, addr := range sortedAddresses(p.receipts) {
		if err := dst.PutReceiptBalance(addr, p.receipts[addr]); err != nil {
			return err
		}
	}
	for _, kind := range []LedgerKind{ReceiptLedger, DebtLedger} {
		supply, ok := p.supplies[kind]
		if !ok {
			continue
		}
		if err := dst.PutScaledSupply(kind, supply); err != nil {
			return err
		}
	}
	return nil
}

func sortedAddresses[V any](m map[common.Address]V) []common.Address {
	keys := make([]common.Address, 0, len(m))
	for addr := range m {
		keys = append(keys, addr)
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i][:], keys[j][:]) < 0 })
	return keys
}
