package lending

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"rwalend/native/lending/fixedpoint"
)

// PriceOracle prices collateral tokens in underlying units. A zero value
// means the price is unavailable.
type PriceOracle interface {
	Price(id *uint256.Int) (value *uint256.Int, updatedAt int64, err error)
}

// CollateralCustody moves collateral NFTs between holders.
type CollateralCustody interface {
	OwnerOf(id *uint256.Int) (common.Address, error)
	Transfer(id *uint256.Int, from, to common.Address) error
}

// YieldVault parks idle reserve liquidity. Withdraw returns the amount
// actually released, which must be at least minOut.
type YieldVault interface {
	Deposit(amount *uint256.Int, owner common.Address) error
	Withdraw(amount *uint256.Int, owner, receiver common.Address, minOut *uint256.Int) (*uint256.Int, error)
}

// StaticOracle serves prices set by the operator. It backs tests and the
// daemon's admin price feed.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[uint256.Int]oraclePrice
}

type oraclePrice struct {
	value     *uint256.Int
	updatedAt int64
}

// NewStaticOracle returns an oracle with no prices.
func NewStaticOracle() *StaticOracle {
	return &StaticOracle{prices: make(map[uint256.Int]oraclePrice)}
}

// SetPrice records the price of id as of updatedAt.
func (o *StaticOracle) SetPrice(id, value *uint256.Int, updatedAt int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[*id] = oraclePrice{value: cloneInt(value), updatedAt: updatedAt}
}

// Price implements PriceOracle. Unknown ids report a zero price.
func (o *StaticOracle) Price(id *uint256.Int) (*uint256.Int, int64, error) {
	if id == nil {
		return fixedpoint.Zero(), 0, nil
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.prices[*id]
	if !ok {
		return fixedpoint.Zero(), 0, nil
	}
	return cloneInt(p.value), p.updatedAt, nil
}

var errNotOwner = errors.New("custody: sender does not own token")

// MemoryCustody is an in-memory NFT registry.
type MemoryCustody struct {
	mu     sync.RWMutex
	owners map[uint256.Int]common.Address
}

// NewMemoryCustody returns an empty registry.
func NewMemoryCustody() *MemoryCustody {
	return &MemoryCustody{owners: make(map[uint256.Int]common.Address)}
}

// Mint assigns id to owner.
func (c *MemoryCustody) Mint(id *uint256.Int, owner common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners[*id] = owner
}

// OwnerOf implements CollateralCustody. Unknown ids are owned by the zero
// address.
func (c *MemoryCustody) OwnerOf(id *uint256.Int) (common.Address, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.owners[*id], nil
}

// Transfer implements CollateralCustody.
func (c *MemoryCustody) Transfer(id *uint256.Int, from, to common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.owners[*id] != from {
		return fmt.Errorf("%w: token %s", errNotOwner, id.Dec())
	}
	c.owners[*id] = to
	return nil
}

// MemoryVault is an in-memory yield vault that tracks per-owner deposits. It
// can be told to fail to exercise rollback paths.
type MemoryVault struct {
	mu       sync.Mutex
	balances map[common.Address]*uint256.Int
	failNext error
}

// NewMemoryVault returns an empty vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{balances: make(map[common.Address]*uint256.Int)}
}

// FailNext makes the next Deposit or Withdraw return err.
func (v *MemoryVault) FailNext(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failNext = err
}

// BalanceOf returns the amount deposited by owner.
func (v *MemoryVault) BalanceOf(owner common.Address) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return cloneInt(v.balances[owner])
}

func (v *MemoryVault) takeFailure() error {
	err := v.failNext
	v.failNext = nil
	return err
}

// Deposit implements YieldVault.
func (v *MemoryVault) Deposit(amount *uint256.Int, owner common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.takeFailure(); err != nil {
		return err
	}
	bal := cloneInt(v.balances[owner])
	v.balances[owner] = bal.Add(bal, amount)
	return nil
}

// Withdraw implements YieldVault.
func (v *MemoryVault) Withdraw(amount *uint256.Int, owner, _ common.Address, minOut *uint256.Int) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.takeFailure(); err != nil {
		return nil, err
	}
	bal := cloneInt(v.balances[owner])
	if bal.Lt(amount) {
		return nil, fmt.Errorf("vault: insufficient balance %s < %s", bal.Dec(), amount.Dec())
	}
	if minOut != nil && amount.Lt(minOut) {
		return nil, fmt.Errorf("vault: output %s below minimum %s", amount.Dec(), minOut.Dec())
	}
	v.balances[owner] = bal.Sub(bal, amount)
	return new(uint256.Int).Set(amount), nil
}
