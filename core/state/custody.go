package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"rwalend/native/lending"
	"rwalend/storage"
)

var custodyOwnerPrefix = []byte("lending/custody/")

// ErrCollateralUnknown is returned for token ids the registry never minted.
var ErrCollateralUnknown = errors.New("custody: unknown collateral token")

// CustodyRegistry records the holder of each collateral NFT. The daemon uses
// it as the engine's custody backend; the token contract itself lives
// outside this service.
type CustodyRegistry struct {
	db storage.Database
	mu sync.Mutex
}

// NewCustodyRegistry returns a registry persisted in db.
func NewCustodyRegistry(db storage.Database) *CustodyRegistry {
	return &CustodyRegistry{db: db}
}

var _ lending.CollateralCustody = (*CustodyRegistry)(nil)

func custodyKey(id *uint256.Int) []byte {
	word := id.Bytes32()
	return append(append([]byte(nil), custodyOwnerPrefix...), ethcrypto.Keccak256(word[:])...)
}

// Mint registers id as held by owner. Existing tokens cannot be re-minted.
func (r *CustodyRegistry) Mint(id *uint256.Int, owner common.Address) error {
	if id == nil {
		return fmt.Errorf("custody: token id required")
	}
	if owner == (common.Address{}) {
		return fmt.Errorf("custody: owner required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ok, err := r.db.Has(custodyKey(id))
	if err != nil {
		return fmt.Errorf("custody: lookup token %s: %w", id.Dec(), err)
	}
	if ok {
		return fmt.Errorf("custody: token %s already minted", id.Dec())
	}
	return r.db.Put(custodyKey(id), owner.Bytes())
}

// OwnerOf implements lending.CollateralCustody.
func (r *CustodyRegistry) OwnerOf(id *uint256.Int) (common.Address, error) {
	if id == nil {
		return common.Address{}, ErrCollateralUnknown
	}
	raw, err := r.db.Get(custodyKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return common.Address{}, ErrCollateralUnknown
	}
	if err != nil {
		return common.Address{}, fmt.Errorf("custody: load token %s: %w", id.Dec(), err)
	}
	return common.BytesToAddress(raw), nil
}

// Transfer implements lending.CollateralCustody.
func (r *CustodyRegistry) Transfer(id *uint256.Int, from, to common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, err := r.OwnerOf(id)
	if err != nil {
		return err
	}
	if owner != from {
		return fmt.Errorf("custody: token %s not held by %s", id.Dec(), from.Hex())
	}
	if to == (common.Address{}) {
		return fmt.Errorf("custody: transfer to zero address")
	}
	return r.db.Put(custodyKey(id), to.Bytes())
}
