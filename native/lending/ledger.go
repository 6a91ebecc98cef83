package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"rwalend/native/lending/fixedpoint"
)

// MintResult reports the outcome of crediting a scaled ledger.
type MintResult struct {
	FirstMint        bool
	ScaledMinted     *uint256.Int
	NewScaledSupply  *uint256.Int
	UnderlyingMinted *uint256.Int
}

// BurnResult reports the outcome of debiting a scaled ledger.
type BurnResult struct {
	ScaledBurned       *uint256.Int
	NewScaledSupply    *uint256.Int
	UnderlyingReturned *uint256.Int
}

type balanceBook interface {
	scaledBalance(addr common.Address) (*uint256.Int, error)
	setScaledBalance(addr common.Address, scaled *uint256.Int) error
	scaledSupply() (*uint256.Int, error)
	setScaledSupply(scaled *uint256.Int) error
}

// ScaledLedger stores balances divided by an index so that balances grow with
// the index without per-account writes.
type ScaledLedger struct {
	kind LedgerKind
	book balanceBook
}

// Kind reports which side of the reserve the ledger tracks.
func (l *ScaledLedger) Kind() LedgerKind { return l.kind }

// Mint credits beneficiary with amount of underlying at index.
func (l *ScaledLedger) Mint(caller, beneficiary common.Address, amount, index *uint256.Int) (*MintResult, error) {
	if orZero(amount).IsZero() {
		return nil, newError("", ErrInvalidAmount, beneficiary, amount, "mint amount must be positive")
	}
	scaled, err := fixedpoint.RayDiv(amount, index)
	if err != nil {
		return nil, err
	}
	if scaled.IsZero() {
		return nil, newError("", ErrInvalidAmount, beneficiary, amount, "amount rounds to zero at current index")
	}
	balance, err := l.book.scaledBalance(beneficiary)
	if err != nil {
		return nil, err
	}
	supply, err := l.book.scaledSupply()
	if err != nil {
		return nil, err
	}
	newBalance, err := fixedpoint.Add(balance, scaled)
	if err != nil {
		return nil, err
	}
	newSupply, err := fixedpoint.Add(supply, scaled)
	if err != nil {
		return nil, err
	}
	if err := l.book.setScaledBalance(beneficiary, newBalance); err != nil {
		return nil, err
	}
	if err := l.book.setScaledSupply(newSupply); err != nil {
		return nil, err
	}
	return &MintResult{
		FirstMint:        balance.IsZero(),
		ScaledMinted:     scaled,
		NewScaledSupply:  newSupply,
		UnderlyingMinted: new(uint256.Int).Set(amount),
	}, nil
}

// Burn debits from by amount of underlying at index. The request is sized in
// scaled units, so an amount minted at the same index burns back in full.
// Requests above the holder's balance are capped to the balance, and a burn
// that covers the underlying balance removes every scaled unit.
func (l *ScaledLedger) Burn(from, receiver common.Address, amount, index *uint256.Int) (*BurnResult, error) {
	if orZero(amount).IsZero() {
		return nil, newError("", ErrInvalidAmount, from, amount, "burn amount must be positive")
	}
	balance, err := l.book.scaledBalance(from)
	if err != nil {
		return nil, err
	}
	if balance.IsZero() {
		return nil, newError("", ErrInsufficientLiquidity, from, amount, l.kind.String()+" balance is empty")
	}
	scaled, err := fixedpoint.RayDiv(amount, index)
	if err != nil {
		return nil, err
	}
	underlying, err := fixedpoint.RayMul(balance, index)
	if err != nil {
		return nil, err
	}
	burnAmount := new(uint256.Int).Set(amount)
	switch {
	case scaled.Gt(balance):
		// The request exceeds the position: burn all of it and pay out no
		// more than it is worth.
		scaled = new(uint256.Int).Set(balance)
		burnAmount = fixedpoint.Min(amount, underlying)
	case !amount.Lt(underlying):
		// Within one rounding unit of the whole position.
		scaled = new(uint256.Int).Set(balance)
	case scaled.IsZero():
		return nil, newError("", ErrInvalidAmount, from, amount, "amount rounds to zero at current index")
	}
	if burnAmount.IsZero() {
		return nil, newError("", ErrInsufficientLiquidity, from, amount, l.kind.String()+" balance is empty")
	}

	supply, err := l.book.scaledSupply()
	if err != nil {
		return nil, err
	}
	newSupply, err := fixedpoint.Sub(supply, scaled)
	if err != nil {
		return nil, err
	}
	newBalance := new(uint256.Int).Sub(balance, scaled)
	if err := l.book.setScaledBalance(from, newBalance); err != nil {
		return nil, err
	}
	if err := l.book.setScaledSupply(newSupply); err != nil {
		return nil, err
	}
	return &BurnResult{
		ScaledBurned:       scaled,
		NewScaledSupply:    newSupply,
		UnderlyingReturned: burnAmount,
	}, nil
}

// BurnAll removes the entire scaled balance of from, including residue that
// rounds to zero underlying.
func (l *ScaledLedger) BurnAll(from common.Address, index *uint256.Int) (*BurnResult, error) {
	balance, err := l.book.scaledBalance(from)
	if err != nil {
		return nil, err
	}
	underlying, err := fixedpoint.RayMul(balance, index)
	if err != nil {
		return nil, err
	}
	supply, err := l.book.scaledSupply()
	if err != nil {
		return nil, err
	}
	newSupply, err := fixedpoint.Sub(supply, balance)
	if err != nil {
		return nil, err
	}
	if err := l.book.setScaledBalance(from, fixedpoint.Zero()); err != nil {
		return nil, err
	}
	if err := l.book.setScaledSupply(newSupply); err != nil {
		return nil, err
	}
	return &BurnResult{
		ScaledBurned:       balance,
		NewScaledSupply:    newSupply,
		UnderlyingReturned: underlying,
	}, nil
}

// ScaledBalanceOf returns the stored scaled balance of addr.
func (l *ScaledLedger) ScaledBalanceOf(addr common.Address) (*uint256.Int, error) {
	return l.book.scaledBalance(addr)
}

// BalanceOf returns the underlying balance of addr at index.
func (l *ScaledLedger) BalanceOf(addr common.Address, index *uint256.Int) (*uint256.Int, error) {
	scaled, err := l.book.scaledBalance(addr)
	if err != nil {
		return nil, err
	}
	return fixedpoint.RayMul(scaled, index)
}

// ScaledSupply returns the sum of all scaled balances.
func (l *ScaledLedger) ScaledSupply() (*uint256.Int, error) {
	return l.book.scaledSupply()
}

// TotalSupply returns the underlying equivalent of the scaled supply at index.
func (l *ScaledLedger) TotalSupply(index *uint256.Int) (*uint256.Int, error) {
	supply, err := l.book.scaledSupply()
	if err != nil {
		return nil, err
	}
	return fixedpoint.RayMul(supply, index)
}

// receiptBook keeps supplier balances in the pending receipt map.
type receiptBook struct{ st *pendingState }

func (b receiptBook) scaledBalance(addr common.Address) (*uint256.Int, error) {
	return b.st.receiptBalance(addr)
}

func (b receiptBook) setScaledBalance(addr common.Address, scaled *uint256.Int) error {
	b.st.setReceiptBalance(addr, scaled)
	return nil
}

func (b receiptBook) scaledSupply() (*uint256.Int, error) { return b.st.scaledSupply(ReceiptLedger) }

func (b receiptBook) setScaledSupply(scaled *uint256.Int) error {
	b.st.setScaledSupply(ReceiptLedger, scaled)
	return nil
}

// debtBook keeps borrower balances in the ScaledDebt field of each position.
type debtBook struct{ st *pendingState }

func (b debtBook) scaledBalance(addr common.Address) (*uint256.Int, error) {
	pos, err := b.st.position(addr)
	if err != nil {
		return nil, err
	}
	return cloneInt(pos.ScaledDebt), nil
}

func (b debtBook) setScaledBalance(addr common.Address, scaled *uint256.Int) error {
	pos, err := b.st.position(addr)
	if err != nil {
		return err
	}
	pos.ScaledDebt = cloneInt(scaled)
	b.st.setPosition(addr, pos)
	return nil
}

func (b debtBook) scaledSupply() (*uint256.Int, error) { return b.st.scaledSupply(DebtLedger) }

func (b debtBook) setScaledSupply(scaled *uint256.Int) error {
	b.st.setScaledSupply(DebtLedger, scaled)
	return nil
}
