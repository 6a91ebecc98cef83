package state

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"rwalend/native/lending"
	"rwalend/native/lending/fixedpoint"
	"rwalend/storage"
)

var (
	storeAlice = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	storeBob   = common.HexToAddress("0x00000000000000000000000000000000000000d2")
)

func sampleRates() *lending.RateState {
	params, err := lending.DefaultRateParameters(uint256.MustFromDecimal("100000000000000000000000000"))
	if err != nil {
		panic(err)
	}
	return &lending.RateState{
		CurrentLiquidityRate: uint256.NewInt(11),
		CurrentUsageRate:     uint256.NewInt(22),
		RateParameters:       params,
	}
}

func TestLendingStoreAbsentRecords(t *testing.T) {
	store := NewLendingStore(storage.NewMemDB(), "main")

	reserve, err := store.GetReserve()
	require.NoError(t, err)
	require.Nil(t, reserve)

	rates, err := store.GetRates()
	require.NoError(t, err)
	require.Nil(t, rates)

	pos, err := store.GetPosition(storeAlice)
	require.NoError(t, err)
	require.Nil(t, pos)

	rec, err := store.GetLiquidation(storeAlice)
	require.NoError(t, err)
	require.Nil(t, rec)

	bal, err := store.GetReceiptBalance(storeAlice)
	require.NoError(t, err)
	require.True(t, bal.IsZero())

	supply, err := store.GetScaledSupply(lending.DebtLedger)
	require.NoError(t, err)
	require.True(t, supply.IsZero())
}

func TestLendingStoreRoundTrip(t *testing.T) {
	store := NewLendingStore(storage.NewMemDB(), "main")

	reserve := lending.NewReserveState(1_700_000_000)
	reserve.TotalLiquidity = uint256.MustFromDecimal("1000000000000000000000")
	reserve.TotalUsage = uint256.MustFromDecimal("500000000000000000000")
	reserve.UsageIndex = uint256.MustFromDecimal("1105170918075647624811707826")
	reserve.Buffer = uint256.NewInt(7)
	reserve.VaultDeposits = uint256.NewInt(9)
	require.NoError(t, store.PutReserve(reserve))
	got, err := store.GetReserve()
	require.NoError(t, err)
	require.Equal(t, reserve, got)

	rates := sampleRates()
	require.NoError(t, store.PutRates(rates))
	gotRates, err := store.GetRates()
	require.NoError(t, err)
	require.Equal(t, rates, gotRates)

	pos := &lending.UserPosition{
		ScaledDebt: uint256.NewInt(42),
		Collateral: lending.NewCollateralSet(uint256.NewInt(3), uint256.NewInt(1), uint256.NewInt(2)),
	}
	require.NoError(t, store.PutPosition(storeAlice, pos))
	gotPos, err := store.GetPosition(storeAlice)
	require.NoError(t, err)
	require.Equal(t, uint64(42), gotPos.ScaledDebt.Uint64())
	require.Equal(t, pos.Collateral.IDs(), gotPos.Collateral.IDs())

	require.NoError(t, store.PutLiquidation(storeAlice, &lending.LiquidationRecord{UnderLiquidation: true, StartTime: 55}))
	rec, err := store.GetLiquidation(storeAlice)
	require.NoError(t, err)
	require.Equal(t, &lending.LiquidationRecord{UnderLiquidation: true, StartTime: 55}, rec)

	require.NoError(t, store.PutReceiptBalance(storeBob, uint256.NewInt(1234)))
	bal, err := store.GetReceiptBalance(storeBob)
	require.NoError(t, err)
	require.Equal(t, uint64(1234), bal.Uint64())

	require.NoError(t, store.PutScaledSupply(lending.ReceiptLedger, uint256.NewInt(99)))
	supply, err := store.GetScaledSupply(lending.ReceiptLedger)
	require.NoError(t, err)
	require.Equal(t, uint64(99), supply.Uint64())
}

func TestLendingStoreEmptyRecordsDelete(t *testing.T) {
	db := storage.NewMemDB()
	store := NewLendingStore(db, "main")

	require.NoError(t, store.PutPosition(storeAlice, &lending.UserPosition{ScaledDebt: uint256.NewInt(1)}))
	require.NoError(t, store.PutLiquidation(storeAlice, &lending.LiquidationRecord{UnderLiquidation: true, StartTime: 1}))
	require.NoError(t, store.PutReceiptBalance(storeAlice, uint256.NewInt(1)))
	accounts, err := store.PositionAccounts()
	require.NoError(t, err)
	require.Equal(t, []common.Address{storeAlice}, accounts)

	require.NoError(t, store.PutPosition(storeAlice, &lending.UserPosition{ScaledDebt: new(uint256.Int)}))
	require.NoError(t, store.PutLiquidation(storeAlice, nil))
	require.NoError(t, store.PutReceiptBalance(storeAlice, new(uint256.Int)))
	require.Zero(t, db.Len())

	accounts, err = store.PositionAccounts()
	require.NoError(t, err)
	require.Empty(t, accounts)
}

func TestLendingStoreRejectsOversizedIndex(t *testing.T) {
	store := NewLendingStore(storage.NewMemDB(), "main")
	reserve := lending.NewReserveState(1)
	reserve.LiquidityIndex = new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	err := store.PutReserve(reserve)
	require.ErrorIs(t, err, lending.ErrValueTooLargeForCompressedStorage)

	rates := sampleRates()
	rates.MaxRate = fixedpoint.MaxUint256()
	require.ErrorIs(t, store.PutRates(rates), lending.ErrValueTooLargeForCompressedStorage)
}

func TestLendingStoreNamespacesAreIsolated(t *testing.T) {
	db := storage.NewMemDB()
	a := NewLendingStore(db, "a")
	b := NewLendingStore(db, "b")
	require.NoError(t, a.PutReceiptBalance(storeAlice, uint256.NewInt(5)))
	bal, err := b.GetReceiptBalance(storeAlice)
	require.NoError(t, err)
	require.True(t, bal.IsZero())
}

func TestLendingStoreAtomicDiscardsOnError(t *testing.T) {
	db := storage.NewMemDB()
	store := NewLendingStore(db, "main")
	boom := errors.New("boom")

	err := store.Atomic(func(tx lending.State) error {
		require.NoError(t, tx.PutReceiptBalance(storeAlice, uint256.NewInt(10)))
		bal, err := tx.GetReceiptBalance(storeAlice)
		require.NoError(t, err)
		require.Equal(t, uint64(10), bal.Uint64(), "batch must read its own writes")
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Zero(t, db.Len())

	require.NoError(t, store.Atomic(func(tx lending.State) error {
		return tx.PutReceiptBalance(storeAlice, uint256.NewInt(10))
	}))
	bal, err := store.GetReceiptBalance(storeAlice)
	require.NoError(t, err)
	require.Equal(t, uint64(10), bal.Uint64())
}

func TestEngineStateSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lending")
	pool := common.HexToAddress("0x00000000000000000000000000000000000000a0")
	authority := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	now := int64(1_700_000_000)
	wad := func(n uint64) *uint256.Int { return new(uint256.Int).Mul(uint256.NewInt(n), fixedpoint.Wad) }

	rates, err := lending.DefaultRateParameters(uint256.MustFromDecimal("100000000000000000000000000"))
	require.NoError(t, err)
	oracle := lending.NewStaticOracle()
	custody := lending.NewMemoryCustody()
	token := uint256.NewInt(1)
	custody.Mint(token, storeBob)
	oracle.SetPrice(token, wad(10_000), now)

	newEngine := func(db storage.Database) *lending.Engine {
		engine := lending.NewEngine(pool, lending.DefaultParams(authority, authority), rates)
		engine.SetState(NewLendingStore(db, "main"))
		engine.SetOracle(oracle)
		engine.SetCustody(custody)
		engine.SetNowFunc(func() int64 { return now })
		return engine
	}

	db, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	engine := newEngine(db)
	_, err = engine.Deposit(storeAlice, wad(1_000))
	require.NoError(t, err)
	require.NoError(t, engine.DepositCollateral(storeBob, token))
	_, err = engine.Borrow(storeBob, wad(500))
	require.NoError(t, err)
	before, err := engine.Reserve()
	require.NoError(t, err)
	db.Close()

	db, err = storage.NewLevelDB(path)
	require.NoError(t, err)
	defer db.Close()
	engine = newEngine(db)
	now += 86_400

	after, err := engine.Reserve()
	require.NoError(t, err)
	require.True(t, after.UsageIndex.Gt(before.UsageIndex))
	debt, err := engine.DebtOf(storeBob)
	require.NoError(t, err)
	require.True(t, debt.Gt(wad(500)))
	pos, err := engine.Position(storeBob)
	require.NoError(t, err)
	require.True(t, pos.Collateral.Contains(token))

	accounts, err := NewLendingStore(db, "main").PositionAccounts()
	require.NoError(t, err)
	require.Equal(t, []common.Address{storeBob}, accounts)
}
