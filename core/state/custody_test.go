package state

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"rwalend/storage"
)

func TestCustodyRegistryMintAndTransfer(t *testing.T) {
	registry := NewCustodyRegistry(storage.NewMemDB())
	id := uint256.NewInt(42)

	_, err := registry.OwnerOf(id)
	require.ErrorIs(t, err, ErrCollateralUnknown)

	require.NoError(t, registry.Mint(id, storeAlice))
	require.Error(t, registry.Mint(id, storeBob))

	owner, err := registry.OwnerOf(id)
	require.NoError(t, err)
	require.Equal(t, storeAlice, owner)

	require.Error(t, registry.Transfer(id, storeBob, storeAlice))
	require.NoError(t, registry.Transfer(id, storeAlice, storeBob))
	owner, err = registry.OwnerOf(id)
	require.NoError(t, err)
	require.Equal(t, storeBob, owner)
}

func TestCustodyRegistryRejectsZeroOwner(t *testing.T) {
	registry := NewCustodyRegistry(storage.NewMemDB())
	require.Error(t, registry.Mint(uint256.NewInt(1), common.Address{}))
}
