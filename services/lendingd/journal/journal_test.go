package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"rwalend/core/types"
	"rwalend/native/lending"
)

type payloadEvent struct{ evt *types.Event }

func (p payloadEvent) EventType() string   { return p.evt.Type }
func (p payloadEvent) Event() *types.Event { return p.evt }

func openJournal(t *testing.T, path string) *Journal {
	t.Helper()
	j, err := Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournalAppendAndFilter(t *testing.T) {
	j := openJournal(t, filepath.Join(t.TempDir(), "journal.db"))
	alice := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob := common.HexToAddress("0x00000000000000000000000000000000000000b2")

	j.Emit(payloadEvent{lending.NewBalanceEvent(lending.EventTypeDeposited, alice, uint256.NewInt(100), uint256.NewInt(100))})
	j.Emit(payloadEvent{lending.NewBalanceEvent(lending.EventTypeBorrowed, bob, uint256.NewInt(40), uint256.NewInt(40))})
	j.Emit(payloadEvent{lending.NewBalanceEvent(lending.EventTypeWithdrawn, alice, uint256.NewInt(10), uint256.NewInt(10))})

	ctx := context.Background()
	all, err := j.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, []uint64{1, 2, 3}, []uint64{all[0].Sequence, all[1].Sequence, all[2].Sequence})

	forAlice, err := j.List(ctx, Query{Account: alice.Hex()})
	require.NoError(t, err)
	require.Len(t, forAlice, 2)

	borrows, err := j.List(ctx, Query{Type: lending.EventTypeBorrowed})
	require.NoError(t, err)
	require.Len(t, borrows, 1)
	evt, err := borrows[0].Decode()
	require.NoError(t, err)
	require.Equal(t, "40", evt.Attributes["amount"])

	tail, err := j.List(ctx, Query{After: 2, Limit: 10})
	require.NoError(t, err)
	require.Len(t, tail, 1)
	require.Equal(t, lending.EventTypeWithdrawn, tail[0].Type)
}

func TestJournalResumesSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	first, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, first.Append(context.Background(), &types.Event{Type: "lending.rates.updated", Attributes: map[string]string{}}))
	require.NoError(t, first.Close())

	second := openJournal(t, path)
	require.NoError(t, second.Append(context.Background(), &types.Event{Type: "lending.rates.updated", Attributes: map[string]string{}}))
	entries, err := second.List(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, uint64(2), entries[1].Sequence)
}

func TestJournalIgnoresBareEvents(t *testing.T) {
	j := openJournal(t, filepath.Join(t.TempDir(), "journal.db"))
	j.Emit(nil)
	entries, err := j.List(context.Background(), Query{})
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(" ", nil)
	require.ErrorIs(t, err, ErrPathRequired)
}
