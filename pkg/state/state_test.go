package state

import (
	"testing"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/actorvm/pkg/blockstore"
)

func testCode(t *testing.T, name string) cid.Cid {
	t.Helper()
	c, err := blockstore.Sum(cid.Raw, []byte(name))
	require.NoError(t, err)
	return c
}

func newActor(t *testing.T, bal int64) *Actor {
	return &Actor{
		Code:    testCode(t, "account"),
		Head:    EmptyObjectCid,
		Balance: abi.NewTokenAmount(bal),
	}
}

func TestActorCloneIsDeep(t *testing.T) {
	addr, err := address.NewActorAddress([]byte("clone"))
	require.NoError(t, err)

	a := newActor(t, 10)
	a.Address = &addr
	b := a.Clone()
	b.Balance = big.Add(b.Balance, abi.NewTokenAmount(5))
	b.Sequence = 3

	require.True(t, a.Balance.Equals(abi.NewTokenAmount(10)))
	require.Equal(t, uint64(0), a.Sequence)
	require.True(t, a.Equal(a.Clone()))
	require.False(t, a.Equal(b))
}

func TestGetSetDelete(t *testing.T) {
	st := NewStateTree(blockstore.NewMemory(), 100)

	_, err := st.GetActor(5)
	require.ErrorIs(t, err, ErrActorNotFound)

	require.NoError(t, st.SetActor(5, newActor(t, 1)))
	act, err := st.GetActor(5)
	require.NoError(t, err)
	require.True(t, act.Balance.Equals(abi.NewTokenAmount(1)))

	// Mutating the returned copy must not touch the tree.
	act.Sequence = 9
	again, err := st.GetActor(5)
	require.NoError(t, err)
	require.Equal(t, uint64(0), again.Sequence)

	require.NoError(t, st.DeleteActor(5))
	_, err = st.GetActor(5)
	require.ErrorIs(t, err, ErrActorNotFound)
	require.ErrorIs(t, st.DeleteActor(5), ErrActorNotFound)
}

func TestSetActorRejectsUndefinedHead(t *testing.T) {
	st := NewStateTree(blockstore.NewMemory(), 100)
	act := newActor(t, 0)
	act.Head = cid.Undef
	require.Error(t, st.SetActor(1, act))
}

func TestRegisterNewAddress(t *testing.T) {
	st := NewStateTree(blockstore.NewMemory(), 100)
	addr, err := address.NewActorAddress([]byte("a"))
	require.NoError(t, err)

	id, err := st.RegisterNewAddress(addr)
	require.NoError(t, err)
	require.Equal(t, abi.ActorID(100), id)

	got, ok, err := st.LookupID(addr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, got)

	_, err = st.RegisterNewAddress(addr)
	require.ErrorIs(t, err, ErrAddressExists)

	idAddr, err := address.NewIDAddress(42)
	require.NoError(t, err)
	got, ok, err = st.LookupID(idAddr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, abi.ActorID(42), got)

	other, err := address.NewActorAddress([]byte("b"))
	require.NoError(t, err)
	_, ok, err = st.LookupID(other)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTransactionRevert(t *testing.T) {
	st := NewStateTree(blockstore.NewMemory(), 100)
	require.NoError(t, st.SetActor(1, newActor(t, 1)))

	addr, err := address.NewActorAddress([]byte("reverted"))
	require.NoError(t, err)

	st.BeginTransaction()
	require.NoError(t, st.SetActor(1, newActor(t, 50)))
	require.NoError(t, st.SetActor(2, newActor(t, 2)))
	_, err = st.RegisterNewAddress(addr)
	require.NoError(t, err)
	require.NoError(t, st.EndTransaction(true))

	act, err := st.GetActor(1)
	require.NoError(t, err)
	require.True(t, act.Balance.Equals(abi.NewTokenAmount(1)))
	_, err = st.GetActor(2)
	require.ErrorIs(t, err, ErrActorNotFound)
	_, ok, err := st.LookupID(addr)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, abi.ActorID(100), st.NextID())
}

func TestNestedTransactions(t *testing.T) {
	st := NewStateTree(blockstore.NewMemory(), 100)
	require.NoError(t, st.SetActor(1, newActor(t, 1)))

	st.BeginTransaction()
	require.NoError(t, st.SetActor(2, newActor(t, 2)))

	st.BeginTransaction()
	require.NoError(t, st.SetActor(3, newActor(t, 3)))
	require.NoError(t, st.DeleteActor(1))
	require.NoError(t, st.EndTransaction(true))

	st.BeginTransaction()
	require.NoError(t, st.DeleteActor(1))
	require.NoError(t, st.EndTransaction(false))

	_, err := st.GetActor(1)
	require.ErrorIs(t, err, ErrActorNotFound)
	_, err = st.GetActor(3)
	require.ErrorIs(t, err, ErrActorNotFound)
	require.NoError(t, st.EndTransaction(false))

	require.False(t, st.InTransaction())
	_, err = st.GetActor(2)
	require.NoError(t, err)
	_, err = st.GetActor(1)
	require.ErrorIs(t, err, ErrActorNotFound)

	require.ErrorIs(t, st.EndTransaction(false), ErrNoTransaction)
}

func TestFlushAndLoad(t *testing.T) {
	bs := blockstore.NewMemory()
	st := NewStateTree(bs, 100)
	addr, err := address.NewActorAddress([]byte("flush"))
	require.NoError(t, err)

	id, err := st.RegisterNewAddress(addr)
	require.NoError(t, err)
	act := newActor(t, 77)
	act.Address = &addr
	act.Sequence = 4
	require.NoError(t, st.SetActor(id, act))
	require.NoError(t, st.SetActor(1, newActor(t, 1)))

	root, err := st.Flush()
	require.NoError(t, err)
	require.True(t, root.Defined())
	require.Equal(t, root, st.Root())

	// Flushing unchanged state is deterministic.
	again, err := st.Flush()
	require.NoError(t, err)
	require.Equal(t, root, again)

	loaded, err := LoadStateTree(bs, root)
	require.NoError(t, err)
	got, err := loaded.GetActor(id)
	require.NoError(t, err)
	require.True(t, act.Equal(got))
	lid, ok, err := loaded.LookupID(addr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, lid)
	require.Equal(t, abi.ActorID(101), loaded.NextID())

	require.NoError(t, loaded.SetActor(1, newActor(t, 2)))
	changed, err := loaded.Flush()
	require.NoError(t, err)
	require.NotEqual(t, root, changed)
}

func TestFlushWithOpenTransaction(t *testing.T) {
	st := NewStateTree(blockstore.NewMemory(), 100)
	st.BeginTransaction()
	_, err := st.Flush()
	require.ErrorIs(t, err, ErrTransactionOpen)
}

func TestForEachSkipsDeleted(t *testing.T) {
	st := NewStateTree(blockstore.NewMemory(), 100)
	require.NoError(t, st.SetActor(3, newActor(t, 3)))
	require.NoError(t, st.SetActor(1, newActor(t, 1)))
	st.BeginTransaction()
	require.NoError(t, st.DeleteActor(3))
	require.NoError(t, st.SetActor(2, newActor(t, 2)))

	var ids []abi.ActorID
	require.NoError(t, st.ForEach(func(id abi.ActorID, _ *Actor) error {
		ids = append(ids, id)
		return nil
	}))
	require.Equal(t, []abi.ActorID{1, 2}, ids)
}
