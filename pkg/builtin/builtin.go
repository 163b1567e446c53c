// Package builtin implements the singleton actors every state tree starts
// with, plus the account and init actors, as Go code run by the native
// engine.
package builtin

import (
	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/multiformats/go-multihash"
	"golang.org/x/xerrors"

	"github.com/fortiblox/actorvm/internal/cborutil"
	"github.com/fortiblox/actorvm/internal/types"
	"github.com/fortiblox/actorvm/pkg/blockstore"
	"github.com/fortiblox/actorvm/pkg/engine/native"
	"github.com/fortiblox/actorvm/pkg/machine"
	"github.com/fortiblox/actorvm/pkg/state"
)

var log = logging.Logger("builtin")

// Code CIDs of the builtin actors. They are identity-hashed names, so they
// never collide with stored bytecode.
var (
	SystemActorCodeID     = makeCode("system")
	InitActorCodeID       = makeCode("init")
	AccountActorCodeID    = makeCode("account")
	RewardActorCodeID     = makeCode("reward")
	BurntFundsActorCodeID = makeCode("burnt")
)

func makeCode(name string) cid.Cid {
	c, err := cid.NewPrefixV1(cid.Raw, multihash.IDENTITY).Sum([]byte("actorvm/" + name))
	if err != nil {
		panic(err)
	}
	return c
}

type entry struct {
	typ   int32
	code  cid.Cid
	actor native.Actor
}

func actors() []entry {
	return []entry{
		{types.ActorTypeSystem, SystemActorCodeID, stateless{name: "system"}},
		{types.ActorTypeInit, InitActorCodeID, initActor{}},
		{types.ActorTypeAccount, AccountActorCodeID, accountActor{}},
		{types.ActorTypeReward, RewardActorCodeID, stateless{name: "reward"}},
		{types.ActorTypeBurnt, BurntFundsActorCodeID, stateless{name: "burnt funds"}},
	}
}

// Install registers the builtin actors with the machine's engine and
// manifest.
func Install(m *machine.Machine) {
	ne := native.NewEngine(m.Config().MemorySize)
	for _, e := range actors() {
		ne.Register(e.code, e.actor)
		m.Engine().Register(e.code, ne)
		m.Manifest().Register(e.typ, e.code)
	}
}

// Genesis creates the singleton actors. The machine must have the builtin
// actors installed.
func Genesis(m *machine.Machine) error {
	if _, err := blockstore.PutBlock(m.Blockstore(), cid.DagCBOR, []byte{0x80}); err != nil {
		return xerrors.Errorf("store empty object: %w", err)
	}
	singletons := []struct {
		id   abi.ActorID
		code cid.Cid
	}{
		{types.SystemActorID, SystemActorCodeID},
		{types.InitActorID, InitActorCodeID},
		{types.RewardActorID, RewardActorCodeID},
		{types.BurntFundsActorID, BurntFundsActorCodeID},
	}
	for _, s := range singletons {
		act := &state.Actor{Code: s.code, Head: state.EmptyObjectCid, Balance: big.Zero()}
		if err := m.StateTree().SetActor(s.id, act); err != nil {
			return xerrors.Errorf("create singleton %d: %w", s.id, err)
		}
	}
	log.Infow("created genesis actors", "count", len(singletons))
	return nil
}

// CreateAccount creates an account actor for a key address outside of any
// message, for genesis allocations.
func CreateAccount(m *machine.Machine, addr address.Address, balance abi.TokenAmount) (abi.ActorID, error) {
	if !IsKeyAddress(addr) {
		return 0, xerrors.Errorf("account address %s is not a key address", addr)
	}
	head, err := putState(m.Blockstore(), &AccountState{Address: addr})
	if err != nil {
		return 0, err
	}
	id, err := m.StateTree().RegisterNewAddress(addr)
	if err != nil {
		return 0, err
	}
	act := &state.Actor{Code: AccountActorCodeID, Head: head, Balance: balance, Address: &addr}
	if err := m.StateTree().SetActor(id, act); err != nil {
		return 0, err
	}
	log.Debugw("created account", "id", id, "address", addr, "balance", balance)
	return id, nil
}

// IsKeyAddress reports whether addr is a public key address, the only
// kind that gets an account actor implicitly.
func IsKeyAddress(addr address.Address) bool {
	switch addr.Protocol() {
	case address.SECP256K1, address.BLS:
		return true
	}
	return false
}

func putState(bs blockstore.Blockstore, st *AccountState) (cid.Cid, error) {
	b, err := cborutil.Marshal(st)
	if err != nil {
		return cid.Undef, err
	}
	return blockstore.PutBlock(bs, cid.DagCBOR, b)
}
