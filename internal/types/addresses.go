package types

import (
	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/exitcode"
)

// Singleton actor IDs.
const (
	SystemActorID     = abi.ActorID(0)
	InitActorID       = abi.ActorID(1)
	RewardActorID     = abi.ActorID(2)
	BurntFundsActorID = abi.ActorID(99)

	// FirstNonSingletonActorID is the first ID handed out to created actors.
	FirstNonSingletonActorID = abi.ActorID(100)
)

// Well-known addresses.
var (
	SystemActorAddr     = mustIDAddress(SystemActorID)
	InitActorAddr       = mustIDAddress(InitActorID)
	RewardActorAddr     = mustIDAddress(RewardActorID)
	BurntFundsActorAddr = mustIDAddress(BurntFundsActorID)
)

// Builtin actor types, as reported by actor.get_builtin_actor_type.
// Zero means "not a builtin actor".
const (
	ActorTypeNone    = int32(0)
	ActorTypeSystem  = int32(1)
	ActorTypeInit    = int32(2)
	ActorTypeAccount = int32(3)
	ActorTypeReward  = int32(4)
	ActorTypeBurnt   = int32(5)
)

// Method numbers shared by builtin actors.
const (
	MethodSend        = abi.MethodNum(0)
	MethodConstructor = abi.MethodNum(1)
	MethodInitExec    = abi.MethodNum(2)
)

// Exit codes the VM raises that go-state-types does not name.
const (
	ExitIllegalInstruction = exitcode.ExitCode(4)
	ExitIllegalActor       = exitcode.ExitCode(9)
	ExitIllegalArgument    = exitcode.ExitCode(10)
	ExitMissingReturn      = exitcode.ExitCode(11)

	// FirstActorExitCode is the first code an actor may abort with.
	FirstActorExitCode = exitcode.ExitCode(16)
)

// IDAddress returns the ID address for an actor.
func IDAddress(id abi.ActorID) address.Address {
	return mustIDAddress(id)
}

func mustIDAddress(id abi.ActorID) address.Address {
	addr, err := address.NewIDAddress(uint64(id))
	if err != nil {
		panic(err)
	}
	return addr
}
