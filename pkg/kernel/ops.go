// Package kernel implements the host side of actor execution.
//
// Capabilities are split into narrow interfaces so that syscall handlers
// depend only on what they use and restricted surfaces can be assembled
// from a subset. DefaultKernel implements all of them for one invocation.
package kernel

import (
	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/crypto"
	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/filecoin-project/go-state-types/network"
	"github.com/ipfs/go-cid"

	"github.com/fortiblox/actorvm/internal/types"
	"github.com/fortiblox/actorvm/pkg/gas"
)

// GasOps charges and reports gas.
type GasOps interface {
	GasUsed() gas.Gas
	GasAvailable() gas.Gas
	ChargeGas(name string, amount gas.Gas) error
	Pricelist() *gas.Pricelist
}

// DebugOps exposes debugging facilities.
type DebugOps interface {
	DebugEnabled() bool
	Log(msg string)
	StoreArtifact(name string, data []byte) error
}

// RandomnessOps draws randomness.
type RandomnessOps interface {
	GetRandomnessFromTickets(tag crypto.DomainSeparationTag, round abi.ChainEpoch, entropy []byte) ([32]byte, error)
	GetRandomnessFromBeacon(tag crypto.DomainSeparationTag, round abi.ChainEpoch, entropy []byte) ([32]byte, error)
}

// SendResult is the outcome of a send as seen by the calling actor.
type SendResult struct {
	ExitCode exitcode.ExitCode
	ReturnID BlockID
	Return   BlockStat
}

// SendOps sends messages to other actors. gasLimit nil means the callee
// inherits all remaining gas.
type SendOps interface {
	Send(recipient address.Address, method abi.MethodNum, params BlockID, value abi.TokenAmount, gasLimit *gas.Gas) (SendResult, error)
}

// IpldBlockOps reads and writes IPLD blocks through handles.
type IpldBlockOps interface {
	BlockOpen(c cid.Cid) (BlockID, BlockStat, error)
	BlockCreate(codec uint64, data []byte) (BlockID, error)
	BlockLink(id BlockID, hashFun uint64, hashLen uint32) (cid.Cid, error)
	BlockRead(id BlockID, offset uint32, buf []byte) (int32, error)
	BlockStat(id BlockID) (BlockStat, error)
}

// SelfOps operates on the executing actor.
type SelfOps interface {
	Root() (cid.Cid, error)
	SetRoot(c cid.Cid) error
	CurrentBalance() (abi.TokenAmount, error)
	SelfDestruct(burnUnspent bool) error
}

// ActorOps resolves and creates actors.
type ActorOps interface {
	ResolveAddress(addr address.Address) (abi.ActorID, error)
	GetActorCodeCid(id abi.ActorID) (cid.Cid, error)
	NextActorAddress() (address.Address, error)
	CreateActor(code cid.Cid, addr address.Address) (abi.ActorID, error)
	GetBuiltinActorType(code cid.Cid) int32
	GetCodeCidForType(typ int32) (cid.Cid, error)
	InstallActor(code cid.Cid) error
}

// CryptoOps verifies signatures and proofs and computes hashes.
type CryptoOps interface {
	VerifySignature(sigType crypto.SigType, sig []byte, signer address.Address, plaintext []byte) (bool, error)
	RecoverSecpPublicKey(hash [32]byte, sig [SecpSignatureLength]byte) ([SecpPublicKeyLength]byte, error)
	Hash(code uint64, data []byte) ([]byte, error)
	VerifySeal(info []byte) (bool, error)
	VerifyPost(info []byte) (bool, error)
	VerifyAggregateSeals(info []byte) (bool, error)
	VerifyReplicaUpdate(info []byte) (bool, error)
	ComputeUnsealedSectorCid(proofType abi.RegisteredSealProof, pieces []byte) (cid.Cid, error)
	VerifyConsensusFault(h1, h2, extra []byte) (*types.ConsensusFault, error)
	BatchVerifySeals(batch [][]byte) ([]bool, error)
}

// NetworkOps reports network-wide values.
type NetworkOps interface {
	BaseFee() abi.TokenAmount
	TotalFilCircSupply() (abi.TokenAmount, error)
}

// MessageContext describes the current invocation.
type MessageContext struct {
	Epoch          abi.ChainEpoch
	Caller         abi.ActorID
	Origin         abi.ActorID
	Receiver       abi.ActorID
	Method         abi.MethodNum
	Value          abi.TokenAmount
	GasLimit       gas.Gas
	NetworkVersion network.Version
	Nonce          uint64
}

// MessageOps exposes the invocation context.
type MessageOps interface {
	MsgContext() MessageContext
}

// ValidateOps is used by the restricted validation surface.
type ValidateOps interface {
	// IsSelfCall reports whether the frame was entered by a send from the
	// receiver to itself. Validation frames are not.
	IsSelfCall() bool
}

// Kernel is the full capability set of a message invocation.
type Kernel interface {
	ActorOps
	CryptoOps
	DebugOps
	GasOps
	IpldBlockOps
	MessageOps
	NetworkOps
	RandomnessOps
	SelfOps
	SendOps
}

// ValidateKernel is a Kernel usable behind the restricted surface.
type ValidateKernel interface {
	Kernel
	ValidateOps
}
