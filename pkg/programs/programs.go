// Package programs assembles small bytecode actors used by the command
// line and by end-to-end tests.
package programs

import (
	"encoding/binary"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/ipfs/go-cid"
	"golang.org/x/xerrors"

	"github.com/fortiblox/actorvm/pkg/blockstore"
	"github.com/fortiblox/actorvm/pkg/engine"
	"github.com/fortiblox/actorvm/pkg/engine/sbpf"
	"github.com/fortiblox/actorvm/pkg/machine"
	"github.com/fortiblox/actorvm/pkg/state"
	"github.com/fortiblox/actorvm/pkg/syscalls"
)

// Exit codes the programs abort with.
const (
	ExitSendFailed = 17
	ExitAborted    = 18
)

const cidBufferSize = 100

var (
	imm = sbpf.Imm
	reg = sbpf.Reg
)

// Forwarder sends value (in attoFIL, below 2^64) to to with method on
// every invocation. It aborts with ExitSendFailed if the send fails or
// the callee exits with a non-zero code.
func Forwarder(to address.Address, method abi.MethodNum, value uint64) *sbpf.Module {
	b := sbpf.NewBuilder()
	ret := b.Data(make([]byte, syscalls.SendRecordSize))
	toBytes := to.Bytes()
	toOff := b.Data(toBytes)

	b.Entrypoint(engine.EntrypointInvoke).
		HostCall("send", "send",
			imm(ret), imm(toOff), imm(uint64(len(toBytes))),
			imm(uint64(method)), imm(0), imm(0), imm(value), imm(0)).
		JumpIf(sbpf.JmpJne, sbpf.R0, 0, "fail").
		Lddw(sbpf.R7, ret).
		Load(sbpf.SizeW, sbpf.R6, sbpf.R7, 0).
		JumpIf(sbpf.JmpJne, sbpf.R6, 0, "fail").
		Mov(sbpf.R0, 0).
		Exit().
		Label("fail")
	abort(b, ExitSendFailed)
	return b.MustBuild()
}

// StateWriter stores data as its new state root on every invocation.
// With a non-zero abortCode it aborts after writing, so the write must be
// rolled back.
func StateWriter(data []byte, abortCode uint64) *sbpf.Module {
	b := sbpf.NewBuilder()
	ret := b.Data(make([]byte, 8))
	dataOff := b.Data(data)
	cidOff := b.Data(make([]byte, cidBufferSize))

	b.Entrypoint(engine.EntrypointInvoke).
		HostCall("ipld", "block_create", imm(ret), imm(cid.DagCBOR), imm(dataOff), imm(uint64(len(data)))).
		JumpIf(sbpf.JmpJne, sbpf.R0, 0, "fail").
		Lddw(sbpf.R7, ret).
		Load(sbpf.SizeW, sbpf.R6, sbpf.R7, 0).
		HostCall("ipld", "block_link", imm(ret), reg(sbpf.R6), imm(blockstore.DefaultHashFunction), imm(32), imm(cidOff), imm(cidBufferSize)).
		JumpIf(sbpf.JmpJne, sbpf.R0, 0, "fail").
		Lddw(sbpf.R7, ret).
		Load(sbpf.SizeW, sbpf.R8, sbpf.R7, 0).
		HostCall("self", "set_root", imm(cidOff), reg(sbpf.R8)).
		JumpIf(sbpf.JmpJne, sbpf.R0, 0, "fail")
	if abortCode != 0 {
		abort(b, abortCode)
	}
	b.Mov(sbpf.R0, 0).
		Exit().
		Label("fail")
	abort(b, ExitAborted)
	return b.MustBuild()
}

// Validator exports a validate entrypoint that returns ret, which should
// be an encoded gas spec, and an invoke entrypoint that does nothing.
// With a non-zero abortCode validation aborts instead.
func Validator(ret []byte, abortCode uint64) *sbpf.Module {
	b := sbpf.NewBuilder()
	rec := b.Data(make([]byte, 8))
	retOff := b.Data(ret)

	b.Entrypoint(engine.EntrypointInvoke).
		Mov(sbpf.R0, 0).
		Exit()

	b.Entrypoint(engine.EntrypointValidate)
	if abortCode != 0 {
		abort(b, abortCode)
		return b.MustBuild()
	}
	b.HostCall("ipld", "block_create", imm(rec), imm(cid.DagCBOR), imm(retOff), imm(uint64(len(ret)))).
		JumpIf(sbpf.JmpJne, sbpf.R0, 0, "fail").
		Lddw(sbpf.R7, rec).
		Load(sbpf.SizeW, sbpf.R0, sbpf.R7, 0).
		Exit().
		Label("fail")
	abort(b, ExitAborted)
	return b.MustBuild()
}

// Spinner loops until it runs out of gas.
func Spinner() *sbpf.Module {
	b := sbpf.NewBuilder()
	b.Entrypoint(engine.EntrypointInvoke).
		Label("loop").
		Alu(sbpf.AluAdd, sbpf.R6, 1).
		Jump("loop")
	return b.MustBuild()
}

func abort(b *sbpf.Builder, code uint64) {
	b.HostCall("vm", "abort", imm(code), imm(0), imm(0)).
		Exit()
}

// Install stores m in bs and returns its code CID.
func Install(bs blockstore.Blockstore, m *sbpf.Module) (cid.Cid, error) {
	return blockstore.PutBlock(bs, cid.Raw, m.Encode())
}

// Deploy installs mod and creates an actor running it outside of any
// message. The actor gets a robust address derived from its code and ID.
func Deploy(m *machine.Machine, mod *sbpf.Module, balance abi.TokenAmount) (abi.ActorID, address.Address, error) {
	code, err := Install(m.Blockstore(), mod)
	if err != nil {
		return 0, address.Undef, xerrors.Errorf("install code: %w", err)
	}
	tree := m.StateTree()
	seed := binary.BigEndian.AppendUint64(code.Bytes(), uint64(tree.NextID()))
	addr, err := address.NewActorAddress(seed)
	if err != nil {
		return 0, address.Undef, err
	}
	id, err := tree.RegisterNewAddress(addr)
	if err != nil {
		return 0, address.Undef, err
	}
	act := &state.Actor{Code: code, Head: state.EmptyObjectCid, Balance: balance, Address: &addr}
	if err := tree.SetActor(id, act); err != nil {
		return 0, address.Undef, err
	}
	return id, addr, nil
}
