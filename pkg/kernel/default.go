package kernel

import (
	"encoding/binary"
	"errors"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/crypto"
	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/fortiblox/actorvm/internal/types"
	"github.com/fortiblox/actorvm/pkg/blockstore"
	"github.com/fortiblox/actorvm/pkg/gas"
	"github.com/fortiblox/actorvm/pkg/machine"
	"github.com/fortiblox/actorvm/pkg/state"
)

var log = logging.Logger("kernel")

// InvocationResult is the outcome of a send as seen by the call manager.
type InvocationResult struct {
	ExitCode exitcode.ExitCode
	Return   *Block
}

// CallManager is the part of the call manager a kernel needs.
type CallManager interface {
	Machine() *machine.Machine
	GasTracker() *gas.Tracker

	// GasLimit is the gas limit of the top-level message.
	GasLimit() gas.Gas
	Origin() abi.ActorID
	Nonce() uint64

	// NextActorAddress derives a fresh robust address for a new actor.
	NextActorAddress() (address.Address, error)

	// CreateActor charges for and stores a new actor record.
	CreateActor(code cid.Cid, id abi.ActorID, robust *address.Address) error

	Send(from abi.ActorID, to address.Address, method abi.MethodNum, params *Block, value abi.TokenAmount, gasLimit *gas.Gas) (*InvocationResult, error)
}

// DefaultKernel is the kernel of one actor invocation.
type DefaultKernel struct {
	cm       CallManager
	blocks   *BlockRegistry
	caller   abi.ActorID
	receiver abi.ActorID
	method   abi.MethodNum
	value    abi.TokenAmount

	validating bool
}

// NewDefaultKernel creates the kernel for an invocation of receiver by
// caller.
func NewDefaultKernel(cm CallManager, blocks *BlockRegistry, caller, receiver abi.ActorID, method abi.MethodNum, value abi.TokenAmount) *DefaultKernel {
	return &DefaultKernel{
		cm:       cm,
		blocks:   blocks,
		caller:   caller,
		receiver: receiver,
		method:   method,
		value:    value,
	}
}

// NewValidateKernel creates the kernel for the validate entrypoint of id.
// It never reports a self call, so gated imports are refused.
func NewValidateKernel(cm CallManager, blocks *BlockRegistry, id abi.ActorID) *DefaultKernel {
	k := NewDefaultKernel(cm, blocks, id, id, 0, big.Zero())
	k.validating = true
	return k
}

// Block returns a block by handle.
func (k *DefaultKernel) Block(id BlockID) (*Block, error) {
	return k.blocks.Get(id)
}

// Blocks returns the invocation's block registry.
func (k *DefaultKernel) Blocks() *BlockRegistry {
	return k.blocks
}

// Receiver returns the executing actor.
func (k *DefaultKernel) Receiver() abi.ActorID {
	return k.receiver
}

func (k *DefaultKernel) charge(c gas.Charge) error {
	return k.cm.GasTracker().Apply(c)
}

func (k *DefaultKernel) machine() *machine.Machine {
	return k.cm.Machine()
}

func (k *DefaultKernel) tree() *state.StateTree {
	return k.cm.Machine().StateTree()
}

func (k *DefaultKernel) self() (*state.Actor, error) {
	act, err := k.tree().GetActor(k.receiver)
	if errors.Is(err, state.ErrActorNotFound) {
		return nil, Syscallf(IllegalOperation, "actor %d has been deleted", k.receiver)
	}
	if err != nil {
		return nil, Fatalf("load actor %d: %w", k.receiver, err)
	}
	return act, nil
}

// GasUsed implements GasOps.
func (k *DefaultKernel) GasUsed() gas.Gas {
	return k.cm.GasTracker().GasUsed()
}

// GasAvailable implements GasOps.
func (k *DefaultKernel) GasAvailable() gas.Gas {
	return k.cm.GasTracker().GasAvailable()
}

// ChargeGas implements GasOps.
func (k *DefaultKernel) ChargeGas(name string, amount gas.Gas) error {
	return k.cm.GasTracker().ChargeGas(name, amount)
}

// Pricelist implements GasOps.
func (k *DefaultKernel) Pricelist() *gas.Pricelist {
	return k.machine().Pricelist()
}

// DebugEnabled implements DebugOps.
func (k *DefaultKernel) DebugEnabled() bool {
	return k.machine().Config().Debug
}

// Log implements DebugOps.
func (k *DefaultKernel) Log(msg string) {
	if !k.DebugEnabled() {
		return
	}
	log.Infow("actor log", "actor", k.receiver, "msg", msg)
}

// StoreArtifact implements DebugOps.
func (k *DefaultKernel) StoreArtifact(name string, data []byte) error {
	if err := k.machine().StoreArtifact(k.receiver, name, data); err != nil {
		return Syscallf(IllegalArgument, "%v", err)
	}
	return nil
}

// GetRandomnessFromTickets implements RandomnessOps.
func (k *DefaultKernel) GetRandomnessFromTickets(tag crypto.DomainSeparationTag, round abi.ChainEpoch, entropy []byte) ([32]byte, error) {
	return k.randomness(tag, round, entropy, k.machine().Externs().Randomness.GetChainRandomness)
}

// GetRandomnessFromBeacon implements RandomnessOps.
func (k *DefaultKernel) GetRandomnessFromBeacon(tag crypto.DomainSeparationTag, round abi.ChainEpoch, entropy []byte) ([32]byte, error) {
	return k.randomness(tag, round, entropy, k.machine().Externs().Randomness.GetBeaconRandomness)
}

func (k *DefaultKernel) randomness(tag crypto.DomainSeparationTag, round abi.ChainEpoch, entropy []byte, source func(abi.ChainEpoch) ([32]byte, error)) ([32]byte, error) {
	var out [32]byte
	if err := k.charge(k.Pricelist().OnGetRandomness(len(entropy))); err != nil {
		return out, err
	}
	if round > k.machine().Context().Epoch {
		return out, Syscallf(IllegalArgument, "randomness requested for future round %d", round)
	}
	base, err := source(round)
	if err != nil {
		return out, Fatalf("randomness extern: %w", err)
	}
	return DrawRandomness(base, tag, round, entropy), nil
}

// DrawRandomness mixes a domain separation tag, round and entropy into
// base randomness.
func DrawRandomness(base [32]byte, tag crypto.DomainSeparationTag, round abi.ChainEpoch, entropy []byte) [32]byte {
	h, _ := blake2b.New256(nil)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(tag))
	h.Write(buf[:])
	h.Write(base[:])
	binary.BigEndian.PutUint64(buf[:], uint64(round))
	h.Write(buf[:])
	h.Write(entropy)

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Send implements SendOps.
func (k *DefaultKernel) Send(recipient address.Address, method abi.MethodNum, params BlockID, value abi.TokenAmount, gasLimit *gas.Gas) (SendResult, error) {
	var block *Block
	if params != NoBlock {
		b, err := k.blocks.Get(params)
		if err != nil {
			return SendResult{}, err
		}
		block = b
	}
	if value.Sign() < 0 {
		return SendResult{}, Syscallf(IllegalArgument, "negative value %s", value)
	}

	res, err := k.cm.Send(k.receiver, recipient, method, block, value, gasLimit)
	if err != nil {
		return SendResult{}, err
	}

	out := SendResult{ExitCode: res.ExitCode}
	if res.Return != nil {
		id, err := k.blocks.Put(res.Return)
		if err != nil {
			return SendResult{}, err
		}
		out.ReturnID = id
		out.Return = res.Return.Stat()
	}
	return out, nil
}

// BlockOpen implements IpldBlockOps.
func (k *DefaultKernel) BlockOpen(c cid.Cid) (BlockID, BlockStat, error) {
	codec := c.Prefix().Codec
	if !CodecAllowed(codec) {
		return NoBlock, BlockStat{}, Syscallf(IllegalCodec, "codec 0x%x not allowed", codec)
	}
	data, err := k.machine().Blockstore().Get(c)
	if errors.Is(err, blockstore.ErrNotFound) {
		return NoBlock, BlockStat{}, Syscallf(NotFound, "block %s not found", c)
	}
	if err != nil {
		return NoBlock, BlockStat{}, Fatalf("open block %s: %w", c, err)
	}
	if err := k.charge(k.Pricelist().OnBlockOpen(len(data))); err != nil {
		return NoBlock, BlockStat{}, err
	}
	b := &Block{Codec: codec, Data: data}
	id, err := k.blocks.Put(b)
	if err != nil {
		return NoBlock, BlockStat{}, err
	}
	return id, b.Stat(), nil
}

// BlockCreate implements IpldBlockOps.
func (k *DefaultKernel) BlockCreate(codec uint64, data []byte) (BlockID, error) {
	if !CodecAllowed(codec) {
		return NoBlock, Syscallf(IllegalCodec, "codec 0x%x not allowed", codec)
	}
	if len(data) > k.machine().Config().MaxBlockSize {
		return NoBlock, Syscallf(LimitExceeded, "block of %d bytes too large", len(data))
	}
	if err := k.charge(k.Pricelist().OnBlockCreate(len(data))); err != nil {
		return NoBlock, err
	}
	return k.blocks.Put(NewBlock(codec, data))
}

// BlockLink implements IpldBlockOps.
func (k *DefaultKernel) BlockLink(id BlockID, hashFun uint64, hashLen uint32) (cid.Cid, error) {
	if hashFun != blockstore.DefaultHashFunction || hashLen != 32 {
		return cid.Undef, Syscallf(IllegalCid, "unsupported hash 0x%x/%d", hashFun, hashLen)
	}
	b, err := k.blocks.Get(id)
	if err != nil {
		return cid.Undef, err
	}
	if err := k.charge(k.Pricelist().OnBlockLink(len(b.Data))); err != nil {
		return cid.Undef, err
	}
	c, err := blockstore.PutBlock(k.machine().Blockstore(), b.Codec, b.Data)
	if err != nil {
		return cid.Undef, Fatalf("link block: %w", err)
	}
	return c, nil
}

// BlockRead implements IpldBlockOps. It returns the number of bytes left
// in the block past offset minus the length of buf.
func (k *DefaultKernel) BlockRead(id BlockID, offset uint32, buf []byte) (int32, error) {
	b, err := k.blocks.Get(id)
	if err != nil {
		return 0, err
	}
	if offset > b.Size() {
		return 0, Syscallf(IllegalArgument, "offset %d past end of block (%d)", offset, b.Size())
	}
	remaining := b.Data[offset:]
	n := len(buf)
	if len(remaining) < n {
		n = len(remaining)
	}
	if err := k.charge(k.Pricelist().OnBlockRead(n)); err != nil {
		return 0, err
	}
	copy(buf, remaining)
	return int32(len(remaining)) - int32(len(buf)), nil
}

// BlockStat implements IpldBlockOps.
func (k *DefaultKernel) BlockStat(id BlockID) (BlockStat, error) {
	if err := k.charge(k.Pricelist().OnBlockStat()); err != nil {
		return BlockStat{}, err
	}
	return k.blocks.Stat(id)
}

// Root implements SelfOps.
func (k *DefaultKernel) Root() (cid.Cid, error) {
	act, err := k.self()
	if err != nil {
		return cid.Undef, err
	}
	return act.Head, nil
}

// SetRoot implements SelfOps.
func (k *DefaultKernel) SetRoot(c cid.Cid) error {
	act, err := k.self()
	if err != nil {
		return err
	}
	ok, err := k.machine().Blockstore().Has(c)
	if err != nil {
		return Fatalf("check root %s: %w", c, err)
	}
	if !ok {
		return Syscallf(NotFound, "new root %s not linked", c)
	}
	act.Head = c
	if err := k.tree().SetActor(k.receiver, act); err != nil {
		return Fatalf("set root: %w", err)
	}
	return nil
}

// CurrentBalance implements SelfOps.
func (k *DefaultKernel) CurrentBalance() (abi.TokenAmount, error) {
	act, err := k.self()
	if err != nil {
		return big.Zero(), err
	}
	return act.Balance, nil
}

// SelfDestruct implements SelfOps. Remaining funds are burnt when
// burnUnspent is set; otherwise a non-zero balance is an error.
func (k *DefaultKernel) SelfDestruct(burnUnspent bool) error {
	act, err := k.self()
	if err != nil {
		return err
	}
	if !act.Balance.IsZero() {
		if !burnUnspent {
			return Syscallf(IllegalOperation, "self-destruct with unspent funds %s", act.Balance)
		}
		burnt, err := k.tree().GetActor(types.BurntFundsActorID)
		if err != nil {
			return Fatalf("load burnt funds actor: %w", err)
		}
		burnt.Balance = big.Add(burnt.Balance, act.Balance)
		if err := k.tree().SetActor(types.BurntFundsActorID, burnt); err != nil {
			return Fatalf("burn funds: %w", err)
		}
	}
	if err := k.tree().DeleteActor(k.receiver); err != nil {
		return Fatalf("delete actor %d: %w", k.receiver, err)
	}
	return nil
}

// ResolveAddress implements ActorOps.
func (k *DefaultKernel) ResolveAddress(addr address.Address) (abi.ActorID, error) {
	if err := k.charge(k.Pricelist().OnResolveAddress()); err != nil {
		return 0, err
	}
	id, ok, err := k.tree().LookupID(addr)
	if err != nil {
		return 0, Syscallf(IllegalArgument, "%v", err)
	}
	if !ok {
		return 0, Syscallf(NotFound, "address %s not found", addr)
	}
	return id, nil
}

// GetActorCodeCid implements ActorOps.
func (k *DefaultKernel) GetActorCodeCid(id abi.ActorID) (cid.Cid, error) {
	if err := k.charge(k.Pricelist().OnActorLookup()); err != nil {
		return cid.Undef, err
	}
	act, err := k.tree().GetActor(id)
	if errors.Is(err, state.ErrActorNotFound) {
		return cid.Undef, Syscallf(NotFound, "actor %d not found", id)
	}
	if err != nil {
		return cid.Undef, Fatalf("load actor %d: %w", id, err)
	}
	return act.Code, nil
}

// NextActorAddress implements ActorOps.
func (k *DefaultKernel) NextActorAddress() (address.Address, error) {
	return k.cm.NextActorAddress()
}

// CreateActor implements ActorOps. Only the init actor may create actors.
func (k *DefaultKernel) CreateActor(code cid.Cid, addr address.Address) (abi.ActorID, error) {
	if k.receiver != types.InitActorID {
		return 0, Syscallf(Forbidden, "actor %d may not create actors", k.receiver)
	}
	if addr.Protocol() == address.ID {
		return 0, Syscallf(IllegalArgument, "cannot create actor at id address %s", addr)
	}
	switch k.machine().Manifest().TypeOf(code) {
	case types.ActorTypeSystem, types.ActorTypeInit:
		return 0, Syscallf(Forbidden, "cannot create singleton actor %s", code)
	}
	if err := k.machine().Engine().Preload(code); err != nil {
		return 0, Syscallf(IllegalArgument, "unknown actor code %s: %v", code, err)
	}

	id, err := k.tree().RegisterNewAddress(addr)
	if errors.Is(err, state.ErrAddressExists) {
		return 0, Syscallf(Forbidden, "actor already exists at %s", addr)
	}
	if err != nil {
		return 0, Fatalf("register address: %w", err)
	}
	if err := k.cm.CreateActor(code, id, &addr); err != nil {
		return 0, err
	}
	return id, nil
}

// GetBuiltinActorType implements ActorOps.
func (k *DefaultKernel) GetBuiltinActorType(code cid.Cid) int32 {
	return k.machine().Manifest().TypeOf(code)
}

// GetCodeCidForType implements ActorOps.
func (k *DefaultKernel) GetCodeCidForType(typ int32) (cid.Cid, error) {
	c, ok := k.machine().Manifest().CodeFor(typ)
	if !ok {
		return cid.Undef, Syscallf(IllegalArgument, "no builtin actor of type %d", typ)
	}
	return c, nil
}

// InstallActor implements ActorOps.
func (k *DefaultKernel) InstallActor(code cid.Cid) error {
	if !k.machine().Config().EnableActorInstall {
		return Syscallf(Forbidden, "actor installation disabled")
	}
	data, err := k.machine().Blockstore().Get(code)
	if errors.Is(err, blockstore.ErrNotFound) {
		return Syscallf(NotFound, "actor code %s not found", code)
	}
	if err != nil {
		return Fatalf("load actor code %s: %w", code, err)
	}
	if err := k.charge(k.Pricelist().OnInstallActor(len(data))); err != nil {
		return err
	}
	if err := k.machine().Engine().Preload(code); err != nil {
		return Syscallf(IllegalArgument, "invalid actor code %s: %v", code, err)
	}
	log.Infow("installed actor code", "code", code, "size", len(data))
	return nil
}

// BaseFee implements NetworkOps.
func (k *DefaultKernel) BaseFee() abi.TokenAmount {
	return k.machine().Context().BaseFee
}

// TotalFilCircSupply implements NetworkOps.
func (k *DefaultKernel) TotalFilCircSupply() (abi.TokenAmount, error) {
	return k.machine().Context().CircSupply, nil
}

// MsgContext implements MessageOps.
func (k *DefaultKernel) MsgContext() MessageContext {
	ctx := k.machine().Context()
	return MessageContext{
		Epoch:          ctx.Epoch,
		Caller:         k.caller,
		Origin:         k.cm.Origin(),
		Receiver:       k.receiver,
		Method:         k.method,
		Value:          k.value,
		GasLimit:       k.cm.GasLimit(),
		NetworkVersion: ctx.NetworkVersion,
		Nonce:          k.cm.Nonce(),
	}
}

// IsSelfCall implements ValidateOps.
func (k *DefaultKernel) IsSelfCall() bool {
	return !k.validating && k.caller == k.receiver
}

var _ ValidateKernel = (*DefaultKernel)(nil)
