package native

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/crypto"
	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/filecoin-project/go-state-types/network"
	"github.com/ipfs/go-cid"
	"golang.org/x/xerrors"

	"github.com/fortiblox/actorvm/internal/types"
	"github.com/fortiblox/actorvm/pkg/blockstore"
	"github.com/fortiblox/actorvm/pkg/engine"
	"github.com/fortiblox/actorvm/pkg/kernel"
)

// ImportMilligas is burnt before every import call, mirroring the cost of
// a call instruction in bytecode.
const ImportMilligas = 20

// MaxCidLen is the buffer reserved for CIDs returned by imports.
const MaxCidLen = 100

// MaxAddressLen is the buffer reserved for addresses returned by imports.
const MaxAddressLen = 128

// ErrOutOfMemory is the trap raised when the bump allocator is exhausted.
var ErrOutOfMemory = errors.New("native runtime out of memory")

// SyscallError is a non-zero error number returned by an import.
type SyscallError struct {
	Import engine.ImportName
	Number kernel.ErrorNumber
}

func (e *SyscallError) Error() string {
	return fmt.Sprintf("%s: %s", e.Import, e.Number)
}

// IsErrorNumber reports whether err is a SyscallError with number n.
func IsErrorNumber(err error, n kernel.ErrorNumber) bool {
	var se *SyscallError
	return errors.As(err, &se) && se.Number == n
}

// Runtime is what a Go actor sees of its instance.
type Runtime struct {
	mem     []byte
	brk     int
	gas     *engine.GasRegister
	imports engine.Imports
}

// Burn charges milligas against the instance's gas register.
func (rt *Runtime) Burn(milligas int64) error {
	return rt.gas.Burn(milligas)
}

// Alloc reserves n bytes of zeroed memory, 8-byte aligned.
func (rt *Runtime) Alloc(n int) (uint32, error) {
	start := (rt.brk + 7) &^ 7
	if n < 0 || start+n > len(rt.mem) {
		return 0, xerrors.Errorf("%w: %d bytes", ErrOutOfMemory, n)
	}
	rt.brk = start + n
	clear(rt.mem[start:rt.brk])
	return uint32(start), nil
}

// Put copies b into freshly allocated memory.
func (rt *Runtime) Put(b []byte) (uint32, error) {
	off, err := rt.Alloc(len(b))
	if err != nil {
		return 0, err
	}
	copy(rt.mem[off:], b)
	return off, nil
}

// Bytes returns a view of memory.
func (rt *Runtime) Bytes(off uint32, n int) []byte {
	return rt.mem[off : int(off)+n]
}

// Call invokes an import and returns its raw result.
func (rt *Runtime) Call(module, name string, args ...uint64) (uint64, error) {
	if err := rt.Burn(ImportMilligas); err != nil {
		return 0, err
	}
	fn, ok := rt.imports.Lookup(module, name)
	if !ok {
		return 0, xerrors.Errorf("%w: %s.%s", engine.ErrUnknownImport, module, name)
	}
	return fn(args)
}

func (rt *Runtime) syscall(module, name string, args ...uint64) error {
	n, err := rt.Call(module, name, args...)
	if err != nil {
		return err
	}
	if n != 0 {
		return &SyscallError{
			Import: engine.ImportName{Module: module, Name: name},
			Number: kernel.ErrorNumber(n),
		}
	}
	return nil
}

// syscallRet calls an import whose first argument is a return record of
// size bytes and returns the record.
func (rt *Runtime) syscallRet(size int, module, name string, args ...uint64) ([]byte, error) {
	ret, err := rt.Alloc(size)
	if err != nil {
		return nil, err
	}
	if err := rt.syscall(module, name, append([]uint64{uint64(ret)}, args...)...); err != nil {
		return nil, err
	}
	return rt.Bytes(ret, size), nil
}

func (rt *Runtime) putCid(c cid.Cid) (uint64, uint64, error) {
	b := c.Bytes()
	off, err := rt.Put(b)
	return uint64(off), uint64(len(b)), err
}

func (rt *Runtime) putAddress(a address.Address) (uint64, uint64, error) {
	b := a.Bytes()
	off, err := rt.Put(b)
	return uint64(off), uint64(len(b)), err
}

// readCid calls an import that writes a CID into a caller buffer and
// returns its length as u32.
func (rt *Runtime) readCid(module, name string, args ...uint64) (cid.Cid, error) {
	buf, err := rt.Alloc(MaxCidLen)
	if err != nil {
		return cid.Undef, err
	}
	rec, err := rt.syscallRet(4, module, name, append(args, uint64(buf), MaxCidLen)...)
	if err != nil {
		return cid.Undef, err
	}
	n := binary.LittleEndian.Uint32(rec)
	_, c, err := cid.CidFromBytes(rt.Bytes(buf, int(n)))
	return c, err
}

// Log writes to the debug log. It is a no-op when debugging is disabled.
func (rt *Runtime) Log(msg string) error {
	off, err := rt.Put([]byte(msg))
	if err != nil {
		return err
	}
	return rt.syscall("debug", "log", uint64(off), uint64(len(msg)))
}

// Abort unwinds the invocation with code. It only returns the error the
// import trapped with, which the actor must propagate.
func (rt *Runtime) Abort(code exitcode.ExitCode, msg string) error {
	off, err := rt.Put([]byte(msg))
	if err != nil {
		return err
	}
	if err := rt.syscall("vm", "abort", uint64(code), uint64(off), uint64(len(msg))); err != nil {
		return err
	}
	return xerrors.Errorf("vm.abort returned")
}

// Abortf is Abort with formatting.
func (rt *Runtime) Abortf(code exitcode.ExitCode, format string, args ...any) error {
	return rt.Abort(code, fmt.Sprintf(format, args...))
}

// InvocationContext is the record returned by vm.context.
type InvocationContext struct {
	Epoch          abi.ChainEpoch
	Caller         abi.ActorID
	Origin         abi.ActorID
	Receiver       abi.ActorID
	Method         abi.MethodNum
	Value          abi.TokenAmount
	GasLimit       uint64
	NetworkVersion network.Version
	Nonce          uint64
}

// InvocationContextSize is the encoded size of an InvocationContext.
const InvocationContextSize = 80

// Context returns the invocation context.
func (rt *Runtime) Context() (InvocationContext, error) {
	rec, err := rt.syscallRet(InvocationContextSize, "vm", "context")
	if err != nil {
		return InvocationContext{}, err
	}
	u := func(i int) uint64 { return binary.LittleEndian.Uint64(rec[i*8:]) }
	return InvocationContext{
		Epoch:          abi.ChainEpoch(int64(u(0))),
		Caller:         abi.ActorID(u(1)),
		Origin:         abi.ActorID(u(2)),
		Receiver:       abi.ActorID(u(3)),
		Method:         abi.MethodNum(u(4)),
		Value:          types.TokenFromParts(u(5), u(6)),
		GasLimit:       u(7),
		NetworkVersion: network.Version(u(8)),
		Nonce:          u(9),
	}, nil
}

// BlockStat returns the codec and size of a block.
func (rt *Runtime) BlockStat(id uint32) (codec uint64, size uint32, err error) {
	rec, err := rt.syscallRet(16, "ipld", "block_stat", uint64(id))
	if err != nil {
		return 0, 0, err
	}
	return binary.LittleEndian.Uint64(rec), binary.LittleEndian.Uint32(rec[8:]), nil
}

// ReadBlock returns the codec and contents of a block.
func (rt *Runtime) ReadBlock(id uint32) (uint64, []byte, error) {
	codec, size, err := rt.BlockStat(id)
	if err != nil {
		return 0, nil, err
	}
	buf, err := rt.Alloc(int(size))
	if err != nil {
		return 0, nil, err
	}
	if _, err := rt.syscallRet(4, "ipld", "block_read", uint64(id), 0, uint64(buf), uint64(size)); err != nil {
		return 0, nil, err
	}
	return codec, append([]byte(nil), rt.Bytes(buf, int(size))...), nil
}

// CreateBlock registers a new block and returns its handle.
func (rt *Runtime) CreateBlock(codec uint64, data []byte) (uint32, error) {
	off, err := rt.Put(data)
	if err != nil {
		return 0, err
	}
	rec, err := rt.syscallRet(4, "ipld", "block_create", codec, uint64(off), uint64(len(data)))
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(rec), nil
}

// LinkBlock stores a block and returns its CID.
func (rt *Runtime) LinkBlock(id uint32) (cid.Cid, error) {
	return rt.readCid("ipld", "block_link", uint64(id), blockstore.DefaultHashFunction, 32)
}

// OpenBlock loads a block by CID and returns its handle.
func (rt *Runtime) OpenBlock(c cid.Cid) (uint32, error) {
	off, n, err := rt.putCid(c)
	if err != nil {
		return 0, err
	}
	rec, err := rt.syscallRet(16, "ipld", "block_open", off, n)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(rec[8:]), nil
}

// Root returns the actor's state root.
func (rt *Runtime) Root() (cid.Cid, error) {
	return rt.readCid("self", "root")
}

// SetRoot replaces the actor's state root.
func (rt *Runtime) SetRoot(c cid.Cid) error {
	off, n, err := rt.putCid(c)
	if err != nil {
		return err
	}
	return rt.syscall("self", "set_root", off, n)
}

// SaveState stores data as a DAG-CBOR block and makes it the state root.
func (rt *Runtime) SaveState(data []byte) error {
	id, err := rt.CreateBlock(cid.DagCBOR, data)
	if err != nil {
		return err
	}
	c, err := rt.LinkBlock(id)
	if err != nil {
		return err
	}
	return rt.SetRoot(c)
}

// LoadState returns the contents of the state root block.
func (rt *Runtime) LoadState() ([]byte, error) {
	root, err := rt.Root()
	if err != nil {
		return nil, err
	}
	id, err := rt.OpenBlock(root)
	if err != nil {
		return nil, err
	}
	_, data, err := rt.ReadBlock(id)
	return data, err
}

// CurrentBalance returns the actor's balance.
func (rt *Runtime) CurrentBalance() (abi.TokenAmount, error) {
	rec, err := rt.syscallRet(types.TokenAmountSize, "self", "current_balance")
	if err != nil {
		return abi.TokenAmount{}, err
	}
	return types.TokenAmountFrom(rec), nil
}

// ResolveAddress returns the ID of the actor at addr.
func (rt *Runtime) ResolveAddress(addr address.Address) (abi.ActorID, error) {
	off, n, err := rt.putAddress(addr)
	if err != nil {
		return 0, err
	}
	rec, err := rt.syscallRet(8, "actor", "resolve_address", off, n)
	if err != nil {
		return 0, err
	}
	return abi.ActorID(binary.LittleEndian.Uint64(rec)), nil
}

// NewActorAddress derives a robust address for an actor about to be
// created.
func (rt *Runtime) NewActorAddress() (address.Address, error) {
	buf, err := rt.Alloc(MaxAddressLen)
	if err != nil {
		return address.Undef, err
	}
	rec, err := rt.syscallRet(4, "actor", "new_actor_address", uint64(buf), MaxAddressLen)
	if err != nil {
		return address.Undef, err
	}
	return address.NewFromBytes(rt.Bytes(buf, int(binary.LittleEndian.Uint32(rec))))
}

// CreateActor creates an actor running code at addr.
func (rt *Runtime) CreateActor(code cid.Cid, addr address.Address) (abi.ActorID, error) {
	codeOff, codeLen, err := rt.putCid(code)
	if err != nil {
		return 0, err
	}
	addrOff, addrLen, err := rt.putAddress(addr)
	if err != nil {
		return 0, err
	}
	rec, err := rt.syscallRet(8, "actor", "create_actor", codeOff, codeLen, addrOff, addrLen)
	if err != nil {
		return 0, err
	}
	return abi.ActorID(binary.LittleEndian.Uint64(rec)), nil
}

// GetBuiltinActorType returns the builtin type of code, 0 if none.
func (rt *Runtime) GetBuiltinActorType(code cid.Cid) (int32, error) {
	off, n, err := rt.putCid(code)
	if err != nil {
		return 0, err
	}
	rec, err := rt.syscallRet(4, "actor", "get_builtin_actor_type", off, n)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(rec)), nil
}

// SendResult is the record returned by send.send.
type SendResult struct {
	ExitCode exitcode.ExitCode
	ReturnID uint32
	Codec    uint64
	Size     uint32
}

// Send sends a message. A zero gasLimit inherits the remaining gas.
func (rt *Runtime) Send(to address.Address, method abi.MethodNum, params uint32, value abi.TokenAmount, gasLimit uint64) (SendResult, error) {
	off, n, err := rt.putAddress(to)
	if err != nil {
		return SendResult{}, err
	}
	lo, hi, err := types.TokenToParts(value)
	if err != nil {
		return SendResult{}, err
	}
	rec, err := rt.syscallRet(24, "send", "send", off, n, uint64(method), uint64(params), hi, lo, gasLimit)
	if err != nil {
		return SendResult{}, err
	}
	return SendResult{
		ExitCode: exitcode.ExitCode(binary.LittleEndian.Uint32(rec)),
		ReturnID: binary.LittleEndian.Uint32(rec[4:]),
		Codec:    binary.LittleEndian.Uint64(rec[8:]),
		Size:     binary.LittleEndian.Uint32(rec[16:]),
	}, nil
}

// VerifySignature checks sig over data against signer.
func (rt *Runtime) VerifySignature(sigType crypto.SigType, sig []byte, signer address.Address, data []byte) (bool, error) {
	sigOff, err := rt.Put(sig)
	if err != nil {
		return false, err
	}
	addrOff, addrLen, err := rt.putAddress(signer)
	if err != nil {
		return false, err
	}
	dataOff, err := rt.Put(data)
	if err != nil {
		return false, err
	}
	rec, err := rt.syscallRet(4, "crypto", "verify_signature",
		uint64(sigType), uint64(sigOff), uint64(len(sig)), addrOff, addrLen, uint64(dataOff), uint64(len(data)))
	if err != nil {
		return false, err
	}
	return int32(binary.LittleEndian.Uint32(rec)) == 0, nil
}
