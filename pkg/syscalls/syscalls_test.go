package syscalls

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/crypto"
	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"
	cbg "github.com/whyrusleeping/cbor-gen"

	"github.com/fortiblox/actorvm/internal/cborutil"
	"github.com/fortiblox/actorvm/internal/types"
	"github.com/fortiblox/actorvm/pkg/engine"
	"github.com/fortiblox/actorvm/pkg/gas"
	"github.com/fortiblox/actorvm/pkg/kernel"
)

// fakeKernel implements the capabilities the tests exercise. Calling any
// other method panics on the nil embedded interface.
type fakeKernel struct {
	kernel.ValidateKernel

	tracker   *gas.Tracker
	debug     bool
	logs      []string
	rand      [32]byte
	randErr   error
	selfCall  bool
	extraSeal bool
	roots     []cid.Cid
	sends     []address.Address
	balance   abi.TokenAmount
	fail      error
}

func newFakeKernel(limit gas.Gas) *fakeKernel {
	k := &fakeKernel{tracker: gas.NewTracker(limit, false), balance: big.Zero()}
	for i := range k.rand {
		k.rand[i] = byte(i + 1)
	}
	return k
}

func (k *fakeKernel) GasUsed() gas.Gas { return k.tracker.GasUsed() }

func (k *fakeKernel) GasAvailable() gas.Gas { return k.tracker.GasAvailable() }

func (k *fakeKernel) ChargeGas(name string, amount gas.Gas) error {
	return k.tracker.ChargeGas(name, amount)
}

func (k *fakeKernel) Pricelist() *gas.Pricelist { return gas.DefaultPricelist() }

func (k *fakeKernel) DebugEnabled() bool { return k.debug }

func (k *fakeKernel) Log(msg string) { k.logs = append(k.logs, msg) }

func (k *fakeKernel) GetRandomnessFromTickets(tag crypto.DomainSeparationTag, round abi.ChainEpoch, entropy []byte) ([32]byte, error) {
	if k.randErr != nil {
		return [32]byte{}, k.randErr
	}
	return k.rand, nil
}

func (k *fakeKernel) GetRandomnessFromBeacon(tag crypto.DomainSeparationTag, round abi.ChainEpoch, entropy []byte) ([32]byte, error) {
	return k.GetRandomnessFromTickets(tag, round, entropy)
}

func (k *fakeKernel) IsSelfCall() bool { return k.selfCall }

func (k *fakeKernel) SetRoot(c cid.Cid) error {
	if k.fail != nil {
		return k.fail
	}
	k.roots = append(k.roots, c)
	return nil
}

func (k *fakeKernel) CurrentBalance() (abi.TokenAmount, error) { return k.balance, nil }

func (k *fakeKernel) Send(to address.Address, method abi.MethodNum, params kernel.BlockID, value abi.TokenAmount, gasLimit *gas.Gas) (kernel.SendResult, error) {
	k.sends = append(k.sends, to)
	return kernel.SendResult{ExitCode: 17, ReturnID: 3, Return: kernel.BlockStat{Codec: cid.Raw, Size: 5}}, nil
}

func (k *fakeKernel) MsgContext() kernel.MessageContext {
	return kernel.MessageContext{
		Epoch:          10,
		Caller:         100,
		Origin:         101,
		Receiver:       102,
		Method:         3,
		Value:          abi.NewTokenAmount(7),
		GasLimit:       gas.NewGas(5_000),
		NetworkVersion: 21,
		Nonce:          4,
	}
}

func (k *fakeKernel) Hash(code uint64, data []byte) ([]byte, error) {
	return kernel.HashData(code, data)
}

func (k *fakeKernel) BatchVerifySeals(batch [][]byte) ([]bool, error) {
	out := make([]bool, len(batch))
	for i, b := range batch {
		out[i] = len(b) > 0
	}
	if k.extraSeal {
		out = append(out, true)
	}
	return out, nil
}

const memSize = 512

type harness struct {
	k       *fakeKernel
	data    *InvocationData[*fakeKernel]
	mem     []byte
	imports engine.Imports
}

func newHarness(t *testing.T, bind func(*InvocationData[*fakeKernel]) engine.Imports) *harness {
	t.Helper()
	k := newFakeKernel(gas.NewGas(1_000_000))
	data := NewInvocationData(k)
	mem := make([]byte, memSize)
	data.Memory = engine.SliceMemory(mem)
	data.GasGlobal = &engine.GasRegister{}
	data.UpdateGasAvailable()
	return &harness{k: k, data: data, mem: mem, imports: bind(data)}
}

func invokeSurface(data *InvocationData[*fakeKernel]) engine.Imports {
	return BindInvoke(data, Options{})
}

func validateSurface(data *InvocationData[*fakeKernel]) engine.Imports {
	return BindValidate(data, Options{})
}

func (h *harness) call(t *testing.T, module, name string, args ...uint64) (uint64, error) {
	t.Helper()
	fn, ok := h.imports.Lookup(module, name)
	require.True(t, ok, "%s.%s not bound", module, name)
	return fn(args)
}

func (h *harness) put(off int, b []byte) (uint64, uint64) {
	copy(h.mem[off:], b)
	return uint64(off), uint64(len(b))
}

func TestChargeForExecSaturates(t *testing.T) {
	k := newFakeKernel(gas.NewGas(1_000))
	reg := &engine.GasRegister{}
	data := &InvocationData[*fakeKernel]{Kernel: k, GasGlobal: reg}
	data.UpdateGasAvailable()
	require.Equal(t, int64(1_000_000), reg.Get())

	steps := []struct {
		register int64
		charged  int64
	}{
		{register: 999_700, charged: 300},
		{register: 999_900, charged: 0}, // went up
		{register: 999_850, charged: 50},
		{register: 999_850, charged: 0},
	}
	var total int64
	for _, s := range steps {
		reg.Set(s.register)
		before := k.tracker.GasUsed()
		require.NoError(t, data.ChargeForExec())
		require.Equal(t, gas.FromMilligas(s.charged), k.tracker.GasUsed()-before)
		require.Equal(t, s.register, data.LastMilligasAvailable)
		total += s.charged
	}
	require.Equal(t, gas.FromMilligas(total), k.tracker.GasUsed())

	data.UpdateGasAvailable()
	require.Equal(t, k.tracker.GasAvailable().AsMilligas(), reg.Get())
	require.Equal(t, reg.Get(), data.LastMilligasAvailable)
}

func TestChargeForExecOutOfGas(t *testing.T) {
	k := newFakeKernel(gas.FromMilligas(100))
	reg := &engine.GasRegister{}
	data := &InvocationData[*fakeKernel]{Kernel: k, GasGlobal: reg}
	data.UpdateGasAvailable()

	reg.Set(-50)
	require.ErrorIs(t, data.ChargeForExec(), gas.ErrOutOfGas)
	require.Equal(t, gas.FromMilligas(100), k.tracker.GasUsed())
}

func TestRandomnessWritesExactly32Bytes(t *testing.T) {
	h := newHarness(t, invokeSurface)
	entOff, entLen := h.put(100, []byte("entropy"))

	for i := range h.mem[:64] {
		h.mem[i] = 0xee
	}
	errno, err := h.call(t, "rand", "get_chain_randomness", 16, 1, 5, entOff, entLen)
	require.NoError(t, err)
	require.Zero(t, errno)
	require.Equal(t, bytes.Repeat([]byte{0xee}, 16), h.mem[:16])
	require.Equal(t, h.k.rand[:], h.mem[16:48])
	require.Equal(t, bytes.Repeat([]byte{0xee}, 16), h.mem[48:64])
	require.Nil(t, h.data.LastError)
}

func TestRandomnessWritesNothingOnError(t *testing.T) {
	h := newHarness(t, invokeSurface)
	h.k.randErr = kernel.Syscallf(kernel.IllegalArgument, "future round")

	errno, err := h.call(t, "rand", "get_beacon_randomness", 0, 1, 5, 0, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(kernel.IllegalArgument), errno)
	require.Equal(t, make([]byte, 32), h.mem[:32])

	require.NotNil(t, h.data.LastError)
	require.Equal(t, "rand", h.data.LastError.Module)
	require.Equal(t, "get_beacon_randomness", h.data.LastError.Function)
	require.Equal(t, kernel.IllegalArgument, h.data.LastError.Number)

	h.k.randErr = nil
	errno, err = h.call(t, "rand", "get_beacon_randomness", 0, 1, 5, 0, 0)
	require.NoError(t, err)
	require.Zero(t, errno)
	require.Nil(t, h.data.LastError)
}

func TestOutOfBoundsLeavesMemoryUnmodified(t *testing.T) {
	h := newHarness(t, invokeSurface)
	before := append([]byte(nil), h.mem...)

	tests := []struct {
		name   string
		module string
		fn     string
		args   []uint64
	}{
		{"rand output past end", "rand", "get_chain_randomness", []uint64{memSize - 16, 1, 1, 0, 0}},
		{"entropy past end", "rand", "get_chain_randomness", []uint64{0, 1, 1, memSize - 4, 8}},
		{"offset overflow", "rand", "get_chain_randomness", []uint64{0, 1, 1, ^uint64(0), 2}},
		{"context past end", "vm", "context", []uint64{memSize - 79}},
		{"balance past end", "self", "current_balance", []uint64{memSize}},
		{"enabled past end", "debug", "enabled", []uint64{memSize - 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errno, err := h.call(t, tt.module, tt.fn, tt.args...)
			require.NoError(t, err)
			require.Equal(t, uint64(kernel.IllegalArgument), errno)
			require.Equal(t, before, h.mem)
		})
	}
}

func TestArityCheck(t *testing.T) {
	h := newHarness(t, invokeSurface)
	cOff, cLen := h.put(0, cid.NewCidV1(cid.Raw, []byte{0x00, 0x01, 0x61}).Bytes())

	errno, err := h.call(t, "self", "set_root", cOff)
	require.NoError(t, err)
	require.Equal(t, uint64(kernel.IllegalArgument), errno)
	require.Empty(t, h.k.roots)

	errno, err = h.call(t, "self", "set_root", cOff, cLen)
	require.NoError(t, err)
	require.Zero(t, errno)
	require.Len(t, h.k.roots, 1)
}

func TestCheckedBindingSkipsHandler(t *testing.T) {
	k := newFakeKernel(gas.NewGas(1_000_000))
	data := NewInvocationData(k)
	mem := make([]byte, memSize)
	data.Memory = engine.SliceMemory(mem)
	data.GasGlobal = &engine.GasRegister{}
	data.UpdateGasAvailable()

	var ran bool
	s := Syscall[*fakeKernel]{
		Module: "test",
		Name:   "effect",
		Fn: func(*Context[*fakeKernel], []uint64) error {
			ran = true
			return nil
		},
	}
	allow := false
	imports := make(engine.Imports)
	BindChecked(imports, data, s, func(*fakeKernel) bool { return allow })

	fn, _ := imports.Lookup("test", "effect")
	_, err := fn(nil)
	ab, ok := kernel.AsAbort(err)
	require.True(t, ok, "got %v", err)
	require.Equal(t, exitcode.SysErrForbidden, ab.Code)
	require.False(t, ran)

	allow = true
	errno, err := fn(nil)
	require.NoError(t, err)
	require.Zero(t, errno)
	require.True(t, ran)
}

func TestValidateSurfaceRestrictsSelfOnly(t *testing.T) {
	h := newHarness(t, validateSurface)
	toOff, toLen := h.put(64, types.IDAddress(200).Bytes())

	_, err := h.call(t, "send", "send", 0, toOff, toLen, 0, 0, 0, 0, 0)
	ab, ok := kernel.AsAbort(err)
	require.True(t, ok, "got %v", err)
	require.Equal(t, exitcode.SysErrForbidden, ab.Code)
	require.Empty(t, h.k.sends)

	// Rejection comes before argument checks.
	_, err = h.call(t, "self", "set_root", 0)
	ab, ok = kernel.AsAbort(err)
	require.True(t, ok, "got %v", err)
	require.Equal(t, exitcode.SysErrForbidden, ab.Code)
	require.Nil(t, h.data.LastError)

	h.k.selfCall = true
	errno, err := h.call(t, "send", "send", 0, toOff, toLen, 0, 0, 0, 0, 0)
	require.NoError(t, err)
	require.Zero(t, errno)
	require.Len(t, h.k.sends, 1)

	_, ok = h.imports.Lookup("actor", "install_actor")
	require.False(t, ok)
}

func TestInvokeSurfaceBindsWholeTable(t *testing.T) {
	h := newHarness(t, invokeSurface)
	require.Len(t, h.imports, len(Table[*fakeKernel]())-1)

	all := BindInvoke(h.data, Options{EnableActorInstall: true})
	require.Len(t, all, len(Table[*fakeKernel]()))
}

func TestSendRecord(t *testing.T) {
	h := newHarness(t, invokeSurface)
	toOff, toLen := h.put(64, types.IDAddress(200).Bytes())

	errno, err := h.call(t, "send", "send", 0, toOff, toLen, 2, 0, 0, 1, 0)
	require.NoError(t, err)
	require.Zero(t, errno)
	require.Equal(t, uint32(17), binary.LittleEndian.Uint32(h.mem[0:]))
	require.Equal(t, uint32(3), binary.LittleEndian.Uint32(h.mem[4:]))
	require.Equal(t, uint64(cid.Raw), binary.LittleEndian.Uint64(h.mem[8:]))
	require.Equal(t, uint32(5), binary.LittleEndian.Uint32(h.mem[16:]))
	require.Equal(t, types.IDAddress(200), h.k.sends[0])
}

func TestAbortCodes(t *testing.T) {
	h := newHarness(t, invokeSurface)
	msgOff, msgLen := h.put(0, []byte("nope"))

	_, err := h.call(t, "vm", "abort", 20, msgOff, msgLen)
	ab, ok := kernel.AsAbort(err)
	require.True(t, ok)
	require.Equal(t, exitcode.ExitCode(20), ab.Code)
	require.Equal(t, "nope", ab.Message)

	_, err = h.call(t, "vm", "abort", uint64(exitcode.SysErrOutOfGas), msgOff, msgLen)
	ab, ok = kernel.AsAbort(err)
	require.True(t, ok)
	require.Equal(t, types.ExitIllegalActor, ab.Code)

	_, err = h.call(t, "vm", "abort", 20, memSize, 10)
	ab, ok = kernel.AsAbort(err)
	require.True(t, ok)
	require.Equal(t, exitcode.ExitCode(20), ab.Code)
}

func TestContextRecord(t *testing.T) {
	h := newHarness(t, invokeSurface)
	errno, err := h.call(t, "vm", "context", 8)
	require.NoError(t, err)
	require.Zero(t, errno)

	u := func(i int) uint64 { return binary.LittleEndian.Uint64(h.mem[8+i*8:]) }
	require.Equal(t, uint64(10), u(0))
	require.Equal(t, uint64(100), u(1))
	require.Equal(t, uint64(101), u(2))
	require.Equal(t, uint64(102), u(3))
	require.Equal(t, uint64(3), u(4))
	require.Equal(t, uint64(7), u(5))
	require.Equal(t, uint64(0), u(6))
	require.Equal(t, uint64(5_000), u(7))
	require.Equal(t, uint64(21), u(8))
	require.Equal(t, uint64(4), u(9))
}

func TestHashTruncatesToBuffer(t *testing.T) {
	h := newHarness(t, invokeSurface)
	dOff, dLen := h.put(0, []byte("abc"))

	errno, err := h.call(t, "crypto", "hash", 8, kernel.HashSha2_256, dOff, dLen, 16, 32)
	require.NoError(t, err)
	require.Zero(t, errno)
	full, _ := kernel.HashData(kernel.HashSha2_256, []byte("abc"))
	require.Equal(t, uint32(32), binary.LittleEndian.Uint32(h.mem[8:]))
	require.Equal(t, full, h.mem[16:48])

	errno, err = h.call(t, "crypto", "hash", 8, kernel.HashSha2_256, dOff, dLen, 64, 4)
	require.NoError(t, err)
	require.Zero(t, errno)
	require.Equal(t, uint32(4), binary.LittleEndian.Uint32(h.mem[8:]))
	require.Equal(t, full[:4], h.mem[64:68])
}

func TestBatchVerifySeals(t *testing.T) {
	h := newHarness(t, invokeSurface)

	var buf bytes.Buffer
	cw := cbg.NewCborWriter(&buf)
	require.NoError(t, cborutil.WriteArrayHeader(cw, 3))
	for _, s := range [][]byte{{1}, {}, {2, 3}} {
		require.NoError(t, cborutil.WriteBytes(cw, s))
	}
	bOff, bLen := h.put(100, buf.Bytes())

	errno, err := h.call(t, "crypto", "batch_verify_seals", bOff, bLen, 0)
	require.NoError(t, err)
	require.Zero(t, errno)
	require.Equal(t, []byte{1, 0, 1}, h.mem[:3])

	jOff, jLen := h.put(200, []byte{0xff})
	errno, err = h.call(t, "crypto", "batch_verify_seals", jOff, jLen, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(kernel.Serialization), errno)
}

func TestBatchVerifySealsResultCount(t *testing.T) {
	h := newHarness(t, invokeSurface)
	h.k.extraSeal = true

	var buf bytes.Buffer
	cw := cbg.NewCborWriter(&buf)
	require.NoError(t, cborutil.WriteArrayHeader(cw, 2))
	for _, s := range [][]byte{{1}, {2}} {
		require.NoError(t, cborutil.WriteBytes(cw, s))
	}
	bOff, bLen := h.put(100, buf.Bytes())

	_, err := h.call(t, "crypto", "batch_verify_seals", bOff, bLen, 0)
	require.True(t, kernel.IsFatal(err), "got %v", err)
	require.Equal(t, []byte{0, 0, 0}, h.mem[:3])
}

func TestDebugLogOnlyWhenEnabled(t *testing.T) {
	h := newHarness(t, invokeSurface)
	mOff, mLen := h.put(0, []byte("hello"))

	_, err := h.call(t, "debug", "log", mOff, mLen)
	require.NoError(t, err)
	require.Empty(t, h.k.logs)

	h.k.debug = true
	_, err = h.call(t, "debug", "log", mOff, mLen)
	require.NoError(t, err)
	require.Equal(t, []string{"hello"}, h.k.logs)

	_, err = h.call(t, "debug", "enabled", 32)
	require.NoError(t, err)
	require.Zero(t, binary.LittleEndian.Uint32(h.mem[32:]))
}

func TestErrorClassification(t *testing.T) {
	h := newHarness(t, invokeSurface)
	cOff, cLen := h.put(0, cid.NewCidV1(cid.Raw, []byte{0x00, 0x01, 0x61}).Bytes())

	h.k.fail = kernel.Fatalf("corrupt state")
	_, err := h.call(t, "self", "set_root", cOff, cLen)
	require.True(t, kernel.IsFatal(err))

	h.k.fail = errors.New("unexpected")
	_, err = h.call(t, "self", "set_root", cOff, cLen)
	require.True(t, kernel.IsFatal(err))

	h.k.fail = gas.ErrOutOfGas
	_, err = h.call(t, "self", "set_root", cOff, cLen)
	require.ErrorIs(t, err, gas.ErrOutOfGas)
	require.False(t, kernel.IsFatal(err))
}

func TestSyscallChargesAndResyncs(t *testing.T) {
	h := newHarness(t, invokeSurface)
	start := h.data.GasGlobal.Get()

	// The sandbox burnt 4000 milligas before calling in.
	h.data.GasGlobal.Set(start - 4000)
	_, err := h.call(t, "vm", "context", 0)
	require.NoError(t, err)

	want := gas.FromMilligas(4000).Add(gas.DefaultPricelist().OnSyscall().Amount)
	require.Equal(t, want, h.k.tracker.GasUsed())
	require.Equal(t, h.k.tracker.GasAvailable().AsMilligas(), h.data.GasGlobal.Get())
}
