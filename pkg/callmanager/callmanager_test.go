package callmanager

import (
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/actorvm/internal/cborutil"
	"github.com/fortiblox/actorvm/internal/types"
	"github.com/fortiblox/actorvm/pkg/blockstore"
	"github.com/fortiblox/actorvm/pkg/builtin"
	"github.com/fortiblox/actorvm/pkg/engine"
	"github.com/fortiblox/actorvm/pkg/engine/sbpf"
	"github.com/fortiblox/actorvm/pkg/gas"
	"github.com/fortiblox/actorvm/pkg/kernel"
	"github.com/fortiblox/actorvm/pkg/machine"
	"github.com/fortiblox/actorvm/pkg/programs"
	"github.com/fortiblox/actorvm/pkg/state"
	"github.com/fortiblox/actorvm/pkg/syscalls"
)

const testGasLimit = 100_000_000

func newMachine(t *testing.T, mutate func(*machine.Config)) *machine.Machine {
	t.Helper()
	cfg := machine.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := machine.New(cfg, blockstore.NewMemory(), cid.Undef, machine.DefaultExterns())
	require.NoError(t, err)
	builtin.Install(m)
	require.NoError(t, builtin.Genesis(m))
	return m
}

func newAccount(t *testing.T, m *machine.Machine, balance int64) (abi.ActorID, address.Address) {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	addr, err := kernel.SecpAddress(priv)
	require.NoError(t, err)
	id, err := builtin.CreateAccount(m, addr, big.NewInt(balance))
	require.NoError(t, err)
	return id, addr
}

func deploy(t *testing.T, m *machine.Machine, mod *sbpf.Module, balance int64) (abi.ActorID, address.Address) {
	t.Helper()
	id, addr, err := programs.Deploy(m, mod, big.NewInt(balance))
	require.NoError(t, err)
	return id, addr
}

func balance(t *testing.T, m *machine.Machine, id abi.ActorID) abi.TokenAmount {
	t.Helper()
	act, err := m.StateTree().GetActor(id)
	require.NoError(t, err)
	return act.Balance
}

func TestBacktrace(t *testing.T) {
	var bt Backtrace
	require.True(t, bt.IsEmpty())

	bt.PushFrame(Frame{Source: 100, Method: 2, Code: 17, Message: "first"})
	require.False(t, bt.IsEmpty())

	bt.Begin(&syscalls.LastError{Module: "ipld", Function: "block_open", Number: kernel.NotFound, Message: "missing"})
	require.Empty(t, bt.Frames)
	require.NotNil(t, bt.Cause)
	bt.PushFrame(Frame{Source: 101, Method: 3, Code: 18, Message: "second"})
	require.Contains(t, bt.String(), "ipld.block_open")
	require.Contains(t, bt.String(), "00101::3")

	bt.Clear()
	require.True(t, bt.IsEmpty())
}

func TestSendTransfersValue(t *testing.T) {
	m := newMachine(t, nil)
	from, _ := newAccount(t, m, 1000)
	to, toAddr := newAccount(t, m, 0)

	cm := New(m, gas.NewGas(testGasLimit), from, 0)
	res, err := cm.Send(from, toAddr, types.MethodSend, nil, big.NewInt(400), nil)
	require.NoError(t, err)
	require.Equal(t, exitcode.Ok, res.ExitCode)
	require.Equal(t, big.NewInt(600), balance(t, m, from))
	require.Equal(t, big.NewInt(400), balance(t, m, to))

	used, bt, _ := cm.Finish()
	require.True(t, bt.IsEmpty())
	require.Equal(t, gas.NewGas(gas.OnMethodInvocationBase+gas.OnValueTransfer), used)
}

func TestSendInsufficientFunds(t *testing.T) {
	m := newMachine(t, nil)
	from, _ := newAccount(t, m, 10)
	to, toAddr := newAccount(t, m, 0)

	cm := New(m, gas.NewGas(testGasLimit), from, 0)
	res, err := cm.Send(from, toAddr, types.MethodSend, nil, big.NewInt(11), nil)
	require.NoError(t, err)
	require.Equal(t, exitcode.SysErrInsufficientFunds, res.ExitCode)
	require.Equal(t, big.NewInt(10), balance(t, m, from))
	received := balance(t, m, to)
	require.True(t, received.IsZero())
	require.Len(t, cm.Backtrace().Frames, 1)
	require.Equal(t, to, cm.Backtrace().Frames[0].Source)
}

func TestSendCreatesAccount(t *testing.T) {
	m := newMachine(t, nil)
	from, _ := newAccount(t, m, 1000)

	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	fresh, err := kernel.SecpAddress(priv)
	require.NoError(t, err)

	cm := New(m, gas.NewGas(testGasLimit), from, 0)
	res, err := cm.Send(from, fresh, types.MethodSend, nil, big.NewInt(5), nil)
	require.NoError(t, err)
	require.Equal(t, exitcode.Ok, res.ExitCode, cm.Backtrace().String())

	id, ok, err := m.StateTree().LookupID(fresh)
	require.NoError(t, err)
	require.True(t, ok)
	act, err := m.StateTree().GetActor(id)
	require.NoError(t, err)
	require.Equal(t, builtin.AccountActorCodeID, act.Code)
	require.Equal(t, big.NewInt(5), act.Balance)

	data, err := m.Blockstore().Get(act.Head)
	require.NoError(t, err)
	var st builtin.AccountState
	require.NoError(t, cborutil.Unmarshal(data, &st))
	require.Equal(t, fresh, st.Address)
}

func TestSendUnknownActorAddress(t *testing.T) {
	m := newMachine(t, nil)
	from, _ := newAccount(t, m, 1000)
	unknown, err := address.NewActorAddress([]byte("nobody"))
	require.NoError(t, err)

	cm := New(m, gas.NewGas(testGasLimit), from, 0)
	res, err := cm.Send(from, unknown, types.MethodSend, nil, big.Zero(), nil)
	require.NoError(t, err)
	require.Equal(t, exitcode.SysErrInvalidReceiver, res.ExitCode)
	require.False(t, cm.Backtrace().IsEmpty())
}

func TestFailedCallIsRolledBack(t *testing.T) {
	m := newMachine(t, nil)
	from, _ := newAccount(t, m, 1000)
	writer, writerAddr := deploy(t, m, programs.StateWriter([]byte{0x81, 0x01}, 20), 0)

	cm := New(m, gas.NewGas(testGasLimit), from, 0)
	res, err := cm.Send(from, writerAddr, 2, nil, big.NewInt(100), nil)
	require.NoError(t, err)
	require.Equal(t, exitcode.ExitCode(20), res.ExitCode)

	act, err := m.StateTree().GetActor(writer)
	require.NoError(t, err)
	require.Equal(t, state.EmptyObjectCid, act.Head)
	require.True(t, act.Balance.IsZero())
	require.Equal(t, big.NewInt(1000), balance(t, m, from))

	// The write and the link were paid for.
	used, bt, _ := cm.Finish()
	require.Greater(t, used, gas.NewGas(gas.OnMethodInvocationBase+gas.OnValueTransfer+gas.OnBlockLinkBase))
	require.Len(t, bt.Frames, 1)
	require.Equal(t, writer, bt.Frames[0].Source)
}

func TestSuccessfulCallCommits(t *testing.T) {
	m := newMachine(t, nil)
	from, _ := newAccount(t, m, 1000)
	writer, writerAddr := deploy(t, m, programs.StateWriter([]byte{0x81, 0x01}, 0), 0)

	cm := New(m, gas.NewGas(testGasLimit), from, 0)
	res, err := cm.Send(from, writerAddr, 2, nil, big.Zero(), nil)
	require.NoError(t, err)
	require.Equal(t, exitcode.Ok, res.ExitCode, cm.Backtrace().String())

	want, err := blockstore.Sum(cid.DagCBOR, []byte{0x81, 0x01})
	require.NoError(t, err)
	act, err := m.StateTree().GetActor(writer)
	require.NoError(t, err)
	require.Equal(t, want, act.Head)
}

func TestNestedSend(t *testing.T) {
	m := newMachine(t, func(c *machine.Config) { c.Tracing = true })
	from, _ := newAccount(t, m, 1000)
	writer, writerAddr := deploy(t, m, programs.StateWriter([]byte{0x80}, 0), 0)
	_, fwdAddr := deploy(t, m, programs.Forwarder(writerAddr, 2, 30), 50)

	cm := New(m, gas.NewGas(testGasLimit), from, 0)
	res, err := cm.Send(from, fwdAddr, 2, nil, big.Zero(), nil)
	require.NoError(t, err)
	require.Equal(t, exitcode.Ok, res.ExitCode, cm.Backtrace().String())
	require.Equal(t, big.NewInt(30), balance(t, m, writer))

	used, bt, trace := cm.Finish()
	require.True(t, bt.IsEmpty())

	var charged gas.Gas
	var calls, innerCharges int
	for _, ev := range trace {
		switch ev.Kind {
		case EventCall:
			calls++
		case EventGasCharge:
			charged = charged.Add(ev.Charge.Amount)
			if ev.Depth == 2 {
				innerCharges++
			}
		}
	}
	require.Equal(t, 2, calls)
	require.Equal(t, used, charged)
	require.Positive(t, innerCharges)
}

func TestCallDepthLimit(t *testing.T) {
	m := newMachine(t, func(c *machine.Config) { c.MaxCallDepth = 3 })
	from, _ := newAccount(t, m, 1000)
	self := types.IDAddress(m.StateTree().NextID())
	_, addr := deploy(t, m, programs.Forwarder(self, 2, 0), 0)

	cm := New(m, gas.NewGas(testGasLimit), from, 0)
	res, err := cm.Send(from, addr, 2, nil, big.Zero(), nil)
	require.NoError(t, err)
	require.Equal(t, exitcode.ExitCode(programs.ExitSendFailed), res.ExitCode)

	frames := cm.Backtrace().Frames
	require.Len(t, frames, 3)
	require.Equal(t, exitcode.SysErrForbidden, frames[0].Code)
	require.Equal(t, 0, cm.Depth())
}

func TestOutOfGas(t *testing.T) {
	m := newMachine(t, nil)
	from, _ := newAccount(t, m, 1000)
	_, addr := deploy(t, m, programs.Spinner(), 0)

	limit := gas.NewGas(40_000)
	cm := New(m, limit, from, 0)
	res, err := cm.Send(from, addr, 2, nil, big.Zero(), nil)
	require.NoError(t, err)
	require.Equal(t, exitcode.SysErrOutOfGas, res.ExitCode)

	used, bt, _ := cm.Finish()
	require.Equal(t, limit, used)
	require.False(t, bt.IsEmpty())
}

func TestSubBudget(t *testing.T) {
	m := newMachine(t, nil)
	from, _ := newAccount(t, m, 1000)
	_, addr := deploy(t, m, programs.Spinner(), 0)

	cm := New(m, gas.NewGas(testGasLimit), from, 0)
	sub := gas.NewGas(50_000)
	res, err := cm.Send(from, addr, 2, nil, big.Zero(), &sub)
	require.NoError(t, err)
	require.Equal(t, exitcode.SysErrOutOfGas, res.ExitCode)

	require.Equal(t, gas.NewGas(gas.OnMethodInvocationBase).Add(sub), cm.GasTracker().GasUsed())
	require.Equal(t, 0, cm.GasTracker().Depth())
}

func TestWithTransactionPanics(t *testing.T) {
	m := newMachine(t, nil)
	from, _ := newAccount(t, m, 1000)
	cm := New(m, gas.NewGas(testGasLimit), from, 0)

	require.Panics(t, func() {
		_, _ = cm.WithTransaction(func() (*kernel.InvocationResult, error) {
			act, err := m.StateTree().GetActor(from)
			require.NoError(t, err)
			act.Balance = big.Zero()
			require.NoError(t, m.StateTree().SetActor(from, act))
			panic("boom")
		})
	})
	require.False(t, m.StateTree().InTransaction())
	require.Equal(t, big.NewInt(1000), balance(t, m, from))
}

func TestValidate(t *testing.T) {
	m := newMachine(t, nil)
	spec, err := cborutil.Marshal(&types.GasSpec{GasLimit: 7, GasFeeCap: big.NewInt(3), GasPremium: big.NewInt(1)})
	require.NoError(t, err)
	id, _ := deploy(t, m, programs.Validator(spec, 0), 0)

	cm := New(m, gas.NewGas(testGasLimit), id, 0)
	res, err := cm.Validate(id, kernel.NewBlock(cid.DagCBOR, []byte{0x80}))
	require.NoError(t, err)
	require.Equal(t, exitcode.Ok, res.ExitCode)
	require.NotNil(t, res.Return)
	require.Equal(t, spec, res.Return.Data)

	rejecting, _ := deploy(t, m, programs.Validator(spec, 21), 0)
	cm = New(m, gas.NewGas(testGasLimit), rejecting, 0)
	res, err = cm.Validate(rejecting, nil)
	require.NoError(t, err)
	require.Equal(t, exitcode.ExitCode(21), res.ExitCode)
	require.False(t, cm.Backtrace().IsEmpty())
}

// sendingValidator sends value to to from its validate entrypoint and
// returns the send's error number.
func sendingValidator(to address.Address, value uint64) *sbpf.Module {
	b := sbpf.NewBuilder()
	rec := b.Data(make([]byte, syscalls.SendRecordSize))
	toBytes := to.Bytes()
	toOff := b.Data(toBytes)

	b.Entrypoint(engine.EntrypointInvoke).
		Mov(sbpf.R0, 0).
		Exit()
	b.Entrypoint(engine.EntrypointValidate).
		HostCall("send", "send",
			sbpf.Imm(rec), sbpf.Imm(toOff), sbpf.Imm(uint64(len(toBytes))),
			sbpf.Imm(0), sbpf.Imm(0), sbpf.Imm(0), sbpf.Imm(value), sbpf.Imm(0)).
		Exit()
	return b.MustBuild()
}

func TestValidateRefusesSend(t *testing.T) {
	m := newMachine(t, func(c *machine.Config) { c.Tracing = true })
	_, toAddr := newAccount(t, m, 1)
	id, _ := deploy(t, m, sendingValidator(toAddr, 7), 100)

	cm := New(m, gas.NewGas(testGasLimit), id, 0)
	res, err := cm.Validate(id, nil)
	require.NoError(t, err)
	require.Equal(t, exitcode.SysErrForbidden, res.ExitCode)

	_, bt, trace := cm.Finish()
	require.False(t, bt.IsEmpty())
	var calls int
	for _, ev := range trace {
		if ev.Kind == EventCall {
			calls++
		}
	}
	require.Equal(t, 1, calls)
	require.Equal(t, big.NewInt(100), balance(t, m, id))
}

func TestNextActorAddress(t *testing.T) {
	m := newMachine(t, nil)
	from, _ := newAccount(t, m, 0)
	cm := New(m, gas.NewGas(testGasLimit), from, 3)

	a, err := cm.NextActorAddress()
	require.NoError(t, err)
	b, err := cm.NextActorAddress()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.Equal(t, address.Actor, a.Protocol())

	other := New(m, gas.NewGas(testGasLimit), from, 3)
	c, err := other.NextActorAddress()
	require.NoError(t, err)
	require.Equal(t, a, c)
}

func TestSendAfterFinish(t *testing.T) {
	m := newMachine(t, nil)
	from, addr := newAccount(t, m, 0)
	cm := New(m, gas.NewGas(testGasLimit), from, 0)
	cm.Finish()
	_, err := cm.Send(from, addr, 0, nil, big.Zero(), nil)
	require.ErrorIs(t, err, ErrFinished)
	require.True(t, kernel.IsFatal(err))
}

func TestExitCode(t *testing.T) {
	code, err := ExitCode(gas.ErrOutOfGas)
	require.NoError(t, err)
	require.Equal(t, exitcode.SysErrOutOfGas, code)

	code, err = ExitCode(kernel.Abortf(exitcode.ErrIllegalState, "bad"))
	require.NoError(t, err)
	require.Equal(t, exitcode.ErrIllegalState, code)

	_, err = ExitCode(kernel.Fatalf("broken"))
	require.Error(t, err)
}
