// Package callmanager drives the call stack of one top-level message.
//
// Every send opens a frame running in its own state transaction, with an
// optional gas sub-budget. Failed frames are rolled back and recorded in
// the backtrace; gas spent in them stays charged.
package callmanager

import (
	"encoding/binary"
	"errors"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"

	"github.com/fortiblox/actorvm/internal/cborutil"
	"github.com/fortiblox/actorvm/internal/types"
	"github.com/fortiblox/actorvm/pkg/engine"
	"github.com/fortiblox/actorvm/pkg/gas"
	"github.com/fortiblox/actorvm/pkg/kernel"
	"github.com/fortiblox/actorvm/pkg/machine"
	"github.com/fortiblox/actorvm/pkg/state"
	"github.com/fortiblox/actorvm/pkg/syscalls"
)

var log = logging.Logger("callmanager")

var (
	// ErrFinished is returned when using a call manager after Finish.
	ErrFinished = errors.New("call manager finished")
)

// CallManager owns the call stack of one top-level message. It is not
// safe for concurrent use.
type CallManager struct {
	machine  *machine.Machine
	tracker  *gas.Tracker
	gasLimit gas.Gas
	origin   abi.ActorID
	nonce    uint64

	depth         int
	actorsCreated uint64
	backtrace     Backtrace
	trace         []ExecEvent
	finished      bool
}

// New creates the call manager for a message from origin with the given
// sequence number.
func New(m *machine.Machine, gasLimit gas.Gas, origin abi.ActorID, nonce uint64) *CallManager {
	return &CallManager{
		machine:  m,
		tracker:  gas.NewTracker(gasLimit, m.Config().Tracing),
		gasLimit: gasLimit,
		origin:   origin,
		nonce:    nonce,
	}
}

// Machine implements kernel.CallManager.
func (cm *CallManager) Machine() *machine.Machine { return cm.machine }

// GasTracker implements kernel.CallManager.
func (cm *CallManager) GasTracker() *gas.Tracker { return cm.tracker }

// GasLimit implements kernel.CallManager.
func (cm *CallManager) GasLimit() gas.Gas { return cm.gasLimit }

// Origin implements kernel.CallManager.
func (cm *CallManager) Origin() abi.ActorID { return cm.origin }

// Nonce implements kernel.CallManager.
func (cm *CallManager) Nonce() uint64 { return cm.nonce }

// Depth returns the number of open frames.
func (cm *CallManager) Depth() int { return cm.depth }

// Backtrace returns the backtrace accumulated so far.
func (cm *CallManager) Backtrace() *Backtrace { return &cm.backtrace }

func (cm *CallManager) tree() *state.StateTree {
	return cm.machine.StateTree()
}

func (cm *CallManager) charge(c gas.Charge) error {
	return cm.tracker.Apply(c)
}

// NextActorAddress implements kernel.CallManager. Addresses derive from
// the origin's address, the message nonce and the number of actors the
// message created so far.
func (cm *CallManager) NextActorAddress() (address.Address, error) {
	act, err := cm.tree().GetActor(cm.origin)
	if err != nil {
		return address.Undef, kernel.Fatalf("load origin %d: %w", cm.origin, err)
	}
	origin := types.IDAddress(cm.origin)
	if act.Address != nil {
		origin = *act.Address
	}
	b := origin.Bytes()
	b = binary.BigEndian.AppendUint64(b, cm.nonce)
	b = binary.BigEndian.AppendUint64(b, cm.actorsCreated)
	cm.actorsCreated++
	return address.NewActorAddress(b)
}

// CreateActor implements kernel.CallManager.
func (cm *CallManager) CreateActor(code cid.Cid, id abi.ActorID, robust *address.Address) error {
	if err := cm.charge(cm.machine.Pricelist().OnCreateActor()); err != nil {
		return err
	}
	act := &state.Actor{Code: code, Head: state.EmptyObjectCid, Balance: big.Zero(), Address: robust}
	if err := cm.tree().SetActor(id, act); err != nil {
		return kernel.Fatalf("create actor %d: %w", id, err)
	}
	log.Debugw("created actor", "id", id, "code", code)
	return nil
}

// Send implements kernel.CallManager. The returned error traps the
// calling frame; failures of the callee are reported in the result.
func (cm *CallManager) Send(from abi.ActorID, to address.Address, method abi.MethodNum, params *kernel.Block, value abi.TokenAmount, gasLimit *gas.Gas) (*kernel.InvocationResult, error) {
	if cm.finished {
		return nil, kernel.Fatalf("send after finish: %w", ErrFinished)
	}
	if cm.depth >= cm.machine.Config().MaxCallDepth {
		return nil, kernel.Abortf(exitcode.SysErrForbidden, "call depth exceeded (%d)", cm.depth)
	}
	if err := cm.charge(cm.machine.Pricelist().OnMethodInvocation(value, method)); err != nil {
		return nil, err
	}

	ev := ExecEvent{Kind: EventCall, From: from, To: to, Method: method, Value: value}
	if params != nil {
		ev.Params = params.Data
	}
	cm.record(ev)

	if gasLimit != nil {
		cm.tracker.PushLimit(*gasLimit)
	}
	cm.depth++
	res, err := cm.WithTransaction(func() (*kernel.InvocationResult, error) {
		return cm.send(from, to, method, params, value)
	})

	ret := ExecEvent{Kind: EventReturn}
	if res != nil {
		ret.Code = res.ExitCode
		if res.Return != nil {
			ret.Return = res.Return.Data
		}
	} else if err != nil {
		ret.Code = exitCodeOf(err)
	}
	cm.record(ret)

	cm.depth--
	if gasLimit != nil {
		if perr := cm.tracker.PopLimit(); perr != nil && err == nil {
			err = kernel.Fatalf("pop gas limit: %w", perr)
		}
	}
	return res, err
}

// WithTransaction runs f in a state transaction. The transaction is
// reverted when f fails, exits with a non-zero code or panics, and
// committed otherwise. Gas is never refunded.
func (cm *CallManager) WithTransaction(f func() (*kernel.InvocationResult, error)) (res *kernel.InvocationResult, err error) {
	tree := cm.tree()
	tree.BeginTransaction()
	revert := true
	defer func() {
		if endErr := tree.EndTransaction(revert); endErr != nil && err == nil {
			res, err = nil, kernel.Fatalf("end transaction: %w", endErr)
		}
	}()

	res, err = f()
	revert = err != nil || res == nil || !res.ExitCode.IsSuccess()
	return res, err
}

// Validate runs the validate entrypoint of actor id with caller and
// receiver both set to id. State changes are always discarded.
func (cm *CallManager) Validate(id abi.ActorID, params *kernel.Block) (*kernel.InvocationResult, error) {
	if cm.finished {
		return nil, kernel.Fatalf("validate after finish: %w", ErrFinished)
	}
	act, err := cm.tree().GetActor(id)
	if errors.Is(err, state.ErrActorNotFound) {
		return cm.fail(id, types.MethodSend, exitcode.SysErrInvalidReceiver, "validating actor not found"), nil
	}
	if err != nil {
		return nil, kernel.Fatalf("load actor %d: %w", id, err)
	}

	ev := ExecEvent{Kind: EventCall, From: id, To: types.IDAddress(id), Method: types.MethodSend, Value: big.Zero()}
	if params != nil {
		ev.Params = params.Data
	}
	cm.record(ev)
	tree := cm.tree()
	tree.BeginTransaction()
	cm.depth++
	defer func() {
		cm.depth--
		if err := tree.EndTransaction(true); err != nil {
			log.Errorw("failed to revert validation transaction", "error", err)
		}
	}()

	res, err := cm.invoke(id, id, act.Code, types.MethodSend, params, big.Zero(), engine.EntrypointValidate)
	ret := ExecEvent{Kind: EventReturn}
	if res != nil {
		ret.Code = res.ExitCode
	} else if err != nil {
		ret.Code = exitCodeOf(err)
	}
	cm.record(ret)
	return res, err
}

// Finish closes the call manager and returns the gas used, the backtrace
// and the execution trace.
func (cm *CallManager) Finish() (gas.Gas, Backtrace, []ExecEvent) {
	cm.finished = true
	cm.drainCharges()
	return cm.tracker.GasUsed(), cm.backtrace, cm.trace
}

func (cm *CallManager) send(from abi.ActorID, to address.Address, method abi.MethodNum, params *kernel.Block, value abi.TokenAmount) (*kernel.InvocationResult, error) {
	id, ok, err := cm.tree().LookupID(to)
	if err != nil {
		return cm.fail(0, method, exitcode.SysErrInvalidReceiver, err.Error()), nil
	}
	if !ok {
		switch to.Protocol() {
		case address.SECP256K1, address.BLS:
		default:
			return cm.fail(0, method, exitcode.SysErrInvalidReceiver, "actor "+to.String()+" not found"), nil
		}
		id, err = cm.createAccount(to)
		if err != nil {
			return nil, err
		}
	}
	return cm.sendResolved(from, id, method, params, value)
}

func (cm *CallManager) createAccount(addr address.Address) (abi.ActorID, error) {
	code, ok := cm.machine.Manifest().CodeFor(types.ActorTypeAccount)
	if !ok {
		return 0, kernel.Fatalf("no account actor installed")
	}
	if err := cm.charge(cm.machine.Pricelist().OnCreateActor()); err != nil {
		return 0, err
	}
	id, err := cm.tree().RegisterNewAddress(addr)
	if err != nil {
		return 0, kernel.Fatalf("register %s: %w", addr, err)
	}
	act := &state.Actor{Code: code, Head: state.EmptyObjectCid, Balance: big.Zero(), Address: &addr}
	if err := cm.tree().SetActor(id, act); err != nil {
		return 0, kernel.Fatalf("create account %d: %w", id, err)
	}

	params, err := cborutil.Marshal(&addr)
	if err != nil {
		return 0, kernel.Fatalf("encode account params: %w", err)
	}
	res, err := cm.sendResolved(types.SystemActorID, id, types.MethodConstructor, kernel.NewBlock(cid.DagCBOR, params), big.Zero())
	if err != nil {
		return 0, err
	}
	if !res.ExitCode.IsSuccess() {
		return 0, kernel.Fatalf("account constructor for %s exited with %d", addr, res.ExitCode)
	}
	log.Debugw("created account", "id", id, "address", addr)
	return id, nil
}

func (cm *CallManager) sendResolved(from, to abi.ActorID, method abi.MethodNum, params *kernel.Block, value abi.TokenAmount) (*kernel.InvocationResult, error) {
	toAct, err := cm.tree().GetActor(to)
	if errors.Is(err, state.ErrActorNotFound) {
		return cm.fail(to, method, exitcode.SysErrInvalidReceiver, "receiver not found"), nil
	}
	if err != nil {
		return nil, kernel.Fatalf("load receiver %d: %w", to, err)
	}

	if value.Sign() < 0 {
		return cm.fail(to, method, exitcode.SysErrForbidden, "negative value "+value.String()), nil
	}
	if !value.IsZero() && from != to {
		if res, err := cm.transfer(from, to, method, value); res != nil || err != nil {
			return res, err
		}
	}

	if method == types.MethodSend {
		return &kernel.InvocationResult{ExitCode: exitcode.Ok}, nil
	}
	return cm.invoke(from, to, toAct.Code, method, params, value, engine.EntrypointInvoke)
}

// transfer moves value between actors. It returns a result only when the
// transfer failed.
func (cm *CallManager) transfer(from, to abi.ActorID, method abi.MethodNum, value abi.TokenAmount) (*kernel.InvocationResult, error) {
	tree := cm.tree()
	fromAct, err := tree.GetActor(from)
	if errors.Is(err, state.ErrActorNotFound) {
		return cm.fail(to, method, exitcode.SysErrSenderInvalid, "sender not found"), nil
	}
	if err != nil {
		return nil, kernel.Fatalf("load sender %d: %w", from, err)
	}
	if fromAct.Balance.LessThan(value) {
		return cm.fail(to, method, exitcode.SysErrInsufficientFunds, "insufficient funds to send "+value.String()), nil
	}
	toAct, err := tree.GetActor(to)
	if err != nil {
		return nil, kernel.Fatalf("load receiver %d: %w", to, err)
	}

	fromAct.Balance = big.Sub(fromAct.Balance, value)
	toAct.Balance = big.Add(toAct.Balance, value)
	if err := tree.SetActor(from, fromAct); err != nil {
		return nil, kernel.Fatalf("debit %d: %w", from, err)
	}
	if err := tree.SetActor(to, toAct); err != nil {
		return nil, kernel.Fatalf("credit %d: %w", to, err)
	}
	return nil, nil
}

func (cm *CallManager) invoke(from, to abi.ActorID, code cid.Cid, method abi.MethodNum, params *kernel.Block, value abi.TokenAmount, entrypoint string) (*kernel.InvocationResult, error) {
	cfg := cm.machine.Config()
	blocks := kernel.NewBlockRegistry(cfg.MaxBlocks)
	paramsID := kernel.NoBlock
	if params != nil {
		id, err := blocks.Put(params)
		if err != nil {
			return nil, kernel.Fatalf("register params: %w", err)
		}
		paramsID = id
	}

	var (
		data    *syscalls.InvocationData[*kernel.DefaultKernel]
		imports engine.Imports
	)
	opts := syscalls.Options{EnableActorInstall: cfg.EnableActorInstall}
	if entrypoint == engine.EntrypointValidate {
		data = syscalls.NewInvocationData(kernel.NewValidateKernel(cm, blocks, to))
		imports = syscalls.BindValidate(data, opts)
	} else {
		data = syscalls.NewInvocationData(kernel.NewDefaultKernel(cm, blocks, from, to, method, value))
		imports = syscalls.BindInvoke(data, opts)
	}

	inst, err := cm.machine.Engine().Instantiate(code, imports)
	if errors.Is(err, engine.ErrCodeNotFound) {
		return cm.fail(to, method, exitcode.SysErrInvalidReceiver, err.Error()), nil
	}
	if err != nil {
		return cm.fail(to, method, types.ExitIllegalActor, "instantiate: "+err.Error()), nil
	}
	if !inst.HasEntrypoint(entrypoint) {
		return cm.fail(to, method, exitcode.SysErrInvalidReceiver, "no "+entrypoint+" entrypoint"), nil
	}

	data.Attach(inst)
	data.UpdateGasAvailable()
	retID, invokeErr := inst.Invoke(entrypoint, uint32(paramsID))
	if err := data.ChargeForExec(); err != nil && invokeErr == nil {
		invokeErr = err
	}

	if invokeErr != nil {
		if kernel.IsFatal(invokeErr) {
			cm.backtrace.SetFatal(invokeErr)
			return nil, invokeErr
		}
		if data.LastError != nil {
			cm.backtrace.Begin(data.LastError)
		}
		code := exitCodeOf(invokeErr)
		log.Debugw("invocation failed", "actor", to, "method", method, "code", code, "error", invokeErr)
		return cm.fail(to, method, code, invokeErr.Error()), nil
	}

	res := &kernel.InvocationResult{ExitCode: exitcode.Ok}
	if retID != 0 {
		ret, err := blocks.Get(kernel.BlockID(retID))
		if err != nil {
			return cm.fail(to, method, types.ExitMissingReturn, "invalid return handle"), nil
		}
		res.Return = ret
	}
	return res, nil
}

func (cm *CallManager) fail(to abi.ActorID, method abi.MethodNum, code exitcode.ExitCode, msg string) *kernel.InvocationResult {
	cm.backtrace.PushFrame(Frame{Source: to, Method: method, Code: code, Message: msg})
	return &kernel.InvocationResult{ExitCode: code}
}

func (cm *CallManager) record(ev ExecEvent) {
	if !cm.machine.Config().Tracing {
		return
	}
	cm.drainCharges()
	ev.Depth = cm.depth
	cm.trace = append(cm.trace, ev)
}

func (cm *CallManager) drainCharges() {
	for _, c := range cm.tracker.DrainTrace() {
		cm.trace = append(cm.trace, ExecEvent{Kind: EventGasCharge, Depth: cm.depth, Charge: c})
	}
}

// ExitCode maps a non-fatal error that ended an invocation to the exit
// code it is reported with. Fatal errors have no exit code.
func ExitCode(err error) (exitcode.ExitCode, error) {
	if kernel.IsFatal(err) {
		return 0, err
	}
	return exitCodeOf(err), nil
}

func exitCodeOf(err error) exitcode.ExitCode {
	if errors.Is(err, engine.ErrOutOfGas) || errors.Is(err, gas.ErrOutOfGas) {
		return exitcode.SysErrOutOfGas
	}
	if ab, ok := kernel.AsAbort(err); ok {
		return ab.Code
	}
	if errors.Is(err, engine.ErrNoEntrypoint) {
		return exitcode.SysErrInvalidReceiver
	}
	return types.ExitIllegalInstruction
}

var _ kernel.CallManager = (*CallManager)(nil)
