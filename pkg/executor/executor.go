// Package executor applies messages to a machine's state tree and settles
// their gas fees.
package executor

import (
	"errors"
	"fmt"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/fortiblox/actorvm/internal/types"
	"github.com/fortiblox/actorvm/pkg/callmanager"
	"github.com/fortiblox/actorvm/pkg/gas"
	"github.com/fortiblox/actorvm/pkg/kernel"
	"github.com/fortiblox/actorvm/pkg/machine"
	"github.com/fortiblox/actorvm/pkg/state"
)

var log = logging.Logger("executor")

var (
	// ErrFatal wraps host failures that leave the machine unusable.
	ErrFatal = errors.New("fatal error applying message")
)

// GasCosts is how the gas deposit of a message was split.
type GasCosts struct {
	BaseFeeBurn abi.TokenAmount
	MinerTip    abi.TokenAmount
	Refund      abi.TokenAmount
}

// ApplyRet is the outcome of applying a message.
type ApplyRet struct {
	Receipt     types.Receipt
	Backtrace   callmanager.Backtrace
	GasCosts    GasCosts
	ExecTrace   []callmanager.ExecEvent
	FailureInfo string
}

// DefaultExecutor applies messages one at a time.
type DefaultExecutor struct {
	machine *machine.Machine
}

// New creates an executor over m.
func New(m *machine.Machine) *DefaultExecutor {
	return &DefaultExecutor{machine: m}
}

// Machine returns the underlying machine.
func (e *DefaultExecutor) Machine() *machine.Machine {
	return e.machine
}

func (e *DefaultExecutor) tree() *state.StateTree {
	return e.machine.StateTree()
}

// ExecuteMessage applies msg. rawLength is the size of the message as
// included on chain and prices inclusion. A message that fails syntactic
// checks is refused with an error wrapping types.ErrInvalidMessage and
// leaves the machine untouched. Any other error wraps ErrFatal and means
// the machine can no longer be used.
func (e *DefaultExecutor) ExecuteMessage(msg *types.Message, kind types.ApplyKind, rawLength int) (*ApplyRet, error) {
	if err := msg.ValidForBlockInclusion(); err != nil {
		return nil, err
	}

	var inclusion gas.Charge
	var senderID abi.ActorID
	if kind == types.ApplyExplicit {
		inclusion = e.machine.Pricelist().OnChainMessage(rawLength)
		id, ret, err := e.preflight(msg, inclusion)
		if ret != nil || err != nil {
			return ret, err
		}
		senderID = id
	} else {
		id, ok, err := e.tree().LookupID(msg.From)
		if err != nil || !ok {
			return preflightFailure(exitcode.SysErrSenderInvalid, "implicit sender not found"), nil
		}
		senderID = id
	}

	cm := callmanager.New(e.machine, gas.NewGas(msg.GasLimit), senderID, msg.Sequence)
	var sendErr error
	if kind == types.ApplyExplicit {
		sendErr = cm.GasTracker().Apply(inclusion)
	}

	var res *kernel.InvocationResult
	if sendErr == nil {
		var params *kernel.Block
		if len(msg.Params) > 0 {
			params = kernel.NewBlock(cid.DagCBOR, msg.Params)
		}
		res, sendErr = cm.Send(senderID, msg.To, msg.Method, params, msg.Value, nil)
	}
	gasUsed, bt, trace := cm.Finish()

	ret := &ApplyRet{Backtrace: bt, ExecTrace: trace}
	ret.Receipt.GasUsed = gasUsed.Round()
	switch {
	case sendErr != nil:
		code, err := callmanager.ExitCode(sendErr)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFatal, err)
		}
		ret.Receipt.ExitCode = code
		ret.FailureInfo = sendErr.Error()
		if ret.Backtrace.IsEmpty() {
			ret.Backtrace.PushFrame(callmanager.Frame{Source: senderID, Method: msg.Method, Code: code, Message: sendErr.Error()})
		}
	case !res.ExitCode.IsSuccess():
		ret.Receipt.ExitCode = res.ExitCode
		ret.FailureInfo = ret.Backtrace.String()
	default:
		ret.Receipt.ExitCode = exitcode.Ok
		if res.Return != nil {
			ret.Receipt.Return = res.Return.Data
		}
		ret.Backtrace.Clear()
	}

	if kind == types.ApplyExplicit {
		costs, err := e.settle(msg, senderID, ret.Receipt.GasUsed)
		if err != nil {
			return nil, fmt.Errorf("%w: settle fees: %w", ErrFatal, err)
		}
		ret.GasCosts = costs
	}

	log.Debugw("applied message",
		"from", msg.From, "to", msg.To, "method", msg.Method,
		"exit", ret.Receipt.ExitCode, "gas", ret.Receipt.GasUsed)
	return ret, nil
}

// preflight checks the sender can pay for msg, then takes the gas deposit
// and bumps the sender's sequence outside of the message's transaction.
func (e *DefaultExecutor) preflight(msg *types.Message, inclusion gas.Charge) (abi.ActorID, *ApplyRet, error) {
	if inclusion.Amount > gas.NewGas(msg.GasLimit) {
		return 0, preflightFailure(exitcode.SysErrOutOfGas, "gas limit below inclusion cost"), nil
	}

	tree := e.tree()
	id, ok, err := tree.LookupID(msg.From)
	if err != nil || !ok {
		return 0, preflightFailure(exitcode.SysErrSenderInvalid, "sender not found"), nil
	}
	act, err := tree.GetActor(id)
	if errors.Is(err, state.ErrActorNotFound) {
		return 0, preflightFailure(exitcode.SysErrSenderInvalid, "sender not found"), nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("%w: load sender: %w", ErrFatal, err)
	}
	if !e.machine.Manifest().IsAccount(act.Code) {
		return 0, preflightFailure(exitcode.SysErrSenderInvalid, "sender is not an account"), nil
	}
	if act.Sequence != msg.Sequence {
		return 0, preflightFailure(exitcode.SysErrSenderStateInvalid, "sequence mismatch"), nil
	}
	deposit := big.Mul(msg.GasFeeCap, big.NewInt(msg.GasLimit))
	if act.Balance.LessThan(deposit) {
		return 0, preflightFailure(exitcode.SysErrSenderStateInvalid, "insufficient balance for gas"), nil
	}

	act.Balance = big.Sub(act.Balance, deposit)
	act.Sequence++
	if err := tree.SetActor(id, act); err != nil {
		return 0, nil, fmt.Errorf("%w: take deposit: %w", ErrFatal, err)
	}
	return id, nil, nil
}

func preflightFailure(code exitcode.ExitCode, reason string) *ApplyRet {
	ret := &ApplyRet{Receipt: types.Failure(code, 0), FailureInfo: reason}
	ret.Backtrace.PushFrame(callmanager.Frame{Code: code, Message: reason})
	return ret
}

// settle splits the deposit: the base fee on gas used is burnt, the
// premium on the gas limit goes to the reward actor and the rest returns
// to the sender.
func (e *DefaultExecutor) settle(msg *types.Message, sender abi.ActorID, gasUsed int64) (GasCosts, error) {
	baseFee := e.machine.Context().BaseFee
	deposit := big.Mul(msg.GasFeeCap, big.NewInt(msg.GasLimit))

	burn := big.Mul(big.Min(baseFee, msg.GasFeeCap), big.NewInt(gasUsed))
	tipRate := big.Min(msg.GasPremium, big.Sub(msg.GasFeeCap, baseFee))
	if tipRate.Sign() < 0 {
		tipRate = big.Zero()
	}
	tip := big.Mul(tipRate, big.NewInt(msg.GasLimit))
	refund := big.Sub(big.Sub(deposit, burn), tip)
	if refund.Sign() < 0 {
		return GasCosts{}, xerrors.Errorf("negative refund %s", refund)
	}

	if err := e.credit(types.BurntFundsActorID, burn); err != nil {
		return GasCosts{}, err
	}
	if err := e.credit(types.RewardActorID, tip); err != nil {
		return GasCosts{}, err
	}
	err := e.credit(sender, refund)
	if errors.Is(err, state.ErrActorNotFound) {
		// The sender deleted itself; its refund is burnt.
		err = e.credit(types.BurntFundsActorID, refund)
	}
	if err != nil {
		return GasCosts{}, err
	}
	return GasCosts{BaseFeeBurn: burn, MinerTip: tip, Refund: refund}, nil
}

func (e *DefaultExecutor) credit(id abi.ActorID, amt abi.TokenAmount) error {
	if amt.IsZero() {
		return nil
	}
	act, err := e.tree().GetActor(id)
	if err != nil {
		return xerrors.Errorf("credit %d: %w", id, err)
	}
	act.Balance = big.Add(act.Balance, amt)
	return e.tree().SetActor(id, act)
}

// Flush commits the state tree and the buffered blocks and returns the
// new state root.
func (e *DefaultExecutor) Flush() (cid.Cid, error) {
	root, err := e.machine.Flush()
	if err != nil {
		return cid.Undef, err
	}
	log.Infow("flushed state", "root", root)
	return root, nil
}
