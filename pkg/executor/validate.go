package executor

import (
	"fmt"

	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/ipfs/go-cid"

	"github.com/fortiblox/actorvm/internal/cborutil"
	"github.com/fortiblox/actorvm/internal/types"
	"github.com/fortiblox/actorvm/pkg/callmanager"
	"github.com/fortiblox/actorvm/pkg/gas"
	"github.com/fortiblox/actorvm/pkg/kernel"
	"github.com/fortiblox/actorvm/pkg/machine"
)

// ValidationError is a message that failed validation. It is an expected
// outcome, not a host failure.
type ValidationError struct {
	ExitCode  exitcode.ExitCode
	Backtrace callmanager.Backtrace
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%d): %s", e.ExitCode, e.Reason)
}

func validationFailure(code exitcode.ExitCode, bt callmanager.Backtrace, reason string) *ValidationError {
	if bt.IsEmpty() {
		bt.PushFrame(callmanager.Frame{Code: code, Message: reason})
	}
	return &ValidationError{ExitCode: code, Backtrace: bt, Reason: reason}
}

// ValidateExecutor checks message signatures through the sender's
// validate entrypoint. It charges no fees and never changes state.
type ValidateExecutor struct {
	machine *machine.Machine
}

// NewValidateExecutor creates a validate executor over m.
func NewValidateExecutor(m *machine.Machine) *ValidateExecutor {
	return &ValidateExecutor{machine: m}
}

// ValidateMessage runs the sender's validate entrypoint on sig and the
// parameter payload of msg and returns the gas terms it accepted. Failed validation is reported as a
// *ValidationError; any other error is fatal.
func (v *ValidateExecutor) ValidateMessage(msg *types.Message, sig []byte) (*types.GasSpec, error) {
	id, ok, err := v.machine.StateTree().LookupID(msg.From)
	if err != nil || !ok {
		return nil, validationFailure(exitcode.SysErrSenderInvalid, callmanager.Backtrace{}, "sender not found")
	}

	params, err := cborutil.Marshal(&types.ValidateParams{Signature: sig, Payload: msg.Params})
	if err != nil {
		return nil, fmt.Errorf("%w: encode params: %w", ErrFatal, err)
	}

	limit := gas.NewGas(v.machine.Config().ValidationGasLimit)
	cm := callmanager.New(v.machine, limit, id, msg.Sequence)
	res, err := cm.Validate(id, kernel.NewBlock(cid.DagCBOR, params))
	gasUsed, bt, _ := cm.Finish()
	log.Debugw("validated message", "from", msg.From, "gas", gasUsed)

	if err != nil {
		code, ferr := callmanager.ExitCode(err)
		if ferr != nil {
			return nil, fmt.Errorf("%w: %w", ErrFatal, ferr)
		}
		return nil, validationFailure(code, bt, err.Error())
	}
	if !res.ExitCode.IsSuccess() {
		return nil, validationFailure(res.ExitCode, bt, fmt.Sprintf("validate entrypoint exited with %d", res.ExitCode))
	}
	if res.Return == nil {
		return nil, validationFailure(types.ExitMissingReturn, bt, "validate entrypoint returned nothing")
	}

	var spec types.GasSpec
	if err := cborutil.Unmarshal(res.Return.Data, &spec); err != nil {
		return nil, validationFailure(exitcode.ErrSerialization, bt, "decode gas spec: "+err.Error())
	}
	return &spec, nil
}
