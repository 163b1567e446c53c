package syscalls

import (
	"math"

	"github.com/filecoin-project/go-state-types/exitcode"

	"github.com/fortiblox/actorvm/internal/types"
	"github.com/fortiblox/actorvm/pkg/kernel"
)

// ContextRecordSize is the size of the vm.context record.
const ContextRecordSize = 80

// MaxAbortMessageLength truncates abort messages.
const MaxAbortMessageLength = 1024

// vmAbort always traps. Actors may not raise system exit codes; an abort
// with one is reported as ExitIllegalActor.
func vmAbort[K any](c *Context[K], args []uint64) error {
	n := args[2]
	if n > MaxAbortMessageLength {
		n = MaxAbortMessageLength
	}
	msg, err := c.Memory.ReadString(args[1], n)
	if err != nil {
		msg = "(abort message out of bounds)"
	}
	code := args[0]
	if code < uint64(types.FirstActorExitCode) || code > math.MaxInt32 {
		return kernel.Abortf(types.ExitIllegalActor, "actor aborted with system exit code %d: %s", code, msg)
	}
	return &kernel.Abort{Code: exitcode.ExitCode(code), Message: msg}
}

func vmContext[K kernel.MessageOps](c *Context[K], args []uint64) error {
	out, err := c.Memory.Slice(args[0], ContextRecordSize)
	if err != nil {
		return err
	}
	ctx := c.Kernel.MsgContext()
	lo, hi, err := types.TokenToParts(ctx.Value)
	if err != nil {
		return kernel.Fatalf("invocation value: %w", err)
	}
	putU64(out[0:], uint64(ctx.Epoch))
	putU64(out[8:], uint64(ctx.Caller))
	putU64(out[16:], uint64(ctx.Origin))
	putU64(out[24:], uint64(ctx.Receiver))
	putU64(out[32:], uint64(ctx.Method))
	putU64(out[40:], lo)
	putU64(out[48:], hi)
	putU64(out[56:], uint64(ctx.GasLimit.Round()))
	putU64(out[64:], uint64(ctx.NetworkVersion))
	putU64(out[72:], ctx.Nonce)
	return nil
}
