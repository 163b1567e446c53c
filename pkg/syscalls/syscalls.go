// Package syscalls exposes kernel capabilities to actor code as imports.
//
// Every import receives a vector of u64 arguments. Buffers are passed as
// (offset, length) pairs into the instance's memory; outputs are written
// to a caller-supplied return record, usually args[0]. The u64 result is
// an error number, 0 on success.
//
// Handlers are generic over the narrow kernel interface they use. The
// canonical table instantiates them for one concrete kernel type, so a
// kernel lacking a capability fails to compile rather than fails at run
// time.
package syscalls

import (
	"errors"
	"fmt"

	"github.com/filecoin-project/go-state-types/exitcode"
	logging "github.com/ipfs/go-log/v2"

	"github.com/fortiblox/actorvm/pkg/engine"
	"github.com/fortiblox/actorvm/pkg/gas"
	"github.com/fortiblox/actorvm/pkg/kernel"
)

var log = logging.Logger("syscalls")

// LastError is the most recent syscall failure of an invocation. It is
// reported as the cause when the actor aborts right after.
type LastError struct {
	Module   string
	Function string
	Number   kernel.ErrorNumber
	Message  string
}

func (e *LastError) String() string {
	return fmt.Sprintf("%s.%s: %s: %s", e.Module, e.Function, e.Number, e.Message)
}

// InvocationData is the host side of one instance. It is owned by the
// call stack driving the invocation and never shared.
type InvocationData[K kernel.GasOps] struct {
	Kernel K

	// LastError is cleared by every successful syscall.
	LastError *LastError

	// GasGlobal and Memory are set once the instance exists.
	GasGlobal engine.Global
	Memory    engine.Memory

	// LastMilligasAvailable is the register value at the last sync.
	LastMilligasAvailable int64
}

// NewInvocationData creates the data for an invocation of k.
func NewInvocationData[K kernel.GasOps](k K) *InvocationData[K] {
	return &InvocationData[K]{Kernel: k}
}

// Attach records the instance whose imports this data backs.
func (d *InvocationData[K]) Attach(inst engine.Instance) {
	d.GasGlobal = inst.GasGlobal()
	d.Memory = inst.Memory()
}

// UpdateGasAvailable writes the ledger's available gas into the sandbox
// register. It runs before entering the sandbox and after every syscall.
func (d *InvocationData[K]) UpdateGasAvailable() {
	avail := d.Kernel.GasAvailable().AsMilligas()
	d.GasGlobal.Set(avail)
	d.LastMilligasAvailable = avail
}

// ChargeForExec charges the ledger for the milligas the sandbox burnt
// since the last sync. A register that went up is charged nothing.
func (d *InvocationData[K]) ChargeForExec() error {
	current := d.GasGlobal.Get()
	used := d.LastMilligasAvailable - current
	if used < 0 {
		used = 0
	}
	d.LastMilligasAvailable = current
	c := d.Kernel.Pricelist().OnExec(used)
	return d.Kernel.ChargeGas(c.Name, c.Amount)
}

// Context is what a handler sees: the kernel and the instance memory.
type Context[K any] struct {
	Kernel K
	Memory Memory
}

// Handler implements one import.
type Handler[K any] func(ctx *Context[K], args []uint64) error

// Syscall is one entry of the canonical table.
type Syscall[K any] struct {
	Module string
	Name   string
	Arity  int
	Fn     Handler[K]

	// SelfOnly entries are gated on the restricted surface.
	SelfOnly bool
}

// Bind registers s without a precondition.
func Bind[K kernel.GasOps](imports engine.Imports, data *InvocationData[K], s Syscall[K]) {
	BindChecked(imports, data, s, nil)
}

// BindChecked registers s behind pred. When pred rejects the kernel the
// handler does not run and the frame aborts with SysErrForbidden. A nil
// pred always passes.
func BindChecked[K kernel.GasOps](imports engine.Imports, data *InvocationData[K], s Syscall[K], pred func(K) bool) {
	imports.Add(s.Module, s.Name, func(args []uint64) (uint64, error) {
		return dispatch(data, s, pred, args)
	})
}

func dispatch[K kernel.GasOps](data *InvocationData[K], s Syscall[K], pred func(K) bool, args []uint64) (uint64, error) {
	if err := data.ChargeForExec(); err != nil {
		return 0, err
	}
	c := data.Kernel.Pricelist().OnSyscall()
	if err := data.Kernel.ChargeGas(c.Name, c.Amount); err != nil {
		return 0, err
	}

	if pred != nil && !pred(data.Kernel) {
		return 0, kernel.Abortf(exitcode.SysErrForbidden, "%s.%s rejected on restricted surface", s.Module, s.Name)
	}

	var err error
	if len(args) < s.Arity {
		err = kernel.Syscallf(kernel.IllegalArgument, "expected %d arguments, got %d", s.Arity, len(args))
	} else {
		var mem Memory
		if data.Memory != nil {
			mem = data.Memory.Bytes()
		}
		err = s.Fn(&Context[K]{Kernel: data.Kernel, Memory: mem}, args)
	}

	if err == nil {
		data.LastError = nil
		data.UpdateGasAvailable()
		return 0, nil
	}

	if se, ok := kernel.AsSyscallError(err); ok {
		data.LastError = &LastError{
			Module:   s.Module,
			Function: s.Name,
			Number:   se.Number,
			Message:  se.Message,
		}
		data.UpdateGasAvailable()
		return uint64(se.Number), nil
	}
	if errors.Is(err, gas.ErrOutOfGas) || kernel.IsFatal(err) {
		return 0, err
	}
	if _, ok := kernel.AsAbort(err); ok {
		return 0, err
	}
	log.Errorw("syscall failed with an unclassified error", "syscall", s.Module+"."+s.Name, "error", err)
	return 0, &kernel.FatalError{Err: fmt.Errorf("%s.%s: %w", s.Module, s.Name, err)}
}
