package callmanager

import (
	"fmt"
	"strings"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/exitcode"

	"github.com/fortiblox/actorvm/pkg/kernel"
	"github.com/fortiblox/actorvm/pkg/syscalls"
)

// Frame is one failed invocation.
type Frame struct {
	Source  abi.ActorID
	Method  abi.MethodNum
	Code    exitcode.ExitCode
	Message string
}

func (f Frame) String() string {
	return fmt.Sprintf("%05d::%d -- %s (%d)", f.Source, f.Method, f.Message, f.Code)
}

// Cause is what started a failure: the last syscall error of the first
// failed frame, or a fatal host error.
type Cause struct {
	Module   string
	Function string
	Number   kernel.ErrorNumber
	Message  string
	Fatal    bool
}

func (c *Cause) String() string {
	if c.Fatal {
		return "fatal: " + c.Message
	}
	return fmt.Sprintf("%s.%s -- %s (%d)", c.Module, c.Function, c.Message, c.Number)
}

// Backtrace records why a message failed, innermost frame first. It is
// empty exactly when the message succeeded.
type Backtrace struct {
	Frames []Frame
	Cause  *Cause
}

// IsEmpty reports whether nothing was recorded.
func (bt *Backtrace) IsEmpty() bool {
	return len(bt.Frames) == 0 && bt.Cause == nil
}

// Clear drops all frames and the cause.
func (bt *Backtrace) Clear() {
	bt.Frames = nil
	bt.Cause = nil
}

// Begin starts a new failure chain at a syscall error, dropping frames of
// earlier failures the actor handled.
func (bt *Backtrace) Begin(le *syscalls.LastError) {
	bt.Frames = nil
	bt.Cause = &Cause{
		Module:   le.Module,
		Function: le.Function,
		Number:   le.Number,
		Message:  le.Message,
	}
}

// SetFatal records a fatal cause.
func (bt *Backtrace) SetFatal(err error) {
	bt.Cause = &Cause{Fatal: true, Message: err.Error()}
}

// PushFrame appends a frame as the failure unwinds.
func (bt *Backtrace) PushFrame(f Frame) {
	bt.Frames = append(bt.Frames, f)
}

func (bt *Backtrace) String() string {
	var sb strings.Builder
	for i, f := range bt.Frames {
		fmt.Fprintf(&sb, "%02d: %s\n", i, f)
	}
	if bt.Cause != nil {
		fmt.Fprintf(&sb, "--> caused by: %s\n", bt.Cause)
	}
	return sb.String()
}
