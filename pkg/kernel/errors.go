package kernel

import (
	"errors"
	"fmt"

	"github.com/filecoin-project/go-state-types/exitcode"
)

// ErrorNumber is the error code a syscall returns to actor code.
type ErrorNumber uint32

// Syscall error numbers. Zero means success.
const (
	IllegalArgument   ErrorNumber = 1
	IllegalOperation  ErrorNumber = 2
	LimitExceeded     ErrorNumber = 3
	AssertionFailed   ErrorNumber = 4
	InsufficientFunds ErrorNumber = 5
	NotFound          ErrorNumber = 6
	InvalidHandle     ErrorNumber = 7
	IllegalCid        ErrorNumber = 8
	IllegalCodec      ErrorNumber = 9
	Serialization     ErrorNumber = 10
	Forbidden         ErrorNumber = 11
	BufferTooSmall    ErrorNumber = 12
)

var errorNames = map[ErrorNumber]string{
	IllegalArgument:   "IllegalArgument",
	IllegalOperation:  "IllegalOperation",
	LimitExceeded:     "LimitExceeded",
	AssertionFailed:   "AssertionFailed",
	InsufficientFunds: "InsufficientFunds",
	NotFound:          "NotFound",
	InvalidHandle:     "InvalidHandle",
	IllegalCid:        "IllegalCid",
	IllegalCodec:      "IllegalCodec",
	Serialization:     "Serialization",
	Forbidden:         "Forbidden",
	BufferTooSmall:    "BufferTooSmall",
}

func (n ErrorNumber) String() string {
	if s, ok := errorNames[n]; ok {
		return s
	}
	return fmt.Sprintf("ErrorNumber(%d)", uint32(n))
}

// SyscallError is a recoverable error reported to actor code as an error
// number.
type SyscallError struct {
	Number  ErrorNumber
	Message string
}

func (e *SyscallError) Error() string {
	return fmt.Sprintf("%s: %s", e.Number, e.Message)
}

// Syscallf creates a SyscallError.
func Syscallf(n ErrorNumber, format string, args ...any) error {
	return &SyscallError{Number: n, Message: fmt.Sprintf(format, args...)}
}

// Abort terminates the current frame with an exit code.
type Abort struct {
	Code    exitcode.ExitCode
	Message string
}

func (e *Abort) Error() string {
	return fmt.Sprintf("abort(%d): %s", e.Code, e.Message)
}

// Abortf creates an Abort.
func Abortf(code exitcode.ExitCode, format string, args ...any) error {
	return &Abort{Code: code, Message: fmt.Sprintf(format, args...)}
}

// FatalError is a host invariant violation. It aborts the whole message.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return "fatal: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatalf creates a FatalError.
func Fatalf(format string, args ...any) error {
	return &FatalError{Err: fmt.Errorf(format, args...)}
}

// AsSyscallError unwraps a SyscallError.
func AsSyscallError(err error) (*SyscallError, bool) {
	var se *SyscallError
	ok := errors.As(err, &se)
	return se, ok
}

// AsAbort unwraps an Abort.
func AsAbort(err error) (*Abort, bool) {
	var ab *Abort
	ok := errors.As(err, &ab)
	return ab, ok
}

// IsFatal reports whether err is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
