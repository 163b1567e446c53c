// Package engine defines the contract between the host and the sandbox that
// runs actor code.
//
// An Engine turns a code CID into an Instance. An Instance exposes one linear
// memory, one mutable gas register denominated in milligas, and named
// entrypoints. Host functions are supplied as Imports when the instance is
// created; the sandbox calls them synchronously.
package engine

import (
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
)

// Entrypoints exported by actor code.
const (
	EntrypointInvoke   = "invoke"
	EntrypointValidate = "validate"
)

var (
	// ErrOutOfGas is the trap raised when the gas register goes negative.
	ErrOutOfGas = errors.New("sandbox out of gas")

	// ErrCodeNotFound is returned when no engine knows a code CID.
	ErrCodeNotFound = errors.New("actor code not found")

	// ErrNoEntrypoint is returned when invoking a missing entrypoint.
	ErrNoEntrypoint = errors.New("entrypoint not exported")

	// ErrUnknownImport is the trap raised when code calls an import
	// that was not supplied.
	ErrUnknownImport = errors.New("unknown import")
)

// ImportName names a host function as module.name.
type ImportName struct {
	Module string
	Name   string
}

func (n ImportName) String() string {
	return n.Module + "." + n.Name
}

// HostFunc is a host function callable from the sandbox. A non-nil error
// traps and unwinds the whole instance.
type HostFunc func(args []uint64) (uint64, error)

// Imports maps import names to host functions.
type Imports map[ImportName]HostFunc

// Add registers fn under module.name.
func (im Imports) Add(module, name string, fn HostFunc) {
	im[ImportName{Module: module, Name: name}] = fn
}

// Lookup finds an import.
func (im Imports) Lookup(module, name string) (HostFunc, bool) {
	fn, ok := im[ImportName{Module: module, Name: name}]
	return fn, ok
}

// Memory is an instance's linear memory.
type Memory interface {
	Bytes() []byte
}

// Global is the instance's gas register.
type Global interface {
	Get() int64
	Set(v int64)
}

// Instance is one instantiated actor.
type Instance interface {
	Memory() Memory
	GasGlobal() Global
	HasEntrypoint(name string) bool

	// Invoke runs an entrypoint with the parameters block handle and
	// returns the return block handle (0 for none).
	Invoke(entrypoint string, paramsID uint32) (uint32, error)
}

// Engine instantiates actor code.
type Engine interface {
	Instantiate(code cid.Cid, imports Imports) (Instance, error)

	// Preload checks that code can be instantiated, caching whatever it
	// can.
	Preload(code cid.Cid) error
}

// Trap is an error raised by the sandbox itself rather than by a host
// function.
type Trap struct {
	Reason string
	PC     uint64
}

func (t *Trap) Error() string {
	return fmt.Sprintf("trap at pc=%d: %s", t.PC, t.Reason)
}
