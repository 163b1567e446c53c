// Package native runs actors written in Go behind the same contract as
// bytecode: an instance owns a linear memory and a gas register, and every
// host capability is reached by calling an import by name.
package native

import (
	"fmt"
	"sync"

	"github.com/ipfs/go-cid"
	"golang.org/x/xerrors"

	"github.com/fortiblox/actorvm/pkg/engine"
)

// InvokeMilligas is burnt on entry to every native entrypoint.
const InvokeMilligas = 1000

// Actor is Go actor code.
type Actor interface {
	Invoke(rt *Runtime, params uint32) (uint32, error)
}

// Validator is implemented by actors exporting the validate entrypoint.
type Validator interface {
	Validate(rt *Runtime, params uint32) (uint32, error)
}

// Engine instantiates registered Go actors.
type Engine struct {
	mu         sync.RWMutex
	actors     map[cid.Cid]Actor
	memorySize int
}

// NewEngine creates an engine giving each instance memorySize bytes.
func NewEngine(memorySize int) *Engine {
	return &Engine{
		actors:     make(map[cid.Cid]Actor),
		memorySize: memorySize,
	}
}

// Register binds code to a.
func (e *Engine) Register(code cid.Cid, a Actor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.actors[code] = a
}

func (e *Engine) actor(code cid.Cid) (Actor, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.actors[code]
	if !ok {
		return nil, xerrors.Errorf("%w: %s", engine.ErrCodeNotFound, code)
	}
	return a, nil
}

// Preload implements engine.Engine.
func (e *Engine) Preload(code cid.Cid) error {
	_, err := e.actor(code)
	return err
}

// Instantiate implements engine.Engine.
func (e *Engine) Instantiate(code cid.Cid, imports engine.Imports) (engine.Instance, error) {
	a, err := e.actor(code)
	if err != nil {
		return nil, err
	}
	return NewInstance(a, e.memorySize, imports), nil
}

// Instance is one instantiated Go actor.
type Instance struct {
	actor   Actor
	mem     []byte
	gas     engine.GasRegister
	imports engine.Imports
}

// NewInstance creates an instance of a.
func NewInstance(a Actor, memorySize int, imports engine.Imports) *Instance {
	return &Instance{
		actor:   a,
		mem:     make([]byte, memorySize),
		imports: imports,
	}
}

// Memory implements engine.Instance.
func (i *Instance) Memory() engine.Memory {
	return engine.SliceMemory(i.mem)
}

// GasGlobal implements engine.Instance.
func (i *Instance) GasGlobal() engine.Global {
	return &i.gas
}

// HasEntrypoint implements engine.Instance.
func (i *Instance) HasEntrypoint(name string) bool {
	switch name {
	case engine.EntrypointInvoke:
		return true
	case engine.EntrypointValidate:
		_, ok := i.actor.(Validator)
		return ok
	}
	return false
}

// Invoke implements engine.Instance. A panic inside the actor becomes a
// trap.
func (i *Instance) Invoke(entrypoint string, paramsID uint32) (ret uint32, err error) {
	var fn func(*Runtime, uint32) (uint32, error)
	switch entrypoint {
	case engine.EntrypointInvoke:
		fn = i.actor.Invoke
	case engine.EntrypointValidate:
		if v, ok := i.actor.(Validator); ok {
			fn = v.Validate
		}
	}
	if fn == nil {
		return 0, xerrors.Errorf("%w: %q", engine.ErrNoEntrypoint, entrypoint)
	}

	defer func() {
		if r := recover(); r != nil {
			ret, err = 0, &engine.Trap{Reason: fmt.Sprintf("actor panicked: %v", r)}
		}
	}()

	rt := &Runtime{mem: i.mem, gas: &i.gas, imports: i.imports}
	if err := rt.Burn(InvokeMilligas); err != nil {
		return 0, err
	}
	return fn(rt, paramsID)
}

var (
	_ engine.Engine   = (*Engine)(nil)
	_ engine.Instance = (*Instance)(nil)
)
