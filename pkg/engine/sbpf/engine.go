package sbpf

import (
	"errors"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ipfs/go-cid"
	"golang.org/x/xerrors"

	"github.com/fortiblox/actorvm/pkg/blockstore"
	"github.com/fortiblox/actorvm/pkg/engine"
)

// EngineConfig configures the bytecode engine.
type EngineConfig struct {
	// CacheSize is the number of parsed modules kept in memory.
	CacheSize int

	// MemorySize is the linear memory size of every instance. It must
	// exceed StackSize plus the largest data segment.
	MemorySize int
}

// Engine loads modules from a blockstore and instantiates them.
type Engine struct {
	store blockstore.Blockstore
	cache *lru.Cache[cid.Cid, *Module]
	cfg   EngineConfig
}

// NewEngine creates an engine reading code from store.
func NewEngine(store blockstore.Blockstore, cfg EngineConfig) (*Engine, error) {
	if cfg.MemorySize <= StackSize {
		return nil, xerrors.Errorf("memory size %d must exceed stack size %d", cfg.MemorySize, StackSize)
	}
	cache, err := lru.New[cid.Cid, *Module](cfg.CacheSize)
	if err != nil {
		return nil, xerrors.Errorf("module cache: %w", err)
	}
	return &Engine{store: store, cache: cache, cfg: cfg}, nil
}

func (e *Engine) load(code cid.Cid) (*Module, error) {
	if m, ok := e.cache.Get(code); ok {
		return m, nil
	}
	raw, err := e.store.Get(code)
	if errors.Is(err, blockstore.ErrNotFound) {
		return nil, xerrors.Errorf("%w: %s", engine.ErrCodeNotFound, code)
	}
	if err != nil {
		return nil, xerrors.Errorf("loading code %s: %w", code, err)
	}
	m, err := Parse(raw)
	if err != nil {
		return nil, xerrors.Errorf("code %s: %w", code, err)
	}
	if len(m.Data)+StackSize > e.cfg.MemorySize {
		return nil, xerrors.Errorf("code %s: %w", code, invalid("data segment of %d bytes does not fit", len(m.Data)))
	}
	e.cache.Add(code, m)
	return m, nil
}

// Preload implements engine.Engine.
func (e *Engine) Preload(code cid.Cid) error {
	_, err := e.load(code)
	return err
}

// Instantiate implements engine.Engine.
func (e *Engine) Instantiate(code cid.Cid, imports engine.Imports) (engine.Instance, error) {
	m, err := e.load(code)
	if err != nil {
		return nil, err
	}
	return NewInstance(m, e.cfg.MemorySize, imports)
}

// Instance is one instantiated module.
type Instance struct {
	mod     *Module
	mem     []byte
	gas     engine.GasRegister
	imports map[uint32]engine.HostFunc
}

// NewInstance lays out memory for m and links imports by hash.
func NewInstance(m *Module, memorySize int, imports engine.Imports) (*Instance, error) {
	if len(m.Data)+StackSize > memorySize {
		return nil, invalid("data segment of %d bytes does not fit", len(m.Data))
	}
	inst := &Instance{
		mod:     m,
		mem:     make([]byte, memorySize),
		imports: make(map[uint32]engine.HostFunc, len(imports)),
	}
	copy(inst.mem, m.Data)

	names := make(map[uint32]engine.ImportName, len(imports))
	for name, fn := range imports {
		h := ImportHash(name.Module, name.Name)
		if other, ok := names[h]; ok {
			return nil, xerrors.Errorf("import hash collision: %s and %s", other, name)
		}
		names[h] = name
		inst.imports[h] = fn
	}
	return inst, nil
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
	_, ok := i.mod.Entrypoints[name]
	return ok
}

// Invoke implements engine.Instance. The params handle is passed in R1 and
// R0 is the return handle.
func (i *Instance) Invoke(entrypoint string, paramsID uint32) (uint32, error) {
	pc, ok := i.mod.Entrypoints[entrypoint]
	if !ok {
		return 0, xerrors.Errorf("%w: %q", engine.ErrNoEntrypoint, entrypoint)
	}
	v := &vm{
		text:    i.mod.Text,
		mem:     i.mem,
		gas:     &i.gas,
		imports: i.imports,
	}
	r0, err := v.run(pc, uint64(paramsID))
	if err != nil {
		return 0, err
	}
	if r0 > math.MaxUint32 {
		return 0, &engine.Trap{Reason: "return handle out of range"}
	}
	return uint32(r0), nil
}

var (
	_ engine.Engine   = (*Engine)(nil)
	_ engine.Instance = (*Instance)(nil)
)
