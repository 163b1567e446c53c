package native

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/actorvm/pkg/engine"
	"github.com/fortiblox/actorvm/pkg/kernel"
)

type actorFunc func(rt *Runtime, params uint32) (uint32, error)

func (f actorFunc) Invoke(rt *Runtime, params uint32) (uint32, error) { return f(rt, params) }

type validatingActor struct {
	actorFunc
}

func (validatingActor) Validate(rt *Runtime, params uint32) (uint32, error) { return params + 1, nil }

func TestEngineRegistry(t *testing.T) {
	e := NewEngine(4096)
	code, err := cid.Prefix{Version: 1, Codec: cid.Raw, MhType: 0x00, MhLength: -1}.Sum([]byte("test"))
	require.NoError(t, err)

	require.ErrorIs(t, e.Preload(code), engine.ErrCodeNotFound)

	e.Register(code, actorFunc(func(rt *Runtime, params uint32) (uint32, error) { return params * 2, nil }))
	require.NoError(t, e.Preload(code))

	inst, err := e.Instantiate(code, nil)
	require.NoError(t, err)
	require.Len(t, inst.Memory().Bytes(), 4096)
	require.True(t, inst.HasEntrypoint(engine.EntrypointInvoke))
	require.False(t, inst.HasEntrypoint(engine.EntrypointValidate))

	inst.GasGlobal().Set(InvokeMilligas)
	ret, err := inst.Invoke(engine.EntrypointInvoke, 21)
	require.NoError(t, err)
	require.Equal(t, uint32(42), ret)
	require.Equal(t, int64(0), inst.GasGlobal().Get())

	_, err = inst.Invoke(engine.EntrypointValidate, 0)
	require.ErrorIs(t, err, engine.ErrNoEntrypoint)
}

func TestValidateEntrypoint(t *testing.T) {
	inst := NewInstance(validatingActor{}, 4096, nil)
	require.True(t, inst.HasEntrypoint(engine.EntrypointValidate))
	inst.GasGlobal().Set(1_000_000)
	ret, err := inst.Invoke(engine.EntrypointValidate, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(2), ret)
}

func TestInvokeOutOfGas(t *testing.T) {
	inst := NewInstance(actorFunc(func(*Runtime, uint32) (uint32, error) { return 0, nil }), 4096, nil)
	inst.GasGlobal().Set(InvokeMilligas - 1)
	_, err := inst.Invoke(engine.EntrypointInvoke, 0)
	require.ErrorIs(t, err, engine.ErrOutOfGas)
}

func TestPanicBecomesTrap(t *testing.T) {
	inst := NewInstance(actorFunc(func(*Runtime, uint32) (uint32, error) { panic("boom") }), 4096, nil)
	inst.GasGlobal().Set(1_000_000)
	_, err := inst.Invoke(engine.EntrypointInvoke, 0)
	var trap *engine.Trap
	require.True(t, errors.As(err, &trap), "got %v", err)
	require.Contains(t, trap.Reason, "boom")
}

func TestAlloc(t *testing.T) {
	rt := &Runtime{mem: make([]byte, 64), gas: &engine.GasRegister{}}

	a, err := rt.Alloc(3)
	require.NoError(t, err)
	require.Equal(t, uint32(0), a)

	b, err := rt.Put([]byte("xyz"))
	require.NoError(t, err)
	require.Equal(t, uint32(8), b)
	require.Equal(t, []byte("xyz"), rt.Bytes(b, 3))

	_, err = rt.Alloc(64)
	require.ErrorIs(t, err, ErrOutOfMemory)
}

func TestCall(t *testing.T) {
	imports := engine.Imports{}
	imports.Add("test", "fail", func([]uint64) (uint64, error) { return uint64(kernel.NotFound), nil })
	imports.Add("test", "ok", func(args []uint64) (uint64, error) { return 0, nil })

	gas := &engine.GasRegister{}
	gas.Set(1_000)
	rt := &Runtime{mem: make([]byte, 64), gas: gas, imports: imports}

	require.NoError(t, rt.syscall("test", "ok"))
	require.Equal(t, int64(1_000-ImportMilligas), gas.Get())

	err := rt.syscall("test", "fail")
	require.True(t, IsErrorNumber(err, kernel.NotFound), "got %v", err)
	require.False(t, IsErrorNumber(err, kernel.Forbidden))

	_, err = rt.Call("test", "missing")
	require.ErrorIs(t, err, engine.ErrUnknownImport)
}

// TestBlockHelpers drives the SDK helpers against fake ipld imports that
// write into the instance memory the same way the host does.
func TestBlockHelpers(t *testing.T) {
	var inst *Instance
	mem := func() []byte { return inst.Memory().Bytes() }

	var created []byte
	imports := engine.Imports{}
	imports.Add("ipld", "block_stat", func(args []uint64) (uint64, error) {
		if args[1] != 1 {
			return uint64(kernel.InvalidHandle), nil
		}
		binary.LittleEndian.PutUint64(mem()[args[0]:], cid.DagCBOR)
		binary.LittleEndian.PutUint32(mem()[args[0]+8:], 3)
		return 0, nil
	})
	imports.Add("ipld", "block_read", func(args []uint64) (uint64, error) {
		n := copy(mem()[args[3]:args[3]+args[4]], "abc")
		binary.LittleEndian.PutUint32(mem()[args[0]:], uint32(int32(3-n)))
		return 0, nil
	})
	imports.Add("ipld", "block_create", func(args []uint64) (uint64, error) {
		created = append([]byte(nil), mem()[args[2]:args[2]+args[3]]...)
		binary.LittleEndian.PutUint32(mem()[args[0]:], 2)
		return 0, nil
	})

	inst = NewInstance(actorFunc(func(rt *Runtime, params uint32) (uint32, error) {
		codec, data, err := rt.ReadBlock(params)
		if err != nil {
			return 0, err
		}
		if codec != cid.DagCBOR || string(data) != "abc" {
			return 0, errors.New("unexpected block")
		}
		if _, _, err := rt.ReadBlock(7); !IsErrorNumber(err, kernel.InvalidHandle) {
			return 0, errors.New("expected invalid handle")
		}
		return rt.CreateBlock(cid.Raw, []byte("cba"))
	}), 4096, imports)
	inst.GasGlobal().Set(1_000_000)

	ret, err := inst.Invoke(engine.EntrypointInvoke, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(2), ret)
	require.Equal(t, []byte("cba"), created)
}
