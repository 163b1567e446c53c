package programs

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/actorvm/internal/types"
	"github.com/fortiblox/actorvm/pkg/blockstore"
	"github.com/fortiblox/actorvm/pkg/engine"
	"github.com/fortiblox/actorvm/pkg/engine/sbpf"
	"github.com/fortiblox/actorvm/pkg/machine"
)

const memorySize = sbpf.StackSize + 1<<16

// stateHost fakes the three imports StateWriter uses.
type stateHost struct {
	inst    *sbpf.Instance
	data    []byte
	root    []byte
	aborted uint64
}

var errAborted = errors.New("aborted")

func (h *stateHost) imports(link cid.Cid) engine.Imports {
	im := engine.Imports{}
	im.Add("ipld", "block_create", func(args []uint64) (uint64, error) {
		mem := h.inst.Memory().Bytes()
		h.data = append([]byte(nil), mem[args[2]:args[2]+args[3]]...)
		binary.LittleEndian.PutUint32(mem[args[0]:], 1)
		return 0, nil
	})
	im.Add("ipld", "block_link", func(args []uint64) (uint64, error) {
		mem := h.inst.Memory().Bytes()
		b := link.Bytes()
		copy(mem[args[4]:], b)
		binary.LittleEndian.PutUint32(mem[args[0]:], uint32(len(b)))
		return 0, nil
	})
	im.Add("self", "set_root", func(args []uint64) (uint64, error) {
		mem := h.inst.Memory().Bytes()
		h.root = append([]byte(nil), mem[args[0]:args[0]+args[1]]...)
		return 0, nil
	})
	im.Add("vm", "abort", func(args []uint64) (uint64, error) {
		h.aborted = args[0]
		return 0, errAborted
	})
	return im
}

func run(t *testing.T, m *sbpf.Module, entry string, h *stateHost, link cid.Cid) (uint32, error) {
	t.Helper()
	var im engine.Imports
	if h != nil {
		im = h.imports(link)
	}
	inst, err := sbpf.NewInstance(m, memorySize, im)
	require.NoError(t, err)
	if h != nil {
		h.inst = inst
	}
	inst.GasGlobal().Set(1_000_000)
	return inst.Invoke(entry, 0)
}

func TestModulesRoundTrip(t *testing.T) {
	to := types.IDAddress(100)
	for name, m := range map[string]*sbpf.Module{
		"forwarder":    Forwarder(to, 2, 5),
		"state writer": StateWriter([]byte{0x80}, 0),
		"aborting":     StateWriter([]byte{0x80}, 20),
		"validator":    Validator([]byte{0x83, 0x01, 0x40, 0x40}, 0),
		"spinner":      Spinner(),
	} {
		t.Run(name, func(t *testing.T) {
			parsed, err := sbpf.Parse(m.Encode())
			require.NoError(t, err)
			require.Equal(t, m.Encode(), parsed.Encode())
			require.Contains(t, parsed.Entrypoints, engine.EntrypointInvoke)
		})
	}
	require.Contains(t, Validator(nil, 0).Entrypoints, engine.EntrypointValidate)
}

func TestStateWriter(t *testing.T) {
	link, err := blockstore.Sum(cid.DagCBOR, []byte{0x81, 0x01})
	require.NoError(t, err)

	h := &stateHost{}
	ret, err := run(t, StateWriter([]byte{0x81, 0x01}, 0), engine.EntrypointInvoke, h, link)
	require.NoError(t, err)
	require.Zero(t, ret)
	require.Equal(t, []byte{0x81, 0x01}, h.data)
	require.Equal(t, link.Bytes(), h.root)

	h = &stateHost{}
	_, err = run(t, StateWriter([]byte{0x81, 0x01}, 20), engine.EntrypointInvoke, h, link)
	require.ErrorIs(t, err, errAborted)
	require.Equal(t, uint64(20), h.aborted)
	require.Equal(t, link.Bytes(), h.root)
}

func TestValidatorInvokeDoesNothing(t *testing.T) {
	ret, err := run(t, Validator([]byte{0x80}, 0), engine.EntrypointInvoke, nil, cid.Undef)
	require.NoError(t, err)
	require.Zero(t, ret)
}

func TestSpinnerRunsOutOfGas(t *testing.T) {
	_, err := run(t, Spinner(), engine.EntrypointInvoke, nil, cid.Undef)
	require.ErrorIs(t, err, engine.ErrOutOfGas)
}

func TestDeploy(t *testing.T) {
	m, err := machine.New(machine.DefaultConfig(), blockstore.NewMemory(), cid.Undef, machine.DefaultExterns())
	require.NoError(t, err)

	id, addr, err := Deploy(m, Spinner(), big.NewInt(9))
	require.NoError(t, err)
	require.Equal(t, address.Actor, addr.Protocol())

	got, ok, err := m.StateTree().LookupID(addr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, got)

	act, err := m.StateTree().GetActor(id)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(9), act.Balance)
	code, err := blockstore.Sum(cid.Raw, Spinner().Encode())
	require.NoError(t, err)
	require.Equal(t, code, act.Code)

	// Same code, different actor.
	_, other, err := Deploy(m, Spinner(), big.Zero())
	require.NoError(t, err)
	require.NotEqual(t, addr, other)
}
