package syscalls

import (
	"math"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/fortiblox/actorvm/pkg/kernel"
)

func resolveAddress[K kernel.ActorOps](c *Context[K], args []uint64) error {
	out, err := c.Memory.Slice(args[0], 8)
	if err != nil {
		return err
	}
	addr, err := c.Memory.ReadAddress(args[1], args[2])
	if err != nil {
		return err
	}
	id, err := c.Kernel.ResolveAddress(addr)
	if err != nil {
		return err
	}
	putU64(out, uint64(id))
	return nil
}

func getActorCodeCid[K kernel.ActorOps](c *Context[K], args []uint64) error {
	out, err := c.Memory.Slice(args[0], 4)
	if err != nil {
		return err
	}
	buf, err := c.Memory.Slice(args[2], args[3])
	if err != nil {
		return err
	}
	code, err := c.Kernel.GetActorCodeCid(abi.ActorID(args[1]))
	if err != nil {
		return err
	}
	n, err := putBytes(buf, code.Bytes())
	if err != nil {
		return err
	}
	putU32(out, n)
	return nil
}

func newActorAddress[K kernel.ActorOps](c *Context[K], args []uint64) error {
	out, err := c.Memory.Slice(args[0], 4)
	if err != nil {
		return err
	}
	buf, err := c.Memory.Slice(args[1], args[2])
	if err != nil {
		return err
	}
	addr, err := c.Kernel.NextActorAddress()
	if err != nil {
		return err
	}
	n, err := putBytes(buf, addr.Bytes())
	if err != nil {
		return err
	}
	putU32(out, n)
	return nil
}

func createActor[K kernel.ActorOps](c *Context[K], args []uint64) error {
	out, err := c.Memory.Slice(args[0], 8)
	if err != nil {
		return err
	}
	code, err := c.Memory.ReadCid(args[1], args[2])
	if err != nil {
		return err
	}
	addr, err := c.Memory.ReadAddress(args[3], args[4])
	if err != nil {
		return err
	}
	id, err := c.Kernel.CreateActor(code, addr)
	if err != nil {
		return err
	}
	putU64(out, uint64(id))
	return nil
}

func getBuiltinActorType[K kernel.ActorOps](c *Context[K], args []uint64) error {
	out, err := c.Memory.Slice(args[0], 4)
	if err != nil {
		return err
	}
	code, err := c.Memory.ReadCid(args[1], args[2])
	if err != nil {
		return err
	}
	putI32(out, c.Kernel.GetBuiltinActorType(code))
	return nil
}

func getCodeCidForType[K kernel.ActorOps](c *Context[K], args []uint64) error {
	out, err := c.Memory.Slice(args[0], 4)
	if err != nil {
		return err
	}
	buf, err := c.Memory.Slice(args[2], args[3])
	if err != nil {
		return err
	}
	typ := int64(args[1])
	if typ > math.MaxInt32 || typ < math.MinInt32 {
		return kernel.Syscallf(kernel.IllegalArgument, "actor type %d out of range", typ)
	}
	code, err := c.Kernel.GetCodeCidForType(int32(typ))
	if err != nil {
		return err
	}
	n, err := putBytes(buf, code.Bytes())
	if err != nil {
		return err
	}
	putU32(out, n)
	return nil
}

func installActor[K kernel.ActorOps](c *Context[K], args []uint64) error {
	code, err := c.Memory.ReadCid(args[0], args[1])
	if err != nil {
		return err
	}
	return c.Kernel.InstallActor(code)
}
