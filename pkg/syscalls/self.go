package syscalls

import (
	"github.com/fortiblox/actorvm/internal/types"
	"github.com/fortiblox/actorvm/pkg/kernel"
)

func selfRoot[K kernel.SelfOps](c *Context[K], args []uint64) error {
	out, err := c.Memory.Slice(args[0], 4)
	if err != nil {
		return err
	}
	buf, err := c.Memory.Slice(args[1], args[2])
	if err != nil {
		return err
	}
	root, err := c.Kernel.Root()
	if err != nil {
		return err
	}
	n, err := putBytes(buf, root.Bytes())
	if err != nil {
		return err
	}
	putU32(out, n)
	return nil
}

func selfSetRoot[K kernel.SelfOps](c *Context[K], args []uint64) error {
	root, err := c.Memory.ReadCid(args[0], args[1])
	if err != nil {
		return err
	}
	return c.Kernel.SetRoot(root)
}

func selfCurrentBalance[K kernel.SelfOps](c *Context[K], args []uint64) error {
	out, err := c.Memory.Slice(args[0], types.TokenAmountSize)
	if err != nil {
		return err
	}
	balance, err := c.Kernel.CurrentBalance()
	if err != nil {
		return err
	}
	return putToken(out, balance)
}

func selfDestruct[K kernel.SelfOps](c *Context[K], args []uint64) error {
	return c.Kernel.SelfDestruct(args[0] != 0)
}
