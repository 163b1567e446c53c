package syscalls

import (
	"github.com/fortiblox/actorvm/pkg/kernel"
)

func debugLog[K kernel.DebugOps](c *Context[K], args []uint64) error {
	if !c.Kernel.DebugEnabled() {
		return nil
	}
	msg, err := c.Memory.ReadString(args[0], args[1])
	if err != nil {
		return err
	}
	c.Kernel.Log(msg)
	return nil
}

func debugEnabled[K kernel.DebugOps](c *Context[K], args []uint64) error {
	out, err := c.Memory.Slice(args[0], 4)
	if err != nil {
		return err
	}
	putI32(out, boolResult(c.Kernel.DebugEnabled()))
	return nil
}

func debugStoreArtifact[K kernel.DebugOps](c *Context[K], args []uint64) error {
	if !c.Kernel.DebugEnabled() {
		return nil
	}
	name, err := c.Memory.ReadString(args[0], args[1])
	if err != nil {
		return err
	}
	data, err := c.Memory.Read(args[2], args[3])
	if err != nil {
		return err
	}
	return c.Kernel.StoreArtifact(name, data)
}
