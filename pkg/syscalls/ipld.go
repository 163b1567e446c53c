package syscalls

import (
	"math"

	"github.com/fortiblox/actorvm/pkg/kernel"
)

// Block record sizes.
const (
	// {codec u64, id u32, size u32}
	BlockOpenRecordSize = 16
	// {codec u64, size u32, _ u32}
	BlockStatRecordSize = 16
)

func blockID(v uint64) (kernel.BlockID, error) {
	if v > math.MaxUint32 {
		return 0, kernel.Syscallf(kernel.InvalidHandle, "block handle %d out of range", v)
	}
	return kernel.BlockID(v), nil
}

func blockOpen[K kernel.IpldBlockOps](c *Context[K], args []uint64) error {
	out, err := c.Memory.Slice(args[0], BlockOpenRecordSize)
	if err != nil {
		return err
	}
	k, err := c.Memory.ReadCid(args[1], args[2])
	if err != nil {
		return err
	}
	id, stat, err := c.Kernel.BlockOpen(k)
	if err != nil {
		return err
	}
	putU64(out[0:], stat.Codec)
	putU32(out[8:], uint32(id))
	putU32(out[12:], stat.Size)
	return nil
}

func blockCreate[K kernel.IpldBlockOps](c *Context[K], args []uint64) error {
	out, err := c.Memory.Slice(args[0], 4)
	if err != nil {
		return err
	}
	data, err := c.Memory.Read(args[2], args[3])
	if err != nil {
		return err
	}
	id, err := c.Kernel.BlockCreate(args[1], data)
	if err != nil {
		return err
	}
	putU32(out, uint32(id))
	return nil
}

func blockRead[K kernel.IpldBlockOps](c *Context[K], args []uint64) error {
	out, err := c.Memory.Slice(args[0], 4)
	if err != nil {
		return err
	}
	id, err := blockID(args[1])
	if err != nil {
		return err
	}
	if args[2] > math.MaxUint32 {
		return kernel.Syscallf(kernel.IllegalArgument, "offset %d out of range", args[2])
	}
	buf, err := c.Memory.Slice(args[3], args[4])
	if err != nil {
		return err
	}
	remaining, err := c.Kernel.BlockRead(id, uint32(args[2]), buf)
	if err != nil {
		return err
	}
	putI32(out, remaining)
	return nil
}

func blockStat[K kernel.IpldBlockOps](c *Context[K], args []uint64) error {
	out, err := c.Memory.Slice(args[0], BlockStatRecordSize)
	if err != nil {
		return err
	}
	id, err := blockID(args[1])
	if err != nil {
		return err
	}
	stat, err := c.Kernel.BlockStat(id)
	if err != nil {
		return err
	}
	putU64(out[0:], stat.Codec)
	putU32(out[8:], stat.Size)
	putU32(out[12:], 0)
	return nil
}

func blockLink[K kernel.IpldBlockOps](c *Context[K], args []uint64) error {
	out, err := c.Memory.Slice(args[0], 4)
	if err != nil {
		return err
	}
	id, err := blockID(args[1])
	if err != nil {
		return err
	}
	if args[3] > math.MaxUint32 {
		return kernel.Syscallf(kernel.IllegalCid, "hash length %d out of range", args[3])
	}
	buf, err := c.Memory.Slice(args[4], args[5])
	if err != nil {
		return err
	}
	k, err := c.Kernel.BlockLink(id, args[2], uint32(args[3]))
	if err != nil {
		return err
	}
	n, err := putBytes(buf, k.Bytes())
	if err != nil {
		return err
	}
	putU32(out, n)
	return nil
}
