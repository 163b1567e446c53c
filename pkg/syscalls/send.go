package syscalls

import (
	"math"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/fortiblox/actorvm/internal/types"
	"github.com/fortiblox/actorvm/pkg/gas"
	"github.com/fortiblox/actorvm/pkg/kernel"
)

// SendRecordSize is the size of the send.send return record:
// {exit u32, return_id u32, codec u64, size u32, _ u32}.
const SendRecordSize = 24

func send[K kernel.SendOps](c *Context[K], args []uint64) error {
	out, err := c.Memory.Slice(args[0], SendRecordSize)
	if err != nil {
		return err
	}
	to, err := c.Memory.ReadAddress(args[1], args[2])
	if err != nil {
		return err
	}
	if args[4] > math.MaxUint32 {
		return kernel.Syscallf(kernel.InvalidHandle, "params handle %d out of range", args[4])
	}
	value := types.TokenFromParts(args[6], args[5])

	var limit *gas.Gas
	if args[7] != 0 {
		whole := int64(math.MaxInt64)
		if args[7] < math.MaxInt64 {
			whole = int64(args[7])
		}
		g := gas.NewGas(whole)
		limit = &g
	}

	res, err := c.Kernel.Send(to, abi.MethodNum(args[3]), kernel.BlockID(args[4]), value, limit)
	if err != nil {
		return err
	}
	putU32(out[0:], uint32(res.ExitCode))
	putU32(out[4:], uint32(res.ReturnID))
	putU64(out[8:], res.Return.Codec)
	putU32(out[16:], res.Return.Size)
	putU32(out[20:], 0)
	return nil
}
