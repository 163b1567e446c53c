package syscalls

import (
	"math"

	"github.com/fortiblox/actorvm/pkg/gas"
	"github.com/fortiblox/actorvm/pkg/kernel"
)

func chargeGas[K kernel.GasOps](c *Context[K], args []uint64) error {
	name, err := c.Memory.ReadString(args[0], args[1])
	if err != nil {
		return err
	}
	if args[2] > math.MaxInt64 {
		return kernel.Syscallf(kernel.IllegalArgument, "charge of %d milligas out of range", args[2])
	}
	return c.Kernel.ChargeGas(name, gas.FromMilligas(int64(args[2])))
}
