package syscalls

import (
	"github.com/filecoin-project/go-state-types/abi"

	"github.com/fortiblox/actorvm/internal/types"
	"github.com/fortiblox/actorvm/pkg/kernel"
)

func putToken(out []byte, amt abi.TokenAmount) error {
	if err := types.PutTokenAmount(out, amt); err != nil {
		return kernel.Syscallf(kernel.LimitExceeded, "%v", err)
	}
	return nil
}

func baseFee[K kernel.NetworkOps](c *Context[K], args []uint64) error {
	out, err := c.Memory.Slice(args[0], types.TokenAmountSize)
	if err != nil {
		return err
	}
	return putToken(out, c.Kernel.BaseFee())
}

func totalFilCircSupply[K kernel.NetworkOps](c *Context[K], args []uint64) error {
	out, err := c.Memory.Slice(args[0], types.TokenAmountSize)
	if err != nil {
		return err
	}
	supply, err := c.Kernel.TotalFilCircSupply()
	if err != nil {
		return err
	}
	return putToken(out, supply)
}
