package syscalls

import (
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/crypto"

	"github.com/fortiblox/actorvm/pkg/kernel"
)

// RandomnessLength is the number of bytes written by the rand imports.
const RandomnessLength = 32

type randomnessSource func(crypto.DomainSeparationTag, abi.ChainEpoch, []byte) ([32]byte, error)

// drawRandomness writes exactly RandomnessLength bytes on success and
// nothing on failure.
func drawRandomness(mem Memory, args []uint64, draw randomnessSource) error {
	out, err := mem.Slice(args[0], RandomnessLength)
	if err != nil {
		return err
	}
	entropy, err := mem.Read(args[3], args[4])
	if err != nil {
		return err
	}
	r, err := draw(crypto.DomainSeparationTag(args[1]), abi.ChainEpoch(int64(args[2])), entropy)
	if err != nil {
		return err
	}
	copy(out, r[:])
	return nil
}

func getChainRandomness[K kernel.RandomnessOps](c *Context[K], args []uint64) error {
	return drawRandomness(c.Memory, args, c.Kernel.GetRandomnessFromTickets)
}

func getBeaconRandomness[K kernel.RandomnessOps](c *Context[K], args []uint64) error {
	return drawRandomness(c.Memory, args, c.Kernel.GetRandomnessFromBeacon)
}
