package types

import "github.com/filecoin-project/go-state-types/abi"

// ConsensusFaultType classifies a consensus fault.
type ConsensusFaultType uint32

const (
	ConsensusFaultDoubleForkMining ConsensusFaultType = 1
	ConsensusFaultParentGrinding   ConsensusFaultType = 2
	ConsensusFaultTimeOffsetMining ConsensusFaultType = 3
)

// ConsensusFault is a proven fault by a block producer.
type ConsensusFault struct {
	Target abi.ActorID
	Epoch  abi.ChainEpoch
	Type   ConsensusFaultType
}
