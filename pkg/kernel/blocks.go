package kernel

import (
	"github.com/ipfs/go-cid"
)

// BlockID is an invocation-local handle for a block. Zero means no block.
type BlockID uint32

// NoBlock is the zero handle.
const NoBlock BlockID = 0

// Codecs actors may open, create and link.
var allowedCodecs = map[uint64]struct{}{
	cid.Raw:     {},
	cid.DagCBOR: {},
	0x51:        {}, // cbor
}

// CodecAllowed reports whether actors may use codec.
func CodecAllowed(codec uint64) bool {
	_, ok := allowedCodecs[codec]
	return ok
}

// Block is a codec-tagged payload.
type Block struct {
	Codec uint64
	Data  []byte
}

// NewBlock copies data into a new block.
func NewBlock(codec uint64, data []byte) *Block {
	return &Block{Codec: codec, Data: append([]byte(nil), data...)}
}

// Size returns the payload length.
func (b *Block) Size() uint32 {
	return uint32(len(b.Data))
}

// Stat returns the block's codec and size.
func (b *Block) Stat() BlockStat {
	return BlockStat{Codec: b.Codec, Size: b.Size()}
}

// BlockStat describes a block.
type BlockStat struct {
	Codec uint64
	Size  uint32
}

// BlockRegistry holds the blocks of one invocation. Handles start at 1.
type BlockRegistry struct {
	blocks []*Block
	max    int
}

// NewBlockRegistry creates a registry holding at most max blocks.
func NewBlockRegistry(max int) *BlockRegistry {
	return &BlockRegistry{max: max}
}

// Put registers a block and returns its handle.
func (r *BlockRegistry) Put(b *Block) (BlockID, error) {
	if len(r.blocks) >= r.max {
		return NoBlock, Syscallf(LimitExceeded, "too many blocks (%d)", r.max)
	}
	r.blocks = append(r.blocks, b)
	return BlockID(len(r.blocks)), nil
}

// Get returns the block behind a handle.
func (r *BlockRegistry) Get(id BlockID) (*Block, error) {
	if id == NoBlock || int(id) > len(r.blocks) {
		return nil, Syscallf(InvalidHandle, "invalid block handle %d", id)
	}
	return r.blocks[id-1], nil
}

// Stat returns the codec and size of a block.
func (r *BlockRegistry) Stat(id BlockID) (BlockStat, error) {
	b, err := r.Get(id)
	if err != nil {
		return BlockStat{}, err
	}
	return b.Stat(), nil
}

// Len returns the number of registered blocks.
func (r *BlockRegistry) Len() int {
	return len(r.blocks)
}
