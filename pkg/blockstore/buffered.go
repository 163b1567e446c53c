package blockstore

import (
	"sync"

	"github.com/ipfs/go-cid"
	"golang.org/x/xerrors"
)

// Buffered keeps writes in memory until Flush copies them to the backing
// store. Reads fall through to the backing store on a miss.
type Buffered struct {
	mu      sync.Mutex
	write   *Memory
	backing Blockstore
}

// NewBuffered wraps backing with a write buffer.
func NewBuffered(backing Blockstore) *Buffered {
	return &Buffered{
		write:   NewMemory(),
		backing: backing,
	}
}

// Get implements Blockstore.
func (b *Buffered) Get(c cid.Cid) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := b.write.Get(c)
	if err == nil {
		return data, nil
	}
	return b.backing.Get(c)
}

// Put implements Blockstore.
func (b *Buffered) Put(c cid.Cid, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.write.Put(c, data)
}

// Has implements Blockstore.
func (b *Buffered) Has(c cid.Cid) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ok, _ := b.write.Has(c); ok {
		return true, nil
	}
	return b.backing.Has(c)
}

// Pending returns the number of buffered blocks.
func (b *Buffered) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.write.Len()
}

// Flush writes every buffered block to the backing store and resets the
// buffer. Blocks no state links to, such as installed code, are kept.
func (b *Buffered) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if batch, ok := b.backing.(Batcher); ok {
		var blocks []Block
		_ = b.write.ForEach(func(c cid.Cid, data []byte) error {
			blocks = append(blocks, Block{Cid: c, Data: data})
			return nil
		})
		if err := batch.PutMany(blocks); err != nil {
			return xerrors.Errorf("flush %d blocks: %w", len(blocks), err)
		}
	} else {
		err := b.write.ForEach(func(c cid.Cid, data []byte) error {
			return b.backing.Put(c, data)
		})
		if err != nil {
			return xerrors.Errorf("flush blocks: %w", err)
		}
	}
	b.write = NewMemory()
	return nil
}

// Block is a CID and its data.
type Block struct {
	Cid  cid.Cid
	Data []byte
}

// Batcher is implemented by stores that can write many blocks atomically.
type Batcher interface {
	PutMany(blocks []Block) error
}

var _ Blockstore = (*Buffered)(nil)
