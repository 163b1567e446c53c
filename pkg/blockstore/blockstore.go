// Package blockstore provides content-addressed block storage for actor
// state, actor code and message parameters.
//
// Blocks are keyed by CID. Three backends are provided: an in-memory map,
// BadgerDB and BoltDB. Buffered wraps any backend so that writes made while
// executing messages only reach the backing store on Flush.
package blockstore

import (
	"errors"
	"sync"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

var (
	// ErrNotFound is returned when a block doesn't exist.
	ErrNotFound = errors.New("block not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("blockstore closed")

	// ErrHashMismatch is returned when data does not hash to the given CID.
	ErrHashMismatch = errors.New("block data does not match cid")
)

// DefaultHashFunction is the multihash used for every CID this module creates.
const DefaultHashFunction = multihash.BLAKE2B_MIN + 31

// Blockstore stores raw blocks keyed by CID.
type Blockstore interface {
	Get(c cid.Cid) ([]byte, error)
	Put(c cid.Cid, data []byte) error
	Has(c cid.Cid) (bool, error)
}

// Closer is implemented by stores holding external resources.
type Closer interface {
	Close() error
}

// CidBuilder returns the CID prefix for a codec.
func CidBuilder(codec uint64) cid.Prefix {
	return cid.Prefix{
		Version:  1,
		Codec:    codec,
		MhType:   DefaultHashFunction,
		MhLength: -1,
	}
}

// Sum computes the CID of data under codec.
func Sum(codec uint64, data []byte) (cid.Cid, error) {
	return CidBuilder(codec).Sum(data)
}

// PutBlock hashes data, stores it and returns its CID.
func PutBlock(bs Blockstore, codec uint64, data []byte) (cid.Cid, error) {
	c, err := Sum(codec, data)
	if err != nil {
		return cid.Undef, err
	}
	if err := bs.Put(c, data); err != nil {
		return cid.Undef, err
	}
	return c, nil
}

// Memory is an in-memory blockstore, safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	blocks map[cid.Cid][]byte
}

// NewMemory creates an empty in-memory blockstore.
func NewMemory() *Memory {
	return &Memory{blocks: make(map[cid.Cid][]byte)}
}

// Get implements Blockstore.
func (m *Memory) Get(c cid.Cid) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blocks[c]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Put implements Blockstore.
func (m *Memory) Put(c cid.Cid, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[c] = append([]byte(nil), data...)
	return nil
}

// Has implements Blockstore.
func (m *Memory) Has(c cid.Cid) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blocks[c]
	return ok, nil
}

// Len returns the number of stored blocks.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blocks)
}

// ForEach calls fn for every block. Iteration order is unspecified.
func (m *Memory) ForEach(fn func(c cid.Cid, data []byte) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for c, data := range m.blocks {
		if err := fn(c, data); err != nil {
			return err
		}
	}
	return nil
}

var _ Blockstore = (*Memory)(nil)
