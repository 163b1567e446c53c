package blockstore

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/ipfs/go-cid"
)

// prefixBlock is the key prefix for block data.
// Key format: prefixBlock + cid bytes
var prefixBlock = []byte{0x01}

// BadgerConfig contains configuration for the Badger backend.
type BadgerConfig struct {
	// Path is the directory path for the database.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites ensures writes are synced to disk.
	SyncWrites bool

	// NumCompactors is the number of compaction workers.
	NumCompactors int

	// ValueLogFileSize is the size of each value log file.
	ValueLogFileSize int64
}

// DefaultBadgerConfig returns default configuration.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:             path,
		SyncWrites:       false,
		NumCompactors:    4,
		ValueLogFileSize: 256 << 20,
	}
}

// Badger is a BadgerDB-backed blockstore.
//
// Blocks are immutable, so Put never needs to read before writing and
// concurrent writers of the same CID write identical bytes.
type Badger struct {
	db     *badger.DB
	closed atomic.Bool
}

// OpenBadger opens (or creates) a Badger blockstore.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)
	if cfg.NumCompactors > 0 {
		opts = opts.WithNumCompactors(cfg.NumCompactors)
	}
	if cfg.ValueLogFileSize > 0 && !cfg.InMemory {
		opts = opts.WithValueLogFileSize(cfg.ValueLogFileSize)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

func blockKey(c cid.Cid) []byte {
	raw := c.Bytes()
	key := make([]byte, len(prefixBlock)+len(raw))
	copy(key, prefixBlock)
	copy(key[len(prefixBlock):], raw)
	return key
}

// Get implements Blockstore.
func (b *Badger) Get(c cid.Cid) ([]byte, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(c))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Put implements Blockstore.
func (b *Badger) Put(c cid.Cid, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(blockKey(c), data)
	})
}

// Has implements Blockstore.
func (b *Badger) Has(c cid.Cid) (bool, error) {
	if b.closed.Load() {
		return false, ErrClosed
	}

	var exists bool
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(blockKey(c))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// PutMany writes blocks in a single write batch.
func (b *Badger) PutMany(blocks []Block) error {
	if b.closed.Load() {
		return ErrClosed
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, blk := range blocks {
		if err := wb.Set(blockKey(blk.Cid), blk.Data); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// RunGC runs garbage collection on the value log.
func (b *Badger) RunGC() error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.db.RunValueLogGC(0.5)
}

// Close closes the database.
func (b *Badger) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.db.Close()
}

var (
	_ Blockstore = (*Badger)(nil)
	_ Batcher    = (*Badger)(nil)
)
