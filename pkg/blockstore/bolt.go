package blockstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/klauspost/compress/zstd"
	bolt "go.etcd.io/bbolt"
)

// bucketBlocks stores zstd-compressed block data keyed by CID bytes.
var bucketBlocks = []byte("blocks")

// BoltConfig holds Bolt backend options.
type BoltConfig struct {
	// Path is the database file.
	Path string

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool
}

// DefaultBoltConfig returns the default Bolt configuration.
func DefaultBoltConfig(path string) BoltConfig {
	return BoltConfig{Path: path}
}

// Bolt is a BoltDB-backed blockstore storing compressed blocks.
type Bolt struct {
	db  *bolt.DB
	enc *zstd.Encoder
	dec *zstd.Decoder

	mu     sync.RWMutex
	closed bool
}

// OpenBolt creates or opens a Bolt blockstore at the given path.
func OpenBolt(cfg BoltConfig) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	db, err := bolt.Open(cfg.Path, 0600, &bolt.Options{
		Timeout:  5 * time.Second,
		NoSync:   cfg.NoSync,
		ReadOnly: cfg.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if !cfg.ReadOnly {
		err := db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketBlocks)
			return err
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create bucket %s: %w", bucketBlocks, err)
		}
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &Bolt{db: db, enc: enc, dec: dec}, nil
}

// Get implements Blockstore.
func (s *Bolt) Get(c cid.Cid) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var compressed []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlocks)
		if b == nil {
			return ErrNotFound
		}
		v := b.Get(c.Bytes())
		if v == nil {
			return ErrNotFound
		}
		// v is only valid for the life of the transaction.
		compressed = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	data, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress block %s: %w", c, err)
	}
	return data, nil
}

// Put implements Blockstore.
func (s *Bolt) Put(c cid.Cid, data []byte) error {
	return s.PutMany([]Block{{Cid: c, Data: data}})
}

// PutMany writes all blocks in one transaction.
func (s *Bolt) PutMany(blocks []Block) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlocks)
		for _, blk := range blocks {
			if err := b.Put(blk.Cid.Bytes(), s.enc.EncodeAll(blk.Data, nil)); err != nil {
				return fmt.Errorf("put block %s: %w", blk.Cid, err)
			}
		}
		return nil
	})
}

// Has implements Blockstore.
func (s *Bolt) Has(c cid.Cid) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrClosed
	}

	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketBlocks); b != nil {
			exists = b.Get(c.Bytes()) != nil
		}
		return nil
	})
	return exists, err
}

// Sync forces an fsync of the database file.
func (s *Bolt) Sync() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.Sync()
}

// Close closes the database.
func (s *Bolt) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.dec.Close()
	if err := s.enc.Close(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

var (
	_ Blockstore = (*Bolt)(nil)
	_ Batcher    = (*Bolt)(nil)
)
