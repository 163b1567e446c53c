package engine

import (
	"sync"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"
)

var log = logging.Logger("engine")

// Multi dispatches by code CID: engines registered for a specific CID take
// precedence, everything else goes to the fallback engine.
type Multi struct {
	mu       sync.RWMutex
	byCode   map[cid.Cid]Engine
	fallback Engine
}

// NewMulti creates a dispatcher. fallback may be nil.
func NewMulti(fallback Engine) *Multi {
	return &Multi{
		byCode:   make(map[cid.Cid]Engine),
		fallback: fallback,
	}
}

// Register routes code to e.
func (m *Multi) Register(code cid.Cid, e Engine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byCode[code] = e
	log.Debugw("registered engine", "code", code)
}

func (m *Multi) engineFor(code cid.Cid) (Engine, error) {
	m.mu.RLock()
	e, ok := m.byCode[code]
	m.mu.RUnlock()
	if ok {
		return e, nil
	}
	if m.fallback == nil {
		return nil, xerrors.Errorf("%w: %s", ErrCodeNotFound, code)
	}
	return m.fallback, nil
}

// Instantiate implements Engine.
func (m *Multi) Instantiate(code cid.Cid, imports Imports) (Instance, error) {
	e, err := m.engineFor(code)
	if err != nil {
		return nil, err
	}
	return e.Instantiate(code, imports)
}

// Preload implements Engine.
func (m *Multi) Preload(code cid.Cid) error {
	e, err := m.engineFor(code)
	if err != nil {
		return err
	}
	return e.Preload(code)
}

var _ Engine = (*Multi)(nil)
