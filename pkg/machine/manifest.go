package machine

import (
	"sync"

	"github.com/ipfs/go-cid"

	"github.com/fortiblox/actorvm/internal/types"
)

// Manifest maps builtin actor types to their code CIDs.
type Manifest struct {
	mu     sync.RWMutex
	byType map[int32]cid.Cid
	byCode map[cid.Cid]int32
}

// NewManifest creates an empty manifest.
func NewManifest() *Manifest {
	return &Manifest{
		byType: make(map[int32]cid.Cid),
		byCode: make(map[cid.Cid]int32),
	}
}

// Register binds a builtin type to its code.
func (m *Manifest) Register(typ int32, code cid.Cid) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byType[typ] = code
	m.byCode[code] = typ
}

// CodeFor returns the code CID of a builtin type.
func (m *Manifest) CodeFor(typ int32) (cid.Cid, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byType[typ]
	return c, ok
}

// TypeOf returns the builtin type of code, or ActorTypeNone.
func (m *Manifest) TypeOf(code cid.Cid) int32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byCode[code]
}

// IsAccount reports whether code is the account actor.
func (m *Manifest) IsAccount(code cid.Cid) bool {
	return m.TypeOf(code) == types.ActorTypeAccount
}
