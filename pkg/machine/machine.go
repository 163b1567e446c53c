// Package machine holds everything one message execution needs from its
// environment: the state tree, the buffered blockstore, the engine that
// runs actor code, the builtin actor manifest and host externs.
package machine

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/network"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/fortiblox/actorvm/internal/types"
	"github.com/fortiblox/actorvm/pkg/blockstore"
	"github.com/fortiblox/actorvm/pkg/engine"
	"github.com/fortiblox/actorvm/pkg/engine/sbpf"
	"github.com/fortiblox/actorvm/pkg/gas"
	"github.com/fortiblox/actorvm/pkg/state"
)

var log = logging.Logger("machine")

// MaxArtifactNameLength bounds debug artifact names.
const MaxArtifactNameLength = 256

// Context is the chain context messages execute in.
type Context struct {
	Epoch          abi.ChainEpoch
	NetworkVersion network.Version
	BaseFee        abi.TokenAmount
	CircSupply     abi.TokenAmount
}

// Machine is the execution environment shared by the messages applied
// against one state root.
type Machine struct {
	cfg       Config
	ctx       Context
	store     *blockstore.Buffered
	tree      *state.StateTree
	engine    *engine.Multi
	manifest  *Manifest
	externs   Externs
	pricelist *gas.Pricelist
	fs        afero.Fs
}

// New creates a machine over store. An undefined root starts from an empty
// state tree.
func New(cfg Config, store blockstore.Blockstore, root cid.Cid, externs Externs) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	baseFee, _ := big.FromString(cfg.BaseFee)
	circ, _ := big.FromString(cfg.CircSupply)

	buffered := blockstore.NewBuffered(store)

	var tree *state.StateTree
	if root.Defined() {
		var err error
		tree, err = state.LoadStateTree(buffered, root)
		if err != nil {
			return nil, err
		}
	} else {
		tree = state.NewStateTree(buffered, types.FirstNonSingletonActorID)
	}

	bytecode, err := sbpf.NewEngine(buffered, sbpf.EngineConfig{
		CacheSize:  cfg.ModuleCacheSize,
		MemorySize: cfg.MemorySize,
	})
	if err != nil {
		return nil, xerrors.Errorf("create bytecode engine: %w", err)
	}

	if externs.Randomness == nil || externs.Proofs == nil {
		def := DefaultExterns()
		if externs.Randomness == nil {
			externs.Randomness = def.Randomness
		}
		if externs.Proofs == nil {
			externs.Proofs = def.Proofs
		}
	}

	m := &Machine{
		cfg: cfg,
		ctx: Context{
			Epoch:          abi.ChainEpoch(cfg.Epoch),
			NetworkVersion: network.Version(cfg.NetworkVersion),
			BaseFee:        baseFee,
			CircSupply:     circ,
		},
		store:     buffered,
		tree:      tree,
		engine:    engine.NewMulti(bytecode),
		manifest:  NewManifest(),
		externs:   externs,
		pricelist: gas.DefaultPricelist(),
		fs:        afero.NewOsFs(),
	}
	log.Debugw("machine created", "root", root, "epoch", cfg.Epoch)
	return m, nil
}

// Config returns the machine configuration.
func (m *Machine) Config() Config { return m.cfg }

// Context returns the chain context.
func (m *Machine) Context() Context { return m.ctx }

// StateTree returns the state tree.
func (m *Machine) StateTree() *state.StateTree { return m.tree }

// Blockstore returns the buffered blockstore.
func (m *Machine) Blockstore() blockstore.Blockstore { return m.store }

// Engine returns the engine dispatcher.
func (m *Machine) Engine() *engine.Multi { return m.engine }

// Manifest returns the builtin actor manifest.
func (m *Machine) Manifest() *Manifest { return m.manifest }

// Externs returns the host externs.
func (m *Machine) Externs() Externs { return m.externs }

// Pricelist returns the gas pricelist.
func (m *Machine) Pricelist() *gas.Pricelist { return m.pricelist }

// SetFs replaces the filesystem used for debug artifacts.
func (m *Machine) SetFs(fs afero.Fs) { m.fs = fs }

// StoreArtifact writes a debug artifact for an actor. It does nothing when
// debugging is disabled.
func (m *Machine) StoreArtifact(actor abi.ActorID, name string, data []byte) error {
	if !m.cfg.Debug {
		return nil
	}
	if name == "" || len(name) > MaxArtifactNameLength || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return xerrors.Errorf("invalid artifact name %q", name)
	}
	dir := filepath.Join(m.cfg.ArtifactDir, strconv.FormatUint(uint64(actor), 10))
	if err := m.fs.MkdirAll(dir, 0o755); err != nil {
		return xerrors.Errorf("create artifact dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := afero.WriteFile(m.fs, path, data, 0o644); err != nil {
		return xerrors.Errorf("write artifact %s: %w", path, err)
	}
	log.Infow("stored artifact", "actor", actor, "path", path, "size", len(data))
	return nil
}

// Flush writes the state tree and all buffered blocks to the backing store.
func (m *Machine) Flush() (cid.Cid, error) {
	root, err := m.tree.Flush()
	if err != nil {
		return cid.Undef, err
	}
	if err := m.store.Flush(); err != nil {
		return cid.Undef, xerrors.Errorf("flush blockstore: %w", err)
	}
	return root, nil
}
