// Package state implements the actor state tree.
//
// The tree maps actor IDs to actor records and robust addresses to actor
// IDs. Mutations are staged in a stack of transaction layers: BeginTransaction
// pushes a layer, EndTransaction either folds it into its parent or drops it.
// Flush writes the committed tree to the blockstore and returns its root CID.
package state

import (
	"bytes"
	"errors"
	"io"
	"sort"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	cbg "github.com/whyrusleeping/cbor-gen"
	"golang.org/x/xerrors"

	"github.com/fortiblox/actorvm/internal/cborutil"
	"github.com/fortiblox/actorvm/pkg/blockstore"
)

var log = logging.Logger("state")

// StateTreeVersion is the version written into every flushed root.
const StateTreeVersion = 1

var (
	// ErrActorNotFound is returned when an actor doesn't exist.
	ErrActorNotFound = errors.New("actor not found")

	// ErrAddressExists is returned when registering an already known address.
	ErrAddressExists = errors.New("address already registered")

	// ErrTransactionOpen is returned when flushing with open transactions.
	ErrTransactionOpen = errors.New("cannot flush with an open transaction")

	// ErrNoTransaction is returned by EndTransaction without a matching begin.
	ErrNoTransaction = errors.New("no open transaction")
)

// EmptyObjectCid is the CID of an empty CBOR array, the head of actors
// that have no state yet.
var EmptyObjectCid cid.Cid

func init() {
	c, err := blockstore.Sum(cid.DagCBOR, []byte{0x80})
	if err != nil {
		panic(err)
	}
	EmptyObjectCid = c
}

type layer struct {
	actors    map[abi.ActorID]*Actor // nil value marks a deletion
	addresses map[address.Address]abi.ActorID
	nextID    abi.ActorID
}

func newLayer(nextID abi.ActorID) *layer {
	return &layer{
		actors:    make(map[abi.ActorID]*Actor),
		addresses: make(map[address.Address]abi.ActorID),
		nextID:    nextID,
	}
}

// StateTree is a transactional view of actor state.
type StateTree struct {
	store  blockstore.Blockstore
	base   *layer
	layers []*layer
	root   cid.Cid
}

// NewStateTree creates an empty state tree. IDs handed out by
// RegisterNewAddress start at firstID.
func NewStateTree(store blockstore.Blockstore, firstID abi.ActorID) *StateTree {
	return &StateTree{
		store: store,
		base:  newLayer(firstID),
	}
}

// LoadStateTree loads the tree rooted at root.
func LoadStateTree(store blockstore.Blockstore, root cid.Cid) (*StateTree, error) {
	data, err := store.Get(root)
	if err != nil {
		return nil, xerrors.Errorf("load state root %s: %w", root, err)
	}
	var r stateRoot
	if err := r.UnmarshalCBOR(bytes.NewReader(data)); err != nil {
		return nil, xerrors.Errorf("decode state root %s: %w", root, err)
	}
	if r.Version != StateTreeVersion {
		return nil, xerrors.Errorf("unsupported state tree version %d", r.Version)
	}

	base := newLayer(r.NextID)
	for i := range r.Actors {
		e := r.Actors[i]
		base.actors[e.ID] = e.Actor
	}
	for _, e := range r.Addresses {
		base.addresses[e.Addr] = e.ID
	}
	return &StateTree{store: store, base: base, root: root}, nil
}

// Store returns the blockstore backing the tree.
func (st *StateTree) Store() blockstore.Blockstore {
	return st.store
}

func (st *StateTree) top() *layer {
	if len(st.layers) == 0 {
		return st.base
	}
	return st.layers[len(st.layers)-1]
}

// GetActor returns a copy of the actor record, or ErrActorNotFound.
func (st *StateTree) GetActor(id abi.ActorID) (*Actor, error) {
	for i := len(st.layers) - 1; i >= 0; i-- {
		if act, ok := st.layers[i].actors[id]; ok {
			if act == nil {
				return nil, ErrActorNotFound
			}
			return act.Clone(), nil
		}
	}
	if act, ok := st.base.actors[id]; ok && act != nil {
		return act.Clone(), nil
	}
	return nil, ErrActorNotFound
}

// SetActor stores an actor record in the current layer.
func (st *StateTree) SetActor(id abi.ActorID, act *Actor) error {
	if act == nil {
		return xerrors.Errorf("set actor %d: nil actor", id)
	}
	if !act.Code.Defined() || !act.Head.Defined() {
		return xerrors.Errorf("set actor %d: undefined code or head", id)
	}
	st.top().actors[id] = act.Clone()
	return nil
}

// DeleteActor removes an actor record.
func (st *StateTree) DeleteActor(id abi.ActorID) error {
	if _, err := st.GetActor(id); err != nil {
		return err
	}
	if len(st.layers) == 0 {
		delete(st.base.actors, id)
		return nil
	}
	st.top().actors[id] = nil
	return nil
}

// LookupID resolves an address to an actor ID. ID addresses resolve to
// themselves without checking that the actor exists.
func (st *StateTree) LookupID(addr address.Address) (abi.ActorID, bool, error) {
	if addr.Protocol() == address.ID {
		id, err := address.IDFromAddress(addr)
		if err != nil {
			return 0, false, xerrors.Errorf("decode id address %s: %w", addr, err)
		}
		return abi.ActorID(id), true, nil
	}
	for i := len(st.layers) - 1; i >= 0; i-- {
		if id, ok := st.layers[i].addresses[addr]; ok {
			return id, true, nil
		}
	}
	id, ok := st.base.addresses[addr]
	return id, ok, nil
}

// RegisterNewAddress assigns the next actor ID to addr.
func (st *StateTree) RegisterNewAddress(addr address.Address) (abi.ActorID, error) {
	if addr.Protocol() == address.ID {
		return 0, xerrors.Errorf("cannot register id address %s", addr)
	}
	if _, ok, _ := st.LookupID(addr); ok {
		return 0, xerrors.Errorf("%w: %s", ErrAddressExists, addr)
	}
	l := st.top()
	id := l.nextID
	l.nextID++
	l.addresses[addr] = id
	return id, nil
}

// NextID returns the ID the next registration will receive.
func (st *StateTree) NextID() abi.ActorID {
	return st.top().nextID
}

// BeginTransaction opens a nested layer.
func (st *StateTree) BeginTransaction() {
	st.layers = append(st.layers, newLayer(st.top().nextID))
}

// InTransaction reports whether a transaction is open.
func (st *StateTree) InTransaction() bool {
	return len(st.layers) > 0
}

// EndTransaction closes the innermost layer, discarding it when revert is
// set and folding it into its parent otherwise.
func (st *StateTree) EndTransaction(revert bool) error {
	if len(st.layers) == 0 {
		return ErrNoTransaction
	}
	l := st.layers[len(st.layers)-1]
	st.layers = st.layers[:len(st.layers)-1]
	if revert {
		return nil
	}

	parent := st.top()
	for id, act := range l.actors {
		if act == nil && parent == st.base {
			delete(parent.actors, id)
			continue
		}
		parent.actors[id] = act
	}
	for addr, id := range l.addresses {
		parent.addresses[addr] = id
	}
	parent.nextID = l.nextID
	return nil
}

// Flush writes the committed tree and returns its root CID.
func (st *StateTree) Flush() (cid.Cid, error) {
	if len(st.layers) > 0 {
		return cid.Undef, ErrTransactionOpen
	}

	r := stateRoot{Version: StateTreeVersion, NextID: st.base.nextID}
	for id, act := range st.base.actors {
		r.Actors = append(r.Actors, actorEntry{ID: id, Actor: act})
	}
	sort.Slice(r.Actors, func(i, j int) bool { return r.Actors[i].ID < r.Actors[j].ID })
	for addr, id := range st.base.addresses {
		r.Addresses = append(r.Addresses, addressEntry{Addr: addr, ID: id})
	}
	sort.Slice(r.Addresses, func(i, j int) bool {
		return bytes.Compare(r.Addresses[i].Addr.Bytes(), r.Addresses[j].Addr.Bytes()) < 0
	})

	var buf bytes.Buffer
	if err := r.MarshalCBOR(&buf); err != nil {
		return cid.Undef, xerrors.Errorf("encode state root: %w", err)
	}
	root, err := blockstore.PutBlock(st.store, cid.DagCBOR, buf.Bytes())
	if err != nil {
		return cid.Undef, xerrors.Errorf("store state root: %w", err)
	}
	log.Debugw("flushed state tree", "root", root, "actors", len(r.Actors))
	st.root = root
	return root, nil
}

// Root returns the CID produced by the last Flush or Load.
func (st *StateTree) Root() cid.Cid {
	return st.root
}

// ForEach visits every committed and staged actor in ID order.
func (st *StateTree) ForEach(fn func(id abi.ActorID, act *Actor) error) error {
	seen := make(map[abi.ActorID]struct{})
	var ids []abi.ActorID
	collect := func(l *layer) {
		for id := range l.actors {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	collect(st.base)
	for _, l := range st.layers {
		collect(l)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		act, err := st.GetActor(id)
		if errors.Is(err, ErrActorNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(id, act); err != nil {
			return err
		}
	}
	return nil
}

type actorEntry struct {
	ID    abi.ActorID
	Actor *Actor
}

type addressEntry struct {
	Addr address.Address
	ID   abi.ActorID
}

type stateRoot struct {
	Version   uint64
	NextID    abi.ActorID
	Actors    []actorEntry
	Addresses []addressEntry
}

func (r *stateRoot) MarshalCBOR(w io.Writer) error {
	cw := cbg.NewCborWriter(w)
	if err := cborutil.WriteArrayHeader(cw, 4); err != nil {
		return err
	}
	if err := cborutil.WriteUint64(cw, r.Version); err != nil {
		return err
	}
	if err := cborutil.WriteUint64(cw, uint64(r.NextID)); err != nil {
		return err
	}
	if err := cborutil.WriteArrayHeader(cw, len(r.Actors)); err != nil {
		return err
	}
	for _, e := range r.Actors {
		if err := cborutil.WriteArrayHeader(cw, 2); err != nil {
			return err
		}
		if err := cborutil.WriteUint64(cw, uint64(e.ID)); err != nil {
			return err
		}
		if err := e.Actor.MarshalCBOR(cw); err != nil {
			return err
		}
	}
	if err := cborutil.WriteArrayHeader(cw, len(r.Addresses)); err != nil {
		return err
	}
	for _, e := range r.Addresses {
		if err := cborutil.WriteArrayHeader(cw, 2); err != nil {
			return err
		}
		if err := cborutil.WriteBytes(cw, e.Addr.Bytes()); err != nil {
			return err
		}
		if err := cborutil.WriteUint64(cw, uint64(e.ID)); err != nil {
			return err
		}
	}
	return nil
}

func (r *stateRoot) UnmarshalCBOR(rd io.Reader) error {
	cr := cbg.NewCborReader(rd)
	if err := cborutil.ReadArrayHeader(cr, 4); err != nil {
		return err
	}
	var err error
	if r.Version, err = cborutil.ReadUint64(cr); err != nil {
		return err
	}
	next, err := cborutil.ReadUint64(cr)
	if err != nil {
		return err
	}
	r.NextID = abi.ActorID(next)

	n, err := readArrayLen(cr)
	if err != nil {
		return xerrors.Errorf("actors: %w", err)
	}
	r.Actors = make([]actorEntry, 0, n)
	for i := uint64(0); i < n; i++ {
		if err := cborutil.ReadArrayHeader(cr, 2); err != nil {
			return err
		}
		id, err := cborutil.ReadUint64(cr)
		if err != nil {
			return err
		}
		act := new(Actor)
		if err := act.UnmarshalCBOR(cr); err != nil {
			return xerrors.Errorf("actor %d: %w", id, err)
		}
		r.Actors = append(r.Actors, actorEntry{ID: abi.ActorID(id), Actor: act})
	}

	n, err = readArrayLen(cr)
	if err != nil {
		return xerrors.Errorf("addresses: %w", err)
	}
	r.Addresses = make([]addressEntry, 0, n)
	for i := uint64(0); i < n; i++ {
		if err := cborutil.ReadArrayHeader(cr, 2); err != nil {
			return err
		}
		raw, err := cborutil.ReadBytes(cr)
		if err != nil {
			return err
		}
		addr, err := address.NewFromBytes(raw)
		if err != nil {
			return err
		}
		id, err := cborutil.ReadUint64(cr)
		if err != nil {
			return err
		}
		r.Addresses = append(r.Addresses, addressEntry{Addr: addr, ID: abi.ActorID(id)})
	}
	return nil
}

func readArrayLen(cr *cbg.CborReader) (uint64, error) {
	maj, extra, err := cr.ReadHeader()
	if err != nil {
		return 0, err
	}
	if maj != cbg.MajArray {
		return 0, xerrors.Errorf("expected array, got major type %d", maj)
	}
	if extra > 1<<20 {
		return 0, xerrors.Errorf("array too large (%d)", extra)
	}
	return extra, nil
}
