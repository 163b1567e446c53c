package main

import (
	"errors"
	"os"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/fortiblox/actorvm/pkg/blockstore"
	"github.com/fortiblox/actorvm/pkg/builtin"
	"github.com/fortiblox/actorvm/pkg/executor"
	"github.com/fortiblox/actorvm/pkg/machine"
)

var errNoState = errors.New("no state tree, run init first")

// session is an open store with a machine over its current head.
type session struct {
	cfg   machine.Config
	store blockstore.Blockstore
	m     *machine.Machine
	head  cid.Cid
}

func openStore(cfg machine.Config) (blockstore.Blockstore, error) {
	switch cfg.Backend {
	case machine.BackendBadger:
		return blockstore.OpenBadger(blockstore.DefaultBadgerConfig(cfg.StorePath))
	case machine.BackendBolt:
		return blockstore.OpenBolt(blockstore.DefaultBoltConfig(cfg.StorePath))
	default:
		return nil, xerrors.Errorf("backend %q cannot persist state between commands", cfg.Backend)
	}
}

func headPath(cfg machine.Config) string {
	return strings.TrimSuffix(cfg.StorePath, "/") + ".HEAD"
}

func readHead(cfg machine.Config) (cid.Cid, error) {
	b, err := os.ReadFile(headPath(cfg))
	if errors.Is(err, os.ErrNotExist) {
		return cid.Undef, errNoState
	}
	if err != nil {
		return cid.Undef, err
	}
	return cid.Decode(strings.TrimSpace(string(b)))
}

func writeHead(cfg machine.Config, root cid.Cid) error {
	return os.WriteFile(headPath(cfg), []byte(root.String()+"\n"), 0644)
}

// openSession opens the store and loads the machine at the current head.
// fresh starts from an empty tree instead and fails if a head exists.
func openSession(cctx *cli.Context, fresh bool) (*session, error) {
	cfg, err := loadConfig(cctx)
	if err != nil {
		return nil, err
	}
	head, err := readHead(cfg)
	switch {
	case fresh && err == nil:
		return nil, xerrors.Errorf("state already initialized at %s", head)
	case fresh && errors.Is(err, errNoState):
		head = cid.Undef
	case err != nil:
		return nil, err
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	m, err := machine.New(cfg, store, head, machine.DefaultExterns())
	if err != nil {
		closeStore(store)
		return nil, err
	}
	builtin.Install(m)
	return &session{cfg: cfg, store: store, m: m, head: head}, nil
}

// commit flushes the machine and advances the head.
func (s *session) commit() (cid.Cid, error) {
	root, err := executor.New(s.m).Flush()
	if err != nil {
		return cid.Undef, err
	}
	if err := writeHead(s.cfg, root); err != nil {
		return cid.Undef, err
	}
	log.Infow("advanced head", "from", s.head, "to", root)
	s.head = root
	return root, nil
}

func (s *session) close() {
	closeStore(s.store)
}

func closeStore(store blockstore.Blockstore) {
	if c, ok := store.(blockstore.Closer); ok {
		if err := c.Close(); err != nil {
			log.Warnf("closing store: %v", err)
		}
	}
}
