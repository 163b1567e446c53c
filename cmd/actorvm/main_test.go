package main

import (
	"path/filepath"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/actorvm/pkg/kernel"
	"github.com/fortiblox/actorvm/pkg/machine"
)

func TestInitApplyState(t *testing.T) {
	store := filepath.Join(t.TempDir(), "state.db")
	run := func(args ...string) error {
		return newApp().Run(append([]string{"actorvm", "--store", store, "--log-level", "error"}, args...))
	}

	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	encoded := base58.Encode(key.Serialize())

	require.Error(t, run("state"))
	require.NoError(t, run("init", "--account", encoded+":1000000000000000"))
	require.Error(t, run("init"))

	cfg := machine.DefaultConfig()
	cfg.Backend = machine.BackendBolt
	cfg.StorePath = store
	genesis, err := readHead(cfg)
	require.NoError(t, err)

	other, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	to, err := kernel.SecpAddress(other)
	require.NoError(t, err)
	require.NoError(t, run("apply", "--key", encoded, "--to", to.String(), "--value", "25", "--validate"))
	require.NoError(t, run("state"))
	require.NoError(t, run("validate", "--key", encoded, "--to", to.String()))
	forged := base58.Encode(kernel.SignSecp(other, []byte("terms")))
	require.Error(t, run("validate", "--key", encoded, "--to", to.String(), "--signature", forged))

	head, err := readHead(cfg)
	require.NoError(t, err)
	require.NotEqual(t, genesis, head)

	s, err := openStore(cfg)
	require.NoError(t, err)
	defer closeStore(s)
	m, err := machine.New(cfg, s, head, machine.DefaultExterns())
	require.NoError(t, err)
	id, ok, err := m.StateTree().LookupID(to)
	require.NoError(t, err)
	require.True(t, ok)
	act, err := m.StateTree().GetActor(id)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(25), act.Balance)
}

func TestParseKey(t *testing.T) {
	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	got, err := parseKey(base58.Encode(key.Serialize()))
	require.NoError(t, err)
	require.Equal(t, key.Serialize(), got.Serialize())

	_, err = parseKey(base58.Encode([]byte{1, 2, 3}))
	require.Error(t, err)
	_, err = parseKey("0OIl")
	require.Error(t, err)
}
