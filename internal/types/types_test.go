package types

import (
	gobig "math/big"
	"testing"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/actorvm/internal/cborutil"
)

func testMessage(t *testing.T) *Message {
	t.Helper()
	from, err := address.NewIDAddress(100)
	require.NoError(t, err)
	to, err := address.NewIDAddress(101)
	require.NoError(t, err)
	return &Message{
		To:         to,
		From:       from,
		Sequence:   7,
		Value:      abi.NewTokenAmount(1_000),
		GasLimit:   1_000_000,
		GasFeeCap:  abi.NewTokenAmount(100),
		GasPremium: abi.NewTokenAmount(10),
		Method:     3,
		Params:     []byte{0xde, 0xad},
	}
}

func TestMessageEncoding(t *testing.T) {
	m := testMessage(t)

	b, err := m.Serialize()
	require.NoError(t, err)
	require.Equal(t, len(b), m.ChainLength())

	decoded, err := DecodeMessage(b)
	require.NoError(t, err)
	require.Equal(t, m.To, decoded.To)
	require.Equal(t, m.From, decoded.From)
	require.Equal(t, m.Sequence, decoded.Sequence)
	require.True(t, m.Value.Equals(decoded.Value))
	require.Equal(t, m.GasLimit, decoded.GasLimit)
	require.Equal(t, m.Method, decoded.Method)
	require.Equal(t, m.Params, decoded.Params)

	c1, err := m.Cid()
	require.NoError(t, err)
	c2, err := decoded.Cid()
	require.NoError(t, err)
	require.Equal(t, c1, c2)
}

func TestMessageValidForBlockInclusion(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *Message)
		ok     bool
	}{
		{"valid", func(m *Message) {}, true},
		{"bad version", func(m *Message) { m.Version = 1 }, false},
		{"empty to", func(m *Message) { m.To = address.Undef }, false},
		{"negative value", func(m *Message) { m.Value = abi.NewTokenAmount(-1) }, false},
		{"premium above cap", func(m *Message) { m.GasPremium = big.Add(m.GasFeeCap, big.NewInt(1)) }, false},
		{"zero gas limit", func(m *Message) { m.GasLimit = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testMessage(t)
			tt.mutate(m)
			err := m.ValidForBlockInclusion()
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrInvalidMessage)
			}
		})
	}
}

func TestRequiredFunds(t *testing.T) {
	m := testMessage(t)
	require.True(t, big.NewInt(100*1_000_000+1_000).Equals(m.RequiredFunds()))
}

func TestTokenAmountParts(t *testing.T) {
	amt := big.Int{Int: new(gobig.Int).Lsh(gobig.NewInt(3), 64)}
	amt = big.Add(amt, big.NewInt(5))
	lo, hi, err := TokenToParts(amt)
	require.NoError(t, err)
	require.Equal(t, uint64(5), lo)
	require.Equal(t, uint64(3), hi)
	require.True(t, TokenFromParts(lo, hi).Equals(amt))

	buf := make([]byte, TokenAmountSize)
	require.NoError(t, PutTokenAmount(buf, amt))
	require.True(t, TokenAmountFrom(buf).Equals(amt))

	_, _, err = TokenToParts(abi.NewTokenAmount(-1))
	require.Error(t, err)
	_, _, err = TokenToParts(big.Int{Int: new(gobig.Int).Lsh(gobig.NewInt(1), 128)})
	require.Error(t, err)
}

func TestGasSpecEncoding(t *testing.T) {
	spec := &GasSpec{GasLimit: 42, GasFeeCap: abi.NewTokenAmount(100), GasPremium: abi.NewTokenAmount(3)}
	b, err := cborutil.Marshal(spec)
	require.NoError(t, err)

	var out GasSpec
	require.NoError(t, cborutil.Unmarshal(b, &out))
	require.Equal(t, int64(42), out.GasLimit)
	require.True(t, out.GasFeeCap.Equals(spec.GasFeeCap))
	require.True(t, out.GasPremium.Equals(spec.GasPremium))

	require.Error(t, cborutil.Unmarshal(append(b, 0), &out))
	require.Error(t, cborutil.Unmarshal(b[:len(b)-1], &out))
}
