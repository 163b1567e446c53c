package state

import (
	"bytes"
	"io"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"
	cbg "github.com/whyrusleeping/cbor-gen"
	"golang.org/x/xerrors"

	"github.com/fortiblox/actorvm/internal/cborutil"
)

// Actor is the on-chain record of an actor.
type Actor struct {
	// Code identifies the actor's code.
	Code cid.Cid

	// Head is the root of the actor's own state.
	Head cid.Cid

	// Sequence is the number of messages sent by the actor.
	Sequence uint64

	// Balance is the actor's token balance.
	Balance abi.TokenAmount

	// Address is the robust (non-ID) address the actor was created with, if any.
	Address *address.Address
}

// Clone returns a deep copy of the actor.
func (a *Actor) Clone() *Actor {
	if a == nil {
		return nil
	}
	out := *a
	out.Balance = big.Add(big.Zero(), a.balance())
	if a.Address != nil {
		addr := *a.Address
		out.Address = &addr
	}
	return &out
}

func (a *Actor) balance() abi.TokenAmount {
	if a.Balance.Int == nil {
		return big.Zero()
	}
	return a.Balance
}

// MarshalCBOR encodes the actor as a 5-element tuple.
func (a *Actor) MarshalCBOR(w io.Writer) error {
	cw := cbg.NewCborWriter(w)
	if err := cborutil.WriteArrayHeader(cw, 5); err != nil {
		return err
	}
	if err := cbg.WriteCid(cw, a.Code); err != nil {
		return xerrors.Errorf("failed to write cid field a.Code: %w", err)
	}
	if err := cbg.WriteCid(cw, a.Head); err != nil {
		return xerrors.Errorf("failed to write cid field a.Head: %w", err)
	}
	if err := cborutil.WriteUint64(cw, a.Sequence); err != nil {
		return err
	}
	bal := a.balance()
	if err := bal.MarshalCBOR(cw); err != nil {
		return err
	}
	var addr []byte
	if a.Address != nil {
		addr = a.Address.Bytes()
	}
	return cborutil.WriteBytes(cw, addr)
}

// UnmarshalCBOR decodes an actor tuple.
func (a *Actor) UnmarshalCBOR(r io.Reader) (err error) {
	*a = Actor{}
	cr := cbg.NewCborReader(r)
	defer func() {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
	}()

	if err := cborutil.ReadArrayHeader(cr, 5); err != nil {
		return err
	}
	if a.Code, err = cbg.ReadCid(cr); err != nil {
		return xerrors.Errorf("failed to read cid field a.Code: %w", err)
	}
	if a.Head, err = cbg.ReadCid(cr); err != nil {
		return xerrors.Errorf("failed to read cid field a.Head: %w", err)
	}
	if a.Sequence, err = cborutil.ReadUint64(cr); err != nil {
		return xerrors.Errorf("unmarshaling a.Sequence: %w", err)
	}
	if err := a.Balance.UnmarshalCBOR(cr); err != nil {
		return xerrors.Errorf("unmarshaling a.Balance: %w", err)
	}
	raw, err := cborutil.ReadBytes(cr)
	if err != nil {
		return xerrors.Errorf("unmarshaling a.Address: %w", err)
	}
	if len(raw) > 0 {
		addr, err := address.NewFromBytes(raw)
		if err != nil {
			return xerrors.Errorf("unmarshaling a.Address: %w", err)
		}
		a.Address = &addr
	}
	return nil
}

// Equal reports whether two actor records encode identically.
func (a *Actor) Equal(o *Actor) bool {
	if a == nil || o == nil {
		return a == o
	}
	var ab, ob bytes.Buffer
	if a.MarshalCBOR(&ab) != nil || o.MarshalCBOR(&ob) != nil {
		return false
	}
	return bytes.Equal(ab.Bytes(), ob.Bytes())
}
