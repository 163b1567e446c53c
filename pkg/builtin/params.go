package builtin

import (
	"io"

	"github.com/filecoin-project/go-address"
	"github.com/ipfs/go-cid"
	cbg "github.com/whyrusleeping/cbor-gen"
	"golang.org/x/xerrors"

	"github.com/fortiblox/actorvm/internal/cborutil"
)

// ExecParams are the parameters of the init actor's exec method.
type ExecParams struct {
	CodeCID           cid.Cid
	ConstructorParams []byte
}

func (p *ExecParams) MarshalCBOR(w io.Writer) error {
	cw := cbg.NewCborWriter(w)
	if err := cborutil.WriteArrayHeader(cw, 2); err != nil {
		return err
	}
	if err := cbg.WriteCid(cw, p.CodeCID); err != nil {
		return xerrors.Errorf("failed to write cid field p.CodeCID: %w", err)
	}
	return cborutil.WriteBytes(cw, p.ConstructorParams)
}

func (p *ExecParams) UnmarshalCBOR(r io.Reader) (err error) {
	*p = ExecParams{}
	cr := cbg.NewCborReader(r)
	defer func() {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
	}()

	if err := cborutil.ReadArrayHeader(cr, 2); err != nil {
		return err
	}
	if p.CodeCID, err = cbg.ReadCid(cr); err != nil {
		return xerrors.Errorf("failed to read cid field p.CodeCID: %w", err)
	}
	if p.ConstructorParams, err = cborutil.ReadBytes(cr); err != nil {
		return xerrors.Errorf("unmarshaling p.ConstructorParams: %w", err)
	}
	return nil
}

// ExecReturn is the result of the init actor's exec method.
type ExecReturn struct {
	IDAddress     address.Address
	RobustAddress address.Address
}

func (r *ExecReturn) MarshalCBOR(w io.Writer) error {
	cw := cbg.NewCborWriter(w)
	if err := cborutil.WriteArrayHeader(cw, 2); err != nil {
		return err
	}
	if err := r.IDAddress.MarshalCBOR(cw); err != nil {
		return err
	}
	return r.RobustAddress.MarshalCBOR(cw)
}

func (r *ExecReturn) UnmarshalCBOR(rd io.Reader) (err error) {
	*r = ExecReturn{}
	cr := cbg.NewCborReader(rd)
	defer func() {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
	}()

	if err := cborutil.ReadArrayHeader(cr, 2); err != nil {
		return err
	}
	if err := r.IDAddress.UnmarshalCBOR(cr); err != nil {
		return xerrors.Errorf("unmarshaling r.IDAddress: %w", err)
	}
	if err := r.RobustAddress.UnmarshalCBOR(cr); err != nil {
		return xerrors.Errorf("unmarshaling r.RobustAddress: %w", err)
	}
	return nil
}

// AccountState is the state of an account actor.
type AccountState struct {
	Address address.Address
}

func (s *AccountState) MarshalCBOR(w io.Writer) error {
	cw := cbg.NewCborWriter(w)
	if err := cborutil.WriteArrayHeader(cw, 1); err != nil {
		return err
	}
	return s.Address.MarshalCBOR(cw)
}

func (s *AccountState) UnmarshalCBOR(r io.Reader) (err error) {
	*s = AccountState{}
	cr := cbg.NewCborReader(r)
	defer func() {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
	}()

	if err := cborutil.ReadArrayHeader(cr, 1); err != nil {
		return err
	}
	if err := s.Address.UnmarshalCBOR(cr); err != nil {
		return xerrors.Errorf("unmarshaling s.Address: %w", err)
	}
	return nil
}
