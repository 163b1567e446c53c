package types

import (
	"io"

	"github.com/filecoin-project/go-state-types/abi"
	cbg "github.com/whyrusleeping/cbor-gen"
	"golang.org/x/xerrors"

	"github.com/fortiblox/actorvm/internal/cborutil"
)

// GasSpec is the fee policy returned by a validation entrypoint.
type GasSpec struct {
	GasLimit   int64
	GasFeeCap  abi.TokenAmount
	GasPremium abi.TokenAmount
}

// MarshalCBOR encodes the spec as [gas_limit, gas_fee_cap, gas_premium].
func (g *GasSpec) MarshalCBOR(w io.Writer) error {
	cw := cbg.NewCborWriter(w)
	if err := cborutil.WriteArrayHeader(cw, 3); err != nil {
		return err
	}
	if err := cborutil.WriteInt64(cw, g.GasLimit); err != nil {
		return err
	}
	if err := g.GasFeeCap.MarshalCBOR(cw); err != nil {
		return err
	}
	return g.GasPremium.MarshalCBOR(cw)
}

// UnmarshalCBOR decodes a spec tuple.
func (g *GasSpec) UnmarshalCBOR(r io.Reader) (err error) {
	*g = GasSpec{}
	cr := cbg.NewCborReader(r)
	defer func() {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
	}()

	if err := cborutil.ReadArrayHeader(cr, 3); err != nil {
		return err
	}
	if g.GasLimit, err = cborutil.ReadInt64(cr); err != nil {
		return xerrors.Errorf("unmarshaling GasLimit: %w", err)
	}
	if err := g.GasFeeCap.UnmarshalCBOR(cr); err != nil {
		return xerrors.Errorf("unmarshaling GasFeeCap: %w", err)
	}
	if err := g.GasPremium.UnmarshalCBOR(cr); err != nil {
		return xerrors.Errorf("unmarshaling GasPremium: %w", err)
	}
	return nil
}

// ValidateParams is the parameter block of a validation entrypoint: the
// signature and the parameter payload of the message being validated.
type ValidateParams struct {
	Signature []byte
	Payload   []byte
}

// MarshalCBOR encodes the params as [signature, payload].
func (p *ValidateParams) MarshalCBOR(w io.Writer) error {
	cw := cbg.NewCborWriter(w)
	if err := cborutil.WriteArrayHeader(cw, 2); err != nil {
		return err
	}
	if err := cborutil.WriteBytes(cw, p.Signature); err != nil {
		return err
	}
	return cborutil.WriteBytes(cw, p.Payload)
}

// UnmarshalCBOR decodes a params tuple.
func (p *ValidateParams) UnmarshalCBOR(r io.Reader) (err error) {
	*p = ValidateParams{}
	cr := cbg.NewCborReader(r)
	defer func() {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
	}()

	if err := cborutil.ReadArrayHeader(cr, 2); err != nil {
		return err
	}
	if p.Signature, err = cborutil.ReadBytes(cr); err != nil {
		return xerrors.Errorf("unmarshaling Signature: %w", err)
	}
	if p.Payload, err = cborutil.ReadBytes(cr); err != nil {
		return xerrors.Errorf("unmarshaling Payload: %w", err)
	}
	return nil
}
