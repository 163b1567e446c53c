package types

import (
	"encoding/binary"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/holiman/uint256"
	"golang.org/x/xerrors"
)

// TokenAmountSize is the size of a token amount crossing the sandbox
// boundary: {lo u64, hi u64}, little-endian.
const TokenAmountSize = 16

// TokenToParts splits a non-negative amount below 2^128 into its low and
// high 64-bit words.
func TokenToParts(amt abi.TokenAmount) (lo, hi uint64, err error) {
	if amt.Int == nil {
		return 0, 0, nil
	}
	if amt.Sign() < 0 {
		return 0, 0, xerrors.Errorf("negative token amount %s", amt)
	}
	v, overflow := uint256.FromBig(amt.Int)
	if overflow || v[2] != 0 || v[3] != 0 {
		return 0, 0, xerrors.Errorf("token amount %s exceeds 128 bits", amt)
	}
	return v[0], v[1], nil
}

// TokenFromParts rebuilds an amount from its words.
func TokenFromParts(lo, hi uint64) abi.TokenAmount {
	v := uint256.Int{lo, hi, 0, 0}
	return big.Int{Int: v.ToBig()}
}

// PutTokenAmount writes amt into b, which must hold TokenAmountSize bytes.
func PutTokenAmount(b []byte, amt abi.TokenAmount) error {
	lo, hi, err := TokenToParts(amt)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b[0:], lo)
	binary.LittleEndian.PutUint64(b[8:], hi)
	return nil
}

// TokenAmountFrom reads an amount written by PutTokenAmount.
func TokenAmountFrom(b []byte) abi.TokenAmount {
	return TokenFromParts(binary.LittleEndian.Uint64(b[0:]), binary.LittleEndian.Uint64(b[8:]))
}
