// Package cborutil holds the small set of CBOR primitives shared by the
// hand-written tuple marshalers in this module.
package cborutil

import (
	"bytes"
	"io"

	cbg "github.com/whyrusleeping/cbor-gen"
	"golang.org/x/xerrors"
)

// MaxBytesLength bounds byte strings decoded by ReadBytes.
const MaxBytesLength = 2 << 20

// WriteArrayHeader writes a CBOR array header of n elements.
func WriteArrayHeader(cw *cbg.CborWriter, n int) error {
	return cw.WriteMajorTypeHeader(cbg.MajArray, uint64(n))
}

// ReadArrayHeader reads an array header and checks its length.
func ReadArrayHeader(cr *cbg.CborReader, want uint64) error {
	maj, extra, err := cr.ReadHeader()
	if err != nil {
		return err
	}
	if maj != cbg.MajArray {
		return xerrors.Errorf("cbor input should be of type array, got %d", maj)
	}
	if extra != want {
		return xerrors.Errorf("cbor input had wrong number of fields: %d, want %d", extra, want)
	}
	return nil
}

// WriteBytes writes a CBOR byte string.
func WriteBytes(cw *cbg.CborWriter, b []byte) error {
	if len(b) > MaxBytesLength {
		return xerrors.Errorf("byte array too large (%d)", len(b))
	}
	if err := cw.WriteMajorTypeHeader(cbg.MajByteString, uint64(len(b))); err != nil {
		return err
	}
	_, err := cw.Write(b)
	return err
}

// ReadBytes reads a CBOR byte string.
func ReadBytes(cr *cbg.CborReader) ([]byte, error) {
	maj, extra, err := cr.ReadHeader()
	if err != nil {
		return nil, err
	}
	if maj != cbg.MajByteString {
		return nil, xerrors.Errorf("expected byte array, got major type %d", maj)
	}
	if extra > MaxBytesLength {
		return nil, xerrors.Errorf("byte array too large (%d)", extra)
	}
	buf := make([]byte, extra)
	if _, err := io.ReadFull(cr, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteUint64 writes an unsigned integer.
func WriteUint64(cw *cbg.CborWriter, v uint64) error {
	return cw.WriteMajorTypeHeader(cbg.MajUnsignedInt, v)
}

// ReadUint64 reads an unsigned integer.
func ReadUint64(cr *cbg.CborReader) (uint64, error) {
	maj, extra, err := cr.ReadHeader()
	if err != nil {
		return 0, err
	}
	if maj != cbg.MajUnsignedInt {
		return 0, xerrors.Errorf("wrong type for uint64 field: %d", maj)
	}
	return extra, nil
}

// WriteInt64 writes a signed integer.
func WriteInt64(cw *cbg.CborWriter, v int64) error {
	if v >= 0 {
		return cw.WriteMajorTypeHeader(cbg.MajUnsignedInt, uint64(v))
	}
	return cw.WriteMajorTypeHeader(cbg.MajNegativeInt, uint64(-v-1))
}

// ReadInt64 reads a signed integer.
func ReadInt64(cr *cbg.CborReader) (int64, error) {
	maj, extra, err := cr.ReadHeader()
	if err != nil {
		return 0, err
	}
	switch maj {
	case cbg.MajUnsignedInt:
		if extra > 1<<63-1 {
			return 0, xerrors.Errorf("int64 positive overflow")
		}
		return int64(extra), nil
	case cbg.MajNegativeInt:
		if extra > 1<<63-1 {
			return 0, xerrors.Errorf("int64 negative overflow")
		}
		return -1 - int64(extra), nil
	default:
		return 0, xerrors.Errorf("wrong type for int64 field: %d", maj)
	}
}

// Marshal encodes v into a fresh buffer.
func Marshal(v cbg.CBORMarshaler) ([]byte, error) {
	var buf bytes.Buffer
	if err := v.MarshalCBOR(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes b into v and rejects trailing bytes.
func Unmarshal(b []byte, v cbg.CBORUnmarshaler) error {
	r := bytes.NewReader(b)
	if err := v.UnmarshalCBOR(r); err != nil {
		return err
	}
	if r.Len() != 0 {
		return xerrors.Errorf("%d trailing bytes", r.Len())
	}
	return nil
}
