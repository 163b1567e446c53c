package syscalls

import (
	"encoding/binary"

	"github.com/filecoin-project/go-address"
	"github.com/ipfs/go-cid"

	"github.com/fortiblox/actorvm/pkg/kernel"
)

// Memory is a bounds-checked view of an instance's linear memory. Every
// accessor validates the whole range before touching it, so a failed
// access never reads or writes part of a buffer.
type Memory []byte

// Slice returns memory[off:off+n].
func (m Memory) Slice(off, n uint64) ([]byte, error) {
	end := off + n
	if end < off || end > uint64(len(m)) {
		return nil, kernel.Syscallf(kernel.IllegalArgument, "buffer [%d, +%d) out of bounds of %d byte memory", off, n, len(m))
	}
	return m[off:end:end], nil
}

// Read returns a copy of memory[off:off+n].
func (m Memory) Read(off, n uint64) ([]byte, error) {
	b, err := m.Slice(off, n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// Write copies b to off.
func (m Memory) Write(off uint64, b []byte) error {
	dst, err := m.Slice(off, uint64(len(b)))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

// ReadCid parses a CID at off.
func (m Memory) ReadCid(off, n uint64) (cid.Cid, error) {
	b, err := m.Slice(off, n)
	if err != nil {
		return cid.Undef, err
	}
	read, c, err := cid.CidFromBytes(b)
	if err != nil {
		return cid.Undef, kernel.Syscallf(kernel.IllegalCid, "invalid cid: %v", err)
	}
	if read != len(b) {
		return cid.Undef, kernel.Syscallf(kernel.IllegalCid, "trailing bytes after cid")
	}
	return c, nil
}

// ReadAddress parses an address at off.
func (m Memory) ReadAddress(off, n uint64) (address.Address, error) {
	b, err := m.Slice(off, n)
	if err != nil {
		return address.Undef, err
	}
	addr, err := address.NewFromBytes(b)
	if err != nil {
		return address.Undef, kernel.Syscallf(kernel.IllegalArgument, "invalid address: %v", err)
	}
	return addr, nil
}

// ReadString reads a string at off.
func (m Memory) ReadString(off, n uint64) (string, error) {
	b, err := m.Slice(off, n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// putBytes copies b into out and reports BufferTooSmall if it does not
// fit.
func putBytes(out, b []byte) (uint32, error) {
	if len(b) > len(out) {
		return 0, kernel.Syscallf(kernel.BufferTooSmall, "output of %d bytes does not fit in %d", len(b), len(out))
	}
	return uint32(copy(out, b)), nil
}

func putU32(out []byte, v uint32) { binary.LittleEndian.PutUint32(out, v) }

func putI32(out []byte, v int32) { binary.LittleEndian.PutUint32(out, uint32(v)) }

func putU64(out []byte, v uint64) { binary.LittleEndian.PutUint64(out, v) }

// boolResult is the i32 encoding of a verification outcome.
func boolResult(ok bool) int32 {
	if ok {
		return 0
	}
	return -1
}
