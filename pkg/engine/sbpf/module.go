package sbpf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
)

// Magic prefixes every encoded module.
var Magic = []byte("AVM1")

// Module limits.
const (
	MaxEntrypoints   = 16
	MaxEntrypointLen = 64
	MaxTextLen       = 1 << 20
)

// ErrInvalidModule is returned when a module fails to parse.
var ErrInvalidModule = errors.New("invalid module")

// Module is a parsed bytecode module.
//
// Encoding (little-endian):
//
//	"AVM1"
//	u32 entrypoint count, then per entrypoint: u8 name length, name, u32 pc
//	u32 data length, data
//	u32 instruction count, instructions (u64 each)
type Module struct {
	Entrypoints map[string]uint64
	Data        []byte
	Text        []uint64
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidModule, fmt.Sprintf(format, args...))
}

// Parse decodes and validates a module.
func Parse(b []byte) (*Module, error) {
	if !bytes.HasPrefix(b, Magic) {
		return nil, invalid("bad magic")
	}
	r := bytes.NewReader(b[len(Magic):])
	u32 := func() (uint32, error) {
		var v uint32
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	}

	n, err := u32()
	if err != nil {
		return nil, invalid("truncated entrypoint table")
	}
	if n > MaxEntrypoints {
		return nil, invalid("%d entrypoints", n)
	}
	m := &Module{Entrypoints: make(map[string]uint64, n)}
	for i := uint32(0); i < n; i++ {
		l, err := r.ReadByte()
		if err != nil || l == 0 || l > MaxEntrypointLen {
			return nil, invalid("entrypoint %d name", i)
		}
		name := make([]byte, l)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, invalid("entrypoint %d name", i)
		}
		pc, err := u32()
		if err != nil {
			return nil, invalid("entrypoint %q pc", name)
		}
		if _, dup := m.Entrypoints[string(name)]; dup {
			return nil, invalid("duplicate entrypoint %q", name)
		}
		m.Entrypoints[string(name)] = uint64(pc)
	}

	dataLen, err := u32()
	if err != nil || int64(dataLen) > int64(r.Len()) {
		return nil, invalid("data segment")
	}
	m.Data = make([]byte, dataLen)
	if _, err := io.ReadFull(r, m.Data); err != nil {
		return nil, invalid("data segment")
	}

	textLen, err := u32()
	if err != nil || textLen == 0 || textLen > MaxTextLen || int64(textLen)*8 != int64(r.Len()) {
		return nil, invalid("text segment")
	}
	m.Text = make([]uint64, textLen)
	if err := binary.Read(r, binary.LittleEndian, m.Text); err != nil {
		return nil, invalid("text segment")
	}

	for name, pc := range m.Entrypoints {
		if pc >= uint64(len(m.Text)) {
			return nil, invalid("entrypoint %q out of range", name)
		}
	}
	return m, nil
}

// Encode serializes the module. Entrypoints are written sorted by name so
// equal modules encode to equal bytes.
func (m *Module) Encode() []byte {
	var buf bytes.Buffer
	buf.Write(Magic)

	names := make([]string, 0, len(m.Entrypoints))
	for name := range m.Entrypoints {
		names = append(names, name)
	}
	sort.Strings(names)

	binary.Write(&buf, binary.LittleEndian, uint32(len(names)))
	for _, name := range names {
		buf.WriteByte(byte(len(name)))
		buf.WriteString(name)
		binary.Write(&buf, binary.LittleEndian, uint32(m.Entrypoints[name]))
	}
	binary.Write(&buf, binary.LittleEndian, uint32(len(m.Data)))
	buf.Write(m.Data)
	binary.Write(&buf, binary.LittleEndian, uint32(len(m.Text)))
	binary.Write(&buf, binary.LittleEndian, m.Text)
	return buf.Bytes()
}
