package engine

// SliceMemory is a Memory backed by a plain byte slice.
type SliceMemory []byte

// Bytes returns the backing slice.
func (m SliceMemory) Bytes() []byte {
	return m
}

// GasRegister is a Global holding a milligas counter.
type GasRegister struct {
	v int64
}

// Get returns the register value.
func (g *GasRegister) Get() int64 {
	return g.v
}

// Set overwrites the register value.
func (g *GasRegister) Set(v int64) {
	g.v = v
}

// Burn decrements the register and reports ErrOutOfGas once it goes
// negative.
func (g *GasRegister) Burn(milligas int64) error {
	g.v -= milligas
	if g.v < 0 {
		return ErrOutOfGas
	}
	return nil
}

var (
	_ Memory = SliceMemory(nil)
	_ Global = (*GasRegister)(nil)
)
