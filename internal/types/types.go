// Package types defines the message and receipt types shared by the
// executor, the call manager and the command line.
package types

import (
	"bytes"
	"errors"
	"io"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	cbg "github.com/whyrusleeping/cbor-gen"
	"golang.org/x/xerrors"

	"github.com/fortiblox/actorvm/internal/cborutil"
)

// MessageVersion is the only message encoding version understood.
const MessageVersion = 0

var (
	// ErrInvalidMessage is returned when a message fails syntactic checks.
	ErrInvalidMessage = errors.New("invalid message")
)

// Message is a request to invoke a method on an actor.
type Message struct {
	Version  uint64
	To       address.Address
	From     address.Address
	Sequence uint64
	Value    abi.TokenAmount

	GasLimit   int64
	GasFeeCap  abi.TokenAmount
	GasPremium abi.TokenAmount

	Method abi.MethodNum
	Params []byte
}

// ValidForBlockInclusion performs the syntactic checks a message must pass
// before it may be applied.
func (m *Message) ValidForBlockInclusion() error {
	if m.Version != MessageVersion {
		return xerrors.Errorf("%w: unsupported version %d", ErrInvalidMessage, m.Version)
	}
	if m.To == address.Undef {
		return xerrors.Errorf("%w: 'To' address cannot be empty", ErrInvalidMessage)
	}
	if m.From == address.Undef {
		return xerrors.Errorf("%w: 'From' address cannot be empty", ErrInvalidMessage)
	}
	if m.Value.Int == nil || m.Value.Sign() < 0 {
		return xerrors.Errorf("%w: value must be non-negative", ErrInvalidMessage)
	}
	if m.GasFeeCap.Int == nil || m.GasFeeCap.Sign() < 0 {
		return xerrors.Errorf("%w: gas fee cap must be non-negative", ErrInvalidMessage)
	}
	if m.GasPremium.Int == nil || m.GasPremium.Sign() < 0 {
		return xerrors.Errorf("%w: gas premium must be non-negative", ErrInvalidMessage)
	}
	if m.GasPremium.GreaterThan(m.GasFeeCap) {
		return xerrors.Errorf("%w: gas premium exceeds fee cap", ErrInvalidMessage)
	}
	if m.GasLimit <= 0 {
		return xerrors.Errorf("%w: gas limit must be positive", ErrInvalidMessage)
	}
	return nil
}

// Serialize returns the CBOR encoding of the message.
func (m *Message) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.MarshalCBOR(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ChainLength is the encoded size of the message, used for inclusion pricing.
func (m *Message) ChainLength() int {
	b, err := m.Serialize()
	if err != nil {
		return 0
	}
	return len(b)
}

// Cid returns the content identifier of the encoded message.
func (m *Message) Cid() (cid.Cid, error) {
	b, err := m.Serialize()
	if err != nil {
		return cid.Undef, err
	}
	pref := cid.Prefix{Version: 1, Codec: cid.DagCBOR, MhType: multihash.BLAKE2B_MIN + 31, MhLength: -1}
	return pref.Sum(b)
}

// RequiredFunds is the gas deposit plus the transferred value.
func (m *Message) RequiredFunds() abi.TokenAmount {
	return big.Add(big.Mul(m.GasFeeCap, big.NewInt(m.GasLimit)), m.Value)
}

// MarshalCBOR encodes the message as a 10-element tuple.
func (m *Message) MarshalCBOR(w io.Writer) error {
	cw := cbg.NewCborWriter(w)
	if err := cborutil.WriteArrayHeader(cw, 10); err != nil {
		return err
	}
	if err := cborutil.WriteUint64(cw, m.Version); err != nil {
		return err
	}
	if err := m.To.MarshalCBOR(cw); err != nil {
		return err
	}
	if err := m.From.MarshalCBOR(cw); err != nil {
		return err
	}
	if err := cborutil.WriteUint64(cw, m.Sequence); err != nil {
		return err
	}
	if err := m.Value.MarshalCBOR(cw); err != nil {
		return err
	}
	if err := cborutil.WriteInt64(cw, m.GasLimit); err != nil {
		return err
	}
	if err := m.GasFeeCap.MarshalCBOR(cw); err != nil {
		return err
	}
	if err := m.GasPremium.MarshalCBOR(cw); err != nil {
		return err
	}
	if err := cborutil.WriteUint64(cw, uint64(m.Method)); err != nil {
		return err
	}
	return cborutil.WriteBytes(cw, m.Params)
}

// UnmarshalCBOR decodes a message tuple.
func (m *Message) UnmarshalCBOR(r io.Reader) (err error) {
	*m = Message{}
	cr := cbg.NewCborReader(r)
	defer func() {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
	}()

	if err := cborutil.ReadArrayHeader(cr, 10); err != nil {
		return err
	}
	if m.Version, err = cborutil.ReadUint64(cr); err != nil {
		return xerrors.Errorf("unmarshaling Version: %w", err)
	}
	if err := m.To.UnmarshalCBOR(cr); err != nil {
		return xerrors.Errorf("unmarshaling To: %w", err)
	}
	if err := m.From.UnmarshalCBOR(cr); err != nil {
		return xerrors.Errorf("unmarshaling From: %w", err)
	}
	if m.Sequence, err = cborutil.ReadUint64(cr); err != nil {
		return xerrors.Errorf("unmarshaling Sequence: %w", err)
	}
	if err := m.Value.UnmarshalCBOR(cr); err != nil {
		return xerrors.Errorf("unmarshaling Value: %w", err)
	}
	if m.GasLimit, err = cborutil.ReadInt64(cr); err != nil {
		return xerrors.Errorf("unmarshaling GasLimit: %w", err)
	}
	if err := m.GasFeeCap.UnmarshalCBOR(cr); err != nil {
		return xerrors.Errorf("unmarshaling GasFeeCap: %w", err)
	}
	if err := m.GasPremium.UnmarshalCBOR(cr); err != nil {
		return xerrors.Errorf("unmarshaling GasPremium: %w", err)
	}
	method, err := cborutil.ReadUint64(cr)
	if err != nil {
		return xerrors.Errorf("unmarshaling Method: %w", err)
	}
	m.Method = abi.MethodNum(method)
	if m.Params, err = cborutil.ReadBytes(cr); err != nil {
		return xerrors.Errorf("unmarshaling Params: %w", err)
	}
	return nil
}

// DecodeMessage decodes a CBOR-encoded message.
func DecodeMessage(b []byte) (*Message, error) {
	var m Message
	if err := m.UnmarshalCBOR(bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return &m, nil
}

// ApplyKind distinguishes messages that pay for themselves from messages
// applied by the system (cron, rewards) that skip fee handling.
type ApplyKind int

const (
	ApplyExplicit ApplyKind = iota
	ApplyImplicit
)

// String implements fmt.Stringer.
func (k ApplyKind) String() string {
	switch k {
	case ApplyExplicit:
		return "explicit"
	case ApplyImplicit:
		return "implicit"
	default:
		return "unknown"
	}
}

// Receipt is the consensus-relevant outcome of applying a message.
type Receipt struct {
	ExitCode exitcode.ExitCode
	Return   []byte
	GasUsed  int64
}

// Failure builds a receipt for a message that never reached the receiver.
func Failure(code exitcode.ExitCode, gasUsed int64) Receipt {
	return Receipt{ExitCode: code, GasUsed: gasUsed}
}
