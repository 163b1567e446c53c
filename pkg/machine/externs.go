package machine

import (
	"encoding/binary"
	"errors"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/ipfs/go-cid"
	"golang.org/x/crypto/blake2b"

	"github.com/fortiblox/actorvm/internal/types"
)

// ErrUnsupported is returned by externs that do not implement an operation.
var ErrUnsupported = errors.New("operation not supported by externs")

// Randomness supplies raw chain and beacon randomness for a round.
type Randomness interface {
	GetChainRandomness(round abi.ChainEpoch) ([32]byte, error)
	GetBeaconRandomness(round abi.ChainEpoch) ([32]byte, error)
}

// ProofVerifier verifies proofs and BLS signatures on behalf of actors.
// Inputs are the encoded info blocks actors pass in.
type ProofVerifier interface {
	VerifyBLS(sig, pubKey, msg []byte) (bool, error)
	VerifySeal(info []byte) (bool, error)
	VerifyPost(info []byte) (bool, error)
	VerifyAggregateSeals(info []byte) (bool, error)
	VerifyReplicaUpdate(info []byte) (bool, error)
	ComputeUnsealedSectorCid(proofType abi.RegisteredSealProof, pieces []byte) (cid.Cid, error)
	VerifyConsensusFault(h1, h2, extra []byte) (*types.ConsensusFault, error)
}

// Externs are the machine's host-provided collaborators.
type Externs struct {
	Randomness Randomness
	Proofs     ProofVerifier
}

// DefaultExterns returns externs with seeded randomness and no proof
// support.
func DefaultExterns() Externs {
	return Externs{
		Randomness: SeededRandomness{Seed: []byte("actorvm")},
		Proofs:     NoProofs{},
	}
}

// SeededRandomness derives randomness by hashing a seed with the round.
type SeededRandomness struct {
	Seed []byte
}

func (r SeededRandomness) draw(kind byte, round abi.ChainEpoch) [32]byte {
	buf := make([]byte, 0, len(r.Seed)+9)
	buf = append(buf, r.Seed...)
	buf = append(buf, kind)
	buf = binary.BigEndian.AppendUint64(buf, uint64(round))
	return blake2b.Sum256(buf)
}

// GetChainRandomness implements Randomness.
func (r SeededRandomness) GetChainRandomness(round abi.ChainEpoch) ([32]byte, error) {
	return r.draw('c', round), nil
}

// GetBeaconRandomness implements Randomness.
func (r SeededRandomness) GetBeaconRandomness(round abi.ChainEpoch) ([32]byte, error) {
	return r.draw('b', round), nil
}

// NoProofs rejects every proof and signature it is asked about.
type NoProofs struct{}

func (NoProofs) VerifyBLS(sig, pubKey, msg []byte) (bool, error) { return false, ErrUnsupported }
func (NoProofs) VerifySeal(info []byte) (bool, error)            { return false, nil }
func (NoProofs) VerifyPost(info []byte) (bool, error)            { return false, nil }
func (NoProofs) VerifyAggregateSeals(info []byte) (bool, error)  { return false, nil }
func (NoProofs) VerifyReplicaUpdate(info []byte) (bool, error)   { return false, nil }

func (NoProofs) ComputeUnsealedSectorCid(abi.RegisteredSealProof, []byte) (cid.Cid, error) {
	return cid.Undef, ErrUnsupported
}

func (NoProofs) VerifyConsensusFault(h1, h2, extra []byte) (*types.ConsensusFault, error) {
	return nil, nil
}

var (
	_ Randomness    = SeededRandomness{}
	_ ProofVerifier = NoProofs{}
)
