package kernel

import (
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/crypto"
	"github.com/ipfs/go-cid"
	sha256 "github.com/minio/sha256-simd"
	"github.com/multiformats/go-multihash"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
	"golang.org/x/xerrors"

	"github.com/fortiblox/actorvm/internal/types"
	"github.com/fortiblox/actorvm/pkg/machine"
	"github.com/fortiblox/actorvm/pkg/state"
)

// Secp256k1 sizes.
const (
	SecpSignatureLength = 65
	SecpPublicKeyLength = 65
)

// Hash functions available through crypto.hash.
const (
	HashSha2_256   = multihash.SHA2_256
	HashKeccak256  = multihash.KECCAK_256
	HashBlake2b256 = multihash.BLAKE2B_MIN + 31
	HashBlake3     = multihash.BLAKE3
)

// RecoverSecp recovers the uncompressed public key that produced a 65-byte
// r||s||v signature over hash.
func RecoverSecp(hash [32]byte, sig []byte) ([SecpPublicKeyLength]byte, error) {
	var out [SecpPublicKeyLength]byte
	if len(sig) != SecpSignatureLength {
		return out, xerrors.Errorf("signature must be %d bytes, got %d", SecpSignatureLength, len(sig))
	}
	v := sig[64]
	if v > 3 {
		return out, xerrors.Errorf("invalid recovery id %d", v)
	}
	compact := make([]byte, SecpSignatureLength)
	compact[0] = 27 + v
	copy(compact[1:], sig[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, hash[:])
	if err != nil {
		return out, err
	}
	copy(out[:], pub.SerializeUncompressed())
	return out, nil
}

// SignSecp signs the blake2b-256 digest of msg and returns r||s||v.
func SignSecp(priv *secp256k1.PrivateKey, msg []byte) []byte {
	digest := blake2b.Sum256(msg)
	compact := ecdsa.SignCompact(priv, digest[:], false)
	sig := make([]byte, SecpSignatureLength)
	copy(sig, compact[1:])
	sig[64] = compact[0] - 27
	return sig
}

// SecpAddress returns the secp256k1 address of a private key.
func SecpAddress(priv *secp256k1.PrivateKey) (address.Address, error) {
	return address.NewSecp256k1Address(priv.PubKey().SerializeUncompressed())
}

// VerifySecp reports whether sig is signer's signature over msg.
func VerifySecp(sig []byte, signer address.Address, msg []byte) bool {
	if signer.Protocol() != address.SECP256K1 {
		return false
	}
	pub, err := RecoverSecp(blake2b.Sum256(msg), sig)
	if err != nil {
		return false
	}
	addr, err := address.NewSecp256k1Address(pub[:])
	return err == nil && addr == signer
}

// robust maps an ID address to the robust address its actor was created
// with.
func (k *DefaultKernel) robust(addr address.Address) (address.Address, error) {
	if addr.Protocol() != address.ID {
		return addr, nil
	}
	id, err := address.IDFromAddress(addr)
	if err != nil {
		return address.Undef, Syscallf(IllegalArgument, "%v", err)
	}
	act, err := k.tree().GetActor(abi.ActorID(id))
	if errors.Is(err, state.ErrActorNotFound) {
		return address.Undef, Syscallf(NotFound, "signer %s not found", addr)
	}
	if err != nil {
		return address.Undef, Fatalf("load signer %s: %w", addr, err)
	}
	if act.Address == nil {
		return address.Undef, Syscallf(IllegalArgument, "signer %s has no key address", addr)
	}
	return *act.Address, nil
}

func externError(op string, err error) error {
	if errors.Is(err, machine.ErrUnsupported) {
		return Syscallf(IllegalOperation, "%s: %v", op, err)
	}
	return Fatalf("%s: %w", op, err)
}

// VerifySignature implements CryptoOps.
func (k *DefaultKernel) VerifySignature(sigType crypto.SigType, sig []byte, signer address.Address, plaintext []byte) (bool, error) {
	if err := k.charge(k.Pricelist().OnVerifySignature(sigType, len(plaintext))); err != nil {
		return false, err
	}
	signer, err := k.robust(signer)
	if err != nil {
		return false, err
	}
	switch sigType {
	case crypto.SigTypeSecp256k1:
		return VerifySecp(sig, signer, plaintext), nil
	case crypto.SigTypeBLS:
		if signer.Protocol() != address.BLS {
			return false, nil
		}
		ok, err := k.machine().Externs().Proofs.VerifyBLS(sig, signer.Payload(), plaintext)
		if err != nil {
			return false, externError("verify bls", err)
		}
		return ok, nil
	default:
		return false, Syscallf(IllegalArgument, "unknown signature type %d", sigType)
	}
}

// RecoverSecpPublicKey implements CryptoOps.
func (k *DefaultKernel) RecoverSecpPublicKey(hash [32]byte, sig [SecpSignatureLength]byte) ([SecpPublicKeyLength]byte, error) {
	if err := k.charge(k.Pricelist().OnRecoverSecpPublicKey()); err != nil {
		return [SecpPublicKeyLength]byte{}, err
	}
	pub, err := RecoverSecp(hash, sig[:])
	if err != nil {
		return pub, Syscallf(IllegalArgument, "recover public key: %v", err)
	}
	return pub, nil
}

// Hash implements CryptoOps.
func (k *DefaultKernel) Hash(code uint64, data []byte) ([]byte, error) {
	if err := k.charge(k.Pricelist().OnHashing(len(data))); err != nil {
		return nil, err
	}
	return HashData(code, data)
}

// HashData hashes data with a supported multihash function.
func HashData(code uint64, data []byte) ([]byte, error) {
	switch code {
	case HashSha2_256:
		sum := sha256.Sum256(data)
		return sum[:], nil
	case HashKeccak256:
		h := sha3.NewLegacyKeccak256()
		h.Write(data)
		return h.Sum(nil), nil
	case HashBlake2b256:
		sum := blake2b.Sum256(data)
		return sum[:], nil
	case HashBlake3:
		sum := blake3.Sum256(data)
		return sum[:], nil
	default:
		return nil, Syscallf(IllegalArgument, "unsupported hash code 0x%x", code)
	}
}

// VerifySeal implements CryptoOps.
func (k *DefaultKernel) VerifySeal(info []byte) (bool, error) {
	if err := k.charge(k.Pricelist().OnVerifySeal()); err != nil {
		return false, err
	}
	ok, err := k.machine().Externs().Proofs.VerifySeal(info)
	if err != nil {
		return false, externError("verify seal", err)
	}
	return ok, nil
}

// VerifyPost implements CryptoOps.
func (k *DefaultKernel) VerifyPost(info []byte) (bool, error) {
	if err := k.charge(k.Pricelist().OnVerifyPost()); err != nil {
		return false, err
	}
	ok, err := k.machine().Externs().Proofs.VerifyPost(info)
	if err != nil {
		return false, externError("verify post", err)
	}
	return ok, nil
}

// VerifyAggregateSeals implements CryptoOps.
func (k *DefaultKernel) VerifyAggregateSeals(info []byte) (bool, error) {
	if err := k.charge(k.Pricelist().OnVerifyAggregateSeals(len(info))); err != nil {
		return false, err
	}
	ok, err := k.machine().Externs().Proofs.VerifyAggregateSeals(info)
	if err != nil {
		return false, externError("verify aggregate seals", err)
	}
	return ok, nil
}

// VerifyReplicaUpdate implements CryptoOps.
func (k *DefaultKernel) VerifyReplicaUpdate(info []byte) (bool, error) {
	if err := k.charge(k.Pricelist().OnVerifyReplicaUpdate()); err != nil {
		return false, err
	}
	ok, err := k.machine().Externs().Proofs.VerifyReplicaUpdate(info)
	if err != nil {
		return false, externError("verify replica update", err)
	}
	return ok, nil
}

// ComputeUnsealedSectorCid implements CryptoOps.
func (k *DefaultKernel) ComputeUnsealedSectorCid(proofType abi.RegisteredSealProof, pieces []byte) (cid.Cid, error) {
	if err := k.charge(k.Pricelist().OnComputeUnsealedSectorCid()); err != nil {
		return cid.Undef, err
	}
	c, err := k.machine().Externs().Proofs.ComputeUnsealedSectorCid(proofType, pieces)
	if err != nil {
		return cid.Undef, externError("compute unsealed sector cid", err)
	}
	return c, nil
}

// VerifyConsensusFault implements CryptoOps. A nil fault means none was
// proven.
func (k *DefaultKernel) VerifyConsensusFault(h1, h2, extra []byte) (*types.ConsensusFault, error) {
	if err := k.charge(k.Pricelist().OnVerifyConsensusFault()); err != nil {
		return nil, err
	}
	fault, err := k.machine().Externs().Proofs.VerifyConsensusFault(h1, h2, extra)
	if err != nil {
		return nil, externError("verify consensus fault", err)
	}
	return fault, nil
}

// BatchVerifySeals implements CryptoOps.
func (k *DefaultKernel) BatchVerifySeals(batch [][]byte) ([]bool, error) {
	if err := k.charge(k.Pricelist().OnBatchVerifySeals(len(batch))); err != nil {
		return nil, err
	}
	out := make([]bool, len(batch))
	for i, info := range batch {
		ok, err := k.machine().Externs().Proofs.VerifySeal(info)
		if err != nil {
			return nil, externError("batch verify seals", err)
		}
		out[i] = ok
	}
	return out, nil
}
