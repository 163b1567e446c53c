package syscalls

import (
	"bytes"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/crypto"
	cbg "github.com/whyrusleeping/cbor-gen"

	"github.com/fortiblox/actorvm/internal/cborutil"
	"github.com/fortiblox/actorvm/pkg/kernel"
)

// MaxBatchSeals bounds the number of seals in one batch_verify_seals call.
const MaxBatchSeals = 10_000

// ConsensusFaultRecordSize is the size of the verify_consensus_fault
// record: {epoch i64, target u64, fault u32, _ u32}.
const ConsensusFaultRecordSize = 24

func verifySignature[K kernel.CryptoOps](c *Context[K], args []uint64) error {
	out, err := c.Memory.Slice(args[0], 4)
	if err != nil {
		return err
	}
	sig, err := c.Memory.Read(args[2], args[3])
	if err != nil {
		return err
	}
	signer, err := c.Memory.ReadAddress(args[4], args[5])
	if err != nil {
		return err
	}
	data, err := c.Memory.Read(args[6], args[7])
	if err != nil {
		return err
	}
	ok, err := c.Kernel.VerifySignature(crypto.SigType(args[1]), sig, signer, data)
	if err != nil {
		return err
	}
	putI32(out, boolResult(ok))
	return nil
}

func recoverSecpPublicKey[K kernel.CryptoOps](c *Context[K], args []uint64) error {
	out, err := c.Memory.Slice(args[0], kernel.SecpPublicKeyLength)
	if err != nil {
		return err
	}
	var hash [32]byte
	var sig [kernel.SecpSignatureLength]byte
	b, err := c.Memory.Slice(args[1], uint64(len(hash)))
	if err != nil {
		return err
	}
	copy(hash[:], b)
	if b, err = c.Memory.Slice(args[2], uint64(len(sig))); err != nil {
		return err
	}
	copy(sig[:], b)

	key, err := c.Kernel.RecoverSecpPublicKey(hash, sig)
	if err != nil {
		return err
	}
	copy(out, key[:])
	return nil
}

func hashData[K kernel.CryptoOps](c *Context[K], args []uint64) error {
	out, err := c.Memory.Slice(args[0], 4)
	if err != nil {
		return err
	}
	data, err := c.Memory.Read(args[2], args[3])
	if err != nil {
		return err
	}
	digestBuf, err := c.Memory.Slice(args[4], args[5])
	if err != nil {
		return err
	}
	digest, err := c.Kernel.Hash(args[1], data)
	if err != nil {
		return err
	}
	// The digest is truncated to the caller's buffer.
	putU32(out, uint32(copy(digestBuf, digest)))
	return nil
}

func verifyProof[K kernel.CryptoOps](verify func(K) func([]byte) (bool, error)) Handler[K] {
	return func(c *Context[K], args []uint64) error {
		out, err := c.Memory.Slice(args[0], 4)
		if err != nil {
			return err
		}
		info, err := c.Memory.Read(args[1], args[2])
		if err != nil {
			return err
		}
		ok, err := verify(c.Kernel)(info)
		if err != nil {
			return err
		}
		putI32(out, boolResult(ok))
		return nil
	}
}

func computeUnsealedSectorCid[K kernel.CryptoOps](c *Context[K], args []uint64) error {
	out, err := c.Memory.Slice(args[0], 4)
	if err != nil {
		return err
	}
	pieces, err := c.Memory.Read(args[2], args[3])
	if err != nil {
		return err
	}
	buf, err := c.Memory.Slice(args[4], args[5])
	if err != nil {
		return err
	}
	k, err := c.Kernel.ComputeUnsealedSectorCid(abi.RegisteredSealProof(int64(args[1])), pieces)
	if err != nil {
		return err
	}
	n, err := putBytes(buf, k.Bytes())
	if err != nil {
		return err
	}
	putU32(out, n)
	return nil
}

func verifyConsensusFault[K kernel.CryptoOps](c *Context[K], args []uint64) error {
	out, err := c.Memory.Slice(args[0], ConsensusFaultRecordSize)
	if err != nil {
		return err
	}
	h1, err := c.Memory.Read(args[1], args[2])
	if err != nil {
		return err
	}
	h2, err := c.Memory.Read(args[3], args[4])
	if err != nil {
		return err
	}
	extra, err := c.Memory.Read(args[5], args[6])
	if err != nil {
		return err
	}
	fault, err := c.Kernel.VerifyConsensusFault(h1, h2, extra)
	if err != nil {
		return err
	}
	clear(out)
	if fault != nil {
		putU64(out[0:], uint64(fault.Epoch))
		putU64(out[8:], uint64(fault.Target))
		putU32(out[16:], uint32(fault.Type))
	}
	return nil
}

// decodeSealBatch decodes a CBOR array of byte strings.
func decodeSealBatch(b []byte) ([][]byte, error) {
	r := bytes.NewReader(b)
	cr := cbg.NewCborReader(r)
	maj, n, err := cr.ReadHeader()
	if err != nil || maj != cbg.MajArray {
		return nil, kernel.Syscallf(kernel.Serialization, "seal batch is not an array")
	}
	if n > MaxBatchSeals {
		return nil, kernel.Syscallf(kernel.LimitExceeded, "%d seals in batch", n)
	}
	batch := make([][]byte, n)
	for i := range batch {
		if batch[i], err = cborutil.ReadBytes(cr); err != nil {
			return nil, kernel.Syscallf(kernel.Serialization, "seal %d: %v", i, err)
		}
	}
	if r.Len() != 0 {
		return nil, kernel.Syscallf(kernel.Serialization, "trailing bytes after seal batch")
	}
	return batch, nil
}

func batchVerifySeals[K kernel.CryptoOps](c *Context[K], args []uint64) error {
	raw, err := c.Memory.Read(args[0], args[1])
	if err != nil {
		return err
	}
	batch, err := decodeSealBatch(raw)
	if err != nil {
		return err
	}
	out, err := c.Memory.Slice(args[2], uint64(len(batch)))
	if err != nil {
		return err
	}
	results, err := c.Kernel.BatchVerifySeals(batch)
	if err != nil {
		return err
	}
	if len(results) != len(batch) {
		return kernel.Fatalf("batch verify seals: %d results for %d seals", len(results), len(batch))
	}
	for i, ok := range results {
		out[i] = 0
		if ok {
			out[i] = 1
		}
	}
	return nil
}
