package gas

import (
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/crypto"
)

// Base costs, in whole gas.
const (
	OnChainMessageBase       = int64(38_863)
	OnChainMessagePerByte    = int64(1_300)
	OnMethodInvocationBase   = int64(29_233)
	OnValueTransfer          = int64(27_500)
	OnCreateActorBase        = int64(1_108_454)
	OnResolveAddress         = int64(10_000)
	OnActorLookup            = int64(500_000)
	OnSyscallBase            = int64(14)
	OnGetRandomnessBase      = int64(21_000)
	OnGetRandomnessPerByte   = int64(1)
	OnBlockOpenBase          = int64(187_440)
	OnBlockOpenPerByte       = int64(10)
	OnBlockCreateBase        = int64(0)
	OnBlockCreatePerByte     = int64(1)
	OnBlockReadPerByte       = int64(1)
	OnBlockLinkBase          = int64(353_640)
	OnBlockLinkPerByte       = int64(1)
	OnBlockStat              = int64(0)
	OnHashingBase            = int64(31_355)
	OnHashingPerByte         = int64(2)
	OnSecpSigVerify          = int64(1_637_292)
	OnBLSSigVerifyBase       = int64(16_598_605)
	OnBLSSigVerifyPerByte    = int64(26)
	OnSecpRecover            = int64(1_637_292)
	OnVerifySeal             = int64(2_000)
	OnVerifyPost             = int64(123_861_062)
	OnVerifyAggregateSeals   = int64(449_900)
	OnVerifyReplicaUpdate    = int64(36_316_136)
	OnComputeUnsealedCID     = int64(98_647)
	OnVerifyConsensusFault   = int64(495_422)
	OnInstallActorPerByte    = int64(20)
	OnBatchVerifySealPerSeal = int64(34_721_049)
)

// ExecMilligasPerUnit converts one sandbox instruction cost unit into
// milligas.
const ExecMilligasPerUnit = int64(4)

// Pricelist prices every host operation. All methods return named charges
// so that traces identify what was paid for.
type Pricelist struct{}

// DefaultPricelist returns the pricelist used by default machines.
func DefaultPricelist() *Pricelist {
	return &Pricelist{}
}

func wholeCharge(name string, base, perUnit int64, units int) Charge {
	return NewCharge(name, NewGas(base).Add(NewGas(perUnit).Mul(int64(units))))
}

// OnChainMessage is the inclusion cost of a message of msgSize bytes.
func (pl *Pricelist) OnChainMessage(msgSize int) Charge {
	return wholeCharge("OnChainMessage", OnChainMessageBase, OnChainMessagePerByte, msgSize)
}

// OnMethodInvocation prices a send, including any value transfer.
func (pl *Pricelist) OnMethodInvocation(value abi.TokenAmount, method abi.MethodNum) Charge {
	amount := NewGas(OnMethodInvocationBase)
	if value.Int != nil && !value.IsZero() {
		amount = amount.Add(NewGas(OnValueTransfer))
	}
	return NewCharge("OnMethodInvocation", amount)
}

// OnCreateActor prices creating an actor record.
func (pl *Pricelist) OnCreateActor() Charge {
	return NewCharge("OnCreateActor", NewGas(OnCreateActorBase))
}

// OnSyscall is charged on every syscall boundary.
func (pl *Pricelist) OnSyscall() Charge {
	return NewCharge("OnSyscall", NewGas(OnSyscallBase))
}

// OnResolveAddress prices an address lookup.
func (pl *Pricelist) OnResolveAddress() Charge {
	return NewCharge("OnResolveAddress", NewGas(OnResolveAddress))
}

// OnActorLookup prices loading an actor record.
func (pl *Pricelist) OnActorLookup() Charge {
	return NewCharge("OnActorLookup", NewGas(OnActorLookup))
}

// OnGetRandomness prices a randomness draw with the given entropy size.
func (pl *Pricelist) OnGetRandomness(entropySize int) Charge {
	return wholeCharge("OnGetRandomness", OnGetRandomnessBase, OnGetRandomnessPerByte, entropySize)
}

// OnBlockOpen prices loading a block of the given size from the store.
func (pl *Pricelist) OnBlockOpen(size int) Charge {
	return wholeCharge("OnBlockOpen", OnBlockOpenBase, OnBlockOpenPerByte, size)
}

// OnBlockCreate prices registering a new block.
func (pl *Pricelist) OnBlockCreate(size int) Charge {
	return wholeCharge("OnBlockCreate", OnBlockCreateBase, OnBlockCreatePerByte, size)
}

// OnBlockRead prices copying size bytes of a block into the sandbox.
func (pl *Pricelist) OnBlockRead(size int) Charge {
	return wholeCharge("OnBlockRead", 0, OnBlockReadPerByte, size)
}

// OnBlockLink prices hashing and persisting a block.
func (pl *Pricelist) OnBlockLink(size int) Charge {
	return wholeCharge("OnBlockLink", OnBlockLinkBase, OnBlockLinkPerByte, size)
}

// OnBlockStat prices a block stat.
func (pl *Pricelist) OnBlockStat() Charge {
	return NewCharge("OnBlockStat", NewGas(OnBlockStat))
}

// OnHashing prices hashing size bytes.
func (pl *Pricelist) OnHashing(size int) Charge {
	return wholeCharge("OnHashing", OnHashingBase, OnHashingPerByte, size)
}

// OnVerifySignature prices a signature check over a plaintext of the given size.
func (pl *Pricelist) OnVerifySignature(sigType crypto.SigType, plaintextSize int) Charge {
	switch sigType {
	case crypto.SigTypeBLS:
		return wholeCharge("OnVerifySignature", OnBLSSigVerifyBase, OnBLSSigVerifyPerByte, plaintextSize)
	default:
		return wholeCharge("OnVerifySignature", OnSecpSigVerify, OnHashingPerByte, plaintextSize)
	}
}

// OnRecoverSecpPublicKey prices a secp256k1 public key recovery.
func (pl *Pricelist) OnRecoverSecpPublicKey() Charge {
	return NewCharge("OnRecoverSecpPublicKey", NewGas(OnSecpRecover))
}

// OnVerifySeal prices a seal verification.
func (pl *Pricelist) OnVerifySeal() Charge {
	return NewCharge("OnVerifySeal", NewGas(OnVerifySeal))
}

// OnVerifyPost prices a window PoSt verification.
func (pl *Pricelist) OnVerifyPost() Charge {
	return NewCharge("OnVerifyPost", NewGas(OnVerifyPost))
}

// OnVerifyAggregateSeals prices an aggregate seal verification.
func (pl *Pricelist) OnVerifyAggregateSeals(size int) Charge {
	return wholeCharge("OnVerifyAggregateSeals", OnVerifyAggregateSeals, 1, size)
}

// OnVerifyReplicaUpdate prices a replica update verification.
func (pl *Pricelist) OnVerifyReplicaUpdate() Charge {
	return NewCharge("OnVerifyReplicaUpdate", NewGas(OnVerifyReplicaUpdate))
}

// OnComputeUnsealedSectorCid prices an unsealed CID computation.
func (pl *Pricelist) OnComputeUnsealedSectorCid() Charge {
	return NewCharge("OnComputeUnsealedSectorCid", NewGas(OnComputeUnsealedCID))
}

// OnVerifyConsensusFault prices a consensus fault check.
func (pl *Pricelist) OnVerifyConsensusFault() Charge {
	return NewCharge("OnVerifyConsensusFault", NewGas(OnVerifyConsensusFault))
}

// OnBatchVerifySeals prices verifying n seals in one call.
func (pl *Pricelist) OnBatchVerifySeals(n int) Charge {
	return wholeCharge("OnBatchVerifySeals", 0, OnBatchVerifySealPerSeal, n)
}

// OnInstallActor prices installing actor code of the given size.
func (pl *Pricelist) OnInstallActor(size int) Charge {
	return wholeCharge("OnInstallActor", 0, OnInstallActorPerByte, size)
}

// OnExec converts a sandbox milligas delta into a charge.
func (pl *Pricelist) OnExec(milligas int64) Charge {
	return NewCharge("OnExec", FromMilligas(milligas))
}
