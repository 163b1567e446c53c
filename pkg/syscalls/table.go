package syscalls

import (
	"github.com/fortiblox/actorvm/pkg/engine"
	"github.com/fortiblox/actorvm/pkg/kernel"
)

// Options selects optional imports.
type Options struct {
	EnableActorInstall bool
}

// Table returns the canonical list of imports for kernel type K. Both the
// invoke and the validate surfaces are built from it.
func Table[K kernel.Kernel]() []Syscall[K] {
	return []Syscall[K]{
		{Module: "debug", Name: "log", Arity: 2, Fn: debugLog[K]},
		{Module: "debug", Name: "enabled", Arity: 1, Fn: debugEnabled[K]},
		{Module: "debug", Name: "store_artifact", Arity: 4, Fn: debugStoreArtifact[K]},

		{Module: "send", Name: "send", Arity: 8, Fn: send[K], SelfOnly: true},

		{Module: "rand", Name: "get_chain_randomness", Arity: 5, Fn: getChainRandomness[K]},
		{Module: "rand", Name: "get_beacon_randomness", Arity: 5, Fn: getBeaconRandomness[K]},

		{Module: "gas", Name: "charge", Arity: 3, Fn: chargeGas[K]},

		{Module: "ipld", Name: "block_open", Arity: 3, Fn: blockOpen[K]},
		{Module: "ipld", Name: "block_create", Arity: 4, Fn: blockCreate[K]},
		{Module: "ipld", Name: "block_read", Arity: 5, Fn: blockRead[K]},
		{Module: "ipld", Name: "block_stat", Arity: 2, Fn: blockStat[K]},
		{Module: "ipld", Name: "block_link", Arity: 6, Fn: blockLink[K]},

		{Module: "actor", Name: "resolve_address", Arity: 3, Fn: resolveAddress[K]},
		{Module: "actor", Name: "get_actor_code_cid", Arity: 4, Fn: getActorCodeCid[K]},
		{Module: "actor", Name: "new_actor_address", Arity: 3, Fn: newActorAddress[K], SelfOnly: true},
		{Module: "actor", Name: "create_actor", Arity: 5, Fn: createActor[K], SelfOnly: true},
		{Module: "actor", Name: "get_builtin_actor_type", Arity: 3, Fn: getBuiltinActorType[K]},
		{Module: "actor", Name: "get_code_cid_for_type", Arity: 4, Fn: getCodeCidForType[K]},
		{Module: "actor", Name: "install_actor", Arity: 2, Fn: installActor[K], SelfOnly: true},

		{Module: "crypto", Name: "verify_signature", Arity: 8, Fn: verifySignature[K]},
		{Module: "crypto", Name: "recover_secp_public_key", Arity: 3, Fn: recoverSecpPublicKey[K]},
		{Module: "crypto", Name: "hash", Arity: 6, Fn: hashData[K]},
		{Module: "crypto", Name: "verify_seal", Arity: 3, Fn: verifyProof(func(k K) func([]byte) (bool, error) { return k.VerifySeal })},
		{Module: "crypto", Name: "verify_post", Arity: 3, Fn: verifyProof(func(k K) func([]byte) (bool, error) { return k.VerifyPost })},
		{Module: "crypto", Name: "verify_aggregate_seals", Arity: 3, Fn: verifyProof(func(k K) func([]byte) (bool, error) { return k.VerifyAggregateSeals })},
		{Module: "crypto", Name: "verify_replica_update", Arity: 3, Fn: verifyProof(func(k K) func([]byte) (bool, error) { return k.VerifyReplicaUpdate })},
		{Module: "crypto", Name: "compute_unsealed_sector_cid", Arity: 6, Fn: computeUnsealedSectorCid[K]},
		{Module: "crypto", Name: "verify_consensus_fault", Arity: 7, Fn: verifyConsensusFault[K]},
		{Module: "crypto", Name: "batch_verify_seals", Arity: 3, Fn: batchVerifySeals[K]},

		{Module: "network", Name: "base_fee", Arity: 1, Fn: baseFee[K]},
		{Module: "network", Name: "total_fil_circ_supply", Arity: 1, Fn: totalFilCircSupply[K]},

		{Module: "self", Name: "root", Arity: 3, Fn: selfRoot[K]},
		{Module: "self", Name: "set_root", Arity: 2, Fn: selfSetRoot[K], SelfOnly: true},
		{Module: "self", Name: "current_balance", Arity: 1, Fn: selfCurrentBalance[K]},
		{Module: "self", Name: "self_destruct", Arity: 1, Fn: selfDestruct[K], SelfOnly: true},

		{Module: "vm", Name: "abort", Arity: 3, Fn: vmAbort[K]},
		{Module: "vm", Name: "context", Arity: 1, Fn: vmContext[K]},
	}
}

func bindable[K any](s Syscall[K], opts Options) bool {
	return s.Module != "actor" || s.Name != "install_actor" || opts.EnableActorInstall
}

// BindInvoke returns the full import surface used for normal messages.
func BindInvoke[K kernel.Kernel](data *InvocationData[K], opts Options) engine.Imports {
	imports := make(engine.Imports)
	for _, s := range Table[K]() {
		if bindable(s, opts) {
			Bind(imports, data, s)
		}
	}
	return imports
}

// BindValidate returns the restricted surface used by the validation
// entrypoint. SelfOnly imports only run when the frame is a self call.
func BindValidate[K kernel.ValidateKernel](data *InvocationData[K], opts Options) engine.Imports {
	selfCall := func(k K) bool { return k.IsSelfCall() }
	imports := make(engine.Imports)
	for _, s := range Table[K]() {
		if !bindable(s, opts) {
			continue
		}
		if s.SelfOnly {
			BindChecked(imports, data, s, selfCall)
		} else {
			Bind(imports, data, s)
		}
	}
	return imports
}
