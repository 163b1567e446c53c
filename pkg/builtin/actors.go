package builtin

import (
	"errors"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/crypto"
	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/ipfs/go-cid"
	cbg "github.com/whyrusleeping/cbor-gen"

	"github.com/fortiblox/actorvm/internal/cborutil"
	"github.com/fortiblox/actorvm/internal/types"
	"github.com/fortiblox/actorvm/pkg/engine/native"
)

// MethodPubkeyAddress returns an account's key address.
const MethodPubkeyAddress = 2

// stateless actors accept their constructor and nothing else. Plain value
// transfers never reach code.
type stateless struct {
	name string
}

func (a stateless) Invoke(rt *native.Runtime, params uint32) (uint32, error) {
	ctx, err := rt.Context()
	if err != nil {
		return 0, err
	}
	if ctx.Method == types.MethodConstructor {
		if ctx.Caller != types.SystemActorID {
			return 0, rt.Abortf(exitcode.ErrForbidden, "%s constructor called by %d", a.name, ctx.Caller)
		}
		return 0, nil
	}
	return 0, rt.Abortf(exitcode.ErrUnhandledMessage, "%s actor has no method %d", a.name, ctx.Method)
}

// initActor creates actors from code that is already installed.
type initActor struct{}

func (initActor) Invoke(rt *native.Runtime, params uint32) (uint32, error) {
	ctx, err := rt.Context()
	if err != nil {
		return 0, err
	}
	switch ctx.Method {
	case types.MethodConstructor:
		return 0, nil
	case types.MethodInitExec:
	default:
		return 0, rt.Abortf(exitcode.ErrUnhandledMessage, "init actor has no method %d", ctx.Method)
	}

	var p ExecParams
	if err := readParams(rt, params, &p); err != nil {
		return 0, err
	}
	typ, err := rt.GetBuiltinActorType(p.CodeCID)
	if err != nil {
		return 0, err
	}
	if typ != types.ActorTypeNone {
		return 0, rt.Abortf(exitcode.ErrForbidden, "cannot exec builtin actor type %d", typ)
	}

	robust, err := rt.NewActorAddress()
	if err != nil {
		return 0, err
	}
	id, err := rt.CreateActor(p.CodeCID, robust)
	if err != nil {
		var se *native.SyscallError
		if !errors.As(err, &se) {
			return 0, err
		}
		return 0, rt.Abortf(exitcode.ErrIllegalArgument, "create actor: %v", se)
	}

	var ctorParams uint32
	if len(p.ConstructorParams) > 0 {
		if ctorParams, err = rt.CreateBlock(cid.DagCBOR, p.ConstructorParams); err != nil {
			return 0, err
		}
	}
	res, err := rt.Send(types.IDAddress(id), types.MethodConstructor, ctorParams, ctx.Value, 0)
	if err != nil {
		return 0, err
	}
	if !res.ExitCode.IsSuccess() {
		return 0, rt.Abortf(res.ExitCode, "constructor of actor %d failed", id)
	}

	return returnCBOR(rt, &ExecReturn{IDAddress: types.IDAddress(id), RobustAddress: robust})
}

// accountActor holds a key address and validates messages signed by it.
type accountActor struct{}

func (accountActor) Invoke(rt *native.Runtime, params uint32) (uint32, error) {
	ctx, err := rt.Context()
	if err != nil {
		return 0, err
	}
	switch ctx.Method {
	case types.MethodConstructor:
		if ctx.Caller != types.SystemActorID {
			return 0, rt.Abortf(exitcode.ErrForbidden, "account constructor called by %d", ctx.Caller)
		}
		var addr address.Address
		if err := readParams(rt, params, &addr); err != nil {
			return 0, err
		}
		if !IsKeyAddress(addr) {
			return 0, rt.Abortf(exitcode.ErrIllegalArgument, "address %s is not a key address", addr)
		}
		b, err := cborutil.Marshal(&AccountState{Address: addr})
		if err != nil {
			return 0, err
		}
		return 0, rt.SaveState(b)

	case MethodPubkeyAddress:
		st, err := loadAccount(rt)
		if err != nil {
			return 0, err
		}
		return returnCBOR(rt, &st.Address)

	default:
		return 0, rt.Abortf(exitcode.ErrUnhandledMessage, "account actor has no method %d", ctx.Method)
	}
}

// Validate checks that the signature in params was made by the account's
// key over the payload. The payload carries the gas terms the key holder
// authorizes, which are returned as they are.
func (accountActor) Validate(rt *native.Runtime, params uint32) (uint32, error) {
	var p types.ValidateParams
	if err := readParams(rt, params, &p); err != nil {
		return 0, err
	}
	var spec types.GasSpec
	if err := cborutil.Unmarshal(p.Payload, &spec); err != nil {
		return 0, rt.Abortf(exitcode.ErrSerialization, "decode gas terms: %v", err)
	}

	st, err := loadAccount(rt)
	if err != nil {
		return 0, err
	}
	sigType := crypto.SigTypeSecp256k1
	if st.Address.Protocol() == address.BLS {
		sigType = crypto.SigTypeBLS
	}
	ok, err := rt.VerifySignature(sigType, p.Signature, st.Address, p.Payload)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, rt.Abortf(exitcode.ErrIllegalArgument, "invalid signature for %s", st.Address)
	}
	return returnCBOR(rt, &spec)
}

func loadAccount(rt *native.Runtime) (*AccountState, error) {
	b, err := rt.LoadState()
	if err != nil {
		return nil, err
	}
	var st AccountState
	if err := cborutil.Unmarshal(b, &st); err != nil {
		return nil, rt.Abortf(exitcode.ErrIllegalState, "decode account state: %v", err)
	}
	return &st, nil
}

func readParams(rt *native.Runtime, params uint32, v cbg.CBORUnmarshaler) error {
	if params == 0 {
		return rt.Abortf(exitcode.ErrSerialization, "missing parameters")
	}
	_, b, err := rt.ReadBlock(params)
	if err != nil {
		return err
	}
	if err := cborutil.Unmarshal(b, v); err != nil {
		return rt.Abortf(exitcode.ErrSerialization, "decode parameters: %v", err)
	}
	return nil
}

func returnCBOR(rt *native.Runtime, v cbg.CBORMarshaler) (uint32, error) {
	b, err := cborutil.Marshal(v)
	if err != nil {
		return 0, err
	}
	return rt.CreateBlock(cid.DagCBOR, b)
}

var (
	_ native.Actor     = stateless{}
	_ native.Actor     = initActor{}
	_ native.Validator = accountActor{}
)
