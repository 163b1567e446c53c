package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"
	"github.com/mr-tron/base58"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/fortiblox/actorvm/internal/cborutil"
	"github.com/fortiblox/actorvm/internal/types"
	"github.com/fortiblox/actorvm/pkg/builtin"
	"github.com/fortiblox/actorvm/pkg/engine/sbpf"
	"github.com/fortiblox/actorvm/pkg/executor"
	"github.com/fortiblox/actorvm/pkg/kernel"
	"github.com/fortiblox/actorvm/pkg/programs"
	"github.com/fortiblox/actorvm/pkg/state"
)

var messageFlags = []cli.Flag{
	&cli.StringFlag{Name: "key", Usage: "base58 secp256k1 private key of the sender", Required: true},
	&cli.StringFlag{Name: "value", Usage: "attoFIL to transfer", Value: "0"},
	&cli.Int64Flag{Name: "gas-limit", Value: 100_000_000},
	&cli.StringFlag{Name: "fee-cap", Value: "200"},
	&cli.StringFlag{Name: "premium", Value: "1"},
}

var initCmd = &cli.Command{
	Name:  "init",
	Usage: "create the genesis state",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{Name: "account", Usage: "KEY:BALANCE, a base58 private key and its balance"},
		&cli.IntFlag{Name: "generate", Usage: "number of funded accounts to generate"},
		&cli.StringFlag{Name: "balance", Usage: "balance of generated accounts", Value: "1000000000000000000"},
	},
	Action: func(cctx *cli.Context) error {
		s, err := openSession(cctx, true)
		if err != nil {
			return err
		}
		defer s.close()

		if err := builtin.Genesis(s.m); err != nil {
			return err
		}
		for _, spec := range cctx.StringSlice("account") {
			keyStr, balStr, ok := strings.Cut(spec, ":")
			if !ok {
				return xerrors.Errorf("account %q: want KEY:BALANCE", spec)
			}
			key, err := parseKey(keyStr)
			if err != nil {
				return err
			}
			if err := createAccount(s, key, balStr); err != nil {
				return err
			}
		}
		for i := 0; i < cctx.Int("generate"); i++ {
			key, err := secp256k1.GeneratePrivateKey()
			if err != nil {
				return err
			}
			if err := createAccount(s, key, cctx.String("balance")); err != nil {
				return err
			}
		}

		root, err := s.commit()
		if err != nil {
			return err
		}
		fmt.Println("root:", root)
		return nil
	},
}

func createAccount(s *session, key *secp256k1.PrivateKey, balance string) error {
	bal, err := big.FromString(balance)
	if err != nil {
		return xerrors.Errorf("balance %q: %w", balance, err)
	}
	addr, err := kernel.SecpAddress(key)
	if err != nil {
		return err
	}
	id, err := builtin.CreateAccount(s.m, addr, bal)
	if err != nil {
		return err
	}
	fmt.Printf("account %d %s key=%s balance=%s\n", id, addr, base58.Encode(key.Serialize()), bal)
	return nil
}

var installCmd = &cli.Command{
	Name:      "install",
	Usage:     "store actor bytecode and print its code CID",
	ArgsUsage: "<module file>",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return xerrors.New("expected one module file")
		}
		b, err := os.ReadFile(cctx.Args().First())
		if err != nil {
			return err
		}
		mod, err := sbpf.Parse(b)
		if err != nil {
			return err
		}

		s, err := openSession(cctx, false)
		if err != nil {
			return err
		}
		defer s.close()
		code, err := programs.Install(s.m.Blockstore(), mod)
		if err != nil {
			return err
		}
		if _, err := s.commit(); err != nil {
			return err
		}
		fmt.Println("code:", code)
		return nil
	},
}

var execCmd = &cli.Command{
	Name:  "exec",
	Usage: "create an actor from installed code through the init actor",
	Flags: append([]cli.Flag{
		&cli.StringFlag{Name: "code", Usage: "code CID", Required: true},
		&cli.StringFlag{Name: "ctor-params", Usage: "base58 constructor parameters"},
	}, messageFlags...),
	Action: func(cctx *cli.Context) error {
		code, err := cid.Decode(cctx.String("code"))
		if err != nil {
			return err
		}
		ctor, err := decodeBase58(cctx.String("ctor-params"))
		if err != nil {
			return err
		}
		params, err := cborutil.Marshal(&builtin.ExecParams{CodeCID: code, ConstructorParams: ctor})
		if err != nil {
			return err
		}

		s, err := openSession(cctx, false)
		if err != nil {
			return err
		}
		defer s.close()
		ret, err := applyMessage(cctx, s, types.IDAddress(types.InitActorID), types.MethodInitExec, params)
		if err != nil {
			return err
		}
		if ret.Receipt.ExitCode.IsSuccess() {
			var er builtin.ExecReturn
			if err := cborutil.Unmarshal(ret.Receipt.Return, &er); err != nil {
				return xerrors.Errorf("decode exec return: %w", err)
			}
			fmt.Printf("actor: %s %s\n", er.IDAddress, er.RobustAddress)
		}
		return nil
	},
}

var applyCmd = &cli.Command{
	Name:  "apply",
	Usage: "apply a message from an account",
	Flags: append([]cli.Flag{
		&cli.StringFlag{Name: "to", Required: true},
		&cli.Uint64Flag{Name: "method"},
		&cli.StringFlag{Name: "params", Usage: "base58 DAG-CBOR parameters"},
		&cli.BoolFlag{Name: "validate", Usage: "sign and validate the message before applying it"},
	}, messageFlags...),
	Action: func(cctx *cli.Context) error {
		to, err := address.NewFromString(cctx.String("to"))
		if err != nil {
			return err
		}
		params, err := decodeBase58(cctx.String("params"))
		if err != nil {
			return err
		}

		s, err := openSession(cctx, false)
		if err != nil {
			return err
		}
		defer s.close()
		_, err = applyMessage(cctx, s, to, abi.MethodNum(cctx.Uint64("method")), params)
		return err
	},
}

var validateCmd = &cli.Command{
	Name:  "validate",
	Usage: "sign a message payload and run the sender's validation",
	Flags: append([]cli.Flag{
		&cli.StringFlag{Name: "to", Required: true},
		&cli.Uint64Flag{Name: "method"},
		&cli.StringFlag{Name: "params", Usage: "base58 payload to validate (default: the message's gas terms)"},
		&cli.StringFlag{Name: "signature", Usage: "base58 signature over the payload to check instead of signing"},
	}, messageFlags...),
	Action: func(cctx *cli.Context) error {
		to, err := address.NewFromString(cctx.String("to"))
		if err != nil {
			return err
		}
		params, err := decodeBase58(cctx.String("params"))
		if err != nil {
			return err
		}

		s, err := openSession(cctx, false)
		if err != nil {
			return err
		}
		defer s.close()
		msg, key, err := buildMessage(cctx, s, to, abi.MethodNum(cctx.Uint64("method")), params)
		if err != nil {
			return err
		}
		if msg.Params == nil {
			if msg, err = authorization(msg); err != nil {
				return err
			}
		}
		sig, err := decodeBase58(cctx.String("signature"))
		if err != nil {
			return err
		}
		if sig == nil {
			sig = kernel.SignSecp(key, msg.Params)
		}
		return validateMessage(s, msg, sig)
	},
}

var stateCmd = &cli.Command{
	Name:  "state",
	Usage: "print the state root and every actor",
	Action: func(cctx *cli.Context) error {
		s, err := openSession(cctx, false)
		if err != nil {
			return err
		}
		defer s.close()

		fmt.Println("root:", s.head)
		return s.m.StateTree().ForEach(func(id abi.ActorID, act *state.Actor) error {
			addr := "-"
			if act.Address != nil {
				addr = act.Address.String()
			}
			fmt.Printf("%6d %-44s seq=%-4d balance=%-24s code=%s head=%s\n",
				id, addr, act.Sequence, act.Balance, act.Code, act.Head)
			return nil
		})
	},
}

var keygenCmd = &cli.Command{
	Name:  "keygen",
	Usage: "generate a secp256k1 key",
	Action: func(cctx *cli.Context) error {
		key, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return err
		}
		addr, err := kernel.SecpAddress(key)
		if err != nil {
			return err
		}
		fmt.Printf("address: %s\nkey: %s\n", addr, base58.Encode(key.Serialize()))
		return nil
	},
}

func parseKey(s string) (*secp256k1.PrivateKey, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return nil, xerrors.Errorf("decode key: %w", err)
	}
	if len(b) != secp256k1.PrivKeyBytesLen {
		return nil, xerrors.Errorf("key must be %d bytes, got %d", secp256k1.PrivKeyBytesLen, len(b))
	}
	return secp256k1.PrivKeyFromBytes(b), nil
}

func decodeBase58(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return base58.Decode(s)
}

func buildMessage(cctx *cli.Context, s *session, to address.Address, method abi.MethodNum, params []byte) (*types.Message, *secp256k1.PrivateKey, error) {
	key, err := parseKey(cctx.String("key"))
	if err != nil {
		return nil, nil, err
	}
	from, err := kernel.SecpAddress(key)
	if err != nil {
		return nil, nil, err
	}

	var seq uint64
	tree := s.m.StateTree()
	if id, ok, err := tree.LookupID(from); err != nil {
		return nil, nil, err
	} else if ok {
		act, err := tree.GetActor(id)
		if err != nil {
			return nil, nil, err
		}
		seq = act.Sequence
	}

	amounts := make([]abi.TokenAmount, 3)
	for i, name := range []string{"value", "fee-cap", "premium"} {
		if amounts[i], err = big.FromString(cctx.String(name)); err != nil {
			return nil, nil, xerrors.Errorf("%s: %w", name, err)
		}
	}
	msg := &types.Message{
		Version:    types.MessageVersion,
		To:         to,
		From:       from,
		Sequence:   seq,
		Value:      amounts[0],
		GasLimit:   cctx.Int64("gas-limit"),
		GasFeeCap:  amounts[1],
		GasPremium: amounts[2],
		Method:     method,
		Params:     params,
	}
	return msg, key, nil
}

// authorization returns a copy of msg whose params are its own gas terms,
// the payload an account key signs to authorize them.
func authorization(msg *types.Message) (*types.Message, error) {
	terms, err := cborutil.Marshal(&types.GasSpec{
		GasLimit:   msg.GasLimit,
		GasFeeCap:  msg.GasFeeCap,
		GasPremium: msg.GasPremium,
	})
	if err != nil {
		return nil, err
	}
	auth := *msg
	auth.Params = terms
	return &auth, nil
}

func applyMessage(cctx *cli.Context, s *session, to address.Address, method abi.MethodNum, params []byte) (*executor.ApplyRet, error) {
	msg, key, err := buildMessage(cctx, s, to, method, params)
	if err != nil {
		return nil, err
	}
	if cctx.Bool("validate") {
		auth, err := authorization(msg)
		if err != nil {
			return nil, err
		}
		if err := validateMessage(s, auth, kernel.SignSecp(key, auth.Params)); err != nil {
			return nil, err
		}
	}

	ret, err := executor.New(s.m).ExecuteMessage(msg, types.ApplyExplicit, msg.ChainLength())
	if err != nil {
		return nil, err
	}
	printReceipt(ret)
	root, err := s.commit()
	if err != nil {
		return nil, err
	}
	fmt.Println("root:", root)
	return ret, nil
}

func validateMessage(s *session, msg *types.Message, sig []byte) error {
	spec, err := executor.NewValidateExecutor(s.m).ValidateMessage(msg, sig)
	var verr *executor.ValidationError
	if errors.As(err, &verr) {
		fmt.Printf("invalid: exit=%d %s\n%s", verr.ExitCode, verr.Reason, verr.Backtrace.String())
		return xerrors.Errorf("message rejected with exit code %d", verr.ExitCode)
	}
	if err != nil {
		return err
	}
	fmt.Printf("valid: gas-limit=%d fee-cap=%s premium=%s\n", spec.GasLimit, spec.GasFeeCap, spec.GasPremium)
	return nil
}

func printReceipt(ret *executor.ApplyRet) {
	fmt.Printf("exit: %d\ngas used: %d\n", ret.Receipt.ExitCode, ret.Receipt.GasUsed)
	if len(ret.Receipt.Return) > 0 {
		fmt.Println("return:", base58.Encode(ret.Receipt.Return))
	}
	if ret.GasCosts.BaseFeeBurn.Int != nil {
		fmt.Printf("burnt: %s tip: %s refund: %s\n", ret.GasCosts.BaseFeeBurn, ret.GasCosts.MinerTip, ret.GasCosts.Refund)
	}
	if !ret.Backtrace.IsEmpty() {
		fmt.Print(ret.Backtrace.String())
	}
	for _, ev := range ret.ExecTrace {
		fmt.Println(ev)
	}
}
