package callmanager

import (
	"fmt"
	"strings"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/exitcode"

	"github.com/fortiblox/actorvm/pkg/gas"
)

// EventKind tags an ExecEvent.
type EventKind int

const (
	EventCall EventKind = iota
	EventReturn
	EventGasCharge
)

func (k EventKind) String() string {
	switch k {
	case EventCall:
		return "call"
	case EventReturn:
		return "return"
	case EventGasCharge:
		return "gas"
	default:
		return "unknown"
	}
}

// ExecEvent is one entry of the execution trace.
type ExecEvent struct {
	Kind  EventKind
	Depth int

	// Call
	From   abi.ActorID
	To     address.Address
	Method abi.MethodNum
	Params []byte
	Value  abi.TokenAmount

	// Return
	Code   exitcode.ExitCode
	Return []byte

	// GasCharge
	Charge gas.TracedCharge
}

func (ev ExecEvent) String() string {
	indent := strings.Repeat("  ", ev.Depth)
	switch ev.Kind {
	case EventCall:
		return fmt.Sprintf("%s-> %d => %s::%d value=%s params=%d bytes", indent, ev.From, ev.To, ev.Method, ev.Value, len(ev.Params))
	case EventReturn:
		return fmt.Sprintf("%s<- exit %d return=%d bytes", indent, ev.Code, len(ev.Return))
	case EventGasCharge:
		return fmt.Sprintf("%s   gas %s %s (%s)", indent, ev.Charge.Name, ev.Charge.Amount, ev.Charge.Elapsed)
	default:
		return indent + ev.Kind.String()
	}
}
