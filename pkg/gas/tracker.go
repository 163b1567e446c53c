package gas

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrOutOfGas is returned when a charge exceeds the available gas.
	ErrOutOfGas = errors.New("out of gas")

	// ErrNegativeCharge is returned when a charge would lower gas used.
	ErrNegativeCharge = errors.New("negative gas charge")

	// ErrLimitUnderflow is returned by PopLimit on the root limit.
	ErrLimitUnderflow = errors.New("cannot pop the root gas limit")
)

// Charge is a single named gas charge.
type Charge struct {
	Name   string
	Amount Gas
}

// NewCharge creates a named charge.
func NewCharge(name string, amount Gas) Charge {
	return Charge{Name: name, Amount: amount}
}

// TracedCharge is a charge recorded by a tracing Tracker.
type TracedCharge struct {
	Charge
	Elapsed time.Duration
}

// Tracker tracks gas usage for one top-level message.
//
// A tracker carries a stack of limits. The root limit is the message gas
// limit; nested invocations may push a tighter sub-budget which is popped
// when the invocation returns. Charging past the innermost limit consumes
// the rest of that limit and fails with ErrOutOfGas. Gas used never goes
// down: popping a limit or failing a call does not refund anything.
type Tracker struct {
	limits []Gas
	used   Gas

	tracing bool
	trace   []TracedCharge
	last    time.Time
}

// NewTracker creates a tracker with the given limit.
func NewTracker(limit Gas, tracing bool) *Tracker {
	if limit < 0 {
		limit = Zero
	}
	return &Tracker{
		limits:  []Gas{limit},
		tracing: tracing,
		last:    time.Now(),
	}
}

// ChargeGas charges a named amount of gas.
func (t *Tracker) ChargeGas(name string, amount Gas) error {
	return t.Apply(NewCharge(name, amount))
}

// Apply applies a charge. On ErrOutOfGas the innermost limit is fully
// consumed.
func (t *Tracker) Apply(c Charge) error {
	if c.Amount < 0 {
		return fmt.Errorf("%w: %s charged %s", ErrNegativeCharge, c.Name, c.Amount)
	}
	if t.tracing {
		now := time.Now()
		t.trace = append(t.trace, TracedCharge{Charge: c, Elapsed: now.Sub(t.last)})
		t.last = now
	}

	limit := t.limits[len(t.limits)-1]
	available := limit.Sub(t.used)
	if c.Amount > available {
		t.used = t.used.Add(available)
		return fmt.Errorf("%w: %s charged %s, available %s", ErrOutOfGas, c.Name, c.Amount, available)
	}
	t.used = t.used.Add(c.Amount)
	return nil
}

// GasAvailable returns gas left under the innermost limit.
func (t *Tracker) GasAvailable() Gas {
	return t.limits[len(t.limits)-1].Sub(t.used)
}

// GasUsed returns total gas charged.
func (t *Tracker) GasUsed() Gas {
	return t.used
}

// Limit returns the innermost limit as an absolute bound on gas used.
func (t *Tracker) Limit() Gas {
	return t.limits[len(t.limits)-1]
}

// Depth returns the number of pushed sub-budgets.
func (t *Tracker) Depth() int {
	return len(t.limits) - 1
}

// PushLimit carves a sub-budget of at most amount from the remaining gas.
func (t *Tracker) PushLimit(amount Gas) {
	current := t.limits[len(t.limits)-1]
	next := Min(current, t.used.Add(amount))
	t.limits = append(t.limits, next)
}

// PopLimit restores the enclosing limit.
func (t *Tracker) PopLimit() error {
	if len(t.limits) == 1 {
		return ErrLimitUnderflow
	}
	t.limits = t.limits[:len(t.limits)-1]
	return nil
}

// Trace returns the recorded charges, if tracing is enabled.
func (t *Tracker) Trace() []TracedCharge {
	return t.trace
}

// DrainTrace returns and clears the recorded charges.
func (t *Tracker) DrainTrace() []TracedCharge {
	out := t.trace
	t.trace = nil
	return out
}
