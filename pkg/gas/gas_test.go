package gas

import (
	"errors"
	"testing"

	"github.com/filecoin-project/go-state-types/abi"
)

func TestGasConversions(t *testing.T) {
	tests := []struct {
		gas       Gas
		milligas  int64
		rounded   int64
		formatted string
	}{
		{NewGas(0), 0, 0, "0"},
		{NewGas(5), 5_000, 5, "5"},
		{FromMilligas(1), 1, 1, "0.001"},
		{FromMilligas(5_001), 5_001, 6, "5.001"},
		{FromMilligas(999), 999, 1, "0.999"},
	}
	for _, tt := range tests {
		if got := tt.gas.AsMilligas(); got != tt.milligas {
			t.Errorf("AsMilligas() = %d, want %d", got, tt.milligas)
		}
		if got := tt.gas.Round(); got != tt.rounded {
			t.Errorf("Round(%d) = %d, want %d", tt.milligas, got, tt.rounded)
		}
		if got := tt.gas.String(); got != tt.formatted {
			t.Errorf("String(%d) = %q, want %q", tt.milligas, got, tt.formatted)
		}
	}
}

func TestGasSaturation(t *testing.T) {
	if got := NewGas(1 << 62); got != Max {
		t.Errorf("NewGas overflow = %d, want Max", got)
	}
	if got := Max.Add(NewGas(1)); got != Max {
		t.Errorf("Max.Add = %d, want Max", got)
	}
	if got := NewGas(1).Sub(NewGas(2)); got != Zero {
		t.Errorf("Sub underflow = %d, want 0", got)
	}
	if got := Max.Mul(2); got != Max {
		t.Errorf("Mul overflow = %d, want Max", got)
	}
}

func TestTrackerCharge(t *testing.T) {
	tr := NewTracker(NewGas(1000), false)

	if err := tr.ChargeGas("a", NewGas(400)); err != nil {
		t.Fatalf("ChargeGas(400) failed: %v", err)
	}
	if got := tr.GasAvailable(); got != NewGas(600) {
		t.Errorf("GasAvailable() = %s, want 600", got)
	}

	if err := tr.ChargeGas("b", NewGas(600)); err != nil {
		t.Fatalf("ChargeGas(600) failed: %v", err)
	}
	if got := tr.GasAvailable(); got != Zero {
		t.Errorf("GasAvailable() = %s, want 0", got)
	}

	if err := tr.ChargeGas("c", FromMilligas(1)); !errors.Is(err, ErrOutOfGas) {
		t.Errorf("ChargeGas past limit = %v, want ErrOutOfGas", err)
	}
	if got := tr.GasUsed(); got != NewGas(1000) {
		t.Errorf("GasUsed() = %s, want 1000", got)
	}
}

func TestTrackerOutOfGasConsumesLimit(t *testing.T) {
	tr := NewTracker(NewGas(100), false)
	if err := tr.ChargeGas("big", NewGas(150)); !errors.Is(err, ErrOutOfGas) {
		t.Fatalf("ChargeGas(150) = %v, want ErrOutOfGas", err)
	}
	if got := tr.GasUsed(); got != NewGas(100) {
		t.Errorf("GasUsed() = %s, want 100", got)
	}
}

func TestTrackerRejectsNegativeCharge(t *testing.T) {
	tr := NewTracker(NewGas(100), false)
	if err := tr.ChargeGas("refund", NewGas(-1)); !errors.Is(err, ErrNegativeCharge) {
		t.Errorf("ChargeGas(-1) = %v, want ErrNegativeCharge", err)
	}
	if got := tr.GasUsed(); got != Zero {
		t.Errorf("GasUsed() = %s, want 0", got)
	}
}

func TestTrackerSubBudget(t *testing.T) {
	tr := NewTracker(NewGas(1000), false)
	if err := tr.ChargeGas("parent", NewGas(100)); err != nil {
		t.Fatal(err)
	}

	tr.PushLimit(NewGas(200))
	if got := tr.GasAvailable(); got != NewGas(200) {
		t.Errorf("sub-budget available = %s, want 200", got)
	}
	if err := tr.ChargeGas("child", NewGas(250)); !errors.Is(err, ErrOutOfGas) {
		t.Errorf("child overrun = %v, want ErrOutOfGas", err)
	}
	if got := tr.GasUsed(); got != NewGas(300) {
		t.Errorf("GasUsed() after child overrun = %s, want 300", got)
	}

	if err := tr.PopLimit(); err != nil {
		t.Fatal(err)
	}
	if got := tr.GasAvailable(); got != NewGas(700) {
		t.Errorf("parent available after pop = %s, want 700", got)
	}
	if err := tr.PopLimit(); !errors.Is(err, ErrLimitUnderflow) {
		t.Errorf("PopLimit on root = %v, want ErrLimitUnderflow", err)
	}
}

func TestTrackerSubBudgetNeverExceedsParent(t *testing.T) {
	tr := NewTracker(NewGas(100), false)
	tr.PushLimit(NewGas(1_000_000))
	if got := tr.GasAvailable(); got != NewGas(100) {
		t.Errorf("GasAvailable() = %s, want 100", got)
	}
}

func TestTrackerTrace(t *testing.T) {
	tr := NewTracker(NewGas(100), true)
	_ = tr.ChargeGas("one", NewGas(1))
	_ = tr.ChargeGas("two", NewGas(2))

	trace := tr.DrainTrace()
	if len(trace) != 2 {
		t.Fatalf("len(trace) = %d, want 2", len(trace))
	}
	if trace[0].Name != "one" || trace[1].Amount != NewGas(2) {
		t.Errorf("unexpected trace %+v", trace)
	}
	if len(tr.Trace()) != 0 {
		t.Errorf("trace not drained")
	}
}

func TestPricelistMethodInvocation(t *testing.T) {
	pl := DefaultPricelist()
	plain := pl.OnMethodInvocation(abi.NewTokenAmount(0), 1)
	withValue := pl.OnMethodInvocation(abi.NewTokenAmount(5), 1)
	if withValue.Amount-plain.Amount != NewGas(OnValueTransfer) {
		t.Errorf("value transfer surcharge = %s, want %d", withValue.Amount-plain.Amount, OnValueTransfer)
	}
	if got := pl.OnChainMessage(10).Amount; got != NewGas(OnChainMessageBase+10*OnChainMessagePerByte) {
		t.Errorf("OnChainMessage(10) = %s", got)
	}
}
