package money

import "testing"

func TestArithmetic(t *testing.T) {
	t.Parallel()

	a := MustParse("0.50")
	b := MustParse("0.30")

	if got := a.Add(b).String(); got != "0.8" {
		t.Errorf("Add = %s, want 0.8", got)
	}
	if got := a.Sub(b).String(); got != "0.2" {
		t.Errorf("Sub = %s, want 0.2", got)
	}
	if got := a.Mul(NewFromInt(100)).String(); got != "50" {
		t.Errorf("Mul = %s, want 50", got)
	}
}

func TestDivRoundsHalfUp(t *testing.T) {
	t.Parallel()

	got := MustParse("1").Div(MustParse("3")).Round(4)
	if got.String() != "0.3333" {
		t.Errorf("Div/Round = %s, want 0.3333", got.String())
	}
}

func TestComparisons(t *testing.T) {
	t.Parallel()

	a := MustParse("0.45")
	b := MustParse("0.50")

	if !a.Lt(b) || a.Ge(b) {
		t.Errorf("expected a < b")
	}
	if !a.Eq(a) {
		t.Errorf("expected a == a")
	}
	if !a.Abs().Eq(a) {
		t.Errorf("Abs of positive should be unchanged")
	}
	if !a.Neg().Abs().Eq(a) {
		t.Errorf("Abs(Neg(a)) should equal a")
	}
}

func TestZeroOne(t *testing.T) {
	t.Parallel()

	if !Zero.IsZero() {
		t.Errorf("Zero.IsZero() = false")
	}
	if !One.Sub(One).IsZero() {
		t.Errorf("One - One should be zero")
	}
}

func TestTextMarshaling(t *testing.T) {
	t.Parallel()

	d := MustParse("0.5000")
	text, err := d.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}

	var got Decimal
	if err := got.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if !got.Eq(d) {
		t.Errorf("round-trip mismatch: got %s, want %s", got, d)
	}
}
