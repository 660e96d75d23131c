// Package money provides fixed-precision decimal arithmetic for prices,
// quantities, and balances.
//
// Decimal wraps shopspring/decimal and fixes the rounding/precision rules
// the trading core relies on everywhere a value crosses the persistence or
// ledger boundary: Add, Sub and Mul are exact, Div rounds half-up to 20
// decimal places, and values use a lossless decimal-string wire format.
// Division rounds to decimal places, not significant digits, so a quotient
// below 0.1 keeps fewer than 20 significant digits. Storing any of these values as float64 at a
// precision-critical boundary (order price, balance, quantity) is forbidden;
// Decimal is the only representation allowed to cross those boundaries.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Precision is the number of decimal places Div rounds its quotient to.
// Round takes its own place count and does not use it.
const Precision = 20

// Decimal is a fixed-precision decimal value.
type Decimal struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Decimal{d: decimal.Zero}

// One is the multiplicative identity.
var One = Decimal{d: decimal.NewFromInt(1)}

// New builds a Decimal from an integer mantissa and base-10 exponent,
// value = mantissa * 10^exponent.
func New(mantissa int64, exponent int32) Decimal {
	return Decimal{d: decimal.New(mantissa, exponent)}
}

// NewFromInt builds a Decimal from an integer.
func NewFromInt(v int64) Decimal {
	return Decimal{d: decimal.NewFromInt(v)}
}

// NewFromFloat builds a Decimal from a float64. Only safe to use for
// constants/tests; never for values read from a ledger or store boundary.
func NewFromFloat(v float64) Decimal {
	return Decimal{d: decimal.NewFromFloat(v)}
}

// Parse parses a decimal string. This is the canonical way to load a value
// that crossed a store or ledger boundary, since the string form is
// lossless unlike float64.
func Parse(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return Decimal{d: d}, nil
}

// MustParse is Parse but panics on error; only for compile-time constants.
func MustParse(s string) Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// String returns the lossless decimal-string representation used at every
// store/ledger boundary.
func (a Decimal) String() string {
	return a.d.String()
}

// MarshalText implements encoding.TextMarshaler so Decimal serializes as a
// plain decimal string rather than a float in JSON payloads.
func (a Decimal) MarshalText() ([]byte, error) {
	return []byte(a.d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Decimal) UnmarshalText(text []byte) error {
	d, err := decimal.NewFromString(string(text))
	if err != nil {
		return fmt.Errorf("unmarshal decimal %q: %w", string(text), err)
	}
	a.d = d
	return nil
}

// Add returns a+b.
func (a Decimal) Add(b Decimal) Decimal { return Decimal{d: a.d.Add(b.d)} }

// Sub returns a-b.
func (a Decimal) Sub(b Decimal) Decimal { return Decimal{d: a.d.Sub(b.d)} }

// Mul returns a*b.
func (a Decimal) Mul(b Decimal) Decimal { return Decimal{d: a.d.Mul(b.d)} }

// Div returns a/b rounded half-up to Precision decimal places.
func (a Decimal) Div(b Decimal) Decimal {
	return Decimal{d: a.d.DivRound(b.d, Precision)}
}

// Abs returns the absolute value of a.
func (a Decimal) Abs() Decimal { return Decimal{d: a.d.Abs()} }

// Neg returns -a.
func (a Decimal) Neg() Decimal { return Decimal{d: a.d.Neg()} }

// Round rounds to n decimal places using half-up rounding.
func (a Decimal) Round(n int32) Decimal { return Decimal{d: a.d.Round(n)} }

// Lt reports whether a < b.
func (a Decimal) Lt(b Decimal) bool { return a.d.LessThan(b.d) }

// Le reports whether a <= b.
func (a Decimal) Le(b Decimal) bool { return a.d.LessThanOrEqual(b.d) }

// Eq reports whether a == b.
func (a Decimal) Eq(b Decimal) bool { return a.d.Equal(b.d) }

// Ge reports whether a >= b.
func (a Decimal) Ge(b Decimal) bool { return a.d.GreaterThanOrEqual(b.d) }

// Gt reports whether a > b.
func (a Decimal) Gt(b Decimal) bool { return a.d.GreaterThan(b.d) }

// IsZero reports whether a == 0.
func (a Decimal) IsZero() bool { return a.d.IsZero() }

// IsNegative reports whether a < 0.
func (a Decimal) IsNegative() bool { return a.d.IsNegative() }

// IsPositive reports whether a > 0.
func (a Decimal) IsPositive() bool { return a.d.IsPositive() }

// Float64 returns the nearest float64 approximation. Only for display/
// scoring purposes — never for a value that
// will cross back over a store or ledger boundary.
func (a Decimal) Float64() float64 {
	f, _ := a.d.Float64()
	return f
}
