package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits amounts are written with.
const MoneyScale = 2

// Money is a decimal amount that round-trips through text without rounding.
// It is written with at least two fractional digits.
type Money struct {
	decimal.Decimal
}

// NewMoney parses s into Money.
func NewMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Money{Decimal: d}, nil
}

// MustMoney is NewMoney for constants and tests.
func MustMoney(s string) Money {
	m, err := NewMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// MoneyFromDecimal wraps d.
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money{Decimal: d}
}

// Ptr returns a pointer to a copy of m.
func (m Money) Ptr() *Money {
	return &m
}

// Scale returns the number of fractional digits m carries.
func (m Money) Scale() int32 {
	if m.Exponent() >= 0 {
		return 0
	}
	return -m.Exponent()
}

func (m Money) String() string {
	if m.Scale() <= MoneyScale {
		return m.StringFixed(MoneyScale)
	}
	return m.Decimal.String()
}

func (m Money) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Money) UnmarshalText(text []byte) error {
	d, err := decimal.NewFromString(string(text))
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", string(text), err)
	}
	m.Decimal = d
	return nil
}

// Equal compares the numeric values of m and o.
func (m Money) Equal(o Money) bool {
	return m.Decimal.Equal(o.Decimal)
}

// MarshalJSON writes m as a quoted string in the wire format.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	return m.Decimal.UnmarshalJSON(data)
}
