// Package money holds the decimal amount type used for every stored or
// compared monetary value in the ledger.
package money

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	gomoney "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Places is the number of fractional digits kept on every Amount.
const Places = 2

// Amount is a fixed-point monetary value rounded to cents.
// The zero value is 0.00.
type Amount struct {
	value decimal.Decimal
}

// Zero is the 0.00 amount.
var Zero = Amount{}

// New returns an Amount from a decimal, rounded to cents.
func New(d decimal.Decimal) Amount {
	return Amount{value: d.Round(Places)}
}

// FromCents returns the Amount for an integer number of minor units.
func FromCents(cents int64) Amount {
	return Amount{value: decimal.New(cents, -Places)}
}

// MustParse is Parse for literals in tests and defaults.
func MustParse(s string) Amount {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("money: invalid literal %q: %v", s, err))
	}
	return New(d)
}

// Parse converts a numeric or locale-formatted string into an Amount.
// It accepts "1234.56", "1,234.56", "1.234,56", "1234,56" and currency
// prefixed values such as "R$ 20.304,03". A single separator followed by
// exactly three digits groups thousands, so "1,234" and "1.234" are both
// 1234. Invalid input yields Zero.
func Parse(s string) Amount {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == '.' || r == ',' || r == '-' {
			return r
		}
		return -1
	}, strings.TrimSpace(s))
	if cleaned == "" {
		return Zero
	}

	lastDot := strings.LastIndex(cleaned, ".")
	lastComma := strings.LastIndex(cleaned, ",")
	switch {
	case lastComma > lastDot && lastDot >= 0:
		// comma is the decimal separator: 1.234,56
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	case lastDot > lastComma && lastComma >= 0:
		// dot is the decimal separator: 1,234.56
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	case lastDot >= 0:
		cleaned = normalizeSeparator(cleaned, ".")
	case lastComma >= 0:
		cleaned = normalizeSeparator(cleaned, ",")
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return Zero
	}
	return New(d)
}

// normalizeSeparator rewrites s, which contains only sep as a separator,
// into a plain decimal string.
func normalizeSeparator(s, sep string) string {
	i := strings.Index(s, sep)
	whole := strings.TrimPrefix(s[:i], "-")
	grouped := strings.Count(s, sep) > 1 ||
		(len(s)-i-1 == 3 && whole != "" && strings.TrimLeft(whole, "0") != "")
	if grouped {
		return strings.ReplaceAll(s, sep, "")
	}
	return strings.Replace(s, sep, ".", 1)
}

// FromFloat converts a float64 at the API boundary only.
func FromFloat(f float64) Amount {
	return New(decimal.NewFromFloat(f))
}

// Decimal returns the underlying decimal value.
func (a Amount) Decimal() decimal.Decimal { return a.value }

// Cents returns the amount in minor units.
func (a Amount) Cents() int64 { return a.value.Shift(Places).IntPart() }

func (a Amount) Add(b Amount) Amount { return Amount{value: a.value.Add(b.value)} }
func (a Amount) Sub(b Amount) Amount { return Amount{value: a.value.Sub(b.value)} }
func (a Amount) Neg() Amount         { return Amount{value: a.value.Neg()} }
func (a Amount) Abs() Amount         { return Amount{value: a.value.Abs()} }

// MulInt multiplies by an integer count.
func (a Amount) MulInt(n int64) Amount {
	return Amount{value: a.value.Mul(decimal.NewFromInt(n))}
}

func (a Amount) IsZero() bool              { return a.value.IsZero() }
func (a Amount) IsPositive() bool          { return a.value.IsPositive() }
func (a Amount) IsNegative() bool          { return a.value.IsNegative() }
func (a Amount) Equal(b Amount) bool       { return a.value.Equal(b.value) }
func (a Amount) LessThan(b Amount) bool    { return a.value.LessThan(b.value) }
func (a Amount) GreaterThan(b Amount) bool { return a.value.GreaterThan(b.value) }
func (a Amount) Cmp(b Amount) int          { return a.value.Cmp(b.value) }

// String renders the amount with exactly two decimals, e.g. "850.00".
func (a Amount) String() string { return a.value.StringFixed(Places) }

// Format renders the amount in the given ISO currency, e.g. "R$1.234,56".
func (a Amount) Format(currency string) string {
	return gomoney.New(a.Cents(), currency).Display()
}

// MarshalJSON encodes the amount as a fixed two-decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either a JSON number or a (possibly localized) string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*a = Parse(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("money: invalid amount %s", string(data))
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return fmt.Errorf("money: invalid amount %s: %w", string(data), err)
	}
	*a = New(d)
	return nil
}

// Sum adds up a list of amounts.
func Sum(amounts ...Amount) Amount {
	total := Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
