package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Money pairs a platform-formatted display string with its parsed amount.
// Display is kept byte-for-byte so rollbacks restore exactly what the
// shopper saw. Amount is only used for local estimates.
type Money struct {
	Display string          `json:"display"`
	Amount  decimal.Decimal `json:"amount"`
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

// CurrencyPosition mirrors the platform's currency position option.
type CurrencyPosition string

const (
	PositionLeft       CurrencyPosition = "left"
	PositionRight      CurrencyPosition = "right"
	PositionLeftSpace  CurrencyPosition = "left_space"
	PositionRightSpace CurrencyPosition = "right_space"
)

// Currency describes how the store formats prices.
// Estimates are formatted with it so they look like platform output.
type Currency struct {
	Symbol            string           `json:"symbol" yaml:"symbol"`
	Position          CurrencyPosition `json:"position" yaml:"position"`
	Decimals          int32            `json:"decimals" yaml:"decimals"`
	ThousandSeparator string           `json:"thousand_separator" yaml:"thousand_separator"`
	DecimalSeparator  string           `json:"decimal_separator" yaml:"decimal_separator"`
}

// DefaultCurrency is the platform's out-of-the-box USD formatting.
func DefaultCurrency() Currency {
	return Currency{
		Symbol:            "$",
		Position:          PositionLeft,
		Decimals:          2,
		ThousandSeparator: ",",
		DecimalSeparator:  ".",
	}
}

// Format renders an amount the way the platform would.
// Examples (default currency): 30 → "$30.00", 1234.5 → "$1,234.50"
func (c Currency) Format(amount decimal.Decimal) string {
	neg := amount.IsNegative()
	fixed := amount.Abs().StringFixed(c.Decimals)

	whole, frac, _ := strings.Cut(fixed, ".")
	whole = groupThousands(whole, c.ThousandSeparator)

	num := whole
	if frac != "" {
		num += c.DecimalSeparator + frac
	}

	var s string
	switch c.Position {
	case PositionRight:
		s = num + c.Symbol
	case PositionLeftSpace:
		s = c.Symbol + " " + num
	case PositionRightSpace:
		s = num + " " + c.Symbol
	default:
		s = c.Symbol + num
	}
	if neg {
		return "-" + s
	}
	return s
}

// Money builds a Money value from an amount formatted with this currency.
func (c Currency) Money(amount decimal.Decimal) Money {
	return Money{Display: c.Format(amount), Amount: amount}
}

// Parse extracts the numeric amount from a display string such as
// "$1,234.50" or "1.234,50 €". Returns zero for strings without digits.
func (c Currency) Parse(display string) decimal.Decimal {
	var b strings.Builder
	rest := display
	for len(rest) > 0 {
		switch {
		case c.DecimalSeparator != "" && strings.HasPrefix(rest, c.DecimalSeparator):
			b.WriteByte('.')
			rest = rest[len(c.DecimalSeparator):]
		case c.ThousandSeparator != "" && strings.HasPrefix(rest, c.ThousandSeparator):
			rest = rest[len(c.ThousandSeparator):]
		case rest[0] >= '0' && rest[0] <= '9':
			b.WriteByte(rest[0])
			rest = rest[1:]
		case rest[0] == '-' && b.Len() == 0:
			b.WriteByte('-')
			rest = rest[1:]
		default:
			rest = rest[1:]
		}
	}

	d, err := decimal.NewFromString(strings.TrimSuffix(b.String(), "."))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ParseMoney keeps display as-is and parses its amount.
func (c Currency) ParseMoney(display string) Money {
	return Money{Display: display, Amount: c.Parse(display)}
}

// ParseRaw converts a raw platform number ("10.00", "0", "") into Money
// formatted with this currency.
func (c Currency) ParseRaw(raw string) Money {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return c.Money(decimal.Zero)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return c.Money(decimal.Zero)
	}
	return c.Money(d)
}

func groupThousands(digits, sep string) string {
	if sep == "" || len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
