// Package money provides fixed-point currency amounts in integer
// minor units (cents). All arithmetic is integer-only; balances are
// never represented as binary floats.
package money

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Amount is a monetary value in minor units (e.g. 1500 = $15.00).
type Amount int64

// ErrInvalidAmount indicates a malformed decimal string.
var ErrInvalidAmount = errors.New("money: invalid amount")

// FromMinor wraps a raw minor-unit value.
func FromMinor(minor int64) Amount { return Amount(minor) }

// Minor returns the raw minor-unit value.
func (a Amount) Minor() int64 { return int64(a) }

// IsPositive returns true if the amount is greater than zero.
func (a Amount) IsPositive() bool { return a > 0 }

// IsNegative returns true if the amount is less than zero.
func (a Amount) IsNegative() bool { return a < 0 }

// Add returns a + b.
func (a Amount) Add(b Amount) Amount { return a + b }

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount { return a - b }

// Neg returns the negated amount.
func (a Amount) Neg() Amount { return -a }

// String renders the amount as a decimal with two fraction digits.
func (a Amount) String() string {
	minor := int64(a)
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// Parse converts a decimal string ("15.00", "5", "-0.50") to minor
// units. At most two fraction digits are accepted.
func Parse(value string) (Amount, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, ErrInvalidAmount
	}
	negative := false
	if strings.HasPrefix(value, "-") {
		negative = true
		value = value[1:]
	}
	whole := value
	frac := ""
	if idx := strings.IndexByte(value, '.'); idx >= 0 {
		whole = value[:idx]
		frac = value[idx+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		return 0, ErrInvalidAmount
	}
	for len(frac) < 2 {
		frac += "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	minor := units*100 + cents
	if negative {
		minor = -minor
	}
	return Amount(minor), nil
}
