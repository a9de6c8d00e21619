// Package decimal implements the fixed-point arithmetic every ledger and
// pool computation runs on. All values are decimal strings backed by
// big.Int; every operation that can produce a fractional remainder
// truncates toward zero, so two replays of the same instruction list always
// produce the same digits.
package decimal

import (
	"fmt"
	"math/big"
	"strings"
)

// DefaultScale is the decimal-place count used by DecimalCal.
const DefaultScale = 18

var (
	ten = big.NewInt(10)
)

// value is an unscaled integer plus the scale it was parsed at.
type value struct {
	n     *big.Int
	scale int
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(ten, big.NewInt(int64(n)), nil)
}

// parse reads a decimal string into an integer scaled by 10^scale,
// truncating any fractional digits beyond scale.
func parse(s string, scale int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty number")
	}
	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}
	intPart := s
	fracPart := ""
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		intPart = s[:idx]
		fracPart = s[idx+1:]
	}
	if intPart == "" && fracPart == "" {
		return nil, fmt.Errorf("invalid number: %q", s)
	}
	if intPart == "" {
		intPart = "0"
	}
	if !digitsOnly(intPart) || (fracPart != "" && !digitsOnly(fracPart)) {
		return nil, fmt.Errorf("invalid number: %q", s)
	}
	if len(fracPart) > scale {
		fracPart = fracPart[:scale]
	}
	padded := intPart + fracPart + strings.Repeat("0", scale-len(fracPart))
	n, ok := new(big.Int).SetString(padded, 10)
	if !ok {
		return nil, fmt.Errorf("invalid number: %q", s)
	}
	if neg {
		n.Neg(n)
	}
	return n, nil
}

func digitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// format renders an integer scaled by 10^scale back into a decimal string
// with trailing fractional zeros removed.
func format(n *big.Int, scale int) string {
	sign := ""
	abs := new(big.Int).Abs(n)
	if n.Sign() < 0 {
		sign = "-"
	}
	digits := abs.String()
	if scale == 0 {
		return sign + digits
	}
	if len(digits) <= scale {
		digits = strings.Repeat("0", scale-len(digits)+1) + digits
	}
	intPart := digits[:len(digits)-scale]
	fracPart := strings.TrimRight(digits[len(digits)-scale:], "0")
	if fracPart == "" {
		return sign + intPart
	}
	return sign + intPart + "." + fracPart
}

// IsInteger reports whether s is a plain non-negative integer string.
// A trailing fractional part disqualifies it even when zero, so "10.0"
// is not an integer.
func IsInteger(s string) bool {
	return digitsOnly(s)
}

// CheckDecimals verifies that s is a valid non-negative decimal with at
// most scale fractional digits.
func CheckDecimals(s string, scale int) error {
	if s == "" {
		return fmt.Errorf("empty number")
	}
	intPart := s
	fracPart := ""
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		intPart = s[:idx]
		fracPart = s[idx+1:]
		if fracPart == "" {
			return fmt.Errorf("invalid decimal: %q", s)
		}
	}
	if !digitsOnly(intPart) {
		return fmt.Errorf("invalid decimal: %q", s)
	}
	if fracPart != "" && !digitsOnly(fracPart) {
		return fmt.Errorf("invalid decimal: %q", s)
	}
	if len(fracPart) > scale {
		return fmt.Errorf("too many decimal places: %q allows %d", s, scale)
	}
	return nil
}

// Normalize strips a redundant fractional part, so "10.0" becomes "10"
// and "1.50" becomes "1.5". Sign-message construction depends on this.
func Normalize(s string) string {
	idx := strings.IndexByte(s, '.')
	if idx < 0 {
		return s
	}
	trimmed := strings.TrimRight(s, "0")
	trimmed = strings.TrimRight(trimmed, ".")
	if trimmed == "" || trimmed == "-" {
		return "0"
	}
	return trimmed
}

// Cmp compares two decimal strings numerically, returning -1, 0 or 1.
func Cmp(a, b string) (int, error) {
	x, err := parse(a, DefaultScale)
	if err != nil {
		return 0, err
	}
	y, err := parse(b, DefaultScale)
	if err != nil {
		return 0, err
	}
	return x.Cmp(y), nil
}

// ToUint converts a human-scale decimal into its unscaled integer form at
// the given decimal-place count, truncating excess fractional digits.
func ToUint(s string, scale int) (string, error) {
	n, err := parse(s, scale)
	if err != nil {
		return "", err
	}
	return n.String(), nil
}

// FromUint converts an unscaled integer back into a human-scale decimal
// string at the given decimal-place count.
func FromUint(s string, scale int) (string, error) {
	if s == "" {
		return "", fmt.Errorf("empty number")
	}
	neg := strings.HasPrefix(s, "-")
	body := strings.TrimPrefix(s, "-")
	if !digitsOnly(body) {
		return "", fmt.Errorf("not an integer: %q", s)
	}
	n, _ := new(big.Int).SetString(body, 10)
	if neg {
		n.Neg(n)
	}
	return format(n, scale), nil
}
