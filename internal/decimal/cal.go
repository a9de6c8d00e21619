package decimal

import (
	"fmt"
	"math/big"
)

// Operator tokens accepted by Cal. "sqrt" is unary and applies to the
// running value; every other operator consumes the next item as its right
// operand. Evaluation is strictly left to right.
const (
	OpAdd  = "add"
	OpSub  = "sub"
	OpMul  = "mul"
	OpDiv  = "div"
	OpPow  = "pow"
	OpSqrt = "sqrt"
)

func isOperator(s string) bool {
	switch s {
	case OpAdd, OpSub, OpMul, OpDiv, OpPow, OpSqrt:
		return true
	}
	return false
}

// UintCal evaluates items at zero decimal places, the domain all ledger
// amounts live in.
func UintCal(items []string) (string, error) {
	return Cal(items, 0)
}

// DecimalCal evaluates items at the default external scale.
func DecimalCal(items []string) (string, error) {
	return Cal(items, DefaultScale)
}

// Cal evaluates a flat instruction list of values interleaved with
// operator tokens at the given decimal-place count. Each step truncates
// its result toward zero at that scale.
func Cal(items []string, scale int) (string, error) {
	if len(items) == 0 {
		return "", fmt.Errorf("empty instruction list")
	}
	if scale < 0 {
		return "", fmt.Errorf("negative scale: %d", scale)
	}
	if isOperator(items[0]) {
		return "", fmt.Errorf("instruction list starts with operator %q", items[0])
	}

	acc, err := parse(items[0], scale)
	if err != nil {
		return "", err
	}

	i := 1
	for i < len(items) {
		op := items[i]
		if !isOperator(op) {
			return "", fmt.Errorf("expected operator at position %d, got %q", i, op)
		}

		if op == OpSqrt {
			if acc.Sign() < 0 {
				return "", fmt.Errorf("sqrt of negative value %s", format(acc, scale))
			}
			acc = sqrtScaled(acc, scale)
			i++
			continue
		}

		if i+1 >= len(items) {
			return "", fmt.Errorf("operator %q missing right operand", op)
		}
		rhs, err := parse(items[i+1], scale)
		if err != nil {
			return "", err
		}

		switch op {
		case OpAdd:
			if acc.Sign() < 0 || rhs.Sign() < 0 {
				return "", fmt.Errorf("add requires non-negative operands")
			}
			acc.Add(acc, rhs)
		case OpSub:
			if acc.Cmp(rhs) < 0 {
				return "", fmt.Errorf("sub underflow: %s < %s", format(acc, scale), format(rhs, scale))
			}
			acc.Sub(acc, rhs)
		case OpMul:
			if acc.Sign() < 0 || rhs.Sign() < 0 {
				return "", fmt.Errorf("mul requires non-negative operands")
			}
			acc = mulScaled(acc, rhs, scale)
		case OpDiv:
			if rhs.Sign() <= 0 {
				return "", fmt.Errorf("div requires positive divisor")
			}
			acc = divScaled(acc, rhs, scale)
		case OpPow:
			res, err := powScaled(acc, rhs, scale)
			if err != nil {
				return "", err
			}
			acc = res
		}
		i += 2
	}

	return format(acc, scale), nil
}

// mulScaled multiplies two integers scaled by 10^scale, truncating the
// product back to the same scale.
func mulScaled(a, b *big.Int, scale int) *big.Int {
	res := new(big.Int).Mul(a, b)
	if scale > 0 {
		res.Quo(res, pow10(scale))
	}
	return res
}

// divScaled divides two integers scaled by 10^scale, truncating toward
// zero.
func divScaled(a, b *big.Int, scale int) *big.Int {
	res := new(big.Int).Mul(a, pow10(scale))
	return res.Quo(res, b)
}

// powScaled raises a scaled value to a non-negative integer exponent.
func powScaled(a, exp *big.Int, scale int) (*big.Int, error) {
	if exp.Sign() < 0 {
		return nil, fmt.Errorf("pow requires non-negative exponent")
	}
	s := pow10(scale)
	e := new(big.Int).Quo(exp, s)
	if new(big.Int).Mul(e, s).Cmp(exp) != 0 {
		return nil, fmt.Errorf("pow requires integer exponent")
	}
	if !e.IsInt64() {
		return nil, fmt.Errorf("pow exponent too large")
	}
	n := e.Int64()
	res := pow10(scale) // 1 at this scale
	for k := int64(0); k < n; k++ {
		res = mulScaled(res, a, scale)
	}
	return res, nil
}

// sqrtScaled computes the truncated square root of a value scaled by
// 10^scale: sqrt(A/S) at scale S equals isqrt(A*S).
func sqrtScaled(a *big.Int, scale int) *big.Int {
	scaled := new(big.Int).Mul(a, pow10(scale))
	return scaled.Sqrt(scaled)
}
