package contract

import (
	"fmt"

	"swapsequencer/internal/decimal"
	"swapsequencer/internal/ledger"
)

// GetAmountOut prices an exact-in swap:
//
//	amountInWithFee = amountIn * (1000 - feeRate)
//	amountOut       = amountInWithFee * reserveOut / (reserveIn*1000 + amountInWithFee)
//
// The division truncates, so rounding always favors the pool.
func GetAmountOut(amountIn, reserveIn, reserveOut, feeRate1000 string) (string, error) {
	fee, err := decimal.UintCal([]string{"1000", "sub", feeRate1000})
	if err != nil {
		return "", fmt.Errorf("bad fee rate %q: %w", feeRate1000, err)
	}
	withFee, err := decimal.UintCal([]string{amountIn, "mul", fee})
	if err != nil {
		return "", err
	}
	numerator, err := decimal.UintCal([]string{withFee, "mul", reserveOut})
	if err != nil {
		return "", err
	}
	denominator, err := decimal.UintCal([]string{reserveIn, "mul", "1000", "add", withFee})
	if err != nil {
		return "", err
	}
	return decimal.UintCal([]string{numerator, "div", denominator})
}

// GetAmountIn prices an exact-out swap, the inverse of GetAmountOut with a
// +1 correction so truncation can never under-charge the trader.
func GetAmountIn(amountOut, reserveIn, reserveOut, feeRate1000 string) (string, error) {
	fee, err := decimal.UintCal([]string{"1000", "sub", feeRate1000})
	if err != nil {
		return "", fmt.Errorf("bad fee rate %q: %w", feeRate1000, err)
	}
	numerator, err := decimal.UintCal([]string{reserveIn, "mul", amountOut, "mul", "1000"})
	if err != nil {
		return "", err
	}
	denominator, err := decimal.UintCal([]string{reserveOut, "sub", amountOut, "mul", fee})
	if err != nil {
		return "", fmt.Errorf("%w: output exceeds reserve", ErrInsufficientLiquidity)
	}
	return decimal.UintCal([]string{numerator, "div", denominator, "add", "1"})
}

// GetFeeLP computes the protocol-fee LP for pool growth since kLast:
//
//	lp = supply * (rootK - rootKLast) / (rootK*(feeRateDenominator-1) + rootKLast)
func GetFeeLP(supply, rootK, rootKLast string) (string, error) {
	growth, err := decimal.UintCal([]string{rootK, "sub", rootKLast})
	if err != nil {
		return "", err
	}
	numerator, err := decimal.UintCal([]string{supply, "mul", growth})
	if err != nil {
		return "", err
	}
	denominator, err := decimal.UintCal([]string{
		rootK, "mul", fmt.Sprintf("%d", feeRateDenominator-1), "add", rootKLast,
	})
	if err != nil {
		return "", err
	}
	return decimal.UintCal([]string{numerator, "div", denominator})
}

// mintFee mints the protocol's share of pool growth to feeTo. With the fee
// switch off it clears kLast instead, so a later switch-on does not charge
// retroactively.
func (c *Contract) mintFee(pair, reserve0, reserve1 string) error {
	kLast, ok := c.status.KLast[pair]
	if !c.cfg.FeeOn {
		if ok && kLast != "0" {
			c.status.KLast[pair] = "0"
		}
		return nil
	}
	if !ok || kLast == "0" {
		return nil
	}
	rootK, err := decimal.UintCal([]string{reserve0, "mul", reserve1, "sqrt"})
	if err != nil {
		return err
	}
	rootKLast, err := decimal.UintCal([]string{kLast, "sqrt"})
	if err != nil {
		return err
	}
	cmp, err := decimal.Cmp(rootK, rootKLast)
	if err != nil {
		return err
	}
	if cmp <= 0 {
		return nil
	}
	supply := c.assets.SupplyOf(ledger.ClassSwap, pair)
	lp, err := GetFeeLP(supply, rootK, rootKLast)
	if err != nil {
		return err
	}
	if lp == "0" {
		return nil
	}
	return c.assets.Mint(ledger.ClassSwap, pair, c.cfg.FeeTo, lp)
}
