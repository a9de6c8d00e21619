package operator

import (
	"fmt"

	"swapsequencer/internal/contract"
	"swapsequencer/internal/decimal"
	"swapsequencer/internal/model"
)

// toUint converts a human-scale amount to the unscaled integer domain.
func (o *Operator) toUint(amount, tick string) (string, error) {
	scale := o.env.TickDecimals(tick)
	if err := decimal.CheckDecimals(amount, scale); err != nil {
		return "", err
	}
	return decimal.ToUint(amount, scale)
}

func (o *Operator) fromUint(amount, tick string) (string, error) {
	return decimal.FromUint(amount, o.env.TickDecimals(tick))
}

// QuoteSwap prices a swap against the current pending state. tick names
// the side amount refers to; the returned value is the opposite side.
func (o *Operator) QuoteSwap(tick0, tick1, tick, amount, exactType string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.pending.Init() == nil {
		return "", ErrNotDeployed
	}
	pool, err := o.pending.PoolInfo(tick0, tick1)
	if err != nil {
		return "", err
	}

	reserveTick, reserveOther := pool.Reserve0, pool.Reserve1
	other := tick1
	switch tick {
	case tick0:
	case tick1:
		reserveTick, reserveOther = pool.Reserve1, pool.Reserve0
		other = tick0
	default:
		return "", fmt.Errorf("tick %q not part of pool %s", tick, pool.Pair)
	}

	amountU, err := o.toUint(amount, tick)
	if err != nil {
		return "", err
	}
	feeRate := o.pending.Init().SwapFeeRate

	switch exactType {
	case model.ExactIn:
		out, err := contract.GetAmountOut(amountU, reserveTick, reserveOther, feeRate)
		if err != nil {
			return "", err
		}
		return o.fromUint(out, other)
	case model.ExactOut:
		in, err := contract.GetAmountIn(amountU, reserveOther, reserveTick, feeRate)
		if err != nil {
			return "", err
		}
		return o.fromUint(in, other)
	default:
		return "", fmt.Errorf("unknown exact type %q", exactType)
	}
}

// QuoteAddLiq estimates the LP a deposit mints at current reserves.
func (o *Operator) QuoteAddLiq(tick0, tick1, amount0, amount1 string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.pending.Init() == nil {
		return "", ErrNotDeployed
	}
	pool, err := o.pending.PoolInfo(tick0, tick1)
	if err != nil {
		return "", err
	}
	a0, err := o.toUint(amount0, tick0)
	if err != nil {
		return "", err
	}
	a1, err := o.toUint(amount1, tick1)
	if err != nil {
		return "", err
	}

	var lp string
	if pool.LP == "0" {
		lp, err = decimal.UintCal([]string{a0, "mul", a1, "sqrt", "sub", contract.MinimumLiquidity})
		if err != nil {
			return "", fmt.Errorf("%w: deposit below minimum liquidity", contract.ErrAmount)
		}
	} else {
		lp0, err := decimal.UintCal([]string{a0, "mul", pool.LP, "div", pool.Reserve0})
		if err != nil {
			return "", err
		}
		lp1, err := decimal.UintCal([]string{a1, "mul", pool.LP, "div", pool.Reserve1})
		if err != nil {
			return "", err
		}
		cmp, err := decimal.Cmp(lp0, lp1)
		if err != nil {
			return "", err
		}
		lp = lp0
		if cmp > 0 {
			lp = lp1
		}
	}
	return o.fromUint(lp, pool.Pair)
}

// QuoteRemoveLiq estimates the payout of burning lp at current reserves.
func (o *Operator) QuoteRemoveLiq(tick0, tick1, lp string) (amount0, amount1 string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.pending.Init() == nil {
		return "", "", ErrNotDeployed
	}
	pool, err := o.pending.PoolInfo(tick0, tick1)
	if err != nil {
		return "", "", err
	}
	lpU, err := o.toUint(lp, pool.Pair)
	if err != nil {
		return "", "", err
	}
	a0, err := decimal.UintCal([]string{lpU, "mul", pool.Reserve0, "div", pool.LP})
	if err != nil {
		return "", "", err
	}
	a1, err := decimal.UintCal([]string{lpU, "mul", pool.Reserve1, "div", pool.LP})
	if err != nil {
		return "", "", err
	}
	if amount0, err = o.fromUint(a0, tick0); err != nil {
		return "", "", err
	}
	if amount1, err = o.fromUint(a1, tick1); err != nil {
		return "", "", err
	}
	return amount0, amount1, nil
}
