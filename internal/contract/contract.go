// Package contract implements the AMM business logic: pool deployment,
// liquidity, swaps and protocol-fee minting, all as pure operations over
// an Assets instance plus the per-pair kLast status. Every amount here is
// in the unscaled integer domain.
package contract

import (
	"errors"
	"fmt"

	"swapsequencer/internal/decimal"
	"swapsequencer/internal/ledger"
	"swapsequencer/internal/model"
)

// MinimumLiquidity is locked at the zero address on first deposit.
const MinimumLiquidity = "1000"

// feeRateDenominator fixes the protocol share of pool growth at 1/6.
const feeRateDenominator = 6

var (
	ErrPoolExists            = errors.New("pool already exists")
	ErrPoolNotFound          = errors.New("pool not found")
	ErrSameTick              = errors.New("identical ticks")
	ErrAmount                = errors.New("invalid amount")
	ErrSlippage              = errors.New("slippage exceeded")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
)

// Config is the deployed module's fee configuration.
type Config struct {
	FeeTo           string
	SwapFeeRate1000 string
	FeeOn           bool
}

// Status is the small persistent state the contract keeps outside the
// ledgers: the last recorded reserve product per pair.
type Status struct {
	KLast map[string]string `json:"kLast"`
}

func NewStatus() *Status {
	return &Status{KLast: make(map[string]string)}
}

func (s *Status) Clone() *Status {
	c := NewStatus()
	for pair, k := range s.KLast {
		c.KLast[pair] = k
	}
	return c
}

// Contract executes AMM operations against one Assets instance.
type Contract struct {
	assets *ledger.Assets
	status *Status
	cfg    Config
}

func New(assets *ledger.Assets, status *Status, cfg Config) *Contract {
	if status == nil {
		status = NewStatus()
	}
	return &Contract{assets: assets, status: status, cfg: cfg}
}

func (c *Contract) Assets() *ledger.Assets { return c.assets }
func (c *Contract) Status() *Status       { return c.status }
func (c *Contract) Config() Config        { return c.cfg }

func checkPositive(amt string) error {
	if !decimal.IsInteger(amt) || amt == "0" {
		return fmt.Errorf("%w: %q", ErrAmount, amt)
	}
	return nil
}

// pool returns the canonical pair id and its current reserves and LP
// supply.
func (c *Contract) pool(tick0, tick1 string) (pair, reserve0, reserve1, lp string, err error) {
	pair, err = model.EncodePair(tick0, tick1)
	if err != nil {
		return "", "", "", "", err
	}
	if !c.assets.Exists(pair) {
		return "", "", "", "", fmt.Errorf("%w: %s", ErrPoolNotFound, pair)
	}
	reserve0 = c.assets.BalanceOf(ledger.ClassSwap, tick0, pair)
	reserve1 = c.assets.BalanceOf(ledger.ClassSwap, tick1, pair)
	lp = c.assets.SupplyOf(ledger.ClassSwap, pair)
	return pair, reserve0, reserve1, lp, nil
}

// DeployPool registers a pair. No liquidity is added.
func (c *Contract) DeployPool(tick0, tick1 string) (string, error) {
	if tick0 == tick1 {
		return "", fmt.Errorf("%w: %q", ErrSameTick, tick0)
	}
	pair, err := model.EncodePair(tick0, tick1)
	if err != nil {
		return "", err
	}
	if c.assets.Exists(pair) {
		return "", fmt.Errorf("%w: %s", ErrPoolExists, pair)
	}
	c.assets.TryCreate(tick0)
	c.assets.TryCreate(tick1)
	c.assets.TryCreate(pair)
	return pair, nil
}

// AddLiq deposits liquidity and mints LP. The protocol fee is minted
// first so LP accounting reflects the latest k.
func (c *Contract) AddLiq(addr string, p model.AddLiqParams) (map[string]string, error) {
	for _, amt := range []string{p.Amount0, p.Amount1} {
		if err := checkPositive(amt); err != nil {
			return nil, err
		}
	}
	pair, reserve0, reserve1, _, err := c.pool(p.Tick0, p.Tick1)
	if err != nil {
		return nil, err
	}
	if err := c.mintFee(pair, reserve0, reserve1); err != nil {
		return nil, err
	}
	poolLP := c.assets.SupplyOf(ledger.ClassSwap, pair)

	var lp, used0, used1 string
	if poolLP == "0" {
		// First deposit: sqrt(a0*a1) minus the permanent 1000-unit lock.
		lp, err = decimal.UintCal([]string{p.Amount0, "mul", p.Amount1, "sqrt", "sub", MinimumLiquidity})
		if err != nil || lp == "0" {
			return nil, fmt.Errorf("%w: deposit below minimum liquidity", ErrAmount)
		}
		used0, used1 = p.Amount0, p.Amount1
		if err := c.checkLPFloor(lp, p.ExpectLP, p.Slippage1000); err != nil {
			return nil, err
		}
		if err := c.assets.Mint(ledger.ClassSwap, pair, ledger.ZeroAddress, MinimumLiquidity); err != nil {
			return nil, err
		}
	} else {
		// Proportional deposit: the binding side is consumed exactly.
		amount1Exp, err := decimal.UintCal([]string{p.Amount0, "mul", reserve1, "div", reserve0})
		if err != nil {
			return nil, err
		}
		le, err := decimal.Cmp(amount1Exp, p.Amount1)
		if err != nil {
			return nil, err
		}
		if le <= 0 {
			used0, used1 = p.Amount0, amount1Exp
		} else {
			amount0Exp, err := decimal.UintCal([]string{p.Amount1, "mul", reserve0, "div", reserve1})
			if err != nil {
				return nil, err
			}
			used0, used1 = amount0Exp, p.Amount1
		}
		if err := checkPositive(used0); err != nil {
			return nil, err
		}
		if err := checkPositive(used1); err != nil {
			return nil, err
		}
		lp0, err := decimal.UintCal([]string{used0, "mul", poolLP, "div", reserve0})
		if err != nil {
			return nil, err
		}
		lp1, err := decimal.UintCal([]string{used1, "mul", poolLP, "div", reserve1})
		if err != nil {
			return nil, err
		}
		lp = lp0
		if cmp, err := decimal.Cmp(lp1, lp0); err != nil {
			return nil, err
		} else if cmp < 0 {
			lp = lp1
		}
		if err := checkPositive(lp); err != nil {
			return nil, fmt.Errorf("%w: zero lp minted", ErrAmount)
		}
		if err := c.checkLPFloor(lp, p.ExpectLP, p.Slippage1000); err != nil {
			return nil, err
		}
	}

	if err := c.assets.Transfer(p.Tick0, addr, pair, used0, ledger.ClassSwap, ledger.ClassSwap); err != nil {
		return nil, err
	}
	if err := c.assets.Transfer(p.Tick1, addr, pair, used1, ledger.ClassSwap, ledger.ClassSwap); err != nil {
		return nil, err
	}
	if err := c.assets.Mint(ledger.ClassSwap, pair, addr, lp); err != nil {
		return nil, err
	}
	if err := c.saveKLast(pair, p.Tick0, p.Tick1); err != nil {
		return nil, err
	}

	return map[string]string{"lp": lp, "amount0": used0, "amount1": used1}, nil
}

// RemoveLiq burns LP and pays out the proportional reserves.
func (c *Contract) RemoveLiq(addr string, p model.RemoveLiqParams) (map[string]string, error) {
	if err := checkPositive(p.LP); err != nil {
		return nil, err
	}
	pair, reserve0, reserve1, _, err := c.pool(p.Tick0, p.Tick1)
	if err != nil {
		return nil, err
	}
	if err := c.mintFee(pair, reserve0, reserve1); err != nil {
		return nil, err
	}
	poolLP := c.assets.SupplyOf(ledger.ClassSwap, pair)
	if poolLP == "0" {
		return nil, fmt.Errorf("%w: empty pool %s", ErrInsufficientLiquidity, pair)
	}

	amount0, err := decimal.UintCal([]string{p.LP, "mul", reserve0, "div", poolLP})
	if err != nil {
		return nil, err
	}
	amount1, err := decimal.UintCal([]string{p.LP, "mul", reserve1, "div", poolLP})
	if err != nil {
		return nil, err
	}
	if err := checkPositive(amount0); err != nil {
		return nil, fmt.Errorf("%w: zero payout", ErrInsufficientLiquidity)
	}
	if err := checkPositive(amount1); err != nil {
		return nil, fmt.Errorf("%w: zero payout", ErrInsufficientLiquidity)
	}
	if err := c.checkPayoutFloor(amount0, p.Amount0, p.Slippage1000); err != nil {
		return nil, err
	}
	if err := c.checkPayoutFloor(amount1, p.Amount1, p.Slippage1000); err != nil {
		return nil, err
	}

	if err := c.assets.Burn(ledger.ClassSwap, pair, addr, p.LP); err != nil {
		return nil, err
	}
	if err := c.assets.Transfer(p.Tick0, pair, addr, amount0, ledger.ClassSwap, ledger.ClassSwap); err != nil {
		return nil, err
	}
	if err := c.assets.Transfer(p.Tick1, pair, addr, amount1, ledger.ClassSwap, ledger.ClassSwap); err != nil {
		return nil, err
	}
	if err := c.saveKLast(pair, p.Tick0, p.Tick1); err != nil {
		return nil, err
	}

	return map[string]string{"amount0": amount0, "amount1": amount1}, nil
}

// Swap trades tickIn for tickOut at the constant-product price with fee.
func (c *Contract) Swap(addr string, p model.SwapParams) (map[string]string, error) {
	if err := checkPositive(p.Amount); err != nil {
		return nil, err
	}
	pair, reserve0, reserve1, _, err := c.pool(p.Tick0, p.Tick1)
	if err != nil {
		return nil, err
	}

	var tickIn, tickOut, reserveIn, reserveOut string
	switch p.ExactType {
	case model.ExactIn:
		tickIn = p.Tick
	case model.ExactOut:
		if p.Tick == p.Tick0 {
			tickIn = p.Tick1
		} else {
			tickIn = p.Tick0
		}
	default:
		return nil, fmt.Errorf("unknown exact type %q", p.ExactType)
	}
	if tickIn == p.Tick0 {
		tickOut, reserveIn, reserveOut = p.Tick1, reserve0, reserve1
	} else {
		tickOut, reserveIn, reserveOut = p.Tick0, reserve1, reserve0
	}
	if reserveIn == "0" || reserveOut == "0" {
		return nil, fmt.Errorf("%w: %s", ErrInsufficientLiquidity, pair)
	}

	var amountIn, amountOut string
	if p.ExactType == model.ExactIn {
		amountIn = p.Amount
		amountOut, err = GetAmountOut(amountIn, reserveIn, reserveOut, c.cfg.SwapFeeRate1000)
		if err != nil {
			return nil, err
		}
		// Floor: out >= expect * 1000 / (1000 + slippage).
		floor, err := decimal.UintCal([]string{p.Expect, "mul", "1000", "div", plusThousand(p.Slippage1000)})
		if err != nil {
			return nil, err
		}
		if cmp, err := decimal.Cmp(amountOut, floor); err != nil {
			return nil, err
		} else if cmp < 0 {
			return nil, fmt.Errorf("%w: out %s below floor %s", ErrSlippage, amountOut, floor)
		}
	} else {
		amountOut = p.Amount
		amountIn, err = GetAmountIn(amountOut, reserveIn, reserveOut, c.cfg.SwapFeeRate1000)
		if err != nil {
			return nil, err
		}
		// Ceiling: in <= expect * (1000 + slippage) / 1000.
		ceil, err := decimal.UintCal([]string{p.Expect, "mul", plusThousand(p.Slippage1000), "div", "1000"})
		if err != nil {
			return nil, err
		}
		if cmp, err := decimal.Cmp(amountIn, ceil); err != nil {
			return nil, err
		} else if cmp > 0 {
			return nil, fmt.Errorf("%w: in %s above ceiling %s", ErrSlippage, amountIn, ceil)
		}
	}
	if err := checkPositive(amountOut); err != nil {
		return nil, fmt.Errorf("%w: zero output", ErrInsufficientLiquidity)
	}

	if err := c.assets.Swap(addr, pair, tickIn, tickOut, amountIn, amountOut); err != nil {
		return nil, err
	}

	return map[string]string{"amountIn": amountIn, "amountOut": amountOut}, nil
}

// Send is a plain swap-class transfer.
func (c *Contract) Send(from string, p model.SendParams) (map[string]string, error) {
	if err := checkPositive(p.Amount); err != nil {
		return nil, err
	}
	if err := c.assets.Transfer(p.Tick, from, p.To, p.Amount, ledger.ClassSwap, ledger.ClassSwap); err != nil {
		return nil, err
	}
	return map[string]string{"amount": p.Amount}, nil
}

// checkLPFloor enforces lp >= expect * (1000 - slippage) / 1000.
func (c *Contract) checkLPFloor(lp, expect, slippage string) error {
	minusThousand, err := decimal.UintCal([]string{"1000", "sub", slippage})
	if err != nil {
		return fmt.Errorf("%w: bad slippage %q", ErrAmount, slippage)
	}
	floor, err := decimal.UintCal([]string{expect, "mul", minusThousand, "div", "1000"})
	if err != nil {
		return err
	}
	cmp, err := decimal.Cmp(lp, floor)
	if err != nil {
		return err
	}
	if cmp < 0 {
		return fmt.Errorf("%w: lp %s below floor %s", ErrSlippage, lp, floor)
	}
	return nil
}

// checkPayoutFloor enforces amount >= expect * (1000 - slippage) / 1000.
func (c *Contract) checkPayoutFloor(amount, expect, slippage string) error {
	minusThousand, err := decimal.UintCal([]string{"1000", "sub", slippage})
	if err != nil {
		return fmt.Errorf("%w: bad slippage %q", ErrAmount, slippage)
	}
	floor, err := decimal.UintCal([]string{expect, "mul", minusThousand, "div", "1000"})
	if err != nil {
		return err
	}
	cmp, err := decimal.Cmp(amount, floor)
	if err != nil {
		return err
	}
	if cmp < 0 {
		return fmt.Errorf("%w: payout %s below floor %s", ErrSlippage, amount, floor)
	}
	return nil
}

func plusThousand(slippage string) string {
	sum, err := decimal.UintCal([]string{"1000", "add", slippage})
	if err != nil {
		return "1000"
	}
	return sum
}

// saveKLast records reserve0*reserve1 from the current post-mutation
// reserves.
func (c *Contract) saveKLast(pair, tick0, tick1 string) error {
	reserve0 := c.assets.BalanceOf(ledger.ClassSwap, tick0, pair)
	reserve1 := c.assets.BalanceOf(ledger.ClassSwap, tick1, pair)
	k, err := decimal.UintCal([]string{reserve0, "mul", reserve1})
	if err != nil {
		return err
	}
	c.status.KLast[pair] = k
	return nil
}
