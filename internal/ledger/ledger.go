// Package ledger holds the balance books the sequencer replays events
// into: one Ledger per (asset class, tick), grouped under an Assets
// container. Amounts are unscaled integer strings; all arithmetic goes
// through the decimal engine so replay stays bit-exact.
package ledger

import (
	"errors"
	"fmt"

	"swapsequencer/internal/decimal"
)

// ZeroAddress is a valid sink. LP locked at pool creation is minted here
// and can never move again.
const ZeroAddress = "0"

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSupplyMismatch      = errors.New("supply mismatch")
)

// Ledger is a single-token balance book. Supply always equals the sum of
// balances; the only mutations are Mint, Burn and Transfer.
type Ledger struct {
	Tick    string
	Balance map[string]string
	Supply  string
}

func New(tick string) *Ledger {
	return &Ledger{
		Tick:    tick,
		Balance: make(map[string]string),
		Supply:  "0",
	}
}

// NewWithSupply builds a ledger whose supply is fixed independently of the
// copied balances. Only partial clones use this: a speculative view carries
// the true total supply while holding just the balances it needs.
func NewWithSupply(tick, supply string) *Ledger {
	l := New(tick)
	l.Supply = supply
	return l
}

func checkAmount(amt string) error {
	if !decimal.IsInteger(amt) || amt == "0" {
		return fmt.Errorf("%w: %q", ErrInvalidAmount, amt)
	}
	return nil
}

// BalanceOf returns the balance of addr, "0" when absent.
func (l *Ledger) BalanceOf(addr string) string {
	if b, ok := l.Balance[addr]; ok {
		return b
	}
	return "0"
}

func (l *Ledger) Mint(addr, amt string) error {
	if err := checkAmount(amt); err != nil {
		return err
	}
	balance, err := decimal.UintCal([]string{l.BalanceOf(addr), "add", amt})
	if err != nil {
		return err
	}
	supply, err := decimal.UintCal([]string{l.Supply, "add", amt})
	if err != nil {
		return err
	}
	l.Balance[addr] = balance
	l.Supply = supply
	return nil
}

func (l *Ledger) Burn(addr, amt string) error {
	if err := checkAmount(amt); err != nil {
		return err
	}
	balance, err := decimal.UintCal([]string{l.BalanceOf(addr), "sub", amt})
	if err != nil {
		return fmt.Errorf("%w: %s has %s %s, burn %s", ErrInsufficientBalance, addr, l.BalanceOf(addr), l.Tick, amt)
	}
	supply, err := decimal.UintCal([]string{l.Supply, "sub", amt})
	if err != nil {
		return fmt.Errorf("%w: supply %s below burn %s", ErrSupplyMismatch, l.Supply, amt)
	}
	if balance == "0" {
		delete(l.Balance, addr)
	} else {
		l.Balance[addr] = balance
	}
	l.Supply = supply
	return nil
}

func (l *Ledger) Transfer(from, to, amt string) error {
	if err := checkAmount(amt); err != nil {
		return err
	}
	fromBalance, err := decimal.UintCal([]string{l.BalanceOf(from), "sub", amt})
	if err != nil {
		return fmt.Errorf("%w: %s has %s %s, send %s", ErrInsufficientBalance, from, l.BalanceOf(from), l.Tick, amt)
	}
	toBalance, err := decimal.UintCal([]string{l.BalanceOf(to), "add", amt})
	if err != nil {
		return err
	}
	if fromBalance == "0" {
		delete(l.Balance, from)
	} else {
		l.Balance[from] = fromBalance
	}
	l.Balance[to] = toBalance
	return nil
}

// Clone returns a deep copy.
func (l *Ledger) Clone() *Ledger {
	c := &Ledger{
		Tick:    l.Tick,
		Balance: make(map[string]string, len(l.Balance)),
		Supply:  l.Supply,
	}
	for addr, b := range l.Balance {
		c.Balance[addr] = b
	}
	return c
}
