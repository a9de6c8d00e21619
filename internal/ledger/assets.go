package ledger

import (
	"fmt"
	"sort"
)

// Class partitions balances by spendability stage. Every tick exists in
// all classes at once; TryCreate keeps them symmetric.
type Class string

const (
	ClassSwap               Class = "swap"
	ClassPendingSwap        Class = "pendingSwap"
	ClassAvailable          Class = "available"
	ClassPendingAvailable   Class = "pendingAvailable"
	ClassApprove            Class = "approve"
	ClassConditionalApprove Class = "conditionalApprove"
)

// AllClasses lists every asset class in a fixed order. Iteration over
// classes must always use this slice so snapshots and change journals
// stay deterministic.
var AllClasses = []Class{
	ClassSwap,
	ClassPendingSwap,
	ClassAvailable,
	ClassPendingAvailable,
	ClassApprove,
	ClassConditionalApprove,
}

func (c Class) Valid() bool {
	switch c {
	case ClassSwap, ClassPendingSwap, ClassAvailable, ClassPendingAvailable,
		ClassApprove, ClassConditionalApprove:
		return true
	}
	return false
}

// ChangeRecord is one journal entry emitted by a mutation. Address is
// empty for tick-creation records. Balance and Supply carry the
// post-mutation values, ready for an upsert.
type ChangeRecord struct {
	Class   Class  `json:"class"`
	Tick    string `json:"tick"`
	Address string `json:"address,omitempty"`
	Balance string `json:"balance,omitempty"`
	Supply  string `json:"supply"`
}

// Assets is the full multi-class balance state. Mutations append to an
// internal journal that callers drain explicitly; nothing requires a
// listener to be attached.
type Assets struct {
	ledgers map[Class]map[string]*Ledger
	journal []ChangeRecord
}

func NewAssets() *Assets {
	a := &Assets{ledgers: make(map[Class]map[string]*Ledger)}
	for _, class := range AllClasses {
		a.ledgers[class] = make(map[string]*Ledger)
	}
	return a
}

// TryCreate ensures tick exists in every asset class. Idempotent.
func (a *Assets) TryCreate(tick string) {
	if _, ok := a.ledgers[ClassSwap][tick]; ok {
		return
	}
	for _, class := range AllClasses {
		a.ledgers[class][tick] = New(tick)
	}
	a.journal = append(a.journal, ChangeRecord{Class: ClassSwap, Tick: tick, Supply: "0"})
}

// Exists reports whether tick has ledgers.
func (a *Assets) Exists(tick string) bool {
	_, ok := a.ledgers[ClassSwap][tick]
	return ok
}

// Ticks returns all known ticks in sorted order.
func (a *Assets) Ticks() []string {
	ticks := make([]string, 0, len(a.ledgers[ClassSwap]))
	for tick := range a.ledgers[ClassSwap] {
		ticks = append(ticks, tick)
	}
	sort.Strings(ticks)
	return ticks
}

// get returns the ledger for (class, tick) or an error when the tick was
// never created.
func (a *Assets) get(class Class, tick string) (*Ledger, error) {
	if !class.Valid() {
		return nil, fmt.Errorf("unknown asset class %q", class)
	}
	l, ok := a.ledgers[class][tick]
	if !ok {
		return nil, fmt.Errorf("tick %q not found", tick)
	}
	return l, nil
}

// BalanceOf returns the balance of addr for (class, tick), "0" when either
// the tick or the address is unknown.
func (a *Assets) BalanceOf(class Class, tick, addr string) string {
	l, err := a.get(class, tick)
	if err != nil {
		return "0"
	}
	return l.BalanceOf(addr)
}

// SupplyOf returns the supply of (class, tick), "0" when unknown.
func (a *Assets) SupplyOf(class Class, tick string) string {
	l, err := a.get(class, tick)
	if err != nil {
		return "0"
	}
	return l.Supply
}

func (a *Assets) record(class Class, l *Ledger, addr string) {
	a.journal = append(a.journal, ChangeRecord{
		Class:   class,
		Tick:    l.Tick,
		Address: addr,
		Balance: l.BalanceOf(addr),
		Supply:  l.Supply,
	})
}

// Mint creates amt for addr in (class, tick), creating the tick when it
// does not exist yet.
func (a *Assets) Mint(class Class, tick, addr, amt string) error {
	if !class.Valid() {
		return fmt.Errorf("unknown asset class %q", class)
	}
	a.TryCreate(tick)
	l := a.ledgers[class][tick]
	if err := l.Mint(addr, amt); err != nil {
		return err
	}
	a.record(class, l, addr)
	return nil
}

// Burn destroys amt held by addr in (class, tick).
func (a *Assets) Burn(class Class, tick, addr, amt string) error {
	l, err := a.get(class, tick)
	if err != nil {
		return err
	}
	if err := l.Burn(addr, amt); err != nil {
		return err
	}
	a.record(class, l, addr)
	return nil
}

// Convert moves amt of tick for one address from one class to another.
// Burn runs first; a failed burn leaves nothing applied.
func (a *Assets) Convert(addr, tick, amt string, from, to Class) error {
	if err := a.Burn(from, tick, addr, amt); err != nil {
		return err
	}
	return a.Mint(to, tick, addr, amt)
}

// Transfer moves amt of tick between addresses, possibly across classes.
func (a *Assets) Transfer(tick, from, to, amt string, fromClass, toClass Class) error {
	if fromClass == toClass {
		l, err := a.get(fromClass, tick)
		if err != nil {
			return err
		}
		if err := l.Transfer(from, to, amt); err != nil {
			return err
		}
		a.record(fromClass, l, from)
		a.record(fromClass, l, to)
		return nil
	}
	if err := a.Burn(fromClass, tick, from, amt); err != nil {
		return err
	}
	return a.Mint(toClass, tick, to, amt)
}

// Swap settles both legs of a trade inside the swap class: tickIn moves
// from the user to the pool pseudo-address, tickOut moves back.
func (a *Assets) Swap(addr, pairAddr, tickIn, tickOut, amtIn, amtOut string) error {
	if err := a.Transfer(tickIn, addr, pairAddr, amtIn, ClassSwap, ClassSwap); err != nil {
		return err
	}
	return a.Transfer(tickOut, pairAddr, addr, amtOut, ClassSwap, ClassSwap)
}

// DrainJournal returns the accumulated change records and clears them.
func (a *Assets) DrainJournal() []ChangeRecord {
	j := a.journal
	a.journal = nil
	return j
}

// Clone deep-copies all ledgers. The journal does not carry over.
func (a *Assets) Clone() *Assets {
	c := NewAssets()
	for _, class := range AllClasses {
		for tick, l := range a.ledgers[class] {
			c.ledgers[class][tick] = l.Clone()
		}
	}
	return c
}

// Put installs a ledger directly. Partial clones and snapshot loading use
// this; normal mutation never does.
func (a *Assets) Put(class Class, l *Ledger) {
	a.ledgers[class][l.Tick] = l
}

// Ledger exposes the ledger for (class, tick) for read-side projections.
func (a *Assets) Ledger(class Class, tick string) (*Ledger, bool) {
	l, ok := a.ledgers[class][tick]
	return l, ok
}
