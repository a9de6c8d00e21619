package model

import (
	"fmt"
)

// FuncKind discriminates user operations inside a commit.
type FuncKind string

const (
	FuncDeployPool       FuncKind = "deployPool"
	FuncAddLiq           FuncKind = "addLiq"
	FuncSwap             FuncKind = "swap"
	FuncRemoveLiq        FuncKind = "removeLiq"
	FuncDecreaseApproval FuncKind = "decreaseApproval"
	FuncSend             FuncKind = "send"
)

func (k FuncKind) Valid() bool {
	switch k {
	case FuncDeployPool, FuncAddLiq, FuncSwap, FuncRemoveLiq,
		FuncDecreaseApproval, FuncSend:
		return true
	}
	return false
}

// Exact type tokens for swap.
const (
	ExactIn  = "exactIn"
	ExactOut = "exactOut"
)

// CommitFunc is the inscription form of one user operation. Params is the
// canonical order-sensitive array; see the Decode helpers for positions.
type CommitFunc struct {
	Addr   string   `json:"addr"`
	Func   FuncKind `json:"func"`
	Params []string `json:"params"`
	TS     int64    `json:"ts"`
	Sig    string   `json:"sig"`
}

// InternalFunc is the decoded unit of replay: a CommitFunc plus its
// derived id and the chain of previous ids it was signed after.
type InternalFunc struct {
	ID     string   `json:"id"`
	Addr   string   `json:"addr"`
	Kind   FuncKind `json:"func"`
	Params []string `json:"params"`
	TS     int64    `json:"ts"`
	Sig    string   `json:"sig"`
	Prevs  []string `json:"prevs,omitempty"`
}

// CommitFunc returns the inscription form.
func (f *InternalFunc) CommitFunc() CommitFunc {
	return CommitFunc{Addr: f.Addr, Func: f.Kind, Params: f.Params, TS: f.TS, Sig: f.Sig}
}

// DeployPoolParams: [tick0, tick1].
type DeployPoolParams struct {
	Tick0, Tick1 string
}

// AddLiqParams: [pairStr, amount0, amount1, expectLp, slippage]. Amounts
// are pair-ordered after decode.
type AddLiqParams struct {
	Tick0, Tick1     string
	Amount0, Amount1 string
	ExpectLP         string
	Slippage1000     string
}

// SwapParams: [pairStr, tick, amount, exactType, expect, slippage]. Tick
// names the side the amount refers to (input for exactIn, output for
// exactOut).
type SwapParams struct {
	Tick0, Tick1 string
	Tick         string
	Amount       string
	ExactType    string
	Expect       string
	Slippage1000 string
}

// RemoveLiqParams: [pairStr, lp, amount0, amount1, slippage].
type RemoveLiqParams struct {
	Tick0, Tick1     string
	LP               string
	Amount0, Amount1 string
	Slippage1000     string
}

// DecreaseApprovalParams: [tick, amount].
type DecreaseApprovalParams struct {
	Tick   string
	Amount string
}

// SendParams: [to, tick, amount].
type SendParams struct {
	To     string
	Tick   string
	Amount string
}

func paramCount(f *InternalFunc, want int) error {
	if len(f.Params) != want {
		return fmt.Errorf("%s expects %d params, got %d", f.Kind, want, len(f.Params))
	}
	return nil
}

func (f *InternalFunc) DeployPool() (DeployPoolParams, error) {
	if err := paramCount(f, 2); err != nil {
		return DeployPoolParams{}, err
	}
	return DeployPoolParams{Tick0: f.Params[0], Tick1: f.Params[1]}, nil
}

func (f *InternalFunc) AddLiq() (AddLiqParams, error) {
	if err := paramCount(f, 5); err != nil {
		return AddLiqParams{}, err
	}
	t0, t1, swapped, err := DecodePairSides(f.Params[0])
	if err != nil {
		return AddLiqParams{}, err
	}
	amount0, amount1 := f.Params[1], f.Params[2]
	if swapped {
		amount0, amount1 = amount1, amount0
	}
	return AddLiqParams{
		Tick0:        t0,
		Tick1:        t1,
		Amount0:      amount0,
		Amount1:      amount1,
		ExpectLP:     f.Params[3],
		Slippage1000: f.Params[4],
	}, nil
}

func (f *InternalFunc) Swap() (SwapParams, error) {
	if err := paramCount(f, 6); err != nil {
		return SwapParams{}, err
	}
	t0, t1, err := DecodePair(f.Params[0])
	if err != nil {
		return SwapParams{}, err
	}
	tick := f.Params[1]
	if tick != t0 && tick != t1 {
		return SwapParams{}, fmt.Errorf("tick %q not part of pair %q", tick, f.Params[0])
	}
	exact := f.Params[3]
	if exact != ExactIn && exact != ExactOut {
		return SwapParams{}, fmt.Errorf("unknown exact type %q", exact)
	}
	return SwapParams{
		Tick0:        t0,
		Tick1:        t1,
		Tick:         tick,
		Amount:       f.Params[2],
		ExactType:    exact,
		Expect:       f.Params[4],
		Slippage1000: f.Params[5],
	}, nil
}

func (f *InternalFunc) RemoveLiq() (RemoveLiqParams, error) {
	if err := paramCount(f, 5); err != nil {
		return RemoveLiqParams{}, err
	}
	t0, t1, swapped, err := DecodePairSides(f.Params[0])
	if err != nil {
		return RemoveLiqParams{}, err
	}
	amount0, amount1 := f.Params[2], f.Params[3]
	if swapped {
		amount0, amount1 = amount1, amount0
	}
	return RemoveLiqParams{
		Tick0:        t0,
		Tick1:        t1,
		LP:           f.Params[1],
		Amount0:      amount0,
		Amount1:      amount1,
		Slippage1000: f.Params[4],
	}, nil
}

func (f *InternalFunc) DecreaseApproval() (DecreaseApprovalParams, error) {
	if err := paramCount(f, 2); err != nil {
		return DecreaseApprovalParams{}, err
	}
	return DecreaseApprovalParams{Tick: f.Params[0], Amount: f.Params[1]}, nil
}

func (f *InternalFunc) Send() (SendParams, error) {
	if err := paramCount(f, 3); err != nil {
		return SendParams{}, err
	}
	return SendParams{To: f.Params[0], Tick: f.Params[1], Amount: f.Params[2]}, nil
}
