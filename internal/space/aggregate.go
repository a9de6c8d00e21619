package space

import (
	"fmt"

	"swapsequencer/internal/decimal"
	"swapsequencer/internal/ledger"
	"swapsequencer/internal/model"
	"swapsequencer/internal/sign"
)

// DecodeCommitFuncs turns a commit payload into replayable functions,
// deriving each id from the commit header and the chain of ids before it.
func DecodeCommitFuncs(module string, payload *model.CommitPayload) ([]*model.InternalFunc, error) {
	header := sign.CommitHeader{
		Module:   module,
		Parent:   payload.Parent,
		Quit:     payload.Quit,
		GasPrice: payload.GasPrice,
	}
	funcs := make([]*model.InternalFunc, 0, len(payload.Data))
	prevs := make([]string, 0, len(payload.Data))
	for i, cf := range payload.Data {
		if !cf.Func.Valid() {
			return nil, fmt.Errorf("func %d: unknown kind %q", i, cf.Func)
		}
		f := &model.InternalFunc{
			Addr:   cf.Addr,
			Kind:   cf.Func,
			Params: cf.Params,
			TS:     cf.TS,
			Sig:    cf.Sig,
			Prevs:  append([]string(nil), prevs...),
		}
		f.ID = sign.FuncID(header, f, f.Prevs)
		prevs = append(prevs, f.ID)
		funcs = append(funcs, f)
	}
	return funcs, nil
}

// toUint converts a human-scale amount into the unscaled integer domain
// using the tick's decimals.
func (s *Space) toUint(amount, tick string) (string, error) {
	scale := s.env.TickDecimals(tick)
	if err := decimal.CheckDecimals(amount, scale); err != nil {
		return "", err
	}
	return decimal.ToUint(amount, scale)
}

// Aggregate executes one decoded function against this space: charge gas,
// dispatch to the contract, and capture the balance projections taken
// immediately before and after. The projections only feed verification.
func (s *Space) Aggregate(f *model.InternalFunc, gasPrice string) (*model.ExecResult, error) {
	if s.halted != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpaceHalted, s.halted)
	}
	if s.init == nil {
		return nil, ErrNotDeployed
	}

	pre, err := s.project(f)
	if err != nil {
		return nil, err
	}

	gas := "0"
	if gasPrice != "" && gasPrice != "0" {
		gas, err = s.toUint(gasPrice, s.init.GasTick)
		if err != nil {
			return nil, fmt.Errorf("gas price: %w", err)
		}
		if err := s.assets.Transfer(s.init.GasTick, f.Addr, s.init.GasTo, gas,
			ledger.ClassSwap, ledger.ClassSwap); err != nil {
			return nil, fmt.Errorf("charge gas: %w", err)
		}
	}

	out, err := s.execute(f)
	if err != nil {
		return nil, err
	}

	post, err := s.project(f)
	if err != nil {
		return nil, err
	}

	return &model.ExecResult{PreResult: *pre, Result: *post, Out: out, Gas: gas}, nil
}

func (s *Space) execute(f *model.InternalFunc) (map[string]string, error) {
	switch f.Kind {
	case model.FuncDeployPool:
		p, err := f.DeployPool()
		if err != nil {
			return nil, err
		}
		pair, err := s.contract.DeployPool(p.Tick0, p.Tick1)
		if err != nil {
			return nil, err
		}
		return map[string]string{"pair": pair}, nil

	case model.FuncAddLiq:
		p, err := f.AddLiq()
		if err != nil {
			return nil, err
		}
		pair, err := model.EncodePair(p.Tick0, p.Tick1)
		if err != nil {
			return nil, err
		}
		if p.Amount0, err = s.toUint(p.Amount0, p.Tick0); err != nil {
			return nil, err
		}
		if p.Amount1, err = s.toUint(p.Amount1, p.Tick1); err != nil {
			return nil, err
		}
		if p.ExpectLP, err = s.toUint(p.ExpectLP, pair); err != nil {
			return nil, err
		}
		return s.contract.AddLiq(f.Addr, p)

	case model.FuncSwap:
		p, err := f.Swap()
		if err != nil {
			return nil, err
		}
		// Expect always refers to the opposite side of Tick: the output
		// for exactIn, the input for exactOut.
		expectTick := p.Tick0
		if p.Tick == p.Tick0 {
			expectTick = p.Tick1
		}
		if p.Amount, err = s.toUint(p.Amount, p.Tick); err != nil {
			return nil, err
		}
		if p.Expect, err = s.toUint(p.Expect, expectTick); err != nil {
			return nil, err
		}
		return s.contract.Swap(f.Addr, p)

	case model.FuncRemoveLiq:
		p, err := f.RemoveLiq()
		if err != nil {
			return nil, err
		}
		pair, err := model.EncodePair(p.Tick0, p.Tick1)
		if err != nil {
			return nil, err
		}
		if p.LP, err = s.toUint(p.LP, pair); err != nil {
			return nil, err
		}
		if p.Amount0, err = s.toUint(p.Amount0, p.Tick0); err != nil {
			return nil, err
		}
		if p.Amount1, err = s.toUint(p.Amount1, p.Tick1); err != nil {
			return nil, err
		}
		return s.contract.RemoveLiq(f.Addr, p)

	case model.FuncSend:
		p, err := f.Send()
		if err != nil {
			return nil, err
		}
		if p.Amount, err = s.toUint(p.Amount, p.Tick); err != nil {
			return nil, err
		}
		return s.contract.Send(f.Addr, p)

	case model.FuncDecreaseApproval:
		p, err := f.DecreaseApproval()
		if err != nil {
			return nil, err
		}
		amount, err := s.toUint(p.Amount, p.Tick)
		if err != nil {
			return nil, err
		}
		if err := s.assets.Convert(f.Addr, p.Tick, amount,
			ledger.ClassApprove, ledger.ClassPendingAvailable); err != nil {
			return nil, err
		}
		height := uint64(0)
		if s.lastEvent != nil {
			height = s.lastEvent.Height
		}
		s.enqueue(model.EventCommit, height, f.Addr, p.Tick, amount)
		return map[string]string{"amount": amount}, nil

	default:
		return nil, fmt.Errorf("unknown func kind %q", f.Kind)
	}
}

// project captures the swap-class balances and pool states a function
// touches.
func (s *Space) project(f *model.InternalFunc) (*model.Result, error) {
	res := &model.Result{}

	addUser := func(addr, tick string) {
		res.Users = append(res.Users, model.UserBalance{
			Address: addr,
			Tick:    tick,
			Balance: s.assets.BalanceOf(ledger.ClassSwap, tick, addr),
		})
	}
	addPool := func(tick0, tick1 string) error {
		pair, err := model.EncodePair(tick0, tick1)
		if err != nil {
			return err
		}
		res.Pools = append(res.Pools, model.PoolState{
			Pair:     pair,
			Reserve0: s.assets.BalanceOf(ledger.ClassSwap, tick0, pair),
			Reserve1: s.assets.BalanceOf(ledger.ClassSwap, tick1, pair),
			LP:       s.assets.SupplyOf(ledger.ClassSwap, pair),
		})
		return nil
	}

	switch f.Kind {
	case model.FuncDeployPool:
		p, err := f.DeployPool()
		if err != nil {
			return nil, err
		}
		if err := addPool(p.Tick0, p.Tick1); err != nil {
			return nil, err
		}
	case model.FuncAddLiq:
		p, err := f.AddLiq()
		if err != nil {
			return nil, err
		}
		pair, err := model.EncodePair(p.Tick0, p.Tick1)
		if err != nil {
			return nil, err
		}
		addUser(f.Addr, p.Tick0)
		addUser(f.Addr, p.Tick1)
		addUser(f.Addr, pair)
		if err := addPool(p.Tick0, p.Tick1); err != nil {
			return nil, err
		}
	case model.FuncRemoveLiq:
		p, err := f.RemoveLiq()
		if err != nil {
			return nil, err
		}
		pair, err := model.EncodePair(p.Tick0, p.Tick1)
		if err != nil {
			return nil, err
		}
		addUser(f.Addr, p.Tick0)
		addUser(f.Addr, p.Tick1)
		addUser(f.Addr, pair)
		if err := addPool(p.Tick0, p.Tick1); err != nil {
			return nil, err
		}
	case model.FuncSwap:
		p, err := f.Swap()
		if err != nil {
			return nil, err
		}
		addUser(f.Addr, p.Tick0)
		addUser(f.Addr, p.Tick1)
		if err := addPool(p.Tick0, p.Tick1); err != nil {
			return nil, err
		}
	case model.FuncSend:
		p, err := f.Send()
		if err != nil {
			return nil, err
		}
		addUser(f.Addr, p.Tick)
		addUser(p.To, p.Tick)
	case model.FuncDecreaseApproval:
		p, err := f.DecreaseApproval()
		if err != nil {
			return nil, err
		}
		addUser(f.Addr, p.Tick)
	}

	if s.init != nil && s.init.GasTick != "" {
		addUser(f.Addr, s.init.GasTick)
	}
	return res, nil
}
