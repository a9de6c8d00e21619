package space

import (
	"swapsequencer/internal/contract"
	"swapsequencer/internal/ledger"
	"swapsequencer/internal/model"
)

// Snapshot deep-copies the full state into a fresh, unused SnapshotObj.
func (s *Space) Snapshot() *SnapshotObj {
	var init *model.ModuleInit
	if s.init != nil {
		c := *s.init
		init = &c
	}
	var last *model.OpEvent
	if s.lastEvent != nil {
		c := *s.lastEvent
		last = &c
	}
	return &SnapshotObj{
		assets:       s.assets.Clone(),
		status:       s.contract.Status().Clone(),
		init:         init,
		pending:      append([]pendingEntry(nil), s.pending...),
		lastEvent:    last,
		lastCommitID: s.lastCommitID,
	}
}

// PartialClone builds a minimal pending-role space holding only the
// ledgers one user and one tick or pair touch, plus the pool, fee and gas
// participants. Supplies are carried over whole so LP math on the clone
// matches the full space.
func (s *Space) PartialClone(addr, tickOrPair string) (*Space, error) {
	ticks := []string{tickOrPair}
	pair := ""
	if t0, t1, err := model.DecodePair(tickOrPair); err == nil {
		pair, err = model.EncodePair(t0, t1)
		if err != nil {
			return nil, err
		}
		ticks = []string{t0, t1, pair}
	}
	if s.init != nil && s.init.GasTick != "" {
		ticks = append(ticks, s.init.GasTick)
	}

	addrs := []string{addr, ledger.ZeroAddress}
	if s.init != nil {
		addrs = append(addrs, s.init.FeeTo, s.init.GasTo)
	}
	if pair != "" {
		addrs = append(addrs, pair)
	}

	assets := ledger.NewAssets()
	seen := make(map[string]bool)
	for _, tick := range ticks {
		if tick == "" || seen[tick] || !s.assets.Exists(tick) {
			continue
		}
		seen[tick] = true
		for _, class := range ledger.AllClasses {
			src, _ := s.assets.Ledger(class, tick)
			dst := ledger.NewWithSupply(tick, src.Supply)
			for _, a := range addrs {
				if b := src.BalanceOf(a); b != "0" {
					dst.Balance[a] = b
				}
			}
			assets.Put(class, dst)
		}
	}

	status := contract.NewStatus()
	if pair != "" {
		if k, ok := s.contract.Status().KLast[pair]; ok {
			status.KLast[pair] = k
		}
	}

	clone := &Space{
		role:         RolePending,
		env:          s.env,
		assets:       assets,
		init:         s.init,
		lastEvent:    s.lastEvent,
		lastCommitID: s.lastCommitID,
	}
	if s.init != nil {
		clone.contract = contract.New(assets, status, contractConfig(s.init, s.env.FeeOn))
	} else {
		clone.contract = contract.New(assets, status, contract.Config{FeeOn: s.env.FeeOn})
	}
	// Journal entries from copying are noise, not mutations.
	assets.DrainJournal()
	return clone, nil
}

// BalanceSummary reports one user's balances of a tick across all classes.
func (s *Space) BalanceSummary(addr, tick string) map[ledger.Class]string {
	out := make(map[ledger.Class]string, len(ledger.AllClasses))
	for _, class := range ledger.AllClasses {
		out[class] = s.assets.BalanceOf(class, tick, addr)
	}
	return out
}

// PoolInfo reports a pool's reserves and LP supply.
func (s *Space) PoolInfo(tick0, tick1 string) (*model.PoolState, error) {
	pair, err := model.EncodePair(tick0, tick1)
	if err != nil {
		return nil, err
	}
	if !s.assets.Exists(pair) {
		return nil, contract.ErrPoolNotFound
	}
	return &model.PoolState{
		Pair:     pair,
		Reserve0: s.assets.BalanceOf(ledger.ClassSwap, tick0, pair),
		Reserve1: s.assets.BalanceOf(ledger.ClassSwap, tick1, pair),
		LP:       s.assets.SupplyOf(ledger.ClassSwap, pair),
	}, nil
}

// SnapshotData renders the persistable snapshot shape.
func (s *Space) SnapshotData() *model.SnapshotData {
	data := &model.SnapshotData{
		Assets:         make(map[string]map[string]model.TickBalances),
		ContractStatus: model.ContractStatusData{KLast: make(map[string]string)},
		Cursor:         s.Cursor(),
		LastCommitID:   s.lastCommitID,
	}
	if s.init != nil {
		c := *s.init
		data.Init = &c
	}
	for _, class := range ledger.AllClasses {
		classData := make(map[string]model.TickBalances)
		for _, tick := range s.assets.Ticks() {
			l, ok := s.assets.Ledger(class, tick)
			if !ok {
				continue
			}
			balances := make(map[string]string, len(l.Balance))
			for a, b := range l.Balance {
				balances[a] = b
			}
			classData[tick] = model.TickBalances{Balance: balances, Supply: l.Supply}
		}
		data.Assets[string(class)] = classData
	}
	for pair, k := range s.contract.Status().KLast {
		data.ContractStatus.KLast[pair] = k
	}
	return data
}

// LoadSnapshot rebuilds a SnapshotObj from the persisted shape. The
// maturation queue is not persisted: snapshots are only taken at depths
// where every queued entry has already matured.
func LoadSnapshot(data *model.SnapshotData) *SnapshotObj {
	assets := ledger.NewAssets()
	for className, classData := range data.Assets {
		for tick, tb := range classData {
			l := ledger.NewWithSupply(tick, tb.Supply)
			for a, b := range tb.Balance {
				l.Balance[a] = b
			}
			assets.Put(ledger.Class(className), l)
		}
	}
	assets.DrainJournal()
	status := contract.NewStatus()
	for pair, k := range data.ContractStatus.KLast {
		status.KLast[pair] = k
	}
	var init *model.ModuleInit
	if data.Init != nil {
		c := *data.Init
		init = &c
	}
	snap := &SnapshotObj{
		assets:       assets,
		status:       status,
		init:         init,
		lastCommitID: data.LastCommitID,
	}
	if data.Cursor >= 0 {
		snap.lastEvent = &model.OpEvent{Cursor: data.Cursor}
	}
	return snap
}
