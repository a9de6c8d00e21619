package space

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"swapsequencer/internal/ledger"
	"swapsequencer/internal/model"
)

const (
	alice  = "bc1qalice"
	bob    = "bc1qbob"
	feeTo  = "bc1qfee"
	gasTo  = "bc1qgas"
	pairID = "4/ordisats"
)

type heightSource struct {
	h uint64
}

func (h *heightSource) BestHeight() uint64 { return h.h }

func testEnv(h *heightSource) *Env {
	return &Env{
		Module:   "moduleid",
		Decimals: map[string]int{"ordi": 0, "sats": 0, pairID: 0},
		Height:   h,
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func deployEvent(t *testing.T, cursor int64, height uint64) *model.OpEvent {
	return &model.OpEvent{
		Cursor: cursor,
		Height: height,
		Kind:   model.EventDeploy,
		From:   "bc1qseq",
		Valid:  true,
		ContentBody: mustJSON(t, model.DeployPayload{
			Op: "deploy",
			Init: model.ModuleInit{
				Sequencer:   "bc1qseq",
				FeeTo:       feeTo,
				GasTo:       gasTo,
				GasTick:     "sats",
				SwapFeeRate: "3",
			},
		}),
	}
}

func depositEvent(t *testing.T, cursor int64, height uint64, addr, tick, amt string) *model.OpEvent {
	return &model.OpEvent{
		Cursor: cursor,
		Height: height,
		Kind:   model.EventTransfer,
		From:   addr,
		Valid:  true,
		ContentBody: mustJSON(t, model.TransferPayload{
			Op:   "transfer",
			Tick: tick,
			Amt:  amt,
		}),
	}
}

func commitEvent(t *testing.T, cursor int64, height uint64, id, parent string, funcs ...model.CommitFunc) *model.OpEvent {
	return &model.OpEvent{
		Cursor:        cursor,
		Height:        height,
		Kind:          model.EventCommit,
		From:          "bc1qseq",
		InscriptionID: id,
		Valid:         true,
		ContentBody: mustJSON(t, model.CommitPayload{
			Op:       "commit",
			Module:   "moduleid",
			Parent:   parent,
			GasPrice: "0",
			Data:     funcs,
		}),
	}
}

// setupEvents deploys the module, funds alice at height 100 and runs one
// commit that deploys the ordi/sats pool and adds 1e6/1e6 liquidity.
func setupEvents(t *testing.T) []*model.OpEvent {
	return []*model.OpEvent{
		deployEvent(t, 0, 100),
		depositEvent(t, 1, 100, alice, "ordi", "2000000"),
		depositEvent(t, 2, 100, alice, "sats", "2000000"),
		commitEvent(t, 3, 104, "commit1", "",
			model.CommitFunc{Addr: alice, Func: model.FuncDeployPool,
				Params: []string{"ordi", "sats"}, TS: 1},
			model.CommitFunc{Addr: alice, Func: model.FuncAddLiq,
				Params: []string{pairID, "1000000", "1000000", "999000", "0"}, TS: 2},
		),
	}
}

func newTestSpace(t *testing.T, role Role, h *heightSource) *Space {
	t.Helper()
	s, err := New(NewEmptySnapshot(), testEnv(h), role)
	if err != nil {
		t.Fatalf("new space: %v", err)
	}
	return s
}

func feed(t *testing.T, s *Space, events []*model.OpEvent) {
	t.Helper()
	for _, e := range events {
		if err := s.HandleEvent(e); err != nil {
			t.Fatalf("handle cursor %d: %v", e.Cursor, err)
		}
	}
}

func TestReplayDeterministic(t *testing.T) {
	h := &heightSource{h: 104}
	events := setupEvents(t)
	events = append(events, commitEvent(t, 4, 105, "commit2", "commit1",
		model.CommitFunc{Addr: alice, Func: model.FuncSwap,
			Params: []string{pairID, "ordi", "1000", model.ExactIn, "996", "5"}, TS: 3},
	))

	a := newTestSpace(t, RoleConfirmed, h)
	b := newTestSpace(t, RoleConfirmed, h)
	feed(t, a, events)
	feed(t, b, events)

	if !reflect.DeepEqual(a.SnapshotData(), b.SnapshotData()) {
		t.Fatalf("two spaces fed the same events diverged")
	}

	if got := a.Assets().BalanceOf(ledger.ClassSwap, "ordi", alice); got != "999000" {
		t.Fatalf("alice ordi = %s, want 999000", got)
	}
	if got := a.Assets().BalanceOf(ledger.ClassSwap, "sats", alice); got != "1000996" {
		t.Fatalf("alice sats = %s, want 1000996", got)
	}
	if got := a.Assets().BalanceOf(ledger.ClassSwap, pairID, alice); got != "999000" {
		t.Fatalf("alice lp = %s, want 999000", got)
	}

	pool, err := a.PoolInfo("ordi", "sats")
	if err != nil {
		t.Fatalf("pool info: %v", err)
	}
	want := &model.PoolState{Pair: pairID, Reserve0: "1001000", Reserve1: "999004", LP: "1000000"}
	if !reflect.DeepEqual(pool, want) {
		t.Fatalf("pool = %+v, want %+v", pool, want)
	}

	if got := a.LastCommitID(); got != "commit2" {
		t.Fatalf("last commit id = %s, want commit2", got)
	}
	if got := a.Cursor(); got != 4 {
		t.Fatalf("cursor = %d, want 4", got)
	}
}

func TestDepositMaturesAtDepth(t *testing.T) {
	h := &heightSource{h: 101}
	s := newTestSpace(t, RoleConfirmed, h)
	feed(t, s, []*model.OpEvent{
		deployEvent(t, 0, 100),
		depositEvent(t, 1, 100, alice, "ordi", "500"),
	})

	// Two confirmations deep: still pending.
	if got := s.Assets().BalanceOf(ledger.ClassPendingSwap, "ordi", alice); got != "500" {
		t.Fatalf("pendingSwap = %s, want 500", got)
	}
	if got := s.Assets().BalanceOf(ledger.ClassSwap, "ordi", alice); got != "0" {
		t.Fatalf("swap = %s, want 0 before maturation", got)
	}

	h.h = 102
	feed(t, s, []*model.OpEvent{depositEvent(t, 2, 102, bob, "ordi", "100")})

	if got := s.Assets().BalanceOf(ledger.ClassSwap, "ordi", alice); got != "500" {
		t.Fatalf("swap = %s, want 500 after maturation", got)
	}
	if got := s.Assets().BalanceOf(ledger.ClassPendingSwap, "ordi", alice); got != "0" {
		t.Fatalf("pendingSwap = %s, want 0 after maturation", got)
	}
	// Bob's fresh deposit has one confirmation and stays pending.
	if got := s.Assets().BalanceOf(ledger.ClassPendingSwap, "ordi", bob); got != "100" {
		t.Fatalf("bob pendingSwap = %s, want 100", got)
	}
}

func TestMaturationFailureKeepsUnsweptQueue(t *testing.T) {
	h := &heightSource{h: 100}
	s := newTestSpace(t, RoleConfirmed, h)
	feed(t, s, []*model.OpEvent{deployEvent(t, 0, 100)})

	// Two queued entries with no backing pendingSwap balance: the sweep
	// fails on the first and must leave both for inspection.
	s.pending = append(s.pending,
		pendingEntry{Kind: model.EventTransfer, Height: 100, Address: alice, Tick: "ordi", Amount: "500"},
		pendingEntry{Kind: model.EventTransfer, Height: 100, Address: bob, Tick: "ordi", Amount: "100"},
	)
	h.h = 104
	s.matchPending()

	if s.Halted() == nil {
		t.Fatalf("inconsistent maturation did not halt the space")
	}
	if got := len(s.pending); got != 2 {
		t.Fatalf("pending = %d entries after halt, want 2 kept", got)
	}
	if s.pending[0].Address != alice || s.pending[1].Address != bob {
		t.Fatalf("pending queue reordered: %+v", s.pending)
	}
}

func TestCursorGapHaltsSpace(t *testing.T) {
	h := &heightSource{h: 104}
	s := newTestSpace(t, RoleConfirmed, h)
	feed(t, s, []*model.OpEvent{deployEvent(t, 0, 100)})

	err := s.HandleEvent(depositEvent(t, 2, 101, alice, "ordi", "10"))
	if !errors.Is(err, ErrCursorGap) {
		t.Fatalf("err = %v, want cursor gap", err)
	}
	if s.Halted() == nil {
		t.Fatalf("space not halted after cursor gap")
	}

	err = s.HandleEvent(depositEvent(t, 1, 101, alice, "ordi", "10"))
	if !errors.Is(err, ErrSpaceHalted) {
		t.Fatalf("halted space accepted an event: %v", err)
	}
}

func TestPendingCursorOnlyInPendingRole(t *testing.T) {
	h := &heightSource{h: 104}

	confirmed := newTestSpace(t, RoleConfirmed, h)
	feed(t, confirmed, []*model.OpEvent{deployEvent(t, 0, 100)})
	e := depositEvent(t, model.PendingCursor, 101, alice, "ordi", "10")
	if err := confirmed.HandleEvent(e); !errors.Is(err, ErrCursorGap) {
		t.Fatalf("confirmed space took a pending cursor: %v", err)
	}

	pending := newTestSpace(t, RolePending, h)
	feed(t, pending, []*model.OpEvent{deployEvent(t, 0, 100)})
	if err := pending.HandleEvent(depositEvent(t, model.PendingCursor, 101, alice, "ordi", "10")); err != nil {
		t.Fatalf("pending space rejected a pending cursor: %v", err)
	}
	// Speculative events never move the cursor.
	if got := pending.Cursor(); got != 0 {
		t.Fatalf("cursor = %d, want 0 after pending event", got)
	}
}

func TestUnconfirmedHeightRejectedBelowMempool(t *testing.T) {
	h := &heightSource{h: 104}
	s := newTestSpace(t, RoleConfirmed, h)
	feed(t, s, []*model.OpEvent{deployEvent(t, 0, 100)})

	e := depositEvent(t, 1, model.UnconfirmedHeight, alice, "ordi", "10")
	if err := s.HandleEvent(e); err == nil {
		t.Fatalf("confirmed space accepted an unmined event")
	}
	if s.Halted() == nil {
		t.Fatalf("space not halted")
	}

	m := newTestSpace(t, RoleMempool, h)
	feed(t, m, []*model.OpEvent{
		deployEvent(t, 0, 100),
		depositEvent(t, 1, model.UnconfirmedHeight, alice, "ordi", "10"),
	})
	if got := m.Assets().BalanceOf(ledger.ClassPendingSwap, "ordi", alice); got != "10" {
		t.Fatalf("mempool deposit not applied: %s", got)
	}
}

func TestInvalidEventAdvancesCursorOnly(t *testing.T) {
	h := &heightSource{h: 104}
	s := newTestSpace(t, RoleConfirmed, h)
	feed(t, s, []*model.OpEvent{deployEvent(t, 0, 100)})

	e := depositEvent(t, 1, 101, alice, "ordi", "10")
	e.Valid = false
	if err := s.HandleEvent(e); err != nil {
		t.Fatalf("invalid event returned error: %v", err)
	}
	if got := s.Cursor(); got != 1 {
		t.Fatalf("cursor = %d, want 1", got)
	}
	if got := s.Assets().BalanceOf(ledger.ClassPendingSwap, "ordi", alice); got != "0" {
		t.Fatalf("invalid event mutated state: %s", got)
	}
}

func TestFailedEventAdvancesCursorWithoutHalting(t *testing.T) {
	h := &heightSource{h: 104}
	s := newTestSpace(t, RoleConfirmed, h)
	feed(t, s, []*model.OpEvent{deployEvent(t, 0, 100)})

	// Withdraw with no available balance fails but is not fatal.
	e := &model.OpEvent{
		Cursor: 1, Height: 101, Kind: model.EventWithdraw, From: alice, Valid: true,
		ContentBody: mustJSON(t, model.TransferPayload{Op: "withdraw", Tick: "ordi", Amt: "10"}),
	}
	if err := s.HandleEvent(e); err == nil {
		t.Fatalf("expected withdraw failure")
	}
	if s.Halted() != nil {
		t.Fatalf("non-commit failure halted the space: %v", s.Halted())
	}
	if got := s.Cursor(); got != 1 {
		t.Fatalf("cursor = %d, want 1", got)
	}
}

func TestCommitFailureHaltsSpace(t *testing.T) {
	h := &heightSource{h: 104}
	s := newTestSpace(t, RoleConfirmed, h)
	feed(t, s, []*model.OpEvent{deployEvent(t, 0, 100)})

	// addLiq with no balance fails mid-commit.
	e := commitEvent(t, 1, 104, "commitX", "",
		model.CommitFunc{Addr: alice, Func: model.FuncDeployPool,
			Params: []string{"ordi", "sats"}, TS: 1},
		model.CommitFunc{Addr: alice, Func: model.FuncAddLiq,
			Params: []string{pairID, "1000000", "1000000", "0", "0"}, TS: 2},
	)
	if err := s.HandleEvent(e); err == nil {
		t.Fatalf("expected commit failure")
	}
	if s.Halted() == nil {
		t.Fatalf("commit failure did not halt the space")
	}
}

func TestCommitParentMismatchFails(t *testing.T) {
	h := &heightSource{h: 104}
	s := newTestSpace(t, RoleConfirmed, h)
	feed(t, s, setupEvents(t))

	e := commitEvent(t, 4, 105, "commit2", "not-commit1",
		model.CommitFunc{Addr: alice, Func: model.FuncSend,
			Params: []string{bob, "ordi", "10"}, TS: 3},
	)
	if err := s.HandleEvent(e); !errors.Is(err, ErrParentMismatch) {
		t.Fatalf("err = %v, want parent mismatch", err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	h := &heightSource{h: 104}
	s := newTestSpace(t, RoleConfirmed, h)
	feed(t, s, setupEvents(t))

	snap := s.Snapshot()
	restored, err := New(snap, testEnv(h), RoleMempool)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !reflect.DeepEqual(s.SnapshotData(), restored.SnapshotData()) {
		t.Fatalf("restored space differs from source")
	}
	if _, err := New(snap, testEnv(h), RoleMempool); err == nil {
		t.Fatalf("snapshot object used twice")
	}

	// The restored space keeps replaying from the same cursor.
	if err := restored.HandleEvent(depositEvent(t, 4, 105, bob, "ordi", "10")); err != nil {
		t.Fatalf("restored space rejected next event: %v", err)
	}
}

func TestSnapshotDataLoadRoundTrip(t *testing.T) {
	h := &heightSource{h: 104}
	s := newTestSpace(t, RoleConfirmed, h)
	feed(t, s, setupEvents(t))

	data := s.SnapshotData()
	restored, err := New(LoadSnapshot(data), testEnv(h), RoleConfirmed)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !reflect.DeepEqual(data, restored.SnapshotData()) {
		t.Fatalf("persisted snapshot did not round-trip")
	}
	if got := restored.Cursor(); got != s.Cursor() {
		t.Fatalf("cursor = %d, want %d", got, s.Cursor())
	}
}

func TestPartialCloneMatchesFullExecution(t *testing.T) {
	h := &heightSource{h: 104}
	full := newTestSpace(t, RoleConfirmed, h)
	feed(t, full, setupEvents(t))

	clone, err := full.PartialClone(alice, pairID)
	if err != nil {
		t.Fatalf("partial clone: %v", err)
	}

	payload := &model.CommitPayload{
		Module: "moduleid", Parent: "commit1", GasPrice: "0",
		Data: []model.CommitFunc{{
			Addr: alice, Func: model.FuncSwap,
			Params: []string{pairID, "ordi", "1000", model.ExactIn, "996", "5"}, TS: 3,
		}},
	}
	funcs, err := DecodeCommitFuncs("moduleid", payload)
	if err != nil {
		t.Fatalf("decode funcs: %v", err)
	}

	cloneRes, err := clone.Aggregate(funcs[0], "0")
	if err != nil {
		t.Fatalf("clone aggregate: %v", err)
	}
	fullRes, err := full.Aggregate(funcs[0], "0")
	if err != nil {
		t.Fatalf("full aggregate: %v", err)
	}
	if !reflect.DeepEqual(cloneRes, fullRes) {
		t.Fatalf("clone result %+v differs from full %+v", cloneRes, fullRes)
	}

	clonePool, err := clone.PoolInfo("ordi", "sats")
	if err != nil {
		t.Fatalf("clone pool: %v", err)
	}
	fullPool, err := full.PoolInfo("ordi", "sats")
	if err != nil {
		t.Fatalf("full pool: %v", err)
	}
	if !reflect.DeepEqual(clonePool, fullPool) {
		t.Fatalf("clone pool %+v differs from full %+v", clonePool, fullPool)
	}

	// The clone never touched the donor's state.
	if got := full.Assets().BalanceOf(ledger.ClassSwap, "ordi", bob); got != "0" {
		t.Fatalf("unexpected bob balance %s", got)
	}
}

func TestBalanceSummaryCoversAllClasses(t *testing.T) {
	h := &heightSource{h: 101}
	s := newTestSpace(t, RoleConfirmed, h)
	feed(t, s, []*model.OpEvent{
		deployEvent(t, 0, 100),
		depositEvent(t, 1, 100, alice, "ordi", "42"),
	})

	sum := s.BalanceSummary(alice, "ordi")
	if len(sum) != len(ledger.AllClasses) {
		t.Fatalf("summary has %d classes, want %d", len(sum), len(ledger.AllClasses))
	}
	if sum[ledger.ClassPendingSwap] != "42" {
		t.Fatalf("pendingSwap = %s, want 42", sum[ledger.ClassPendingSwap])
	}
	if sum[ledger.ClassSwap] != "0" {
		t.Fatalf("swap = %s, want 0", sum[ledger.ClassSwap])
	}
}
