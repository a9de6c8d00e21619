package builder

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"swapsequencer/internal/ledger"
	"swapsequencer/internal/model"
	"swapsequencer/internal/space"
)

const alice = "bc1qalice"

type fakeSource struct {
	mu     sync.Mutex
	events []*model.OpEvent
	best   uint64
}

func (f *fakeSource) Events(_ context.Context, fromCursor int64, limit int) ([]*model.OpEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.OpEvent
	for _, e := range f.events {
		if e.Cursor >= fromCursor && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeSource) BestHeight(_ context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.best, nil
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
		Cursor: cursor, Height: height, Kind: model.EventDeploy,
		TxID: "txdeploy", From: "bc1qseq", Valid: true,
		ContentBody: mustJSON(t, model.DeployPayload{
			Op: "deploy",
			Init: model.ModuleInit{
				Sequencer: "bc1qseq", FeeTo: "bc1qfee", GasTo: "bc1qgas",
				GasTick: "sats", SwapFeeRate: "3",
			},
		}),
	}
}

func depositEvent(t *testing.T, cursor int64, height uint64, txid, tick, amt string) *model.OpEvent {
	return &model.OpEvent{
		Cursor: cursor, Height: height, Kind: model.EventTransfer,
		TxID: txid, From: alice, Valid: true,
		ContentBody: mustJSON(t, model.TransferPayload{Op: "transfer", Tick: tick, Amt: amt}),
	}
}

func testConfig() Config {
	return Config{
		Module:        "moduleid",
		Decimals:      map[string]int{"ordi": 0, "sats": 0},
		SnapshotDepth: 5,
		BatchSize:     10,
	}
}

func newTestBuilder(t *testing.T, cfg Config, src *fakeSource) *Builder {
	t.Helper()
	b, err := New(cfg, src, nil, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	return b
}

func TestTickSyncsThreeSpaces(t *testing.T) {
	src := &fakeSource{
		best: 104,
		events: []*model.OpEvent{
			deployEvent(t, 0, 100),
			depositEvent(t, 1, 100, "tx1", "ordi", "500"),
			depositEvent(t, 2, 103, "tx2", "ordi", "200"),
			depositEvent(t, 3, model.UnconfirmedHeight, "tx3", "ordi", "50"),
		},
	}
	b := newTestBuilder(t, testConfig(), src)

	if err := b.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	snapCur, confCur, memCur := b.Cursors()
	if snapCur != 1 || confCur != 2 || memCur != 3 {
		t.Fatalf("cursors = %d/%d/%d, want 1/2/3", snapCur, confCur, memCur)
	}

	// Height 100 deposit matured (5 confirmations); height 103 still pending.
	conf := b.Confirmed()
	if got := conf.Assets().BalanceOf(ledger.ClassSwap, "ordi", alice); got != "500" {
		t.Fatalf("confirmed swap = %s, want 500", got)
	}
	if got := conf.Assets().BalanceOf(ledger.ClassPendingSwap, "ordi", alice); got != "200" {
		t.Fatalf("confirmed pendingSwap = %s, want 200", got)
	}

	// The mempool space additionally carries the unmined deposit.
	mem := b.Mempool()
	if got := mem.Assets().BalanceOf(ledger.ClassPendingSwap, "ordi", alice); got != "250" {
		t.Fatalf("mempool pendingSwap = %s, want 250", got)
	}

	// A second tick with nothing new is a no-op.
	if err := b.Tick(context.Background()); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	snapCur2, confCur2, memCur2 := b.Cursors()
	if snapCur2 != snapCur || confCur2 != confCur || memCur2 != memCur {
		t.Fatalf("idle tick moved cursors: %d/%d/%d", snapCur2, confCur2, memCur2)
	}
}

func TestReorgRebuildsConfirmedWindow(t *testing.T) {
	src := &fakeSource{
		best: 104,
		events: []*model.OpEvent{
			deployEvent(t, 0, 100),
			depositEvent(t, 1, 100, "tx1", "ordi", "500"),
			depositEvent(t, 2, 103, "tx2", "ordi", "200"),
		},
	}
	b := newTestBuilder(t, testConfig(), src)

	var hookReorgs []bool
	b.SetRebuildHook(func(snap *space.SnapshotObj, reorg bool) error {
		hookReorgs = append(hookReorgs, reorg)
		return nil
	})

	if err := b.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	// Rewrite the still-shallow event: same cursor, different tx and amount.
	src.mu.Lock()
	src.events[2] = depositEvent(t, 2, 103, "tx2-replaced", "ordi", "300")
	src.mu.Unlock()

	if err := b.Tick(context.Background()); err != nil {
		t.Fatalf("tick after reorg: %v", err)
	}

	if len(hookReorgs) != 2 || hookReorgs[0] != false || hookReorgs[1] != true {
		t.Fatalf("hook reorg flags = %v, want [false true]", hookReorgs)
	}
	if got := b.Confirmed().Assets().BalanceOf(ledger.ClassPendingSwap, "ordi", alice); got != "300" {
		t.Fatalf("confirmed pendingSwap = %s, want 300 after rewrite", got)
	}
	_, confCur, _ := b.Cursors()
	if confCur != 2 {
		t.Fatalf("confirmed cursor = %d, want 2", confCur)
	}
}

func TestReorgDetectedOnPayloadRewrite(t *testing.T) {
	src := &fakeSource{
		best: 104,
		events: []*model.OpEvent{
			deployEvent(t, 0, 100),
			depositEvent(t, 1, 100, "tx1", "ordi", "500"),
			depositEvent(t, 2, 103, "tx2", "ordi", "200"),
		},
	}
	b := newTestBuilder(t, testConfig(), src)

	var hookReorgs []bool
	b.SetRebuildHook(func(snap *space.SnapshotObj, reorg bool) error {
		hookReorgs = append(hookReorgs, reorg)
		return nil
	})

	if err := b.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	// Same cursor, txid, height and validity; only the payload changed.
	src.mu.Lock()
	src.events[2] = depositEvent(t, 2, 103, "tx2", "ordi", "300")
	src.mu.Unlock()

	if err := b.Tick(context.Background()); err != nil {
		t.Fatalf("tick after rewrite: %v", err)
	}

	if len(hookReorgs) != 2 || !hookReorgs[1] {
		t.Fatalf("hook reorg flags = %v, want payload rewrite detected", hookReorgs)
	}
	if got := b.Confirmed().Assets().BalanceOf(ledger.ClassPendingSwap, "ordi", alice); got != "300" {
		t.Fatalf("confirmed pendingSwap = %s, want 300 after rewrite", got)
	}
}

func TestUnconfirmedDiscordRebuildsMempoolOnly(t *testing.T) {
	src := &fakeSource{
		best: 104,
		events: []*model.OpEvent{
			deployEvent(t, 0, 100),
			depositEvent(t, 1, model.UnconfirmedHeight, "txa", "ordi", "50"),
		},
	}
	b := newTestBuilder(t, testConfig(), src)

	var hookReorgs []bool
	b.SetRebuildHook(func(snap *space.SnapshotObj, reorg bool) error {
		hookReorgs = append(hookReorgs, reorg)
		return nil
	})

	if err := b.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	// The unmined transaction is replaced in the mempool.
	src.mu.Lock()
	src.events[1] = depositEvent(t, 1, model.UnconfirmedHeight, "txb", "ordi", "75")
	src.mu.Unlock()

	if err := b.Tick(context.Background()); err != nil {
		t.Fatalf("tick after discord: %v", err)
	}

	if len(hookReorgs) != 2 || hookReorgs[1] != false {
		t.Fatalf("hook reorg flags = %v, want second false", hookReorgs)
	}
	if got := b.Mempool().Assets().BalanceOf(ledger.ClassPendingSwap, "ordi", alice); got != "75" {
		t.Fatalf("mempool pendingSwap = %s, want 75", got)
	}
}

func TestUnconfirmedPromotionToMined(t *testing.T) {
	src := &fakeSource{
		best: 104,
		events: []*model.OpEvent{
			deployEvent(t, 0, 100),
			depositEvent(t, 1, model.UnconfirmedHeight, "tx1", "ordi", "500"),
		},
	}
	b := newTestBuilder(t, testConfig(), src)
	if err := b.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	// The deposit mines at height 105.
	src.mu.Lock()
	src.events[1] = depositEvent(t, 1, 105, "tx1", "ordi", "500")
	src.best = 105
	src.mu.Unlock()

	if err := b.Tick(context.Background()); err != nil {
		t.Fatalf("tick after mine: %v", err)
	}

	_, confCur, memCur := b.Cursors()
	if confCur != 1 || memCur != 1 {
		t.Fatalf("cursors = %d/%d, want 1/1", confCur, memCur)
	}
	if got := b.Confirmed().Assets().BalanceOf(ledger.ClassPendingSwap, "ordi", alice); got != "500" {
		t.Fatalf("confirmed pendingSwap = %s, want 500", got)
	}
}

func TestStateHashDeterministic(t *testing.T) {
	events := []*model.OpEvent{
		deployEvent(t, 0, 100),
		depositEvent(t, 1, 100, "tx1", "ordi", "500"),
		depositEvent(t, 2, 103, "tx2", "sats", "200"),
	}

	hashes := make([]string, 2)
	for i := range hashes {
		b := newTestBuilder(t, testConfig(), &fakeSource{best: 104, events: events})
		if err := b.Tick(context.Background()); err != nil {
			t.Fatalf("tick: %v", err)
		}
		h, err := b.StateHash()
		if err != nil {
			t.Fatalf("state hash: %v", err)
		}
		hashes[i] = h
	}
	if hashes[0] != hashes[1] {
		t.Fatalf("replays diverged: %s vs %s", hashes[0], hashes[1])
	}

	other := newTestBuilder(t, testConfig(), &fakeSource{best: 104, events: events[:2]})
	if err := other.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	h, err := other.StateHash()
	if err != nil {
		t.Fatalf("state hash: %v", err)
	}
	if h == hashes[0] {
		t.Fatalf("different histories produced the same hash")
	}
}

func TestRetryBacksOffUntilSuccess(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), zap.NewNop(), 3, time.Millisecond, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}

	calls = 0
	err = withRetry(context.Background(), zap.NewNop(), 1, time.Millisecond, func(context.Context) error {
		calls++
		return errors.New("permanent")
	})
	if err == nil || calls != 2 {
		t.Fatalf("err = %v calls = %d, want failure after 2 attempts", err, calls)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := NewCheckpointStore(path, true)

	if _, ok, err := store.Load(); err != nil || ok {
		t.Fatalf("load empty = ok %v err %v, want absent", ok, err)
	}
	if err := store.Save(42); err != nil {
		t.Fatalf("save: %v", err)
	}
	cp, ok, err := store.Load()
	if err != nil || !ok {
		t.Fatalf("load = ok %v err %v", ok, err)
	}
	if cp.SnapshotCursor != 42 {
		t.Fatalf("cursor = %d, want 42", cp.SnapshotCursor)
	}

	disabled := NewCheckpointStore(path, false)
	if _, ok, err := disabled.Load(); err != nil || ok {
		t.Fatalf("disabled store loaded a checkpoint")
	}
}
