// Package builder maintains the three replay spaces over the event feed:
// a deep-confirmed snapshot space, a confirmed space at the chain tip and
// a mempool space including unmined events. It detects reorgs by
// re-fetching the confirmed window each tick and rebuilds the affected
// spaces from the snapshot.
package builder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"swapsequencer/internal/feed"
	"swapsequencer/internal/ledger"
	"swapsequencer/internal/model"
	"swapsequencer/internal/space"
)

// Config holds runtime settings for the builder loop.
type Config struct {
	Module            string
	Decimals          map[string]int
	FeeOn             bool
	SnapshotDepth     uint64
	BatchSize         int
	PollInterval      time.Duration
	MaxRetries        int
	RetryBackoff      time.Duration
	CheckpointPath    string
	CheckpointEnabled bool
	SnapshotEvery     int64
}

// Sink receives balance deltas and periodic snapshots for persistence.
// A nil sink disables persistence.
type Sink interface {
	SaveChanges(ctx context.Context, cursor int64, changes []ledger.ChangeRecord) error
	SaveSnapshot(ctx context.Context, cursor int64, data *model.SnapshotData) error
}

// RebuildHook is called with a fresh capture of the mempool state whenever
// it changed, so the pending layer can rebase. reorg reports whether the
// confirmed window itself was rewritten.
type RebuildHook func(snap *space.SnapshotObj, reorg bool) error

// heightCache is the shared height source for all three spaces.
type heightCache struct {
	mu   sync.RWMutex
	best uint64
}

func (h *heightCache) BestHeight() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.best
}

func (h *heightCache) set(best uint64) {
	h.mu.Lock()
	h.best = best
	h.mu.Unlock()
}

// Builder drives the replay spaces from the feed.
type Builder struct {
	cfg        Config
	source     feed.Source
	sink       Sink
	logger     *zap.Logger
	heights    *heightCache
	env        *space.Env
	checkpoint *CheckpointStore
	onRebuild  RebuildHook

	mu          sync.Mutex
	snapshot    *space.Space
	confirmed   *space.Space
	mempool     *space.Space
	minedWindow []*model.OpEvent
	unconfirmed []*model.OpEvent
	lastPersist int64
}

// New builds a Builder starting from snap, the genesis snapshot when nil.
func New(cfg Config, source feed.Source, sink Sink, snap *space.SnapshotObj, logger *zap.Logger) (*Builder, error) {
	if source == nil {
		return nil, fmt.Errorf("feed source is nil")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if snap == nil {
		snap = space.NewEmptySnapshot()
	}

	heights := &heightCache{}
	env := &space.Env{
		Module:   cfg.Module,
		Decimals: cfg.Decimals,
		FeeOn:    cfg.FeeOn,
		Height:   heights,
	}

	snapshot, err := space.New(snap, env, space.RoleSnapshot)
	if err != nil {
		return nil, fmt.Errorf("build snapshot space: %w", err)
	}
	confirmed, err := space.New(snapshot.Snapshot(), env, space.RoleConfirmed)
	if err != nil {
		return nil, fmt.Errorf("build confirmed space: %w", err)
	}
	mempool, err := space.New(confirmed.Snapshot(), env, space.RoleMempool)
	if err != nil {
		return nil, fmt.Errorf("build mempool space: %w", err)
	}

	checkpoint := NewCheckpointStore(cfg.CheckpointPath, cfg.CheckpointEnabled)
	if cp, ok, err := checkpoint.Load(); err != nil {
		return nil, err
	} else if ok && cp.SnapshotCursor > snapshot.Cursor() {
		// A prior run folded past the restored state; the feed replays the
		// gap, but a shrinking feed would go unnoticed without this.
		logger.Warn("restored state behind checkpoint",
			zap.Int64("checkpoint_cursor", cp.SnapshotCursor),
			zap.Int64("snapshot_cursor", snapshot.Cursor()))
	}

	return &Builder{
		cfg:         cfg,
		source:      source,
		sink:        sink,
		logger:      logger,
		heights:     heights,
		env:         env,
		checkpoint:  checkpoint,
		snapshot:    snapshot,
		confirmed:   confirmed,
		mempool:     mempool,
		lastPersist: snapshot.Cursor(),
	}, nil
}

// SetRebuildHook registers the mempool rebase callback. Must be called
// before Run.
func (b *Builder) SetRebuildHook(hook RebuildHook) { b.onRebuild = hook }

// Env returns the shared space environment.
func (b *Builder) Env() *space.Env { return b.env }

// Mempool returns the mempool-tip space. Callers must not mutate it.
func (b *Builder) Mempool() *space.Space {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mempool
}

// Confirmed returns the confirmed-tip space. Callers must not mutate it.
func (b *Builder) Confirmed() *space.Space {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.confirmed
}

// SnapshotData renders the snapshot space's persistable state.
func (b *Builder) SnapshotData() *model.SnapshotData {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot.SnapshotData()
}

// StateHash digests the confirmed space's full state. Two replays of the
// same feed produce the same hash.
func (b *Builder) StateHash() (string, error) {
	b.mu.Lock()
	data := b.confirmed.SnapshotData()
	b.mu.Unlock()
	raw, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Cursors reports the three space positions.
func (b *Builder) Cursors() (snapshot, confirmed, mempool int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot.Cursor(), b.confirmed.Cursor(), b.mempool.Cursor()
}

// Run polls the feed until the context ends. Space halts are fatal; feed
// errors are logged and retried on the next tick.
func (b *Builder) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.pollInterval())
	defer ticker.Stop()

	for {
		if err := b.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if b.fatal() != nil {
				return err
			}
			b.logger.Warn("tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *Builder) pollInterval() time.Duration {
	if b.cfg.PollInterval <= 0 {
		return 5 * time.Second
	}
	return b.cfg.PollInterval
}

func (b *Builder) fatal() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.snapshot.Halted(); err != nil {
		return err
	}
	return b.confirmed.Halted()
}

// Tick performs one sync round: refresh the height, re-fetch the window
// past the snapshot cursor, reconcile and advance.
func (b *Builder) Tick(ctx context.Context) error {
	best, err := b.bestHeightWithRetry(ctx)
	if err != nil {
		return fmt.Errorf("best height: %w", err)
	}
	b.heights.set(best)

	b.mu.Lock()
	fromCursor := b.snapshot.Cursor() + 1
	b.mu.Unlock()

	events, err := b.fetchWindow(ctx, fromCursor)
	if err != nil {
		return fmt.Errorf("fetch events: %w", err)
	}

	var mined, unconfirmed []*model.OpEvent
	for _, e := range events {
		if e.Height == model.UnconfirmedHeight {
			unconfirmed = append(unconfirmed, e)
		} else {
			mined = append(mined, e)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	reorg := b.hasReorg(mined)
	if reorg {
		b.logger.Warn("reorg detected, rebuilding from snapshot",
			zap.Int64("snapshot_cursor", b.snapshot.Cursor()))
		if err := b.rebuildConfirmed(mined); err != nil {
			return err
		}
	} else if err := b.applyMinedSuffix(mined); err != nil {
		return err
	}

	mempoolChanged := reorg || len(mined) > len(b.minedWindow) ||
		b.hasUnconfirmedDiscord(unconfirmed)
	b.minedWindow = mined
	if mempoolChanged {
		if err := b.rebuildMempool(unconfirmed); err != nil {
			return err
		}
		b.unconfirmed = unconfirmed
		if b.onRebuild != nil {
			if err := b.onRebuild(b.mempool.Snapshot(), reorg); err != nil {
				return fmt.Errorf("rebuild hook: %w", err)
			}
		}
	}

	if err := b.advanceSnapshot(ctx, best); err != nil {
		return err
	}
	return b.persist(ctx)
}

func (b *Builder) bestHeightWithRetry(ctx context.Context) (uint64, error) {
	var best uint64
	err := withRetry(ctx, b.logger, b.cfg.MaxRetries, b.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		best, err = b.source.BestHeight(ctx)
		return err
	})
	return best, err
}

func (b *Builder) fetchWindow(ctx context.Context, fromCursor int64) ([]*model.OpEvent, error) {
	var all []*model.OpEvent
	cursor := fromCursor
	for {
		var batch []*model.OpEvent
		err := withRetry(ctx, b.logger, b.cfg.MaxRetries, b.cfg.RetryBackoff, func(ctx context.Context) error {
			var err error
			batch, err = b.source.Events(ctx, cursor, b.cfg.BatchSize)
			return err
		})
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return all, nil
		}
		all = append(all, batch...)
		cursor = batch[len(batch)-1].Cursor + 1
		if len(batch) < b.cfg.BatchSize {
			return all, nil
		}
	}
}

// eventKey identifies an event for window comparison. Any change in
// position, transaction, mined height or payload counts as a rewrite.
func eventKey(e *model.OpEvent) string {
	body := sha256.Sum256(e.ContentBody)
	return fmt.Sprintf("%d:%s:%s:%d:%t:%s",
		e.Cursor, e.TxID, e.InscriptionID, e.Height, e.Valid, hex.EncodeToString(body[:8]))
}

// hasReorg reports whether the freshly fetched mined window disagrees
// with what the confirmed space already consumed.
func (b *Builder) hasReorg(mined []*model.OpEvent) bool {
	if len(mined) < len(b.minedWindow) {
		return len(b.minedWindow) > 0
	}
	for i, prev := range b.minedWindow {
		if eventKey(prev) != eventKey(mined[i]) {
			return true
		}
	}
	return false
}

func (b *Builder) hasUnconfirmedDiscord(unconfirmed []*model.OpEvent) bool {
	if len(unconfirmed) != len(b.unconfirmed) {
		return true
	}
	for i, prev := range b.unconfirmed {
		if eventKey(prev) != eventKey(unconfirmed[i]) {
			return true
		}
	}
	return false
}

func (b *Builder) applyMinedSuffix(mined []*model.OpEvent) error {
	for _, e := range mined[len(b.minedWindow):] {
		if err := b.confirmed.HandleEvent(e); err != nil {
			if b.confirmed.Halted() != nil {
				return fmt.Errorf("confirmed space halted: %w", err)
			}
			// Per-operation failures are part of the protocol record.
			b.logger.Info("event rejected", zap.Int64("cursor", e.Cursor),
				zap.String("kind", string(e.Kind)), zap.Error(err))
		}
	}
	return nil
}

func (b *Builder) rebuildConfirmed(mined []*model.OpEvent) error {
	confirmed, err := space.New(b.snapshot.Snapshot(), b.env, space.RoleConfirmed)
	if err != nil {
		return fmt.Errorf("rebuild confirmed space: %w", err)
	}
	b.confirmed = confirmed
	b.minedWindow = nil
	return b.applyMinedSuffix(mined)
}

func (b *Builder) rebuildMempool(unconfirmed []*model.OpEvent) error {
	mempool, err := space.New(b.confirmed.Snapshot(), b.env, space.RoleMempool)
	if err != nil {
		return fmt.Errorf("rebuild mempool space: %w", err)
	}
	for _, e := range unconfirmed {
		if err := mempool.HandleEvent(e); err != nil {
			if mempool.Halted() != nil {
				return fmt.Errorf("mempool space halted: %w", err)
			}
			b.logger.Info("unconfirmed event rejected", zap.Int64("cursor", e.Cursor),
				zap.String("kind", string(e.Kind)), zap.Error(err))
		}
	}
	b.mempool = mempool
	return nil
}

// advanceSnapshot folds events that reached the snapshot depth into the
// snapshot space and drops them from the comparison window. A reorg can
// never reach below this line; one that would is fatal by construction.
func (b *Builder) advanceSnapshot(ctx context.Context, best uint64) error {
	depth := b.cfg.SnapshotDepth
	if depth == 0 {
		depth = 12
	}

	folded := 0
	for _, e := range b.minedWindow {
		if e.Confirmations(best) < depth {
			break
		}
		if err := b.snapshot.HandleEvent(e); err != nil {
			if b.snapshot.Halted() != nil {
				return fmt.Errorf("snapshot space halted: %w", err)
			}
		}
		folded++
	}
	if folded == 0 {
		return nil
	}
	b.minedWindow = b.minedWindow[folded:]

	if err := b.checkpoint.Save(b.snapshot.Cursor()); err != nil {
		return err
	}
	b.logger.Info("snapshot advanced", zap.Int("events", folded),
		zap.Int64("cursor", b.snapshot.Cursor()))
	return b.maybeSnapshot(ctx)
}

func (b *Builder) persist(ctx context.Context) error {
	if b.sink == nil {
		b.snapshot.DrainChanges()
		b.confirmed.DrainChanges()
		return nil
	}
	changes := b.confirmed.DrainChanges()
	b.snapshot.DrainChanges()
	if len(changes) == 0 {
		return nil
	}
	if err := b.sink.SaveChanges(ctx, b.confirmed.Cursor(), changes); err != nil {
		return fmt.Errorf("save changes: %w", err)
	}
	return nil
}

func (b *Builder) maybeSnapshot(ctx context.Context) error {
	if b.sink == nil || b.cfg.SnapshotEvery <= 0 {
		return nil
	}
	cursor := b.snapshot.Cursor()
	if cursor-b.lastPersist < b.cfg.SnapshotEvery {
		return nil
	}
	if err := b.sink.SaveSnapshot(ctx, cursor, b.snapshot.SnapshotData()); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	b.lastPersist = cursor
	return nil
}
