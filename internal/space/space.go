// Package space implements one consistent, versioned view of module
// state: an Assets snapshot plus the AMM contract plus the queue of
// deposits and approvals still maturing. Spaces replay the chain feed
// deterministically; two spaces fed the same events byte-match at every
// step.
package space

import (
	"encoding/json"
	"errors"
	"fmt"

	"swapsequencer/internal/contract"
	"swapsequencer/internal/ledger"
	"swapsequencer/internal/model"
)

// Role tags what a space is for. It changes enforcement rules, never
// structure.
type Role int

const (
	RoleSnapshot Role = iota
	RoleConfirmed
	RoleMempool
	RolePending
)

func (r Role) String() string {
	switch r {
	case RoleSnapshot:
		return "snapshot"
	case RoleConfirmed:
		return "confirmed"
	case RoleMempool:
		return "mempool"
	case RolePending:
		return "pending"
	}
	return "unknown"
}

var (
	ErrCursorGap       = errors.New("event cursor not contiguous")
	ErrSpaceHalted     = errors.New("space halted")
	ErrNotDeployed     = errors.New("module not deployed")
	ErrAlreadyDeployed = errors.New("module already deployed")
	ErrParentMismatch  = errors.New("commit parent mismatch")
)

// HeightProvider reports the current best block height.
type HeightProvider interface {
	BestHeight() uint64
}

// Env carries the process-wide collaborators every space needs: the
// module id, the per-tick decimals table, maturation thresholds and the
// height source. Passed explicitly; there are no package globals.
type Env struct {
	Module        string
	Decimals      map[string]int
	Confirmations map[model.EventKind]uint64
	FeeOn         bool
	Height        HeightProvider
}

// DefaultConfirmations is the maturation depth used when Env does not
// override a kind.
const DefaultConfirmations uint64 = 3

// TickDecimals returns the decimal places for a tick, DefaultScale when
// the table has no entry (LP ticks are never in the table).
func (e *Env) TickDecimals(tick string) int {
	if d, ok := e.Decimals[tick]; ok {
		return d
	}
	return 18
}

func (e *Env) confirmationsFor(kind model.EventKind) uint64 {
	if c, ok := e.Confirmations[kind]; ok {
		return c
	}
	return DefaultConfirmations
}

// pendingEntry is a deposit or approval waiting to mature.
type pendingEntry struct {
	Kind    model.EventKind `json:"kind"`
	Height  uint64          `json:"height"`
	Address string          `json:"address"`
	Tick    string          `json:"tick"`
	Amount  string          `json:"amount"`
}

// Space is one replay view over the event feed.
type Space struct {
	role     Role
	env      *Env
	assets   *ledger.Assets
	contract *contract.Contract
	init     *model.ModuleInit

	pending      []pendingEntry
	lastEvent    *model.OpEvent
	lastCommitID string

	halted error
}

// SnapshotObj is the transferable full-state capture a Space is built
// from. One snapshot object may back exactly one space.
type SnapshotObj struct {
	assets       *ledger.Assets
	status       *contract.Status
	init         *model.ModuleInit
	pending      []pendingEntry
	lastEvent    *model.OpEvent
	lastCommitID string
	used         bool
}

// NewEmptySnapshot returns the genesis snapshot: no ticks, no module.
func NewEmptySnapshot() *SnapshotObj {
	return &SnapshotObj{
		assets: ledger.NewAssets(),
		status: contract.NewStatus(),
	}
}

// Cursor returns the cursor the snapshot was taken at, -1 for genesis.
func (s *SnapshotObj) Cursor() int64 {
	if s.lastEvent == nil {
		return -1
	}
	return s.lastEvent.Cursor
}

// New builds a Space from a snapshot, consuming it. A snapshot object
// backing two spaces would alias ledgers between them, so the second use
// fails.
func New(snap *SnapshotObj, env *Env, role Role) (*Space, error) {
	if snap.used {
		return nil, fmt.Errorf("snapshot already used")
	}
	snap.used = true

	s := &Space{
		role:         role,
		env:          env,
		assets:       snap.assets,
		init:         snap.init,
		pending:      snap.pending,
		lastEvent:    snap.lastEvent,
		lastCommitID: snap.lastCommitID,
	}
	if s.init != nil {
		s.contract = contract.New(s.assets, snap.status, contractConfig(s.init, env.FeeOn))
	} else {
		// Keep the status around so a pre-deploy snapshot still carries it.
		s.contract = contract.New(s.assets, snap.status, contract.Config{FeeOn: env.FeeOn})
	}
	return s, nil
}

func contractConfig(init *model.ModuleInit, feeOn bool) contract.Config {
	return contract.Config{
		FeeTo:           init.FeeTo,
		SwapFeeRate1000: init.SwapFeeRate,
		FeeOn:           feeOn,
	}
}

func (s *Space) Role() Role                   { return s.role }
func (s *Space) Init() *model.ModuleInit      { return s.init }
func (s *Space) LastCommitID() string         { return s.lastCommitID }
func (s *Space) Assets() *ledger.Assets       { return s.assets }
func (s *Space) Contract() *contract.Contract { return s.contract }

// Cursor returns the cursor of the last handled event, -1 before any.
func (s *Space) Cursor() int64 {
	if s.lastEvent == nil {
		return -1
	}
	return s.lastEvent.Cursor
}

// DrainChanges hands out the balance change records accumulated since the
// last drain.
func (s *Space) DrainChanges() []ledger.ChangeRecord {
	return s.assets.DrainJournal()
}

// Halted returns the fatal error that stopped this space, nil if running.
func (s *Space) Halted() error { return s.halted }

func (s *Space) halt(err error) error {
	s.halted = err
	return err
}

// HandleEvent validates and applies one feed event. Consistency failures
// halt the space permanently; a halted space refuses all further events.
func (s *Space) HandleEvent(event *model.OpEvent) error {
	if s.halted != nil {
		return fmt.Errorf("%w: %v", ErrSpaceHalted, s.halted)
	}
	if err := s.checkCoherence(event); err != nil {
		return s.halt(err)
	}

	s.matchPending()

	if event.Valid {
		if err := s.dispatch(event); err != nil {
			// Commit execution failures poison the whole space: a
			// partially applied commit can never be reconciled.
			if event.Kind == model.EventCommit {
				return s.halt(err)
			}
			s.recordEvent(event)
			return err
		}
	}

	s.recordEvent(event)
	s.matchPending()
	return nil
}

func (s *Space) recordEvent(event *model.OpEvent) {
	if event.Cursor == model.PendingCursor {
		return
	}
	s.lastEvent = event
}

func (s *Space) checkCoherence(event *model.OpEvent) error {
	if !event.Kind.Valid() {
		return fmt.Errorf("unknown event kind %q", event.Kind)
	}
	if event.Cursor == model.PendingCursor {
		if s.role != RolePending {
			return fmt.Errorf("%w: pending cursor in %s space", ErrCursorGap, s.role)
		}
	} else if s.lastEvent != nil && event.Cursor != s.lastEvent.Cursor+1 {
		return fmt.Errorf("%w: got %d after %d", ErrCursorGap, event.Cursor, s.lastEvent.Cursor)
	}
	if event.Height == model.UnconfirmedHeight && (s.role == RoleSnapshot || s.role == RoleConfirmed) {
		return fmt.Errorf("unconfirmed height in %s space", s.role)
	}
	return nil
}

func (s *Space) dispatch(event *model.OpEvent) error {
	switch event.Kind {
	case model.EventDeploy:
		return s.handleDeploy(event)
	case model.EventTransfer:
		return s.handleDeposit(event)
	case model.EventWithdraw:
		return s.handleWithdraw(event)
	case model.EventApprove:
		return s.handleApprove(event, ledger.ClassApprove)
	case model.EventConditionalApprove:
		return s.handleApprove(event, ledger.ClassConditionalApprove)
	case model.EventInscribeApprove:
		return s.handleInscribe(event, ledger.ClassApprove)
	case model.EventInscribeConditionalApprove:
		return s.handleInscribe(event, ledger.ClassConditionalApprove)
	case model.EventCommit:
		return s.handleCommit(event)
	default:
		return fmt.Errorf("unknown event kind %q", event.Kind)
	}
}

func (s *Space) handleDeploy(event *model.OpEvent) error {
	if s.init != nil {
		return ErrAlreadyDeployed
	}
	var payload model.DeployPayload
	if err := json.Unmarshal(event.ContentBody, &payload); err != nil {
		return fmt.Errorf("decode deploy: %w", err)
	}
	init := payload.Init
	s.init = &init
	s.contract = contract.New(s.assets, s.contract.Status(), contractConfig(s.init, s.env.FeeOn))
	return nil
}

func (s *Space) handleDeposit(event *model.OpEvent) error {
	var payload model.TransferPayload
	if err := json.Unmarshal(event.ContentBody, &payload); err != nil {
		return fmt.Errorf("decode transfer: %w", err)
	}
	amount, err := s.toUint(payload.Amt, payload.Tick)
	if err != nil {
		return err
	}
	if err := s.assets.Mint(ledger.ClassPendingSwap, payload.Tick, event.From, amount); err != nil {
		return err
	}
	s.enqueue(event.Kind, event.Height, event.From, payload.Tick, amount)
	return nil
}

func (s *Space) handleWithdraw(event *model.OpEvent) error {
	var payload model.TransferPayload
	if err := json.Unmarshal(event.ContentBody, &payload); err != nil {
		return fmt.Errorf("decode withdraw: %w", err)
	}
	amount, err := s.toUint(payload.Amt, payload.Tick)
	if err != nil {
		return err
	}
	return s.assets.Burn(ledger.ClassAvailable, payload.Tick, event.From, amount)
}

// handleApprove settles an approval spend: the approved balance leaves
// its class and re-enters as a maturing pendingSwap deposit for the
// receiving side. The settled amount rides in the event's side channel.
func (s *Space) handleApprove(event *model.OpEvent, class ledger.Class) error {
	var payload model.TransferPayload
	if err := json.Unmarshal(event.ContentBody, &payload); err != nil {
		return fmt.Errorf("decode approve: %w", err)
	}
	if event.Data == nil || event.Data.Amount == "" {
		return fmt.Errorf("approve event missing settled amount")
	}
	amount, err := s.toUint(event.Data.Amount, payload.Tick)
	if err != nil {
		return err
	}
	if err := s.assets.Burn(class, payload.Tick, event.From, amount); err != nil {
		return err
	}
	if err := s.assets.Mint(ledger.ClassPendingSwap, payload.Tick, event.To, amount); err != nil {
		return err
	}
	s.enqueue(event.Kind, event.Height, event.To, payload.Tick, amount)
	return nil
}

func (s *Space) handleInscribe(event *model.OpEvent, class ledger.Class) error {
	var payload model.TransferPayload
	if err := json.Unmarshal(event.ContentBody, &payload); err != nil {
		return fmt.Errorf("decode inscribe approve: %w", err)
	}
	amount, err := s.toUint(payload.Amt, payload.Tick)
	if err != nil {
		return err
	}
	return s.assets.Convert(event.From, payload.Tick, amount, ledger.ClassAvailable, class)
}

func (s *Space) handleCommit(event *model.OpEvent) error {
	var payload model.CommitPayload
	if err := json.Unmarshal(event.ContentBody, &payload); err != nil {
		return fmt.Errorf("decode commit: %w", err)
	}
	if s.lastCommitID != "" && payload.Parent != s.lastCommitID {
		return fmt.Errorf("%w: parent %s, want %s", ErrParentMismatch, payload.Parent, s.lastCommitID)
	}

	funcs, err := DecodeCommitFuncs(s.env.Module, &payload)
	if err != nil {
		return err
	}
	for _, f := range funcs {
		if _, err := s.Aggregate(f, payload.GasPrice); err != nil {
			return fmt.Errorf("commit %s func %s: %w", event.InscriptionID, f.ID, err)
		}
	}

	s.lastCommitID = event.InscriptionID
	return nil
}

func (s *Space) enqueue(kind model.EventKind, height uint64, addr, tick, amount string) {
	s.pending = append(s.pending, pendingEntry{
		Kind:    kind,
		Height:  height,
		Address: addr,
		Tick:    tick,
		Amount:  amount,
	})
}

// matchPending sweeps the maturation queue, converting entries whose
// confirmation depth reached the configured threshold.
func (s *Space) matchPending() {
	if len(s.pending) == 0 || s.env.Height == nil {
		return
	}
	best := s.env.Height.BestHeight()
	remaining := s.pending[:0]
	for i, entry := range s.pending {
		event := model.OpEvent{Height: entry.Height}
		if event.Confirmations(best) < s.env.confirmationsFor(entry.Kind) {
			remaining = append(remaining, entry)
			continue
		}
		from, to := maturationClasses(entry.Kind)
		if err := s.assets.Convert(entry.Address, entry.Tick, entry.Amount, from, to); err != nil {
			// A maturation that cannot apply is a ledger inconsistency.
			// Keep the failing entry and the unswept tail so the halted
			// state can be inspected.
			s.halted = err
			s.pending = append(remaining, s.pending[i:]...)
			return
		}
	}
	s.pending = remaining
}

func maturationClasses(kind model.EventKind) (ledger.Class, ledger.Class) {
	switch kind {
	case model.EventTransfer, model.EventApprove, model.EventConditionalApprove:
		return ledger.ClassPendingSwap, ledger.ClassSwap
	default:
		// decreaseApproval enqueues under the commit kind.
		return ledger.ClassPendingAvailable, ledger.ClassAvailable
	}
}
