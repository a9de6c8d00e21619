// Package operator runs the sequencer's write path: it accepts signed user
// functions, executes them speculatively against an isolated clone, applies
// them to the pending space and batches them into commit inscriptions.
package operator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"go.uber.org/zap"

	"swapsequencer/internal/model"
	"swapsequencer/internal/sign"
	"swapsequencer/internal/space"
)

var (
	ErrHalted        = errors.New("operator halted")
	ErrDuplicateFunc = errors.New("duplicate function")
	ErrNotDeployed   = errors.New("module not deployed")
)

// Config holds the operator's commit policy.
type Config struct {
	Module   string
	GasPrice string
	// ChainParams selects the address encoding for signature checks.
	ChainParams *chaincfg.Params
	// MaxFuncs closes a commit when it holds this many functions.
	MaxFuncs int
	// MaxAge closes a non-empty commit after this long.
	MaxAge time.Duration
}

// Sender publishes a commit inscription and returns its inscription id.
type Sender interface {
	SendCommit(ctx context.Context, content string) (string, error)
}

// Verifier cross-checks executed commits against an external service.
type Verifier interface {
	Verify(ctx context.Context, req *model.VerifyRequest) (*model.VerifyResponse, error)
}

// Request is one signed user function as submitted over the API.
type Request struct {
	Addr   string         `json:"addr"`
	Func   model.FuncKind `json:"func"`
	Params []string       `json:"params"`
	TS     int64          `json:"ts"`
	Sig    string         `json:"sig"`
}

// sentCommit is a published commit the feed has not echoed back yet. Its
// functions replay on rebase until the commit event lands.
type sentCommit struct {
	id    string
	funcs []*model.InternalFunc
}

// Operator serializes all writes to the pending space.
type Operator struct {
	cfg      Config
	sender   Sender
	verifier Verifier
	logger   *zap.Logger

	commitReady chan struct{}

	mu       sync.Mutex
	env      *space.Env
	pending  *space.Space
	open     []*model.InternalFunc
	results  []model.Result
	openedAt time.Time
	parent   string
	sent     []sentCommit
	seen     map[string]struct{}
	halted   error
}

// New builds an Operator over an initial pending-state capture.
func New(cfg Config, snap *space.SnapshotObj, env *space.Env, sender Sender, verifier Verifier, logger *zap.Logger) (*Operator, error) {
	if cfg.ChainParams == nil {
		cfg.ChainParams = &chaincfg.MainNetParams
	}
	if cfg.MaxFuncs <= 0 {
		cfg.MaxFuncs = 50
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pending, err := space.New(snap, env, space.RolePending)
	if err != nil {
		return nil, fmt.Errorf("build pending space: %w", err)
	}
	return &Operator{
		cfg:         cfg,
		sender:      sender,
		verifier:    verifier,
		logger:      logger,
		commitReady: make(chan struct{}, 1),
		env:         env,
		pending:     pending,
		parent:      pending.LastCommitID(),
		seen:        make(map[string]struct{}),
	}, nil
}

// CommitReady signals when the open batch hits the size threshold. The
// age threshold still needs a periodic TryCommit.
func (o *Operator) CommitReady() <-chan struct{} { return o.commitReady }

// Halted returns the fatal error that stopped the operator, nil if running.
func (o *Operator) Halted() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.halted
}

// Pending returns the pending-tip space. Callers must not mutate it.
func (o *Operator) Pending() *space.Space {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending
}

func (o *Operator) halt(err error) error {
	o.halted = err
	o.logger.Error("operator halted", zap.Error(err))
	return err
}

// header is the commit context new functions sign against.
func (o *Operator) header() sign.CommitHeader {
	return sign.CommitHeader{
		Module:   o.cfg.Module,
		Parent:   o.parent,
		GasPrice: o.cfg.GasPrice,
	}
}

// funcTarget names the tick or pair a function touches, for partial
// cloning.
func funcTarget(f *model.InternalFunc) (string, error) {
	switch f.Kind {
	case model.FuncDeployPool:
		p, err := f.DeployPool()
		if err != nil {
			return "", err
		}
		return model.EncodePair(p.Tick0, p.Tick1)
	case model.FuncAddLiq, model.FuncSwap, model.FuncRemoveLiq:
		if len(f.Params) == 0 {
			return "", fmt.Errorf("%s missing pair param", f.Kind)
		}
		return f.Params[0], nil
	case model.FuncSend:
		p, err := f.Send()
		if err != nil {
			return "", err
		}
		return p.Tick, nil
	case model.FuncDecreaseApproval:
		p, err := f.DecreaseApproval()
		if err != nil {
			return "", err
		}
		return p.Tick, nil
	default:
		return "", fmt.Errorf("unknown func kind %q", f.Kind)
	}
}

// Aggregate admits one signed function: authenticate, execute on an
// isolated clone, cross-verify, then apply to the pending space and stage
// it for the next commit.
func (o *Operator) Aggregate(ctx context.Context, req *Request) (*model.ExecResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.halted != nil {
		return nil, fmt.Errorf("%w: %v", ErrHalted, o.halted)
	}
	if o.pending.Init() == nil {
		return nil, ErrNotDeployed
	}
	if !req.Func.Valid() {
		return nil, fmt.Errorf("unknown func kind %q", req.Func)
	}
	if _, err := sign.ClassifyAddress(req.Addr, o.cfg.ChainParams); err != nil {
		return nil, err
	}

	prevs := make([]string, 0, len(o.open))
	for _, prev := range o.open {
		prevs = append(prevs, prev.ID)
	}
	f := &model.InternalFunc{
		Addr:   req.Addr,
		Kind:   req.Func,
		Params: req.Params,
		TS:     req.TS,
		Sig:    req.Sig,
		Prevs:  prevs,
	}
	f.ID = sign.FuncID(o.header(), f, prevs)

	hash := sign.ContentHash(f)
	if _, ok := o.seen[hash]; ok {
		return nil, ErrDuplicateFunc
	}

	// The signed text chains every prior function this address already has
	// in the open commit; moving or dropping one breaks the signature.
	chain := make([]*model.InternalFunc, 0, len(o.open)+1)
	for _, prev := range o.open {
		if prev.Addr == req.Addr {
			chain = append(chain, prev)
		}
	}
	chain = append(chain, f)
	msg := sign.SignText(chain)
	if err := sign.VerifyMessage(req.Addr, msg, req.Sig, o.cfg.ChainParams); err != nil {
		return nil, err
	}

	target, err := funcTarget(f)
	if err != nil {
		return nil, err
	}
	clone, err := o.pending.PartialClone(req.Addr, target)
	if err != nil {
		return nil, fmt.Errorf("clone state: %w", err)
	}
	speculative, err := clone.Aggregate(f, o.cfg.GasPrice)
	if err != nil {
		return nil, err
	}

	if err := o.crossVerify(ctx, f, speculative); err != nil {
		return nil, err
	}

	// The clone accepted the function; the pending space must agree.
	result, err := o.pending.Aggregate(f, o.cfg.GasPrice)
	if err != nil {
		return nil, o.halt(fmt.Errorf("pending apply diverged from clone: %w", err))
	}

	if len(o.open) == 0 {
		o.openedAt = time.Now()
	}
	o.open = append(o.open, f)
	o.results = append(o.results, result.Result)
	o.seen[hash] = struct{}{}

	if len(o.open) >= o.cfg.MaxFuncs {
		select {
		case o.commitReady <- struct{}{}:
		default:
		}
	}

	o.logger.Info("function accepted",
		zap.String("id", f.ID),
		zap.String("func", string(f.Kind)),
		zap.String("addr", f.Addr))
	return result, nil
}

// crossVerify sends the function's would-be commit to the external
// verifier. A critical rejection halts the operator; a plain rejection
// only drops the function.
func (o *Operator) crossVerify(ctx context.Context, f *model.InternalFunc, res *model.ExecResult) error {
	if o.verifier == nil {
		return nil
	}
	commit := model.NewCommit(o.cfg.Module, o.parent, o.cfg.GasPrice)
	for _, prev := range o.open {
		commit.Data = append(commit.Data, prev.CommitFunc())
	}
	commit.Data = append(commit.Data, f.CommitFunc())
	content, err := commit.Marshal()
	if err != nil {
		return err
	}

	results := make([]model.Result, 0, len(o.results)+1)
	results = append(results, o.results...)
	results = append(results, res.Result)

	resp, err := o.verifier.Verify(ctx, &model.VerifyRequest{
		Commits: []string{content},
		Results: results,
	})
	if err != nil {
		return fmt.Errorf("external verify: %w", err)
	}
	if resp.Valid {
		return nil
	}
	if resp.Critical {
		return o.halt(fmt.Errorf("verifier critical rejection: %s", resp.Message))
	}
	return fmt.Errorf("verifier rejected function: %s", resp.Message)
}

// ReachCommitCondition reports whether the open batch should be published.
func (o *Operator) ReachCommitCondition(now time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.open) == 0 {
		return false
	}
	return len(o.open) >= o.cfg.MaxFuncs || now.Sub(o.openedAt) >= o.cfg.MaxAge
}

// TryCommit publishes the open batch when the commit condition holds. The
// returned id is empty when nothing was published.
func (o *Operator) TryCommit(ctx context.Context) (string, error) {
	if !o.ReachCommitCondition(time.Now()) {
		return "", nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.halted != nil {
		return "", fmt.Errorf("%w: %v", ErrHalted, o.halted)
	}
	if o.sender == nil {
		return "", fmt.Errorf("no commit sender configured")
	}

	commit := model.NewCommit(o.cfg.Module, o.parent, o.cfg.GasPrice)
	for _, f := range o.open {
		commit.Data = append(commit.Data, f.CommitFunc())
	}
	content, err := commit.Marshal()
	if err != nil {
		return "", err
	}

	// Re-verify the whole batch before it becomes irreversible. Admission
	// checks covered each function at staging time, not the final commit.
	if o.verifier != nil {
		resp, err := o.verifier.Verify(ctx, &model.VerifyRequest{
			Commits: []string{content},
			Results: append([]model.Result(nil), o.results...),
		})
		if err != nil {
			return "", fmt.Errorf("commit verify: %w", err)
		}
		if !resp.Valid {
			if resp.Critical {
				return "", o.halt(fmt.Errorf("verifier critical rejection of commit: %s", resp.Message))
			}
			return "", fmt.Errorf("verifier rejected commit: %s", resp.Message)
		}
	}

	id, err := o.sender.SendCommit(ctx, content)
	if err != nil {
		return "", fmt.Errorf("send commit: %w", err)
	}

	o.sent = append(o.sent, sentCommit{id: id, funcs: o.open})
	o.parent = id
	o.open = nil
	o.results = nil
	// Dedup is scoped to the open commit; a landed intent may recur.
	o.seen = make(map[string]struct{})

	o.logger.Info("commit published",
		zap.String("inscription_id", id),
		zap.Int("funcs", len(commit.Data)))
	return id, nil
}

// Reset rebases the pending layer onto a fresh mempool capture: published
// commits already reflected in the feed are dropped, everything else
// replays in order. Functions the new state rejects are discarded.
func (o *Operator) Reset(snap *space.SnapshotObj, env *space.Env) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	pending, err := space.New(snap, env, space.RolePending)
	if err != nil {
		return fmt.Errorf("rebuild pending space: %w", err)
	}

	// Drop sent commits the feed has confirmed, oldest first.
	landed := pending.LastCommitID()
	for i, sc := range o.sent {
		if sc.id == landed {
			o.sent = append([]sentCommit(nil), o.sent[i+1:]...)
			break
		}
	}

	o.pending = pending
	o.halted = nil
	o.seen = make(map[string]struct{})

	for _, sc := range o.sent {
		o.replayFuncs(sc.funcs, "sent commit "+sc.id)
	}

	open := o.open
	o.open = nil
	o.results = nil
	o.replayFuncs(open, "open batch")

	if len(o.sent) > 0 {
		o.parent = o.sent[len(o.sent)-1].id
	} else {
		o.parent = landed
	}
	return nil
}

func (o *Operator) replayFuncs(funcs []*model.InternalFunc, origin string) {
	for _, f := range funcs {
		result, err := o.pending.Aggregate(f, o.cfg.GasPrice)
		if err != nil {
			o.logger.Warn("function dropped on rebase",
				zap.String("id", f.ID),
				zap.String("origin", origin),
				zap.Error(err))
			continue
		}
		if origin == "open batch" {
			if len(o.open) == 0 {
				o.openedAt = time.Now()
			}
			o.open = append(o.open, f)
			o.results = append(o.results, result.Result)
			o.seen[sign.ContentHash(f)] = struct{}{}
		}
	}
}

// OpenFuncs returns the ids of functions staged for the next commit.
func (o *Operator) OpenFuncs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.open))
	for _, f := range o.open {
		ids = append(ids, f.ID)
	}
	return ids
}
