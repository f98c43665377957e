package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/decred/slog"

	"github.com/gregemax/tycoon"
	"github.com/gregemax/tycoon/backend"
	"github.com/gregemax/tycoon/chain"
	"github.com/gregemax/tycoon/effectqueue"
)

// EffectStore is the slice of the backend surface the orchestrator
// writes in phase 2.
type EffectStore interface {
	Join(ctx context.Context, req backend.JoinRequest) error
	JoinAsGuest(ctx context.Context, req backend.GuestJoinRequest) error
	UpdateGamePlayer(ctx context.Context, gamePlayerID int64, patch backend.PlayerPatch) error
}

// Refresher is the post-transaction hook: phase-1 confirmation calls
// it so the synchronizer learns the chain moved without waiting for
// the next poll tick.
type Refresher interface {
	RefreshNow()
}

// OrchestratorConfig wires a Two-Phase Orchestrator.
type OrchestratorConfig struct {
	Chain     chain.Reader
	Submitter chain.Submitter
	Store     EffectStore
	Queue     *effectqueue.Queue // optional journal for effect-failed
	Refresher Refresher          // optional
	Log       slog.Logger
	Identity  Identity

	// Spender is the bank contract granted the stake allowance.
	Spender string
	// Confirmations to await per transaction; defaults to 1.
	Confirmations uint32

	// OnCleanup runs on every terminal outcome, success or not, so
	// modal/selection state tied to the intent never survives the
	// workflow.
	OnCleanup func(*TransactionIntent)
}

// Orchestrator executes approve→act and burn→apply-effect workflows:
// an irreversible on-chain phase followed by a non-transactional
// backend write, reporting which halves actually happened.
type Orchestrator struct {
	cfg   OrchestratorConfig
	log   slog.Logger
	confs uint32
}

func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("orchestrator needs an effect store")
	}
	if cfg.Log == nil {
		return nil, fmt.Errorf("orchestrator must have logger")
	}
	confs := cfg.Confirmations
	if confs == 0 {
		confs = 1
	}
	return &Orchestrator{cfg: cfg, log: cfg.Log, confs: confs}, nil
}

// Begin validates the intent synchronously, runs both phases and
// reports the outcome. view is the current merged snapshot the UI
// acted on. Intent and any caller selection state are cleaned up on
// every path out.
func (o *Orchestrator) Begin(ctx context.Context, view *GameView, intent *TransactionIntent) Outcome {
	defer func() {
		if o.cfg.OnCleanup != nil {
			o.cfg.OnCleanup(intent)
		}
	}()

	switch intent.Kind {
	case ApproveAndAct:
		if intent.Join == nil {
			return Outcome{Status: NotCommitted, Err: fmt.Errorf("join intent missing payload")}
		}
		return o.join(ctx, view, intent.Join)
	case BurnAndApply:
		if intent.Perk == nil {
			return Outcome{Status: NotCommitted, Err: fmt.Errorf("perk intent missing payload")}
		}
		return o.perk(ctx, view, intent.Perk)
	default:
		return Outcome{Status: NotCommitted, Err: fmt.Errorf("unknown intent kind %d", intent.Kind)}
	}
}

// join: approve allowance if short, submit the on-chain join, wait one
// confirmation, then record the join in the backend.
func (o *Orchestrator) join(ctx context.Context, view *GameView, j *JoinIntent) Outcome {
	id := o.cfg.Identity

	// Cheap synchronous rejections before any network call.
	if view != nil && view.IsFull() {
		return Outcome{Status: NotCommitted, Err: tycoon.ErrGameFull}
	}
	if id.IsGuest() && j.Stake > 0 {
		// Guests cannot escrow a stake. Enforced here, not discovered
		// via a failed chain call.
		return Outcome{Status: NotCommitted,
			Err: fmt.Errorf("guests cannot join staked games: %w", tycoon.ErrNotYetEligible)}
	}
	if view != nil && view.HasPlayer(id) {
		return Outcome{Status: NotCommitted,
			Err: fmt.Errorf("already seated in %s: %w", j.Code, tycoon.ErrNotYetEligible)}
	}
	if view != nil {
		if taken := view.TakenSymbols(); taken[j.Symbol] {
			return Outcome{Status: NotCommitted,
				Err: fmt.Errorf("symbol %q already taken: %w", j.Symbol, tycoon.ErrNotYetEligible)}
		}
	}

	// Guest path: no spend, no chain phase; the backend write is the
	// whole workflow.
	if id.IsGuest() {
		if err := o.cfg.Store.JoinAsGuest(ctx, backend.GuestJoinRequest{
			Guest: id.Guest, Symbol: j.Symbol, Code: j.Code,
		}); err != nil {
			return Outcome{Status: NotCommitted, Err: err}
		}
		o.refresh()
		return Outcome{Status: CommittedAndApplied}
	}

	if o.cfg.Submitter == nil {
		return Outcome{Status: NotCommitted, Err: fmt.Errorf("no chain submitter configured")}
	}

	// Phase 1a: allowance. Read fresh every time; a prior workflow's
	// snapshot may be stale (another tab, a partial approval).
	if j.Stake > 0 {
		if o.cfg.Chain == nil {
			return Outcome{Status: NotCommitted, Err: fmt.Errorf("no chain reader configured")}
		}
		allowance, err := o.cfg.Chain.AllowanceOf(ctx, id.Address, o.cfg.Spender)
		if err != nil {
			return Outcome{Status: NotCommitted, Err: fmt.Errorf("read allowance: %w", err)}
		}
		if allowance.Amount < j.Stake {
			o.log.Infof("orchestrator: allowance %d < stake %d; approving", allowance.Amount, j.Stake)
			approveTx, err := o.cfg.Submitter.Approve(ctx, o.cfg.Spender, j.Stake)
			if err != nil {
				return Outcome{Status: NotCommitted, Err: classifySubmit("approve", err)}
			}
			// The main transaction is never submitted while the
			// approval is unconfirmed.
			if err := o.await(ctx, approveTx); err != nil {
				return o.confirmFailure("approve", err)
			}
		}
	}

	// Phase 1b: the join transaction.
	joinTx, err := o.cfg.Submitter.Join(ctx, j.GameID, j.Username, j.Symbol, j.Code)
	if err != nil {
		return Outcome{Status: NotCommitted, Err: classifySubmit("join", err)}
	}
	if err := o.await(ctx, joinTx); err != nil {
		return o.confirmFailure("join", err)
	}
	o.log.Infof("orchestrator: join tx %s confirmed for %s", joinTx, j.Code)
	o.refresh()

	// Phase 2: record the join off-chain. Failing here means the stake
	// is already escrowed on chain.
	if err := o.cfg.Store.Join(ctx, backend.JoinRequest{
		Address: id.Address, Symbol: j.Symbol, Code: j.Code,
	}); err != nil {
		return o.effectFailed(ctx, j.Code, 0, nil, err)
	}
	o.refresh()
	return Outcome{Status: CommittedAndApplied}
}

// perk: burn the consumable on chain, wait one confirmation, then
// apply the game-state mutation via the backend.
func (o *Orchestrator) perk(ctx context.Context, view *GameView, p *PerkIntent) Outcome {
	if !enabledPerks[p.Kind] {
		return Outcome{Status: NotCommitted,
			Err: fmt.Errorf("perk %s: %w", p.Kind, tycoon.ErrActionUnavailable)}
	}
	if view != nil && !view.MyTurn(o.cfg.Identity) {
		return Outcome{Status: NotCommitted,
			Err: fmt.Errorf("not your turn: %w", tycoon.ErrNotYetEligible)}
	}
	if p.Effect.Empty() {
		return Outcome{Status: NotCommitted, Err: fmt.Errorf("perk %s: empty effect", p.Kind)}
	}
	if o.cfg.Submitter == nil {
		return Outcome{Status: NotCommitted, Err: fmt.Errorf("no chain submitter configured")}
	}

	// Phase 1: the burn. Irreversible; the token is destroyed.
	burnTx, err := o.cfg.Submitter.Burn(ctx, p.TokenID)
	if err != nil {
		return Outcome{Status: NotCommitted, Err: classifySubmit("burn", err)}
	}
	if err := o.await(ctx, burnTx); err != nil {
		return o.confirmFailure("burn", err)
	}
	o.log.Infof("orchestrator: burn tx %s confirmed (perk %s)", burnTx, p.Kind)
	o.refresh()

	// Phase 2: apply the effect.
	if err := o.cfg.Store.UpdateGamePlayer(ctx, p.GamePlayerID, p.Effect); err != nil {
		return o.effectFailed(ctx, p.Code, p.GamePlayerID, &p.Effect, err)
	}
	o.refresh()
	return Outcome{Status: CommittedAndApplied}
}

// RetryEffect re-runs phase 2 alone for a journaled effect. Phase 1
// already succeeded and is never resubmitted.
func (o *Orchestrator) RetryEffect(ctx context.Context, entryID int64) error {
	if o.cfg.Queue == nil {
		return fmt.Errorf("no effect queue configured")
	}
	entry, err := o.cfg.Queue.Get(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.ResolvedAt != nil {
		return nil
	}
	var patch backend.PlayerPatch
	if err := json.Unmarshal(entry.Body, &patch); err != nil {
		return fmt.Errorf("effect %d: bad body: %w", entryID, err)
	}
	if err := o.cfg.Store.UpdateGamePlayer(ctx, entry.GamePlayerID, patch); err != nil {
		return fmt.Errorf("effect %d: %w", entryID, err)
	}
	if err := o.cfg.Queue.Resolve(ctx, entryID); err != nil {
		return err
	}
	o.refresh()
	return nil
}

func (o *Orchestrator) await(ctx context.Context, h chain.TxHandle) error {
	err := o.cfg.Submitter.AwaitConfirmation(ctx, h, o.confs)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%v: %w", err, tycoon.ErrConfirmationTimeout)
	}
	return err
}

// confirmFailure maps a failed confirmation wait. A timeout is not a
// failure to commit: the transaction may still land, so the caller is
// told the commit state is uncertain.
func (o *Orchestrator) confirmFailure(step string, err error) Outcome {
	if errors.Is(err, tycoon.ErrConfirmationTimeout) {
		o.log.Warnf("orchestrator: %s confirmation timed out: %v", step, err)
		return Outcome{Status: CommitUncertain, Err: err}
	}
	return Outcome{Status: NotCommitted, Err: fmt.Errorf("%s: %w", step, err)}
}

// effectFailed reports the hazard state and journals the effect when a
// queue is wired. Retrying is an explicit user action only.
func (o *Orchestrator) effectFailed(ctx context.Context, code string, gamePlayerID int64, patch *backend.PlayerPatch, err error) Outcome {
	o.log.Errorf("orchestrator: on-chain phase committed but effect failed for %s: %v", code, err)
	out := Outcome{
		Status: CommittedButEffectFailed,
		Err:    fmt.Errorf("%w: %v", tycoon.ErrEffectFailed, err),
	}
	if o.cfg.Queue != nil && patch != nil {
		body, merr := json.Marshal(patch)
		if merr == nil {
			qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if id, qerr := o.cfg.Queue.Enqueue(qctx, code, gamePlayerID, body); qerr != nil {
				o.log.Warnf("orchestrator: journaling failed effect: %v", qerr)
			} else {
				out.QueuedEffect = id
			}
		}
	}
	return out
}

func (o *Orchestrator) refresh() {
	if o.cfg.Refresher != nil {
		o.cfg.Refresher.RefreshNow()
	}
}

// classifySubmit keeps the submit failure classes distinct: an explicit
// wallet rejection is a normal outcome, insufficient funds gets an
// actionable message, anything else stays a generic retryable failure.
func classifySubmit(step string, err error) error {
	switch {
	case errors.Is(err, tycoon.ErrUserCancelled):
		return err
	case errors.Is(err, tycoon.ErrInsufficientFunds):
		return fmt.Errorf("%s: wallet cannot cover stake and gas: %w", step, err)
	default:
		return fmt.Errorf("%s: %w", step, err)
	}
}
