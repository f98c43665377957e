package client

import (
	"github.com/google/uuid"

	"github.com/gregemax/tycoon/backend"
)

// IntentKind selects the two-phase workflow shape.
type IntentKind int

const (
	// ApproveAndAct: approve the stake allowance if needed, submit the
	// join transaction, then record the join in the backend.
	ApproveAndAct IntentKind = iota + 1
	// BurnAndApply: burn a consumable perk token, then apply its effect
	// via a backend game-player write.
	BurnAndApply
)

// PerkKind identifies a consumable perk.
type PerkKind int

const (
	PerkCashBoost PerkKind = iota + 1
	PerkTeleport
	PerkExactRoll
	PerkJailRelease
	// PerkShield is visible in inventories but deliberately not wired
	// to an effect yet; begin() short-circuits it with a user-facing
	// notice instead of entering the transaction pipeline.
	PerkShield
)

func (k PerkKind) String() string {
	switch k {
	case PerkCashBoost:
		return "cash-boost"
	case PerkTeleport:
		return "teleport"
	case PerkExactRoll:
		return "exact-roll"
	case PerkJailRelease:
		return "jail-release"
	case PerkShield:
		return "shield"
	default:
		return "unknown"
	}
}

// enabledPerks gates which perks may enter the pipeline at all.
var enabledPerks = map[PerkKind]bool{
	PerkCashBoost:   true,
	PerkTeleport:    true,
	PerkExactRoll:   true,
	PerkJailRelease: true,
}

// JoinIntent commits the user to joining a game.
type JoinIntent struct {
	GameID   uint64 // on-chain game id
	Code     string
	Username string
	Symbol   string
	Stake    uint64 // stake per player; 0 for free games
}

// PerkIntent commits the user to burning a perk token and applying its
// effect to their seat.
type PerkIntent struct {
	Kind         PerkKind
	TokenID      uint64
	Code         string
	GamePlayerID int64
	Effect       backend.PlayerPatch
}

// TransactionIntent is the ephemeral value object for one pending
// two-phase workflow. Owned exclusively by the orchestrator, destroyed
// on any terminal outcome, never persisted: a reload loses an in-flight
// intent by design.
type TransactionIntent struct {
	ID   uuid.UUID
	Kind IntentKind
	Join *JoinIntent
	Perk *PerkIntent
}

// NewJoinIntent builds an ApproveAndAct intent.
func NewJoinIntent(j JoinIntent) *TransactionIntent {
	return &TransactionIntent{ID: uuid.New(), Kind: ApproveAndAct, Join: &j}
}

// NewPerkIntent builds a BurnAndApply intent.
func NewPerkIntent(p PerkIntent) *TransactionIntent {
	return &TransactionIntent{ID: uuid.New(), Kind: BurnAndApply, Perk: &p}
}

// OutcomeStatus is the orchestrator's report. The three resolved
// states are exhaustive whenever phase-1 resolution is known;
// CommitUncertain exists only for confirmation timeouts, where the
// transaction may still land and the caller must not treat the
// workflow as not-committed.
type OutcomeStatus int

const (
	// NotCommitted: phase 1 never happened or was rejected before any
	// cost was incurred.
	NotCommitted OutcomeStatus = iota
	// CommittedAndApplied: both phases succeeded.
	CommittedAndApplied
	// CommittedButEffectFailed: the on-chain cost was paid but the
	// backend effect did not apply. The one hazard state; never
	// presented like NotCommitted.
	CommittedButEffectFailed
	// CommitUncertain: the confirmation wait timed out.
	CommitUncertain
)

func (s OutcomeStatus) String() string {
	switch s {
	case NotCommitted:
		return "not-committed"
	case CommittedAndApplied:
		return "committed-and-applied"
	case CommittedButEffectFailed:
		return "committed-but-effect-failed"
	case CommitUncertain:
		return "commit-uncertain"
	default:
		return "invalid"
	}
}

// Outcome is the terminal report for one intent.
type Outcome struct {
	Status OutcomeStatus
	// Err classifies what went wrong; nil only for
	// CommittedAndApplied. A user-cancelled NotCommitted carries
	// tycoon.ErrUserCancelled and warrants no error banner.
	Err error
	// QueuedEffect is the effect-queue entry id when Status is
	// CommittedButEffectFailed and a queue is wired, else 0.
	QueuedEffect int64
}
