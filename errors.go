package tycoon

import (
	"context"
	"errors"
)

var (
	// ErrNotFound means the game code is unknown to the backend. Terminal
	// for that code.
	ErrNotFound = errors.New("game not found")

	// ErrNotIndexed means the chain gateway has not indexed the record
	// yet. Unlike ErrNotFound this is transient: the record may appear on
	// a later read.
	ErrNotIndexed = errors.New("record not indexed yet")

	// ErrNotYetEligible means the caller's identity cannot perform the
	// action (guest on a staked game, acting out of turn). Not retried
	// automatically.
	ErrNotYetEligible = errors.New("not eligible for this action")

	// ErrGameFull means the lobby already holds its configured number of
	// players.
	ErrGameFull = errors.New("game is full")

	// ErrUserCancelled means the user dismissed the wallet prompt. A
	// normal outcome, not a fault.
	ErrUserCancelled = errors.New("user cancelled")

	// ErrInsufficientFunds means the wallet cannot cover stake plus gas.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrReverted means the chain rejected the transaction. Not retryable
	// without changing inputs.
	ErrReverted = errors.New("transaction reverted")

	// ErrUnavailable covers transport failures against the backend or the
	// chain gateway. Retryable.
	ErrUnavailable = errors.New("service unavailable")

	// ErrConfirmationTimeout means a submitted transaction was not
	// confirmed within the configured wait. The transaction may still
	// land later; this must never be treated as not-committed.
	ErrConfirmationTimeout = errors.New("confirmation timed out, check explorer")

	// ErrEffectFailed is the hazard case: the on-chain cost was paid but
	// the off-chain effect did not apply.
	ErrEffectFailed = errors.New("on-chain cost paid but effect not applied")

	// ErrActionUnavailable marks actions that are deliberately disabled.
	ErrActionUnavailable = errors.New("action not available")

	// ErrEmptyCode rejects a synchronizer start with no game code. A
	// configuration error, not something to retry.
	ErrEmptyCode = errors.New("empty game code")
)

// Kind buckets an error into the taxonomy the UI reacts to.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindNotYetEligible
	KindUserCancelled
	KindTransient
	KindReverted
	KindInsufficientFunds
	KindConfirmationTimeout
	KindEffectFailed
	KindActionUnavailable
)

// Classify maps err onto its Kind. Unrecognized errors classify as
// transient: the caller may retry by re-invoking the operation.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrNotYetEligible), errors.Is(err, ErrGameFull):
		return KindNotYetEligible
	case errors.Is(err, ErrUserCancelled):
		return KindUserCancelled
	case errors.Is(err, ErrReverted):
		return KindReverted
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrConfirmationTimeout):
		return KindConfirmationTimeout
	case errors.Is(err, ErrEffectFailed):
		return KindEffectFailed
	case errors.Is(err, ErrActionUnavailable):
		return KindActionUnavailable
	case errors.Is(err, ErrNotIndexed), errors.Is(err, ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	default:
		return KindTransient
	}
}

// Transient reports whether err is worth retrying without changing
// inputs.
func Transient(err error) bool {
	return Classify(err) == KindTransient
}
