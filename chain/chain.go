// Package chain is the client's boundary with the on-chain ledger. The
// contracts themselves live behind a wallet gateway speaking JSON over
// HTTP; this package turns that loose surface into typed reads, signed
// submissions and awaitable confirmations.
package chain

import (
	"context"

	"github.com/decred/dcrd/chaincfg/chainhash"

	"github.com/gregemax/tycoon"
)

// TxHandle identifies a submitted transaction.
type TxHandle = chainhash.Hash

// GameOnChain is the decoded contract record for one game. Only the
// fields the client needs for eligibility checks are carried: creator
// detection, stake amount and capacity.
type GameOnChain struct {
	Code           string
	Status         tycoon.GameStatus
	StakePerPlayer uint64
	JoinedPlayers  uint32
	Capacity       uint32
	Creator        string
}

// Allowance is a fresh snapshot of a token allowance. It must be
// re-read immediately before each spend decision; allowance changes
// out-of-band (another tab, a prior partial approval).
type Allowance struct {
	Owner   string
	Spender string
	Amount  uint64
}

// Reader reads contract state.
type Reader interface {
	// Game returns the on-chain record for code. tycoon.ErrNotFound
	// means the contract holds no such game; tycoon.ErrNotIndexed means
	// the gateway has not caught up and the read should be retried.
	Game(ctx context.Context, code string) (*GameOnChain, error)

	// AllowanceOf returns the current token allowance owner has granted
	// spender.
	AllowanceOf(ctx context.Context, owner, spender string) (*Allowance, error)
}

// Submitter submits irreversible transactions and waits on their
// confirmation.
type Submitter interface {
	Approve(ctx context.Context, spender string, amount uint64) (TxHandle, error)
	Join(ctx context.Context, gameID uint64, username, symbol, code string) (TxHandle, error)
	Burn(ctx context.Context, tokenID uint64) (TxHandle, error)

	// AwaitConfirmation blocks until the transaction has the requested
	// number of confirmations, ctx ends, or the gateway's configured
	// wait elapses (tycoon.ErrConfirmationTimeout).
	AwaitConfirmation(ctx context.Context, h TxHandle, confs uint32) error
}
