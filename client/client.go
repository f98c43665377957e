// Package client holds the chain–backend reconciliation core: the
// state synchronizer that merges the authoritative chain with the
// faster off-chain projection, and the two-phase orchestrator that
// drives irreversible on-chain actions through their off-chain
// consequences.
package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/decred/slog"

	"github.com/gregemax/tycoon/backend"
	"github.com/gregemax/tycoon/chain"
	"github.com/gregemax/tycoon/effectqueue"
	"github.com/gregemax/tycoon/push"
)

// Client wires the external capabilities together and hands out
// synchronizers and orchestrators bound to one explicit identity.
type Client struct {
	ID       string
	Identity Identity

	cfg    *AppConfig
	log    slog.Logger
	wallet *chain.Wallet

	Gateway *chain.Gateway
	Backend *backend.Client
	Push    *push.Channel
	Queue   *effectqueue.Queue

	mu    sync.Mutex
	syncs map[string]*Synchronizer // one poll loop per code
}

// New builds a Client from cfg. Guest identities get no wallet and no
// chain submitter; they can only take the free-game paths.
func New(cfg *AppConfig, log slog.Logger) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("client must have logger")
	}

	var (
		wallet   *chain.Wallet
		identity Identity
		err      error
	)
	if cfg.PrivKeyHex != "" {
		wallet, err = chain.NewWallet(cfg.PrivKeyHex)
		if err != nil {
			return nil, err
		}
		identity = Identity{Address: wallet.Address()}
	} else {
		identity = Identity{Guest: cfg.GuestName}
	}

	hc := &http.Client{Timeout: 15 * time.Second}
	gateway, err := chain.NewGateway(chain.GatewayConfig{
		BaseURL:     cfg.ChainURL,
		Wallet:      wallet,
		Log:         log,
		HTTPClient:  hc,
		ConfirmWait: cfg.ConfirmTimeout,
	})
	if err != nil {
		return nil, err
	}
	be, err := backend.NewClient(backend.Config{
		BaseURL:    cfg.BackendURL,
		Log:        log,
		HTTPClient: hc,
	})
	if err != nil {
		return nil, err
	}
	queue, err := effectqueue.Open(cfg.EffectDBPath())
	if err != nil {
		return nil, err
	}

	return &Client{
		ID:       identity.Key(),
		Identity: identity,
		cfg:      cfg,
		log:      log,
		wallet:   wallet,
		Gateway:  gateway,
		Backend:  be,
		Push:     push.NewChannel(cfg.PushURL, log),
		Queue:    queue,
		syncs:    make(map[string]*Synchronizer),
	}, nil
}

// Run pumps the push channel until ctx ends.
func (c *Client) Run(ctx context.Context) error {
	return c.Push.Run(ctx)
}

// SyncGame returns the synchronizer for code, starting one if needed.
// Exactly one poll loop runs per code: a repeat call reuses the live
// loop, and asking for a new code supersedes nothing; each code gets
// its own synchronizer, torn down via StopSync or Close.
func (c *Client) SyncGame(ctx context.Context, code string) (*Synchronizer, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.syncs[code]; ok {
		return s, nil
	}
	s, err := NewSynchronizer(SyncConfig{
		Store:        c.Backend,
		Chain:        c.Gateway,
		Hints:        c.Push,
		Log:          c.log,
		Identity:     c.Identity,
		PollInterval: c.cfg.PollInterval,
	})
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx, code); err != nil {
		return nil, err
	}
	c.syncs[code] = s
	return s, nil
}

// StopSync tears down the poll loop for code, if any.
func (c *Client) StopSync(code string) {
	code = strings.ToUpper(strings.TrimSpace(code))
	c.mu.Lock()
	s := c.syncs[code]
	delete(c.syncs, code)
	c.mu.Unlock()
	if s != nil {
		s.Stop()
	}
}

// Orchestrator builds a two-phase orchestrator whose phase-1
// completions refresh s immediately. onCleanup, if non-nil, clears
// whatever selection state the UI tied to the intent.
func (c *Client) Orchestrator(s *Synchronizer, onCleanup func(*TransactionIntent)) (*Orchestrator, error) {
	return NewOrchestrator(OrchestratorConfig{
		Chain:     c.Gateway,
		Submitter: c.submitter(),
		Store:     c.Backend,
		Queue:     c.Queue,
		Refresher: s,
		Log:       c.log,
		Identity:  c.Identity,
		Spender:   c.cfg.BankContract,
		OnCleanup: onCleanup,
	})
}

// submitter returns nil for guests: there is no wallet to sign with,
// and the orchestrator's eligibility gates reject spend paths first.
func (c *Client) submitter() chain.Submitter {
	if c.wallet == nil {
		return nil
	}
	return c.Gateway
}

// Close stops all loops and the journal.
func (c *Client) Close() {
	c.mu.Lock()
	syncs := make([]*Synchronizer, 0, len(c.syncs))
	for _, s := range c.syncs {
		syncs = append(syncs, s)
	}
	c.syncs = make(map[string]*Synchronizer)
	c.mu.Unlock()
	for _, s := range syncs {
		s.Stop()
	}
	c.Push.Stop()
	if c.Queue != nil {
		_ = c.Queue.Close()
	}
}
