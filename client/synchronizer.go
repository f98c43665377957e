package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/decred/slog"

	"github.com/gregemax/tycoon"
	"github.com/gregemax/tycoon/backend"
	"github.com/gregemax/tycoon/chain"
	"github.com/gregemax/tycoon/push"
)

// GameStore is the slice of the backend surface the synchronizer
// needs.
type GameStore interface {
	GameByCode(ctx context.Context, code string) (*backend.GameRecord, error)
	PromoteGame(ctx context.Context, gameID int64, status tycoon.GameStatus) error
}

// HintSource delivers room-scoped change hints. Hints only shorten
// polling latency; the loop is correct without them.
type HintSource interface {
	Subscribe(room string) (<-chan push.Hint, func())
}

// Updates delivered by a Synchronizer.
type (
	// ViewReplaced carries a wholesale GameView replacement.
	ViewReplaced struct{ View *GameView }
	// Redirected fires once when the game reaches RUNNING; the lobby
	// view is done and polling has stopped.
	Redirected struct{ View *GameView }
	// SyncFailed reports a terminal fetch error (unknown code) or an
	// exhausted retry budget.
	SyncFailed struct{ Err error }
)

// Update is one of ViewReplaced, Redirected or SyncFailed.
type Update any

const defaultPollInterval = 2 * time.Second

// SyncConfig configures a Synchronizer.
type SyncConfig struct {
	Store    GameStore
	Chain    chain.Reader // optional cross-check of stake/creator/capacity
	Hints    HintSource   // optional push channel
	Log      slog.Logger
	Identity Identity

	// PollInterval defaults to 2s.
	PollInterval time.Duration
	// FailureLimit is the number of consecutive transient fetch
	// failures swallowed before a SyncFailed event is emitted. Polling
	// continues either way. Defaults to DefaultBackoff.Attempts.
	FailureLimit int
	// Retry shapes the delay between fetch attempts after transient
	// failures. Zero value means tycoon.DefaultBackoff.
	Retry tycoon.Backoff
}

type syncState int

const (
	syncIdle syncState = iota
	syncPolling
	syncRedirected
	syncErrored
)

// Synchronizer maintains the merged GameView for one game code by
// polling the backend on a fixed tick, refreshing early on push hints
// and post-transaction hooks, and emitting view transitions. One
// Synchronizer serves one code; Start binds it.
type Synchronizer struct {
	cfg      SyncConfig
	log      slog.Logger
	interval time.Duration
	retry    tycoon.Backoff
	failLim  int

	mu       sync.Mutex
	state    syncState
	stopped  bool
	code     string
	ctx      context.Context
	view     *GameView
	seq      uint64 // next fetch sequence number
	applied  uint64 // highest sequence applied
	inflight bool
	pending  bool // refresh requested while a fetch was in flight
	visible  bool
	deferred bool // a tick fired while backgrounded
	promoted bool // the single corrective promote was issued
	failures int
	holdOff  time.Time // transient-failure backoff gate for ticks

	updates  chan Update
	quit     chan struct{}
	stopOnce sync.Once
	unsub    func()
	hints    <-chan push.Hint
}

func NewSynchronizer(cfg SyncConfig) (*Synchronizer, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("synchronizer needs a game store")
	}
	if cfg.Log == nil {
		return nil, fmt.Errorf("synchronizer must have logger")
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	retry := cfg.Retry
	if retry.Base == 0 {
		retry = tycoon.DefaultBackoff
	}
	failLim := cfg.FailureLimit
	if failLim <= 0 {
		failLim = retry.Attempts
	}
	return &Synchronizer{
		cfg:      cfg,
		log:      cfg.Log,
		interval: interval,
		retry:    retry,
		failLim:  failLim,
		visible:  true,
		updates:  make(chan Update, 32),
		quit:     make(chan struct{}),
	}, nil
}

// Updates returns the event stream. Events stop after Stop or after a
// terminal transition; the channel is never closed.
func (s *Synchronizer) Updates() <-chan Update { return s.updates }

// View returns the last applied view, nil before the first fetch.
func (s *Synchronizer) View() *GameView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Code returns the bound game code, empty before Start.
func (s *Synchronizer) Code() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

// Start binds the synchronizer to code and begins the poll loop. An
// empty code fails fast: it is a configuration error, not something to
// retry. Calling Start again with the same code is a no-op; a
// different code is rejected (callers supersede by building a new
// Synchronizer, so one code never runs two timers).
func (s *Synchronizer) Start(ctx context.Context, code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return tycoon.ErrEmptyCode
	}

	s.mu.Lock()
	switch {
	case s.stopped:
		s.mu.Unlock()
		return fmt.Errorf("synchronizer already stopped")
	case s.state != syncIdle && s.code == code:
		s.mu.Unlock()
		return nil
	case s.state != syncIdle:
		s.mu.Unlock()
		return fmt.Errorf("synchronizer already bound to %s", s.code)
	}
	s.state = syncPolling
	s.code = code
	s.ctx = ctx
	if s.cfg.Hints != nil {
		s.hints, s.unsub = s.cfg.Hints.Subscribe(code)
	}
	s.mu.Unlock()

	s.log.Infof("sync: started code=%s interval=%s", code, s.interval)
	go s.run(ctx)
	s.kickFetch(false)
	return nil
}

// RefreshNow forces an out-of-band fetch: the push-notification and
// post-transaction hook. Idempotent with an in-flight fetch: a second
// caller joins it instead of issuing a duplicate.
func (s *Synchronizer) RefreshNow() { s.kickFetch(true) }

// SetVisible tells the loop whether the hosting surface is visible.
// Backgrounded, ticks are deferred (checked, not skipped); on
// foreground a deferred tick runs promptly.
func (s *Synchronizer) SetVisible(v bool) {
	s.mu.Lock()
	wake := v && !s.visible && s.deferred
	s.visible = v
	s.deferred = false
	s.mu.Unlock()
	if wake {
		s.kickFetch(true)
	}
}

// Stop tears the loop down: timer cancelled, push unsubscribed, and no
// events fire after it returns. A fetch already in flight completes
// but its result is discarded.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	s.stopped = true
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.quit) })
	if unsub != nil {
		unsub()
	}
	s.log.Infof("sync: stopped code=%s", s.Code())
}

// quiesce ends the poll loop without marking the synchronizer stopped,
// for terminal transitions that still want their final event out.
func (s *Synchronizer) quiesce() {
	s.stopOnce.Do(func() { close(s.quit) })
	s.mu.Lock()
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (s *Synchronizer) run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		case <-t.C:
			s.mu.Lock()
			if !s.visible {
				s.deferred = true
				s.mu.Unlock()
				continue
			}
			if time.Now().Before(s.holdOff) {
				s.mu.Unlock()
				continue
			}
			s.mu.Unlock()
			s.kickFetch(false)
		case _, ok := <-s.hintsCh():
			if !ok {
				continue
			}
			s.log.Debugf("sync: push hint for %s; refreshing", s.Code())
			s.kickFetch(true)
		}
	}
}

// hintsCh returns the hint channel or a nil channel (blocks forever)
// when push is not wired.
func (s *Synchronizer) hintsCh() <-chan push.Hint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hints
}

// kickFetch starts a fetch unless one is already in flight, in which
// case the request coalesces into it (forced requests schedule one
// follow-up so they never observe a pre-request snapshot only).
func (s *Synchronizer) kickFetch(forced bool) {
	s.mu.Lock()
	if s.stopped || s.state != syncPolling || s.ctx == nil {
		s.mu.Unlock()
		return
	}
	if s.inflight {
		if forced {
			s.pending = true
		}
		s.mu.Unlock()
		return
	}
	s.inflight = true
	s.seq++
	seq := s.seq
	ctx := s.ctx
	code := s.code
	s.mu.Unlock()

	go s.fetch(ctx, code, seq)
}

func (s *Synchronizer) fetch(ctx context.Context, code string, seq uint64) {
	rec, err := s.cfg.Store.GameByCode(ctx, code)

	var onchain *chain.GameOnChain
	if err == nil && s.cfg.Chain != nil {
		oc, cerr := s.cfg.Chain.Game(ctx, code)
		switch {
		case cerr == nil:
			onchain = oc
		case errors.Is(cerr, tycoon.ErrNotIndexed):
			// Chain lags backend creation; previous chain fields carry
			// forward.
			s.log.Debugf("sync: chain not indexed for %s yet", code)
		default:
			s.log.Debugf("sync: chain read for %s failed: %v", code, cerr)
		}
	}

	s.apply(ctx, seq, rec, onchain, err)
}

// apply is the single writer of view state. Results are last-write-wins
// by completion order: anything at or below the applied sequence is a
// stale fetch and gets discarded.
func (s *Synchronizer) apply(ctx context.Context, seq uint64, rec *backend.GameRecord, onchain *chain.GameOnChain, err error) {
	var (
		promote   *GameView
		refetch   bool
		replaced  *GameView
		redirect  *GameView
		terminal  error
		exhausted error
	)

	s.mu.Lock()
	if s.stopped || s.state != syncPolling {
		s.mu.Unlock()
		return
	}
	if seq <= s.applied {
		s.log.Debugf("sync: discarding stale fetch seq=%d applied=%d", seq, s.applied)
		s.mu.Unlock()
		return
	}
	s.applied = seq
	s.inflight = false
	if s.pending {
		s.pending = false
		refetch = true
	}

	switch {
	case err != nil && errors.Is(err, tycoon.ErrNotFound):
		s.state = syncErrored
		terminal = err
	case err != nil:
		// Transient: swallowed into a retry on a later tick. The user
		// sees nothing for a single missed poll.
		s.failures++
		s.holdOff = time.Now().Add(s.retry.Next(s.failures - 1))
		s.log.Debugf("sync: fetch %s failed (%d consecutive): %v", s.code, s.failures, err)
		if s.retry.Exhausted(s.failures) || s.failures >= s.failLim {
			exhausted = err
			s.failures = 0
		}
	default:
		s.failures = 0
		s.holdOff = time.Time{}
		v, buildErr := buildView(rec, onchain)
		if buildErr != nil {
			s.log.Warnf("sync: %v", buildErr)
			s.failures++
			break
		}
		if onchain == nil && s.view != nil {
			v.StakePerPlayer = s.view.StakePerPlayer
			v.JoinedOnChain = s.view.JoinedOnChain
			v.Creator = s.view.Creator
		}
		if s.view != nil && tycoon.Regresses(s.view.Status, v.Status) {
			s.log.Warnf("sync: stale read for %s (%s after %s); discarding",
				s.code, v.Status, s.view.Status)
			break
		}
		s.view = v
		switch {
		case v.Status == tycoon.StatusRunning:
			s.state = syncRedirected
			redirect = v
		case v.Status == tycoon.StatusPending && v.IsFull() && !s.promoted:
			// Backend missed its own promotion: the lobby filled but
			// stayed PENDING. Issue the one corrective write and
			// refetch instead of looping silently.
			s.promoted = true
			replaced = v
			promote = v
		default:
			replaced = v
		}
	}
	s.mu.Unlock()

	if replaced != nil {
		s.emit(ViewReplaced{View: replaced})
	}
	if redirect != nil {
		s.emit(Redirected{View: redirect})
		s.log.Infof("sync: %s is running; redirecting", redirect.Code)
		s.quiesce()
		return
	}
	if terminal != nil {
		s.emit(SyncFailed{Err: terminal})
		s.quiesce()
		return
	}
	if exhausted != nil {
		s.emit(SyncFailed{Err: fmt.Errorf("%d consecutive fetch failures: %w", s.failLim, exhausted)})
	}
	if promote != nil {
		s.log.Infof("sync: %s is full but still pending; promoting", promote.Code)
		if perr := s.cfg.Store.PromoteGame(ctx, promote.BackendID, tycoon.StatusRunning); perr != nil {
			s.log.Warnf("sync: promote %s failed: %v", promote.Code, perr)
		}
		refetch = true
	}
	if refetch {
		s.kickFetch(false)
	}
}

// emit delivers an event unless the synchronizer was stopped. Slow
// receivers lose events rather than blocking the loop.
func (s *Synchronizer) emit(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	select {
	case s.updates <- u:
	default:
		s.log.Warnf("sync: dropping update for %s (slow receiver)", s.code)
	}
}
