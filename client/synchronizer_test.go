package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/decred/slog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregemax/tycoon"
	"github.com/gregemax/tycoon/backend"
	"github.com/gregemax/tycoon/chain"
	"github.com/gregemax/tycoon/push"
)

// fakeStore scripts GameByCode responses per call and records
// PromoteGame writes.
type fakeStore struct {
	mu       sync.Mutex
	respond  func(call int) (*backend.GameRecord, error)
	calls    int
	inflight int
	maxInfl  int
	gate     chan struct{} // when non-nil, GameByCode blocks on it
	promotes []int64
}

func (f *fakeStore) GameByCode(ctx context.Context, code string) (*backend.GameRecord, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.inflight++
	if f.inflight > f.maxInfl {
		f.maxInfl = f.inflight
	}
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	f.inflight--
	f.mu.Unlock()
	return f.respond(call)
}

func (f *fakeStore) PromoteGame(ctx context.Context, gameID int64, status tycoon.GameStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.promotes = append(f.promotes, gameID)
	return nil
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeStore) promoteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.promotes)
}

type fakeReader struct {
	mu      sync.Mutex
	respond func(call int) (*chain.GameOnChain, error)
	calls   int
}

func (f *fakeReader) Game(ctx context.Context, code string) (*chain.GameOnChain, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.respond(call)
}

func (f *fakeReader) AllowanceOf(ctx context.Context, owner, spender string) (*chain.Allowance, error) {
	return &chain.Allowance{Owner: owner, Spender: spender}, nil
}

type fakeHints struct {
	ch chan push.Hint
}

func (f *fakeHints) Subscribe(room string) (<-chan push.Hint, func()) {
	return f.ch, func() {}
}

func pendingRec(nseats int, players ...backend.PlayerRecord) *backend.GameRecord {
	return &backend.GameRecord{
		ID: 17, Code: "ABCDEF", Status: "PENDING",
		NumberOfPlayers: nseats, Players: players,
	}
}

func statusRec(status string) *backend.GameRecord {
	return &backend.GameRecord{ID: 17, Code: "ABCDEF", Status: status, NumberOfPlayers: 2}
}

func newTestSync(t *testing.T, cfg SyncConfig) *Synchronizer {
	t.Helper()
	if cfg.Log == nil {
		cfg.Log = slog.Disabled
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.Retry.Base == 0 {
		cfg.Retry = tycoon.Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond, Attempts: 3}
	}
	s, err := NewSynchronizer(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s
}

func waitUpdate(t *testing.T, s *Synchronizer) Update {
	t.Helper()
	select {
	case u := <-s.Updates():
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("no update delivered")
		return nil
	}
}

func expectNoUpdate(t *testing.T, s *Synchronizer, d time.Duration) {
	t.Helper()
	select {
	case u := <-s.Updates():
		t.Fatalf("unexpected update %#v", u)
	case <-time.After(d):
	}
}

func TestStartRejectsEmptyCode(t *testing.T) {
	store := &fakeStore{respond: func(int) (*backend.GameRecord, error) { return pendingRec(2), nil }}
	s := newTestSync(t, SyncConfig{Store: store})

	err := s.Start(context.Background(), "   ")
	assert.ErrorIs(t, err, tycoon.ErrEmptyCode)
	// Fail-fast means no fetch was ever attempted.
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, store.callCount())
}

func TestStartBindsOneCode(t *testing.T) {
	store := &fakeStore{respond: func(int) (*backend.GameRecord, error) { return pendingRec(2), nil }}
	s := newTestSync(t, SyncConfig{Store: store, PollInterval: time.Hour})

	require.NoError(t, s.Start(context.Background(), "abcdef"))
	assert.Equal(t, "ABCDEF", s.Code())

	// Same code again is a no-op, a different code is refused.
	assert.NoError(t, s.Start(context.Background(), "ABCDEF"))
	assert.Error(t, s.Start(context.Background(), "OTHER1"))
}

func TestFirstFetchReplacesView(t *testing.T) {
	store := &fakeStore{respond: func(int) (*backend.GameRecord, error) {
		return pendingRec(2, backend.PlayerRecord{ID: 1, Username: "alice", Symbol: "hat"}), nil
	}}
	s := newTestSync(t, SyncConfig{Store: store, PollInterval: time.Hour})
	require.NoError(t, s.Start(context.Background(), "ABCDEF"))

	u := waitUpdate(t, s)
	vr, ok := u.(ViewReplaced)
	require.True(t, ok, "want ViewReplaced, got %#v", u)
	assert.Equal(t, tycoon.StatusPending, vr.View.Status)
	require.Len(t, vr.View.Players, 1)
	assert.Equal(t, vr.View, s.View())
}

func TestUnknownCodeIsTerminal(t *testing.T) {
	store := &fakeStore{respond: func(int) (*backend.GameRecord, error) {
		return nil, tycoon.ErrNotFound
	}}
	s := newTestSync(t, SyncConfig{Store: store, PollInterval: 5 * time.Millisecond})
	require.NoError(t, s.Start(context.Background(), "ABCDEF"))

	u := waitUpdate(t, s)
	sf, ok := u.(SyncFailed)
	require.True(t, ok, "want SyncFailed, got %#v", u)
	assert.ErrorIs(t, sf.Err, tycoon.ErrNotFound)

	// The loop quiesced: no more fetches, no more events.
	n := store.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, store.callCount())
	expectNoUpdate(t, s, 30*time.Millisecond)
}

func TestTransientFailuresSurfaceAfterLimit(t *testing.T) {
	store := &fakeStore{respond: func(int) (*backend.GameRecord, error) {
		return nil, tycoon.ErrUnavailable
	}}
	s := newTestSync(t, SyncConfig{
		Store:        store,
		PollInterval: 5 * time.Millisecond,
		FailureLimit: 2,
		Retry:        tycoon.Backoff{Base: time.Millisecond, Max: 2 * time.Millisecond, Attempts: 10},
	})
	require.NoError(t, s.Start(context.Background(), "ABCDEF"))

	u := waitUpdate(t, s)
	sf, ok := u.(SyncFailed)
	require.True(t, ok, "want SyncFailed, got %#v", u)
	assert.ErrorIs(t, sf.Err, tycoon.ErrUnavailable)

	// Not terminal: polling keeps going after the report.
	n := store.callCount()
	require.Eventually(t, func() bool { return store.callCount() > n },
		time.Second, 5*time.Millisecond)
}

func TestRunningRedirectsOnce(t *testing.T) {
	store := &fakeStore{respond: func(int) (*backend.GameRecord, error) {
		return statusRec("RUNNING"), nil
	}}
	s := newTestSync(t, SyncConfig{Store: store, PollInterval: 5 * time.Millisecond})
	require.NoError(t, s.Start(context.Background(), "ABCDEF"))

	u := waitUpdate(t, s)
	rd, ok := u.(Redirected)
	require.True(t, ok, "want Redirected, got %#v", u)
	assert.Equal(t, tycoon.StatusRunning, rd.View.Status)

	// One-shot: polling stops with the redirect.
	n := store.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, store.callCount())
	expectNoUpdate(t, s, 30*time.Millisecond)
}

func TestStatusNeverRegresses(t *testing.T) {
	store := &fakeStore{respond: func(call int) (*backend.GameRecord, error) {
		if call == 1 {
			return statusRec("FINISHED"), nil
		}
		// A lagging replica answering with the lobby state.
		return statusRec("PENDING"), nil
	}}
	s := newTestSync(t, SyncConfig{Store: store, PollInterval: 5 * time.Millisecond})
	require.NoError(t, s.Start(context.Background(), "ABCDEF"))

	u := waitUpdate(t, s)
	vr, ok := u.(ViewReplaced)
	require.True(t, ok)
	assert.Equal(t, tycoon.StatusFinished, vr.View.Status)

	// Stale reads are discarded wholesale: the view stays FINISHED and
	// no update announces the regression.
	require.Eventually(t, func() bool { return store.callCount() >= 3 },
		time.Second, 5*time.Millisecond)
	expectNoUpdate(t, s, 30*time.Millisecond)
	assert.Equal(t, tycoon.StatusFinished, s.View().Status)
}

func TestFullPendingLobbyPromotesOnce(t *testing.T) {
	full := pendingRec(2,
		backend.PlayerRecord{ID: 1, Username: "alice", Symbol: "hat"},
		backend.PlayerRecord{ID: 2, Username: "bob", Symbol: "car"},
	)
	store := &fakeStore{respond: func(int) (*backend.GameRecord, error) { return full, nil }}
	s := newTestSync(t, SyncConfig{Store: store, PollInterval: 5 * time.Millisecond})
	require.NoError(t, s.Start(context.Background(), "ABCDEF"))

	u := waitUpdate(t, s)
	_, ok := u.(ViewReplaced)
	require.True(t, ok, "want ViewReplaced, got %#v", u)

	// Even with the backend stuck on PENDING, exactly one corrective
	// write goes out.
	require.Eventually(t, func() bool { return store.promoteCount() == 1 },
		time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, store.promoteCount())
	assert.Equal(t, int64(17), store.promotes[0])
}

func TestSingleFetchInFlight(t *testing.T) {
	gate := make(chan struct{})
	store := &fakeStore{
		gate:    gate,
		respond: func(int) (*backend.GameRecord, error) { return pendingRec(2), nil },
	}
	s := newTestSync(t, SyncConfig{Store: store, PollInterval: time.Hour})
	require.NoError(t, s.Start(context.Background(), "ABCDEF"))

	// Hammer RefreshNow while the first fetch is stuck; every request
	// must coalesce into the in-flight one plus a single follow-up.
	for i := 0; i < 10; i++ {
		s.RefreshNow()
	}
	close(gate)

	require.Eventually(t, func() bool { return store.callCount() == 2 },
		time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, store.callCount())
	store.mu.Lock()
	assert.Equal(t, 1, store.maxInfl)
	store.mu.Unlock()
}

func TestLateFetchCompletionDiscarded(t *testing.T) {
	store := &fakeStore{respond: func(int) (*backend.GameRecord, error) { return pendingRec(4), nil }}
	s := newTestSync(t, SyncConfig{Store: store, PollInterval: time.Hour})

	// Arrange the loop state directly, then feed apply two completions
	// out of order: the fetch that started first (sequence 1) finishes
	// after the one that started second (sequence 2).
	ctx := context.Background()
	s.mu.Lock()
	s.state = syncPolling
	s.code = "ABCDEF"
	s.ctx = ctx
	s.mu.Unlock()

	newer := pendingRec(4,
		backend.PlayerRecord{ID: 1, Username: "alice", Symbol: "hat"},
		backend.PlayerRecord{ID: 2, Username: "bob", Symbol: "car"},
	)
	older := pendingRec(4,
		backend.PlayerRecord{ID: 1, Username: "alice", Symbol: "hat"},
	)

	s.apply(ctx, 2, newer, nil, nil)
	u := waitUpdate(t, s)
	vr, ok := u.(ViewReplaced)
	require.True(t, ok, "want ViewReplaced, got %#v", u)
	require.Len(t, vr.View.Players, 2)

	// The slow completion carries an older snapshot; it must neither
	// replace the view nor emit.
	s.apply(ctx, 1, older, nil, nil)
	expectNoUpdate(t, s, 30*time.Millisecond)
	require.Len(t, s.View().Players, 2)

	// Ordering is by sequence, not content: a later fetch may
	// legitimately shrink the roster.
	s.apply(ctx, 3, older, nil, nil)
	u = waitUpdate(t, s)
	vr, ok = u.(ViewReplaced)
	require.True(t, ok, "want ViewReplaced, got %#v", u)
	assert.Len(t, vr.View.Players, 1)
}

func TestPushHintTriggersRefresh(t *testing.T) {
	store := &fakeStore{respond: func(int) (*backend.GameRecord, error) { return pendingRec(2), nil }}
	hints := &fakeHints{ch: make(chan push.Hint, 1)}
	s := newTestSync(t, SyncConfig{Store: store, Hints: hints, PollInterval: time.Hour})
	require.NoError(t, s.Start(context.Background(), "ABCDEF"))

	require.Eventually(t, func() bool { return store.callCount() == 1 },
		time.Second, 5*time.Millisecond)

	hints.ch <- push.Hint{Room: "ABCDEF", Event: push.EventGameUpdate, At: time.Now()}
	require.Eventually(t, func() bool { return store.callCount() == 2 },
		time.Second, 5*time.Millisecond)
}

func TestChainFieldsCarryForward(t *testing.T) {
	store := &fakeStore{respond: func(int) (*backend.GameRecord, error) { return pendingRec(2), nil }}
	reader := &fakeReader{respond: func(call int) (*chain.GameOnChain, error) {
		if call == 1 {
			return &chain.GameOnChain{
				Code: "ABCDEF", Status: tycoon.StatusPending,
				StakePerPlayer: 5000, Capacity: 2, Creator: "0xcccc",
			}, nil
		}
		// Gateway lost its index; previous chain fields must survive.
		return nil, tycoon.ErrNotIndexed
	}}
	s := newTestSync(t, SyncConfig{Store: store, Chain: reader, PollInterval: time.Hour})
	require.NoError(t, s.Start(context.Background(), "ABCDEF"))

	u := waitUpdate(t, s)
	vr := u.(ViewReplaced)
	assert.Equal(t, uint64(5000), vr.View.StakePerPlayer)

	s.RefreshNow()
	u = waitUpdate(t, s)
	vr = u.(ViewReplaced)
	assert.Equal(t, uint64(5000), vr.View.StakePerPlayer)
	assert.Equal(t, "0xcccc", vr.View.Creator)
}

func TestVisibilityDefersTicks(t *testing.T) {
	store := &fakeStore{respond: func(int) (*backend.GameRecord, error) { return pendingRec(2), nil }}
	s := newTestSync(t, SyncConfig{Store: store, PollInterval: 5 * time.Millisecond})
	require.NoError(t, s.Start(context.Background(), "ABCDEF"))

	require.Eventually(t, func() bool { return store.callCount() >= 1 },
		time.Second, 5*time.Millisecond)
	s.SetVisible(false)
	time.Sleep(30 * time.Millisecond)
	n := store.callCount()
	time.Sleep(50 * time.Millisecond)
	// Backgrounded: ticks are checked but deferred, no fetch runs.
	assert.Equal(t, n, store.callCount())

	// Foregrounding runs the deferred tick promptly.
	s.SetVisible(true)
	require.Eventually(t, func() bool { return store.callCount() > n },
		time.Second, 5*time.Millisecond)
}

func TestStopSilencesEvents(t *testing.T) {
	store := &fakeStore{respond: func(int) (*backend.GameRecord, error) { return pendingRec(2), nil }}
	s := newTestSync(t, SyncConfig{Store: store, PollInterval: 5 * time.Millisecond})
	require.NoError(t, s.Start(context.Background(), "ABCDEF"))

	waitUpdate(t, s)
	s.Stop()
	// Drain anything emitted before Stop returned, then expect silence.
	for {
		select {
		case <-s.Updates():
			continue
		case <-time.After(50 * time.Millisecond):
		}
		break
	}
	expectNoUpdate(t, s, 50*time.Millisecond)
}
