package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/decred/slog"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pushServer is a minimal websocket endpoint that records control
// frames and lets tests emit hints.
type pushServer struct {
	srv *httptest.Server

	mu     sync.Mutex
	conns  []*websocket.Conn
	frames []frame
}

func newPushServer(t *testing.T) *pushServer {
	t.Helper()
	ps := &pushServer{}
	up := websocket.Upgrader{}
	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ps.mu.Lock()
		ps.conns = append(ps.conns, conn)
		ps.mu.Unlock()
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			ps.mu.Lock()
			ps.frames = append(ps.frames, f)
			ps.mu.Unlock()
		}
	}))
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *pushServer) url() string {
	return "ws" + strings.TrimPrefix(ps.srv.URL, "http")
}

func (ps *pushServer) emit(t *testing.T, room, event string) {
	t.Helper()
	ps.mu.Lock()
	defer ps.mu.Unlock()
	require.NotEmpty(t, ps.conns, "no client connected")
	conn := ps.conns[len(ps.conns)-1]
	b, _ := json.Marshal(frame{Room: room, Event: event})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, b))
}

func (ps *pushServer) received() []frame {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := make([]frame, len(ps.frames))
	copy(out, ps.frames)
	return out
}

func (ps *pushServer) waitForFrames(t *testing.T, n int) []frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if got := ps.received(); len(got) >= n {
			return got
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d frames, have %d", n, len(ps.received()))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func startChannel(t *testing.T, ps *pushServer) *Channel {
	t.Helper()
	c := NewChannel(ps.url(), slog.Disabled)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		c.Stop()
		<-done
	})
	return c
}

func TestSubscribeSendsJoinFrame(t *testing.T) {
	ps := newPushServer(t)
	c := startChannel(t, ps)

	hints, unsub := c.Subscribe("abcdef")
	defer unsub()
	_ = hints

	frames := ps.waitForFrames(t, 1)
	assert.Equal(t, "subscribe", frames[0].Action)
	assert.Equal(t, "ABCDEF", frames[0].Room)
}

func TestHintDelivery(t *testing.T) {
	ps := newPushServer(t)
	c := startChannel(t, ps)

	hints, unsub := c.Subscribe("ABCDEF")
	defer unsub()
	ps.waitForFrames(t, 1)

	ps.emit(t, "abcdef", EventGameUpdate)

	select {
	case h := <-hints:
		assert.Equal(t, "ABCDEF", h.Room)
		assert.Equal(t, EventGameUpdate, h.Event)
		assert.WithinDuration(t, time.Now(), h.At, 5*time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("no hint delivered")
	}
}

func TestHintsAreRoomScoped(t *testing.T) {
	ps := newPushServer(t)
	c := startChannel(t, ps)

	hints, unsub := c.Subscribe("AAAAAA")
	defer unsub()
	ps.waitForFrames(t, 1)

	ps.emit(t, "BBBBBB", EventGameUpdate)
	ps.emit(t, "AAAAAA", EventPlayerJoined)

	h := <-hints
	assert.Equal(t, "AAAAAA", h.Room)
	assert.Equal(t, EventPlayerJoined, h.Event)
	select {
	case extra := <-hints:
		t.Fatalf("unexpected extra hint %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowReceiverDoesNotBlock(t *testing.T) {
	ps := newPushServer(t)
	c := startChannel(t, ps)

	// Never read from this subscription; its buffer fills and further
	// hints drop.
	_, unsub := c.Subscribe("ABCDEF")
	defer unsub()
	ps.waitForFrames(t, 1)

	for i := 0; i < 50; i++ {
		ps.emit(t, "ABCDEF", EventGameUpdate)
	}

	// The read loop must still be alive: a fresh subscriber in another
	// room gets its hint.
	other, unsub2 := c.Subscribe("OTHER1")
	defer unsub2()
	ps.waitForFrames(t, 2)
	ps.emit(t, "OTHER1", EventGameUpdate)

	select {
	case h := <-other:
		assert.Equal(t, "OTHER1", h.Room)
	case <-time.After(2 * time.Second):
		t.Fatal("read loop wedged by slow receiver")
	}
}

func TestUnsubscribeSendsLeaveFrame(t *testing.T) {
	ps := newPushServer(t)
	c := startChannel(t, ps)

	_, unsub := c.Subscribe("ABCDEF")
	ps.waitForFrames(t, 1)
	unsub()

	frames := ps.waitForFrames(t, 2)
	last := frames[len(frames)-1]
	assert.Equal(t, "unsubscribe", last.Action)
	assert.Equal(t, "ABCDEF", last.Room)
}

func TestConcurrentControlFrames(t *testing.T) {
	ps := newPushServer(t)
	c := startChannel(t, ps)

	// Anchor one subscription so the connection is live.
	_, unsub0 := c.Subscribe("ROOM00")
	defer unsub0()
	ps.waitForFrames(t, 1)

	// Subscribe and unsubscribe many rooms from parallel goroutines;
	// every control frame rides the same connection, so unserialized
	// writes would corrupt frames or panic the writer.
	const rooms = 20
	var wg sync.WaitGroup
	for i := 0; i < rooms; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, unsub := c.Subscribe(fmt.Sprintf("ROOM%02d", i+1))
			unsub()
		}(i)
	}
	wg.Wait()

	// One subscribe plus one unsubscribe per room, all intact.
	frames := ps.waitForFrames(t, 1+2*rooms)
	bySuffix := make(map[string]int)
	for _, f := range frames {
		assert.Contains(t, []string{"subscribe", "unsubscribe"}, f.Action)
		bySuffix[f.Action]++
	}
	assert.Equal(t, 1+rooms, bySuffix["subscribe"])
	assert.Equal(t, rooms, bySuffix["unsubscribe"])
}

func TestReconnectRejoinsRooms(t *testing.T) {
	ps := newPushServer(t)
	c := startChannel(t, ps)

	hints, unsub := c.Subscribe("ABCDEF")
	defer unsub()
	ps.waitForFrames(t, 1)

	// Kill the server side of the socket; the channel reconnects and
	// re-subscribes without the caller doing anything.
	ps.mu.Lock()
	require.NoError(t, ps.conns[0].Close())
	ps.mu.Unlock()

	frames := ps.waitForFrames(t, 2)
	resub := frames[len(frames)-1]
	assert.Equal(t, "subscribe", resub.Action)
	assert.Equal(t, "ABCDEF", resub.Room)

	ps.emit(t, "ABCDEF", EventGameUpdate)
	select {
	case <-hints:
	case <-time.After(2 * time.Second):
		t.Fatal("no hint after reconnect")
	}
}
