// Package push consumes the room-scoped change notifications the game
// server publishes over a websocket. Hints carry no payload worth
// trusting; they exist to shorten polling latency. Delivery is best
// effort with no ordering guarantee, and correctness never depends on
// a hint arriving.
package push

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/gorilla/websocket"

	"github.com/gregemax/tycoon"
)

// Event names the server emits.
const (
	EventGameUpdate   = "game-update"
	EventPlayerJoined = "player-joined"
)

// Hint is one change notification for a room.
type Hint struct {
	Room  string
	Event string
	At    time.Time
}

// frame is the wire shape of both directions: client control messages
// ({action, room}) and server hints ({room, event}).
type frame struct {
	Action string `json:"action,omitempty"`
	Room   string `json:"room,omitempty"`
	Event  string `json:"event,omitempty"`
}

// Channel maintains one websocket to the push endpoint and fans hints
// out to per-room subscribers. It keeps no per-room state beyond the
// subscriber set, and drops hints for slow receivers rather than
// blocking the read loop.
type Channel struct {
	url   string
	log   slog.Logger
	retry tycoon.Backoff

	mu   sync.RWMutex
	subs map[string]map[chan Hint]struct{} // room -> set(chan)
	conn *websocket.Conn

	// writeMu serializes conn writes: control frames come from caller
	// goroutines (Subscribe/unsubscribe) as well as the Run goroutine
	// (room re-join after reconnect), and the websocket allows at most
	// one concurrent writer.
	writeMu sync.Mutex

	quit chan struct{}
	once sync.Once
}

func NewChannel(url string, log slog.Logger) *Channel {
	return &Channel{
		url:   url,
		log:   log,
		retry: tycoon.Backoff{Base: time.Second, Max: 30 * time.Second},
		subs:  make(map[string]map[chan Hint]struct{}),
		quit:  make(chan struct{}),
	}
}

// Run dials the endpoint and pumps hints until ctx ends or Stop is
// called. Reconnects with backoff; on every (re)connect it re-joins
// the rooms that currently have subscribers.
func (c *Channel) Run(ctx context.Context) error {
	c.log.Infof("push: started")
	defer c.log.Infof("push: stopped")
	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.quit:
			return nil
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			delay := c.retry.Next(attempt)
			c.log.Debugf("push: dial failed (%v); retry in %s", err, delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.quit:
				return nil
			case <-time.After(delay):
			}
			continue
		}
		attempt = 0
		c.setConn(conn)
		c.rejoinRooms()
		c.readLoop(ctx, conn)
		c.setConn(nil)
		_ = conn.Close()
	}
}

// Stop ends Run and closes the socket.
func (c *Channel) Stop() {
	c.once.Do(func() { close(c.quit) })
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()
}

// Subscribe registers a listener for room hints and returns the hint
// channel plus an unsubscribe func. The channel is never closed by the
// Channel; receivers stop via their own context.
func (c *Channel) Subscribe(room string) (<-chan Hint, func()) {
	k := strings.ToUpper(strings.TrimSpace(room))
	ch := make(chan Hint, 8)

	c.mu.Lock()
	if _, ok := c.subs[k]; !ok {
		c.subs[k] = make(map[chan Hint]struct{})
	}
	c.subs[k][ch] = struct{}{}
	n := len(c.subs[k])
	conn := c.conn
	c.mu.Unlock()
	c.log.Debugf("push: subscribed room=%s (subs=%d)", k, n)

	if conn != nil && n == 1 {
		c.send(conn, frame{Action: "subscribe", Room: k})
	}

	unsub := func() {
		c.mu.Lock()
		var last bool
		if set, ok := c.subs[k]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(c.subs, k)
				last = true
			}
		}
		conn := c.conn
		c.mu.Unlock()
		c.log.Debugf("push: unsubscribed room=%s", k)
		if conn != nil && last {
			c.send(conn, frame{Action: "unsubscribe", Room: k})
		}
	}
	return ch, unsub
}

func (c *Channel) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Channel) rejoinRooms() {
	c.mu.RLock()
	rooms := make([]string, 0, len(c.subs))
	for k := range c.subs {
		rooms = append(rooms, k)
	}
	conn := c.conn
	c.mu.RUnlock()
	for _, room := range rooms {
		c.send(conn, frame{Action: "subscribe", Room: room})
	}
}

func (c *Channel) send(conn *websocket.Conn, f frame) {
	if conn == nil {
		return
	}
	c.writeMu.Lock()
	err := conn.WriteJSON(f)
	c.writeMu.Unlock()
	if err != nil {
		c.log.Debugf("push: write failed: %v", err)
	}
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.quit:
			return
		default:
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.log.Debugf("push: read failed: %v", err)
			return
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil || f.Room == "" || f.Event == "" {
			continue
		}
		c.broadcast(Hint{
			Room:  strings.ToUpper(f.Room),
			Event: f.Event,
			At:    time.Now(),
		})
	}
}

// broadcast snapshots the room's subscribers and sends non-blocking.
func (c *Channel) broadcast(h Hint) {
	c.mu.RLock()
	set := c.subs[h.Room]
	chs := make([]chan Hint, 0, len(set))
	for ch := range set {
		chs = append(chs, ch)
	}
	c.mu.RUnlock()

	for _, ch := range chs {
		select {
		case ch <- h:
		default:
			// Drop if receiver is slow.
		}
	}
}
