// Package streamtest provides in-memory sockets, a dialer and a manual
// clock for exercising stream links without a network.
package streamtest

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"livetape/internal/stream"
)

var (
	// ErrClosed is returned by reads on a closed FakeConn.
	ErrClosed = errors.New("fake conn closed")
	// ErrDeadline is returned by a read still waiting when the read
	// deadline passes.
	ErrDeadline = errors.New("fake conn read deadline exceeded")
)

// FakeConn is a socket whose inbound frames are pushed by the test.
type FakeConn struct {
	Venue string
	URL   string

	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	// rearm wakes a blocked read when the deadline moves
	rearm chan struct{}

	mu       sync.Mutex
	writes   [][]byte
	pings    int
	closes   int
	writeErr error
	deadline time.Time
	onPong   func(string) error
}

func NewFakeConn(venue, url string) *FakeConn {
	return &FakeConn{
		Venue:  venue,
		URL:    url,
		in:     make(chan []byte, 64),
		closed: make(chan struct{}),
		rearm:  make(chan struct{}, 1),
	}
}

// ReadMessage blocks until a frame is pushed, the conn is closed or the
// read deadline passes.
func (c *FakeConn) ReadMessage() (int, []byte, error) {
	for {
		c.mu.Lock()
		deadline := c.deadline
		c.mu.Unlock()
		if msg, err, done := c.readUntil(deadline); done {
			if err != nil {
				return 0, nil, err
			}
			return websocket.TextMessage, msg, nil
		}
	}
}

// readUntil waits for one frame under deadline. done is false when the
// deadline moved while waiting.
func (c *FakeConn) readUntil(deadline time.Time) (msg []byte, err error, done bool) {
	var expired <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case msg := <-c.in:
		return msg, nil, true
	case <-c.closed:
		return nil, ErrClosed, true
	case <-expired:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.deadline.Equal(deadline) {
			return nil, ErrDeadline, true
		}
		return nil, nil, false
	case <-c.rearm:
		return nil, nil, false
	}
}

func (c *FakeConn) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.TextMessage, data)
}

func (c *FakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

// WriteControl counts pings. It fails like WriteMessage.
func (c *FakeConn) WriteControl(messageType int, _ []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	if messageType == websocket.PingMessage {
		c.pings++
	}
	return nil
}

// SetReadDeadline arms the deadline checked by ReadMessage. The zero time
// disarms it.
func (c *FakeConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	select {
	case c.rearm <- struct{}{}:
	default:
	}
	return nil
}

func (c *FakeConn) SetPongHandler(h func(string) error) {
	c.mu.Lock()
	c.onPong = h
	c.mu.Unlock()
}

// Pong delivers a pong to the installed handler, as the peer answering a
// ping would.
func (c *FakeConn) Pong() error {
	c.mu.Lock()
	h := c.onPong
	c.mu.Unlock()
	if h == nil {
		return nil
	}
	return h("")
}

// Pings counts websocket control pings written so far.
func (c *FakeConn) Pings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

// Close may be called by the link or by the test to simulate a remote drop.
func (c *FakeConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Push queues an inbound frame. It reports false once the conn is closed.
func (c *FakeConn) Push(msg string) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.in <- []byte(msg):
		return true
	case <-c.closed:
		return false
	}
}

// FailWrites makes subsequent writes return err.
func (c *FakeConn) FailWrites(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

func (c *FakeConn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Writes returns every frame written so far.
func (c *FakeConn) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// FakeDialer hands out FakeConns and records them per venue.
type FakeDialer struct {
	mu        sync.Mutex
	conns     map[string][]*FakeConn
	fail      map[string]error
	writeFail map[string]error
}

func NewFakeDialer() *FakeDialer {
	return &FakeDialer{
		conns:     make(map[string][]*FakeConn),
		fail:      make(map[string]error),
		writeFail: make(map[string]error),
	}
}

func (d *FakeDialer) Dial(ctx context.Context, venue, url string) (stream.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail[venue]; err != nil {
		d.conns[venue] = append(d.conns[venue], nil)
		return nil, err
	}
	c := NewFakeConn(venue, url)
	c.writeErr = d.writeFail[venue]
	d.conns[venue] = append(d.conns[venue], c)
	return c, nil
}

// FailVenue makes dials for venue fail with err until cleared with nil.
func (d *FakeDialer) FailVenue(venue string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.fail, venue)
		return
	}
	d.fail[venue] = err
}

// FailWrites makes conns dialed for venue from now on reject writes.
func (d *FakeDialer) FailWrites(venue string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.writeFail, venue)
		return
	}
	d.writeFail[venue] = err
}

// Dials counts attempts for venue, failed ones included.
func (d *FakeDialer) Dials(venue string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns[venue])
}

// Latest returns the newest successful conn for venue.
func (d *FakeDialer) Latest(venue string) *FakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.conns[venue]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i] != nil {
			return list[i]
		}
	}
	return nil
}

// Conns returns every successful conn for venue in dial order.
func (d *FakeDialer) Conns(venue string) []*FakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*FakeConn
	for _, c := range d.conns[venue] {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// Venues lists every venue dialed at least once.
func (d *FakeDialer) Venues() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.conns))
	for v := range d.conns {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// ManualClock fires timers only when advanced.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock   *ManualClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func NewManualClock() *ManualClock {
	return &ManualClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) AfterFunc(d time.Duration, f func()) stream.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs every timer that came due.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

// Pending counts timers that are neither stopped nor fired.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}
