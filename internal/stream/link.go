package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"livetape/logger"
)

// State is the lifecycle position of one venue link.
type State int

const (
	Disconnected State = iota
	Connecting
	Open
	ReconnectPending
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case ReconnectPending:
		return "reconnect_pending"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const DefaultReconnectDelay = 5 * time.Second

// LinkConfig carries the collaborators shared by every link of one owner.
type LinkConfig struct {
	Dialer         Dialer
	Clock          Clock
	ReconnectDelay time.Duration
	// Keepalive is the ping interval; 0 disables pings.
	Keepalive time.Duration
	// ReadTimeout drops a socket that has been silent this long; 0 disables.
	ReadTimeout time.Duration
	// Deliver serializes sink calls across all links of one owner.
	Deliver   *sync.Mutex
	Observer  Observer
	Log       *logger.Log
	Component string
}

// Link owns at most one socket for a single venue and reconnects it after a
// fixed delay while active. Every connection attempt runs under a fresh
// generation number; completions, frames and timers from an older
// generation are discarded.
type Link[E any] struct {
	codec Codec[E]
	sink  func(symbol string, event E)
	cfg   LinkConfig
	log   *logger.Entry

	mu     sync.Mutex
	state  State
	gen    uint64
	active bool
	symbol string
	conn   Conn
	cancel context.CancelFunc
	timer  Timer
	dials  int
}

func NewLink[E any](codec Codec[E], sink func(symbol string, event E), cfg LinkConfig) *Link[E] {
	if cfg.Dialer == nil {
		d, _ := NewWebsocketDialer(DialerConfig{})
		cfg.Dialer = d
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Deliver == nil {
		cfg.Deliver = &sync.Mutex{}
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Log == nil {
		cfg.Log = logger.GetLogger()
	}
	if cfg.Component == "" {
		cfg.Component = "stream"
	}
	if sink == nil {
		sink = func(string, E) {}
	}
	return &Link[E]{
		codec: codec,
		sink:  sink,
		cfg:   cfg,
		log:   cfg.Log.WithComponent(cfg.Component).WithVenue(codec.Venue()),
	}
}

func (l *Link[E]) Venue() string { return l.codec.Venue() }

func (l *Link[E]) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Dials reports how many connection attempts the link has started.
func (l *Link[E]) Dials() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dials
}

// Open connects for symbol, first tearing down whatever the link held.
func (l *Link[E]) Open(symbol string) {
	l.Close()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = true
	l.symbol = symbol
	l.gen++
	l.connectLocked()
}

// Close cancels a pending reconnect, closes the socket and marks the link
// inactive. No event from the closed generation reaches the sink after
// Close returns.
func (l *Link[E]) Close() {
	l.mu.Lock()
	l.active = false
	l.gen++
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.releaseLocked()
	l.setStateLocked(Disconnected)
	l.mu.Unlock()

	// a delivery that passed its generation check before the bump holds
	// this lock until it is done
	l.cfg.Deliver.Lock()
	l.cfg.Deliver.Unlock()
}

func (l *Link[E]) connectLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.dials++
	l.setStateLocked(Connecting)
	go l.run(ctx, l.gen, l.symbol)
}

func (l *Link[E]) releaseLocked() {
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	if l.conn != nil {
		_ = l.conn.Close()
		l.conn = nil
	}
}

func (l *Link[E]) setStateLocked(s State) {
	if l.state == s {
		return
	}
	l.state = s
	l.cfg.Observer.ObserveState(l.codec.Venue(), s)
}

func (l *Link[E]) run(ctx context.Context, gen uint64, symbol string) {
	url := l.codec.URL(symbol)
	log := l.log.WithFields(logger.Fields{"url": url, "symbol": symbol})

	conn, err := l.cfg.Dialer.Dial(ctx, l.codec.Venue(), url)
	if err != nil {
		l.lost(gen, err)
		return
	}

	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		_ = conn.Close()
		return
	}
	l.conn = conn
	l.mu.Unlock()

	if sub := l.codec.Subscription(symbol); sub != nil {
		if err := conn.WriteJSON(sub); err != nil {
			l.lost(gen, fmt.Errorf("subscribe: %w", err))
			return
		}
	}

	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		return
	}
	l.setStateLocked(Open)
	l.mu.Unlock()
	log.Info("venue stream open")

	if l.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout))
		})
	}
	if l.cfg.Keepalive > 0 {
		go l.heartbeat(ctx, gen, conn)
	}

	decode := l.codec.Decode
	if sd, ok := l.codec.(SymbolDecoder[E]); ok {
		decode = func(payload []byte) ([]E, error) { return sd.DecodeFor(symbol, payload) }
	}

	venue := l.codec.Venue()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			l.lost(gen, err)
			return
		}
		if l.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout))
		}
		logger.RecordStreamMessage(venue, len(msg))

		events, err := decode(msg)
		if err != nil {
			reason := RejectReason(err)
			l.cfg.Observer.ObserveReject(venue, reason)
			if reason != "unrelated" && log.Logger.IsLevelEnabled(logrus.DebugLevel) {
				log.WithError(err).WithField("payload_bytes", len(msg)).Debug("dropping undecodable message")
			}
			continue
		}
		if !l.deliver(gen, symbol, events) {
			return
		}
	}
}

func (l *Link[E]) deliver(gen uint64, symbol string, events []E) bool {
	if len(events) == 0 {
		return true
	}
	l.cfg.Deliver.Lock()
	defer l.cfg.Deliver.Unlock()

	l.mu.Lock()
	current := gen == l.gen
	l.mu.Unlock()
	if !current {
		return false
	}
	for _, e := range events {
		l.sink(symbol, e)
	}
	l.cfg.Observer.ObserveEvents(l.codec.Venue(), len(events))
	return true
}

// lost moves a live generation to ReconnectPending, or to Disconnected when
// the owner has gone inactive. Stale generations are ignored, so a socket
// reporting several failures schedules a single reconnect.
func (l *Link[E]) lost(gen uint64, cause error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen {
		return
	}
	l.releaseLocked()
	if !l.active {
		l.setStateLocked(Disconnected)
		return
	}

	l.gen++
	next := l.gen
	l.setStateLocked(ReconnectPending)
	l.log.WithError(cause).WithField("retry_in", l.cfg.ReconnectDelay.String()).Warn("venue stream lost, reconnecting")
	l.timer = l.cfg.Clock.AfterFunc(l.cfg.ReconnectDelay, func() { l.retry(next) })
}

func (l *Link[E]) retry(gen uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen || !l.active || l.state != ReconnectPending {
		return
	}
	l.timer = nil
	l.cfg.Observer.ObserveReconnect(l.codec.Venue())
	l.connectLocked()
}

func (l *Link[E]) heartbeat(ctx context.Context, gen uint64, conn Conn) {
	ticker := time.NewTicker(l.cfg.Keepalive)
	defer ticker.Stop()
	hb, _ := l.codec.(Heartbeater)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var err error
			if hb != nil {
				err = conn.WriteMessage(websocket.TextMessage, hb.Heartbeat())
			} else {
				err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
			}
			if err != nil {
				l.lost(gen, fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}
