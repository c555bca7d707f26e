// Package trades multiplexes the per-venue public trade streams for one
// selected symbol.
package trades

import (
	"sync"
	"time"

	"livetape/internal/models"
	"livetape/internal/stream"
	"livetape/logger"
)

// Option configures a Manager.
type Option func(*options)

type options struct {
	dialer         stream.Dialer
	clock          stream.Clock
	reconnectDelay time.Duration
	keepalive      time.Duration
	readTimeout    time.Duration
	codecs         []stream.Codec[models.Trade]
	observer       stream.Observer
	log            *logger.Log
}

func WithDialer(d stream.Dialer) Option { return func(o *options) { o.dialer = d } }

func WithClock(c stream.Clock) Option { return func(o *options) { o.clock = c } }

func WithReconnectDelay(d time.Duration) Option {
	return func(o *options) { o.reconnectDelay = d }
}

// WithKeepalive sets the ping interval and the silence after which a
// socket is treated as lost.
func WithKeepalive(interval, readTimeout time.Duration) Option {
	return func(o *options) {
		o.keepalive = interval
		o.readTimeout = readTimeout
	}
}

// WithCodecs replaces the venue set. The default is every venue.
func WithCodecs(codecs ...stream.Codec[models.Trade]) Option {
	return func(o *options) { o.codecs = codecs }
}

func WithObserver(obs stream.Observer) Option { return func(o *options) { o.observer = obs } }

func WithLogger(l *logger.Log) Option { return func(o *options) { o.log = l } }

// Manager owns one link per venue for the tracked symbol. onTrade runs on
// the link goroutines, one call at a time, and must not call back into the
// Manager.
type Manager struct {
	onTrade func(models.Trade)
	links   []*stream.Link[models.Trade]
	log     *logger.Entry

	mu     sync.Mutex
	symbol string
	active bool
}

// NewManager stores the callback and builds the venue links. It performs
// no I/O.
func NewManager(onTrade func(models.Trade), opts ...Option) *Manager {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.GetLogger()
	}
	if o.codecs == nil {
		o.codecs = DefaultCodecs()
	}
	if onTrade == nil {
		onTrade = func(models.Trade) {}
	}

	m := &Manager{
		onTrade: onTrade,
		log:     o.log.WithComponent("trade_manager"),
	}
	cfg := stream.LinkConfig{
		Dialer:         o.dialer,
		Clock:          o.clock,
		ReconnectDelay: o.reconnectDelay,
		Keepalive:      o.keepalive,
		ReadTimeout:    o.readTimeout,
		Deliver:        &sync.Mutex{},
		Observer:       o.observer,
		Log:            o.log,
		Component:      "trade_stream",
	}
	for _, c := range o.codecs {
		m.links = append(m.links, stream.NewLink[models.Trade](c, m.deliver, cfg))
	}
	return m
}

func (m *Manager) deliver(symbol string, t models.Trade) {
	t.Symbol = symbol
	m.onTrade(t)
}

// SetSymbol switches the tracked symbol. The same symbol again is a no-op.
// While running, every link is closed and reopened for the new symbol and
// nothing decoded for the old one is delivered afterwards.
func (m *Manager) SetSymbol(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if symbol == m.symbol {
		return
	}
	prev := m.symbol
	m.symbol = symbol
	if !m.active {
		return
	}
	m.log.WithFields(logger.Fields{"from": prev, "to": symbol}).Info("symbol changed, rebuilding venue streams")
	m.rebuildLocked()
}

// Start opens one link per venue for the current symbol. Calling it while
// running rebuilds the links.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = true
	m.log.WithFields(logger.Fields{"symbol": m.symbol, "venues": len(m.links)}).Info("starting trade streams")
	m.rebuildLocked()
}

// Stop closes every link and cancels pending reconnects. Safe when stopped.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	wasActive := m.active
	m.active = false
	for _, l := range m.links {
		l.Close()
	}
	if wasActive {
		m.log.Info("trade streams stopped")
	}
}

func (m *Manager) rebuildLocked() {
	for _, l := range m.links {
		l.Close()
	}
	if m.symbol == "" {
		return
	}
	for _, l := range m.links {
		l.Open(m.symbol)
	}
}

func (m *Manager) Symbol() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.symbol
}

func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// States reports the link state of every venue.
func (m *Manager) States() map[models.VenueID]stream.State {
	out := make(map[models.VenueID]stream.State, len(m.links))
	for _, l := range m.links {
		out[models.VenueID(l.Venue())] = l.State()
	}
	return out
}
