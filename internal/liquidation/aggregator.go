// Package liquidation merges the global forced-liquidation feeds of
// Binance, Bybit and OKX.
package liquidation

import (
	"sync"
	"time"

	"livetape/config"
	"livetape/internal/models"
	"livetape/internal/reader/binance"
	"livetape/internal/reader/bybit"
	"livetape/internal/reader/okx"
	"livetape/internal/stream"
	"livetape/logger"
)

type Option func(*options)

type options struct {
	dialer         stream.Dialer
	clock          stream.Clock
	reconnectDelay time.Duration
	keepalive      time.Duration
	readTimeout    time.Duration
	codecs         []stream.Codec[models.Liquidation]
	observer       stream.Observer
	log            *logger.Log
}

func WithDialer(d stream.Dialer) Option { return func(o *options) { o.dialer = d } }

func WithClock(c stream.Clock) Option { return func(o *options) { o.clock = c } }

func WithReconnectDelay(d time.Duration) Option {
	return func(o *options) { o.reconnectDelay = d }
}

func WithKeepalive(interval, readTimeout time.Duration) Option {
	return func(o *options) {
		o.keepalive = interval
		o.readTimeout = readTimeout
	}
}

// WithCodecs replaces the three default venue codecs.
func WithCodecs(codecs ...stream.Codec[models.Liquidation]) Option {
	return func(o *options) { o.codecs = codecs }
}

func WithObserver(obs stream.Observer) Option { return func(o *options) { o.observer = obs } }

func WithLogger(l *logger.Log) Option { return func(o *options) { o.log = l } }

// DefaultCodecs returns the three venues on their public endpoints with the
// default Bybit pair list.
func DefaultCodecs() []stream.Codec[models.Liquidation] {
	return CodecsFromConfig(config.LiquidationsConfig{BybitSymbols: config.DefaultBybitSymbols})
}

// CodecsFromConfig builds the venue codecs with configured endpoints and
// Bybit pairs.
func CodecsFromConfig(cfg config.LiquidationsConfig) []stream.Codec[models.Liquidation] {
	return []stream.Codec[models.Liquidation]{
		binance.NewLiquidationCodec(cfg.BinanceURL, nil),
		bybit.NewLiquidationCodec(cfg.BybitURL, cfg.BybitSymbols, nil),
		okx.NewLiquidationCodec(cfg.OKXURL, nil),
	}
}

// Aggregator owns one symbol-independent link per venue. The callback runs
// on link goroutines one call at a time and must not call back into the
// Aggregator.
type Aggregator struct {
	links []*stream.Link[models.Liquidation]
	log   *logger.Entry

	lifecycle sync.Mutex
	active    bool

	mu       sync.Mutex
	callback func(models.Liquidation)
}

func NewAggregator(opts ...Option) *Aggregator {
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

	a := &Aggregator{log: o.log.WithComponent("liquidation_aggregator")}
	cfg := stream.LinkConfig{
		Dialer:         o.dialer,
		Clock:          o.clock,
		ReconnectDelay: o.reconnectDelay,
		Keepalive:      o.keepalive,
		ReadTimeout:    o.readTimeout,
		Deliver:        &sync.Mutex{},
		Observer:       o.observer,
		Log:            o.log,
		Component:      "liquidation_stream",
	}
	for _, c := range o.codecs {
		a.links = append(a.links, stream.NewLink[models.Liquidation](c, a.deliver, cfg))
	}
	return a
}

func (a *Aggregator) deliver(_ string, l models.Liquidation) {
	a.mu.Lock()
	cb := a.callback
	a.mu.Unlock()
	if cb != nil {
		cb(l)
	}
}

// Start opens every venue link. It does nothing while already active.
func (a *Aggregator) Start(cb func(models.Liquidation)) {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	if a.active {
		return
	}
	a.active = true
	a.mu.Lock()
	a.callback = cb
	a.mu.Unlock()

	a.log.WithField("venues", len(a.links)).Info("starting liquidation streams")
	for _, l := range a.links {
		l.Open("")
	}
}

// Stop closes every link and cancels pending reconnects.
func (a *Aggregator) Stop() {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	for _, l := range a.links {
		l.Close()
	}
	if a.active {
		a.log.Info("liquidation streams stopped")
	}
	a.active = false
}

func (a *Aggregator) Active() bool {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	return a.active
}

// States reports each venue link keyed by venue tag.
func (a *Aggregator) States() map[string]stream.State {
	out := make(map[string]stream.State, len(a.links))
	for _, l := range a.links {
		out[l.Venue()] = l.State()
	}
	return out
}
