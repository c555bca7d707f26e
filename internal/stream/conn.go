package stream

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Conn is the subset of *websocket.Conn a Link uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Dialer opens a socket for one venue.
type Dialer interface {
	Dial(ctx context.Context, venue, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket. All dials share one rate
// limiter so a mass reconnect does not hammer venues.
type WebsocketDialer struct {
	dialer  *websocket.Dialer
	limiter *rate.Limiter
}

// DialerConfig tunes WebsocketDialer.
type DialerConfig struct {
	HandshakeTimeout time.Duration
	// SourceIP binds outgoing connections to a local address when set.
	SourceIP string
	// DialRate is attempts per second across all venues; 0 disables pacing.
	DialRate  float64
	DialBurst int
}

func NewWebsocketDialer(cfg DialerConfig) (*WebsocketDialer, error) {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	d := &websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	if cfg.SourceIP != "" {
		ip := net.ParseIP(cfg.SourceIP)
		if ip == nil {
			return nil, fmt.Errorf("invalid source ip %q", cfg.SourceIP)
		}
		nd := &net.Dialer{LocalAddr: &net.TCPAddr{IP: ip}, Timeout: cfg.HandshakeTimeout}
		d.NetDialContext = nd.DialContext
	}

	wd := &WebsocketDialer{dialer: d}
	if cfg.DialRate > 0 {
		burst := cfg.DialBurst
		if burst <= 0 {
			burst = 1
		}
		wd.limiter = rate.NewLimiter(rate.Limit(cfg.DialRate), burst)
	}
	return wd, nil
}

func (d *WebsocketDialer) Dial(ctx context.Context, venue, url string) (Conn, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s: dial pacing: %w", venue, err)
		}
	}
	conn, resp, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%s: dial %s: %w (status %d)", venue, url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("%s: dial %s: %w", venue, url, err)
	}
	return conn, nil
}
