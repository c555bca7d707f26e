package dashboard

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"livetape/config"
	"livetape/internal/metrics"
	"livetape/internal/models"
	"livetape/internal/stream"
	"livetape/internal/symbols"
	"livetape/internal/tape"
	"livetape/logger"
)

//go:embed templates/*.tmpl assets/*
var embeddedFS embed.FS

const (
	defaultPort       = "8080"
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// TradeStreams is the trade manager surface the dashboard drives.
type TradeStreams interface {
	Symbol() string
	SetSymbol(symbol string)
	States() map[models.VenueID]stream.State
}

type LiquidationStreams interface {
	Active() bool
	States() map[string]stream.State
}

// Deps are the live components the routes read from. Any of them may be
// nil, in which case the matching routes answer 503.
type Deps struct {
	Trades       TradeStreams
	Liquidations LiquidationStreams
	Tape         *tape.TradeTape
	Book         *tape.LiquidationBook
	Hub          *Hub
}

// Server serves the JSON API, the status page and the event websocket.
type Server struct {
	cfg     config.DashboardConfig
	deps    Deps
	log     *logger.Log
	history *history
}

// NewServer returns nil when the dashboard is disabled. A missing hub is
// created so /ws always has a backend.
func NewServer(cfg config.DashboardConfig, log *logger.Log, deps Deps) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	cfg = withDefaults(cfg)
	if deps.Hub == nil {
		deps.Hub = NewHub(log)
	}
	return &Server{
		cfg:     cfg,
		deps:    deps,
		log:     log,
		history: newHistory(cfg, log),
	}, nil
}

func withDefaults(cfg config.DashboardConfig) config.DashboardConfig {
	def := config.Default().Dashboard
	cfg.Address = normalizeAddress(cfg.Address)
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = def.RefreshInterval
	}
	if cfg.LogHistory <= 0 {
		cfg.LogHistory = def.LogHistory
	}
	if cfg.MetricsHistory <= 0 {
		cfg.MetricsHistory = def.MetricsHistory
	}
	return cfg
}

func (s *Server) Hub() *Hub {
	if s == nil {
		return nil
	}
	return s.deps.Hub
}

func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

// Run serves until ctx is cancelled, then shuts down gracefully. A listen
// failure is returned immediately.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}
	defer s.cleanup()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}
	s.history.resources.start(ctx)

	srv := &http.Server{Addr: s.cfg.Address, Handler: router, ReadHeaderTimeout: readHeaderTimeout}
	served := make(chan error, 1)
	go func() { served <- srv.ListenAndServe() }()
	s.log.WithComponent("dashboard").WithField("address", s.cfg.Address).Info("dashboard listening")

	select {
	case err := <-served:
		return fmt.Errorf("dashboard listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("dashboard shutdown: %w", err)
	}
	if err := <-served; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) cleanup() {
	s.history.close()
	s.deps.Hub.Close()
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	if config.IsProductionLike(config.AppEnvironment()) {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	page, err := template.New("dashboard").ParseFS(embeddedFS, "templates/index.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	router.SetHTMLTemplate(page)
	assets, err := fs.Sub(embeddedFS, "assets")
	if err != nil {
		return nil, fmt.Errorf("assets: %w", err)
	}
	router.StaticFS("/assets", http.FS(assets))

	router.GET("/", func(c *gin.Context) {
		c.HTML(http.StatusOK, "index.tmpl", gin.H{
			"AppName":           appName,
			"RefreshIntervalMs": s.cfg.RefreshInterval.Milliseconds(),
		})
	})

	api := router.Group("/api")
	api.GET("/trades", s.handleTrades)
	api.GET("/trades/stats", s.handleTradeStats)
	api.GET("/liquidations", s.handleLiquidations)
	api.GET("/liquidations/summary", s.handleLiquidationSummary)
	api.GET("/symbol", s.handleGetSymbol)
	api.PUT("/symbol", s.handlePutSymbol)
	api.GET("/venues", s.handleVenues)
	api.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"metrics": s.history.metrics.snapshot()})
	})
	api.GET("/logs", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"logs": s.history.logs.snapshot()})
	})
	api.GET("/resources", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"resources": s.history.resources.snapshot()})
	})

	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/ws", func(c *gin.Context) { s.deps.Hub.ServeWS(c.Writer, c.Request) })
	return router, nil
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": what + " not available"})
}

func queryInt(c *gin.Context, key string) (int, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (s *Server) handleTrades(c *gin.Context) {
	if s.deps.Tape == nil {
		unavailable(c, "trade tape")
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}

	venue := strings.ToUpper(strings.TrimSpace(c.Query("venue")))
	minUSD := strings.TrimSpace(c.Query("min_usd"))

	var trades []models.Trade
	switch {
	case venue != "":
		if !models.VenueID(venue).Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown venue " + venue})
			return
		}
		trades = s.deps.Tape.Venue(models.VenueID(venue), limit)
	case minUSD != "":
		threshold, err := strconv.ParseFloat(minUSD, 64)
		if err != nil || threshold < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "min_usd must be a non-negative number"})
			return
		}
		trades = s.deps.Tape.Filter(threshold, limit)
	default:
		trades = s.deps.Tape.Unified(limit)
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	c.JSON(http.StatusOK, gin.H{"symbol": s.deps.Tape.Symbol(), "trades": trades})
}

func (s *Server) handleTradeStats(c *gin.Context) {
	if s.deps.Tape == nil {
		unavailable(c, "trade tape")
		return
	}
	c.JSON(http.StatusOK, s.deps.Tape.Stats())
}

func (s *Server) handleLiquidations(c *gin.Context) {
	if s.deps.Book == nil {
		unavailable(c, "liquidation book")
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}
	recent := s.deps.Book.Recent(limit)
	payload := make([]gin.H, 0, len(recent))
	for _, l := range recent {
		payload = append(payload, gin.H{
			"symbol":    l.Symbol,
			"side":      l.Side,
			"price":     l.Price,
			"quantity":  l.Quantity,
			"usdValue":  l.USDValue,
			"timestamp": l.TimestampMs,
			"exchange":  l.Exchange,
			"severity":  tape.SeverityOf(l.USDValue),
		})
	}
	c.JSON(http.StatusOK, gin.H{"liquidations": payload})
}

func (s *Server) handleLiquidationSummary(c *gin.Context) {
	if s.deps.Book == nil {
		unavailable(c, "liquidation book")
		return
	}
	c.JSON(http.StatusOK, s.deps.Book.Summary())
}

func (s *Server) handleGetSymbol(c *gin.Context) {
	if s.deps.Trades == nil {
		unavailable(c, "trade streams")
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": s.deps.Trades.Symbol()})
}

type symbolRequest struct {
	Symbol string `json:"symbol"`
}

func (s *Server) handlePutSymbol(c *gin.Context) {
	if s.deps.Trades == nil {
		unavailable(c, "trade streams")
		return
	}
	var req symbolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if !symbols.Valid(symbol) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid symbol"})
		return
	}

	if symbol != s.deps.Trades.Symbol() {
		s.deps.Trades.SetSymbol(symbol)
		if s.deps.Tape != nil {
			s.deps.Tape.Reset(symbol)
		}
		s.log.WithComponent("dashboard").WithField("symbol", symbol).Info("symbol changed")
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol})
}

func (s *Server) handleVenues(c *gin.Context) {
	payload := gin.H{}
	if s.deps.Trades != nil {
		payload["trades"] = s.deps.Trades.States()
	}
	if s.deps.Liquidations != nil {
		payload["liquidations"] = gin.H{
			"active": s.deps.Liquidations.Active(),
			"venues": s.deps.Liquidations.States(),
		}
	}
	payload["dashboard_clients"] = s.deps.Hub.Clients()
	c.JSON(http.StatusOK, payload)
}

// normalizeAddress turns a configured listen address, possibly a URL or a
// bare host, into host:port. Missing or wildcard hosts bind all interfaces.
func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if i := strings.Index(addr, "://"); i >= 0 {
		if u, err := url.Parse(addr); err == nil && u.Host != "" {
			addr = u.Host
		} else {
			addr = strings.TrimSuffix(addr[i+3:], "/")
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host, port = strings.Trim(addr, "[]"), ""
	}
	if host == "" || host == "*" {
		host = "0.0.0.0"
	}
	if port == "" {
		port = defaultPort
	}
	return net.JoinHostPort(host, port)
}
