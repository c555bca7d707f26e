package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"livetape/config"
	"livetape/internal/bus"
	"livetape/internal/channel"
	"livetape/internal/dashboard"
	"livetape/internal/dispatch"
	"livetape/internal/liquidation"
	"livetape/internal/metrics"
	"livetape/internal/models"
	"livetape/internal/stream"
	"livetape/internal/tape"
	"livetape/internal/trades"
	"livetape/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}
	metrics.Configure(cfg.Metrics)

	sessionID := uuid.NewString()
	log.WithFields(logger.Fields{
		"service": cfg.Livetape.Name,
		"version": cfg.Livetape.Version,
		"env":     config.AppEnvironment(),
		"session": sessionID,
		"symbol":  cfg.Livetape.Symbol,
	}).Info("starting livetape")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cw := cfg.Metrics.CloudWatch; cw.Enabled {
		metrics.InitCloudWatch(ctx, cw.Region, cw.Namespace)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, cfg.Logging.ReportInterval, metrics.PublishReport)
	}

	buffers := channel.NewBuffers(cfg.Channels.TradeBuffer, cfg.Channels.LiquidationBuffer)
	buffers.StartStatsReporting(ctx, cfg.Logging.ReportInterval)
	if metrics.IsFeatureEnabled(metrics.FeatureChannelSize) {
		metrics.StartChannelSizeMetrics(ctx, cfg.Metrics.ChannelSizeInterval, buffers.Gauges()...)
	}

	dialer, err := stream.NewWebsocketDialer(stream.DialerConfig{
		HandshakeTimeout: cfg.Streams.HandshakeTimeout,
		SourceIP:         cfg.Streams.SourceIP,
		DialRate:         cfg.Streams.DialRate,
		DialBurst:        cfg.Streams.DialBurst,
	})
	if err != nil {
		log.WithError(err).Error("Failed to build websocket dialer")
		os.Exit(1)
	}

	tradeTape := tape.NewTradeTape(cfg.Tape)
	tradeTape.Reset(cfg.Livetape.Symbol)
	book := tape.NewLiquidationBook(cfg.Tape)
	hub := dashboard.NewHub(log)

	dispatcher := dispatch.New(buffers)
	dispatcher.OnTrade(func(_ context.Context, t models.Trade) { tradeTape.Add(t) })
	dispatcher.OnTrade(func(_ context.Context, t models.Trade) { hub.BroadcastTrade(t) })
	dispatcher.OnLiquidation(func(_ context.Context, l models.Liquidation) { book.Add(l) })
	dispatcher.OnLiquidation(func(_ context.Context, l models.Liquidation) { hub.BroadcastLiquidation(l) })

	var redisBus *bus.Bus
	if cfg.Redis.Enabled {
		pub, err := bus.NewRedisPublisher(ctx, cfg.Redis)
		if err != nil {
			log.WithError(err).Warn("redis unavailable; event bus disabled")
		} else {
			redisBus = bus.New(pub, cfg.Redis.Prefix)
			dispatcher.OnTrade(redisBus.PublishTrade)
			dispatcher.OnLiquidation(redisBus.PublishLiquidation)
		}
	}

	if err := dispatcher.Start(ctx); err != nil {
		log.WithError(err).Error("Failed to start dispatcher")
		os.Exit(1)
	}

	manager := trades.NewManager(func(t models.Trade) { buffers.SendTrade(t) },
		trades.WithDialer(dialer),
		trades.WithReconnectDelay(cfg.Streams.ReconnectDelay),
		trades.WithKeepalive(cfg.Streams.Keepalive, cfg.Streams.ReadTimeout),
		trades.WithCodecs(trades.CodecsFromConfig(cfg.Streams)...),
		trades.WithObserver(metrics.NewStreamObserver("trade")),
		trades.WithLogger(log),
	)
	manager.SetSymbol(cfg.Livetape.Symbol)
	manager.Start()

	var aggregator *liquidation.Aggregator
	if cfg.Liquidations.Enabled {
		aggregator = liquidation.NewAggregator(
			liquidation.WithDialer(dialer),
			liquidation.WithReconnectDelay(cfg.Liquidations.ReconnectDelay),
			liquidation.WithKeepalive(cfg.Streams.Keepalive, cfg.Streams.ReadTimeout),
			liquidation.WithCodecs(liquidation.CodecsFromConfig(cfg.Liquidations)...),
			liquidation.WithObserver(metrics.NewStreamObserver("liquidation")),
			liquidation.WithLogger(log),
		)
		aggregator.Start(func(l models.Liquidation) { buffers.SendLiquidation(l) })
	}

	deps := dashboard.Deps{Trades: manager, Tape: tradeTape, Book: book, Hub: hub}
	if aggregator != nil {
		deps.Liquidations = aggregator
	}
	server, err := dashboard.NewServer(cfg.Dashboard, log, deps)
	if err != nil {
		log.WithError(err).Error("Failed to create dashboard")
		os.Exit(1)
	}
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		if err := server.Run(ctx, cfg.Livetape.Name); err != nil {
			log.WithError(err).Error("dashboard stopped")
		}
	}()

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")

	log.Info("stopping trade streams")
	manager.Stop()
	if aggregator != nil {
		log.Info("stopping liquidation streams")
		aggregator.Stop()
	}

	cancel()
	<-serverDone

	log.Info("stopping dispatcher")
	dispatcher.Stop()
	buffers.Close()
	if server == nil {
		hub.Close()
	}

	if redisBus != nil {
		if err := redisBus.Close(); err != nil {
			log.WithError(err).Warn("failed to close redis client")
		}
	}

	log.Info("shutdown complete")
}
