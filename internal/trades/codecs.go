package trades

import (
	"livetape/config"
	"livetape/internal/models"
	"livetape/internal/reader/binance"
	"livetape/internal/reader/bybit"
	"livetape/internal/reader/hyperliquid"
	"livetape/internal/reader/mexc"
	"livetape/internal/reader/okx"
	"livetape/internal/stream"
)

// DefaultCodecs returns every venue on its public endpoint.
func DefaultCodecs() []stream.Codec[models.Trade] {
	return CodecsFromConfig(config.StreamsConfig{})
}

// CodecsFromConfig builds the enabled venues in display order, applying URL
// overrides.
func CodecsFromConfig(cfg config.StreamsConfig) []stream.Codec[models.Trade] {
	build := map[models.VenueID]func(url string) stream.Codec[models.Trade]{
		models.BinanceSpot: func(u string) stream.Codec[models.Trade] { return binance.NewSpotTradeCodec(u) },
		models.BinancePerp: func(u string) stream.Codec[models.Trade] { return binance.NewPerpTradeCodec(u) },
		models.BybitSpot:   func(u string) stream.Codec[models.Trade] { return bybit.NewSpotTradeCodec(u) },
		models.BybitPerp:   func(u string) stream.Codec[models.Trade] { return bybit.NewPerpTradeCodec(u) },
		models.OKXSpot:     func(u string) stream.Codec[models.Trade] { return okx.NewSpotTradeCodec(u) },
		models.OKXPerp:     func(u string) stream.Codec[models.Trade] { return okx.NewPerpTradeCodec(u) },
		models.Hyperliquid: func(u string) stream.Codec[models.Trade] { return hyperliquid.NewTradeCodec(u) },
		models.MEXCSpot:    func(u string) stream.Codec[models.Trade] { return mexc.NewTradeCodec(u) },
	}
	var out []stream.Codec[models.Trade]
	for _, id := range models.AllVenues {
		if !cfg.VenueEnabled(id) {
			continue
		}
		out = append(out, build[id](cfg.VenueURL(id)))
	}
	return out
}
