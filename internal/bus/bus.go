package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"livetape/internal/models"
	"livetape/logger"
)

const publishTimeout = 2 * time.Second

type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Close() error
}

// Bus encodes events and hands them to a Publisher. Failures are logged
// and counted; callers never see them.
type Bus struct {
	pub    Publisher
	prefix string
	log    *logger.Entry

	published atomic.Int64
	failed    atomic.Int64
}

func New(pub Publisher, prefix string) *Bus {
	if prefix == "" {
		prefix = "livetape"
	}
	return &Bus{
		pub:    pub,
		prefix: prefix,
		log:    logger.GetLogger().WithComponent("bus"),
	}
}

func (b *Bus) TradeChannel(venue models.VenueID) string {
	return fmt.Sprintf("%s:trades:%s", b.prefix, venue)
}

func (b *Bus) LiquidationChannel() string {
	return b.prefix + ":liquidations"
}

func (b *Bus) PublishTrade(ctx context.Context, t models.Trade) {
	b.publish(ctx, b.TradeChannel(t.Venue), t)
}

func (b *Bus) PublishLiquidation(ctx context.Context, l models.Liquidation) {
	b.publish(ctx, b.LiquidationChannel(), l)
}

func (b *Bus) publish(ctx context.Context, channel string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.failed.Add(1)
		b.log.WithError(err).WithField("channel", channel).Warn("failed to encode bus event")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := b.pub.Publish(ctx, channel, payload); err != nil {
		b.failed.Add(1)
		b.log.WithError(err).WithField("channel", channel).Warn("bus publish failed")
		return
	}
	b.published.Add(1)
}

// Counts reports successful and failed publishes.
func (b *Bus) Counts() (published, failed int64) {
	return b.published.Load(), b.failed.Load()
}

func (b *Bus) Close() error {
	return b.pub.Close()
}
