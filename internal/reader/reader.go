// Package reader holds helpers shared by the per-venue codecs.
package reader

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"livetape/internal/stream"
)

// Malformed wraps a decode failure.
func Malformed(venue string, err error) error {
	return fmt.Errorf("%s: %w: %v", venue, stream.ErrMalformed, err)
}

// UnknownSide rejects a side value missing from a venue's mapping table.
func UnknownSide(venue, raw string) error {
	return Malformed(venue, fmt.Errorf("unknown side %q", raw))
}

// Unrelated reports a frame that is not the expected data channel.
func Unrelated(venue, what string) error {
	return fmt.Errorf("%s: %w: %s", venue, stream.ErrUnrelated, what)
}

// IsText reports whether payload is exactly the given bare text frame, as
// used by venues that answer pings with "pong".
func IsText(payload []byte, text string) bool {
	return bytes.Equal(bytes.TrimSpace(payload), []byte(text))
}

// TradeID returns the venue id, or the timestamp when the venue sends none.
func TradeID(native string, ts int64) string {
	if native != "" && native != "0" {
		return native
	}
	return strconv.FormatInt(ts, 10)
}

// Clock returns the receive time used when a venue omits event time.
type Clock func() time.Time

func (c Clock) Millis() int64 {
	if c == nil {
		return time.Now().UnixMilli()
	}
	return c().UnixMilli()
}
