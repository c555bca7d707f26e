package stream

import "errors"

var (
	// ErrMalformed marks a payload that is not valid JSON or has fields of
	// the wrong type.
	ErrMalformed = errors.New("malformed payload")
	// ErrUnrelated marks a well formed message that is not the data channel
	// the codec decodes: acks, pongs, other topics.
	ErrUnrelated = errors.New("unrelated message")
)

// Codec knows one venue's handshake and message schema.
type Codec[E any] interface {
	// Venue is the tag used in logs and metrics.
	Venue() string
	// URL returns the endpoint for symbol. Symbol-independent feeds ignore it.
	URL(symbol string) string
	// Subscription returns the JSON frame sent after connect, or nil.
	Subscription(symbol string) any
	// Decode turns one frame into zero or more events. Errors wrap
	// ErrMalformed or ErrUnrelated and are never fatal.
	Decode(payload []byte) ([]E, error)
}

// Heartbeater is implemented by codecs whose venue expects an
// application level ping instead of a websocket control ping.
type Heartbeater interface {
	Heartbeat() []byte
}

// SymbolDecoder is implemented by codecs whose frames name the instrument
// they carry. Link calls DecodeFor with the symbol it subscribed, so frames
// for any other instrument are rejected as unrelated.
type SymbolDecoder[E any] interface {
	DecodeFor(symbol string, payload []byte) ([]E, error)
}

// RejectReason classifies a decode error for metrics.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrUnrelated):
		return "unrelated"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "other"
	}
}
