package models

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Notional multiplies two decimal literals exactly. Either operand failing to
// parse returns an error.
func Notional(price, qty string) (decimal.Decimal, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price %q: %w", price, err)
	}
	q, err := decimal.NewFromString(qty)
	if err != nil {
		return decimal.Zero, fmt.Errorf("quantity %q: %w", qty, err)
	}
	return p.Mul(q), nil
}

// ParseMillis reads an epoch-millisecond timestamp that venues send as either
// a JSON string or number.
func ParseMillis(v string) (int64, error) {
	if v == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("timestamp %q: %w", v, err)
	}
	return ms, nil
}
