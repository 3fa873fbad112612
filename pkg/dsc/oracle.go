package dsc

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

// OracleAdapter wraps a single asset's price feed, normalizes its
// answers to the internal 18-decimal scale and enforces the staleness
// bound. It never mutates ledger state; results are only valid for the
// invocation that produced them.
type OracleAdapter struct {
	feed   PriceFeed
	maxAge time.Duration
	now    func() time.Time
}

// NewOracleAdapter wraps feed with staleness bound maxAge. A
// non-positive maxAge falls back to DefaultPriceMaxAge.
func NewOracleAdapter(feed PriceFeed, maxAge time.Duration) *OracleAdapter {
	if maxAge <= 0 {
		maxAge = DefaultPriceMaxAge
	}
	return &OracleAdapter{
		feed:   feed,
		maxAge: maxAge,
		now:    time.Now,
	}
}

// scaledPrice returns the latest feed price lifted to Precision scale,
// rejecting stale or non-positive observations.
func (o *OracleAdapter) scaledPrice() (*uint256.Int, error) {
	price, updatedAt, err := o.feed.LatestPrice()
	if err != nil {
		return nil, fmt.Errorf("price feed: %w", err)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if o.now().Sub(updatedAt) > o.maxAge {
		return nil, ErrStalePrice
	}
	p, overflow := uint256.FromBig(price)
	if overflow {
		return nil, ErrOverflow
	}
	scaled, overflow := new(uint256.Int).MulOverflow(p, AdditionalFeedPrecision)
	if overflow {
		return nil, ErrOverflow
	}
	return scaled, nil
}

// USDValue converts amount of the asset (18-decimal units) into USD at
// the latest price, 18-decimal scale.
func (o *OracleAdapter) USDValue(amount *uint256.Int) (*uint256.Int, error) {
	price, err := o.scaledPrice()
	if err != nil {
		return nil, err
	}
	value, overflow := new(uint256.Int).MulOverflow(price, amount)
	if overflow {
		return nil, ErrOverflow
	}
	return value.Div(value, Precision), nil
}

// TokenAmountFromUSD converts a USD amount (18-decimal scale) into the
// equivalent asset amount at the latest price.
func (o *OracleAdapter) TokenAmountFromUSD(usdAmount *uint256.Int) (*uint256.Int, error) {
	price, err := o.scaledPrice()
	if err != nil {
		return nil, err
	}
	amount, overflow := new(uint256.Int).MulOverflow(usdAmount, Precision)
	if overflow {
		return nil, ErrOverflow
	}
	return amount.Div(amount, price), nil
}
