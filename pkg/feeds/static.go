// Package feeds provides PriceFeed implementations for the DSC engine:
// a settable in-memory feed for development and tests, and a NATS-backed
// feed that tracks a live tick stream. Staleness and sign checks stay in
// the engine's oracle adapter; feeds only report observations.
package feeds

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// FeedDecimals is the decimal scale of reported prices (Chainlink-style
// 8-decimal USD quotes).
const FeedDecimals = 8

// ErrNoObservation is returned before a feed has seen any price.
var ErrNoObservation = errors.New("no price observed yet")

// scalePrice converts a USD decimal quote to the integer feed scale.
func scalePrice(price decimal.Decimal) *big.Int {
	return price.Shift(FeedDecimals).BigInt()
}

// StaticFeed is a manually driven price feed.
type StaticFeed struct {
	mu        sync.RWMutex
	price     *big.Int
	updatedAt time.Time
}

func NewStaticFeed() *StaticFeed {
	return &StaticFeed{}
}

// SetPrice records a USD quote observed at the given time.
func (f *StaticFeed) SetPrice(price decimal.Decimal, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = scalePrice(price)
	f.updatedAt = at
}

func (f *StaticFeed) LatestPrice() (*big.Int, time.Time, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.price == nil {
		return nil, time.Time{}, ErrNoObservation
	}
	return new(big.Int).Set(f.price), f.updatedAt, nil
}
