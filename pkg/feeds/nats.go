package feeds

import (
	"encoding/json"
	"math/big"
	"sync"
	"time"

	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
)

// Tick is the JSON payload carried on a price subject.
type Tick struct {
	Asset     string          `json:"asset"`
	Price     decimal.Decimal `json:"price"`     // USD quote
	Timestamp int64           `json:"timestamp"` // unix milliseconds
}

// NATSFeed caches the latest tick seen on one subject and serves it as
// a price feed. Malformed ticks are logged and skipped; the previous
// observation stays current until a valid one arrives.
type NATSFeed struct {
	logger log.Logger
	sub    *nats.Subscription

	mu        sync.RWMutex
	price     *big.Int
	updatedAt time.Time
}

// SubscribeNATSFeed subscribes to subject on nc and returns a feed
// tracking it.
func SubscribeNATSFeed(nc *nats.Conn, subject string, logger log.Logger) (*NATSFeed, error) {
	f := &NATSFeed{logger: logger}
	sub, err := nc.Subscribe(subject, f.handle)
	if err != nil {
		return nil, err
	}
	f.sub = sub
	logger.Info("Subscribed to price feed", "subject", subject)
	return f, nil
}

func (f *NATSFeed) handle(m *nats.Msg) {
	var tick Tick
	if err := json.Unmarshal(m.Data, &tick); err != nil {
		f.logger.Warn("Dropping malformed tick", "subject", m.Subject, "error", err)
		return
	}
	f.observe(tick)
}

func (f *NATSFeed) observe(tick Tick) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = scalePrice(tick.Price)
	f.updatedAt = time.UnixMilli(tick.Timestamp)
}

func (f *NATSFeed) LatestPrice() (*big.Int, time.Time, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.price == nil {
		return nil, time.Time{}, ErrNoObservation
	}
	return new(big.Int).Set(f.price), f.updatedAt, nil
}

// Close drops the subscription.
func (f *NATSFeed) Close() error {
	if f.sub == nil {
		return nil
	}
	return f.sub.Unsubscribe()
}
