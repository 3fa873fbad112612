package dsc

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// EventType identifies the kind of engine event.
type EventType string

const (
	EventCollateralDeposited EventType = "collateral_deposited"
	EventCollateralRedeemed  EventType = "collateral_redeemed"
	EventDSCMinted           EventType = "dsc_minted"
	EventDSCBurned           EventType = "dsc_burned"
	EventLiquidation         EventType = "liquidation"
)

// Event is an observable side-effect record. Events are never consumed
// by the engine's own control flow, and only events of operations that
// committed are delivered.
type Event struct {
	ID        uuid.UUID    `json:"id"`
	Type      EventType    `json:"type"`
	Account   Account      `json:"account"`
	To        Account      `json:"to,omitempty"`
	Asset     string       `json:"asset,omitempty"`
	Amount    *uint256.Int `json:"amount"`
	Timestamp time.Time    `json:"timestamp"`
}

// EventSink receives committed engine events. Publish must not block
// for long; slow consumers should buffer or drop internally.
type EventSink interface {
	Publish(Event)
}

// MultiSink fans events out to several sinks.
type MultiSink []EventSink

func (m MultiSink) Publish(ev Event) {
	for _, sink := range m {
		sink.Publish(ev)
	}
}

// EventBus is a channel fan-out EventSink. Subscribers that fall
// behind have events dropped rather than stalling the engine.
type EventBus struct {
	mu   sync.RWMutex
	subs []chan Event
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe returns a buffered channel of future events.
func (b *EventBus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 256)
	b.subs = append(b.subs, ch)
	return ch
}

func (b *EventBus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber full, drop event
		}
	}
}

// Close closes all subscriber channels.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
