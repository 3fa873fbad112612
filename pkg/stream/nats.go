// Package stream publishes committed DSC engine events to NATS so
// external consumers (liquidation bots, dashboards) can follow the
// ledger in real time.
package stream

import (
	"encoding/json"
	"fmt"

	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"

	"github.com/luxfi/dsc/pkg/dsc"
)

// Publisher implements dsc.EventSink over a NATS connection. Events go
// to "<prefix>.<type>" subjects as JSON.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger log.Logger
}

// NewPublisher wires a publisher on nc. An empty prefix defaults to
// "dsc.events".
func NewPublisher(nc *nats.Conn, prefix string, logger log.Logger) *Publisher {
	if prefix == "" {
		prefix = "dsc.events"
	}
	return &Publisher{nc: nc, prefix: prefix, logger: logger}
}

// Publish sends one event. Delivery is best effort; a failed publish is
// logged, never propagated back into the engine.
func (p *Publisher) Publish(ev dsc.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("Failed to marshal event", "type", string(ev.Type), "error", err)
		return
	}
	subject := fmt.Sprintf("%s.%s", p.prefix, ev.Type)
	if err := p.nc.Publish(subject, payload); err != nil {
		p.logger.Error("Failed to publish event", "subject", subject, "error", err)
	}
}
