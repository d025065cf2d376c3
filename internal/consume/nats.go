// Package consume wires the JetStream subscriptions to the batch
// pipeline and the trip enricher. Delivery is at-least-once with
// manual acks; everything downstream tolerates redelivered records.
package consume

import (
	"errors"
	"log"

	"github.com/nats-io/nats.go"
)

// ConnMetrics receives connection state changes. Implemented by the
// metrics collector; nil disables reporting.
type ConnMetrics interface {
	NATSSetConnected(connected bool)
}

type Conn struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// Connect dials NATS with reconnect handlers and binds a JetStream
// context, creating the stream when it does not exist yet.
func Connect(url, clientName, streamName string, subjects []string, m ConnMetrics) (*Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(clientName),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: subjects,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		nc.Close()
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &Conn{nc: nc, js: js}, nil
}

func (c *Conn) JetStream() nats.JetStreamContext { return c.js }

func (c *Conn) Close() {
	if c.nc != nil {
		c.nc.Drain()
		c.nc.Close()
	}
}
