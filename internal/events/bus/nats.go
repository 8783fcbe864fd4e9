package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/reevehq/reeve/internal/common/logger"
)

// NATSBus publishes lifecycle events to a NATS server. Connection loss is
// tolerated: publishes are dropped with a log line while NATS reconnects.
type NATSBus struct {
	conn *nats.Conn
	log  *logger.Logger
}

// NewNATSBus connects to the NATS server at url.
func NewNATSBus(url string) (*NATSBus, error) {
	log := logger.Default().WithComponent("bus")

	conn, err := nats.Connect(url,
		nats.Name("reeve"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.WithError(err).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	log.Info("connected to nats", zap.String("url", url))
	return &NATSBus{conn: conn, log: log}, nil
}

func (b *NATSBus) Publish(_ context.Context, subject string, event PulseEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		b.log.WithError(err).Error("failed to encode event")
		return
	}
	if err := b.conn.Publish("reeve."+subject, data); err != nil {
		b.log.WithError(err).Warn("event publish failed", zap.String("subject", subject))
	}
}

func (b *NATSBus) Subscribe(subject string, handler Handler) (func(), error) {
	sub, err := b.conn.Subscribe("reeve."+subject, func(msg *nats.Msg) {
		var event PulseEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.log.WithError(err).Warn("failed to decode event")
			return
		}
		handler(subject, event)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

func (b *NATSBus) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

func (b *NATSBus) Close() error {
	if b.conn != nil {
		if err := b.conn.Drain(); err != nil {
			b.conn.Close()
		}
	}
	return nil
}
