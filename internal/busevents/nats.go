package busevents

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSBus is the default broker adapter for the fleet event echo.
type NATSBus struct {
	conn *nats.Conn
	log  *zap.Logger
}

// NewNATSBus connects to NATS with bounded reconnect behavior so a broker
// restart does not silence fleet events for the life of the process.
func NewNATSBus(url string, maxReconnects int, reconnectWait time.Duration, log *zap.Logger) (MessageQueue, error) {
	if maxReconnects <= 0 {
		maxReconnects = 10
	}
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	nc, err := nats.Connect(url,
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("busevents: connect to NATS: %w", err)
	}

	log.Info("Connected to NATS", zap.String("url", url))
	return &NATSBus{conn: nc, log: log}, nil
}

func (b *NATSBus) Publish(subject string, data []byte) error {
	return b.conn.Publish(subject, data)
}

func (b *NATSBus) Subscribe(subject string, handler func(data []byte) error) error {
	_, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		if err := handler(msg.Data); err != nil {
			b.log.Error("Error processing fleet event",
				zap.String("subject", subject),
				zap.Error(err),
			)
		}
	})
	return err
}

func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}
